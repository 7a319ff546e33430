package main

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/kbukum/meshkit/discovery"
	"github.com/kbukum/meshkit/errors"
	"github.com/kbukum/meshkit/httpclient"
	"github.com/kbukum/meshkit/logger"
	"github.com/kbukum/meshkit/server"
)

const (
	userService    = "user-service"
	productService = "product-service"
)

// User is the user-service entity as returned by GET /user/{id}.
type User struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// UserProduct joins a user with the product-service greeting.
type UserProduct struct {
	User           User   `json:"user"`
	ProductMessage string `json:"productMessage"`
}

// serviceCaller is satisfied by *discovery.Client.
type serviceCaller interface {
	Do(ctx context.Context, service string, req httpclient.Request) (*httpclient.Response, error)
}

type aggregator struct {
	services serviceCaller
	log      *logger.Logger
}

func newAggregator(services serviceCaller, log *logger.Logger) *aggregator {
	return &aggregator{services: services, log: log.WithComponent("aggregator")}
}

func (a *aggregator) registerRoutes(r gin.IRouter) {
	r.GET("/user-product/:userId", a.userProduct)
}

// userProduct fetches the user and the product message concurrently. The
// first failure cancels the other call.
func (a *aggregator) userProduct(c *gin.Context) {
	raw := c.Param("userId")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		server.RespondWithError(c, errors.InvalidInput("userId", "must be a positive integer"))
		return
	}

	var out UserProduct
	g, ctx := errgroup.WithContext(c.Request.Context())
	g.Go(func() error {
		resp, err := a.services.Do(ctx, userService, httpclient.Request{
			Method: http.MethodGet,
			Path:   "/user/" + raw,
		})
		if httpclient.IsNotFound(err) {
			return errors.NotFound("user", raw)
		}
		if err != nil {
			return downstreamError(userService, err)
		}
		if err := json.Unmarshal(resp.Body, &out.User); err != nil {
			return errors.ExternalServiceError(userService, fmt.Errorf("decode user: %w", err))
		}
		return nil
	})
	g.Go(func() error {
		resp, err := a.services.Do(ctx, productService, httpclient.Request{
			Method: http.MethodGet,
			Path:   "/hello",
		})
		if err != nil {
			return downstreamError(productService, err)
		}
		out.ProductMessage = string(resp.Body)
		return nil
	})

	if err := g.Wait(); err != nil {
		a.log.WithContext(c.Request.Context()).Warn("aggregation failed", logger.Fields(
			"user_id", id,
			logger.FieldError, err.Error(),
		))
		server.RespondWithError(c, err)
		return
	}
	server.RespondOK(c, out)
}

// downstreamError keeps "no instance" as a 503 and reports everything else
// as a failed dependency.
func downstreamError(service string, err error) error {
	if stderrors.Is(err, discovery.ErrNoAvailableInstance) {
		return err
	}
	return errors.ExternalServiceError(service, err)
}
