package main

import (
	"cmp"
	"context"
	stderrors "errors"
	"net/http"
	"slices"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/kbukum/meshkit/discovery"
	"github.com/kbukum/meshkit/errors"
	"github.com/kbukum/meshkit/httpclient"
	"github.com/kbukum/meshkit/logger"
	"github.com/kbukum/meshkit/server"
	"github.com/kbukum/meshkit/validation"
)

const productService = "product-service"

// User is the demo entity.
type User struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	CreatedAt time.Time `json:"created_at"`
}

// CreateUserRequest is the POST /user body.
type CreateUserRequest struct {
	Name  string `json:"name" validate:"required,max=100"`
	Email string `json:"email" validate:"required,email"`
}

// userStore keeps users in memory with sequential ids.
type userStore struct {
	mu     sync.RWMutex
	nextID int64
	users  map[int64]User
}

func newUserStore() *userStore {
	return &userStore{users: make(map[int64]User)}
}

func (s *userStore) create(name, email string) User {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	u := User{ID: s.nextID, Name: name, Email: email, CreatedAt: time.Now().UTC()}
	s.users[u.ID] = u
	return u
}

func (s *userStore) get(id int64) (User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	return u, ok
}

func (s *userStore) list() []User {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]User, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, u)
	}
	slices.SortFunc(out, func(a, b User) int { return cmp.Compare(a.ID, b.ID) })
	return out
}

// serviceCaller is satisfied by *discovery.Client.
type serviceCaller interface {
	Do(ctx context.Context, service string, req httpclient.Request) (*httpclient.Response, error)
}

type userHandler struct {
	store    *userStore
	products serviceCaller
	log      *logger.Logger
}

func newUserHandler(products serviceCaller, log *logger.Logger) *userHandler {
	return &userHandler{store: newUserStore(), products: products, log: log.WithComponent("users")}
}

func (h *userHandler) registerRoutes(r gin.IRouter) {
	g := r.Group("/user")
	g.GET("/product-message", h.productMessage)
	g.POST("", h.create)
	g.GET("/:id", h.get)
	g.GET("", h.list)
}

func (h *userHandler) create(c *gin.Context) {
	var req CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		server.RespondWithError(c, errors.InvalidInput("body", err.Error()))
		return
	}
	if err := validation.Validate(req); err != nil {
		server.RespondWithError(c, err)
		return
	}
	u := h.store.create(req.Name, req.Email)
	h.log.WithContext(c.Request.Context()).Info("user created", logger.Fields("user_id", u.ID))
	server.RespondOK(c, u)
}

func (h *userHandler) get(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		server.RespondWithError(c, errors.InvalidInput("id", "must be an integer"))
		return
	}
	u, ok := h.store.get(id)
	if !ok {
		server.RespondWithError(c, errors.NotFound("user", c.Param("id")))
		return
	}
	server.RespondOK(c, u)
}

func (h *userHandler) list(c *gin.Context) {
	server.RespondOK(c, h.store.list())
}

// productMessage calls product-service through the resolver, so each call
// may land on a different instance.
func (h *userHandler) productMessage(c *gin.Context) {
	resp, err := h.products.Do(c.Request.Context(), productService, httpclient.Request{
		Method: http.MethodGet,
		Path:   "/hello",
	})
	if err != nil {
		if stderrors.Is(err, discovery.ErrNoAvailableInstance) {
			server.RespondWithError(c, err)
			return
		}
		server.RespondWithError(c, errors.ExternalServiceError(productService, err))
		return
	}
	c.String(http.StatusOK, "User Service received: "+string(resp.Body))
}
