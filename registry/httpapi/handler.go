package httpapi

import (
	"github.com/gin-gonic/gin"

	"github.com/kbukum/meshkit/errors"
	"github.com/kbukum/meshkit/logger"
	"github.com/kbukum/meshkit/registry"
	"github.com/kbukum/meshkit/server"
	"github.com/kbukum/meshkit/validation"
)

// RegisterRequest is the instance descriptor accepted by POST /register.
type RegisterRequest struct {
	ServiceName          string            `json:"serviceName" validate:"required,service_name"`
	InstanceID           string            `json:"instanceId" validate:"omitempty,max=128"`
	Host                 string            `json:"host" validate:"required,hostname_rfc1123|ip"`
	Port                 int               `json:"port" validate:"required,min=1,max=65535"`
	LeaseDurationSeconds int               `json:"leaseDurationSeconds" validate:"omitempty,min=1,max=3600"`
	Metadata             map[string]string `json:"metadata"`
}

// StatusRequest is the body of PUT /status.
type StatusRequest struct {
	Status string `json:"status" validate:"required"`
}

// DeregisterResponse reports whether an instance was removed.
type DeregisterResponse struct {
	Removed bool `json:"removed"`
}

// Handler serves the registry API over a store and its lease manager.
type Handler struct {
	store *registry.Store
	lease *registry.LeaseManager
	log   *logger.Logger
}

// NewHandler creates the registry API handler.
func NewHandler(store *registry.Store, lease *registry.LeaseManager, log *logger.Logger) *Handler {
	return &Handler{store: store, lease: lease, log: log.WithComponent("registry-api")}
}

// RegisterRoutes mounts the API on r.
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	r.POST("/register", h.Register)
	r.PUT("/heartbeat/:service/:id", h.Heartbeat)
	r.DELETE("/deregister/:service/:id", h.Deregister)
	r.PUT("/status/:service/:id", h.SetStatus)
	r.GET("/instances/:service", h.Instances)
	r.GET("/services", h.Services)
}

// Register inserts or replaces an instance and returns the stored record.
func (h *Handler) Register(c *gin.Context) {
	var req RegisterRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		server.RespondWithError(c, errors.InvalidInput("body", err.Error()))
		return
	}
	if err := validation.Validate(req); err != nil {
		server.RespondWithError(c, err)
		return
	}

	inst, err := h.store.Register(registry.Instance{
		ServiceName:          req.ServiceName,
		InstanceID:           req.InstanceID,
		Host:                 req.Host,
		Port:                 req.Port,
		LeaseDurationSeconds: req.LeaseDurationSeconds,
		Metadata:             req.Metadata,
	})
	if err != nil {
		server.RespondWithError(c, err)
		return
	}
	server.RespondOK(c, inst)
}

// Heartbeat renews the lease; 404 tells the caller to register again.
func (h *Handler) Heartbeat(c *gin.Context) {
	inst, err := h.lease.Renew(c.Param("service"), c.Param("id"))
	if err != nil {
		h.log.WithContext(c.Request.Context()).Debug("heartbeat for unknown instance",
			logger.InstanceFields(c.Param("service"), c.Param("id")))
		server.RespondWithError(c, err)
		return
	}
	server.RespondOK(c, inst)
}

// Deregister removes the instance. Unknown instances still answer 200.
func (h *Handler) Deregister(c *gin.Context) {
	removed := h.store.Deregister(c.Param("service"), c.Param("id"))
	server.RespondOK(c, DeregisterResponse{Removed: removed})
}

// SetStatus lets an operator take an instance out of service and back.
func (h *Handler) SetStatus(c *gin.Context) {
	var req StatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		server.RespondWithError(c, errors.InvalidInput("body", err.Error()))
		return
	}
	if err := validation.Validate(req); err != nil {
		server.RespondWithError(c, err)
		return
	}
	service, id := c.Param("service"), c.Param("id")
	if err := validation.Params().
		ServiceName("service", service).
		Required("id", id).
		Err(); err != nil {
		server.RespondWithError(c, err)
		return
	}
	status, err := registry.ParseStatus(req.Status)
	if err != nil {
		server.RespondWithError(c, err)
		return
	}
	if err := h.store.SetStatus(service, id, status); err != nil {
		server.RespondWithError(c, err)
		return
	}
	inst, _ := h.store.Get(service, id)
	server.RespondOK(c, inst)
}

// Instances returns the UP instances of a service as a JSON array.
func (h *Handler) Instances(c *gin.Context) {
	server.RespondOK(c, h.store.Snapshot(c.Param("service")))
}

// Services returns every instance of every service in any state.
func (h *Handler) Services(c *gin.Context) {
	out := make(map[string][]registry.Instance)
	for _, name := range h.store.Services() {
		out[name] = h.store.Instances(name)
	}
	server.RespondOK(c, out)
}
