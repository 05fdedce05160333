package controller

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/mongoreindex/mongoreindex/internal/gateway"
	"github.com/mongoreindex/mongoreindex/internal/middleware"
	"github.com/mongoreindex/mongoreindex/internal/router"
)

// HealthController implements handlers for /healthz and /readyz.
type HealthController struct {
	Gateway gateway.Gateway
}

// NewHealthController creates a HealthController.
func NewHealthController(gw gateway.Gateway) *HealthController {
	return &HealthController{Gateway: gw}
}

// Prefixes implements router.Group.
func (h *HealthController) Prefixes() []string { return []string{""} }

// Mount implements router.Group.
func (h *HealthController) Mount(g *gin.RouterGroup) {
	g.GET("/healthz", h.GetLiveness)
	g.GET("/readyz", h.GetReadiness)
}

// GetLiveness reports whether the process itself is up.
func (h *HealthController) GetLiveness(c *gin.Context) {
	c.Status(http.StatusOK)
}

// GetReadiness reports whether the gateway can reach the deployment: it
// answers 200 whenever the IsPrimary round trip succeeds, whether or not
// the node is a primary.
func (h *HealthController) GetReadiness(c *gin.Context) {
	_, err := h.Gateway.IsPrimary(c.Request.Context())
	middleware.Respond(c, nil, err)
}

var _ router.Group = (*HealthController)(nil)
