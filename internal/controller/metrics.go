package controller

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mongoreindex/mongoreindex/internal/router"
)

// MetricsController exposes the Prometheus metrics endpoint.
type MetricsController struct {
	handler http.Handler
}

// NewMetricsController creates a MetricsController.
func NewMetricsController() *MetricsController {
	return &MetricsController{handler: promhttp.Handler()}
}

// Prefixes implements router.Group.
func (m *MetricsController) Prefixes() []string { return []string{""} }

// Mount implements router.Group.
func (m *MetricsController) Mount(g *gin.RouterGroup) {
	g.GET("/metrics", m.GetMetrics)
}

// GetMetrics serves the Prometheus exposition format.
func (m *MetricsController) GetMetrics(c *gin.Context) {
	m.handler.ServeHTTP(c.Writer, c.Request)
}

var _ router.Group = (*MetricsController)(nil)
