// Package http serves the operations endpoint of a running engine: the
// prometheus scrape target and the health probes.
package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/turtacn/molident/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/molident/internal/interfaces/http/handlers"
	"github.com/turtacn/molident/internal/interfaces/http/middleware"
)

func init() { gin.SetMode(gin.ReleaseMode) }

// RouterConfig aggregates the handlers mounted on the operations endpoint.
type RouterConfig struct {
	HealthHandler *handlers.HealthHandler

	// Metrics serves /metrics when set.
	Metrics http.Handler

	Logger  logging.Logger
	Logging middleware.LoggingConfig
}

// NewRouter builds the route tree. Requests are logged around the whole
// engine so that unmatched paths are logged as well.
func NewRouter(cfg RouterConfig) http.Handler {
	r := gin.New()
	r.HandleMethodNotAllowed = true
	r.Use(gin.Recovery())

	if cfg.HealthHandler != nil {
		cfg.HealthHandler.RegisterRoutes(r)
	}
	if cfg.Metrics != nil {
		r.GET("/metrics", gin.WrapH(cfg.Metrics))
	}

	if cfg.Logger == nil {
		return r
	}
	return middleware.RequestLogging(cfg.Logger, cfg.Logging)(r)
}
