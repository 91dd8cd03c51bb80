package api

import (
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/ledgercat/internal/app"
	"github.com/charlesng35/ledgercat/internal/catalog"
	"github.com/charlesng35/ledgercat/internal/handlers"
	"github.com/charlesng35/ledgercat/internal/middleware"
	"github.com/charlesng35/ledgercat/internal/migration"
	"github.com/charlesng35/ledgercat/internal/monitoring"
	"github.com/charlesng35/ledgercat/internal/resubmit"
)

// Dependencies are the services the HTTP surface exposes.
type Dependencies struct {
	Config       *app.Config
	Monitoring   *monitoring.Module
	Cache        *catalog.Cache
	Synchronizer *catalog.Synchronizer
	// Scheduler is nil when no ephemeral backend is configured.
	Scheduler    *resubmit.Scheduler
	Migrations   *migration.Runner
}

// NewRouter builds the Gin engine, wires middleware and registers catalog routes.
func NewRouter(deps Dependencies) (*gin.Engine, error) {
	if deps.Config == nil {
		return nil, fmt.Errorf("config must be provided")
	}
	if deps.Cache == nil {
		return nil, fmt.Errorf("catalog cache must be provided")
	}
	if deps.Migrations == nil {
		return nil, fmt.Errorf("migration runner must be provided")
	}

	r := gin.New()
	r.HandleMethodNotAllowed = true

	// Global middleware
	r.Use(middleware.Recovery())
	r.Use(middleware.Logger())
	r.Use(middleware.Metrics())

	registerHealthRoutes(r, deps.Config, deps.Monitoring)

	api := r.Group("/api")
	if err := registerCatalogRoutes(api, deps); err != nil {
		return nil, err
	}
	registerMonitoringRoutes(api, handlers.NewMonitoringHandler(deps.Monitoring, deps.Config))

	if deps.Config.Monitoring.Prometheus.Enabled && deps.Monitoring != nil {
		endpoint := strings.TrimSpace(deps.Config.Monitoring.Prometheus.Endpoint)
		if endpoint == "" {
			endpoint = "/metrics"
		}
		r.GET(endpoint, gin.WrapH(deps.Monitoring.Handler()))
	}

	r.NoRoute(middleware.NotFoundHandler)
	r.NoMethod(middleware.MethodNotAllowedHandler)

	return r, nil
}
