package api

import (
	"github.com/gin-gonic/gin"

	"github.com/charlesng35/ledgercat/internal/handlers"
)

func registerCatalogRoutes(api *gin.RouterGroup, deps Dependencies) error {
	products, err := handlers.NewProductHandler(deps.Cache)
	if err != nil {
		return err
	}
	group := api.Group("/products")
	{
		group.GET("/:id", products.Get)
		group.DELETE("/:id", products.Delete)
	}

	jobs := handlers.NewJobHandler(deps.Synchronizer, deps.Scheduler)
	api.POST("/sync", jobs.Sync)
	api.POST("/resubmissions", jobs.Resubmit)
	api.GET("/resubmissions/stats", jobs.ResubmissionStats)

	migrations, err := handlers.NewMigrationHandler(deps.Migrations, deps.Config.Migration.Options())
	if err != nil {
		return err
	}
	mig := api.Group("/migrations")
	{
		mig.POST("", migrations.Start)
		mig.GET("/current", migrations.Current)
		mig.GET("/stream", migrations.Stream)
	}
	return nil
}
