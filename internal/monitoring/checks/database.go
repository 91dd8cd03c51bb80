package checks

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/charlesng35/ledgercat/internal/models"
	"github.com/charlesng35/ledgercat/internal/monitoring"
)

const defaultDatabaseTimeout = 2 * time.Second

// Database pings the catalog database and confirms the catalog schema is
// present. A reachable database without the entries table cannot serve reads.
func Database(db *gorm.DB, timeout time.Duration) monitoring.Check {
	return monitoring.NewCheck("database", func(ctx context.Context) monitoring.ProbeResult {
		start := time.Now()
		down := func(details string) monitoring.ProbeResult {
			return monitoring.ProbeResult{Status: monitoring.StatusDown, Details: details, Duration: time.Since(start)}
		}
		if db == nil {
			return down("database not configured")
		}

		probeCtx, cancel := context.WithTimeout(ctx, chooseTimeout(timeout, defaultDatabaseTimeout))
		defer cancel()

		sqlDB, err := db.DB()
		if err == nil {
			err = sqlDB.PingContext(probeCtx)
		}
		if err != nil {
			return monitoring.ResultFromError("database", err, time.Since(start))
		}

		if !db.WithContext(probeCtx).Migrator().HasTable(&models.CatalogEntry{}) {
			return down("catalog schema missing")
		}
		return monitoring.ProbeResult{Status: monitoring.StatusUp, Duration: time.Since(start)}
	})
}

func chooseTimeout(provided, fallback time.Duration) time.Duration {
	if provided <= 0 {
		return fallback
	}
	return provided
}
