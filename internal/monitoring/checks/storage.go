package checks

import (
	"context"
	"time"

	"github.com/charlesng35/ledgercat/internal/monitoring"
)

const defaultStorageTimeout = 3 * time.Second

// LivenessProber reports whether a storage backend's API is reachable.
type LivenessProber interface {
	Live(ctx context.Context) bool
}

// Storage probes a content backend. Failures degrade readiness since reads
// fall back to cached metadata.
func Storage(name string, prober LivenessProber, timeout time.Duration) monitoring.Check {
	component := "storage_" + name
	return monitoring.NewCheck(component, func(ctx context.Context) monitoring.ProbeResult {
		start := time.Now()
		if prober == nil {
			return monitoring.ProbeResult{
				Status:   monitoring.StatusUp,
				Details:  name + " storage not configured",
				Duration: time.Since(start),
			}
		}

		probeCtx, cancel := context.WithTimeout(ctx, chooseTimeout(timeout, defaultStorageTimeout))
		defer cancel()

		if !prober.Live(probeCtx) {
			return monitoring.ProbeResult{
				Status:   monitoring.StatusDegraded,
				Details:  name + " storage unreachable",
				Duration: time.Since(start),
			}
		}
		return monitoring.ProbeResult{
			Status:   monitoring.StatusUp,
			Duration: time.Since(start),
		}
	})
}
