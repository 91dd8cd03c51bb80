package checks

import (
	"context"
	"time"

	"github.com/charlesng35/ledgercat/internal/monitoring"
)

const defaultRegistryTimeout = 5 * time.Second

// RegistryCounter is the part of the registry used for probing.
type RegistryCounter interface {
	TotalCount(ctx context.Context) (int, error)
}

// Registry probes the ledger registry. An unreachable registry degrades the
// service rather than taking it down because cached entries are still served.
func Registry(registry RegistryCounter, timeout time.Duration) monitoring.Check {
	return monitoring.NewCheck("registry", func(ctx context.Context) monitoring.ProbeResult {
		start := time.Now()
		if registry == nil {
			return monitoring.ProbeResult{
				Status:   monitoring.StatusDown,
				Details:  "registry not configured",
				Duration: time.Since(start),
			}
		}

		probeCtx, cancel := context.WithTimeout(ctx, chooseTimeout(timeout, defaultRegistryTimeout))
		defer cancel()

		if _, err := registry.TotalCount(probeCtx); err != nil {
			return monitoring.ProbeResult{
				Status:   monitoring.StatusDegraded,
				Details:  err.Error(),
				Duration: time.Since(start),
			}
		}
		return monitoring.ProbeResult{
			Status:   monitoring.StatusUp,
			Duration: time.Since(start),
		}
	})
}
