package checks

import (
	"context"
	"strings"
	"time"

	"github.com/charlesng35/ledgercat/internal/monitoring"
)

const defaultJobMaxAge = 12 * time.Hour

// Jobs reports background loops (sync, resubmission) that keep failing or
// have not completed within maxAge. A zero maxAge uses 12h.
func Jobs(maxAge time.Duration) monitoring.Check {
	if maxAge <= 0 {
		maxAge = defaultJobMaxAge
	}

	return monitoring.NewCheck("jobs", func(ctx context.Context) monitoring.ProbeResult {
		start := time.Now()
		summary := monitoring.Snapshot()
		now := time.Now()

		if len(summary.Maintenance.Jobs) == 0 {
			return monitoring.ProbeResult{
				Status:   monitoring.StatusUp,
				Details:  "no jobs have run",
				Duration: time.Since(start),
			}
		}

		status := monitoring.StatusUp
		var failures []string

		for _, job := range summary.Maintenance.Jobs {
			if job.TotalRuns == 0 {
				failures = append(failures, job.Job+": pending first run")
				continue
			}

			if job.ConsecutiveFailures > 0 {
				// Item failures are counted, not returned; a failed run is a broken loop.
				status = worstStatus(status, monitoring.StatusDegraded)
				failures = append(failures, job.Job+": "+job.LastError)
			}

			if !job.LastSuccessAt.IsZero() && now.Sub(job.LastSuccessAt) > maxAge {
				status = worstStatus(status, monitoring.StatusDegraded)
				failures = append(failures, job.Job+": last success "+job.LastSuccessAt.UTC().Format(time.RFC3339))
			}
		}

		details := strings.Join(failures, "; ")

		return monitoring.ProbeResult{
			Status:   status,
			Details:  details,
			Duration: time.Since(start),
		}
	})
}

func worstStatus(current, candidate monitoring.ProbeStatus) monitoring.ProbeStatus {
	if current == monitoring.StatusDown || candidate == monitoring.StatusDown {
		return monitoring.StatusDown
	}
	if current == monitoring.StatusDegraded || candidate == monitoring.StatusDegraded {
		return monitoring.StatusDegraded
	}
	return monitoring.StatusUp
}
