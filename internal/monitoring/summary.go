package monitoring

import "time"

// Summary surfaces aggregated runtime counters for the operator endpoint.
type Summary struct {
	GeneratedAt      time.Time          `json:"generated_at"`
	CacheLookups     map[string]uint64  `json:"cache_lookups"`
	RegistryRequests map[string]uint64  `json:"registry_requests"`
	Uploads          map[string]uint64  `json:"uploads"`
	SyncItems        map[string]uint64  `json:"sync_items"`
	Resubmissions    map[string]uint64  `json:"resubmissions"`
	MigrationItems   map[string]uint64  `json:"migration_items"`
	Gateways         []GatewaySummary   `json:"gateways"`
	Maintenance      MaintenanceSummary `json:"maintenance"`
}

type GatewaySummary struct {
	Gateway       string    `json:"gateway"`
	Success       uint64    `json:"success"`
	Failure       uint64    `json:"failure"`
	LastStatus    string    `json:"last_status"`
	LastAttemptAt time.Time `json:"last_attempt_at"`
}

type MaintenanceSummary struct {
	Jobs []MaintenanceJobSummary `json:"jobs"`
}

type MaintenanceJobSummary struct {
	Job                 string        `json:"job"`
	LastStatus          string        `json:"last_status"`
	LastRunAt           time.Time     `json:"last_run_at"`
	LastDuration        time.Duration `json:"last_duration"`
	LastError           string        `json:"last_error,omitempty"`
	ConsecutiveFailures uint64        `json:"consecutive_failures"`
	ConsecutiveSuccess  uint64        `json:"consecutive_success"`
	LastSuccessAt       time.Time     `json:"last_success_at"`
	TotalRuns           uint64        `json:"total_runs"`
}

// Snapshot returns a point-in-time summary from the current module when configured.
func Snapshot() Summary {
	if module := ensureModule(); module != nil {
		return module.Summary()
	}
	return Summary{GeneratedAt: time.Now()}
}
