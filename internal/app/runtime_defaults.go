package app

import (
	"fmt"
	"strings"
)

// ApplyRuntimeDefaults reconciles settings that depend on each other. It
// returns the keys it changed so callers can log them.
func ApplyRuntimeDefaults(cfg *Config) (map[string]bool, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}

	adjusted := make(map[string]bool)

	provider := strings.ToLower(strings.TrimSpace(cfg.Storage.Provider))
	if provider == "ephemeral" && !cfg.Storage.Ephemeral.Enabled {
		cfg.Storage.Provider = "durable"
		adjusted["storage.provider"] = true
	}

	// Dual-write needs both backends.
	if cfg.Storage.DualWrite && (!cfg.Storage.Durable.Enabled || !cfg.Storage.Ephemeral.Enabled) {
		cfg.Storage.DualWrite = false
		adjusted["storage.dual_write"] = true
	}

	if cfg.Resubmission.Enabled && !cfg.Storage.Ephemeral.Enabled {
		cfg.Resubmission.Enabled = false
		adjusted["resubmission.enabled"] = true
	}

	if cfg.Catalog.SyncConcurrency <= 0 {
		cfg.Catalog.SyncConcurrency = 1
		adjusted["catalog.sync_concurrency"] = true
	}

	return adjusted, nil
}
