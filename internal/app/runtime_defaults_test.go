package app

import (
	"strings"
	"testing"
)

func TestApplyRuntimeDefaultsFallsBackToDurable(t *testing.T) {
	cfg := &Config{}
	cfg.Storage.Provider = "ephemeral"
	cfg.Storage.DualWrite = true
	cfg.Storage.Durable.Enabled = true
	cfg.Resubmission.Enabled = true
	cfg.Catalog.SyncConcurrency = 4

	adjusted, err := ApplyRuntimeDefaults(cfg)
	if err != nil {
		t.Fatalf("ApplyRuntimeDefaults returned error: %v", err)
	}

	if cfg.Storage.Provider != "durable" {
		t.Fatalf("expected durable provider, got %q", cfg.Storage.Provider)
	}
	if cfg.Storage.DualWrite {
		t.Fatal("expected dual write to be disabled without an ephemeral backend")
	}
	if cfg.Resubmission.Enabled {
		t.Fatal("expected resubmission to be disabled without an ephemeral backend")
	}
	for _, key := range []string{"storage.provider", "storage.dual_write", "resubmission.enabled"} {
		if !adjusted[key] {
			t.Fatalf("expected %s in adjusted keys: %#v", key, adjusted)
		}
	}
	if adjusted["catalog.sync_concurrency"] {
		t.Fatalf("did not expect sync concurrency to change: %#v", adjusted)
	}
}

func TestApplyRuntimeDefaultsPreservesConsistentConfig(t *testing.T) {
	cfg := &Config{}
	cfg.Storage.Provider = "auto"
	cfg.Storage.DualWrite = true
	cfg.Storage.Durable.Enabled = true
	cfg.Storage.Ephemeral.Enabled = true
	cfg.Resubmission.Enabled = true
	cfg.Catalog.SyncConcurrency = 2

	adjusted, err := ApplyRuntimeDefaults(cfg)
	if err != nil {
		t.Fatalf("ApplyRuntimeDefaults returned error: %v", err)
	}
	if len(adjusted) != 0 {
		t.Fatalf("expected no adjustments, got %#v", adjusted)
	}
}

func TestApplyRuntimeDefaultsNilConfig(t *testing.T) {
	_, err := ApplyRuntimeDefaults(nil)
	if err == nil || !strings.Contains(err.Error(), "config is nil") {
		t.Fatalf("expected nil config error, got %v", err)
	}
}
