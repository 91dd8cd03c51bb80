package app

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/ledgercat/internal/storage"
)

func TestLoadConfigFromFile(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join("testdata"))
	require.NoError(t, err)

	require.Equal(t, 9090, cfg.Server.Port)
	require.Equal(t, "debug", cfg.Server.LogLevel)
	require.Equal(t, "postgres", cfg.Database.Driver)
	require.True(t, cfg.Database.Postgres.Enabled)
	require.Equal(t, "db.example.com", cfg.Database.Postgres.Host)

	require.Equal(t, 2*time.Minute, cfg.Catalog.CacheTTL)
	require.Equal(t, 10*time.Minute, cfg.Catalog.SyncInterval)
	require.Equal(t, 8, cfg.Catalog.SyncConcurrency)
	require.Equal(t, 100, cfg.Catalog.SyncPageSize)

	require.Equal(t, "https://indexer.example.com", cfg.Registry.BaseURL)
	require.Equal(t, 20*time.Second, cfg.Registry.Timeout)
	require.Equal(t, 5, cfg.Registry.MaxRetries)

	require.Equal(t, "auto", cfg.Storage.Provider)
	require.True(t, cfg.Storage.DualWrite)
	require.Equal(t, 4*time.Second, cfg.Storage.FetchTimeout)
	require.Equal(t, 3*time.Second, cfg.Storage.ProbeTimeout)
	require.Equal(t, []string{"https://gw1.example.com/ipfs", "https://gw2.example.com/ipfs"}, cfg.Storage.Durable.Gateways)
	require.Equal(t, []string{"https://tmp-gw.example.com/c"}, cfg.Storage.Ephemeral.Gateways)
	require.Equal(t, 7*24*time.Hour, cfg.Storage.Ephemeral.TTL)
	require.Equal(t, 5*24*time.Hour, cfg.Storage.Ephemeral.ResubmitThreshold)

	require.True(t, cfg.Resubmission.Enabled)
	require.Equal(t, 3*time.Hour, cfg.Resubmission.CheckInterval)
	require.Equal(t, 24*time.Hour, cfg.Resubmission.ExpiringSoonWindow)

	require.Equal(t, 25, cfg.Migration.BatchSize)
	require.Equal(t, time.Second, cfg.Migration.BatchDelay)
	require.False(t, cfg.Migration.Verify)

	require.True(t, cfg.Monitoring.Prometheus.Enabled)
	require.Equal(t, "/metrics", cfg.Monitoring.Prometheus.Endpoint)
	require.Equal(t, 12*time.Hour, cfg.Monitoring.Health.JobMaxAge)
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	require.Equal(t, 8000, cfg.Server.Port)
	require.Equal(t, "sqlite", cfg.Database.Driver)
	require.Equal(t, 5*time.Minute, cfg.Catalog.CacheTTL)
	require.Equal(t, "durable", cfg.Storage.Provider)
	require.False(t, cfg.Storage.Ephemeral.Enabled)
	require.Equal(t, 14*24*time.Hour, cfg.Storage.Ephemeral.TTL)
	require.Equal(t, 10*24*time.Hour, cfg.Storage.Ephemeral.ResubmitThreshold)
	require.Len(t, cfg.Storage.Durable.Gateways, 3)
	require.Equal(t, 10, cfg.Migration.BatchSize)
	require.True(t, cfg.Migration.Verify)
}

func TestLoadConfigEnvironmentOverride(t *testing.T) {
	t.Setenv("LEDGERCAT_SERVER_PORT", "7070")
	t.Setenv("LEDGERCAT_STORAGE_PROVIDER", "ephemeral")

	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)
	require.Equal(t, 7070, cfg.Server.Port)
	require.Equal(t, "ephemeral", cfg.Storage.Provider)
}

func TestValidateRejectsThresholdAboveTTL(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	cfg.Storage.Ephemeral.Enabled = true
	cfg.Storage.Ephemeral.Gateways = []string{"https://gw.example.com"}
	cfg.Storage.Ephemeral.ResubmitThreshold = cfg.Storage.Ephemeral.TTL
	err = cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "resubmit_threshold")
}

func TestValidateRejectsEmptyGatewaysAndUnknownProvider(t *testing.T) {
	cfg, err := LoadConfig(t.TempDir())
	require.NoError(t, err)

	cfg.Storage.Provider = "tape"
	cfg.Storage.Durable.Gateways = []string{" "}
	err = cfg.Validate()
	require.Error(t, err)
	require.Contains(t, err.Error(), "storage.provider")
	require.Contains(t, err.Error(), "storage.durable.gateways")
}

func TestStorageConfigAdapters(t *testing.T) {
	cfg := StorageConfig{
		Provider:      "auto",
		DualWrite:     true,
		FetchTimeout:  2 * time.Second,
		ProbeTimeout:  time.Second,
		UploadTimeout: 10 * time.Second,
		Durable: DurableStorageConfig{
			APIURL:   " https://pin.example.com ",
			Gateways: []string{"https://a.example.com", "", "https://b.example.com"},
		},
		Ephemeral: EphemeralStorageConfig{
			Enabled:           true,
			Gateways:          []string{"https://c.example.com"},
			TTL:               48 * time.Hour,
			ResubmitThreshold: 24 * time.Hour,
		},
	}

	durable := cfg.DurableStoreConfig()
	require.Equal(t, "https://pin.example.com", durable.APIURL)
	require.Equal(t, storage.GatewayConfig{
		URLs:         []string{"https://a.example.com", "https://b.example.com"},
		FetchTimeout: 2 * time.Second,
		ProbeTimeout: time.Second,
	}, durable.Gateway)
	require.Equal(t, 10*time.Second, durable.UploadTimeout)

	ephemeral := cfg.EphemeralStoreConfig()
	require.Equal(t, 48*time.Hour, ephemeral.TTL)
	require.Equal(t, 24*time.Hour, ephemeral.ResubmitThreshold)

	require.Equal(t, storage.SelectorConfig{
		Policy:           "auto",
		DualWrite:        true,
		EphemeralEnabled: true,
		ProbeTimeout:     time.Second,
	}, cfg.SelectorConfig())
}
