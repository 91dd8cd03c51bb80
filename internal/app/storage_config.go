package app

import (
	"strings"

	"github.com/charlesng35/ledgercat/internal/migration"
	"github.com/charlesng35/ledgercat/internal/registry"
	"github.com/charlesng35/ledgercat/internal/storage"
)

// DurableStoreConfig converts the durable section into the storage package representation.
func (c StorageConfig) DurableStoreConfig() storage.DurableConfig {
	return storage.DurableConfig{
		APIURL:        strings.TrimSpace(c.Durable.APIURL),
		APIToken:      strings.TrimSpace(c.Durable.APIToken),
		Gateway:       c.gateway(c.Durable.Gateways),
		UploadTimeout: c.UploadTimeout,
	}
}

// EphemeralStoreConfig converts the ephemeral section into the storage package representation.
func (c StorageConfig) EphemeralStoreConfig() storage.EphemeralConfig {
	return storage.EphemeralConfig{
		APIURL:            strings.TrimSpace(c.Ephemeral.APIURL),
		APIToken:          strings.TrimSpace(c.Ephemeral.APIToken),
		Gateway:           c.gateway(c.Ephemeral.Gateways),
		TTL:               c.Ephemeral.TTL,
		ResubmitThreshold: c.Ephemeral.ResubmitThreshold,
		UploadTimeout:     c.UploadTimeout,
	}
}

// SelectorConfig returns the provider policy.
func (c StorageConfig) SelectorConfig() storage.SelectorConfig {
	return storage.SelectorConfig{
		Policy:           c.Provider,
		DualWrite:        c.DualWrite,
		EphemeralEnabled: c.Ephemeral.Enabled,
		ProbeTimeout:     c.ProbeTimeout,
	}
}

func (c StorageConfig) gateway(urls []string) storage.GatewayConfig {
	return storage.GatewayConfig{
		URLs:         cleanList(urls),
		FetchTimeout: c.FetchTimeout,
		ProbeTimeout: c.ProbeTimeout,
	}
}

// ClientConfig converts the registry section.
func (c RegistryConfig) ClientConfig() registry.Config {
	return registry.Config{
		BaseURL:    strings.TrimSpace(c.BaseURL),
		Timeout:    c.Timeout,
		MaxRetries: c.MaxRetries,
	}
}

// Options returns the default migration options.
func (c MigrationConfig) Options() migration.Options {
	return migration.Options{
		BatchSize:  c.BatchSize,
		BatchDelay: c.BatchDelay,
		DryRun:     c.DryRun,
		Verify:     c.Verify,
	}
}
