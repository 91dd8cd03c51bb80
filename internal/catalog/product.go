package catalog

import (
	"encoding/json"
	"time"

	"github.com/charlesng35/ledgercat/internal/models"
	"github.com/charlesng35/ledgercat/internal/storage"
)

// Product is what callers of the cache receive: ledger fields, rich
// metadata and whether the answer is degraded.
type Product struct {
	CatalogID       string                   `json:"catalog_id"`
	RegistryID      string                   `json:"registry_id"`
	Price           string                   `json:"price"`
	Seller          string                   `json:"seller"`
	Active          bool                     `json:"active"`
	Category        string                   `json:"category"`
	ContentHash     string                   `json:"content_hash,omitempty"`
	ContentProvider string                   `json:"content_provider,omitempty"`
	ContentURL      string                   `json:"content_url,omitempty"`
	Metadata        *storage.ProductMetadata `json:"metadata,omitempty"`
	CachedAt        time.Time                `json:"cached_at"`
	ExpiresAt       time.Time                `json:"expires_at"`
	// LastKnownGood is false when the entry was served after a failed refresh.
	LastKnownGood bool `json:"last_known_good"`
}

// Stale reports a degraded read.
func (p *Product) Stale() bool {
	return p != nil && !p.LastKnownGood
}

func productFromEntry(entry *models.CatalogEntry, contentURL string) *Product {
	product := &Product{
		CatalogID:       entry.CatalogID,
		RegistryID:      entry.RegistryID,
		Price:           entry.Price,
		Seller:          entry.Seller,
		Active:          entry.Active,
		Category:        entry.Category,
		ContentHash:     entry.ContentHash,
		ContentProvider: entry.ContentProvider,
		ContentURL:      contentURL,
		CachedAt:        entry.CachedAt,
		ExpiresAt:       entry.TTLExpiresAt,
		LastKnownGood:   entry.LastKnownGood,
	}
	if len(entry.Metadata) > 0 {
		var doc storage.Document
		if err := json.Unmarshal(entry.Metadata, &doc); err == nil && doc.Product != nil {
			product.Metadata = doc.Product
		}
	}
	return product
}
