package models

import (
	"time"

	"gorm.io/datatypes"
)

// Content providers recorded on catalog entries and content records.
const (
	ProviderDurable   = "durable"
	ProviderEphemeral = "ephemeral"
)

// CatalogEntry is the locally cached view of one registry product.
// Entries are never purged automatically; stale rows are served as degraded reads.
type CatalogEntry struct {
	CatalogID  string `gorm:"primaryKey;size:128" json:"catalog_id"`
	RegistryID string `gorm:"size:128;index" json:"registry_id"`

	Price    string `gorm:"size:78" json:"price"`
	Seller   string `gorm:"size:128;index" json:"seller"`
	Active   bool   `gorm:"index" json:"active"`
	Category string `gorm:"size:128;index" json:"category"`

	// ContentHash is the pointer used to read rich metadata. It may rotate after
	// migration or resubmission, while SourceHash keeps what the registry published.
	ContentHash       string     `gorm:"size:256;index" json:"content_hash"`
	ContentProvider   string     `gorm:"size:32;index" json:"content_provider"`
	SourceHash        string     `gorm:"size:256" json:"source_hash"`
	DurableHash       string     `gorm:"size:256" json:"durable_hash,omitempty"`
	ContentUploadedAt *time.Time `json:"content_uploaded_at,omitempty"`

	Metadata datatypes.JSON `json:"metadata,omitempty"`

	CachedAt      time.Time `json:"cached_at"`
	TTLExpiresAt  time.Time `gorm:"index" json:"ttl_expires_at"`
	LastKnownGood bool      `json:"last_known_good"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// IsFresh reports whether the entry can be served without a refresh.
func (e *CatalogEntry) IsFresh(now time.Time) bool {
	if e == nil {
		return false
	}
	return now.Before(e.TTLExpiresAt)
}

// HasContent reports whether the entry points at a real content hash.
func (e *CatalogEntry) HasContent() bool {
	return e != nil && e.ContentHash != "" && !IsPlaceholderHash(e.ContentHash)
}

// IsPlaceholderHash recognises hashes written by seed scripts before real content existed.
func IsPlaceholderHash(hash string) bool {
	switch hash {
	case "", "0", "0x", "placeholder", "pending":
		return true
	}
	return false
}
