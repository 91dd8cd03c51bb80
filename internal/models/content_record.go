package models

import "time"

// ContentRecord is an append-only log of uploads. A resubmission adds a new
// record rather than mutating the previous one.
type ContentRecord struct {
	BaseModel
	ContentHash string    `gorm:"size:256;index" json:"content_hash"`
	Provider    string    `gorm:"size:32;index" json:"provider"`
	CatalogID   string    `gorm:"size:128;index" json:"catalog_id,omitempty"`
	UploadedAt  time.Time `gorm:"index" json:"uploaded_at"`
	SizeBytes   int64     `json:"size_bytes"`
	TTLSeconds  *int64    `json:"ttl_seconds,omitempty"`
}

// ExpiresAt returns when the content is purged, or nil for durable content.
func (r *ContentRecord) ExpiresAt() *time.Time {
	if r == nil || r.TTLSeconds == nil {
		return nil
	}
	at := r.UploadedAt.Add(time.Duration(*r.TTLSeconds) * time.Second)
	return &at
}
