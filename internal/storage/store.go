// Package storage provides the content-addressed backends that hold rich
// catalog metadata, plus the selection and decoration logic around them.
package storage

import (
	"context"
	"time"

	"github.com/charlesng35/ledgercat/internal/models"
)

// Provider names, shared with persisted catalog entries.
const (
	ProviderDurable   = models.ProviderDurable
	ProviderEphemeral = models.ProviderEphemeral
)

// UploadResult is returned only after the backend acknowledged the upload.
type UploadResult struct {
	Hash       string
	URL        string
	Provider   string
	SizeBytes  int64
	UploadedAt time.Time
	// TTL is zero for durable content.
	TTL time.Duration
	// Backup is set by DualWriteStore when the secondary write also succeeded.
	Backup *UploadResult
}

// Record converts the result into a persisted ContentRecord.
func (r *UploadResult) Record(catalogID string) *models.ContentRecord {
	if r == nil {
		return nil
	}
	record := &models.ContentRecord{
		ContentHash: r.Hash,
		Provider:    r.Provider,
		CatalogID:   catalogID,
		UploadedAt:  r.UploadedAt,
		SizeBytes:   r.SizeBytes,
	}
	if r.TTL > 0 {
		seconds := int64(r.TTL / time.Second)
		record.TTLSeconds = &seconds
	}
	return record
}

// ContentStore uploads and reads documents by opaque content hash.
type ContentStore interface {
	// Provider names the backend ("durable" or "ephemeral").
	Provider() string
	// Upload fails with ErrUploadFailed when the backend rejects or cannot be reached.
	Upload(ctx context.Context, doc *Document) (*UploadResult, error)
	// Fetch walks the configured gateways in order and fails with
	// ErrStorageUnavailable only when every gateway failed.
	Fetch(ctx context.Context, hash string) (*Document, error)
	// IsAvailable probes the first gateway; it never returns an error.
	IsAvailable(ctx context.Context, hash string) bool
	// ContentURL is pure and deterministic given configuration.
	ContentURL(hash string) string
}

// ExpiringStore is a ContentStore whose content is purged after a fixed TTL.
type ExpiringStore interface {
	ContentStore
	TTL() time.Duration
	ResubmitThreshold() time.Duration
	NeedsResubmission(uploadedAt time.Time) bool
	TimeUntilExpiry(uploadedAt time.Time) time.Duration
	TimeUntilResubmission(uploadedAt time.Time) time.Duration
}

// LivenessProber is implemented by backends that can report whether their
// upload API is reachable.
type LivenessProber interface {
	Live(ctx context.Context) bool
}

type unwrapper interface {
	Unwrap() ContentStore
}

// IsImplemented reports whether store (after unwrapping decorators) is a real backend.
func IsImplemented(store ContentStore) bool {
	for store != nil {
		if _, ok := store.(*UnimplementedStore); ok {
			return false
		}
		u, ok := store.(unwrapper)
		if !ok {
			return true
		}
		store = u.Unwrap()
	}
	return false
}
