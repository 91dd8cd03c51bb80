package cache

import (
	"context"
	"time"

	"github.com/charlesng35/ledgercat/internal/models"
)

// EntryFilter narrows ListEntries.
type EntryFilter struct {
	// Provider restricts results to entries whose active pointer lives on the given backend.
	Provider string
	// WithContent skips entries without a usable (non-placeholder) content hash.
	WithContent bool
}

// ContentPointer describes a confirmed upload that an entry should now reference.
type ContentPointer struct {
	Hash       string
	Provider   string
	UploadedAt time.Time
	// DurableHash is written only when non-empty so a permanent copy is never forgotten.
	DurableHash string
}

// Store persists catalog entries and content records. Implementations provide
// atomic single-row upserts; no multi-row transactions are required.
type Store interface {
	GetEntry(ctx context.Context, catalogID string) (*models.CatalogEntry, bool, error)
	UpsertEntry(ctx context.Context, entry *models.CatalogEntry) error
	// UpsertEntryKeepingPointer refreshes registry fields and metadata without
	// overwriting a content pointer moved since the entry was read.
	UpsertEntryKeepingPointer(ctx context.Context, entry *models.CatalogEntry) error
	MarkStale(ctx context.Context, catalogID string) error
	DeleteEntry(ctx context.Context, catalogID string) error
	ListEntries(ctx context.Context, filter EntryFilter) ([]models.CatalogEntry, error)
	UpdateContentPointer(ctx context.Context, catalogID string, ptr ContentPointer) error

	RecordContent(ctx context.Context, record *models.ContentRecord) error
	LatestContentRecord(ctx context.Context, hash string) (*models.ContentRecord, bool, error)
}
