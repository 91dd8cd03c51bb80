package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/ledgercat/internal/models"
	apperrors "github.com/charlesng35/ledgercat/pkg/errors"
)

var errStoreNotInitialised = errors.New("cache: database store not initialised")

// DatabaseStore implements Store using the primary SQL database.
type DatabaseStore struct {
	db *gorm.DB
}

// NewDatabaseStore constructs a database-backed Store.
func NewDatabaseStore(db *gorm.DB) *DatabaseStore {
	if db == nil {
		return nil
	}
	return &DatabaseStore{db: db}
}

// GetEntry loads an entry regardless of its TTL; freshness is the caller's decision.
func (s *DatabaseStore) GetEntry(ctx context.Context, catalogID string) (*models.CatalogEntry, bool, error) {
	if s == nil {
		return nil, false, errStoreNotInitialised
	}
	ctx = ensureContext(ctx)

	var entry models.CatalogEntry
	err := s.db.WithContext(ctx).Take(&entry, "catalog_id = ?", catalogID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache: get entry %s: %w", catalogID, err)
	}
	return &entry, true, nil
}

// UpsertEntry inserts or fully replaces the row for entry.CatalogID.
func (s *DatabaseStore) UpsertEntry(ctx context.Context, entry *models.CatalogEntry) error {
	if s == nil {
		return errStoreNotInitialised
	}
	if entry == nil || strings.TrimSpace(entry.CatalogID) == "" {
		return errors.New("cache: entry with catalog id is required")
	}
	ctx = ensureContext(ctx)

	return s.upsert(ctx, entry, entryColumns)
}

// UpsertEntryKeepingPointer inserts entry, or updates an existing row while
// leaving its content pointer columns untouched.
func (s *DatabaseStore) UpsertEntryKeepingPointer(ctx context.Context, entry *models.CatalogEntry) error {
	if s == nil {
		return errStoreNotInitialised
	}
	if entry == nil || strings.TrimSpace(entry.CatalogID) == "" {
		return errors.New("cache: entry with catalog id is required")
	}
	return s.upsert(ensureContext(ctx), entry, listingColumns)
}

var (
	listingColumns = []string{
		"registry_id", "price", "seller", "active", "category", "source_hash",
		"metadata", "cached_at", "ttl_expires_at", "last_known_good", "updated_at",
	}
	pointerColumns = []string{"content_hash", "content_provider", "durable_hash", "content_uploaded_at"}
	entryColumns   = append(append([]string{}, listingColumns...), pointerColumns...)
)

func (s *DatabaseStore) upsert(ctx context.Context, entry *models.CatalogEntry, columns []string) error {
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "catalog_id"}},
			DoUpdates: clause.AssignmentColumns(columns),
		}).Create(entry).Error
	if err != nil {
		return fmt.Errorf("cache: upsert entry %s: %w", entry.CatalogID, err)
	}
	return nil
}

// MarkStale flags an entry as served after a failed refresh. No other column changes.
func (s *DatabaseStore) MarkStale(ctx context.Context, catalogID string) error {
	if s == nil {
		return errStoreNotInitialised
	}
	ctx = ensureContext(ctx)

	result := s.db.WithContext(ctx).Model(&models.CatalogEntry{}).
		Where("catalog_id = ?", catalogID).
		Update("last_known_good", false)
	if result.Error != nil {
		return fmt.Errorf("cache: mark stale %s: %w", catalogID, result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.ErrNotFound.WithMessage("catalog entry %s not found", catalogID)
	}
	return nil
}

// DeleteEntry removes an entry; this is the only path that ever deletes catalog rows.
func (s *DatabaseStore) DeleteEntry(ctx context.Context, catalogID string) error {
	if s == nil {
		return errStoreNotInitialised
	}
	ctx = ensureContext(ctx)

	result := s.db.WithContext(ctx).Where("catalog_id = ?", catalogID).Delete(&models.CatalogEntry{})
	if result.Error != nil {
		return fmt.Errorf("cache: delete entry %s: %w", catalogID, result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.ErrNotFound.WithMessage("catalog entry %s not found", catalogID)
	}
	return nil
}

// ListEntries returns entries ordered by catalog id.
func (s *DatabaseStore) ListEntries(ctx context.Context, filter EntryFilter) ([]models.CatalogEntry, error) {
	if s == nil {
		return nil, errStoreNotInitialised
	}
	ctx = ensureContext(ctx)

	query := s.db.WithContext(ctx).Model(&models.CatalogEntry{})
	if provider := strings.TrimSpace(filter.Provider); provider != "" {
		query = query.Where("content_provider = ?", provider)
	}
	if filter.WithContent {
		query = query.Where("content_hash <> ''")
	}

	var entries []models.CatalogEntry
	if err := query.Order("catalog_id ASC").Find(&entries).Error; err != nil {
		return nil, fmt.Errorf("cache: list entries: %w", err)
	}

	if !filter.WithContent {
		return entries, nil
	}
	out := entries[:0]
	for _, entry := range entries {
		if entry.HasContent() {
			out = append(out, entry)
		}
	}
	return out, nil
}

// UpdateContentPointer swaps the active content pointer of one entry.
func (s *DatabaseStore) UpdateContentPointer(ctx context.Context, catalogID string, ptr ContentPointer) error {
	if s == nil {
		return errStoreNotInitialised
	}
	if strings.TrimSpace(ptr.Hash) == "" {
		return errors.New("cache: content pointer hash is required")
	}
	ctx = ensureContext(ctx)

	uploadedAt := ptr.UploadedAt
	updates := map[string]any{
		"content_hash":        ptr.Hash,
		"content_provider":    ptr.Provider,
		"content_uploaded_at": &uploadedAt,
	}
	if ptr.DurableHash != "" {
		updates["durable_hash"] = ptr.DurableHash
	}

	result := s.db.WithContext(ctx).Model(&models.CatalogEntry{}).
		Where("catalog_id = ?", catalogID).
		Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("cache: update pointer %s: %w", catalogID, result.Error)
	}
	if result.RowsAffected == 0 {
		return apperrors.ErrNotFound.WithMessage("catalog entry %s not found", catalogID)
	}
	return nil
}

// RecordContent appends an upload record.
func (s *DatabaseStore) RecordContent(ctx context.Context, record *models.ContentRecord) error {
	if s == nil {
		return errStoreNotInitialised
	}
	if record == nil || strings.TrimSpace(record.ContentHash) == "" {
		return errors.New("cache: content record with hash is required")
	}
	ctx = ensureContext(ctx)

	if err := s.db.WithContext(ctx).Create(record).Error; err != nil {
		return fmt.Errorf("cache: record content %s: %w", record.ContentHash, err)
	}
	return nil
}

// LatestContentRecord returns the most recent upload record for hash.
func (s *DatabaseStore) LatestContentRecord(ctx context.Context, hash string) (*models.ContentRecord, bool, error) {
	if s == nil {
		return nil, false, errStoreNotInitialised
	}
	ctx = ensureContext(ctx)

	var record models.ContentRecord
	err := s.db.WithContext(ctx).
		Where("content_hash = ?", hash).
		Order("uploaded_at DESC").
		Take(&record).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache: latest record %s: %w", hash, err)
	}
	return &record, true, nil
}

func ensureContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

var _ Store = (*DatabaseStore)(nil)
