// Package catalog serves product reads cache-aside over the ledger registry
// and keeps the local cache in step with it.
package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
	"gorm.io/datatypes"

	"github.com/charlesng35/ledgercat/internal/cache"
	"github.com/charlesng35/ledgercat/internal/models"
	"github.com/charlesng35/ledgercat/internal/monitoring"
	"github.com/charlesng35/ledgercat/internal/registry"
	"github.com/charlesng35/ledgercat/internal/storage"
	apperrors "github.com/charlesng35/ledgercat/pkg/errors"
)

// DefaultTTL is how long an entry is served without consulting the registry.
const DefaultTTL = 5 * time.Minute

// GetOptions tunes a single read.
type GetOptions struct {
	// ForceRefresh skips the freshness check and always consults the registry.
	ForceRefresh bool
}

// Cache is the cache-aside read path. Concurrent refreshes of the same id
// share one registry call.
type Cache struct {
	store    cache.Store
	registry registry.Registry
	stores   *storage.Selector
	ttl      time.Duration
	now      func() time.Time
	log      *zap.Logger
	group    singleflight.Group
}

// Option customises a Cache.
type Option func(*Cache)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithNow overrides the clock.
func WithNow(now func() time.Time) Option {
	return func(c *Cache) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger overrides the logger.
func WithLogger(log *zap.Logger) Option {
	return func(c *Cache) {
		if log != nil {
			c.log = log
		}
	}
}

// NewCache wires the read path.
func NewCache(store cache.Store, reg registry.Registry, stores *storage.Selector, opts ...Option) (*Cache, error) {
	if store == nil || reg == nil || stores == nil {
		return nil, errors.New("catalog: store, registry and storage selector are required")
	}
	c := &Cache{
		store:    store,
		registry: reg,
		stores:   stores,
		ttl:      DefaultTTL,
		now:      time.Now,
		log:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// GetProduct returns the cached entry while it is fresh. Otherwise it
// refreshes from the registry and content storage; if that fails and an
// older entry exists, the old entry is returned with LastKnownGood=false.
func (c *Cache) GetProduct(ctx context.Context, id string, opts GetOptions) (*Product, error) {
	if id == "" {
		return nil, apperrors.ErrBadRequest.WithMessage("catalog id is required")
	}

	existing, found, err := c.store.GetEntry(ctx, id)
	if err != nil {
		monitoring.RecordCacheLookup("error")
		return nil, apperrors.ErrInternalServer.WithInternal(err)
	}
	if found && !opts.ForceRefresh && existing.IsFresh(c.now()) {
		monitoring.RecordCacheLookup("fresh")
		return c.toProduct(existing), nil
	}

	// Detached from the caller: every waiter shares this load.
	ch := c.group.DoChan(id, func() (any, error) {
		return c.load(context.WithoutCancel(ctx), id, existing)
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Product), nil
	}
}

func (c *Cache) load(ctx context.Context, id string, existing *models.CatalogEntry) (*Product, error) {
	entry, err := c.refresh(ctx, id, existing)
	if err == nil {
		monitoring.RecordCacheLookup("refreshed")
		return c.toProduct(entry), nil
	}

	if existing == nil {
		monitoring.RecordCacheLookup("error")
		if errors.Is(err, apperrors.ErrNotFound) || errors.Is(err, apperrors.ErrSourceOfTruthUnreachable) {
			return nil, err
		}
		return nil, apperrors.ErrSourceOfTruthUnreachable.WithInternal(err)
	}

	if markErr := c.store.MarkStale(ctx, id); markErr != nil {
		c.log.Error("failed to flag stale entry", zap.String("catalog_id", id), zap.Error(markErr))
	}
	// Re-read: migration or resubmission may have moved the pointer while
	// the registry call was failing.
	stale := *existing
	if current, found, readErr := c.store.GetEntry(ctx, id); readErr == nil && found {
		stale = *current
	}
	stale.LastKnownGood = false

	monitoring.RecordCacheLookup("stale")
	c.log.Warn("refresh failed, serving stale entry",
		zap.String("catalog_id", id),
		zap.Time("cached_at", stale.CachedAt),
		zap.Error(err),
	)
	return c.toProduct(&stale), nil
}

// Remove deletes an entry explicitly. Nothing else ever deletes entries.
func (c *Cache) Remove(ctx context.Context, id string) error {
	if id == "" {
		return apperrors.ErrBadRequest.WithMessage("catalog id is required")
	}
	c.group.Forget(id)
	if err := c.store.DeleteEntry(ctx, id); err != nil {
		return err
	}
	c.log.Info("catalog entry removed", zap.String("catalog_id", id))
	return nil
}

func (c *Cache) refresh(ctx context.Context, id string, existing *models.CatalogEntry) (*models.CatalogEntry, error) {
	record, err := c.registry.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}
	return c.merge(ctx, id, record, existing)
}

// merge resolves the record's content and persists a fresh entry.
func (c *Cache) merge(ctx context.Context, id string, record *registry.Record, existing *models.CatalogEntry) (*models.CatalogEntry, error) {
	now := c.now()
	entry := &models.CatalogEntry{
		CatalogID:     id,
		RegistryID:    record.ID,
		Price:         record.Price,
		Seller:        record.Seller,
		Active:        record.Active,
		Category:      record.Category,
		SourceHash:    record.ContentHash,
		CachedAt:      now,
		TTLExpiresAt:  now.Add(c.ttl),
		LastKnownGood: true,
	}
	if existing != nil {
		entry.CreatedAt = existing.CreatedAt
	}

	keptPointer := false
	if !models.IsPlaceholderHash(record.ContentHash) {
		var err error
		if keptPointer, err = c.resolveContent(ctx, entry, existing); err != nil {
			return nil, err
		}
	}

	if !keptPointer {
		if err := c.store.UpsertEntry(ctx, entry); err != nil {
			return nil, fmt.Errorf("persist entry %s: %w", id, err)
		}
		return entry, nil
	}

	if err := c.store.UpsertEntryKeepingPointer(ctx, entry); err != nil {
		return nil, fmt.Errorf("persist entry %s: %w", id, err)
	}
	if current, found, err := c.store.GetEntry(ctx, id); err == nil && found {
		return current, nil
	}
	return entry, nil
}

// resolveContent fills the content pointer and metadata. When the registry
// still publishes the hash we saw before, the current pointer is kept since
// migration or resubmission may have moved it; kept reports that case, and
// the caller must then not overwrite the stored pointer.
func (c *Cache) resolveContent(ctx context.Context, entry, existing *models.CatalogEntry) (kept bool, err error) {
	if existing != nil && existing.SourceHash == entry.SourceHash && existing.HasContent() {
		store, err := c.stores.Store(existing.ContentProvider)
		if err != nil {
			return false, err
		}
		doc, err := store.Fetch(ctx, existing.ContentHash)
		if err != nil {
			return false, err
		}
		entry.ContentHash = existing.ContentHash
		entry.ContentProvider = existing.ContentProvider
		entry.DurableHash = existing.DurableHash
		entry.ContentUploadedAt = existing.ContentUploadedAt
		return true, setMetadata(entry, doc)
	}

	doc, provider, err := c.fetchPublished(ctx, entry.SourceHash)
	if err != nil {
		return false, err
	}
	entry.ContentHash = entry.SourceHash
	entry.ContentProvider = provider
	if provider == storage.ProviderDurable {
		entry.DurableHash = entry.SourceHash
	}

	uploadedAt := c.now()
	if record, ok, err := c.store.LatestContentRecord(ctx, entry.SourceHash); err == nil && ok {
		uploadedAt = record.UploadedAt
	}
	entry.ContentUploadedAt = &uploadedAt
	return false, setMetadata(entry, doc)
}

// fetchPublished reads a registry-published hash from the active backend,
// falling back to the other implemented backend when the active one is unavailable.
func (c *Cache) fetchPublished(ctx context.Context, hash string) (*storage.Document, string, error) {
	active := c.stores.ActiveProvider(ctx)
	order := []string{active, otherProvider(active)}

	var firstErr error
	for _, provider := range order {
		store, err := c.stores.Store(provider)
		if err != nil || !storage.IsImplemented(store) {
			continue
		}
		doc, err := store.Fetch(ctx, hash)
		if err == nil {
			return doc, provider, nil
		}
		if firstErr == nil {
			firstErr = err
		}
		if !errors.Is(err, apperrors.ErrStorageUnavailable) {
			break
		}
	}
	if firstErr == nil {
		firstErr = apperrors.ErrProviderNotImplemented.WithMessage("no storage provider available")
	}
	return nil, "", firstErr
}

func otherProvider(provider string) string {
	if provider == storage.ProviderEphemeral {
		return storage.ProviderDurable
	}
	return storage.ProviderEphemeral
}

func setMetadata(entry *models.CatalogEntry, doc *storage.Document) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	entry.Metadata = datatypes.JSON(payload)
	if doc.Product != nil && entry.Category == "" {
		entry.Category = doc.Product.Category
	}
	return nil
}

func (c *Cache) toProduct(entry *models.CatalogEntry) *Product {
	var url string
	if entry.HasContent() {
		if store, err := c.stores.Store(entry.ContentProvider); err == nil {
			url = store.ContentURL(entry.ContentHash)
		}
	}
	return productFromEntry(entry, url)
}
