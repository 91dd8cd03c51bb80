// Package migration copies catalog content from one storage backend to another.
package migration

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/charlesng35/ledgercat/internal/cache"
	"github.com/charlesng35/ledgercat/internal/models"
	"github.com/charlesng35/ledgercat/internal/monitoring"
	"github.com/charlesng35/ledgercat/internal/storage"
	apperrors "github.com/charlesng35/ledgercat/pkg/errors"
	"github.com/charlesng35/ledgercat/pkg/logger"
)

const (
	DefaultBatchSize  = 10
	DefaultBatchDelay = time.Second
)

// Options tunes a migration run.
type Options struct {
	BatchSize  int           `json:"batch_size"`
	DryRun     bool          `json:"dry_run"`
	BatchDelay time.Duration `json:"batch_delay"`
	// Verify compares the copy against the source before the pointer moves.
	Verify bool `json:"verify"`
}

// Progress is reported after every item. Migrated+Failed+Skipped always
// equals the number of items processed so far.
type Progress struct {
	Total    int    `json:"total"`
	Migrated int    `json:"migrated"`
	Failed   int    `json:"failed"`
	Skipped  int    `json:"skipped"`
	Current  string `json:"current"`
	Batch    int    `json:"batch"`
	Batches  int    `json:"batches"`
	DryRun   bool   `json:"dry_run"`
	Done     bool   `json:"done"`
}

// Processed returns the number of items handled so far.
func (p Progress) Processed() int {
	return p.Migrated + p.Failed + p.Skipped
}

// ProgressFunc receives a copy of the progress after every item.
type ProgressFunc func(Progress)

// Engine migrates entries between ContentStores using the persisted
// pointers as its work queue.
type Engine struct {
	store cache.Store
	log   *zap.Logger
}

// NewEngine builds an engine over store.
func NewEngine(store cache.Store) *Engine {
	return &Engine{store: store, log: logger.WithModule("migration")}
}

// MigrateAll copies every entry whose pointer lives on source to destination.
// Entries already elsewhere are skipped. In dry-run mode items are only
// fetched; nothing is uploaded and no pointer changes.
func (e *Engine) MigrateAll(ctx context.Context, source, destination storage.ContentStore, opts Options, onProgress ProgressFunc) (Progress, error) {
	if err := checkStores(source, destination, opts.DryRun); err != nil {
		return Progress{}, err
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if onProgress == nil {
		onProgress = func(Progress) {}
	}

	entries, err := e.store.ListEntries(ctx, cache.EntryFilter{WithContent: true})
	if err != nil {
		return Progress{}, fmt.Errorf("list entries: %w", err)
	}

	progress := Progress{
		Total:   len(entries),
		Batches: (len(entries) + opts.BatchSize - 1) / opts.BatchSize,
		DryRun:  opts.DryRun,
	}
	e.log.Info("migration started",
		zap.String("source", source.Provider()),
		zap.String("destination", destination.Provider()),
		zap.Int("total", progress.Total),
		zap.Int("batch_size", opts.BatchSize),
		zap.Bool("dry_run", opts.DryRun),
	)

	for start := 0; start < len(entries); start += opts.BatchSize {
		if start > 0 {
			if err := pause(ctx, opts.BatchDelay); err != nil {
				return progress, err
			}
		}
		progress.Batch++
		end := min(start+opts.BatchSize, len(entries))

		for i := start; i < end; i++ {
			entry := &entries[i]
			progress.Current = entry.CatalogID

			outcome := e.migrateOne(ctx, entry, source, destination, opts)
			switch outcome {
			case outcomeMigrated:
				progress.Migrated++
			case outcomeSkipped:
				progress.Skipped++
			default:
				progress.Failed++
			}
			monitoring.RecordMigrationItem(source.Provider(), destination.Provider(), string(outcome))
			onProgress(progress)
		}
		if err := ctx.Err(); err != nil {
			return progress, err
		}
	}

	progress.Done = true
	progress.Current = ""
	onProgress(progress)
	e.log.Info("migration complete",
		zap.Int("migrated", progress.Migrated),
		zap.Int("failed", progress.Failed),
		zap.Int("skipped", progress.Skipped),
		zap.Bool("dry_run", opts.DryRun),
	)
	return progress, nil
}

// pause waits d measured from now, so the gap between two batches is never
// shorter than d however long the previous batch took.
func pause(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	pacer := rate.NewLimiter(rate.Every(d), 1)
	pacer.Allow()
	return pacer.Wait(ctx)
}

type outcome string

const (
	outcomeMigrated outcome = "migrated"
	outcomeFailed   outcome = "failed"
	outcomeSkipped  outcome = "skipped"
)

func (e *Engine) migrateOne(ctx context.Context, entry *models.CatalogEntry, source, destination storage.ContentStore, opts Options) outcome {
	if entry.ContentProvider != source.Provider() {
		return outcomeSkipped
	}
	log := e.log.With(zap.String("catalog_id", entry.CatalogID), zap.String("hash", entry.ContentHash))

	doc, err := source.Fetch(ctx, entry.ContentHash)
	if err != nil {
		log.Warn("migration fetch failed", zap.Error(err))
		return outcomeFailed
	}
	if opts.DryRun {
		return outcomeMigrated
	}

	upload, err := destination.Upload(ctx, doc)
	if err != nil {
		log.Warn("migration upload failed", zap.Error(err))
		return outcomeFailed
	}
	if opts.Verify && !e.Verify(ctx, entry.ContentHash, upload.Hash, source, destination) {
		return outcomeFailed
	}

	ptr := cache.ContentPointer{
		Hash:       upload.Hash,
		Provider:   destination.Provider(),
		UploadedAt: upload.UploadedAt,
	}
	switch {
	case destination.Provider() == storage.ProviderDurable:
		ptr.DurableHash = upload.Hash
	case source.Provider() == storage.ProviderDurable:
		ptr.DurableHash = entry.ContentHash
	}
	if err := e.store.UpdateContentPointer(ctx, entry.CatalogID, ptr); err != nil {
		log.Warn("migration pointer update failed", zap.String("new_hash", upload.Hash), zap.Error(err))
		return outcomeFailed
	}
	if err := e.store.RecordContent(ctx, upload.Record(entry.CatalogID)); err != nil {
		log.Warn("failed to record migrated content", zap.String("new_hash", upload.Hash), zap.Error(err))
	}
	return outcomeMigrated
}

// Verify fetches both copies straight from the backends, bypassing read
// caches, and compares their semantic fields. Raw bytes are not compared
// because backends may re-serialise.
func (e *Engine) Verify(ctx context.Context, oldHash, newHash string, source, destination storage.ContentStore) bool {
	source, destination = storage.Uncached(source), storage.Uncached(destination)

	original, err := source.Fetch(ctx, oldHash)
	if err != nil {
		e.log.Error("verification could not read source", zap.String("hash", oldHash), zap.Error(err))
		return false
	}
	copied, err := destination.Fetch(ctx, newHash)
	if err != nil {
		e.log.Error("verification could not read copy", zap.String("hash", newHash), zap.Error(err))
		return false
	}
	if !original.Semantic().Equal(copied.Semantic()) {
		e.log.Error("verification mismatch",
			zap.String("old_hash", oldHash),
			zap.String("new_hash", newHash),
			zap.Error(apperrors.ErrVerificationMismatch),
		)
		return false
	}
	return true
}

func checkStores(source, destination storage.ContentStore, dryRun bool) error {
	if source == nil || destination == nil {
		return apperrors.ErrBadRequest.WithMessage("source and destination stores are required")
	}
	if source.Provider() == destination.Provider() {
		return apperrors.ErrBadRequest.WithMessage("source and destination are both %q", source.Provider())
	}
	if !storage.IsImplemented(source) {
		return apperrors.ErrProviderNotImplemented.WithMessage("migration source %q is not implemented", source.Provider())
	}
	if !dryRun && !storage.IsImplemented(destination) {
		return apperrors.ErrProviderNotImplemented.WithMessage("migration destination %q is not implemented", destination.Provider())
	}
	return nil
}
