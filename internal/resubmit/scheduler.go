// Package resubmit renews ephemeral content before its TTL lapses.
package resubmit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/ledgercat/internal/app/maintenance"
	"github.com/charlesng35/ledgercat/internal/cache"
	"github.com/charlesng35/ledgercat/internal/models"
	"github.com/charlesng35/ledgercat/internal/monitoring"
	"github.com/charlesng35/ledgercat/internal/storage"
	"github.com/charlesng35/ledgercat/pkg/logger"
)

const (
	jobName                   = "resubmission"
	defaultExpiringSoonWindow = 24 * time.Hour
)

// Result summarises one CheckAndResubmit pass.
type Result struct {
	Checked     int `json:"checked"`
	Resubmitted int `json:"resubmitted"`
	Failed      int `json:"failed"`
	Skipped     int `json:"skipped"`
}

// Stats describes the ephemeral-backed portion of the catalog.
type Stats struct {
	Total           int `json:"total"`
	NeedingResubmit int `json:"needing_resubmit"`
	ExpiringSoon    int `json:"expiring_soon"`
	Expired         int `json:"expired"`
	Healthy         int `json:"healthy"`
}

// Scheduler re-uploads ephemeral content, sourcing bytes from the durable
// backend, and swaps the entry's pointer only after the upload succeeded.
type Scheduler struct {
	store     cache.Store
	durable   storage.ContentStore
	ephemeral storage.ExpiringStore
	window    time.Duration
	log       *zap.Logger
	loop      *maintenance.Loop
	loopOpts  []maintenance.Option
}

// Option customises a Scheduler.
type Option func(*Scheduler)

// WithExpiringSoonWindow sets how close to expiry an entry counts as expiring soon.
func WithExpiringSoonWindow(d time.Duration) Option {
	return func(s *Scheduler) {
		if d > 0 {
			s.window = d
		}
	}
}

// WithLoopOptions passes options to the background loop.
func WithLoopOptions(opts ...maintenance.Option) Option {
	return func(s *Scheduler) {
		s.loopOpts = append(s.loopOpts, opts...)
	}
}

// NewScheduler builds a stopped scheduler. ephemeral must expose TTL bookkeeping.
func NewScheduler(store cache.Store, durable storage.ContentStore, ephemeral storage.ContentStore, opts ...Option) (*Scheduler, error) {
	if store == nil {
		return nil, errors.New("resubmit: cache store is required")
	}
	expiring, ok := storage.AsExpiring(ephemeral)
	if !ok {
		return nil, errors.New("resubmit: ephemeral store does not track TTL")
	}
	if durable == nil {
		durable = storage.NewUnimplementedStore(storage.ProviderDurable)
	}

	s := &Scheduler{
		store:     store,
		durable:   durable,
		ephemeral: expiring,
		window:    defaultExpiringSoonWindow,
		log:       logger.WithModule("resubmit"),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.loop = maintenance.NewLoop(jobName, s.job, s.loopOpts...)
	return s, nil
}

// Start runs a pass now and then every interval.
func (s *Scheduler) Start(interval time.Duration) error {
	return s.loop.Start(interval)
}

// Stop unschedules the loop; the returned context is done when a pass in progress finishes.
func (s *Scheduler) Stop() context.Context {
	return s.loop.Stop()
}

func (s *Scheduler) job(ctx context.Context) error {
	_, err := s.CheckAndResubmit(ctx)
	return err
}

// CheckAndResubmit renews every ephemeral entry past the resubmission
// threshold. Item failures are logged and skipped.
func (s *Scheduler) CheckAndResubmit(ctx context.Context) (Result, error) {
	entries, err := s.store.ListEntries(ctx, cache.EntryFilter{Provider: storage.ProviderEphemeral, WithContent: true})
	if err != nil {
		return Result{}, fmt.Errorf("list ephemeral entries: %w", err)
	}

	var result Result
	for i := range entries {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		entry := &entries[i]
		result.Checked++

		uploadedAt := s.uploadedAt(ctx, entry)
		if !s.ephemeral.NeedsResubmission(uploadedAt) {
			result.Skipped++
			continue
		}

		if err := s.resubmit(ctx, entry); err != nil {
			result.Failed++
			monitoring.RecordResubmission("failure")
			s.log.Warn("resubmission failed",
				zap.String("catalog_id", entry.CatalogID),
				zap.String("hash", entry.ContentHash),
				zap.Error(err),
			)
			continue
		}
		result.Resubmitted++
		monitoring.RecordResubmission("success")
	}

	s.log.Info("resubmission pass complete",
		zap.Int("checked", result.Checked),
		zap.Int("resubmitted", result.Resubmitted),
		zap.Int("failed", result.Failed),
	)
	return result, nil
}

func (s *Scheduler) resubmit(ctx context.Context, entry *models.CatalogEntry) error {
	doc, err := s.source(ctx, entry)
	if err != nil {
		return fmt.Errorf("read source: %w", err)
	}

	upload, err := s.ephemeral.Upload(ctx, doc)
	if err != nil {
		return fmt.Errorf("upload: %w", err)
	}

	// The hash may rotate on re-upload, so the pointer is always rewritten.
	if err := s.store.UpdateContentPointer(ctx, entry.CatalogID, cache.ContentPointer{
		Hash:       upload.Hash,
		Provider:   storage.ProviderEphemeral,
		UploadedAt: upload.UploadedAt,
	}); err != nil {
		return fmt.Errorf("update pointer: %w", err)
	}
	if err := s.store.RecordContent(ctx, upload.Record(entry.CatalogID)); err != nil {
		s.log.Warn("failed to record resubmitted content", zap.String("hash", upload.Hash), zap.Error(err))
	}

	if upload.Hash != entry.ContentHash {
		s.log.Info("ephemeral hash rotated on resubmission",
			zap.String("catalog_id", entry.CatalogID),
			zap.String("old_hash", entry.ContentHash),
			zap.String("new_hash", upload.Hash),
		)
	}
	return nil
}

// source prefers the durable copy. Without one, the still-live ephemeral copy is re-read.
func (s *Scheduler) source(ctx context.Context, entry *models.CatalogEntry) (*storage.Document, error) {
	if entry.DurableHash != "" && storage.IsImplemented(s.durable) {
		doc, err := s.durable.Fetch(ctx, entry.DurableHash)
		if err == nil {
			return doc, nil
		}
		s.log.Warn("durable source unavailable, reading ephemeral copy",
			zap.String("catalog_id", entry.CatalogID),
			zap.String("durable_hash", entry.DurableHash),
			zap.Error(err),
		)
	}
	return s.ephemeral.Fetch(ctx, entry.ContentHash)
}

func (s *Scheduler) uploadedAt(ctx context.Context, entry *models.CatalogEntry) time.Time {
	if entry.ContentUploadedAt != nil && !entry.ContentUploadedAt.IsZero() {
		return *entry.ContentUploadedAt
	}
	if record, ok, err := s.store.LatestContentRecord(ctx, entry.ContentHash); err == nil && ok {
		return record.UploadedAt
	}
	return entry.CachedAt
}

// Stats classifies every ephemeral entry by how close it is to expiry.
func (s *Scheduler) Stats(ctx context.Context) (Stats, error) {
	entries, err := s.store.ListEntries(ctx, cache.EntryFilter{Provider: storage.ProviderEphemeral, WithContent: true})
	if err != nil {
		return Stats{}, fmt.Errorf("list ephemeral entries: %w", err)
	}

	stats := Stats{Total: len(entries)}
	for i := range entries {
		uploadedAt := s.uploadedAt(ctx, &entries[i])
		untilExpiry := s.ephemeral.TimeUntilExpiry(uploadedAt)

		switch {
		case untilExpiry == 0:
			stats.Expired++
		case untilExpiry <= s.window:
			stats.ExpiringSoon++
		}
		if untilExpiry > 0 && s.ephemeral.NeedsResubmission(uploadedAt) {
			stats.NeedingResubmit++
		}
		if untilExpiry > s.window && !s.ephemeral.NeedsResubmission(uploadedAt) {
			stats.Healthy++
		}
	}
	return stats, nil
}
