package catalog

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/charlesng35/ledgercat/internal/app/maintenance"
	"github.com/charlesng35/ledgercat/internal/monitoring"
	"github.com/charlesng35/ledgercat/internal/registry"
)

const (
	syncJobName            = "catalog_sync"
	defaultSyncConcurrency = 4
	defaultSyncPageSize    = 100
)

// SyncResult summarises one full pass.
type SyncResult struct {
	Synced   int           `json:"synced"`
	Errors   int           `json:"errors"`
	Duration time.Duration `json:"duration"`
}

// Synchronizer walks the whole registry and upserts every entry regardless of TTL.
type Synchronizer struct {
	cache       *Cache
	registry    registry.Registry
	concurrency int
	pageSize    int
	log         *zap.Logger
	loop        *maintenance.Loop
}

// SyncOption customises a Synchronizer.
type SyncOption func(*Synchronizer)

// WithConcurrency bounds parallel item refreshes.
func WithConcurrency(n int) SyncOption {
	return func(s *Synchronizer) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithPageSize sets the registry page size.
func WithPageSize(n int) SyncOption {
	return func(s *Synchronizer) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// WithSyncLogger overrides the logger.
func WithSyncLogger(log *zap.Logger) SyncOption {
	return func(s *Synchronizer) {
		if log != nil {
			s.log = log
		}
	}
}

// WithLoopOptions passes options to the underlying background loop.
func WithLoopOptions(opts ...maintenance.Option) SyncOption {
	return func(s *Synchronizer) {
		s.loop = maintenance.NewLoop(syncJobName, s.job, opts...)
	}
}

// NewSynchronizer builds a stopped synchronizer over cache.
func NewSynchronizer(cache *Cache, opts ...SyncOption) *Synchronizer {
	s := &Synchronizer{
		cache:       cache,
		registry:    cache.registry,
		concurrency: defaultSyncConcurrency,
		pageSize:    defaultSyncPageSize,
		log:         cache.log,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.loop == nil {
		s.loop = maintenance.NewLoop(syncJobName, s.job)
	}
	return s
}

// Start runs a pass now and then every interval.
func (s *Synchronizer) Start(interval time.Duration) error {
	return s.loop.Start(interval)
}

// Stop unschedules the loop; the returned context is done when a pass in progress finishes.
func (s *Synchronizer) Stop() context.Context {
	return s.loop.Stop()
}

func (s *Synchronizer) job(ctx context.Context) error {
	_, err := s.SyncNow(ctx)
	return err
}

// SyncNow refreshes every registry entry. Item failures are counted and
// logged; only a failure to enumerate the registry is returned.
func (s *Synchronizer) SyncNow(ctx context.Context) (SyncResult, error) {
	start := time.Now()
	records, err := registry.ListAll(ctx, s.registry, s.pageSize)
	if err != nil {
		return SyncResult{Duration: time.Since(start)}, err
	}

	var synced, failed atomic.Int64
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.concurrency)

	for i := range records {
		if groupCtx.Err() != nil {
			break
		}
		record := records[i]
		group.Go(func() error {
			if err := s.syncOne(groupCtx, &record); err != nil {
				failed.Add(1)
				monitoring.RecordSyncItem("failure")
				s.log.Warn("catalog sync item failed", zap.String("catalog_id", record.ID), zap.Error(err))
				return nil
			}
			synced.Add(1)
			monitoring.RecordSyncItem("success")
			return nil
		})
	}
	_ = group.Wait()

	result := SyncResult{
		Synced:   int(synced.Load()),
		Errors:   int(failed.Load()),
		Duration: time.Since(start),
	}
	s.log.Info("catalog sync complete",
		zap.Int("total", len(records)),
		zap.Int("synced", result.Synced),
		zap.Int("errors", result.Errors),
		zap.Duration("duration", result.Duration),
	)
	if err := ctx.Err(); err != nil {
		return result, err
	}
	return result, nil
}

func (s *Synchronizer) syncOne(ctx context.Context, record *registry.Record) error {
	if record.ID == "" {
		return errors.New("registry record without id")
	}
	existing, _, err := s.cache.store.GetEntry(ctx, record.ID)
	if err != nil {
		return err
	}
	_, err = s.cache.merge(ctx, record.ID, record, existing)
	return err
}
