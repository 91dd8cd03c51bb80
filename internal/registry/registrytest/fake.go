// Package registrytest provides an in-memory registry for tests.
package registrytest

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/charlesng35/ledgercat/internal/registry"
	apperrors "github.com/charlesng35/ledgercat/pkg/errors"
)

// Fake is a registry.Registry backed by a map.
type Fake struct {
	mu      sync.Mutex
	records map[string]registry.Record
	err     error
	delay   time.Duration
	calls   int
}

// NewFake returns a registry holding records.
func NewFake(records ...registry.Record) *Fake {
	f := &Fake{records: map[string]registry.Record{}}
	for _, r := range records {
		f.records[r.ID] = r
	}
	return f
}

// Set inserts or replaces a record.
func (f *Fake) Set(record registry.Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[record.ID] = record
}

// SetError makes every call fail with err (nil restores).
func (f *Fake) SetError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.err = err
}

// SetDelay slows GetProduct to widen race windows in tests.
func (f *Fake) SetDelay(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.delay = d
}

// Calls reports GetProduct invocations.
func (f *Fake) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func (f *Fake) GetProduct(ctx context.Context, id string) (*registry.Record, error) {
	f.mu.Lock()
	f.calls++
	delay, err := f.delay, f.err
	record, ok := f.records[id]
	f.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, apperrors.ErrNotFound.WithMessage("product %s not found", id)
	}
	return &record, nil
}

func (f *Fake) ListPage(_ context.Context, offset, limit int) ([]registry.Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	ids := make([]string, 0, len(f.records))
	for id := range f.records {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var page []registry.Record
	for i := offset; i < len(ids) && len(page) < limit; i++ {
		page = append(page, f.records[ids[i]])
	}
	return page, nil
}

func (f *Fake) TotalCount(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	return len(f.records), nil
}

var _ registry.Registry = (*Fake)(nil)
