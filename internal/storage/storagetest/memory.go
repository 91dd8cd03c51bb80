// Package storagetest provides in-memory content stores for tests.
package storagetest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/charlesng35/ledgercat/internal/storage"
	apperrors "github.com/charlesng35/ledgercat/pkg/errors"
)

// MemoryStore is a ContentStore backed by a map. Every upload yields a new hash.
type MemoryStore struct {
	provider string

	mu         sync.Mutex
	docs       map[string]*storage.Document
	seq        int
	uploadErr  error
	fetchErr   error
	failHashes map[string]error
	uploads    int
	fetches    int
	now        func() time.Time
}

// NewMemoryStore returns an empty store for provider.
func NewMemoryStore(provider string) *MemoryStore {
	return &MemoryStore{
		provider:   provider,
		docs:       map[string]*storage.Document{},
		failHashes: map[string]error{},
		now:        time.Now,
	}
}

// SetNow overrides the upload timestamp clock.
func (m *MemoryStore) SetNow(now func() time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.now = now
}

// SetUploadError makes every upload fail with err (nil restores).
func (m *MemoryStore) SetUploadError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploadErr = err
}

// SetFetchError makes every fetch fail with err (nil restores).
func (m *MemoryStore) SetFetchError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetchErr = err
}

// FailFetch makes fetches of one hash fail with err.
func (m *MemoryStore) FailFetch(hash string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failHashes[hash] = err
}

// Put stores doc directly and returns its hash.
func (m *MemoryStore) Put(doc *storage.Document) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.putLocked(doc)
}

// Replace overwrites the content behind hash, simulating a corrupt copy.
func (m *MemoryStore) Replace(hash string, doc *storage.Document) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.docs[hash] = doc.Clone()
}

// Has reports whether hash is stored.
func (m *MemoryStore) Has(hash string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.docs[hash]
	return ok
}

// Len reports the number of stored documents.
func (m *MemoryStore) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.docs)
}

// Uploads reports upload attempts.
func (m *MemoryStore) Uploads() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.uploads
}

// Fetches reports fetch attempts.
func (m *MemoryStore) Fetches() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetches
}

func (m *MemoryStore) putLocked(doc *storage.Document) string {
	m.seq++
	hash := fmt.Sprintf("%s-%04d", m.provider, m.seq)
	m.docs[hash] = doc.Clone()
	return hash
}

func (m *MemoryStore) Provider() string { return m.provider }

func (m *MemoryStore) Upload(ctx context.Context, doc *storage.Document) (*storage.UploadResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.ErrUploadFailed.WithInternal(err)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploads++
	if m.uploadErr != nil {
		return nil, m.uploadErr
	}
	hash := m.putLocked(doc)
	return &storage.UploadResult{
		Hash:       hash,
		URL:        "mem://" + m.provider + "/" + hash,
		Provider:   m.provider,
		SizeBytes:  int64(len(doc.Identifier())),
		UploadedAt: m.now(),
	}, nil
}

func (m *MemoryStore) Fetch(ctx context.Context, hash string) (*storage.Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, apperrors.ErrStorageUnavailable.WithInternal(err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetches++
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}
	if err, ok := m.failHashes[hash]; ok {
		return nil, err
	}
	doc, ok := m.docs[hash]
	if !ok {
		return nil, apperrors.ErrStorageUnavailable.WithMessage("%s not found on %s", hash, m.provider)
	}
	return doc.Clone(), nil
}

func (m *MemoryStore) IsAvailable(_ context.Context, hash string) bool {
	return m.Has(hash)
}

func (m *MemoryStore) ContentURL(hash string) string {
	return "mem://" + m.provider + "/" + hash
}

// ExpiringMemoryStore adds TTL bookkeeping to a MemoryStore.
type ExpiringMemoryStore struct {
	*MemoryStore
	ttl       time.Duration
	threshold time.Duration
	clock     func() time.Time
}

// NewExpiringMemoryStore returns an ephemeral-style store using clock for TTL math.
func NewExpiringMemoryStore(ttl, threshold time.Duration, clock func() time.Time) *ExpiringMemoryStore {
	mem := NewMemoryStore(storage.ProviderEphemeral)
	mem.SetNow(clock)
	return &ExpiringMemoryStore{MemoryStore: mem, ttl: ttl, threshold: threshold, clock: clock}
}

func (e *ExpiringMemoryStore) Upload(ctx context.Context, doc *storage.Document) (*storage.UploadResult, error) {
	result, err := e.MemoryStore.Upload(ctx, doc)
	if err != nil {
		return nil, err
	}
	result.TTL = e.ttl
	return result, nil
}

func (e *ExpiringMemoryStore) TTL() time.Duration { return e.ttl }

func (e *ExpiringMemoryStore) ResubmitThreshold() time.Duration { return e.threshold }

func (e *ExpiringMemoryStore) NeedsResubmission(uploadedAt time.Time) bool {
	return e.clock().Sub(uploadedAt) >= e.threshold
}

func (e *ExpiringMemoryStore) TimeUntilExpiry(uploadedAt time.Time) time.Duration {
	return max(uploadedAt.Add(e.ttl).Sub(e.clock()), 0)
}

func (e *ExpiringMemoryStore) TimeUntilResubmission(uploadedAt time.Time) time.Duration {
	return max(uploadedAt.Add(e.threshold).Sub(e.clock()), 0)
}

var (
	_ storage.ContentStore  = (*MemoryStore)(nil)
	_ storage.ExpiringStore = (*ExpiringMemoryStore)(nil)
)
