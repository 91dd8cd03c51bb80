package storage

import (
	"context"
	"fmt"

	lru "github.com/hashicorp/golang-lru/v2"
)

const defaultContentCacheSize = 1024

// CachingStore keeps recently fetched documents in memory keyed by hash.
// Only documents the backend actually served are cached, so a hit proves the
// backend held the content at least once. Wrap permanent backends only: an
// expiring backend may purge content the cache still holds.
type CachingStore struct {
	inner ContentStore
	cache *lru.Cache[string, *Document]
}

// NewCachingStore wraps inner with an LRU of size entries.
func NewCachingStore(inner ContentStore, size int) (*CachingStore, error) {
	if size <= 0 {
		size = defaultContentCacheSize
	}
	cache, err := lru.New[string, *Document](size)
	if err != nil {
		return nil, fmt.Errorf("create content cache: %w", err)
	}
	return &CachingStore{inner: inner, cache: cache}, nil
}

func (s *CachingStore) Provider() string { return s.inner.Provider() }

// Unwrap returns the wrapped store.
func (s *CachingStore) Unwrap() ContentStore { return s.inner }

func (s *CachingStore) Upload(ctx context.Context, doc *Document) (*UploadResult, error) {
	return s.inner.Upload(ctx, doc)
}

func (s *CachingStore) Fetch(ctx context.Context, hash string) (*Document, error) {
	if cached, ok := s.cache.Get(hash); ok {
		return cached.Clone(), nil
	}
	doc, err := s.inner.Fetch(ctx, hash)
	if err != nil {
		return nil, err
	}
	s.cache.Add(hash, doc.Clone())
	return doc, nil
}

// IsAvailable always asks the backend; a cached copy says nothing about expiry.
func (s *CachingStore) IsAvailable(ctx context.Context, hash string) bool {
	return s.inner.IsAvailable(ctx, hash)
}

func (s *CachingStore) ContentURL(hash string) string {
	return s.inner.ContentURL(hash)
}

// Uncached strips read caches from store so the backend itself answers.
// Other decorators are kept.
func Uncached(store ContentStore) ContentStore {
	for {
		caching, ok := store.(*CachingStore)
		if !ok {
			return store
		}
		store = caching.inner
	}
}

// Len reports the number of cached documents.
func (s *CachingStore) Len() int {
	return s.cache.Len()
}
