package migration_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/ledgercat/internal/cache"
	testutil "github.com/charlesng35/ledgercat/internal/database/testutil"
	"github.com/charlesng35/ledgercat/internal/migration"
	"github.com/charlesng35/ledgercat/internal/models"
	"github.com/charlesng35/ledgercat/internal/storage"
	"github.com/charlesng35/ledgercat/internal/storage/storagetest"
	apperrors "github.com/charlesng35/ledgercat/pkg/errors"
)

type fixture struct {
	store     *cache.DatabaseStore
	ephemeral *storagetest.MemoryStore
	durable   *storagetest.MemoryStore
	engine    *migration.Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	store := cache.NewDatabaseStore(db)
	return &fixture{
		store:     store,
		ephemeral: storagetest.NewMemoryStore(storage.ProviderEphemeral),
		durable:   storagetest.NewMemoryStore(storage.ProviderDurable),
		engine:    migration.NewEngine(store),
	}
}

func (f *fixture) seed(t *testing.T, n int) map[string]string {
	t.Helper()
	hashes := map[string]string{}
	now := time.Now()
	for i := range n {
		id := fmt.Sprintf("p%02d", i)
		hash := f.ephemeral.Put(storage.NewProductDocument(storage.ProductMetadata{
			ID:     id,
			Name:   "Item " + id,
			Images: []string{"https://img.example.com/" + id + ".png"},
		}))
		require.NoError(t, f.store.UpsertEntry(context.Background(), &models.CatalogEntry{
			CatalogID:       id,
			ContentHash:     hash,
			SourceHash:      hash,
			ContentProvider: storage.ProviderEphemeral,
			CachedAt:        now,
			TTLExpiresAt:    now.Add(time.Minute),
		}))
		hashes[id] = hash
	}
	return hashes
}

func TestMigrateAllProcessesFixedBatches(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 25)

	batches := map[int]bool{}
	var reports int
	final, err := f.engine.MigrateAll(context.Background(), f.ephemeral, f.durable, migration.Options{BatchSize: 10},
		func(p migration.Progress) {
			reports++
			require.Equal(t, 25, p.Total)
			if !p.Done {
				require.Equal(t, reports, p.Processed())
			}
			batches[p.Batch] = true
		})
	require.NoError(t, err)
	require.Len(t, batches, 3)
	require.Equal(t, 3, final.Batches)
	require.Equal(t, 26, reports)
	require.True(t, final.Done)
	require.Equal(t, 25, final.Migrated)
	require.Equal(t, final.Total, final.Processed())

	entries, err := f.store.ListEntries(context.Background(), cache.EntryFilter{Provider: storage.ProviderDurable})
	require.NoError(t, err)
	require.Len(t, entries, 25)
	for _, entry := range entries {
		require.True(t, f.durable.Has(entry.ContentHash))
		require.Equal(t, entry.ContentHash, entry.DurableHash)
		require.NotNil(t, entry.ContentUploadedAt)
	}
}

func TestMigrateAllDryRunChangesNothing(t *testing.T) {
	f := newFixture(t)
	hashes := f.seed(t, 12)

	final, err := f.engine.MigrateAll(context.Background(), f.ephemeral, f.durable, migration.Options{BatchSize: 5, DryRun: true}, nil)
	require.NoError(t, err)
	require.Equal(t, 12, final.Migrated)
	require.True(t, final.DryRun)
	require.Zero(t, f.durable.Uploads())
	require.Equal(t, 12, f.ephemeral.Fetches())

	entries, err := f.store.ListEntries(context.Background(), cache.EntryFilter{})
	require.NoError(t, err)
	for _, entry := range entries {
		require.Equal(t, hashes[entry.CatalogID], entry.ContentHash)
		require.Equal(t, storage.ProviderEphemeral, entry.ContentProvider)
	}
}

func TestMigrateAllIsolatesItemFailures(t *testing.T) {
	f := newFixture(t)
	hashes := f.seed(t, 4)
	f.ephemeral.FailFetch(hashes["p01"], apperrors.ErrStorageUnavailable)

	// Already on the destination: skipped.
	require.NoError(t, f.store.UpdateContentPointer(context.Background(), "p03", cache.ContentPointer{
		Hash:       f.durable.Put(storage.NewProductDocument(storage.ProductMetadata{ID: "p03", Name: "Item p03"})),
		Provider:   storage.ProviderDurable,
		UploadedAt: time.Now(),
	}))

	final, err := f.engine.MigrateAll(context.Background(), f.ephemeral, f.durable, migration.Options{}, nil)
	require.NoError(t, err)
	require.Equal(t, 2, final.Migrated)
	require.Equal(t, 1, final.Failed)
	require.Equal(t, 1, final.Skipped)

	entry, _, err := f.store.GetEntry(context.Background(), "p01")
	require.NoError(t, err)
	require.Equal(t, hashes["p01"], entry.ContentHash)
}

func TestMigrateAllRefusesUnimplementedDestination(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 2)

	_, err := f.engine.MigrateAll(context.Background(), f.ephemeral, storage.NewUnimplementedStore(storage.ProviderDurable), migration.Options{}, nil)
	require.ErrorIs(t, err, apperrors.ErrProviderNotImplemented)
	require.Zero(t, f.ephemeral.Fetches())
}

func TestMigrateAllRejectsSameProvider(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.MigrateAll(context.Background(), f.ephemeral, storagetest.NewMemoryStore(storage.ProviderEphemeral), migration.Options{}, nil)
	require.ErrorIs(t, err, apperrors.ErrBadRequest)
}

func TestVerify(t *testing.T) {
	f := newFixture(t)
	doc := storage.NewProductDocument(storage.ProductMetadata{ID: "p1", Name: "Widget", Images: []string{"a.png"}})
	oldHash := f.ephemeral.Put(doc)
	newHash := f.durable.Put(doc)

	require.True(t, f.engine.Verify(context.Background(), oldHash, newHash, f.ephemeral, f.durable))

	f.durable.Replace(newHash, storage.NewProductDocument(storage.ProductMetadata{ID: "p1", Name: "Widget", Images: []string{"b.png"}}))
	require.False(t, f.engine.Verify(context.Background(), oldHash, newHash, f.ephemeral, f.durable))
	require.False(t, f.engine.Verify(context.Background(), oldHash, "missing", f.ephemeral, f.durable))
}

func TestMigrateAllVerifyMismatchKeepsPointer(t *testing.T) {
	f := newFixture(t)
	hashes := f.seed(t, 1)

	corrupting := &corruptingStore{MemoryStore: f.durable}
	final, err := f.engine.MigrateAll(context.Background(), f.ephemeral, corrupting, migration.Options{Verify: true}, nil)
	require.NoError(t, err)
	require.Equal(t, 1, final.Failed)

	entry, _, err := f.store.GetEntry(context.Background(), "p00")
	require.NoError(t, err)
	require.Equal(t, hashes["p00"], entry.ContentHash)
}

func TestMigrateAllVerifyReadsPastContentCache(t *testing.T) {
	f := newFixture(t)
	hashes := f.seed(t, 1)

	source, err := storage.NewCachingStore(f.ephemeral, 16)
	require.NoError(t, err)
	destination, err := storage.NewCachingStore(f.durable, 16)
	require.NoError(t, err)
	f.durable.SetFetchError(apperrors.ErrStorageUnavailable)

	final, err := f.engine.MigrateAll(context.Background(), source, destination, migration.Options{Verify: true}, nil)
	require.NoError(t, err)
	require.Equal(t, 0, final.Migrated)
	require.Equal(t, 1, final.Failed)
	require.Positive(t, f.durable.Fetches())

	entry, _, err := f.store.GetEntry(context.Background(), "p00")
	require.NoError(t, err)
	require.Equal(t, hashes["p00"], entry.ContentHash)
	require.Equal(t, storage.ProviderEphemeral, entry.ContentProvider)
}

func TestMigrateAllPausesAfterEachBatch(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 3)

	const (
		fetchDelay = 40 * time.Millisecond
		batchDelay = 30 * time.Millisecond
	)
	slow := &slowStore{MemoryStore: f.ephemeral, delay: fetchDelay}

	start := time.Now()
	final, err := f.engine.MigrateAll(context.Background(), slow, f.durable, migration.Options{
		BatchSize:  1,
		BatchDelay: batchDelay,
	}, nil)
	require.NoError(t, err)
	require.Equal(t, 3, final.Migrated)
	require.GreaterOrEqual(t, time.Since(start), 3*fetchDelay+2*batchDelay)
}

func TestMigrateAllBatchDelayHonoursCancellation(t *testing.T) {
	f := newFixture(t)
	f.seed(t, 2)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	final, err := f.engine.MigrateAll(ctx, f.ephemeral, f.durable, migration.Options{
		BatchSize:  1,
		BatchDelay: time.Hour,
	}, nil)
	require.Error(t, err)
	require.Equal(t, 1, final.Migrated)
}

// slowStore delays every fetch.
type slowStore struct {
	*storagetest.MemoryStore
	delay time.Duration
}

func (s *slowStore) Fetch(ctx context.Context, hash string) (*storage.Document, error) {
	time.Sleep(s.delay)
	return s.MemoryStore.Fetch(ctx, hash)
}

// corruptingStore acknowledges uploads but stores a different name.
type corruptingStore struct {
	*storagetest.MemoryStore
}

func (c *corruptingStore) Upload(ctx context.Context, doc *storage.Document) (*storage.UploadResult, error) {
	bad := doc.Clone()
	bad.Product.Name = "corrupted"
	return c.MemoryStore.Upload(ctx, bad)
}
