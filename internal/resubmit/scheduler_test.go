package resubmit_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/charlesng35/ledgercat/internal/cache"
	testutil "github.com/charlesng35/ledgercat/internal/database/testutil"
	"github.com/charlesng35/ledgercat/internal/models"
	"github.com/charlesng35/ledgercat/internal/resubmit"
	"github.com/charlesng35/ledgercat/internal/storage"
	"github.com/charlesng35/ledgercat/internal/storage/storagetest"
	apperrors "github.com/charlesng35/ledgercat/pkg/errors"
)

const day = 24 * time.Hour

var now = time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)

type fixture struct {
	store     *cache.DatabaseStore
	durable   *storagetest.MemoryStore
	ephemeral *storagetest.ExpiringMemoryStore
	scheduler *resubmit.Scheduler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	f := &fixture{
		store:     cache.NewDatabaseStore(db),
		durable:   storagetest.NewMemoryStore(storage.ProviderDurable),
		ephemeral: storagetest.NewExpiringMemoryStore(14*day, 10*day, func() time.Time { return now }),
	}
	scheduler, err := resubmit.NewScheduler(f.store, f.durable, f.ephemeral)
	require.NoError(t, err)
	f.scheduler = scheduler
	return f
}

// seed stores an entry whose ephemeral copy was uploaded age ago.
func (f *fixture) seed(t *testing.T, id string, age time.Duration, withDurable bool) *models.CatalogEntry {
	t.Helper()
	doc := storage.NewProductDocument(storage.ProductMetadata{ID: id, Name: "Item " + id})
	uploadedAt := now.Add(-age)
	entry := &models.CatalogEntry{
		CatalogID:         id,
		RegistryID:        id,
		Price:             "1",
		ContentHash:       f.ephemeral.Put(doc),
		ContentProvider:   storage.ProviderEphemeral,
		ContentUploadedAt: &uploadedAt,
		CachedAt:          now,
		TTLExpiresAt:      now.Add(5 * time.Minute),
		LastKnownGood:     true,
	}
	entry.SourceHash = entry.ContentHash
	if withDurable {
		entry.DurableHash = f.durable.Put(doc)
	}
	require.NoError(t, f.store.UpsertEntry(context.Background(), entry))
	return entry
}

func TestCheckAndResubmitRenewsOldContent(t *testing.T) {
	f := newFixture(t)
	old := f.seed(t, "p1", 11*day, true)
	f.seed(t, "p2", 5*day, true)

	result, err := f.scheduler.CheckAndResubmit(context.Background())
	require.NoError(t, err)
	require.Equal(t, 2, result.Checked)
	require.Equal(t, 1, result.Resubmitted)
	require.Equal(t, 1, result.Skipped)
	require.Zero(t, result.Failed)
	require.Equal(t, 1, f.durable.Fetches())

	entry, _, err := f.store.GetEntry(context.Background(), "p1")
	require.NoError(t, err)
	require.NotEqual(t, old.ContentHash, entry.ContentHash)
	require.Equal(t, now, entry.ContentUploadedAt.UTC())
	require.Equal(t, old.DurableHash, entry.DurableHash)

	record, ok, err := f.store.LatestContentRecord(context.Background(), entry.ContentHash)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, record.TTLSeconds)
	require.EqualValues(t, (14 * day).Seconds(), *record.TTLSeconds)
}

func TestCheckAndResubmitKeepsPointerOnUploadFailure(t *testing.T) {
	f := newFixture(t)
	old := f.seed(t, "p1", 12*day, true)
	f.ephemeral.SetUploadError(apperrors.ErrUploadFailed)

	result, err := f.scheduler.CheckAndResubmit(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, result.Failed)

	entry, _, err := f.store.GetEntry(context.Background(), "p1")
	require.NoError(t, err)
	require.Equal(t, old.ContentHash, entry.ContentHash)
	require.Equal(t, old.ContentUploadedAt.UTC(), entry.ContentUploadedAt.UTC())
}

func TestCheckAndResubmitContinuesPastFailures(t *testing.T) {
	f := newFixture(t)
	broken := f.seed(t, "p1", 11*day, true)
	f.seed(t, "p2", 11*day, true)
	f.durable.FailFetch(broken.DurableHash, apperrors.ErrStorageUnavailable)
	f.ephemeral.FailFetch(broken.ContentHash, apperrors.ErrStorageUnavailable)

	result, err := f.scheduler.CheckAndResubmit(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, result.Failed)
	require.Equal(t, 1, result.Resubmitted)
}

func TestCheckAndResubmitFallsBackToEphemeralCopy(t *testing.T) {
	f := newFixture(t)
	old := f.seed(t, "p1", 11*day, false)

	result, err := f.scheduler.CheckAndResubmit(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, result.Resubmitted)
	require.Zero(t, f.durable.Fetches())

	entry, _, err := f.store.GetEntry(context.Background(), "p1")
	require.NoError(t, err)
	require.NotEqual(t, old.ContentHash, entry.ContentHash)
}

func TestCheckAndResubmitIgnoresDurableEntries(t *testing.T) {
	f := newFixture(t)
	uploadedAt := now.Add(-30 * day)
	require.NoError(t, f.store.UpsertEntry(context.Background(), &models.CatalogEntry{
		CatalogID:         "d1",
		ContentHash:       "durable-0001",
		ContentProvider:   storage.ProviderDurable,
		ContentUploadedAt: &uploadedAt,
		CachedAt:          now,
		TTLExpiresAt:      now,
	}))

	result, err := f.scheduler.CheckAndResubmit(context.Background())
	require.NoError(t, err)
	require.Zero(t, result.Checked)
}

func TestStats(t *testing.T) {
	f := newFixture(t)
	f.seed(t, "healthy", 2*day, true)
	f.seed(t, "due", 11*day, true)
	f.seed(t, "soon", 13*day+12*time.Hour, true)
	f.seed(t, "expired", 15*day, true)

	stats, err := f.scheduler.Stats(context.Background())
	require.NoError(t, err)
	require.Equal(t, resubmit.Stats{
		Total:           4,
		NeedingResubmit: 2,
		ExpiringSoon:    1,
		Expired:         1,
		Healthy:         1,
	}, stats)
}

func TestNewSchedulerRequiresExpiringStore(t *testing.T) {
	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	_, err := resubmit.NewScheduler(cache.NewDatabaseStore(db), nil, storagetest.NewMemoryStore(storage.ProviderEphemeral))
	require.Error(t, err)
}
