package registry_test

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/ledgercat/internal/registry"
	apperrors "github.com/charlesng35/ledgercat/pkg/errors"
)

func fastBackoff(retries uint64) registry.Option {
	return registry.WithBackoff(func() backoff.BackOff {
		return backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Millisecond), retries)
	})
}

func newLedger(t *testing.T, total int, failures *atomic.Int32) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /products/count", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]int{"total": total})
	})
	mux.HandleFunc("GET /products/{id}", func(w http.ResponseWriter, r *http.Request) {
		if failures != nil && failures.Load() > 0 {
			failures.Add(-1)
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		id := r.PathValue("id")
		if id == "missing" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(registry.Record{ID: id, Price: "1000000000000000000000", Active: true, ContentHash: "h-" + id})
	})
	mux.HandleFunc("GET /products", func(w http.ResponseWriter, r *http.Request) {
		offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		var items []registry.Record
		for i := offset; i < offset+limit && i < total+5; i++ {
			items = append(items, registry.Record{ID: fmt.Sprintf("p%d", i)})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"items": items, "total": total})
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func TestGetProduct(t *testing.T) {
	t.Parallel()
	server := newLedger(t, 0, nil)
	client, err := registry.NewHTTPClient(registry.Config{BaseURL: server.URL}, nil, fastBackoff(2))
	require.NoError(t, err)

	record, err := client.GetProduct(context.Background(), "p7")
	require.NoError(t, err)
	require.Equal(t, "p7", record.ID)
	require.Equal(t, "h-p7", record.ContentHash)
	require.Equal(t, "1000000000000000000000", record.Price)
}

func TestGetProductNotFoundIsNotRetried(t *testing.T) {
	t.Parallel()
	server := newLedger(t, 0, nil)
	client, err := registry.NewHTTPClient(registry.Config{BaseURL: server.URL}, nil, fastBackoff(2))
	require.NoError(t, err)

	_, err = client.GetProduct(context.Background(), "missing")
	require.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestGetProductRetriesTransientFailures(t *testing.T) {
	t.Parallel()
	var failures atomic.Int32
	failures.Store(2)
	server := newLedger(t, 0, &failures)
	client, err := registry.NewHTTPClient(registry.Config{BaseURL: server.URL}, nil, fastBackoff(3))
	require.NoError(t, err)

	record, err := client.GetProduct(context.Background(), "p1")
	require.NoError(t, err)
	require.Equal(t, "p1", record.ID)
}

func TestUnreachableRegistry(t *testing.T) {
	t.Parallel()
	server := httptest.NewServer(http.NotFoundHandler())
	server.Close()

	client, err := registry.NewHTTPClient(registry.Config{BaseURL: server.URL, Timeout: 100 * time.Millisecond}, nil, fastBackoff(1))
	require.NoError(t, err)

	_, err = client.GetProduct(context.Background(), "p1")
	require.ErrorIs(t, err, apperrors.ErrSourceOfTruthUnreachable)
}

func TestListAllBoundedByTotal(t *testing.T) {
	t.Parallel()
	server := newLedger(t, 23, nil)
	client, err := registry.NewHTTPClient(registry.Config{BaseURL: server.URL}, nil, fastBackoff(0))
	require.NoError(t, err)

	records, err := registry.ListAll(context.Background(), client, 10)
	require.NoError(t, err)
	require.Len(t, records, 23)
	require.Equal(t, "p22", records[22].ID)
}

// inflatedRegistry reports a far larger total than it can page through.
type inflatedRegistry struct {
	records []registry.Record
}

func (r inflatedRegistry) GetProduct(context.Context, string) (*registry.Record, error) {
	return nil, apperrors.ErrNotFound
}

func (r inflatedRegistry) ListPage(_ context.Context, offset, limit int) ([]registry.Record, error) {
	if offset >= len(r.records) {
		return nil, nil
	}
	return r.records[offset:min(offset+limit, len(r.records))], nil
}

func (r inflatedRegistry) TotalCount(context.Context) (int, error) {
	return math.MaxInt, nil
}

func TestListAllToleratesInflatedTotal(t *testing.T) {
	t.Parallel()
	reg := inflatedRegistry{records: []registry.Record{{ID: "p0"}, {ID: "p1"}, {ID: "p2"}}}

	records, err := registry.ListAll(context.Background(), reg, 2)
	require.NoError(t, err)
	require.Len(t, records, 3)
	require.LessOrEqual(t, cap(records), 1024)
}

func TestNewHTTPClientRequiresBaseURL(t *testing.T) {
	t.Parallel()
	_, err := registry.NewHTTPClient(registry.Config{}, nil)
	require.Error(t, err)
}
