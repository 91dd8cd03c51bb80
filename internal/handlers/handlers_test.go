package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/charlesng35/ledgercat/internal/app"
	"github.com/charlesng35/ledgercat/internal/cache"
	"github.com/charlesng35/ledgercat/internal/catalog"
	testutil "github.com/charlesng35/ledgercat/internal/database/testutil"
	"github.com/charlesng35/ledgercat/internal/migration"
	"github.com/charlesng35/ledgercat/internal/monitoring"
	"github.com/charlesng35/ledgercat/internal/registry"
	"github.com/charlesng35/ledgercat/internal/registry/registrytest"
	"github.com/charlesng35/ledgercat/internal/storage"
	"github.com/charlesng35/ledgercat/internal/storage/storagetest"
	"github.com/charlesng35/ledgercat/pkg/response"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type testEnv struct {
	router  *gin.Engine
	reg     *registrytest.Fake
	durable *storagetest.MemoryStore
	store   *cache.DatabaseStore
	runner  *migration.Runner
	clock   *testClock
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.MustOpenTestDB(t, testutil.WithAutoMigrate())
	store := cache.NewDatabaseStore(db)
	reg := registrytest.NewFake()
	durable := storagetest.NewMemoryStore(storage.ProviderDurable)
	ephemeral := storagetest.NewMemoryStore(storage.ProviderEphemeral)
	selector, err := storage.NewSelector(durable, ephemeral, storage.SelectorConfig{}, nil)
	require.NoError(t, err)

	clk := &testClock{now: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)}
	catalogCache, err := catalog.NewCache(store, reg, selector, catalog.WithNow(clk.Now))
	require.NoError(t, err)
	synchronizer := catalog.NewSynchronizer(catalogCache)
	runner := migration.NewRunner(migration.NewEngine(store), selector)
	t.Cleanup(runner.Wait)

	products, err := NewProductHandler(catalogCache)
	require.NoError(t, err)
	jobs := NewJobHandler(synchronizer, nil)
	migrations, err := NewMigrationHandler(runner, migration.Options{BatchSize: 2})
	require.NoError(t, err)

	r := gin.New()
	api := r.Group("/api")
	api.GET("/products/:id", products.Get)
	api.DELETE("/products/:id", products.Delete)
	api.POST("/sync", jobs.Sync)
	api.POST("/resubmissions", jobs.Resubmit)
	api.GET("/resubmissions/stats", jobs.ResubmissionStats)
	api.POST("/migrations", migrations.Start)
	api.GET("/migrations/current", migrations.Current)
	api.GET("/migrations/stream", migrations.Stream)

	return &testEnv{router: r, reg: reg, durable: durable, store: store, runner: runner, clock: clk}
}

func (e *testEnv) publish(id, name string) string {
	hash := e.durable.Put(storage.NewProductDocument(storage.ProductMetadata{ID: id, Name: name}))
	e.reg.Set(registry.Record{ID: id, Price: "100", Seller: "0xseller", Active: true, ContentHash: hash})
	return hash
}

func (e *testEnv) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, response.Response) {
	t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		require.NoError(t, err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)

	var resp response.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	return rec, resp
}

func TestProductGetFresh(t *testing.T) {
	env := newTestEnv(t)
	env.publish("p1", "Widget")

	rec, resp := env.do(t, http.MethodGet, "/api/products/p1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, resp.Success)
	require.NotNil(t, resp.Meta)
	require.False(t, resp.Meta.Stale)

	data := resp.Data.(map[string]any)
	require.Equal(t, "p1", data["catalog_id"])
	require.Equal(t, "Widget", data["metadata"].(map[string]any)["name"])
}

func TestProductGetServesStaleWhenRegistryDown(t *testing.T) {
	env := newTestEnv(t)
	env.publish("p1", "Widget")
	rec, _ := env.do(t, http.MethodGet, "/api/products/p1", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	env.clock.Advance(10 * time.Minute)
	env.reg.SetError(errors.New("indexer down"))

	rec, resp := env.do(t, http.MethodGet, "/api/products/p1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, resp.Success)
	require.True(t, resp.Meta.Stale)
	require.Equal(t, false, resp.Data.(map[string]any)["last_known_good"])
}

func TestProductGetErrors(t *testing.T) {
	env := newTestEnv(t)

	rec, resp := env.do(t, http.MethodGet, "/api/products/missing", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	require.Equal(t, "NOT_FOUND", resp.Error.Code)

	env.reg.SetError(errors.New("indexer down"))
	rec, resp = env.do(t, http.MethodGet, "/api/products/p9", nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	require.Equal(t, "SOURCE_OF_TRUTH_UNREACHABLE", resp.Error.Code)
}

func TestProductDelete(t *testing.T) {
	env := newTestEnv(t)
	env.publish("p1", "Widget")
	env.do(t, http.MethodGet, "/api/products/p1", nil)

	rec, resp := env.do(t, http.MethodDelete, "/api/products/p1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, resp.Success)

	_, found, err := env.store.GetEntry(context.Background(), "p1")
	require.NoError(t, err)
	require.False(t, found)
}

func TestSyncEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.publish("p1", "Widget")
	env.publish("p2", "Gadget")

	rec, resp := env.do(t, http.MethodPost, "/api/sync", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	data := resp.Data.(map[string]any)
	require.EqualValues(t, 2, data["synced"])
	require.EqualValues(t, 0, data["errors"])
}

func TestResubmissionWithoutEphemeralBackend(t *testing.T) {
	env := newTestEnv(t)

	rec, resp := env.do(t, http.MethodPost, "/api/resubmissions", nil)
	require.Equal(t, http.StatusNotImplemented, rec.Code)
	require.Equal(t, "PROVIDER_NOT_IMPLEMENTED", resp.Error.Code)

	rec, _ = env.do(t, http.MethodGet, "/api/resubmissions/stats", nil)
	require.Equal(t, http.StatusNotImplemented, rec.Code)
}

func TestMigrationStartValidation(t *testing.T) {
	env := newTestEnv(t)

	rec, resp := env.do(t, http.MethodPost, "/api/migrations", gin.H{"source": "durable", "destination": "durable"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, resp.Error.Message, "must differ")

	rec, _ = env.do(t, http.MethodPost, "/api/migrations", gin.H{"source": "durable", "destination": "tape"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = env.do(t, http.MethodPost, "/api/migrations", gin.H{"source": "durable", "destination": "ephemeral", "batch_delay": "soon"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec, _ = env.do(t, http.MethodGet, "/api/migrations/current", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestMigrationStartAndCurrent(t *testing.T) {
	env := newTestEnv(t)
	env.publish("p1", "Widget")
	env.publish("p2", "Gadget")
	env.do(t, http.MethodPost, "/api/sync", nil)

	rec, resp := env.do(t, http.MethodPost, "/api/migrations", gin.H{"source": "durable", "destination": "ephemeral", "batch_delay": "0s"})
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.NotEmpty(t, resp.Data.(map[string]any)["id"])

	env.runner.Wait()
	rec, resp = env.do(t, http.MethodGet, "/api/migrations/current", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	progress := resp.Data.(map[string]any)["progress"].(map[string]any)
	require.EqualValues(t, 2, progress["migrated"])
	require.Equal(t, true, progress["done"])
}

func TestMigrationStream(t *testing.T) {
	env := newTestEnv(t)
	env.publish("p1", "Widget")
	env.publish("p2", "Gadget")
	env.publish("p3", "Doohickey")
	env.do(t, http.MethodPost, "/api/sync", nil)

	server := httptest.NewServer(env.router)
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http") + "/api/migrations/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	// Give the handler time to subscribe before the job starts.
	time.Sleep(50 * time.Millisecond)
	_, err = env.runner.Start(context.Background(), "durable", "ephemeral", migration.Options{BatchSize: 2})
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for {
		var job migration.Job
		require.NoError(t, conn.ReadJSON(&job))
		require.Equal(t, 3, job.Progress.Total)
		if !job.FinishedAt.IsZero() {
			require.Equal(t, 3, job.Progress.Migrated)
			require.True(t, job.Progress.Done)
			return
		}
	}
}

func TestMonitoringHandlerSummary(t *testing.T) {
	gin.SetMode(gin.TestMode)

	mod, err := monitoring.NewModule(monitoring.Options{DisableGoCollector: true, DisableProcessCollector: true})
	require.NoError(t, err)

	cfg := &app.Config{
		Storage: app.StorageConfig{Provider: "durable"},
		Monitoring: app.MonitoringConfig{
			Prometheus: app.PrometheusConfig{Enabled: true, Endpoint: "/metrics"},
			Health:     app.HealthConfig{Enabled: true},
		},
	}
	handler := NewMonitoringHandler(mod, cfg)
	require.NotNil(t, handler)
	require.Nil(t, NewMonitoringHandler(mod, &app.Config{}))

	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	ctx.Request, _ = http.NewRequest(http.MethodGet, "/api/monitoring/summary", nil)

	handler.Summary(ctx)
	require.Equal(t, http.StatusOK, recorder.Code)
	require.Contains(t, recorder.Body.String(), "\"success\":true")
	require.Contains(t, recorder.Body.String(), "\"provider\":\"durable\"")
}

func TestHealthHandlerDisabled(t *testing.T) {
	gin.SetMode(gin.TestMode)
	handler := NewHealthHandler(nil)

	recorder := httptest.NewRecorder()
	ctx, _ := gin.CreateTestContext(recorder)
	ctx.Request, _ = http.NewRequest(http.MethodGet, "/health/ready", nil)
	handler.Ready(ctx)
	require.Equal(t, http.StatusNotFound, recorder.Code)
}
