package storage_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/charlesng35/ledgercat/internal/storage"
)

// fakeBackend emulates both an upload API and a read gateway.
type fakeBackend struct {
	mu       sync.Mutex
	objects  map[string][]byte
	seq      int
	prefix   string
	rejectUp bool
	server   *httptest.Server
}

func newFakeBackend(t *testing.T, prefix string) *fakeBackend {
	t.Helper()
	b := &fakeBackend{objects: map[string][]byte{}, prefix: prefix}
	b.server = httptest.NewServer(http.HandlerFunc(b.serve))
	t.Cleanup(b.server.Close)
	return b
}

func (b *fakeBackend) URL() string { return b.server.URL }

func (b *fakeBackend) put(content []byte) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.seq++
	hash := fmt.Sprintf("%s%04d", b.prefix, b.seq)
	b.objects[hash] = content
	return hash
}

func (b *fakeBackend) serve(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/pinning/pinJSONToIPFS":
		if b.rejectUp {
			http.Error(w, "quota exceeded", http.StatusPaymentRequired)
			return
		}
		var req struct {
			Content json.RawMessage `json:"pinataContent"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		hash := b.put(req.Content)
		_ = json.NewEncoder(w).Encode(map[string]any{"IpfsHash": hash, "PinSize": len(req.Content)})
	case r.Method == http.MethodPost && r.URL.Path == "/v1/content":
		if b.rejectUp {
			http.Error(w, "backend down", http.StatusInternalServerError)
			return
		}
		var req struct {
			Content    json.RawMessage `json:"content"`
			TTLSeconds int64           `json:"ttl_seconds"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TTLSeconds <= 0 {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		hash := b.put(req.Content)
		_ = json.NewEncoder(w).Encode(map[string]any{"hash": hash, "size": len(req.Content)})
	case r.Method == http.MethodGet && (r.URL.Path == "/v1/status" || r.URL.Path == "/data/testAuthentication"):
		w.WriteHeader(http.StatusOK)
	case r.Method == http.MethodGet || r.Method == http.MethodHead:
		hash := strings.TrimPrefix(r.URL.Path, "/")
		b.mu.Lock()
		content, ok := b.objects[hash]
		b.mu.Unlock()
		if !ok {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if r.Method == http.MethodGet {
			_, _ = w.Write(content)
		}
	default:
		http.NotFound(w, r)
	}
}

func widget() *storage.Document {
	return storage.NewProductDocument(storage.ProductMetadata{ID: "p1", Name: "Widget"})
}
