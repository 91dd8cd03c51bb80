package storage

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/ledgercat/internal/monitoring"
	apperrors "github.com/charlesng35/ledgercat/pkg/errors"
)

// DurableConfig configures the pinning backend.
type DurableConfig struct {
	APIURL   string
	APIToken string
	Gateway  GatewayConfig
	// UploadTimeout bounds a single pin request. Defaults to 30s.
	UploadTimeout time.Duration
}

// DurableStore keeps content permanently by pinning it through a pinning API.
type DurableStore struct {
	api      *apiClient
	gateways *Gateways
	log      *zap.Logger
	now      func() time.Time
}

// DurableOption customises a DurableStore.
type DurableOption func(*DurableStore)

// WithDurableNow overrides the clock used for upload timestamps.
func WithDurableNow(now func() time.Time) DurableOption {
	return func(s *DurableStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewDurableStore builds a pinning-backed store.
func NewDurableStore(cfg DurableConfig, client *http.Client, log *zap.Logger, opts ...DurableOption) (*DurableStore, error) {
	if log == nil {
		log = zap.NewNop()
	}
	api, err := newAPIClient(cfg.APIURL, cfg.APIToken, client, cfg.UploadTimeout)
	if err != nil {
		return nil, err
	}
	gateways, err := NewGateways(cfg.Gateway, client, log)
	if err != nil {
		return nil, err
	}

	store := &DurableStore{
		api:      api,
		gateways: gateways,
		log:      log,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(store)
	}
	return store, nil
}

func (s *DurableStore) Provider() string { return ProviderDurable }

type pinRequest struct {
	Content  json.RawMessage `json:"pinataContent"`
	Metadata pinMetadata     `json:"pinataMetadata"`
}

type pinMetadata struct {
	Name string `json:"name"`
}

type pinResponse struct {
	IpfsHash string `json:"IpfsHash"`
	PinSize  int64  `json:"PinSize"`
}

// Upload pins doc and returns only after the API acknowledged it with a hash.
func (s *DurableStore) Upload(ctx context.Context, doc *Document) (*UploadResult, error) {
	payload, err := Encode(doc)
	if err != nil {
		return nil, err
	}

	var resp pinResponse
	req := pinRequest{
		Content:  payload,
		Metadata: pinMetadata{Name: string(doc.Kind) + "-" + doc.Identifier()},
	}
	if err := s.api.postJSON(ctx, "/pinning/pinJSONToIPFS", req, &resp); err != nil {
		monitoring.RecordUpload(ProviderDurable, "failure", 0)
		s.log.Warn("durable upload failed", zap.String("id", doc.Identifier()), zap.Error(err))
		return nil, apperrors.ErrUploadFailed.WithInternal(err)
	}

	hash := strings.TrimSpace(resp.IpfsHash)
	if hash == "" {
		monitoring.RecordUpload(ProviderDurable, "failure", 0)
		return nil, apperrors.ErrUploadFailed.WithMessage("durable backend returned no content hash")
	}

	size := resp.PinSize
	if size <= 0 {
		size = int64(len(payload))
	}
	monitoring.RecordUpload(ProviderDurable, "success", size)
	s.log.Info("content uploaded",
		zap.String("provider", ProviderDurable),
		zap.String("hash", hash),
		zap.Int64("size_bytes", size),
	)

	return &UploadResult{
		Hash:       hash,
		URL:        s.ContentURL(hash),
		Provider:   ProviderDurable,
		SizeBytes:  size,
		UploadedAt: s.now(),
	}, nil
}

func (s *DurableStore) Fetch(ctx context.Context, hash string) (*Document, error) {
	return s.gateways.Fetch(ctx, ProviderDurable, hash)
}

func (s *DurableStore) IsAvailable(ctx context.Context, hash string) bool {
	return s.gateways.Probe(ctx, hash)
}

func (s *DurableStore) ContentURL(hash string) string {
	return s.gateways.URL(hash)
}

// Live checks the pinning API's authentication endpoint.
func (s *DurableStore) Live(ctx context.Context) bool {
	return s.api.ping(ctx, "/data/testAuthentication")
}
