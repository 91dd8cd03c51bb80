package storage

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/ledgercat/internal/monitoring"
	apperrors "github.com/charlesng35/ledgercat/pkg/errors"
)

const (
	DefaultEphemeralTTL      = 14 * 24 * time.Hour
	DefaultResubmitThreshold = 10 * 24 * time.Hour
)

// EphemeralConfig configures the TTL-bound backend.
type EphemeralConfig struct {
	APIURL            string
	APIToken          string
	Gateway           GatewayConfig
	TTL               time.Duration
	ResubmitThreshold time.Duration
	UploadTimeout     time.Duration
}

// EphemeralStore uploads content that the backend purges after TTL unless renewed.
type EphemeralStore struct {
	api       *apiClient
	gateways  *Gateways
	ttl       time.Duration
	threshold time.Duration
	log       *zap.Logger
	now       func() time.Time
}

// EphemeralOption customises an EphemeralStore.
type EphemeralOption func(*EphemeralStore)

// WithEphemeralNow overrides the clock used for TTL bookkeeping.
func WithEphemeralNow(now func() time.Time) EphemeralOption {
	return func(s *EphemeralStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewEphemeralStore validates cfg and builds the store. The resubmission
// threshold must be strictly shorter than the TTL.
func NewEphemeralStore(cfg EphemeralConfig, client *http.Client, log *zap.Logger, opts ...EphemeralOption) (*EphemeralStore, error) {
	if log == nil {
		log = zap.NewNop()
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultEphemeralTTL
	}
	threshold := cfg.ResubmitThreshold
	if threshold <= 0 {
		threshold = DefaultResubmitThreshold
	}
	if threshold >= ttl {
		return nil, fmt.Errorf("storage: resubmit threshold %s must be shorter than ttl %s", threshold, ttl)
	}

	api, err := newAPIClient(cfg.APIURL, cfg.APIToken, client, cfg.UploadTimeout)
	if err != nil {
		return nil, err
	}
	gateways, err := NewGateways(cfg.Gateway, client, log)
	if err != nil {
		return nil, err
	}

	store := &EphemeralStore{
		api:       api,
		gateways:  gateways,
		ttl:       ttl,
		threshold: threshold,
		log:       log,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(store)
	}
	return store, nil
}

func (s *EphemeralStore) Provider() string { return ProviderEphemeral }

func (s *EphemeralStore) TTL() time.Duration { return s.ttl }

func (s *EphemeralStore) ResubmitThreshold() time.Duration { return s.threshold }

type ephemeralUploadRequest struct {
	Content    *Document `json:"content"`
	TTLSeconds int64     `json:"ttl_seconds"`
}

type ephemeralUploadResponse struct {
	Hash      string     `json:"hash"`
	Size      int64      `json:"size"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// Upload stores doc for TTL and returns only after the backend acknowledged it.
func (s *EphemeralStore) Upload(ctx context.Context, doc *Document) (*UploadResult, error) {
	payload, err := Encode(doc)
	if err != nil {
		return nil, err
	}

	var resp ephemeralUploadResponse
	req := ephemeralUploadRequest{Content: doc, TTLSeconds: int64(s.ttl / time.Second)}
	if err := s.api.postJSON(ctx, "/v1/content", req, &resp); err != nil {
		monitoring.RecordUpload(ProviderEphemeral, "failure", 0)
		s.log.Warn("ephemeral upload failed", zap.String("id", doc.Identifier()), zap.Error(err))
		return nil, apperrors.ErrUploadFailed.WithInternal(err)
	}

	hash := strings.TrimSpace(resp.Hash)
	if hash == "" {
		monitoring.RecordUpload(ProviderEphemeral, "failure", 0)
		return nil, apperrors.ErrUploadFailed.WithMessage("ephemeral backend returned no content hash")
	}

	size := resp.Size
	if size <= 0 {
		size = int64(len(payload))
	}
	monitoring.RecordUpload(ProviderEphemeral, "success", size)
	s.log.Info("content uploaded",
		zap.String("provider", ProviderEphemeral),
		zap.String("hash", hash),
		zap.Int64("size_bytes", size),
		zap.Duration("ttl", s.ttl),
	)

	return &UploadResult{
		Hash:       hash,
		URL:        s.ContentURL(hash),
		Provider:   ProviderEphemeral,
		SizeBytes:  size,
		UploadedAt: s.now(),
		TTL:        s.ttl,
	}, nil
}

func (s *EphemeralStore) Fetch(ctx context.Context, hash string) (*Document, error) {
	return s.gateways.Fetch(ctx, ProviderEphemeral, hash)
}

func (s *EphemeralStore) IsAvailable(ctx context.Context, hash string) bool {
	return s.gateways.Probe(ctx, hash)
}

func (s *EphemeralStore) ContentURL(hash string) string {
	return s.gateways.URL(hash)
}

// Live checks the backend's status endpoint.
func (s *EphemeralStore) Live(ctx context.Context) bool {
	return s.api.ping(ctx, "/v1/status")
}

// NeedsResubmission reports whether content uploaded at uploadedAt has reached the threshold.
func (s *EphemeralStore) NeedsResubmission(uploadedAt time.Time) bool {
	return s.now().Sub(uploadedAt) >= s.threshold
}

// TimeUntilExpiry is clamped at zero.
func (s *EphemeralStore) TimeUntilExpiry(uploadedAt time.Time) time.Duration {
	return clampPositive(uploadedAt.Add(s.ttl).Sub(s.now()))
}

// TimeUntilResubmission is clamped at zero.
func (s *EphemeralStore) TimeUntilResubmission(uploadedAt time.Time) time.Duration {
	return clampPositive(uploadedAt.Add(s.threshold).Sub(s.now()))
}

func clampPositive(d time.Duration) time.Duration {
	if d < 0 {
		return 0
	}
	return d
}
