package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/charlesng35/ledgercat/internal/monitoring"
	apperrors "github.com/charlesng35/ledgercat/pkg/errors"
	"github.com/charlesng35/ledgercat/pkg/validator"
)

const (
	defaultFetchTimeout = 5 * time.Second
	defaultProbeTimeout = 3 * time.Second
	maxDocumentBytes    = 4 << 20
)

// GatewayConfig lists read gateways in the fixed order they are tried.
type GatewayConfig struct {
	URLs         []string
	FetchTimeout time.Duration
	ProbeTimeout time.Duration
}

// Gateways reads content from an ordered list of HTTP gateways at {base}/{hash}.
type Gateways struct {
	urls         []string
	client       *http.Client
	fetchTimeout time.Duration
	probeTimeout time.Duration
	log          *zap.Logger
}

// NewGateways validates cfg and builds a gateway reader.
func NewGateways(cfg GatewayConfig, client *http.Client, log *zap.Logger) (*Gateways, error) {
	urls := make([]string, 0, len(cfg.URLs))
	for _, raw := range cfg.URLs {
		base := strings.TrimRight(strings.TrimSpace(raw), "/")
		if base == "" {
			continue
		}
		urls = append(urls, base)
	}
	if len(urls) == 0 {
		return nil, errors.New("storage: at least one gateway url is required")
	}
	if client == nil {
		client = &http.Client{}
	}
	if log == nil {
		log = zap.NewNop()
	}

	g := &Gateways{
		urls:         urls,
		client:       client,
		fetchTimeout: cfg.FetchTimeout,
		probeTimeout: cfg.ProbeTimeout,
		log:          log,
	}
	if g.fetchTimeout <= 0 {
		g.fetchTimeout = defaultFetchTimeout
	}
	if g.probeTimeout <= 0 {
		g.probeTimeout = defaultProbeTimeout
	}
	return g, nil
}

// URLs returns a copy of the configured gateway order.
func (g *Gateways) URLs() []string {
	return append([]string(nil), g.urls...)
}

// URL builds the content URL on the first gateway.
func (g *Gateways) URL(hash string) string {
	return g.urls[0] + "/" + hash
}

// Fetch returns the first document successfully served by a gateway.
func (g *Gateways) Fetch(ctx context.Context, provider, hash string) (*Document, error) {
	if !validator.IsContentHash(hash) {
		return nil, apperrors.ErrNotFound.WithMessage("invalid content hash %q", hash)
	}

	var failures []string
	for _, base := range g.urls {
		if err := ctx.Err(); err != nil {
			return nil, apperrors.ErrStorageUnavailable.WithInternal(err)
		}

		doc, err := g.fetchOne(ctx, base, hash)
		if err != nil {
			monitoring.RecordGatewayFetch(provider, base, "failure")
			g.log.Warn("gateway fetch failed",
				zap.String("provider", provider),
				zap.String("gateway", base),
				zap.String("hash", hash),
				zap.Error(err),
			)
			failures = append(failures, fmt.Sprintf("%s: %v", base, err))
			continue
		}

		monitoring.RecordGatewayFetch(provider, base, "success")
		if len(failures) > 0 {
			g.log.Info("gateway fallback succeeded",
				zap.String("provider", provider),
				zap.String("gateway", base),
				zap.String("hash", hash),
				zap.Int("failed_gateways", len(failures)),
			)
		}
		return doc, nil
	}

	g.log.Error("all gateways failed",
		zap.String("provider", provider),
		zap.String("hash", hash),
		zap.Strings("failures", failures),
	)
	return nil, apperrors.ErrStorageUnavailable.WithInternal(
		fmt.Errorf("all %d gateways failed for %s: %s", len(g.urls), hash, strings.Join(failures, "; ")),
	)
}

func (g *Gateways) fetchOne(ctx context.Context, base, hash string) (*Document, error) {
	reqCtx, cancel := context.WithTimeout(ctx, g.fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, base+"/"+hash, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	payload, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentBytes+1))
	if err != nil {
		return nil, err
	}
	if len(payload) > maxDocumentBytes {
		return nil, fmt.Errorf("document exceeds %d bytes", maxDocumentBytes)
	}
	return Decode(payload)
}

// Probe issues a HEAD against the first gateway only.
func (g *Gateways) Probe(ctx context.Context, hash string) bool {
	if !validator.IsContentHash(hash) {
		return false
	}
	reqCtx, cancel := context.WithTimeout(ctx, g.probeTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodHead, g.URL(hash), nil)
	if err != nil {
		return false
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode <= 299
}
