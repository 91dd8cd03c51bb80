package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	backoff "github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/charlesng35/ledgercat/internal/monitoring"
	apperrors "github.com/charlesng35/ledgercat/pkg/errors"
)

const (
	defaultTimeout    = 15 * time.Second
	defaultMaxRetries = 3
)

// Config configures the registry HTTP client.
type Config struct {
	BaseURL string
	// Timeout bounds each attempt. Defaults to 15s.
	Timeout    time.Duration
	MaxRetries int
}

// HTTPClient reads the registry through the ledger indexer's JSON API.
type HTTPClient struct {
	baseURL      string
	timeout      time.Duration
	client       *http.Client
	log          *zap.Logger
	buildBackoff func() backoff.BackOff
}

// Option customises an HTTPClient.
type Option func(*HTTPClient)

// WithBackoff overrides the retry policy.
func WithBackoff(factory func() backoff.BackOff) Option {
	return func(c *HTTPClient) {
		if factory != nil {
			c.buildBackoff = factory
		}
	}
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *HTTPClient) {
		if client != nil {
			c.client = client
		}
	}
}

// NewHTTPClient builds a registry client.
func NewHTTPClient(cfg Config, log *zap.Logger, opts ...Option) (*HTTPClient, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("registry: base url is required")
	}
	if log == nil {
		log = zap.NewNop()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	retries := cfg.MaxRetries
	if retries < 0 {
		retries = 0
	} else if retries == 0 {
		retries = defaultMaxRetries
	}

	c := &HTTPClient{
		baseURL: base,
		timeout: timeout,
		client:  &http.Client{},
		log:     log,
		buildBackoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 200 * time.Millisecond
			b.MaxInterval = 2 * time.Second
			return backoff.WithMaxRetries(b, uint64(retries))
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

func (c *HTTPClient) GetProduct(ctx context.Context, id string) (*Record, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, apperrors.ErrBadRequest.WithMessage("product id is required")
	}
	var record Record
	if err := c.get(ctx, "get_product", "/products/"+url.PathEscape(id), &record); err != nil {
		return nil, err
	}
	if record.ID == "" {
		record.ID = id
	}
	return &record, nil
}

type pageResponse struct {
	Items []Record `json:"items"`
	Total int      `json:"total"`
}

func (c *HTTPClient) ListPage(ctx context.Context, offset, limit int) ([]Record, error) {
	query := url.Values{}
	query.Set("offset", strconv.Itoa(offset))
	query.Set("limit", strconv.Itoa(limit))

	var page pageResponse
	if err := c.get(ctx, "list_page", "/products?"+query.Encode(), &page); err != nil {
		return nil, err
	}
	return page.Items, nil
}

type countResponse struct {
	Total int `json:"total"`
}

func (c *HTTPClient) TotalCount(ctx context.Context) (int, error) {
	var count countResponse
	if err := c.get(ctx, "total_count", "/products/count", &count); err != nil {
		return 0, err
	}
	if count.Total < 0 {
		return 0, apperrors.ErrSourceOfTruthUnreachable.WithMessage("registry reported negative total %d", count.Total)
	}
	return count.Total, nil
}

func (c *HTTPClient) get(ctx context.Context, operation, path string, out any) error {
	start := time.Now()
	attempt := 0

	err := backoff.Retry(func() error {
		attempt++
		err := c.do(ctx, path, out)
		if err != nil && !isPermanent(err) {
			c.log.Debug("registry request failed, retrying",
				zap.String("operation", operation),
				zap.Int("attempt", attempt),
				zap.Error(err),
			)
		}
		return err
	}, backoff.WithContext(c.buildBackoff(), ctx))

	if err == nil {
		monitoring.RecordRegistryRequest(operation, "success", time.Since(start))
		return nil
	}

	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Err
	}
	if errors.Is(err, apperrors.ErrNotFound) {
		monitoring.RecordRegistryRequest(operation, "not_found", time.Since(start))
		return err
	}

	monitoring.RecordRegistryRequest(operation, "failure", time.Since(start))
	return apperrors.ErrSourceOfTruthUnreachable.WithInternal(fmt.Errorf("%s after %d attempts: %w", operation, attempt, err))
}

func (c *HTTPClient) do(ctx context.Context, path string, out any) error {
	reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return backoff.Permanent(err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return backoff.Permanent(apperrors.ErrNotFound.WithMessage("registry has no record at %s", path))
	case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("registry status %d", resp.StatusCode)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return backoff.Permanent(fmt.Errorf("registry status %d", resp.StatusCode))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return backoff.Permanent(fmt.Errorf("decode registry response: %w", err))
	}
	return nil
}

func isPermanent(err error) bool {
	var permanent *backoff.PermanentError
	return errors.As(err, &permanent)
}
