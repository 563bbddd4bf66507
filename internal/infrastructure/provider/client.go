// Package provider is the HTTP adapter for the market data provider. It turns
// transport failures and provider payloads into the ingestion error taxonomy.
package provider

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/erp/ingestor/internal/domain/ingestion"
	"github.com/erp/ingestor/internal/infrastructure/config"
	"go.uber.org/zap"
)

const (
	defaultTimeout          = 30 * time.Second
	defaultMaxResponseBytes = 5 << 20
	defaultUserAgent        = "ingestor/1.0"
	maxRejectDetail         = 256
)

// Client fetches entity data from the provider's query endpoint
type Client struct {
	httpClient       *http.Client
	baseURL          *url.URL
	apiKey           string
	userAgent        string
	maxResponseBytes int64
	logger           *zap.Logger
	now              func() time.Time
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the default http.Client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithClock sets the time source used for FetchedAt
func WithClock(now func() time.Time) Option {
	return func(c *Client) {
		c.now = now
	}
}

// NewClient creates a provider client from configuration
func NewClient(cfg *config.ProviderConfig, logger *zap.Logger, opts ...Option) (*Client, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("provider: invalid base url %q", cfg.BaseURL)
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	maxBytes := cfg.MaxResponseBytes
	if maxBytes <= 0 {
		maxBytes = defaultMaxResponseBytes
	}
	userAgent := cfg.UserAgent
	if userAgent == "" {
		userAgent = defaultUserAgent
	}

	c := &Client{
		httpClient:       &http.Client{Timeout: timeout},
		baseURL:          base,
		apiKey:           cfg.APIKey,
		userAgent:        userAgent,
		maxResponseBytes: maxBytes,
		logger:           logger.Named("provider"),
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Fetch performs one provider call for externalKey using the workflow's
// provider function. Errors wrap ingestion.ErrTimeout, ingestion.ErrNetwork or
// ingestion.ErrAPIFormat; anything else is unexpected.
func (c *Client) Fetch(ctx context.Context, workflow *ingestion.Workflow, externalKey string) (*ingestion.ProviderResponse, error) {
	body, err := c.doRequest(ctx, workflow.Function, externalKey)
	if err != nil {
		return nil, err
	}

	resp, err := Parse(body, workflow, c.now().UTC())
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", workflow.Function, externalKey, err)
	}

	c.logger.Debug("Provider response parsed",
		zap.String("function", workflow.Function),
		zap.String("key", externalKey),
		zap.Int("fields", len(resp.Fields)),
	)
	return resp, nil
}

// doRequest performs the HTTP call and returns the raw body
func (c *Client) doRequest(ctx context.Context, function, externalKey string) ([]byte, error) {
	u := *c.baseURL
	q := u.Query()
	q.Set("function", function)
	q.Set("symbol", externalKey)
	if c.apiKey != "" {
		q.Set("apikey", c.apiKey)
	}
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("provider: failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxResponseBytes+1))
	if err != nil {
		return nil, classifyTransportError(err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: HTTP %d", ingestion.ErrNetwork, resp.StatusCode)
	case resp.StatusCode >= 400:
		return nil, fmt.Errorf("%w: request rejected: HTTP %d: %s",
			ingestion.ErrAPIFormat, resp.StatusCode, bytes.TrimSpace(truncate(body, maxRejectDetail)))
	}

	if int64(len(body)) > c.maxResponseBytes {
		return nil, fmt.Errorf("%w: response exceeds %d bytes", ingestion.ErrAPIFormat, c.maxResponseBytes)
	}
	return body, nil
}

// classifyTransportError maps client and read errors to timeout or network
func classifyTransportError(err error) error {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%w: %v", ingestion.ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ingestion.ErrNetwork, err)
}

func truncate(b []byte, n int) []byte {
	if len(b) > n {
		return b[:n]
	}
	return b
}
