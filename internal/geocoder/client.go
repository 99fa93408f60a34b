// Package geocoder is the client for the upstream Nominatim-compatible
// search service.
package geocoder

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	apperrors "github.com/geosuggest/geosuggest/internal/pkg/errors"
	"github.com/geosuggest/geosuggest/internal/place"
)

// maxResponseBytes bounds how much of a geocoder response is read.
const maxResponseBytes = 8 << 20

// Config configures the geocoder client.
type Config struct {
	// BaseURL is the geocoder root; /search is appended.
	BaseURL string

	// Timeout bounds each request, including connection setup.
	Timeout time.Duration

	// UserAgent identifies this service to the geocoder.
	UserAgent string

	// RPS throttles outbound requests. Zero disables throttling.
	RPS float64
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL:   "http://localhost:8088",
		Timeout:   5 * time.Second,
		UserAgent: "geosuggest/1.0",
	}
}

// Client queries the geocoder. It never retries.
type Client struct {
	baseURL    string
	userAgent  string
	timeout    time.Duration
	httpClient *http.Client
	limiter    *rate.Limiter
}

// New creates a geocoder client.
func New(cfg Config) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultConfig().BaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultConfig().Timeout
	}

	c := &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		userAgent: cfg.UserAgent,
		timeout:   cfg.Timeout,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
	if cfg.RPS > 0 {
		burst := int(cfg.RPS)
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RPS), burst)
	}
	return c
}

// Search returns the geocoder's candidates for query in the geocoder's order.
//
// Network failures, timeouts and error statuses are reported as
// UPSTREAM_UNAVAILABLE; a body that is not a JSON array of objects is
// reported as UPSTREAM_MALFORMED.
func (c *Client) Search(ctx context.Context, query string) ([]place.Suggestion, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, apperrors.UpstreamUnavailableError(fmt.Errorf("waiting for geocoder rate limit: %w", err))
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/search?"+params.Encode(), nil)
	if err != nil {
		return nil, apperrors.UpstreamUnavailableError(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, apperrors.UpstreamUnavailableError(fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, apperrors.UpstreamUnavailableError(fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, apperrors.UpstreamUnavailableError(fmt.Errorf("geocoder returned HTTP %d", resp.StatusCode))
	}

	suggestions, err := decode(body)
	if err != nil {
		return nil, apperrors.UpstreamMalformedError(err)
	}
	return suggestions, nil
}

func decode(body []byte) ([]place.Suggestion, error) {
	if t := bytes.TrimSpace(body); len(t) == 0 || t[0] != '[' {
		return nil, fmt.Errorf("expected a JSON array")
	}
	var items []json.RawMessage
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, fmt.Errorf("expected a JSON array: %w", err)
	}

	out := make([]place.Suggestion, 0, len(items))
	for i, item := range items {
		if t := bytes.TrimSpace(item); len(t) == 0 || t[0] != '{' {
			return nil, fmt.Errorf("item %d is not an object", i)
		}
		var s place.Suggestion
		if err := json.Unmarshal(item, &s); err != nil {
			return nil, fmt.Errorf("item %d: %w", i, err)
		}
		out = append(out, s)
	}
	return out, nil
}
