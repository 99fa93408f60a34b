// Package client provides an HTTP client for the geosuggest API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/geosuggest/geosuggest/internal/place"
)

// Client is an HTTP client for the geosuggest API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Config configures the client.
type Config struct {
	// BaseURL is the base URL of the API server.
	BaseURL string

	// Timeout is the request timeout.
	Timeout time.Duration

	// MaxIdleConns controls the maximum number of idle (keep-alive) connections
	// across all hosts. Zero means no limit.
	MaxIdleConns int

	// MaxConnsPerHost limits the total number of connections per host.
	// Zero means no limit.
	MaxConnsPerHost int

	// IdleConnTimeout is the maximum amount of time an idle (keep-alive)
	// connection will remain idle before closing itself.
	IdleConnTimeout time.Duration
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL:         "http://localhost:8000",
		Timeout:         10 * time.Second,
		MaxIdleConns:    100,
		MaxConnsPerHost: 100,
		IdleConnTimeout: 90 * time.Second,
	}
}

// New creates a new API client.
func New(cfg Config) *Client {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxIdleConns == 0 {
		cfg.MaxIdleConns = def.MaxIdleConns
	}
	if cfg.MaxConnsPerHost == 0 {
		cfg.MaxConnsPerHost = def.MaxConnsPerHost
	}
	if cfg.IdleConnTimeout == 0 {
		cfg.IdleConnTimeout = def.IdleConnTimeout
	}

	transport := &http.Transport{
		MaxIdleConns:        cfg.MaxIdleConns,
		MaxIdleConnsPerHost: cfg.MaxConnsPerHost / 5, // 20% per host
		MaxConnsPerHost:     cfg.MaxConnsPerHost,
		IdleConnTimeout:     cfg.IdleConnTimeout,
		ForceAttemptHTTP2:   true,
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transport,
		},
	}
}

// Popular is one popularity record for a query prefix.
type Popular struct {
	QueryPrefix string    `json:"query_prefix"`
	PlaceID     string    `json:"osm_id"`
	DisplayName string    `json:"display_name"`
	Count       int64     `json:"count"`
	LastUpdated time.Time `json:"last_updated"`
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status     string                     `json:"status"`
	Version    string                     `json:"version,omitempty"`
	Uptime     string                     `json:"uptime,omitempty"`
	Components map[string]ComponentHealth `json:"components,omitempty"`
}

// ComponentHealth is the health of one dependency.
type ComponentHealth struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// APIError represents an API error response.
type APIError struct {
	StatusCode int               `json:"-"`
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Details    map[string]string `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// RetryAfter returns the server's suggested wait for a rate limited request,
// or zero when none was given.
func (e *APIError) RetryAfter() time.Duration {
	secs, err := strconv.Atoi(e.Details["retry_after"])
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// Autocomplete returns ranked suggestions for query.
func (c *Client) Autocomplete(ctx context.Context, query string) ([]place.Suggestion, error) {
	var results []place.Suggestion
	if err := c.get(ctx, "/autocomplete?query="+url.QueryEscape(query), &results); err != nil {
		return nil, err
	}
	if results == nil {
		results = []place.Suggestion{}
	}
	return results, nil
}

// Feedback records that item was picked for query.
func (c *Client) Feedback(ctx context.Context, query string, item place.Suggestion) error {
	req := struct {
		Query        string           `json:"query"`
		SelectedItem place.Suggestion `json:"selected_item"`
	}{Query: query, SelectedItem: item}

	var resp struct {
		Message string `json:"message"`
	}
	return c.post(ctx, "/feedback", req, &resp)
}

// Popular returns the most selected places for prefix. A limit of zero
// uses the server default.
func (c *Client) Popular(ctx context.Context, prefix string, limit int) ([]Popular, error) {
	values := url.Values{}
	values.Set("prefix", prefix)
	if limit > 0 {
		values.Set("limit", strconv.Itoa(limit))
	}

	var results []Popular
	if err := c.get(ctx, "/popular?"+values.Encode(), &results); err != nil {
		return nil, err
	}
	return results, nil
}

// Health checks if the API is healthy. An unhealthy server still returns
// its component report.
func (c *Client) Health(ctx context.Context) (*HealthResponse, error) {
	var resp HealthResponse
	err := c.get(ctx, "/healthz", &resp)
	if apiErr, ok := err.(*APIError); ok && apiErr.StatusCode == http.StatusServiceUnavailable && resp.Status != "" {
		return &resp, nil
	}
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// get performs a GET request.
func (c *Client) get(ctx context.Context, path string, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	return c.do(req, result)
}

// post performs a POST request.
func (c *Client) post(ctx context.Context, path string, body, result interface{}) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	return c.do(req, result)
}

// do executes a request. Health reports are decoded into result even on a
// 503 so callers can see which component failed.
func (c *Client) do(req *http.Request, result interface{}) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		if err := json.Unmarshal(body, apiErr); err != nil || apiErr.Code == "" {
			if resp.StatusCode == http.StatusServiceUnavailable && result != nil {
				_ = json.Unmarshal(body, result)
			}
			apiErr.Code = http.StatusText(resp.StatusCode)
			apiErr.Message = strings.TrimSpace(string(body))
		}
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if apiErr.Details == nil {
				apiErr.Details = make(map[string]string)
			}
			if _, ok := apiErr.Details["retry_after"]; !ok {
				apiErr.Details["retry_after"] = ra
			}
		}
		return apiErr
	}

	if result != nil && len(body) > 0 {
		if err := json.Unmarshal(body, result); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}
	}

	return nil
}
