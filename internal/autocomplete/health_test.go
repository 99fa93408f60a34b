package autocomplete

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/geosuggest/geosuggest/internal/cache"
	"github.com/geosuggest/geosuggest/internal/feedback"
	"github.com/geosuggest/geosuggest/internal/metrics"
	"github.com/geosuggest/geosuggest/internal/place"
)

type pingStore struct {
	err error
}

func (s pingStore) RecordSelection(context.Context, string, feedback.SelectedItem) error { return nil }

func (s pingStore) PopularResults(context.Context, string, int) ([]feedback.Popularity, error) {
	return nil, nil
}

func (s pingStore) Ping(context.Context) error { return s.err }

type pingCache struct {
	err error
}

func (pingCache) Name() string                                                   { return "redis" }
func (pingCache) Get(context.Context, string) ([]place.Suggestion, bool)         { return nil, false }
func (pingCache) Set(context.Context, string, []place.Suggestion, time.Duration) {}
func (pingCache) Close() error                                                   { return nil }
func (c pingCache) Ping(context.Context) error                                   { return c.err }

func TestHealthCheck(t *testing.T) {
	tests := []struct {
		name       string
		cache      cache.Cache
		store      FeedbackStore
		wantStatus string
		wantCode   int
	}{
		{"all healthy", cache.NewMemoryCache(10, time.Minute), pingStore{}, StatusHealthy, http.StatusOK},
		{"cache disabled", cache.NewNoopCache(), pingStore{}, StatusDegraded, http.StatusOK},
		{"cache unreachable", pingCache{err: errors.New("connection refused")}, pingStore{}, StatusDegraded, http.StatusOK},
		{"cache reachable", pingCache{}, pingStore{}, StatusHealthy, http.StatusOK},
		{"store down", cache.NewMemoryCache(10, time.Minute), pingStore{err: errors.New("database is locked")}, StatusUnhealthy, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(NewHealthChecker(tt.cache, tt.store), "1.2.3")
			mux := http.NewServeMux()
			h.RegisterRoutes(mux)

			rec := httptest.NewRecorder()
			mux.ServeHTTP(rec, httptest.NewRequest("GET", "/healthz", nil))

			if rec.Code != tt.wantCode {
				t.Errorf("status code = %d, want %d", rec.Code, tt.wantCode)
			}
			var status HealthStatus
			if err := json.NewDecoder(rec.Body).Decode(&status); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if status.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q (components %+v)", status.Status, tt.wantStatus, status.Components)
			}
			if status.Version != "1.2.3" {
				t.Errorf("version = %q", status.Version)
			}
			if _, ok := status.Components["feedback"]; !ok {
				t.Error("feedback component missing")
			}
		})
	}
}

func TestHealthCheckThroughInstrumentedCache(t *testing.T) {
	c := cache.WithMetrics(pingCache{err: errors.New("timeout")}, metrics.New())
	status := NewHealthChecker(c, pingStore{}).Check(context.Background())

	if status.Components["cache"].Status != StatusDegraded {
		t.Errorf("cache status = %q, want degraded", status.Components["cache"].Status)
	}
}

func TestVersionEndpoint(t *testing.T) {
	mux := http.NewServeMux()
	NewHealthHandler(NewHealthChecker(cache.NewNoopCache(), pingStore{}), "0.9.0").RegisterRoutes(mux)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest("GET", "/version", nil))

	var body map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["version"] != "0.9.0" {
		t.Errorf("version = %q", body["version"])
	}
}
