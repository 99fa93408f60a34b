// Package autocomplete implements the request pipeline behind the
// autocomplete and feedback endpoints.
package autocomplete

import (
	"context"
	stderrors "errors"
	"strconv"
	"time"
	"unicode/utf8"

	"golang.org/x/sync/singleflight"

	"github.com/geosuggest/geosuggest/internal/bus"
	"github.com/geosuggest/geosuggest/internal/cache"
	"github.com/geosuggest/geosuggest/internal/feedback"
	"github.com/geosuggest/geosuggest/internal/metrics"
	reqctx "github.com/geosuggest/geosuggest/internal/pkg/context"
	apperrors "github.com/geosuggest/geosuggest/internal/pkg/errors"
	"github.com/geosuggest/geosuggest/internal/pkg/logger"
	"github.com/geosuggest/geosuggest/internal/pkg/security"
	"github.com/geosuggest/geosuggest/internal/place"
	"github.com/geosuggest/geosuggest/internal/ratelimit"
)

// MaxQueryLength is the longest accepted query, in characters.
const MaxQueryLength = 256

// Popular endpoint limits.
const (
	DefaultPopularLimit = 5
	MaxPopularLimit     = 100
)

const eventSource = "autocomplete"

// Geocoder resolves free text into candidate places.
type Geocoder interface {
	Search(ctx context.Context, query string) ([]place.Suggestion, error)
}

// Ranker orders candidates for a query.
type Ranker interface {
	Rank(ctx context.Context, query string, suggestions []place.Suggestion) ([]place.Suggestion, error)
}

// FeedbackStore persists selections and serves popularity.
type FeedbackStore interface {
	RecordSelection(ctx context.Context, query string, item feedback.SelectedItem) error
	PopularResults(ctx context.Context, prefix string, limit int) ([]feedback.Popularity, error)
	Ping(ctx context.Context) error
}

// Limiter admits or rejects a client request.
type Limiter interface {
	Allow(clientID string) error
}

// Metrics records pipeline outcomes.
type Metrics interface {
	RecordAutocomplete(outcome string, results int)
	RecordRateLimited(window string)
	RecordGeocoder(duration time.Duration, err error)
	RecordFeedbackError()
}

// Deps are the collaborators of a Service. Limiter, Bus and Metrics are
// optional.
type Deps struct {
	Geocoder Geocoder
	Ranker   Ranker
	Cache    cache.Cache
	Feedback FeedbackStore
	Limiter  Limiter
	Bus      bus.Bus
	Metrics  Metrics
}

// Config holds pipeline settings.
type Config struct {
	// CacheTTL is how long ranked results stay cached.
	CacheTTL time.Duration

	// CoalesceMisses shares one geocoder call between concurrent misses
	// for the same key.
	CoalesceMisses bool
}

// DefaultConfig returns the default pipeline settings.
func DefaultConfig() Config {
	return Config{CacheTTL: 300 * time.Second}
}

// FeedbackRequest is the body of POST /feedback.
type FeedbackRequest struct {
	Query        string            `json:"query"`
	SelectedItem *place.Suggestion `json:"selected_item"`
}

// Service runs the autocomplete pipeline.
type Service struct {
	geocoder Geocoder
	ranker   Ranker
	cache    cache.Cache
	feedback FeedbackStore
	limiter  Limiter
	bus      bus.Bus
	metrics  Metrics
	cfg      Config
	log      *logger.Logger

	group singleflight.Group
}

// NewService creates a pipeline. Geocoder, Ranker, Cache and Feedback are
// required.
func NewService(deps Deps, cfg Config, log *logger.Logger) (*Service, error) {
	switch {
	case deps.Geocoder == nil:
		return nil, stderrors.New("autocomplete: geocoder is required")
	case deps.Ranker == nil:
		return nil, stderrors.New("autocomplete: ranker is required")
	case deps.Cache == nil:
		return nil, stderrors.New("autocomplete: cache is required")
	case deps.Feedback == nil:
		return nil, stderrors.New("autocomplete: feedback store is required")
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = DefaultConfig().CacheTTL
	}
	m := deps.Metrics
	if m == nil {
		m = nopMetrics{}
	}
	return &Service{
		geocoder: deps.Geocoder,
		ranker:   deps.Ranker,
		cache:    deps.Cache,
		feedback: deps.Feedback,
		limiter:  deps.Limiter,
		bus:      deps.Bus,
		metrics:  m,
		cfg:      cfg,
		log:      log.WithComponent("autocomplete"),
	}, nil
}

// ValidateQuery sanitizes query and checks it is non-empty and within
// MaxQueryLength.
func ValidateQuery(query string) (string, error) {
	q := security.SanitizeQuery(query)
	if q == "" {
		return "", apperrors.ValidationError("query is required")
	}
	if utf8.RuneCountInString(q) > MaxQueryLength {
		return "", apperrors.ValidationError("query is too long").
			WithDetail("max_length", strconv.Itoa(MaxQueryLength))
	}
	return q, nil
}

// Autocomplete returns ranked suggestions for query on behalf of clientID.
// Admission is checked after validation, so rejected input never counts
// against the client; an admitted request counts whatever happens next.
func (s *Service) Autocomplete(ctx context.Context, clientID, query string) ([]place.Suggestion, error) {
	log := s.log.WithContext(ctx)

	q, err := ValidateQuery(query)
	if err != nil {
		s.metrics.RecordAutocomplete(metrics.OutcomeInvalid, 0)
		return nil, err
	}

	if err := s.admit(clientID); err != nil {
		s.metrics.RecordAutocomplete(metrics.OutcomeRateLimited, 0)
		log.Info("Rate limit exceeded", "client", clientID, "error", err.Error())
		return nil, err
	}

	key := cache.Key(q)
	if cached, ok := s.cache.Get(ctx, key); ok {
		s.metrics.RecordAutocomplete(metrics.OutcomeCacheHit, len(cached))
		return cached, nil
	}

	ranked, err := s.resolve(ctx, key, q)
	if err != nil {
		if apperrors.HasCode(err, apperrors.CodeUpstreamUnavailable) || apperrors.HasCode(err, apperrors.CodeUpstreamMalformed) {
			s.metrics.RecordAutocomplete(metrics.OutcomeUpstreamError, 0)
			log.WithError(err).Error("Geocoder request failed", "query", security.SanitizeForLog(q))
		} else {
			s.metrics.RecordAutocomplete(metrics.OutcomeError, 0)
		}
		return nil, err
	}

	s.metrics.RecordAutocomplete(metrics.OutcomeOK, len(ranked))
	return ranked, nil
}

func (s *Service) admit(clientID string) error {
	if s.limiter == nil {
		return nil
	}
	err := s.limiter.Allow(clientID)
	if err == nil {
		return nil
	}
	var exceeded *ratelimit.ExceededError
	if stderrors.As(err, &exceeded) {
		s.metrics.RecordRateLimited(exceeded.Window)
		return apperrors.RateLimitedError(exceeded.Window, exceeded.Limit, exceeded.RetryAfter)
	}
	return apperrors.InternalError("rate limiter failed", err)
}

// resolve runs the miss path, optionally sharing it between concurrent
// callers of the same key.
func (s *Service) resolve(ctx context.Context, key, query string) ([]place.Suggestion, error) {
	if !s.cfg.CoalesceMisses {
		return s.fetchAndRank(ctx, key, query)
	}

	// The shared call must not die with whichever caller started it.
	shared := context.WithoutCancel(ctx)
	ch := s.group.DoChan(key, func() (any, error) {
		return s.fetchAndRank(shared, key, query)
	})

	select {
	case <-ctx.Done():
		return nil, apperrors.Wrap(apperrors.CodeTimeout, "request cancelled", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return cloneAll(res.Val.([]place.Suggestion)), nil
	}
}

func (s *Service) fetchAndRank(ctx context.Context, key, query string) ([]place.Suggestion, error) {
	start := time.Now()
	raw, err := s.geocoder.Search(ctx, query)
	s.metrics.RecordGeocoder(time.Since(start), err)
	if err != nil {
		return nil, err
	}

	ranked, err := s.ranker.Rank(ctx, query, raw)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeTimeout, "ranking interrupted", err)
	}
	if ranked == nil {
		ranked = []place.Suggestion{}
	}

	s.cache.Set(ctx, key, ranked, s.cfg.CacheTTL)
	return ranked, nil
}

// RecordFeedback stores a selection and announces it on the bus.
func (s *Service) RecordFeedback(ctx context.Context, req FeedbackRequest) error {
	log := s.log.WithContext(ctx)

	query := security.SanitizeQuery(req.Query)
	if query == "" {
		return apperrors.ValidationError("query is required")
	}
	if req.SelectedItem == nil {
		return apperrors.ValidationError("selected_item is required")
	}
	if req.SelectedItem.PlaceID == "" {
		return apperrors.ValidationError("selected_item.osm_id is required")
	}

	item := feedback.SelectedItem{
		PlaceID:     req.SelectedItem.PlaceID,
		DisplayName: req.SelectedItem.DisplayName,
	}
	if err := s.feedback.RecordSelection(ctx, query, item); err != nil {
		if !apperrors.IsValidation(err) {
			s.metrics.RecordFeedbackError()
			log.WithError(err).Error("Failed to record selection",
				"query", security.SanitizeForLog(query), "osm_id", security.SanitizeForLog(item.PlaceID))
		}
		return err
	}

	s.publishSelection(ctx, query, item)
	return nil
}

func (s *Service) publishSelection(ctx context.Context, query string, item feedback.SelectedItem) {
	if s.bus == nil {
		return
	}
	event := bus.NewEvent(bus.TopicSelectionRecorded, eventSource, bus.SelectionRecorded{
		Query:       query,
		QueryPrefix: feedback.QueryPrefix(query),
		PlaceID:     item.PlaceID,
		DisplayName: item.DisplayName,
		RecordedAt:  time.Now().UTC(),
	})
	event.CorrelationID = reqctx.GetRequestID(ctx)

	if err := s.bus.Publish(ctx, bus.TopicSelectionRecorded, event); err != nil {
		s.log.WithContext(ctx).WithError(err).Warn("Failed to publish selection event")
	}
}

// Popular returns the most selected places for the prefix of query.
func (s *Service) Popular(ctx context.Context, query string, limit int) ([]feedback.Popularity, error) {
	q := security.SanitizeQuery(query)
	if q == "" {
		return nil, apperrors.ValidationError("prefix is required")
	}
	if limit <= 0 {
		limit = DefaultPopularLimit
	}
	if limit > MaxPopularLimit {
		limit = MaxPopularLimit
	}
	return s.feedback.PopularResults(ctx, feedback.QueryPrefix(q), limit)
}

func cloneAll(in []place.Suggestion) []place.Suggestion {
	out := make([]place.Suggestion, len(in))
	for i, s := range in {
		out[i] = s.Clone()
	}
	return out
}

type nopMetrics struct{}

func (nopMetrics) RecordAutocomplete(string, int)      {}
func (nopMetrics) RecordRateLimited(string)            {}
func (nopMetrics) RecordGeocoder(time.Duration, error) {}
func (nopMetrics) RecordFeedbackError()                {}
