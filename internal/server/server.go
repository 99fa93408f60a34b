// Package server provides the HTTP server that wires all services together.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/geosuggest/geosuggest/internal/autocomplete"
	"github.com/geosuggest/geosuggest/internal/bus"
	"github.com/geosuggest/geosuggest/internal/cache"
	"github.com/geosuggest/geosuggest/internal/config"
	"github.com/geosuggest/geosuggest/internal/feedback"
	"github.com/geosuggest/geosuggest/internal/geocoder"
	"github.com/geosuggest/geosuggest/internal/metrics"
	"github.com/geosuggest/geosuggest/internal/pkg/logger"
	"github.com/geosuggest/geosuggest/internal/pkg/middleware"
	"github.com/geosuggest/geosuggest/internal/ratelimit"
	"github.com/geosuggest/geosuggest/internal/scoring"
)

// Server is the main HTTP server that wires all services together.
type Server struct {
	cfg        *config.Config
	version    string
	log        *logger.Logger
	httpServer *http.Server
	handler    http.Handler

	// Services
	metrics  *metrics.Metrics
	bus      bus.Bus
	cache    cache.Cache
	feedback *feedback.Store
	service  *autocomplete.Service

	mu      sync.RWMutex
	started bool
	closed  bool
}

// HTTP timeouts.
const (
	readTimeout  = 30 * time.Second
	writeTimeout = 60 * time.Second
)

// New creates a new server with all dependencies. Resources opened before a
// failure are released.
func New(ctx context.Context, appCfg *config.Config, version string, log *logger.Logger) (_ *Server, err error) {
	if appCfg == nil {
		appCfg = config.Default()
	}

	s := &Server{
		cfg:     appCfg,
		version: version,
		log:     log.WithComponent("server"),
	}
	defer func() {
		if err != nil {
			s.closeServices()
		}
	}()

	var m *metrics.Metrics
	if appCfg.Metrics.Enabled {
		m = metrics.New()
		s.metrics = m
	}

	// Event bus, instrumented when metrics are on
	innerBus, err := bus.NewBus(appCfg.Bus, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create event bus: %w", err)
	}
	s.bus = innerBus
	if m != nil {
		s.bus = bus.NewInstrumentedBus(innerBus, m)
		if err := metrics.NewEventSubscriber(m, s.bus).SubscribeToEvents(ctx); err != nil {
			return nil, fmt.Errorf("failed to subscribe metrics to events: %w", err)
		}
	}

	// Result cache
	resultCache := cache.New(appCfg.Cache, log)
	if m != nil {
		resultCache = cache.WithMetrics(resultCache, m)
	}
	s.cache = resultCache

	// Feedback store
	store, err := feedback.Open(ctx, appCfg.Feedback.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open feedback store: %w", err)
	}
	s.feedback = store
	s.log.Info("Opened feedback store", "path", appCfg.Feedback.Path)

	// Rate limiter
	var limiter autocomplete.Limiter
	if appCfg.RateLimit.Enabled {
		lim, err := ratelimit.New(rateLimitWindows(appCfg.RateLimit.Windows))
		if err != nil {
			return nil, fmt.Errorf("failed to create rate limiter: %w", err)
		}
		limiter = lim
		if m != nil {
			m.RegisterLimiterClients(lim.Clients)
		}
		s.log.Info("Rate limiting enabled", "windows", len(appCfg.RateLimit.Windows))
	}

	geo := geocoder.New(geocoder.Config{
		BaseURL:   appCfg.Geocoder.URL,
		Timeout:   appCfg.Geocoder.Timeout,
		UserAgent: appCfg.Geocoder.UserAgent,
		RPS:       appCfg.Geocoder.RPS,
	})

	deps := autocomplete.Deps{
		Geocoder: geo,
		Ranker:   scoring.NewEngine(store, scoringConfig(appCfg.Scoring), log),
		Cache:    resultCache,
		Feedback: store,
		Limiter:  limiter,
		Bus:      s.bus,
	}
	if m != nil {
		deps.Metrics = m
	}

	svc, err := autocomplete.NewService(deps, autocomplete.Config{
		CacheTTL:       appCfg.Cache.TTL,
		CoalesceMisses: appCfg.Cache.CoalesceMisses,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create autocomplete service: %w", err)
	}
	s.service = svc

	s.handler = s.setupRoutes()
	return s, nil
}

// rateLimitWindows converts configured windows to limiter windows.
func rateLimitWindows(specs config.WindowList) []ratelimit.Window {
	windows := make([]ratelimit.Window, 0, len(specs))
	for _, w := range specs {
		windows = append(windows, ratelimit.Window{Name: w.Name, Duration: w.Duration, Limit: w.Limit})
	}
	return windows
}

// scoringConfig converts configured weights to the ranking configuration.
func scoringConfig(c config.ScoringConfig) scoring.Config {
	return scoring.Config{
		Weights: scoring.Weights{
			Fuzzy:      c.FuzzyWeight,
			Partial:    c.PartialWeight,
			Prefix:     c.PrefixWeight,
			Relevance:  c.RelevanceWeight,
			Type:       c.TypeWeight,
			Popularity: c.PopularityWeight,
		},
		PrefixBonus:  c.PrefixBonus,
		MaxResults:   c.MaxResults,
		PopularLimit: c.PopularLimit,
	}
}

// setupRoutes configures all HTTP routes and the middleware chain.
func (s *Server) setupRoutes() http.Handler {
	mux := http.NewServeMux()

	autocomplete.NewHandler(s.service).RegisterRoutes(mux)

	checker := autocomplete.NewHealthChecker(s.cache, s.feedback)
	autocomplete.NewHealthHandler(checker, s.version).RegisterRoutes(mux)

	if s.metrics != nil {
		mux.Handle("GET "+s.cfg.Metrics.Path, s.metrics.Handler())
	}

	handler := middleware.Chain(mux,
		middleware.RequestID,
		middleware.Recovery(s.log),
		middleware.ClientID(s.cfg.TrustProxy),
		middleware.CORS(s.cfg.CORSOrigins),
		middleware.Logging(s.log),
	)
	if s.metrics != nil {
		handler = metrics.HTTPMiddleware(s.metrics, handler)
	}
	return handler
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Metrics returns the metrics registry owner, or nil when metrics are off.
func (s *Server) Metrics() *metrics.Metrics {
	return s.metrics
}

// Start starts the HTTP server and blocks until it stops. It returns nil
// after a graceful Stop.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return fmt.Errorf("server already started")
	}
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("server is closed")
	}
	s.started = true

	addr := s.cfg.Address()
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.handler,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}
	srv := s.httpServer
	s.mu.Unlock()

	s.log.Info("Starting HTTP server", "addr", addr, "version", s.version)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully stops the server, then closes the bus, cache and feedback
// store. It is safe to call more than once.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true

	s.log.Info("Shutting down server...")

	var shutdownErr error
	if s.started && s.httpServer != nil {
		shutdownCtx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
		defer cancel()

		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.log.Error("HTTP shutdown error", "error", err)
			shutdownErr = err
		}
	}

	s.closeServices()
	s.started = false
	s.log.Info("Server stopped")

	return shutdownErr
}

// closeServices releases everything New opened. The bus goes first so
// in-flight handlers drain before the store closes.
func (s *Server) closeServices() {
	if s.bus != nil {
		if err := s.bus.Close(); err != nil {
			s.log.Warn("Error closing event bus", "error", err)
		}
	}
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			s.log.Warn("Error closing cache", "error", err)
		}
	}
	if s.feedback != nil {
		if err := s.feedback.Close(); err != nil {
			s.log.Warn("Error closing feedback store", "error", err)
		}
	}
}

// Health returns whether the server is accepting requests.
func (s *Server) Health() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started && !s.closed
}
