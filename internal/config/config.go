// Package config handles configuration loading and validation.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	// Server configuration
	Host            string        `envconfig:"GEOSUGGEST_HOST" yaml:"host"`
	Port            int           `envconfig:"GEOSUGGEST_PORT" yaml:"port"`
	CORSOrigins     string        `envconfig:"GEOSUGGEST_CORS_ORIGINS" yaml:"cors_origins"`
	ShutdownTimeout time.Duration `envconfig:"GEOSUGGEST_SHUTDOWN_TIMEOUT" yaml:"shutdown_timeout"`

	// TrustProxy takes the client address from X-Forwarded-For / X-Real-IP.
	// Only enable behind a proxy that overwrites those headers.
	TrustProxy bool `envconfig:"GEOSUGGEST_TRUST_PROXY" yaml:"trust_proxy"`

	// Geocoder configuration
	Geocoder GeocoderConfig `yaml:"geocoder"`

	// Cache configuration
	Cache CacheConfig `yaml:"cache"`

	// Feedback store configuration
	Feedback FeedbackConfig `yaml:"feedback"`

	// Rate limit configuration
	RateLimit RateLimitConfig `yaml:"rate_limit"`

	// Scoring configuration
	Scoring ScoringConfig `yaml:"scoring"`

	// Bus configuration
	Bus BusConfig `yaml:"bus"`

	// Logging configuration
	Log LogConfig `yaml:"log"`

	// Metrics configuration
	Metrics MetricsConfig `yaml:"metrics"`
}

// GeocoderConfig holds the upstream search engine settings.
type GeocoderConfig struct {
	URL       string        `envconfig:"GEOSUGGEST_GEOCODER_URL" yaml:"url"`
	Timeout   time.Duration `envconfig:"GEOSUGGEST_GEOCODER_TIMEOUT" yaml:"timeout"`
	UserAgent string        `envconfig:"GEOSUGGEST_GEOCODER_USER_AGENT" yaml:"user_agent"`
	RPS       float64       `envconfig:"GEOSUGGEST_GEOCODER_RPS" yaml:"rps"` // 0 = unthrottled
}

// CacheConfig holds result cache settings.
type CacheConfig struct {
	Type           string        `envconfig:"GEOSUGGEST_CACHE_TYPE" yaml:"type"`
	RedisURL       string        `envconfig:"GEOSUGGEST_REDIS_URL" yaml:"redis_url"`
	TTL            time.Duration `envconfig:"GEOSUGGEST_CACHE_TTL" yaml:"ttl"`
	Size           int           `envconfig:"GEOSUGGEST_CACHE_SIZE" yaml:"size"`
	CoalesceMisses bool          `envconfig:"GEOSUGGEST_CACHE_COALESCE_MISSES" yaml:"coalesce_misses"`
}

// FeedbackConfig holds feedback store settings.
type FeedbackConfig struct {
	Path string `envconfig:"GEOSUGGEST_FEEDBACK_PATH" yaml:"path"`
}

// RateLimitConfig holds per-client admission settings.
type RateLimitConfig struct {
	Enabled bool       `envconfig:"GEOSUGGEST_RATE_LIMIT_ENABLED" yaml:"enabled"`
	Windows WindowList `envconfig:"GEOSUGGEST_RATE_LIMIT_WINDOWS" yaml:"windows"`
}

// WindowSpec is one sliding window: at most Limit requests per Duration.
type WindowSpec struct {
	Name     string        `yaml:"name"`
	Duration time.Duration `yaml:"duration"`
	Limit    int           `yaml:"limit"`
}

// WindowList is a set of windows. From the environment it is written as
// comma separated name=duration:limit entries, e.g. "minute=60s:3000,hour=1h:3000".
type WindowList []WindowSpec

// Decode implements envconfig.Decoder.
func (w *WindowList) Decode(value string) error {
	var out WindowList
	for _, entry := range strings.Split(value, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		name, rest, ok := strings.Cut(entry, "=")
		if !ok {
			return fmt.Errorf("window %q: expected name=duration:limit", entry)
		}
		durStr, limitStr, ok := strings.Cut(rest, ":")
		if !ok {
			return fmt.Errorf("window %q: expected name=duration:limit", entry)
		}
		d, err := time.ParseDuration(strings.TrimSpace(durStr))
		if err != nil {
			return fmt.Errorf("window %q: %w", entry, err)
		}
		limit, err := strconv.Atoi(strings.TrimSpace(limitStr))
		if err != nil {
			return fmt.Errorf("window %q: invalid limit: %w", entry, err)
		}
		out = append(out, WindowSpec{Name: strings.TrimSpace(name), Duration: d, Limit: limit})
	}
	*w = out
	return nil
}

// ScoringConfig holds ranking weights and limits.
type ScoringConfig struct {
	FuzzyWeight      float64 `envconfig:"GEOSUGGEST_SCORING_FUZZY_WEIGHT" yaml:"fuzzy_weight"`
	PartialWeight    float64 `envconfig:"GEOSUGGEST_SCORING_PARTIAL_WEIGHT" yaml:"partial_weight"`
	PrefixWeight     float64 `envconfig:"GEOSUGGEST_SCORING_PREFIX_WEIGHT" yaml:"prefix_weight"`
	RelevanceWeight  float64 `envconfig:"GEOSUGGEST_SCORING_RELEVANCE_WEIGHT" yaml:"relevance_weight"`
	TypeWeight       float64 `envconfig:"GEOSUGGEST_SCORING_TYPE_WEIGHT" yaml:"type_weight"`
	PopularityWeight float64 `envconfig:"GEOSUGGEST_SCORING_POPULARITY_WEIGHT" yaml:"popularity_weight"`
	PrefixBonus      float64 `envconfig:"GEOSUGGEST_SCORING_PREFIX_BONUS" yaml:"prefix_bonus"`
	MaxResults       int     `envconfig:"GEOSUGGEST_SCORING_MAX_RESULTS" yaml:"max_results"`
	PopularLimit     int     `envconfig:"GEOSUGGEST_SCORING_POPULAR_LIMIT" yaml:"popular_limit"`
}

// BusConfig holds event bus settings.
type BusConfig struct {
	Type         string `envconfig:"GEOSUGGEST_BUS_TYPE" yaml:"type"`
	KafkaBrokers string `envconfig:"GEOSUGGEST_KAFKA_BROKERS" yaml:"kafka_brokers"`
	TopicPrefix  string `envconfig:"GEOSUGGEST_BUS_TOPIC_PREFIX" yaml:"topic_prefix"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `envconfig:"GEOSUGGEST_LOG_LEVEL" yaml:"level"`
	Format string `envconfig:"GEOSUGGEST_LOG_FORMAT" yaml:"format"`
}

// MetricsConfig holds Prometheus exposition settings.
type MetricsConfig struct {
	Enabled bool   `envconfig:"GEOSUGGEST_METRICS_ENABLED" yaml:"enabled"`
	Path    string `envconfig:"GEOSUGGEST_METRICS_PATH" yaml:"path"`
}

// Load loads configuration from environment variables and optional config file.
func Load(configPath string) (*Config, error) {
	cfg := &Config{}

	// Set defaults first
	setDefaults(cfg)

	// Load from YAML file if provided (overrides defaults)
	if configPath != "" {
		if err := loadFromFile(cfg, configPath); err != nil {
			return nil, fmt.Errorf("loading config file: %w", err)
		}
	}

	// Override with environment variables (highest priority)
	if err := envconfig.Process("", cfg); err != nil {
		return nil, fmt.Errorf("processing env config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// LoadFromEnv loads configuration from environment variables only.
func LoadFromEnv() (*Config, error) {
	return Load("")
}

// Default returns a configuration populated with defaults only.
func Default() *Config {
	cfg := &Config{}
	setDefaults(cfg)
	return cfg
}

func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

func setDefaults(cfg *Config) {
	cfg.Host = "0.0.0.0"
	cfg.Port = 8000
	cfg.CORSOrigins = "*"
	cfg.ShutdownTimeout = 15 * time.Second

	cfg.Geocoder = GeocoderConfig{
		URL:       "http://localhost:8088",
		Timeout:   5 * time.Second,
		UserAgent: "geosuggest/1.0",
	}

	cfg.Cache = CacheConfig{
		Type:     "redis",
		RedisURL: "redis://localhost:6379/0",
		TTL:      300 * time.Second,
		Size:     10000,
	}

	cfg.Feedback = FeedbackConfig{
		Path: "feedback.db",
	}

	cfg.RateLimit = RateLimitConfig{
		Enabled: true,
		Windows: WindowList{
			{Name: "minute", Duration: time.Minute, Limit: 3000},
			{Name: "hour", Duration: time.Hour, Limit: 3000},
			{Name: "day", Duration: 24 * time.Hour, Limit: 100000},
		},
	}

	cfg.Scoring = ScoringConfig{
		FuzzyWeight:      0.4,
		PartialWeight:    0.3,
		PrefixWeight:     0.1,
		RelevanceWeight:  0.2,
		TypeWeight:       0.05,
		PopularityWeight: 0.15,
		PrefixBonus:      20,
		MaxResults:       20,
		PopularLimit:     10,
	}

	cfg.Bus = BusConfig{
		Type:        "memory",
		TopicPrefix: "geosuggest.",
	}

	cfg.Log = LogConfig{
		Level:  "info",
		Format: "text",
	}

	cfg.Metrics = MetricsConfig{
		Enabled: true,
		Path:    "/metrics",
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	var errs []string

	// Server validation
	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, "port must be between 1 and 65535")
	}

	// Geocoder validation
	if c.Geocoder.URL == "" {
		errs = append(errs, "geocoder.url is required")
	}
	if c.Geocoder.Timeout <= 0 {
		errs = append(errs, "geocoder.timeout must be positive")
	}
	if c.Geocoder.RPS < 0 {
		errs = append(errs, "geocoder.rps must not be negative")
	}

	// Cache validation
	validCacheTypes := map[string]bool{"redis": true, "memory": true, "none": true}
	if !validCacheTypes[c.Cache.Type] {
		errs = append(errs, fmt.Sprintf("invalid cache type: %s (must be redis, memory, or none)", c.Cache.Type))
	}
	if c.Cache.TTL <= 0 {
		errs = append(errs, "cache.ttl must be positive")
	}
	if c.Cache.Type == "memory" && c.Cache.Size < 1 {
		errs = append(errs, "cache.size must be positive for the memory cache")
	}

	// Feedback validation
	if c.Feedback.Path == "" {
		errs = append(errs, "feedback.path is required")
	}

	// Rate limit validation
	if c.RateLimit.Enabled {
		if len(c.RateLimit.Windows) == 0 {
			errs = append(errs, "rate_limit.windows must not be empty when rate limiting is enabled")
		}
		seen := make(map[string]bool)
		for _, w := range c.RateLimit.Windows {
			if w.Name == "" {
				errs = append(errs, "rate_limit window name is required")
			} else if seen[w.Name] {
				errs = append(errs, fmt.Sprintf("duplicate rate_limit window: %s", w.Name))
			}
			seen[w.Name] = true
			if w.Duration <= 0 {
				errs = append(errs, fmt.Sprintf("rate_limit window %s: duration must be positive", w.Name))
			}
			if w.Limit < 1 {
				errs = append(errs, fmt.Sprintf("rate_limit window %s: limit must be positive", w.Name))
			}
		}
	}

	// Scoring validation
	weights := []float64{
		c.Scoring.FuzzyWeight, c.Scoring.PartialWeight, c.Scoring.PrefixWeight,
		c.Scoring.RelevanceWeight, c.Scoring.TypeWeight, c.Scoring.PopularityWeight,
	}
	for _, w := range weights {
		if w < 0 {
			errs = append(errs, "scoring weights must not be negative")
			break
		}
	}
	if c.Scoring.MaxResults < 1 {
		errs = append(errs, "scoring.max_results must be positive")
	}
	if c.Scoring.PopularLimit < 0 {
		errs = append(errs, "scoring.popular_limit must not be negative")
	}

	// Bus validation
	validBusTypes := map[string]bool{"memory": true, "kafka": true}
	if !validBusTypes[c.Bus.Type] {
		errs = append(errs, fmt.Sprintf("invalid bus type: %s (must be memory or kafka)", c.Bus.Type))
	}
	if c.Bus.Type == "kafka" && c.Bus.KafkaBrokers == "" {
		errs = append(errs, "bus.kafka_brokers is required for the kafka bus")
	}

	// Log validation
	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Log.Level] {
		errs = append(errs, fmt.Sprintf("invalid log level: %s (must be debug, info, warn, or error)", c.Log.Level))
	}

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[c.Log.Format] {
		errs = append(errs, fmt.Sprintf("invalid log format: %s (must be text or json)", c.Log.Format))
	}

	if c.Metrics.Enabled && !strings.HasPrefix(c.Metrics.Path, "/") {
		errs = append(errs, "metrics.path must start with /")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// Address returns the server address.
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.Log.Level == "debug"
}
