// Package scoring ranks geocoder candidates by fusing text similarity,
// geocoder relevance, place type and learned popularity into one composite
// score.
package scoring

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/geosuggest/geosuggest/internal/feedback"
	"github.com/geosuggest/geosuggest/internal/pkg/logger"
	"github.com/geosuggest/geosuggest/internal/place"
)

// PopularitySource supplies the most selected places for a query prefix.
type PopularitySource interface {
	PopularResults(ctx context.Context, prefix string, limit int) ([]feedback.Popularity, error)
}

// Snapshot is a read-only view of popularity counts for one prefix.
type Snapshot struct {
	counts map[string]int64
	max    int64
}

// NewSnapshot indexes popularity records by place id.
func NewSnapshot(records []feedback.Popularity) Snapshot {
	s := Snapshot{counts: make(map[string]int64, len(records))}
	for _, r := range records {
		s.counts[r.PlaceID] = r.Count
		if r.Count > s.max {
			s.max = r.Count
		}
	}
	return s
}

// Boost returns the popularity signal for placeID: its count relative to the
// most popular place in the snapshot, on a 0-100 scale.
func (s Snapshot) Boost(placeID string) float64 {
	if placeID == "" || s.max <= 0 {
		return 0
	}
	c, ok := s.counts[placeID]
	if !ok {
		return 0
	}
	return float64(c) / float64(s.max) * 100
}

// Breakdown holds the individual signals behind a composite score.
type Breakdown struct {
	Fuzzy      float64 `json:"fuzzy"`
	Partial    float64 `json:"partial"`
	Prefix     float64 `json:"prefix"`
	Relevance  float64 `json:"relevance"`
	Type       float64 `json:"type"`
	Popularity float64 `json:"popularity"`
	Composite  float64 `json:"composite"`
}

// Score computes every signal for s against query.
func Score(query string, s place.Suggestion, snap Snapshot, cfg Config) Breakdown {
	q := strings.ToLower(query)
	name := strings.ToLower(s.DisplayName)

	b := Breakdown{
		Fuzzy:      Ratio(q, name),
		Partial:    PartialRatio(q, name),
		Relevance:  s.Importance * 100,
		Type:       TypePriority(s.Type),
		Popularity: snap.Boost(s.PlaceID),
	}
	if strings.HasPrefix(name, q) {
		b.Prefix = cfg.PrefixBonus
	}

	w := cfg.Weights
	b.Composite = b.Fuzzy*w.Fuzzy +
		b.Partial*w.Partial +
		b.Prefix*w.Prefix +
		b.Relevance*w.Relevance +
		b.Type*w.Type +
		b.Popularity*w.Popularity
	return b
}

// RankWith scores and orders suggestions: composite score descending, then
// importance descending, then input order. The input slice is not modified.
func RankWith(query string, suggestions []place.Suggestion, snap Snapshot, cfg Config) []place.Suggestion {
	ranked := make([]place.Suggestion, len(suggestions))
	for i, s := range suggestions {
		ranked[i] = s.Clone()
		ranked[i].Score = Score(query, s, snap, cfg).Composite
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].Importance > ranked[j].Importance
	})

	if cfg.MaxResults > 0 && len(ranked) > cfg.MaxResults {
		ranked = ranked[:cfg.MaxResults]
	}
	return ranked
}

// Engine ranks suggestions using live popularity data.
type Engine struct {
	source PopularitySource
	cfg    Config
	log    *logger.Logger
}

// NewEngine creates a scoring engine. source may be nil, in which case
// popularity never contributes.
func NewEngine(source PopularitySource, cfg Config, log *logger.Logger) *Engine {
	return &Engine{
		source: source,
		cfg:    cfg,
		log:    log.WithComponent("scoring"),
	}
}

// Config returns the engine's ranking configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Rank loads the popularity snapshot for query's prefix and ranks
// suggestions with it. A failed popularity read is logged and ranking
// proceeds without the popularity signal.
func (e *Engine) Rank(ctx context.Context, query string, suggestions []place.Suggestion) ([]place.Suggestion, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	snap := e.Snapshot(ctx, query)
	ranked := RankWith(query, suggestions, snap, e.cfg)
	if len(ranked) > 0 && e.log.Enabled(ctx, slog.LevelDebug) {
		e.log.WithContext(ctx).Debug("Ranked suggestions",
			"count", len(ranked),
			"top", ranked[0].PlaceID,
			"breakdown", e.Breakdown(query, ranked[0], snap))
	}
	return ranked, nil
}

// Breakdown returns the per-signal scores for s under the engine's weights.
func (e *Engine) Breakdown(query string, s place.Suggestion, snap Snapshot) Breakdown {
	return Score(query, s, snap, e.cfg)
}

// Snapshot returns the popularity snapshot Rank would use for query.
func (e *Engine) Snapshot(ctx context.Context, query string) Snapshot {
	if e.source == nil || e.cfg.PopularLimit <= 0 {
		return NewSnapshot(nil)
	}
	records, err := e.source.PopularResults(ctx, feedback.QueryPrefix(query), e.cfg.PopularLimit)
	if err != nil {
		e.log.WithContext(ctx).WithError(err).Warn("Popularity unavailable, ranking without it",
			"prefix", feedback.QueryPrefix(query))
		return NewSnapshot(nil)
	}
	return NewSnapshot(records)
}
