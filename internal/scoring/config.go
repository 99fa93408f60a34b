package scoring

import "strings"

const (
	// DefaultPrefixBonus is the signal value for a name that starts with the query.
	DefaultPrefixBonus = 20

	// DefaultMaxResults caps the ranked list.
	DefaultMaxResults = 20

	// DefaultPopularLimit is how many popular places per prefix are consulted.
	DefaultPopularLimit = 10
)

// Weights multiply each 0-100 signal in the composite score. They are
// independent and need not sum to 1.
type Weights struct {
	Fuzzy      float64
	Partial    float64
	Prefix     float64
	Relevance  float64
	Type       float64
	Popularity float64
}

// DefaultWeights returns the production weights.
func DefaultWeights() Weights {
	return Weights{
		Fuzzy:      0.4,
		Partial:    0.3,
		Prefix:     0.1,
		Relevance:  0.2,
		Type:       0.05,
		Popularity: 0.15,
	}
}

// Config holds ranking parameters.
type Config struct {
	Weights      Weights
	PrefixBonus  float64
	MaxResults   int
	PopularLimit int
}

// DefaultConfig returns the default ranking configuration.
func DefaultConfig() Config {
	return Config{
		Weights:      DefaultWeights(),
		PrefixBonus:  DefaultPrefixBonus,
		MaxResults:   DefaultMaxResults,
		PopularLimit: DefaultPopularLimit,
	}
}

var typePriorities = map[string]float64{
	"city":         100,
	"town":         100,
	"village":      100,
	"hamlet":       100,
	"road":         50,
	"street":       50,
	"highway":      50,
	"house":        10,
	"house_number": 10,
	"building":     10,
}

// TypePriority scores a place type. Unknown types score 0.
func TypePriority(placeType string) float64 {
	return typePriorities[strings.ToLower(placeType)]
}
