// Package priority scores and orders categories for retrieval. The score is a
// hybrid of a static per-category weight and dynamic usage and recency
// signals drawn from the category access log:
//
//	priority = static × (1 + usageWeight·usage + recencyWeight·recency)
//
// The computation is pure. Callers gather the access aggregates from the
// store and hand them in; nothing here blocks.
package priority

import (
	"math"
	"sort"
	"time"
)

// Config holds the ranking constants. All of them are configuration, loaded
// from the [priority] section; the zero value is unusable, start from
// DefaultConfig.
type Config struct {
	// StaticWeights maps category names to their base weight.
	StaticWeights map[string]float64 `mapstructure:"static_weights"`

	// DefaultWeight applies to categories absent from StaticWeights.
	DefaultWeight float64 `mapstructure:"default_weight"`

	// UsageWindowDays is the rolling window for counting accesses.
	UsageWindowDays int `mapstructure:"usage_window_days"`

	// UsageNorm is the access count at which the usage signal saturates.
	UsageNorm float64 `mapstructure:"usage_norm"`

	// UsageWeight scales the usage signal's contribution.
	UsageWeight float64 `mapstructure:"usage_weight"`

	// RecencyHalfLifeDays is the half-life of the recency signal.
	RecencyHalfLifeDays float64 `mapstructure:"recency_half_life_days"`

	// RecencyWeight scales the recency signal's contribution.
	RecencyWeight float64 `mapstructure:"recency_weight"`
}

// DefaultConfig returns the standard ranking constants.
func DefaultConfig() Config {
	return Config{
		StaticWeights: map[string]float64{
			"preferences":   1.0,
			"facts":         0.9,
			"goals":         0.7,
			"skills":        0.6,
			"relationships": 0.5,
			"events":        0.4,
		},
		DefaultWeight:       0.3,
		UsageWindowDays:     30,
		UsageNorm:           10,
		UsageWeight:         0.3,
		RecencyHalfLifeDays: 14,
		RecencyWeight:       0.2,
	}
}

// StaticWeight returns the base weight for a category name.
func (c Config) StaticWeight(category string) float64 {
	if w, ok := c.StaticWeights[category]; ok {
		return w
	}
	return c.DefaultWeight
}

// Window returns the usage window as a duration.
func (c Config) Window() time.Duration {
	return time.Duration(c.UsageWindowDays) * 24 * time.Hour
}

// Stats carries the per-category access aggregates feeding the score.
type Stats struct {
	// AccessCount is the number of access-log rows within the usage window.
	AccessCount int

	// LastAccess is the most recent access instant. Zero means never
	// accessed, which pins the recency signal to 0.
	LastAccess time.Time
}

// Ranker computes category scores from a Config.
type Ranker struct {
	cfg Config
}

// NewRanker returns a Ranker using the given constants.
func NewRanker(cfg Config) *Ranker {
	return &Ranker{cfg: cfg}
}

// Window returns the usage window the ranker's constants assume. Callers
// aggregating access counts must use this window so the counts they hand to
// Score match the formula.
func (r *Ranker) Window() time.Duration {
	return r.cfg.Window()
}

// Score computes the priority of one category at instant now.
func (r *Ranker) Score(category string, s Stats, now time.Time) float64 {
	usage := math.Min(float64(s.AccessCount)/r.cfg.UsageNorm, 1.0)

	recency := 0.0
	if !s.LastAccess.IsZero() {
		days := now.Sub(s.LastAccess).Hours() / 24
		if days < 0 {
			days = 0
		}
		recency = math.Pow(0.5, days/r.cfg.RecencyHalfLifeDays)
	}

	return r.cfg.StaticWeight(category) * (1.0 + r.cfg.UsageWeight*usage + r.cfg.RecencyWeight*recency)
}

// Ranked pairs a category name with its computed score.
type Ranked struct {
	Category string
	Score    float64
}

// Rank scores every category in stats and returns them ordered by score
// descending, name ascending on ties. Categories with no stats entry still
// rank; pass a zero Stats for them.
func (r *Ranker) Rank(stats map[string]Stats, now time.Time) []Ranked {
	out := make([]Ranked, 0, len(stats))
	for name, s := range stats {
		out = append(out, Ranked{Category: name, Score: r.Score(name, s, now)})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Category < out[j].Category
	})
	return out
}
