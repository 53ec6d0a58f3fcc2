package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/viper"

	"github.com/papercomputeco/engram/pkg/dotdir"
	"github.com/papercomputeco/engram/pkg/jobs"
	"github.com/papercomputeco/engram/pkg/priority"
)

// InitViper creates and returns a configured *viper.Viper.
// It sets defaults from NewDefaultConfig(), reads the config.toml file
// (if found via dotdir resolution), and binds environment variables
// with the ENGRAM_ prefix.
//
// Config precedence (highest to lowest):
//  1. CLI flags (once bound via BindRegisteredFlags)
//  2. Environment variables (ENGRAM_API_LISTEN, ENGRAM_STORAGE_PROVIDER, etc.)
//  3. config.toml file values
//  4. Defaults from NewDefaultConfig()
func InitViper(configDir string) (*viper.Viper, error) {
	v := viper.New()

	// 1. Register all defaults from NewDefaultConfig().
	setViperDefaults(v)

	// 2. Config file discovery via dotdir resolution.
	v.SetConfigName("config")
	v.SetConfigType("toml")

	ddm := dotdir.NewManager()
	target, err := ddm.Target(configDir)
	if err != nil {
		return nil, fmt.Errorf("resolving config dir: %w", err)
	}

	if target != "" {
		v.AddConfigPath(target)
	}

	if err := v.ReadInConfig(); err != nil {
		// Config file not found errors are fine, defaults will apply.
		if !errors.As(err, &viper.ConfigFileNotFoundError{}) {
			return nil, fmt.Errorf("reading config: %w", err)
		}
	}

	// 3. Environment variables: ENGRAM_API_LISTEN, ENGRAM_STORAGE_SQLITE_PATH, etc.
	v.SetEnvPrefix("ENGRAM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	return v, nil
}

// setViperDefaults registers defaults from NewDefaultConfig() into viper
// using dotted-key notation. This keeps defaults.go as the single source of truth.
func setViperDefaults(v *viper.Viper) {
	d := NewDefaultConfig()

	v.SetDefault("version", d.Version)

	// Storage
	v.SetDefault("storage.provider", d.Storage.Provider)
	v.SetDefault("storage.sqlite_path", d.Storage.SQLitePath)
	v.SetDefault("storage.postgres_dsn", d.Storage.PostgresDSN)

	// API
	v.SetDefault("api.listen", d.API.Listen)

	// Client
	v.SetDefault("client.api_target", d.Client.APITarget)

	// Vector store
	v.SetDefault("vector_store.provider", d.VectorStore.Provider)
	v.SetDefault("vector_store.target", d.VectorStore.Target)

	// Embedding
	v.SetDefault("embedding.provider", d.Embedding.Provider)
	v.SetDefault("embedding.target", d.Embedding.Target)
	v.SetDefault("embedding.model", d.Embedding.Model)
	v.SetDefault("embedding.dimensions", d.Embedding.Dimensions)

	// Extraction
	v.SetDefault("extraction.provider", d.Extraction.Provider)
	v.SetDefault("extraction.target", d.Extraction.Target)
	v.SetDefault("extraction.model", d.Extraction.Model)

	// Summary
	v.SetDefault("summary.provider", d.Summary.Provider)
	v.SetDefault("summary.model", d.Summary.Model)

	// Eventstream
	v.SetDefault("eventstream.provider", d.Eventstream.Provider)
	v.SetDefault("eventstream.brokers", d.Eventstream.Brokers)
	v.SetDefault("eventstream.topic", d.Eventstream.Topic)

	// Priority ranking
	p := priority.DefaultConfig()
	v.SetDefault("priority.static_weights", p.StaticWeights)
	v.SetDefault("priority.default_weight", p.DefaultWeight)
	v.SetDefault("priority.usage_window_days", p.UsageWindowDays)
	v.SetDefault("priority.usage_norm", p.UsageNorm)
	v.SetDefault("priority.usage_weight", p.UsageWeight)
	v.SetDefault("priority.recency_half_life_days", p.RecencyHalfLifeDays)
	v.SetDefault("priority.recency_weight", p.RecencyWeight)

	// Maintenance jobs
	n := jobs.DefaultNightlyConfig()
	v.SetDefault("jobs.nightly.promotion_threshold", n.PromotionThreshold)
	v.SetDefault("jobs.nightly.promotion_window_days", n.PromotionWindowDays)
	v.SetDefault("jobs.nightly.promotion_bonus", n.PromotionBonus)

	w := jobs.DefaultWeeklyConfig()
	v.SetDefault("jobs.weekly.half_life_days", w.HalfLifeDays)
	v.SetDefault("jobs.weekly.archive_threshold", w.ArchiveThreshold)
	v.SetDefault("jobs.weekly.max_age_days", w.MaxAgeDays)
	v.SetDefault("jobs.weekly.orphan_retention_days", w.OrphanRetentionDays)

	m := jobs.DefaultMonthlyConfig()
	v.SetDefault("jobs.monthly.embed_batch_size", m.EmbedBatchSize)
	v.SetDefault("jobs.monthly.embed_concurrency", m.EmbedConcurrency)
	v.SetDefault("jobs.monthly.co_member_weight", m.CoMemberWeight)
}
