package jobs

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/papercomputeco/engram/pkg/memory"
	"github.com/papercomputeco/engram/pkg/store"
	"github.com/papercomputeco/engram/pkg/summary"
)

// WeeklyConfig holds the decay and archival constants.
type WeeklyConfig struct {
	// HalfLifeDays is the confidence half-life driving time decay.
	HalfLifeDays float64 `mapstructure:"half_life_days"`

	// ArchiveThreshold is the confidence floor below which old facts get
	// archived.
	ArchiveThreshold float64 `mapstructure:"archive_threshold"`

	// MaxAgeDays is the minimum age for threshold-based archival.
	MaxAgeDays int `mapstructure:"max_age_days"`

	// OrphanRetentionDays is how long a resource with no linked facts
	// survives before cleanup.
	OrphanRetentionDays int `mapstructure:"orphan_retention_days"`
}

// DefaultWeeklyConfig returns the standard decay constants.
func DefaultWeeklyConfig() WeeklyConfig {
	return WeeklyConfig{
		HalfLifeDays:        30,
		ArchiveThreshold:    0.1,
		MaxAgeDays:          90,
		OrphanRetentionDays: 30,
	}
}

// Weekly applies time decay, archives stale facts, and cleans up orphaned
// resources.
type Weekly struct {
	driver   store.Driver
	registry *summary.Registry
	cfg      WeeklyConfig
	logger   *zap.Logger

	// now is swappable for tests.
	now func() time.Time
}

// NewWeekly creates the weekly decay job.
func NewWeekly(driver store.Driver, registry *summary.Registry, cfg WeeklyConfig, logger *zap.Logger) *Weekly {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Weekly{
		driver:   driver,
		registry: registry,
		cfg:      cfg,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Name implements Job.
func (w *Weekly) Name() string { return "weekly" }

// Run implements Job.
func (w *Weekly) Run(ctx context.Context) (*Report, error) {
	report := newReport(w.Name())
	touched := make(map[string]bool)

	if err := w.decayAndArchive(ctx, report, touched); err != nil {
		return nil, err
	}

	cutoff := w.now().Add(-time.Duration(w.cfg.OrphanRetentionDays) * 24 * time.Hour)
	deleted, err := w.driver.DeleteOrphanedResources(ctx, cutoff)
	if err != nil {
		w.logger.Warn("orphan cleanup failed", zap.Error(err))
		report.Errored++
	} else {
		report.Details["orphans_deleted"] = deleted
	}

	for category := range touched {
		if err := w.registry.Invalidate(ctx, category); err != nil {
			w.logger.Warn("invalidating summary failed",
				zap.String("category", category), zap.Error(err))
			report.Errored++
			continue
		}
		report.Details["summaries_invalidated"]++
	}

	return report.finish(), nil
}

// decayAndArchive decays every active fact for the interval elapsed since
// its last decay, then archives the ones that fell below the threshold and
// aged past the limit. The per-fact watermark keeps re-runs idempotent:
// zero elapsed time applies zero decay.
func (w *Weekly) decayAndArchive(ctx context.Context, report *Report, touched map[string]bool) error {
	facts, err := w.driver.ListFacts(ctx, store.FactFilter{
		Status: memory.StatusActive,
		Order:  store.OrderOldestFirst,
	})
	if err != nil {
		return err
	}

	now := w.now()
	for _, f := range facts {
		if err := ctx.Err(); err != nil {
			return err
		}

		elapsedDays := now.Sub(f.LastDecay()).Hours() / 24
		if elapsedDays > 0 {
			f.Confidence = memory.ClampConfidence(
				f.Confidence * math.Pow(0.5, elapsedDays/w.cfg.HalfLifeDays))
			f.DecayedAt = now
			if err := w.driver.UpdateFact(ctx, f); err != nil {
				w.logger.Warn("decaying fact failed",
					zap.String("fact_id", f.ID.String()), zap.Error(err))
				report.Errored++
				continue
			}
			report.Details["facts_decayed"]++
			report.Processed++
		}

		ageDays := now.Sub(f.CreatedAt).Hours() / 24
		if f.Confidence < w.cfg.ArchiveThreshold && ageDays > float64(w.cfg.MaxAgeDays) {
			if err := w.driver.SetStatus(ctx, f.ID, memory.StatusArchived); err != nil {
				w.logger.Warn("archiving stale fact failed",
					zap.String("fact_id", f.ID.String()), zap.Error(err))
				report.Errored++
				continue
			}
			report.Details["facts_archived"]++
			touched[f.Category] = true
		}
	}
	return nil
}

// Ensure Weekly implements Job.
var _ Job = (*Weekly)(nil)
