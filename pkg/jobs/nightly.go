package jobs

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/papercomputeco/engram/pkg/memory"
	"github.com/papercomputeco/engram/pkg/store"
	"github.com/papercomputeco/engram/pkg/summary"
)

// NightlyConfig holds the consolidation constants.
type NightlyConfig struct {
	// PromotionThreshold is how many active facts a subject needs within
	// the window before its facts get a confidence boost.
	PromotionThreshold int `mapstructure:"promotion_threshold"`

	// PromotionWindowDays is the lookback window for hot-subject counting.
	PromotionWindowDays int `mapstructure:"promotion_window_days"`

	// PromotionBonus is the bounded confidence boost for hot facts.
	PromotionBonus float64 `mapstructure:"promotion_bonus"`
}

// DefaultNightlyConfig returns the standard consolidation constants.
func DefaultNightlyConfig() NightlyConfig {
	return NightlyConfig{
		PromotionThreshold:  5,
		PromotionWindowDays: 7,
		PromotionBonus:      0.05,
	}
}

// Nightly merges duplicate facts and promotes hot ones.
type Nightly struct {
	driver   store.Driver
	registry *summary.Registry
	cfg      NightlyConfig
	logger   *zap.Logger

	// now is swappable for tests.
	now func() time.Time
}

// NewNightly creates the nightly consolidation job.
func NewNightly(driver store.Driver, registry *summary.Registry, cfg NightlyConfig, logger *zap.Logger) *Nightly {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Nightly{
		driver:   driver,
		registry: registry,
		cfg:      cfg,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Name implements Job.
func (n *Nightly) Name() string { return "nightly" }

// Run implements Job: duplicate merging, then hot-fact promotion, then
// staleness marking for every touched category.
func (n *Nightly) Run(ctx context.Context) (*Report, error) {
	report := newReport(n.Name())
	touched := make(map[string]bool)

	if err := n.mergeDuplicates(ctx, report, touched); err != nil {
		return nil, err
	}
	if err := n.promoteHotFacts(ctx, report, touched); err != nil {
		return nil, err
	}

	for category := range touched {
		if err := n.registry.Invalidate(ctx, category); err != nil {
			n.logger.Warn("invalidating summary failed",
				zap.String("category", category), zap.Error(err))
			report.Errored++
			continue
		}
		report.Details["summaries_invalidated"]++
	}

	return report.finish(), nil
}

// mergeDuplicates collapses groups of active facts sharing a normalized
// triple: the newest survives with the group's max confidence, the rest are
// archived pointing at the survivor.
func (n *Nightly) mergeDuplicates(ctx context.Context, report *Report, touched map[string]bool) error {
	groups, err := n.driver.ListDuplicateGroups(ctx)
	if err != nil {
		return err
	}

	for _, group := range groups {
		if err := ctx.Err(); err != nil {
			return err
		}
		if len(group) < 2 {
			continue
		}

		survivor := group[0]
		maxConf := survivor.Confidence
		for _, f := range group[1:] {
			if f.Confidence > maxConf {
				maxConf = f.Confidence
			}
		}

		if maxConf != survivor.Confidence {
			survivor.Confidence = maxConf
			if err := n.driver.UpdateFact(ctx, survivor); err != nil {
				n.logger.Warn("updating survivor failed",
					zap.String("fact_id", survivor.ID.String()), zap.Error(err))
				report.Errored++
				continue
			}
		}

		for _, dup := range group[1:] {
			if dup.Supersedes == nil {
				survivorID := survivor.ID
				dup.Supersedes = &survivorID
				if err := n.driver.UpdateFact(ctx, dup); err != nil {
					n.logger.Warn("linking duplicate failed",
						zap.String("fact_id", dup.ID.String()), zap.Error(err))
					report.Errored++
					continue
				}
			}
			if err := n.driver.SetStatus(ctx, dup.ID, memory.StatusArchived); err != nil {
				n.logger.Warn("archiving duplicate failed",
					zap.String("fact_id", dup.ID.String()), zap.Error(err))
				report.Errored++
				continue
			}
			report.Details["duplicates_archived"]++
			report.Processed++
			touched[dup.Category] = true
		}
		touched[survivor.Category] = true
	}
	return nil
}

// promoteHotFacts boosts facts whose subject shows up often in the recent
// ingestion window.
func (n *Nightly) promoteHotFacts(ctx context.Context, report *Report, touched map[string]bool) error {
	facts, err := n.driver.ListFacts(ctx, store.FactFilter{
		Status: memory.StatusActive,
		Order:  store.OrderOldestFirst,
	})
	if err != nil {
		return err
	}

	since := n.now().Add(-time.Duration(n.cfg.PromotionWindowDays) * 24 * time.Hour)
	counts := make(map[string]int)

	for _, f := range facts {
		if err := ctx.Err(); err != nil {
			return err
		}

		subject := memory.Normalize(f.Subject)
		if subject == "" {
			continue
		}

		count, ok := counts[subject]
		if !ok {
			count, err = n.driver.CountBySubjectSince(ctx, subject, since)
			if err != nil {
				n.logger.Warn("counting subject mentions failed",
					zap.String("subject", subject), zap.Error(err))
				report.Errored++
				continue
			}
			counts[subject] = count
		}
		if count <= n.cfg.PromotionThreshold {
			continue
		}

		f.Confidence = memory.ClampConfidence(f.Confidence + n.cfg.PromotionBonus)
		if err := n.driver.UpdateFact(ctx, f); err != nil {
			n.logger.Warn("promoting fact failed",
				zap.String("fact_id", f.ID.String()), zap.Error(err))
			report.Errored++
			continue
		}
		report.Details["facts_promoted"]++
		report.Processed++
		touched[f.Category] = true
	}
	return nil
}

// Ensure Nightly implements Job.
var _ Job = (*Nightly)(nil)
