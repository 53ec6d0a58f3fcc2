// Package summary manages the per-category summary cache. Summaries are a
// convenience cache over active facts, never a source of truth: writes mark
// them stale, reads may serve a stale-but-present summary, and regeneration
// happens lazily through a pluggable Summarizer.
package summary

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/papercomputeco/engram/pkg/memory"
	"github.com/papercomputeco/engram/pkg/store"
)

// Summarizer condenses a category's fact texts into a short summary.
type Summarizer interface {
	// Summarize produces a summary for the named category from its active
	// fact texts, newest first.
	Summarize(ctx context.Context, category string, facts []string) (string, error)
}

// MaxFactsPerSummary bounds how many facts feed one regeneration.
const MaxFactsPerSummary = 50

// Registry is the category summary cache over a store.Driver.
type Registry struct {
	driver     store.Driver
	summarizer Summarizer
	logger     *zap.Logger
}

// NewRegistry creates a Registry. The summarizer may be nil, in which case
// regeneration is skipped and cached text is served as-is.
func NewRegistry(driver store.Driver, summarizer Summarizer, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{driver: driver, summarizer: summarizer, logger: logger}
}

// Invalidate marks the named category's summary stale, creating the cache
// row if it does not exist yet. The cached text is kept for stale serving.
func (r *Registry) Invalidate(ctx context.Context, name string) error {
	if name == "" {
		return nil
	}

	cached, err := r.driver.GetCategory(ctx, name)
	if err != nil {
		var nf memory.NotFoundError
		if !errors.As(err, &nf) {
			return fmt.Errorf("loading category: %w", err)
		}
		cached = &memory.Category{Name: name}
	}

	cached.Stale = true
	cached.UpdatedAt = time.Now().UTC()
	if err := r.driver.UpsertCategory(ctx, cached); err != nil {
		return fmt.Errorf("marking category stale: %w", err)
	}
	return nil
}

// Get returns the cached summary text for a category, possibly stale. A
// missing cache row yields an empty summary, not an error.
func (r *Registry) Get(ctx context.Context, name string) (string, bool, error) {
	cached, err := r.driver.GetCategory(ctx, name)
	if err != nil {
		var nf memory.NotFoundError
		if errors.As(err, &nf) {
			return "", true, nil
		}
		return "", false, fmt.Errorf("loading category: %w", err)
	}
	return cached.Summary, cached.Stale, nil
}

// GetOrRegenerate returns the cached summary if fresh. If the cache is stale
// or missing it regenerates synchronously; when regeneration fails, any
// stale cached text is served instead and the error only logged. Retrieval
// tolerating staleness is intentional.
func (r *Registry) GetOrRegenerate(ctx context.Context, name string) (string, error) {
	cached, err := r.driver.GetCategory(ctx, name)
	if err != nil {
		var nf memory.NotFoundError
		if !errors.As(err, &nf) {
			return "", fmt.Errorf("loading category: %w", err)
		}
		cached = nil
	}

	if cached != nil && !cached.Stale {
		return cached.Summary, nil
	}

	text, err := r.Regenerate(ctx, name)
	if err != nil {
		if cached != nil {
			r.logger.Warn("summary regeneration failed, serving stale",
				zap.String("category", name),
				zap.Error(err))
			return cached.Summary, nil
		}
		return "", err
	}
	return text, nil
}

// Regenerate rebuilds the summary from the category's active facts and
// stores it fresh. With no summarizer configured, the existing cached text
// is retained and only the stale flag cleared.
func (r *Registry) Regenerate(ctx context.Context, name string) (string, error) {
	facts, err := r.driver.ListFacts(ctx, store.FactFilter{
		Category: name,
		Status:   memory.StatusActive,
		Order:    store.OrderNewestFirst,
		Limit:    MaxFactsPerSummary,
	})
	if err != nil {
		return "", fmt.Errorf("listing facts: %w", err)
	}

	texts := make([]string, 0, len(facts))
	for _, f := range facts {
		texts = append(texts, f.Text())
	}

	text := ""
	if r.summarizer != nil {
		text, err = r.summarizer.Summarize(ctx, name, texts)
		if err != nil {
			return "", fmt.Errorf("summarizing %s: %w", name, err)
		}
	} else if cached, gerr := r.driver.GetCategory(ctx, name); gerr == nil {
		text = cached.Summary
	}

	c := &memory.Category{Name: name, Summary: text, Stale: false, UpdatedAt: time.Now().UTC()}
	if existing, gerr := r.driver.GetCategory(ctx, name); gerr == nil {
		c.ID = existing.ID
	}
	if err := r.driver.UpsertCategory(ctx, c); err != nil {
		return "", fmt.Errorf("storing summary: %w", err)
	}
	return text, nil
}
