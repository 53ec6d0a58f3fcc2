package jobs

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/papercomputeco/engram/pkg/embeddings"
	"github.com/papercomputeco/engram/pkg/memory"
	"github.com/papercomputeco/engram/pkg/store"
	"github.com/papercomputeco/engram/pkg/vector"
)

// MonthlyConfig holds the re-indexing constants.
type MonthlyConfig struct {
	// EmbedBatchSize is how many facts go into one embedding request.
	EmbedBatchSize int `mapstructure:"embed_batch_size"`

	// EmbedConcurrency bounds how many embedding batches run in parallel.
	EmbedConcurrency int `mapstructure:"embed_concurrency"`

	// CoMemberWeight is the weight of derived same-category edges.
	CoMemberWeight float64 `mapstructure:"co_member_weight"`
}

// DefaultMonthlyConfig returns the standard re-indexing constants.
func DefaultMonthlyConfig() MonthlyConfig {
	return MonthlyConfig{
		EmbedBatchSize:   64,
		EmbedConcurrency: 4,
		CoMemberWeight:   0.5,
	}
}

// Monthly rebuilds the embedding index and the knowledge graph from the
// current active fact set. Both rebuilds are full, never incremental, so no
// stale entries survive deletions.
type Monthly struct {
	driver   store.Driver
	embedder embeddings.Embedder
	vectors  vector.Driver
	cfg      MonthlyConfig
	logger   *zap.Logger
}

// NewMonthly creates the monthly re-indexing job. Embedder and vectors may
// be nil, in which case only the graph is rebuilt.
func NewMonthly(driver store.Driver, embedder embeddings.Embedder, vectors vector.Driver, cfg MonthlyConfig, logger *zap.Logger) *Monthly {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Monthly{
		driver:   driver,
		embedder: embedder,
		vectors:  vectors,
		cfg:      cfg,
		logger:   logger,
	}
}

// Name implements Job.
func (m *Monthly) Name() string { return "monthly" }

// Run implements Job.
func (m *Monthly) Run(ctx context.Context) (*Report, error) {
	report := newReport(m.Name())

	facts, err := m.driver.ListFacts(ctx, store.FactFilter{
		Status: memory.StatusActive,
		Order:  store.OrderOldestFirst,
	})
	if err != nil {
		return nil, err
	}

	if m.embedder != nil && m.vectors != nil {
		if err := m.rebuildEmbeddings(ctx, facts, report); err != nil {
			return nil, err
		}
	}

	if err := m.rebuildGraph(ctx, facts, report); err != nil {
		return nil, err
	}

	return report.finish(), nil
}

// rebuildEmbeddings clears the index and re-embeds every active fact in
// bounded-concurrency batches. A failing batch is counted and skipped; the
// job stays re-runnable from scratch.
func (m *Monthly) rebuildEmbeddings(ctx context.Context, facts []*memory.Fact, report *Report) error {
	if err := m.vectors.Clear(ctx); err != nil {
		return err
	}

	batchSize := m.cfg.EmbedBatchSize
	if batchSize <= 0 {
		batchSize = DefaultMonthlyConfig().EmbedBatchSize
	}
	concurrency := m.cfg.EmbedConcurrency
	if concurrency <= 0 {
		concurrency = DefaultMonthlyConfig().EmbedConcurrency
	}

	dims := m.embedder.Dimensions()

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)

	for start := 0; start < len(facts); start += batchSize {
		end := start + batchSize
		if end > len(facts) {
			end = len(facts)
		}
		batch := facts[start:end]

		g.Go(func() error {
			texts := make([]string, len(batch))
			for i, f := range batch {
				texts[i] = f.Text()
			}

			vecs, err := m.embedder.EmbedBatch(gctx, texts)
			if err != nil {
				m.logger.Warn("embedding batch failed",
					zap.Int("size", len(batch)), zap.Error(err))
				mu.Lock()
				report.Errored += len(batch)
				mu.Unlock()
				return nil
			}

			docs := make([]vector.Document, len(batch))
			for i, f := range batch {
				docs[i] = vector.Document{
					ID:        f.ID.String(),
					Category:  f.Category,
					Embedding: embeddings.Adapt(vecs[i], dims),
				}
			}
			if err := m.vectors.Add(gctx, docs); err != nil {
				m.logger.Warn("storing embedding batch failed",
					zap.Int("size", len(batch)), zap.Error(err))
				mu.Lock()
				report.Errored += len(batch)
				mu.Unlock()
				return nil
			}

			mu.Lock()
			report.Processed += len(batch)
			report.Details["facts_embedded"] += len(batch)
			mu.Unlock()
			return nil
		})
	}

	return g.Wait()
}

// rebuildGraph derives the edge set from the active facts and installs it
// atomically. The derivation is deterministic: the same fact set always
// yields the same edges and weights.
func (m *Monthly) rebuildGraph(ctx context.Context, facts []*memory.Fact, report *Report) error {
	coWeight := m.cfg.CoMemberWeight
	if coWeight <= 0 {
		coWeight = DefaultMonthlyConfig().CoMemberWeight
	}

	now := time.Now().UTC()
	var edges []*memory.GraphEdge

	// Direct edges: subject relates to object, weighted by confidence.
	type pairKey struct{ s, p, o string }
	direct := make(map[pairKey]*memory.GraphEdge)
	bySubject := make(map[string]map[string]bool)

	for _, f := range facts {
		subject := memory.Normalize(f.Subject)
		object := memory.Normalize(f.Object)

		if subject != "" && f.Category != "" {
			if bySubject[f.Category] == nil {
				bySubject[f.Category] = make(map[string]bool)
			}
			bySubject[f.Category][subject] = true
		}

		if subject == "" || object == "" {
			continue
		}
		key := pairKey{subject, "relates_to", object}
		if e, ok := direct[key]; ok {
			// The strongest claim wins when multiple facts connect the
			// same pair.
			if f.Confidence > e.Weight {
				e.Weight = f.Confidence
			}
			continue
		}
		direct[key] = &memory.GraphEdge{
			ID:        uuid.New(),
			Subject:   subject,
			Predicate: "relates_to",
			Object:    object,
			Weight:    f.Confidence,
			CreatedAt: now,
		}
	}

	directKeys := make([]pairKey, 0, len(direct))
	for k := range direct {
		directKeys = append(directKeys, k)
	}
	sort.Slice(directKeys, func(i, j int) bool {
		a, b := directKeys[i], directKeys[j]
		if a.s != b.s {
			return a.s < b.s
		}
		return a.o < b.o
	})
	for _, k := range directKeys {
		edges = append(edges, direct[k])
	}

	// Co-membership edges: subjects sharing a category connect pairwise.
	categories := make([]string, 0, len(bySubject))
	for c := range bySubject {
		categories = append(categories, c)
	}
	sort.Strings(categories)

	for _, category := range categories {
		subjects := make([]string, 0, len(bySubject[category]))
		for s := range bySubject[category] {
			subjects = append(subjects, s)
		}
		sort.Strings(subjects)

		for i := 0; i < len(subjects); i++ {
			for j := i + 1; j < len(subjects); j++ {
				edges = append(edges, &memory.GraphEdge{
					ID:        uuid.New(),
					Subject:   subjects[i],
					Predicate: "shares_" + category,
					Object:    subjects[j],
					Weight:    coWeight,
					CreatedAt: now,
				})
			}
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := m.driver.ReplaceEdges(ctx, edges); err != nil {
		return err
	}

	report.Details["edges_built"] = len(edges)
	report.Processed += len(edges)
	return nil
}

// Ensure Monthly implements Job.
var _ Job = (*Monthly)(nil)
