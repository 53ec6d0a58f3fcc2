// Package retrieval assembles bounded-size context responses from category
// summaries and facts.
//
// Assembly runs in tiers: category ranking, cached summaries, newest-first
// facts filtered by the query, then optional vector similarity expansion.
// The result is truncated a whole category block at a time so no response
// ever ends mid-category.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/papercomputeco/engram/pkg/embeddings"
	"github.com/papercomputeco/engram/pkg/memory"
	"github.com/papercomputeco/engram/pkg/priority"
	"github.com/papercomputeco/engram/pkg/store"
	"github.com/papercomputeco/engram/pkg/summary"
	"github.com/papercomputeco/engram/pkg/vector"
)

// DefaultMaxItemsPerCategory bounds facts per category block.
const DefaultMaxItemsPerCategory = 10

// DefaultVectorTopK is how many similarity candidates the vector tier pulls.
const DefaultVectorTopK = 20

// AccessSource tags the access-log rows this engine writes.
const AccessSource = "context"

// Match describes how an item entered the response.
type Match string

const (
	// MatchExact means the item came from the newest-first fact listing,
	// possibly filtered by query token overlap.
	MatchExact Match = "exact"

	// MatchSimilarity means the item was pulled in by the vector tier.
	MatchSimilarity Match = "similarity"
)

// Request parameterizes one retrieval.
type Request struct {
	// Query optionally narrows facts by token overlap and, when an
	// embedding provider is configured, enables the vector tier.
	Query string

	// Categories restricts retrieval to the named categories in the given
	// order. Empty means all categories in priority rank order.
	Categories []string

	// MaxChars bounds the rendered response size. Zero means unbounded.
	MaxChars int

	// MaxItemsPerCategory bounds facts per category block. Zero means
	// DefaultMaxItemsPerCategory.
	MaxItemsPerCategory int

	// RefreshSummaries forces synchronous regeneration of stale summaries
	// instead of serving them stale.
	RefreshSummaries bool
}

// Item is one fact in a response.
type Item struct {
	Fact  *memory.Fact `json:"fact"`
	Match Match        `json:"match"`
	Score float32      `json:"score,omitempty"`
}

// CategoryBlock is one category's contribution: its summary plus items.
type CategoryBlock struct {
	Name      string  `json:"name"`
	Summary   string  `json:"summary,omitempty"`
	Items     []Item  `json:"items"`
	Priority  float64 `json:"priority"`
	Truncated bool    `json:"truncated,omitempty"`
}

// Response is an assembled context.
type Response struct {
	Categories []CategoryBlock `json:"categories"`
	TotalItems int             `json:"total_items"`
	Truncated  bool            `json:"truncated,omitempty"`
}

// Engine is the tiered retrieval engine. Embedder and vectors are optional;
// without them the vector tier is skipped.
type Engine struct {
	driver   store.Driver
	ranker   *priority.Ranker
	registry *summary.Registry
	embedder embeddings.Embedder
	vectors  vector.Driver
	logger   *zap.Logger
	topK     int
}

// NewEngine creates a retrieval engine.
func NewEngine(
	driver store.Driver,
	ranker *priority.Ranker,
	registry *summary.Registry,
	embedder embeddings.Embedder,
	vectors vector.Driver,
	logger *zap.Logger,
) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		driver:   driver,
		ranker:   ranker,
		registry: registry,
		embedder: embedder,
		vectors:  vectors,
		logger:   logger,
		topK:     DefaultVectorTopK,
	}
}

// Retrieve assembles a context for the request. An empty store yields an
// empty response, never an error.
func (e *Engine) Retrieve(ctx context.Context, req Request) (*Response, error) {
	maxItems := req.MaxItemsPerCategory
	if maxItems <= 0 {
		maxItems = DefaultMaxItemsPerCategory
	}

	candidates, scores, err := e.candidateCategories(ctx, req.Categories)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return &Response{Categories: []CategoryBlock{}}, nil
	}

	blocks := make([]CategoryBlock, 0, len(candidates))
	for _, name := range candidates {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		block := CategoryBlock{Name: name, Priority: scores[name], Items: []Item{}}

		if req.RefreshSummaries {
			block.Summary, err = e.registry.GetOrRegenerate(ctx, name)
		} else {
			block.Summary, _, err = e.registry.Get(ctx, name)
		}
		if err != nil {
			return nil, fmt.Errorf("loading summary for %s: %w", name, err)
		}

		items, err := e.factTier(ctx, name, req.Query, maxItems)
		if err != nil {
			return nil, err
		}
		block.Items = items
		blocks = append(blocks, block)
	}

	if req.Query != "" && e.embedder != nil && e.vectors != nil {
		if err := e.vectorTier(ctx, req.Query, maxItems, blocks); err != nil {
			// The vector tier is an enrichment; a failing provider
			// degrades to exact-only results.
			e.logger.Warn("vector tier failed, serving exact matches only",
				zap.Error(err))
		}
	}

	resp := e.truncate(blocks, req.MaxChars)

	if err := e.recordAccesses(ctx, resp.Categories); err != nil {
		e.logger.Warn("recording category accesses failed", zap.Error(err))
	}

	return resp, nil
}

// candidateCategories resolves the category set and their priority scores.
// An explicit filter preserves the requested order; otherwise all known
// categories rank descending.
func (e *Engine) candidateCategories(ctx context.Context, filter []string) ([]string, map[string]float64, error) {
	now := time.Now().UTC()

	counts, err := e.driver.CountAccessesSince(ctx, now.Add(-e.ranker.Window()))
	if err != nil {
		return nil, nil, fmt.Errorf("counting accesses: %w", err)
	}
	last, err := e.driver.LastAccess(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("loading last accesses: %w", err)
	}

	statsFor := func(name string) priority.Stats {
		return priority.Stats{AccessCount: counts[name], LastAccess: last[name]}
	}

	if len(filter) > 0 {
		scores := make(map[string]float64, len(filter))
		names := make([]string, 0, len(filter))
		seen := make(map[string]bool, len(filter))
		for _, name := range filter {
			if name == "" || seen[name] {
				continue
			}
			seen[name] = true
			names = append(names, name)
			scores[name] = e.ranker.Score(name, statsFor(name), now)
		}
		return names, scores, nil
	}

	all, err := e.driver.DistinctCategories(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("listing categories: %w", err)
	}

	stats := make(map[string]priority.Stats, len(all))
	for _, name := range all {
		stats[name] = statsFor(name)
	}

	ranked := e.ranker.Rank(stats, now)
	names := make([]string, 0, len(ranked))
	scores := make(map[string]float64, len(ranked))
	for _, r := range ranked {
		names = append(names, r.Category)
		scores[r.Category] = r.Score
	}
	return names, scores, nil
}

// factTier lists active facts newest first, filtered by query token overlap
// when a query is present.
func (e *Engine) factTier(ctx context.Context, category, query string, maxItems int) ([]Item, error) {
	limit := maxItems
	if query != "" {
		// Filtering happens after the fetch, so pull the whole category.
		limit = 0
	}

	facts, err := e.driver.ListFacts(ctx, store.FactFilter{
		Category: category,
		Status:   memory.StatusActive,
		Order:    store.OrderNewestFirst,
		Limit:    limit,
	})
	if err != nil {
		return nil, fmt.Errorf("listing facts for %s: %w", category, err)
	}

	tokens := queryTokens(query)
	items := make([]Item, 0, maxItems)
	for _, f := range facts {
		if len(items) >= maxItems {
			break
		}
		if len(tokens) > 0 && !matchesTokens(f, tokens) {
			continue
		}
		items = append(items, Item{Fact: f, Match: MatchExact})
	}
	return items, nil
}

// vectorTier embeds the query and merges nearest neighbours into the blocks,
// deduplicating by fact id. Similarity results always rank after exact
// matches for the same category.
func (e *Engine) vectorTier(ctx context.Context, query string, maxItems int, blocks []CategoryBlock) error {
	emb, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return fmt.Errorf("embedding query: %w", err)
	}

	results, err := e.vectors.Query(ctx, emb, e.topK)
	if err != nil {
		return fmt.Errorf("querying vectors: %w", err)
	}

	byName := make(map[string]*CategoryBlock, len(blocks))
	seen := make(map[uuid.UUID]bool)
	for i := range blocks {
		byName[blocks[i].Name] = &blocks[i]
		for _, it := range blocks[i].Items {
			seen[it.Fact.ID] = true
		}
	}

	for _, r := range results {
		id, err := uuid.Parse(r.ID)
		if err != nil || seen[id] {
			continue
		}

		f, err := e.driver.GetFact(ctx, id)
		if err != nil {
			var nf memory.NotFoundError
			if errors.As(err, &nf) {
				// Index lag: the fact was deleted after indexing.
				continue
			}
			return fmt.Errorf("loading fact %s: %w", id, err)
		}
		if f.Status != memory.StatusActive {
			continue
		}

		block, ok := byName[f.Category]
		if !ok || len(block.Items) >= maxItems {
			continue
		}
		block.Items = append(block.Items, Item{Fact: f, Match: MatchSimilarity, Score: r.Score})
		seen[id] = true
	}
	return nil
}

// truncate accumulates whole category blocks in rank order until the
// rendered budget is exhausted. The first block is always included; if it
// alone exceeds the budget, its lowest-ranked items are dropped instead.
func (e *Engine) truncate(blocks []CategoryBlock, maxChars int) *Response {
	resp := &Response{Categories: []CategoryBlock{}}
	if maxChars <= 0 {
		resp.Categories = blocks
		for _, b := range blocks {
			resp.TotalItems += len(b.Items)
		}
		return resp
	}

	used := 0
	for i, block := range blocks {
		size := len(RenderBlock(block))
		if i == 0 && size > maxChars {
			// Never return an empty body solely due to budget: keep the
			// top block, dropping items from the end until it fits or a
			// single item remains.
			for len(block.Items) > 1 && len(RenderBlock(block)) > maxChars {
				block.Items = block.Items[:len(block.Items)-1]
				block.Truncated = true
			}
			resp.Categories = append(resp.Categories, block)
			resp.TotalItems += len(block.Items)
			resp.Truncated = true
			used += len(RenderBlock(block))
			continue
		}
		if used+size > maxChars {
			resp.Truncated = true
			break
		}
		resp.Categories = append(resp.Categories, block)
		resp.TotalItems += len(block.Items)
		used += size
	}
	return resp
}

// recordAccesses appends one access-log row per included category.
func (e *Engine) recordAccesses(ctx context.Context, blocks []CategoryBlock) error {
	if len(blocks) == 0 {
		return nil
	}
	now := time.Now().UTC()
	rows := make([]*memory.CategoryAccess, 0, len(blocks))
	for _, b := range blocks {
		rows = append(rows, &memory.CategoryAccess{
			ID:         uuid.New(),
			Category:   b.Name,
			AccessedAt: now,
			Source:     AccessSource,
		})
	}
	return e.driver.AppendAccesses(ctx, rows)
}

// queryTokens normalizes a query into match tokens. Tokens with a known
// entity alias also contribute their canonical form, so "postgres" matches
// facts about "postgresql".
func queryTokens(query string) []string {
	if query == "" {
		return nil
	}
	fields := strings.Fields(strings.ToLower(query))
	for _, f := range fields {
		if canonical := memory.ResolveEntity(f); canonical != f {
			fields = append(fields, canonical)
		}
	}
	sort.Strings(fields)
	out := fields[:0]
	var prev string
	for _, f := range fields {
		if f != prev {
			out = append(out, f)
		}
		prev = f
	}
	return out
}

// matchesTokens reports whether any token appears in the fact's normalized
// text.
func matchesTokens(f *memory.Fact, tokens []string) bool {
	text := memory.Normalize(f.Text())
	for _, t := range tokens {
		if strings.Contains(text, t) {
			return true
		}
	}
	return false
}
