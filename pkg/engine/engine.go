// Package engine wires the memory pipeline together: resource ingestion,
// fact extraction and classification, conflict resolution, summary
// invalidation, vector indexing, event publication, retrieval, and the
// maintenance job runner.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/papercomputeco/engram/pkg/conflict"
	"github.com/papercomputeco/engram/pkg/embeddings"
	"github.com/papercomputeco/engram/pkg/eventstream"
	"github.com/papercomputeco/engram/pkg/extraction"
	"github.com/papercomputeco/engram/pkg/jobs"
	"github.com/papercomputeco/engram/pkg/memory"
	"github.com/papercomputeco/engram/pkg/retrieval"
	"github.com/papercomputeco/engram/pkg/store"
	"github.com/papercomputeco/engram/pkg/summary"
	"github.com/papercomputeco/engram/pkg/vector"
)

// DefaultPendingBatch bounds how many backlogged resources one
// ProcessPending call works through.
const DefaultPendingBatch = 50

// Options collects the engine's collaborators. Driver, Resolver, Registry,
// and Retrieval are required. Extractor, Embedder, Vectors, Publisher, and
// Runner are optional; the corresponding pipeline stages are skipped when
// absent.
type Options struct {
	Driver    store.Driver
	Extractor extraction.Extractor

	// ExtractorName tags published events with the extraction provider.
	ExtractorName string

	Resolver  *conflict.Resolver
	Registry  *summary.Registry
	Retrieval *retrieval.Engine
	Embedder  embeddings.Embedder
	Vectors   vector.Driver
	Publisher eventstream.Publisher
	Runner    *jobs.Runner
	Logger    *zap.Logger
}

// Engine is the orchestration layer the API and CLI surfaces call into.
type Engine struct {
	driver        store.Driver
	extractor     extraction.Extractor
	extractorName string
	resolver      *conflict.Resolver
	registry      *summary.Registry
	retrieval     *retrieval.Engine
	embedder      embeddings.Embedder
	vectors       vector.Driver
	publisher     eventstream.Publisher
	runner        *jobs.Runner
	logger        *zap.Logger
}

// New creates an Engine from options.
func New(opts Options) (*Engine, error) {
	if opts.Driver == nil {
		return nil, fmt.Errorf("engine: store driver is required")
	}
	if opts.Resolver == nil {
		return nil, fmt.Errorf("engine: conflict resolver is required")
	}
	if opts.Registry == nil {
		return nil, fmt.Errorf("engine: summary registry is required")
	}
	if opts.Retrieval == nil {
		return nil, fmt.Errorf("engine: retrieval engine is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Engine{
		driver:        opts.Driver,
		extractor:     opts.Extractor,
		extractorName: opts.ExtractorName,
		resolver:      opts.Resolver,
		registry:      opts.Registry,
		retrieval:     opts.Retrieval,
		embedder:      opts.Embedder,
		vectors:       opts.Vectors,
		publisher:     opts.Publisher,
		runner:        opts.Runner,
		logger:        logger,
	}, nil
}

// IngestResult reports what one ingestion did.
type IngestResult struct {
	Resource *memory.Resource   `json:"resource"`
	Results  []*conflict.Result `json:"results,omitempty"`
}

// Ingest stores the raw content as a resource and, when extractNow is set
// and an extractor is configured, immediately runs extraction on it.
// Without immediate extraction the resource waits for ProcessPending.
func (e *Engine) Ingest(ctx context.Context, content, source string, metadata map[string]string, extractNow bool) (*IngestResult, error) {
	if content == "" {
		return nil, memory.ValidationError{Reason: "resource content must not be empty"}
	}

	res := memory.NewResource(content, source, metadata)
	if err := e.driver.PutResource(ctx, res); err != nil {
		return nil, fmt.Errorf("storing resource: %w", err)
	}
	e.logger.Info("resource ingested",
		zap.String("resource_id", res.ID.String()),
		zap.String("source", source),
		zap.Int("bytes", len(content)))

	out := &IngestResult{Resource: res}
	if !extractNow || e.extractor == nil {
		return out, nil
	}

	results, err := e.Extract(ctx, res)
	if err != nil {
		// The resource is already stored; extraction can be retried later
		// through ProcessPending or an explicit extract call.
		e.logger.Warn("immediate extraction failed, resource kept for retry",
			zap.String("resource_id", res.ID.String()), zap.Error(err))
		return out, nil
	}
	out.Results = results
	return out, nil
}

// Extract runs the extraction pipeline on one resource: extract candidates,
// classify unlabeled ones, resolve each against the active fact set,
// invalidate touched summaries, index new facts, and publish events.
func (e *Engine) Extract(ctx context.Context, res *memory.Resource) ([]*conflict.Result, error) {
	if e.extractor == nil {
		return nil, fmt.Errorf("extract: no extractor configured")
	}

	candidates, err := e.extractor.Extract(ctx, res.Content)
	if err != nil {
		return nil, fmt.Errorf("extracting facts: %w", err)
	}

	results := make([]*conflict.Result, 0, len(candidates))
	touched := make(map[string]bool)

	for _, c := range candidates {
		if c.Category == "" || !extraction.ValidCategory(c.Category) {
			c.Category = extraction.Classify(c.Predicate)
		}

		fact, err := c.Fact()
		if err != nil {
			e.logger.Warn("skipping invalid candidate", zap.Error(err))
			continue
		}
		resID := res.ID
		fact.ResourceID = &resID

		result, err := e.resolver.Resolve(ctx, fact)
		if err != nil {
			return results, fmt.Errorf("resolving fact: %w", err)
		}
		results = append(results, result)
		touched[result.Fact.Category] = true
		if result.Archived != nil {
			// A supersession also mutates the archived fact's category,
			// which may differ from the new fact's after classification.
			touched[result.Archived.Category] = true
		}

		if result.Action != conflict.ActionReinforced {
			e.indexFact(ctx, result.Fact)
		}
		e.publish(ctx, res, e.extractorName, result)
	}

	for category := range touched {
		if category == "" {
			continue
		}
		if err := e.registry.Invalidate(ctx, category); err != nil {
			e.logger.Warn("summary invalidation failed",
				zap.String("category", category), zap.Error(err))
		}
	}

	e.logger.Info("resource extracted",
		zap.String("resource_id", res.ID.String()),
		zap.Int("facts", len(results)))
	return results, nil
}

// Remember writes one structured fact directly, bypassing extraction. The
// candidate goes through the same classification, conflict resolution,
// summary invalidation, indexing, and publication as extracted facts.
func (e *Engine) Remember(ctx context.Context, c extraction.Candidate) (*conflict.Result, error) {
	if c.Category == "" || !extraction.ValidCategory(c.Category) {
		c.Category = extraction.Classify(c.Predicate)
	}

	fact, err := c.Fact()
	if err != nil {
		return nil, err
	}

	result, err := e.resolver.Resolve(ctx, fact)
	if err != nil {
		return nil, fmt.Errorf("resolving fact: %w", err)
	}

	if err := e.registry.Invalidate(ctx, result.Fact.Category); err != nil {
		e.logger.Warn("summary invalidation failed",
			zap.String("category", result.Fact.Category), zap.Error(err))
	}
	if result.Archived != nil && result.Archived.Category != "" && result.Archived.Category != result.Fact.Category {
		if err := e.registry.Invalidate(ctx, result.Archived.Category); err != nil {
			e.logger.Warn("summary invalidation failed",
				zap.String("category", result.Archived.Category), zap.Error(err))
		}
	}

	if result.Action != conflict.ActionReinforced {
		e.indexFact(ctx, result.Fact)
	}
	e.publish(ctx, nil, "direct", result)

	return result, nil
}

// indexFact embeds and stores one fact's vector, best effort. Retrieval
// degrades to exact matching when indexing lags.
func (e *Engine) indexFact(ctx context.Context, f *memory.Fact) {
	if e.embedder == nil || e.vectors == nil {
		return
	}

	vec, err := e.embedder.Embed(ctx, f.Text())
	if err != nil {
		e.logger.Warn("embedding fact failed",
			zap.String("fact_id", f.ID.String()), zap.Error(err))
		return
	}
	doc := vector.Document{
		ID:        f.ID.String(),
		Category:  f.Category,
		Embedding: embeddings.Adapt(vec, e.embedder.Dimensions()),
	}
	if err := e.vectors.Add(ctx, []vector.Document{doc}); err != nil {
		e.logger.Warn("indexing fact failed",
			zap.String("fact_id", f.ID.String()), zap.Error(err))
	}
}

// publish emits one fact event, best effort. res is nil for direct writes.
func (e *Engine) publish(ctx context.Context, res *memory.Resource, extractor string, result *conflict.Result) {
	if e.publisher == nil {
		return
	}

	source := eventstream.EventSource{Extractor: extractor}
	if res != nil {
		source.ResourceID = res.ID.String()
	}

	event := &eventstream.FactIngestedEvent{
		SchemaVersion: eventstream.SchemaVersionV1,
		EventType:     eventstream.EventTypeFactIngested,
		EventID:       uuid.New().String(),
		EmittedAt:     time.Now().UTC(),
		Source:        source,
		Action:        string(result.Action),
		Fact:          result.Fact,
		Archived:      result.Archived,
	}
	if err := e.publisher.PublishFact(ctx, event); err != nil {
		e.logger.Warn("publishing fact event failed",
			zap.String("event_id", event.EventID), zap.Error(err))
	}
}

// ProcessPending extracts the backlog of resources that have no facts yet.
// A failing resource is logged and skipped so one bad document cannot wedge
// the backlog. Returns the number of resources processed successfully.
func (e *Engine) ProcessPending(ctx context.Context, limit int) (int, error) {
	if e.extractor == nil {
		return 0, fmt.Errorf("process pending: no extractor configured")
	}
	if limit <= 0 {
		limit = DefaultPendingBatch
	}

	pending, err := e.driver.ListPendingResources(ctx, limit)
	if err != nil {
		return 0, fmt.Errorf("listing pending resources: %w", err)
	}

	processed := 0
	for _, res := range pending {
		if err := ctx.Err(); err != nil {
			return processed, err
		}
		if _, err := e.Extract(ctx, res); err != nil {
			e.logger.Warn("pending resource extraction failed",
				zap.String("resource_id", res.ID.String()), zap.Error(err))
			continue
		}
		processed++
	}
	return processed, nil
}

// Retrieve assembles a structured context response.
func (e *Engine) Retrieve(ctx context.Context, req retrieval.Request) (*retrieval.Response, error) {
	return e.retrieval.Retrieve(ctx, req)
}

// Context assembles a context response and renders it as markdown.
func (e *Engine) Context(ctx context.Context, req retrieval.Request) (string, error) {
	resp, err := e.retrieval.Retrieve(ctx, req)
	if err != nil {
		return "", err
	}
	return retrieval.Render(resp), nil
}

// RunJob executes a registered maintenance job by name.
func (e *Engine) RunJob(ctx context.Context, name string) (*jobs.Report, error) {
	if e.runner == nil {
		return nil, fmt.Errorf("run job: no job runner configured")
	}
	return e.runner.Run(ctx, name)
}

// JobNames returns the registered maintenance job names.
func (e *Engine) JobNames() []string {
	if e.runner == nil {
		return nil
	}
	return e.runner.Names()
}

// Stats summarizes store contents.
type Stats struct {
	Resources     int `json:"resources"`
	ActiveFacts   int `json:"active_facts"`
	ArchivedFacts int `json:"archived_facts"`
	Categories    int `json:"categories"`
	Edges         int `json:"edges"`
}

// Stat gathers store-level counts.
func (e *Engine) Stat(ctx context.Context) (*Stats, error) {
	s := &Stats{}

	resources, err := e.driver.ListResources(ctx, store.ResourceFilter{})
	if err != nil {
		return nil, fmt.Errorf("listing resources: %w", err)
	}
	s.Resources = len(resources)

	if s.ActiveFacts, err = e.driver.CountFacts(ctx, store.FactFilter{Status: memory.StatusActive}); err != nil {
		return nil, fmt.Errorf("counting active facts: %w", err)
	}
	if s.ArchivedFacts, err = e.driver.CountFacts(ctx, store.FactFilter{Status: memory.StatusArchived}); err != nil {
		return nil, fmt.Errorf("counting archived facts: %w", err)
	}

	categories, err := e.driver.DistinctCategories(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing categories: %w", err)
	}
	s.Categories = len(categories)

	edges, err := e.driver.ListEdges(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing edges: %w", err)
	}
	s.Edges = len(edges)

	return s, nil
}

// Driver exposes the underlying store for read-only API surfaces.
func (e *Engine) Driver() store.Driver {
	return e.driver
}

// Close releases the engine's owned resources.
func (e *Engine) Close() error {
	var firstErr error
	if e.publisher != nil {
		if err := e.publisher.Close(); err != nil {
			firstErr = err
		}
	}
	if e.vectors != nil {
		if err := e.vectors.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if e.embedder != nil {
		if err := e.embedder.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	if err := e.driver.Close(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}
