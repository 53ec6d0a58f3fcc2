// Package store defines the persistence interface for the engram memory
// system. A Driver owns facts, resources, the category summary cache, the
// category access log, and the derived knowledge graph edges.
//
// Drivers are pluggable via configuration:
//
//	[storage]
//	provider = "sqlite"   # or "postgres", "inmemory"
//
// Every implementation must be safe for concurrent use and must enforce the
// fact invariants declared in pkg/memory: monotonic status transitions,
// confidence bounds, and supersedes immutability.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/papercomputeco/engram/pkg/memory"
)

// Order controls the sort direction of fact listings. Retrieval wants newest
// first; maintenance scans want a deterministic full-scan order.
type Order int

const (
	// OrderNewestFirst sorts by created_at descending (id ascending on ties).
	OrderNewestFirst Order = iota

	// OrderOldestFirst sorts by created_at ascending (id ascending on ties).
	OrderOldestFirst
)

// FactFilter narrows a fact listing. Zero-value fields are not applied.
type FactFilter struct {
	// Category restricts to facts in the named category.
	Category string

	// Status restricts to facts in the given lifecycle state.
	Status memory.Status

	// Subject restricts to facts whose normalized subject matches.
	Subject string

	// CreatedBefore restricts to facts created strictly before this instant.
	CreatedBefore time.Time

	// MaxConfidence restricts to facts with confidence strictly below this
	// value. Applied only when > 0.
	MaxConfidence float64

	Order  Order
	Limit  int
	Offset int
}

// ResourceFilter narrows a resource listing.
type ResourceFilter struct {
	Source string
	Since  time.Time
	Limit  int
}

// CategoryFactStats aggregates per-category fact information used by the
// priority ranker.
type CategoryFactStats struct {
	Count      int
	LastFactAt time.Time
}

// Driver is the storage backend for the memory system.
type Driver interface {
	// ── Resources ──────────────────────────────────────────────────────

	// PutResource stores an immutable ingestion record.
	PutResource(ctx context.Context, r *memory.Resource) error

	// GetResource retrieves a resource by id, returning
	// memory.NotFoundError when absent.
	GetResource(ctx context.Context, id uuid.UUID) (*memory.Resource, error)

	// ListResources returns resources newest first.
	ListResources(ctx context.Context, f ResourceFilter) ([]*memory.Resource, error)

	// ListPendingResources returns resources with no linked facts, oldest
	// first, for the extraction backlog.
	ListPendingResources(ctx context.Context, limit int) ([]*memory.Resource, error)

	// DeleteOrphanedResources removes resources with no linked facts
	// created before the cutoff. Returns the number deleted.
	DeleteOrphanedResources(ctx context.Context, before time.Time) (int, error)

	// ── Facts ──────────────────────────────────────────────────────────

	// PutFact stores a new fact. Confidence is clamped to [0, 1].
	PutFact(ctx context.Context, f *memory.Fact) error

	// GetFact retrieves a fact by id, returning memory.NotFoundError when
	// absent.
	GetFact(ctx context.Context, id uuid.UUID) (*memory.Fact, error)

	// UpdateFact persists mutable fields (confidence, category, supersedes,
	// decay watermark). It rejects changing an already-set supersedes link
	// with memory.ErrSupersedesImmutable and never changes status; use
	// SetStatus for lifecycle moves.
	UpdateFact(ctx context.Context, f *memory.Fact) error

	// SetStatus moves a fact along its lifecycle, enforcing the monotonic
	// transition rule. Illegal edges fail with memory.InvalidTransitionError
	// and leave state unchanged.
	SetStatus(ctx context.Context, id uuid.UUID, status memory.Status) error

	// FindActiveClaim returns the single active fact for the normalized
	// claim key, or memory.NotFoundError when no active fact holds it.
	FindActiveClaim(ctx context.Context, key memory.ClaimKey) (*memory.Fact, error)

	// ListFacts returns facts matching the filter.
	ListFacts(ctx context.Context, f FactFilter) ([]*memory.Fact, error)

	// CountFacts returns the number of facts matching the filter,
	// ignoring Limit/Offset.
	CountFacts(ctx context.Context, f FactFilter) (int, error)

	// DistinctCategories returns the distinct non-empty category values on
	// active facts (the authoritative category set), sorted ascending.
	DistinctCategories(ctx context.Context) ([]string, error)

	// CategoryFactStats returns per-category active-fact counts and the
	// most recent fact timestamp.
	CategoryFactStats(ctx context.Context) (map[string]CategoryFactStats, error)

	// ListDuplicateGroups returns groups of two or more active facts that
	// share a normalized (subject, predicate, object) triple, each group
	// sorted newest first.
	ListDuplicateGroups(ctx context.Context) ([][]*memory.Fact, error)

	// CountBySubjectSince counts active facts with the given normalized
	// subject created at or after the cutoff. Used by hot-fact promotion.
	CountBySubjectSince(ctx context.Context, subject string, since time.Time) (int, error)

	// ── Category summary cache ─────────────────────────────────────────

	// GetCategory returns the cached summary row for a name, or
	// memory.NotFoundError when no cache row exists yet. A missing row is
	// normal; categories are soft-existent.
	GetCategory(ctx context.Context, name string) (*memory.Category, error)

	// UpsertCategory creates or replaces a summary cache row by name.
	UpsertCategory(ctx context.Context, c *memory.Category) error

	// ListCategories returns all summary cache rows sorted by name.
	ListCategories(ctx context.Context) ([]*memory.Category, error)

	// ── Category access log ────────────────────────────────────────────

	// AppendAccesses appends usage-log rows.
	AppendAccesses(ctx context.Context, rows []*memory.CategoryAccess) error

	// CountAccessesSince returns per-category access counts within the
	// rolling window starting at since.
	CountAccessesSince(ctx context.Context, since time.Time) (map[string]int, error)

	// LastAccess returns the most recent access instant per category.
	LastAccess(ctx context.Context) (map[string]time.Time, error)

	// PruneAccesses deletes log rows older than the cutoff. Returns the
	// number deleted.
	PruneAccesses(ctx context.Context, before time.Time) (int, error)

	// ── Knowledge graph ────────────────────────────────────────────────

	// ReplaceEdges atomically drops all graph edges and installs the given
	// set. Used by the monthly rebuild; readers never observe a half-built
	// graph.
	ReplaceEdges(ctx context.Context, edges []*memory.GraphEdge) error

	// ListEdges returns all graph edges.
	ListEdges(ctx context.Context) ([]*memory.GraphEdge, error)

	// NeighborEdges returns edges whose subject or object equals the
	// normalized entity string.
	NeighborEdges(ctx context.Context, entity string) ([]*memory.GraphEdge, error)

	// Close releases driver resources.
	Close() error
}
