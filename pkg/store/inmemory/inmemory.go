// Package inmemory provides an in-process store.Driver used for tests and
// local development. All state lives in maps guarded by a single RWMutex.
package inmemory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/papercomputeco/engram/pkg/memory"
	"github.com/papercomputeco/engram/pkg/store"
)

// Driver implements store.Driver using in-process data structures.
type Driver struct {
	mu sync.RWMutex

	resources map[uuid.UUID]*memory.Resource
	facts     map[uuid.UUID]*memory.Fact
	categories map[string]*memory.Category
	accesses  []*memory.CategoryAccess
	edges     []*memory.GraphEdge
}

// NewDriver creates an empty in-memory driver.
func NewDriver() *Driver {
	return &Driver{
		resources:  make(map[uuid.UUID]*memory.Resource),
		facts:      make(map[uuid.UUID]*memory.Fact),
		categories: make(map[string]*memory.Category),
	}
}

func cloneResource(r *memory.Resource) *memory.Resource {
	c := *r
	if r.Metadata != nil {
		c.Metadata = make(map[string]string, len(r.Metadata))
		for k, v := range r.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

func cloneFact(f *memory.Fact) *memory.Fact {
	c := *f
	if f.ResourceID != nil {
		id := *f.ResourceID
		c.ResourceID = &id
	}
	if f.Supersedes != nil {
		id := *f.Supersedes
		c.Supersedes = &id
	}
	return &c
}

// PutResource stores an immutable ingestion record.
func (d *Driver) PutResource(_ context.Context, r *memory.Resource) error {
	if r == nil {
		return errors.New("cannot store nil resource")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.resources[r.ID] = cloneResource(r)
	return nil
}

// GetResource retrieves a resource by id.
func (d *Driver) GetResource(_ context.Context, id uuid.UUID) (*memory.Resource, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	r, ok := d.resources[id]
	if !ok {
		return nil, memory.NotFoundError{Kind: "resource", ID: id}
	}
	return cloneResource(r), nil
}

// ListResources returns resources newest first.
func (d *Driver) ListResources(_ context.Context, f store.ResourceFilter) ([]*memory.Resource, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []*memory.Resource
	for _, r := range d.resources {
		if f.Source != "" && r.Source != f.Source {
			continue
		}
		if !f.Since.IsZero() && r.CreatedAt.Before(f.Since) {
			continue
		}
		out = append(out, cloneResource(r))
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})

	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

// ListPendingResources returns resources with no linked facts, oldest first.
func (d *Driver) ListPendingResources(_ context.Context, limit int) ([]*memory.Resource, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	linked := make(map[uuid.UUID]bool)
	for _, f := range d.facts {
		if f.ResourceID != nil {
			linked[*f.ResourceID] = true
		}
	}

	var out []*memory.Resource
	for _, r := range d.resources {
		if !linked[r.ID] {
			out = append(out, cloneResource(r))
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// DeleteOrphanedResources removes unlinked resources older than the cutoff.
func (d *Driver) DeleteOrphanedResources(_ context.Context, before time.Time) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	linked := make(map[uuid.UUID]bool)
	for _, f := range d.facts {
		if f.ResourceID != nil {
			linked[*f.ResourceID] = true
		}
	}

	deleted := 0
	for id, r := range d.resources {
		if !linked[id] && r.CreatedAt.Before(before) {
			delete(d.resources, id)
			deleted++
		}
	}
	return deleted, nil
}

// PutFact stores a new fact with confidence clamped to [0, 1].
func (d *Driver) PutFact(_ context.Context, f *memory.Fact) error {
	if f == nil {
		return errors.New("cannot store nil fact")
	}
	if !f.Status.Valid() {
		return memory.ValidationError{Reason: "unknown status " + string(f.Status)}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	c := cloneFact(f)
	c.Confidence = memory.ClampConfidence(c.Confidence)
	d.facts[c.ID] = c
	return nil
}

// GetFact retrieves a fact by id.
func (d *Driver) GetFact(_ context.Context, id uuid.UUID) (*memory.Fact, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	f, ok := d.facts[id]
	if !ok {
		return nil, memory.NotFoundError{Kind: "fact", ID: id}
	}
	return cloneFact(f), nil
}

// UpdateFact persists mutable fields. Status is intentionally not applied
// here; SetStatus owns lifecycle moves.
func (d *Driver) UpdateFact(_ context.Context, f *memory.Fact) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	existing, ok := d.facts[f.ID]
	if !ok {
		return memory.NotFoundError{Kind: "fact", ID: f.ID}
	}
	if existing.Supersedes != nil {
		if f.Supersedes == nil || *f.Supersedes != *existing.Supersedes {
			return memory.ErrSupersedesImmutable
		}
	}

	existing.Subject = f.Subject
	existing.Predicate = f.Predicate
	existing.Object = f.Object
	existing.Category = f.Category
	existing.Confidence = memory.ClampConfidence(f.Confidence)
	existing.DecayedAt = f.DecayedAt
	if f.Supersedes != nil {
		id := *f.Supersedes
		existing.Supersedes = &id
	}
	return nil
}

// SetStatus moves a fact along its lifecycle, enforcing monotonicity.
func (d *Driver) SetStatus(_ context.Context, id uuid.UUID, status memory.Status) error {
	if !status.Valid() {
		return memory.ValidationError{Reason: "unknown status " + string(status)}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	f, ok := d.facts[id]
	if !ok {
		return memory.NotFoundError{Kind: "fact", ID: id}
	}
	if f.Status == status {
		return nil
	}
	if !f.Status.CanTransition(status) {
		return memory.InvalidTransitionError{From: f.Status, To: status}
	}
	f.Status = status
	return nil
}

// FindActiveClaim returns the active fact holding the normalized claim key.
func (d *Driver) FindActiveClaim(_ context.Context, key memory.ClaimKey) (*memory.Fact, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var found *memory.Fact
	for _, f := range d.facts {
		if f.Status != memory.StatusActive {
			continue
		}
		if f.Key() != key {
			continue
		}
		// Deterministic winner if the invariant was ever violated: newest.
		if found == nil || f.CreatedAt.After(found.CreatedAt) {
			found = f
		}
	}
	if found == nil {
		return nil, memory.NotFoundError{Kind: "fact"}
	}
	return cloneFact(found), nil
}

func matches(f *memory.Fact, filter store.FactFilter) bool {
	if filter.Category != "" && f.Category != filter.Category {
		return false
	}
	if filter.Status != "" && f.Status != filter.Status {
		return false
	}
	if filter.Subject != "" && memory.Normalize(f.Subject) != memory.Normalize(filter.Subject) {
		return false
	}
	if !filter.CreatedBefore.IsZero() && !f.CreatedAt.Before(filter.CreatedBefore) {
		return false
	}
	if filter.MaxConfidence > 0 && f.Confidence >= filter.MaxConfidence {
		return false
	}
	return true
}

// ListFacts returns facts matching the filter.
func (d *Driver) ListFacts(_ context.Context, filter store.FactFilter) ([]*memory.Fact, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var out []*memory.Fact
	for _, f := range d.facts {
		if matches(f, filter) {
			out = append(out, cloneFact(f))
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			if filter.Order == store.OrderOldestFirst {
				return out[i].CreatedAt.Before(out[j].CreatedAt)
			}
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// CountFacts returns the number of facts matching the filter.
func (d *Driver) CountFacts(_ context.Context, filter store.FactFilter) (int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	count := 0
	for _, f := range d.facts {
		if matches(f, filter) {
			count++
		}
	}
	return count, nil
}

// DistinctCategories returns the distinct category values on active facts.
func (d *Driver) DistinctCategories(_ context.Context) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	seen := make(map[string]bool)
	for _, f := range d.facts {
		if f.Status == memory.StatusActive && f.Category != "" {
			seen[f.Category] = true
		}
	}

	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

// CategoryFactStats returns per-category active-fact aggregates.
func (d *Driver) CategoryFactStats(_ context.Context) (map[string]store.CategoryFactStats, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make(map[string]store.CategoryFactStats)
	for _, f := range d.facts {
		if f.Status != memory.StatusActive || f.Category == "" {
			continue
		}
		s := out[f.Category]
		s.Count++
		if f.CreatedAt.After(s.LastFactAt) {
			s.LastFactAt = f.CreatedAt
		}
		out[f.Category] = s
	}
	return out, nil
}

// ListDuplicateGroups returns groups of active facts sharing a normalized
// triple, each group newest first.
func (d *Driver) ListDuplicateGroups(_ context.Context) ([][]*memory.Fact, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	type tripleKey struct {
		subject, predicate, object string
	}

	groups := make(map[tripleKey][]*memory.Fact)
	for _, f := range d.facts {
		if f.Status != memory.StatusActive {
			continue
		}
		k := tripleKey{
			subject:   memory.Normalize(f.Subject),
			predicate: memory.Normalize(f.Predicate),
			object:    memory.Normalize(f.Object),
		}
		groups[k] = append(groups[k], cloneFact(f))
	}

	var out [][]*memory.Fact
	for _, g := range groups {
		if len(g) < 2 {
			continue
		}
		sort.Slice(g, func(i, j int) bool {
			if !g[i].CreatedAt.Equal(g[j].CreatedAt) {
				return g[i].CreatedAt.After(g[j].CreatedAt)
			}
			return g[i].ID.String() < g[j].ID.String()
		})
		out = append(out, g)
	}

	// Deterministic group order for job runs.
	sort.Slice(out, func(i, j int) bool {
		return out[i][0].ID.String() < out[j][0].ID.String()
	})
	return out, nil
}

// CountBySubjectSince counts active facts for a subject within the window.
func (d *Driver) CountBySubjectSince(_ context.Context, subject string, since time.Time) (int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	norm := memory.Normalize(subject)
	count := 0
	for _, f := range d.facts {
		if f.Status != memory.StatusActive {
			continue
		}
		if memory.Normalize(f.Subject) != norm {
			continue
		}
		if f.CreatedAt.Before(since) {
			continue
		}
		count++
	}
	return count, nil
}

// GetCategory returns the cached summary row for a name.
func (d *Driver) GetCategory(_ context.Context, name string) (*memory.Category, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	c, ok := d.categories[name]
	if !ok {
		return nil, memory.NotFoundError{Kind: "category"}
	}
	clone := *c
	return &clone, nil
}

// UpsertCategory creates or replaces a summary cache row by name.
func (d *Driver) UpsertCategory(_ context.Context, c *memory.Category) error {
	if c == nil || c.Name == "" {
		return memory.ValidationError{Reason: "category requires a name"}
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	clone := *c
	if clone.ID == uuid.Nil {
		if existing, ok := d.categories[c.Name]; ok {
			clone.ID = existing.ID
		} else {
			clone.ID = uuid.New()
		}
	}
	d.categories[c.Name] = &clone
	return nil
}

// ListCategories returns all summary cache rows sorted by name.
func (d *Driver) ListCategories(_ context.Context) ([]*memory.Category, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]*memory.Category, 0, len(d.categories))
	for _, c := range d.categories {
		clone := *c
		out = append(out, &clone)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// AppendAccesses appends usage-log rows.
func (d *Driver) AppendAccesses(_ context.Context, rows []*memory.CategoryAccess) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, r := range rows {
		clone := *r
		if clone.ID == uuid.Nil {
			clone.ID = uuid.New()
		}
		d.accesses = append(d.accesses, &clone)
	}
	return nil
}

// CountAccessesSince returns per-category access counts within the window.
func (d *Driver) CountAccessesSince(_ context.Context, since time.Time) (map[string]int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make(map[string]int)
	for _, a := range d.accesses {
		if !a.AccessedAt.Before(since) {
			out[a.Category]++
		}
	}
	return out, nil
}

// LastAccess returns the most recent access instant per category.
func (d *Driver) LastAccess(_ context.Context) (map[string]time.Time, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make(map[string]time.Time)
	for _, a := range d.accesses {
		if a.AccessedAt.After(out[a.Category]) {
			out[a.Category] = a.AccessedAt
		}
	}
	return out, nil
}

// PruneAccesses deletes log rows older than the cutoff.
func (d *Driver) PruneAccesses(_ context.Context, before time.Time) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	kept := d.accesses[:0]
	deleted := 0
	for _, a := range d.accesses {
		if a.AccessedAt.Before(before) {
			deleted++
			continue
		}
		kept = append(kept, a)
	}
	d.accesses = kept
	return deleted, nil
}

// ReplaceEdges atomically swaps the full edge set.
func (d *Driver) ReplaceEdges(_ context.Context, edges []*memory.GraphEdge) error {
	next := make([]*memory.GraphEdge, 0, len(edges))
	for _, e := range edges {
		clone := *e
		if clone.ID == uuid.Nil {
			clone.ID = uuid.New()
		}
		next = append(next, &clone)
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.edges = next
	return nil
}

// ListEdges returns all graph edges.
func (d *Driver) ListEdges(_ context.Context) ([]*memory.GraphEdge, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]*memory.GraphEdge, 0, len(d.edges))
	for _, e := range d.edges {
		clone := *e
		out = append(out, &clone)
	}
	return out, nil
}

// NeighborEdges returns edges touching the normalized entity string.
func (d *Driver) NeighborEdges(_ context.Context, entity string) ([]*memory.GraphEdge, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	norm := memory.Normalize(entity)
	var out []*memory.GraphEdge
	for _, e := range d.edges {
		if memory.Normalize(e.Subject) == norm || memory.Normalize(e.Object) == norm {
			clone := *e
			out = append(out, &clone)
		}
	}
	return out, nil
}

// Close releases driver resources.
func (d *Driver) Close() error {
	return nil
}

// Ensure Driver implements store.Driver.
var _ store.Driver = (*Driver)(nil)
