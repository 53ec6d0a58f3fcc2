// Package postgres provides a PostgreSQL-backed store.Driver using pgx.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/papercomputeco/engram/pkg/memory"
	"github.com/papercomputeco/engram/pkg/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS resources (
	id          UUID PRIMARY KEY,
	created_at  TIMESTAMPTZ NOT NULL,
	source      TEXT NOT NULL DEFAULT '',
	content     TEXT NOT NULL DEFAULT '',
	metadata    JSONB NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_resources_created_at ON resources (created_at);
CREATE INDEX IF NOT EXISTS idx_resources_source ON resources (source);

CREATE TABLE IF NOT EXISTS facts (
	id              UUID PRIMARY KEY,
	created_at      TIMESTAMPTZ NOT NULL,
	resource_id     UUID,
	subject         TEXT NOT NULL DEFAULT '',
	predicate       TEXT NOT NULL DEFAULT '',
	object          TEXT NOT NULL DEFAULT '',
	norm_subject    TEXT NOT NULL DEFAULT '',
	norm_predicate  TEXT NOT NULL DEFAULT '',
	norm_object     TEXT NOT NULL DEFAULT '',
	category        TEXT NOT NULL DEFAULT '',
	confidence      DOUBLE PRECISION NOT NULL DEFAULT 1.0,
	status          TEXT NOT NULL DEFAULT 'active',
	supersedes      UUID,
	decayed_at      TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_facts_claim ON facts (norm_subject, norm_predicate, status);
CREATE INDEX IF NOT EXISTS idx_facts_category ON facts (category);
CREATE INDEX IF NOT EXISTS idx_facts_status ON facts (status);
CREATE INDEX IF NOT EXISTS idx_facts_created_at ON facts (created_at);
CREATE INDEX IF NOT EXISTS idx_facts_resource_id ON facts (resource_id);

CREATE TABLE IF NOT EXISTS categories (
	id          UUID PRIMARY KEY,
	name        TEXT NOT NULL UNIQUE,
	summary     TEXT NOT NULL DEFAULT '',
	stale       BOOLEAN NOT NULL DEFAULT FALSE,
	updated_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS category_accesses (
	id           UUID PRIMARY KEY,
	category     TEXT NOT NULL,
	accessed_at  TIMESTAMPTZ NOT NULL,
	source       TEXT NOT NULL DEFAULT 'context'
);
CREATE INDEX IF NOT EXISTS idx_category_accesses_category ON category_accesses (category);
CREATE INDEX IF NOT EXISTS idx_category_accesses_accessed_at ON category_accesses (accessed_at);

CREATE TABLE IF NOT EXISTS graph_edges (
	id          UUID PRIMARY KEY,
	subject     TEXT NOT NULL,
	predicate   TEXT NOT NULL,
	object      TEXT NOT NULL,
	weight      DOUBLE PRECISION NOT NULL DEFAULT 1.0,
	created_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_graph_edges_subject ON graph_edges (subject);
CREATE INDEX IF NOT EXISTS idx_graph_edges_object ON graph_edges (object);
`

// Driver implements store.Driver on PostgreSQL via a pgx connection pool.
type Driver struct {
	pool *pgxpool.Pool
}

// NewDriver connects to the database at connString and ensures the schema
// exists.
func NewDriver(ctx context.Context, connString string) (*Driver, error) {
	if connString == "" {
		return nil, fmt.Errorf("connection string is required")
	}

	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &Driver{pool: pool}, nil
}

// Close releases the connection pool.
func (d *Driver) Close() error {
	d.pool.Close()
	return nil
}

// PutResource stores an immutable ingestion record.
func (d *Driver) PutResource(ctx context.Context, r *memory.Resource) error {
	if r == nil {
		return errors.New("cannot store nil resource")
	}

	meta := r.Metadata
	if meta == nil {
		meta = map[string]string{}
	}

	_, err := d.pool.Exec(ctx,
		`INSERT INTO resources (id, created_at, source, content, metadata) VALUES ($1, $2, $3, $4, $5)`,
		r.ID, r.CreatedAt, r.Source, r.Content, meta,
	)
	if err != nil {
		return fmt.Errorf("inserting resource: %w", err)
	}
	return nil
}

func scanResource(row pgx.Row) (*memory.Resource, error) {
	var r memory.Resource
	if err := row.Scan(&r.ID, &r.CreatedAt, &r.Source, &r.Content, &r.Metadata); err != nil {
		return nil, err
	}
	if len(r.Metadata) == 0 {
		r.Metadata = nil
	}
	return &r, nil
}

// GetResource retrieves a resource by id.
func (d *Driver) GetResource(ctx context.Context, id uuid.UUID) (*memory.Resource, error) {
	row := d.pool.QueryRow(ctx,
		`SELECT id, created_at, source, content, metadata FROM resources WHERE id = $1`, id)
	r, err := scanResource(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, memory.NotFoundError{Kind: "resource", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("querying resource: %w", err)
	}
	return r, nil
}

func collectResources(rows pgx.Rows) ([]*memory.Resource, error) {
	defer rows.Close()
	var out []*memory.Resource
	for rows.Next() {
		r, err := scanResource(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListResources returns resources newest first.
func (d *Driver) ListResources(ctx context.Context, f store.ResourceFilter) ([]*memory.Resource, error) {
	q := `SELECT id, created_at, source, content, metadata FROM resources`
	var conds []string
	var args []any
	if f.Source != "" {
		args = append(args, f.Source)
		conds = append(conds, fmt.Sprintf("source = $%d", len(args)))
	}
	if !f.Since.IsZero() {
		args = append(args, f.Since)
		conds = append(conds, fmt.Sprintf("created_at >= $%d", len(args)))
	}
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY created_at DESC, id ASC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := d.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("listing resources: %w", err)
	}
	return collectResources(rows)
}

// ListPendingResources returns resources with no linked facts, oldest first.
func (d *Driver) ListPendingResources(ctx context.Context, limit int) ([]*memory.Resource, error) {
	q := `
		SELECT id, created_at, source, content, metadata FROM resources
		WHERE id NOT IN (SELECT resource_id FROM facts WHERE resource_id IS NOT NULL)
		ORDER BY created_at ASC, id ASC`
	var args []any
	if limit > 0 {
		args = append(args, limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := d.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("listing pending resources: %w", err)
	}
	return collectResources(rows)
}

// DeleteOrphanedResources removes unlinked resources older than the cutoff.
func (d *Driver) DeleteOrphanedResources(ctx context.Context, before time.Time) (int, error) {
	tag, err := d.pool.Exec(ctx, `
		DELETE FROM resources
		WHERE created_at < $1
		  AND id NOT IN (SELECT resource_id FROM facts WHERE resource_id IS NOT NULL)`,
		before)
	if err != nil {
		return 0, fmt.Errorf("deleting orphaned resources: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// PutFact stores a new fact with confidence clamped to [0, 1].
func (d *Driver) PutFact(ctx context.Context, f *memory.Fact) error {
	if f == nil {
		return errors.New("cannot store nil fact")
	}
	if !f.Status.Valid() {
		return memory.ValidationError{Reason: "unknown status " + string(f.Status)}
	}

	var decayed *time.Time
	if !f.DecayedAt.IsZero() {
		decayed = &f.DecayedAt
	}

	_, err := d.pool.Exec(ctx, `
		INSERT INTO facts (
			id, created_at, resource_id, subject, predicate, object,
			norm_subject, norm_predicate, norm_object,
			category, confidence, status, supersedes, decayed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)`,
		f.ID, f.CreatedAt, f.ResourceID,
		f.Subject, f.Predicate, f.Object,
		memory.Normalize(f.Subject), memory.Normalize(f.Predicate), memory.Normalize(f.Object),
		f.Category, memory.ClampConfidence(f.Confidence), string(f.Status),
		f.Supersedes, decayed,
	)
	if err != nil {
		return fmt.Errorf("inserting fact: %w", err)
	}
	return nil
}

const factColumns = `id, created_at, resource_id, subject, predicate, object, category, confidence, status, supersedes, decayed_at`

func scanFact(row pgx.Row) (*memory.Fact, error) {
	var (
		f         memory.Fact
		status    string
		decayedAt *time.Time
	)
	if err := row.Scan(&f.ID, &f.CreatedAt, &f.ResourceID, &f.Subject, &f.Predicate, &f.Object,
		&f.Category, &f.Confidence, &status, &f.Supersedes, &decayedAt); err != nil {
		return nil, err
	}
	f.Status = memory.Status(status)
	if decayedAt != nil {
		f.DecayedAt = *decayedAt
	}
	return &f, nil
}

func collectFacts(rows pgx.Rows) ([]*memory.Fact, error) {
	defer rows.Close()
	var out []*memory.Fact
	for rows.Next() {
		f, err := scanFact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

// GetFact retrieves a fact by id.
func (d *Driver) GetFact(ctx context.Context, id uuid.UUID) (*memory.Fact, error) {
	row := d.pool.QueryRow(ctx, `SELECT `+factColumns+` FROM facts WHERE id = $1`, id)
	f, err := scanFact(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, memory.NotFoundError{Kind: "fact", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("querying fact: %w", err)
	}
	return f, nil
}

// UpdateFact persists mutable fields; status moves go through SetStatus.
func (d *Driver) UpdateFact(ctx context.Context, f *memory.Fact) error {
	existing, err := d.GetFact(ctx, f.ID)
	if err != nil {
		return err
	}
	if existing.Supersedes != nil {
		if f.Supersedes == nil || *f.Supersedes != *existing.Supersedes {
			return memory.ErrSupersedesImmutable
		}
	}

	var decayed *time.Time
	if !f.DecayedAt.IsZero() {
		decayed = &f.DecayedAt
	}

	_, err = d.pool.Exec(ctx, `
		UPDATE facts SET
			subject = $1, predicate = $2, object = $3,
			norm_subject = $4, norm_predicate = $5, norm_object = $6,
			category = $7, confidence = $8, supersedes = $9, decayed_at = $10
		WHERE id = $11`,
		f.Subject, f.Predicate, f.Object,
		memory.Normalize(f.Subject), memory.Normalize(f.Predicate), memory.Normalize(f.Object),
		f.Category, memory.ClampConfidence(f.Confidence), f.Supersedes, decayed,
		f.ID,
	)
	if err != nil {
		return fmt.Errorf("updating fact: %w", err)
	}
	return nil
}

// SetStatus moves a fact along its lifecycle, enforcing monotonicity. The
// row is locked for the read-check-write so concurrent moves serialize.
func (d *Driver) SetStatus(ctx context.Context, id uuid.UUID, status memory.Status) error {
	if !status.Valid() {
		return memory.ValidationError{Reason: "unknown status " + string(status)}
	}

	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var current string
	err = tx.QueryRow(ctx,
		`SELECT status FROM facts WHERE id = $1 FOR UPDATE`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return memory.NotFoundError{Kind: "fact", ID: id}
	}
	if err != nil {
		return fmt.Errorf("querying status: %w", err)
	}

	from := memory.Status(current)
	if from == status {
		return tx.Commit(ctx)
	}
	if !from.CanTransition(status) {
		return memory.InvalidTransitionError{From: from, To: status}
	}

	if _, err := tx.Exec(ctx,
		`UPDATE facts SET status = $1 WHERE id = $2`, string(status), id); err != nil {
		return fmt.Errorf("updating status: %w", err)
	}
	return tx.Commit(ctx)
}

// FindActiveClaim returns the active fact holding the normalized claim key.
func (d *Driver) FindActiveClaim(ctx context.Context, key memory.ClaimKey) (*memory.Fact, error) {
	row := d.pool.QueryRow(ctx, `
		SELECT `+factColumns+` FROM facts
		WHERE norm_subject = $1 AND norm_predicate = $2 AND status = 'active'
		ORDER BY created_at DESC, id ASC
		LIMIT 1`,
		key.Subject, key.Predicate,
	)
	f, err := scanFact(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, memory.NotFoundError{Kind: "fact"}
	}
	if err != nil {
		return nil, fmt.Errorf("querying active claim: %w", err)
	}
	return f, nil
}

func factWhere(f store.FactFilter, args []any) (string, []any) {
	var conds []string
	if f.Category != "" {
		args = append(args, f.Category)
		conds = append(conds, fmt.Sprintf("category = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if f.Subject != "" {
		args = append(args, memory.Normalize(f.Subject))
		conds = append(conds, fmt.Sprintf("norm_subject = $%d", len(args)))
	}
	if !f.CreatedBefore.IsZero() {
		args = append(args, f.CreatedBefore)
		conds = append(conds, fmt.Sprintf("created_at < $%d", len(args)))
	}
	if f.MaxConfidence > 0 {
		args = append(args, f.MaxConfidence)
		conds = append(conds, fmt.Sprintf("confidence < $%d", len(args)))
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// ListFacts returns facts matching the filter.
func (d *Driver) ListFacts(ctx context.Context, f store.FactFilter) ([]*memory.Fact, error) {
	where, args := factWhere(f, nil)
	order := " ORDER BY created_at DESC, id ASC"
	if f.Order == store.OrderOldestFirst {
		order = " ORDER BY created_at ASC, id ASC"
	}

	q := `SELECT ` + factColumns + ` FROM facts` + where + order
	if f.Limit > 0 {
		args = append(args, f.Limit)
		q += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		q += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := d.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("listing facts: %w", err)
	}
	return collectFacts(rows)
}

// CountFacts returns the number of facts matching the filter.
func (d *Driver) CountFacts(ctx context.Context, f store.FactFilter) (int, error) {
	where, args := factWhere(f, nil)
	var count int
	err := d.pool.QueryRow(ctx, `SELECT COUNT(*) FROM facts`+where, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting facts: %w", err)
	}
	return count, nil
}

// DistinctCategories returns the distinct category values on active facts.
func (d *Driver) DistinctCategories(ctx context.Context) ([]string, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT DISTINCT category FROM facts
		WHERE status = 'active' AND category != ''
		ORDER BY category ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing categories: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// CategoryFactStats returns per-category active-fact aggregates.
func (d *Driver) CategoryFactStats(ctx context.Context) (map[string]store.CategoryFactStats, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT category, COUNT(*), MAX(created_at) FROM facts
		WHERE status = 'active' AND category != ''
		GROUP BY category`)
	if err != nil {
		return nil, fmt.Errorf("querying category stats: %w", err)
	}
	defer rows.Close()

	out := make(map[string]store.CategoryFactStats)
	for rows.Next() {
		var (
			name string
			s    store.CategoryFactStats
		)
		if err := rows.Scan(&name, &s.Count, &s.LastFactAt); err != nil {
			return nil, err
		}
		out[name] = s
	}
	return out, rows.Err()
}

// ListDuplicateGroups returns groups of active facts sharing a normalized
// triple, each group newest first.
func (d *Driver) ListDuplicateGroups(ctx context.Context) ([][]*memory.Fact, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT `+factColumns+` FROM facts
		WHERE status = 'active'
		  AND (norm_subject, norm_predicate, norm_object) IN (
			SELECT norm_subject, norm_predicate, norm_object FROM facts
			WHERE status = 'active'
			GROUP BY norm_subject, norm_predicate, norm_object
			HAVING COUNT(*) > 1
		  )
		ORDER BY norm_subject, norm_predicate, norm_object, created_at DESC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("querying duplicates: %w", err)
	}

	facts, err := collectFacts(rows)
	if err != nil {
		return nil, err
	}

	var (
		out     [][]*memory.Fact
		current []*memory.Fact
		lastKey [3]string
	)
	for _, f := range facts {
		key := [3]string{memory.Normalize(f.Subject), memory.Normalize(f.Predicate), memory.Normalize(f.Object)}
		if len(current) > 0 && key != lastKey {
			out = append(out, current)
			current = nil
		}
		lastKey = key
		current = append(current, f)
	}
	if len(current) > 0 {
		out = append(out, current)
	}
	return out, nil
}

// CountBySubjectSince counts active facts for a subject within the window.
func (d *Driver) CountBySubjectSince(ctx context.Context, subject string, since time.Time) (int, error) {
	var count int
	err := d.pool.QueryRow(ctx, `
		SELECT COUNT(*) FROM facts
		WHERE status = 'active' AND norm_subject = $1 AND created_at >= $2`,
		memory.Normalize(subject), since,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting by subject: %w", err)
	}
	return count, nil
}

// GetCategory returns the cached summary row for a name.
func (d *Driver) GetCategory(ctx context.Context, name string) (*memory.Category, error) {
	var c memory.Category
	err := d.pool.QueryRow(ctx,
		`SELECT id, name, summary, stale, updated_at FROM categories WHERE name = $1`, name,
	).Scan(&c.ID, &c.Name, &c.Summary, &c.Stale, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, memory.NotFoundError{Kind: "category"}
	}
	if err != nil {
		return nil, fmt.Errorf("querying category: %w", err)
	}
	return &c, nil
}

// UpsertCategory creates or replaces a summary cache row by name.
func (d *Driver) UpsertCategory(ctx context.Context, c *memory.Category) error {
	if c == nil || c.Name == "" {
		return memory.ValidationError{Reason: "category requires a name"}
	}

	id := c.ID
	if id == uuid.Nil {
		id = uuid.New()
	}

	_, err := d.pool.Exec(ctx, `
		INSERT INTO categories (id, name, summary, stale, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (name) DO UPDATE SET
			summary = EXCLUDED.summary,
			stale = EXCLUDED.stale,
			updated_at = EXCLUDED.updated_at`,
		id, c.Name, c.Summary, c.Stale, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upserting category: %w", err)
	}
	return nil
}

// ListCategories returns all summary cache rows sorted by name.
func (d *Driver) ListCategories(ctx context.Context) ([]*memory.Category, error) {
	rows, err := d.pool.Query(ctx,
		`SELECT id, name, summary, stale, updated_at FROM categories ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing categories: %w", err)
	}
	defer rows.Close()

	var out []*memory.Category
	for rows.Next() {
		var c memory.Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Summary, &c.Stale, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

// AppendAccesses appends usage-log rows in a single batch.
func (d *Driver) AppendAccesses(ctx context.Context, accessRows []*memory.CategoryAccess) error {
	if len(accessRows) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, a := range accessRows {
		id := a.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		batch.Queue(
			`INSERT INTO category_accesses (id, category, accessed_at, source) VALUES ($1, $2, $3, $4)`,
			id, a.Category, a.AccessedAt, a.Source,
		)
	}

	if err := d.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("inserting access rows: %w", err)
	}
	return nil
}

// CountAccessesSince returns per-category access counts within the window.
func (d *Driver) CountAccessesSince(ctx context.Context, since time.Time) (map[string]int, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT category, COUNT(*) FROM category_accesses
		WHERE accessed_at >= $1
		GROUP BY category`, since)
	if err != nil {
		return nil, fmt.Errorf("counting accesses: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var (
			name  string
			count int
		)
		if err := rows.Scan(&name, &count); err != nil {
			return nil, err
		}
		out[name] = count
	}
	return out, rows.Err()
}

// LastAccess returns the most recent access instant per category.
func (d *Driver) LastAccess(ctx context.Context) (map[string]time.Time, error) {
	rows, err := d.pool.Query(ctx,
		`SELECT category, MAX(accessed_at) FROM category_accesses GROUP BY category`)
	if err != nil {
		return nil, fmt.Errorf("querying last access: %w", err)
	}
	defer rows.Close()

	out := make(map[string]time.Time)
	for rows.Next() {
		var (
			name string
			at   time.Time
		)
		if err := rows.Scan(&name, &at); err != nil {
			return nil, err
		}
		out[name] = at
	}
	return out, rows.Err()
}

// PruneAccesses deletes log rows older than the cutoff.
func (d *Driver) PruneAccesses(ctx context.Context, before time.Time) (int, error) {
	tag, err := d.pool.Exec(ctx,
		`DELETE FROM category_accesses WHERE accessed_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("pruning accesses: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ReplaceEdges drops all graph edges and installs the given set in one
// transaction.
func (d *Driver) ReplaceEdges(ctx context.Context, edges []*memory.GraphEdge) error {
	tx, err := d.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM graph_edges`); err != nil {
		return fmt.Errorf("clearing edges: %w", err)
	}

	for _, e := range edges {
		id := e.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO graph_edges (id, subject, predicate, object, weight, created_at)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			id, e.Subject, e.Predicate, e.Object, e.Weight, e.CreatedAt,
		); err != nil {
			return fmt.Errorf("inserting edge: %w", err)
		}
	}
	return tx.Commit(ctx)
}

func collectEdges(rows pgx.Rows) ([]*memory.GraphEdge, error) {
	defer rows.Close()
	var out []*memory.GraphEdge
	for rows.Next() {
		var e memory.GraphEdge
		if err := rows.Scan(&e.ID, &e.Subject, &e.Predicate, &e.Object, &e.Weight, &e.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

// ListEdges returns all graph edges.
func (d *Driver) ListEdges(ctx context.Context) ([]*memory.GraphEdge, error) {
	rows, err := d.pool.Query(ctx,
		`SELECT id, subject, predicate, object, weight, created_at FROM graph_edges`)
	if err != nil {
		return nil, fmt.Errorf("listing edges: %w", err)
	}
	return collectEdges(rows)
}

// NeighborEdges returns edges touching the normalized entity string.
func (d *Driver) NeighborEdges(ctx context.Context, entity string) ([]*memory.GraphEdge, error) {
	norm := memory.Normalize(entity)
	rows, err := d.pool.Query(ctx, `
		SELECT id, subject, predicate, object, weight, created_at FROM graph_edges
		WHERE LOWER(subject) = $1 OR LOWER(object) = $1`, norm)
	if err != nil {
		return nil, fmt.Errorf("querying neighbors: %w", err)
	}
	return collectEdges(rows)
}

// Ensure Driver implements store.Driver.
var _ store.Driver = (*Driver)(nil)
