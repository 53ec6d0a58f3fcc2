// Package sqlite provides a SQLite-backed store.Driver.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/papercomputeco/engram/pkg/memory"
	"github.com/papercomputeco/engram/pkg/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS resources (
	id          TEXT PRIMARY KEY,
	created_at  TIMESTAMP NOT NULL,
	source      TEXT NOT NULL DEFAULT '',
	content     TEXT NOT NULL DEFAULT '',
	metadata    TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_resources_created_at ON resources (created_at);
CREATE INDEX IF NOT EXISTS idx_resources_source ON resources (source);

CREATE TABLE IF NOT EXISTS facts (
	id              TEXT PRIMARY KEY,
	created_at      TIMESTAMP NOT NULL,
	resource_id     TEXT,
	subject         TEXT NOT NULL DEFAULT '',
	predicate       TEXT NOT NULL DEFAULT '',
	object          TEXT NOT NULL DEFAULT '',
	norm_subject    TEXT NOT NULL DEFAULT '',
	norm_predicate  TEXT NOT NULL DEFAULT '',
	norm_object     TEXT NOT NULL DEFAULT '',
	category        TEXT NOT NULL DEFAULT '',
	confidence      REAL NOT NULL DEFAULT 1.0,
	status          TEXT NOT NULL DEFAULT 'active',
	supersedes      TEXT,
	decayed_at      TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_facts_claim ON facts (norm_subject, norm_predicate, status);
CREATE INDEX IF NOT EXISTS idx_facts_category ON facts (category);
CREATE INDEX IF NOT EXISTS idx_facts_status ON facts (status);
CREATE INDEX IF NOT EXISTS idx_facts_created_at ON facts (created_at);
CREATE INDEX IF NOT EXISTS idx_facts_resource_id ON facts (resource_id);

CREATE TABLE IF NOT EXISTS categories (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL UNIQUE,
	summary     TEXT NOT NULL DEFAULT '',
	stale       INTEGER NOT NULL DEFAULT 0,
	updated_at  TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS category_accesses (
	id           TEXT PRIMARY KEY,
	category     TEXT NOT NULL,
	accessed_at  TIMESTAMP NOT NULL,
	source       TEXT NOT NULL DEFAULT 'context'
);
CREATE INDEX IF NOT EXISTS idx_category_accesses_category ON category_accesses (category);
CREATE INDEX IF NOT EXISTS idx_category_accesses_accessed_at ON category_accesses (accessed_at);

CREATE TABLE IF NOT EXISTS graph_edges (
	id          TEXT PRIMARY KEY,
	subject     TEXT NOT NULL,
	predicate   TEXT NOT NULL,
	object      TEXT NOT NULL,
	weight      REAL NOT NULL DEFAULT 1.0,
	created_at  TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_graph_edges_subject ON graph_edges (subject);
CREATE INDEX IF NOT EXISTS idx_graph_edges_object ON graph_edges (object);
`

// Driver implements store.Driver on SQLite via database/sql.
type Driver struct {
	db *sql.DB
}

// NewDriver opens (or creates) the database at dbPath and ensures the schema
// exists. Use ":memory:" for an in-memory database.
func NewDriver(dbPath string) (*Driver, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("database path is required")
	}

	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &Driver{db: db}, nil
}

// Close closes the underlying database.
func (d *Driver) Close() error {
	return d.db.Close()
}

// PutResource stores an immutable ingestion record.
func (d *Driver) PutResource(ctx context.Context, r *memory.Resource) error {
	if r == nil {
		return errors.New("cannot store nil resource")
	}

	meta, err := json.Marshal(r.Metadata)
	if err != nil {
		return fmt.Errorf("marshaling metadata: %w", err)
	}

	_, err = d.db.ExecContext(ctx,
		`INSERT INTO resources (id, created_at, source, content, metadata) VALUES (?, ?, ?, ?, ?)`,
		r.ID.String(), r.CreatedAt, r.Source, r.Content, string(meta),
	)
	if err != nil {
		return fmt.Errorf("inserting resource: %w", err)
	}
	return nil
}

func scanResource(row interface{ Scan(...any) error }) (*memory.Resource, error) {
	var (
		r    memory.Resource
		id   string
		meta string
	)
	if err := row.Scan(&id, &r.CreatedAt, &r.Source, &r.Content, &meta); err != nil {
		return nil, err
	}

	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parsing resource id: %w", err)
	}
	r.ID = parsed

	if meta != "" && meta != "{}" && meta != "null" {
		if err := json.Unmarshal([]byte(meta), &r.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshaling metadata: %w", err)
		}
	}
	return &r, nil
}

// GetResource retrieves a resource by id.
func (d *Driver) GetResource(ctx context.Context, id uuid.UUID) (*memory.Resource, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT id, created_at, source, content, metadata FROM resources WHERE id = ?`,
		id.String(),
	)
	r, err := scanResource(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, memory.NotFoundError{Kind: "resource", ID: id}
	}
	if err != nil {
		return nil, fmt.Errorf("querying resource: %w", err)
	}
	return r, nil
}

// ListResources returns resources newest first.
func (d *Driver) ListResources(ctx context.Context, f store.ResourceFilter) ([]*memory.Resource, error) {
	q := `SELECT id, created_at, source, content, metadata FROM resources`
	var conds []string
	var args []any
	if f.Source != "" {
		conds = append(conds, "source = ?")
		args = append(args, f.Source)
	}
	if !f.Since.IsZero() {
		conds = append(conds, "created_at >= ?")
		args = append(args, f.Since)
	}
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY created_at DESC, id ASC"
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := d.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("listing resources: %w", err)
	}
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

// ListPendingResources returns resources with no linked facts, oldest first.
func (d *Driver) ListPendingResources(ctx context.Context, limit int) ([]*memory.Resource, error) {
	q := `
		SELECT id, created_at, source, content, metadata FROM resources
		WHERE id NOT IN (SELECT resource_id FROM facts WHERE resource_id IS NOT NULL)
		ORDER BY created_at ASC, id ASC`
	var args []any
	if limit > 0 {
		q += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := d.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("listing pending resources: %w", err)
	}
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

// DeleteOrphanedResources removes unlinked resources older than the cutoff.
func (d *Driver) DeleteOrphanedResources(ctx context.Context, before time.Time) (int, error) {
	res, err := d.db.ExecContext(ctx, `
		DELETE FROM resources
		WHERE created_at < ?
		  AND id NOT IN (SELECT resource_id FROM facts WHERE resource_id IS NOT NULL)`,
		before,
	)
	if err != nil {
		return 0, fmt.Errorf("deleting orphaned resources: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func nullableID(id *uuid.UUID) any {
	if id == nil {
		return nil
	}
	return id.String()
}

// PutFact stores a new fact with confidence clamped to [0, 1].
func (d *Driver) PutFact(ctx context.Context, f *memory.Fact) error {
	if f == nil {
		return errors.New("cannot store nil fact")
	}
	if !f.Status.Valid() {
		return memory.ValidationError{Reason: "unknown status " + string(f.Status)}
	}

	var decayed any
	if !f.DecayedAt.IsZero() {
		decayed = f.DecayedAt
	}

	_, err := d.db.ExecContext(ctx, `
		INSERT INTO facts (
			id, created_at, resource_id, subject, predicate, object,
			norm_subject, norm_predicate, norm_object,
			category, confidence, status, supersedes, decayed_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		f.ID.String(), f.CreatedAt, nullableID(f.ResourceID),
		f.Subject, f.Predicate, f.Object,
		memory.Normalize(f.Subject), memory.Normalize(f.Predicate), memory.Normalize(f.Object),
		f.Category, memory.ClampConfidence(f.Confidence), string(f.Status),
		nullableID(f.Supersedes), decayed,
	)
	if err != nil {
		return fmt.Errorf("inserting fact: %w", err)
	}
	return nil
}

const factColumns = `id, created_at, resource_id, subject, predicate, object, category, confidence, status, supersedes, decayed_at`

func scanFact(row interface{ Scan(...any) error }) (*memory.Fact, error) {
	var (
		f          memory.Fact
		id         string
		resourceID sql.NullString
		status     string
		supersedes sql.NullString
		decayedAt  sql.NullTime
	)
	if err := row.Scan(&id, &f.CreatedAt, &resourceID, &f.Subject, &f.Predicate, &f.Object,
		&f.Category, &f.Confidence, &status, &supersedes, &decayedAt); err != nil {
		return nil, err
	}

	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parsing fact id: %w", err)
	}
	f.ID = parsed
	f.Status = memory.Status(status)

	if resourceID.Valid {
		rid, err := uuid.Parse(resourceID.String)
		if err != nil {
			return nil, fmt.Errorf("parsing resource id: %w", err)
		}
		f.ResourceID = &rid
	}
	if supersedes.Valid {
		sid, err := uuid.Parse(supersedes.String)
		if err != nil {
			return nil, fmt.Errorf("parsing supersedes id: %w", err)
		}
		f.Supersedes = &sid
	}
	if decayedAt.Valid {
		f.DecayedAt = decayedAt.Time
	}
	return &f, nil
}

// GetFact retrieves a fact by id.
func (d *Driver) GetFact(ctx context.Context, id uuid.UUID) (*memory.Fact, error) {
	row := d.db.QueryRowContext(ctx,
		`SELECT `+factColumns+` FROM facts WHERE id = ?`, id.String())
	f, err := scanFact(row)
	if errors.Is(err, sql.ErrNoRows) {
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

	var decayed any
	if !f.DecayedAt.IsZero() {
		decayed = f.DecayedAt
	}

	_, err = d.db.ExecContext(ctx, `
		UPDATE facts SET
			subject = ?, predicate = ?, object = ?,
			norm_subject = ?, norm_predicate = ?, norm_object = ?,
			category = ?, confidence = ?, supersedes = ?, decayed_at = ?
		WHERE id = ?`,
		f.Subject, f.Predicate, f.Object,
		memory.Normalize(f.Subject), memory.Normalize(f.Predicate), memory.Normalize(f.Object),
		f.Category, memory.ClampConfidence(f.Confidence),
		nullableID(f.Supersedes), decayed,
		f.ID.String(),
	)
	if err != nil {
		return fmt.Errorf("updating fact: %w", err)
	}
	return nil
}

// SetStatus moves a fact along its lifecycle, enforcing monotonicity.
// The read-check-write runs in a transaction so concurrent moves serialize.
func (d *Driver) SetStatus(ctx context.Context, id uuid.UUID, status memory.Status) error {
	if !status.Valid() {
		return memory.ValidationError{Reason: "unknown status " + string(status)}
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, `SELECT status FROM facts WHERE id = ?`, id.String()).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return memory.NotFoundError{Kind: "fact", ID: id}
	}
	if err != nil {
		return fmt.Errorf("querying status: %w", err)
	}

	from := memory.Status(current)
	if from == status {
		return tx.Commit()
	}
	if !from.CanTransition(status) {
		return memory.InvalidTransitionError{From: from, To: status}
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE facts SET status = ? WHERE id = ?`, string(status), id.String()); err != nil {
		return fmt.Errorf("updating status: %w", err)
	}
	return tx.Commit()
}

// FindActiveClaim returns the active fact holding the normalized claim key.
// Newest wins if the single-active invariant was ever violated.
func (d *Driver) FindActiveClaim(ctx context.Context, key memory.ClaimKey) (*memory.Fact, error) {
	row := d.db.QueryRowContext(ctx, `
		SELECT `+factColumns+` FROM facts
		WHERE norm_subject = ? AND norm_predicate = ? AND status = 'active'
		ORDER BY created_at DESC, id ASC
		LIMIT 1`,
		key.Subject, key.Predicate,
	)
	f, err := scanFact(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, memory.NotFoundError{Kind: "fact"}
	}
	if err != nil {
		return nil, fmt.Errorf("querying active claim: %w", err)
	}
	return f, nil
}

func factWhere(f store.FactFilter) (string, []any) {
	var conds []string
	var args []any
	if f.Category != "" {
		conds = append(conds, "category = ?")
		args = append(args, f.Category)
	}
	if f.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, string(f.Status))
	}
	if f.Subject != "" {
		conds = append(conds, "norm_subject = ?")
		args = append(args, memory.Normalize(f.Subject))
	}
	if !f.CreatedBefore.IsZero() {
		conds = append(conds, "created_at < ?")
		args = append(args, f.CreatedBefore)
	}
	if f.MaxConfidence > 0 {
		conds = append(conds, "confidence < ?")
		args = append(args, f.MaxConfidence)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// ListFacts returns facts matching the filter.
func (d *Driver) ListFacts(ctx context.Context, f store.FactFilter) ([]*memory.Fact, error) {
	where, args := factWhere(f)
	order := " ORDER BY created_at DESC, id ASC"
	if f.Order == store.OrderOldestFirst {
		order = " ORDER BY created_at ASC, id ASC"
	}

	q := `SELECT ` + factColumns + ` FROM facts` + where + order
	if f.Limit > 0 {
		q += " LIMIT ?"
		args = append(args, f.Limit)
		if f.Offset > 0 {
			q += " OFFSET ?"
			args = append(args, f.Offset)
		}
	} else if f.Offset > 0 {
		// SQLite requires a LIMIT clause before OFFSET.
		q += " LIMIT -1 OFFSET ?"
		args = append(args, f.Offset)
	}

	rows, err := d.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("listing facts: %w", err)
	}
	defer rows.Close()

	var out []*memory.Fact
	for rows.Next() {
		fact, err := scanFact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, fact)
	}
	return out, rows.Err()
}

// CountFacts returns the number of facts matching the filter.
func (d *Driver) CountFacts(ctx context.Context, f store.FactFilter) (int, error) {
	where, args := factWhere(f)
	var count int
	err := d.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM facts`+where, args...).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting facts: %w", err)
	}
	return count, nil
}

// DistinctCategories returns the distinct category values on active facts.
func (d *Driver) DistinctCategories(ctx context.Context) ([]string, error) {
	rows, err := d.db.QueryContext(ctx, `
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
	rows, err := d.db.QueryContext(ctx, `
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
	rows, err := d.db.QueryContext(ctx, `
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
	defer rows.Close()

	var (
		out     [][]*memory.Fact
		current []*memory.Fact
		lastKey [3]string
	)
	for rows.Next() {
		f, err := scanFact(rows)
		if err != nil {
			return nil, err
		}
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
	return out, rows.Err()
}

// CountBySubjectSince counts active facts for a subject within the window.
func (d *Driver) CountBySubjectSince(ctx context.Context, subject string, since time.Time) (int, error) {
	var count int
	err := d.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM facts
		WHERE status = 'active' AND norm_subject = ? AND created_at >= ?`,
		memory.Normalize(subject), since,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("counting by subject: %w", err)
	}
	return count, nil
}

// GetCategory returns the cached summary row for a name.
func (d *Driver) GetCategory(ctx context.Context, name string) (*memory.Category, error) {
	var (
		c     memory.Category
		id    string
		stale int
	)
	err := d.db.QueryRowContext(ctx,
		`SELECT id, name, summary, stale, updated_at FROM categories WHERE name = ?`, name,
	).Scan(&id, &c.Name, &c.Summary, &stale, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, memory.NotFoundError{Kind: "category"}
	}
	if err != nil {
		return nil, fmt.Errorf("querying category: %w", err)
	}

	parsed, err := uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("parsing category id: %w", err)
	}
	c.ID = parsed
	c.Stale = stale != 0
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
	stale := 0
	if c.Stale {
		stale = 1
	}

	_, err := d.db.ExecContext(ctx, `
		INSERT INTO categories (id, name, summary, stale, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (name) DO UPDATE SET
			summary = excluded.summary,
			stale = excluded.stale,
			updated_at = excluded.updated_at`,
		id.String(), c.Name, c.Summary, stale, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upserting category: %w", err)
	}
	return nil
}

// ListCategories returns all summary cache rows sorted by name.
func (d *Driver) ListCategories(ctx context.Context) ([]*memory.Category, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, name, summary, stale, updated_at FROM categories ORDER BY name ASC`)
	if err != nil {
		return nil, fmt.Errorf("listing categories: %w", err)
	}
	defer rows.Close()

	var out []*memory.Category
	for rows.Next() {
		var (
			c     memory.Category
			id    string
			stale int
		)
		if err := rows.Scan(&id, &c.Name, &c.Summary, &stale, &c.UpdatedAt); err != nil {
			return nil, err
		}
		parsed, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("parsing category id: %w", err)
		}
		c.ID = parsed
		c.Stale = stale != 0
		out = append(out, &c)
	}
	return out, rows.Err()
}

// AppendAccesses appends usage-log rows.
func (d *Driver) AppendAccesses(ctx context.Context, accessRows []*memory.CategoryAccess) error {
	if len(accessRows) == 0 {
		return nil
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	for _, a := range accessRows {
		id := a.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO category_accesses (id, category, accessed_at, source) VALUES (?, ?, ?, ?)`,
			id.String(), a.Category, a.AccessedAt, a.Source,
		); err != nil {
			return fmt.Errorf("inserting access row: %w", err)
		}
	}
	return tx.Commit()
}

// CountAccessesSince returns per-category access counts within the window.
func (d *Driver) CountAccessesSince(ctx context.Context, since time.Time) (map[string]int, error) {
	rows, err := d.db.QueryContext(ctx, `
		SELECT category, COUNT(*) FROM category_accesses
		WHERE accessed_at >= ?
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
	rows, err := d.db.QueryContext(ctx,
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
	res, err := d.db.ExecContext(ctx,
		`DELETE FROM category_accesses WHERE accessed_at < ?`, before)
	if err != nil {
		return 0, fmt.Errorf("pruning accesses: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// ReplaceEdges drops all graph edges and installs the given set in one
// transaction, so readers never observe a half-built graph.
func (d *Driver) ReplaceEdges(ctx context.Context, edges []*memory.GraphEdge) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM graph_edges`); err != nil {
		return fmt.Errorf("clearing edges: %w", err)
	}

	for _, e := range edges {
		id := e.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO graph_edges (id, subject, predicate, object, weight, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			id.String(), e.Subject, e.Predicate, e.Object, e.Weight, e.CreatedAt,
		); err != nil {
			return fmt.Errorf("inserting edge: %w", err)
		}
	}
	return tx.Commit()
}

func scanEdges(rows *sql.Rows) ([]*memory.GraphEdge, error) {
	var out []*memory.GraphEdge
	for rows.Next() {
		var (
			e  memory.GraphEdge
			id string
		)
		if err := rows.Scan(&id, &e.Subject, &e.Predicate, &e.Object, &e.Weight, &e.CreatedAt); err != nil {
			return nil, err
		}
		parsed, err := uuid.Parse(id)
		if err != nil {
			return nil, fmt.Errorf("parsing edge id: %w", err)
		}
		e.ID = parsed
		out = append(out, &e)
	}
	return out, rows.Err()
}

// ListEdges returns all graph edges.
func (d *Driver) ListEdges(ctx context.Context) ([]*memory.GraphEdge, error) {
	rows, err := d.db.QueryContext(ctx,
		`SELECT id, subject, predicate, object, weight, created_at FROM graph_edges`)
	if err != nil {
		return nil, fmt.Errorf("listing edges: %w", err)
	}
	defer rows.Close()
	return scanEdges(rows)
}

// NeighborEdges returns edges touching the normalized entity string.
func (d *Driver) NeighborEdges(ctx context.Context, entity string) ([]*memory.GraphEdge, error) {
	norm := memory.Normalize(entity)
	rows, err := d.db.QueryContext(ctx, `
		SELECT id, subject, predicate, object, weight, created_at FROM graph_edges
		WHERE LOWER(subject) = ? OR LOWER(object) = ?`, norm, norm)
	if err != nil {
		return nil, fmt.Errorf("querying neighbors: %w", err)
	}
	defer rows.Close()
	return scanEdges(rows)
}

// Ensure Driver implements store.Driver.
var _ store.Driver = (*Driver)(nil)
