// Package memory defines the domain model for the engram long-term memory
// store: resources (raw ingested text), facts (atomic subject–predicate–object
// claims derived from resources), categories with cached summaries, the
// category access log consumed by priority ranking, and derived knowledge
// graph edges.
//
// The package is pure data and invariants, no I/O. Persistence lives behind
// the store.Driver interface and its implementations.
package memory

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a Fact.
//
// Transitions are monotonic: active → archived → deleted. The single
// permitted back-edge is archived → active (explicit reactivation, used by
// conflict correction). Deleted is terminal.
type Status string

const (
	StatusActive   Status = "active"
	StatusArchived Status = "archived"
	StatusDeleted  Status = "deleted"
)

// Valid reports whether s is a known status value.
func (s Status) Valid() bool {
	switch s {
	case StatusActive, StatusArchived, StatusDeleted:
		return true
	}
	return false
}

// CanTransition reports whether a fact may move from s to next.
func (s Status) CanTransition(next Status) bool {
	switch s {
	case StatusActive:
		return next == StatusArchived || next == StatusDeleted
	case StatusArchived:
		// archived → active is the reactivation back-edge.
		return next == StatusActive || next == StatusDeleted
	case StatusDeleted:
		return false
	}
	return false
}

// Resource is an immutable raw ingestion record. Facts hold a weak
// back-reference to the resource they were extracted from; deleting a
// resource never cascades to its facts.
type Resource struct {
	ID        uuid.UUID         `json:"id"`
	CreatedAt time.Time         `json:"created_at"`
	Source    string            `json:"source"`
	Content   string            `json:"content"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// NewResource creates a resource with a fresh id and timestamp.
func NewResource(content, source string, metadata map[string]string) *Resource {
	return &Resource{
		ID:        uuid.New(),
		CreatedAt: time.Now().UTC(),
		Source:    source,
		Content:   content,
		Metadata:  metadata,
	}
}

// Fact is an atomic subject–predicate–object claim.
//
// Object may be empty; extraction legitimately omits it. Category is empty
// until classified. Confidence stays within [0, 1]; decay and promotion clamp
// rather than overflow. Supersedes, once set, is immutable.
type Fact struct {
	ID         uuid.UUID  `json:"id"`
	CreatedAt  time.Time  `json:"created_at"`
	ResourceID *uuid.UUID `json:"resource_id,omitempty"`
	Subject    string     `json:"subject,omitempty"`
	Predicate  string     `json:"predicate,omitempty"`
	Object     string     `json:"object,omitempty"`
	Category   string     `json:"category,omitempty"`
	Confidence float64    `json:"confidence"`
	Status     Status     `json:"status"`

	// Supersedes links a fact to the older fact it replaced during conflict
	// resolution or duplicate merging.
	Supersedes *uuid.UUID `json:"supersedes,omitempty"`

	// DecayedAt is the watermark of the last time decay application. The
	// weekly job decays only the interval elapsed since this instant, which
	// keeps re-runs idempotent. Zero means decay has never been applied and
	// the interval is measured from CreatedAt.
	DecayedAt time.Time `json:"decayed_at,omitempty"`
}

// NewFact creates an active fact with a fresh id and timestamp.
// It returns a ValidationError if subject and predicate are both empty:
// such a triple carries no claim.
func NewFact(subject, predicate, object string) (*Fact, error) {
	if strings.TrimSpace(subject) == "" && strings.TrimSpace(predicate) == "" {
		return nil, ValidationError{Reason: "fact requires a subject or a predicate"}
	}
	return &Fact{
		ID:         uuid.New(),
		CreatedAt:  time.Now().UTC(),
		Subject:    subject,
		Predicate:  predicate,
		Object:     object,
		Confidence: 1.0,
		Status:     StatusActive,
	}, nil
}

// Key returns the fact's normalized claim key.
func (f *Fact) Key() ClaimKey {
	return NewClaimKey(f.Subject, f.Predicate)
}

// Text renders the triple as a single line, the form that gets embedded and
// shown in context blocks.
func (f *Fact) Text() string {
	parts := make([]string, 0, 3)
	for _, p := range []string{f.Subject, f.Predicate, f.Object} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, " ")
}

// LastDecay returns the instant decay was last applied, falling back to the
// creation time when the fact has never been decayed.
func (f *Fact) LastDecay() time.Time {
	if f.DecayedAt.IsZero() {
		return f.CreatedAt
	}
	return f.DecayedAt
}

// ClampConfidence bounds c to [0, 1].
func ClampConfidence(c float64) float64 {
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// ClaimKey is the normalized (subject, predicate) pair identifying a claim.
// At most one active fact may exist per key.
type ClaimKey struct {
	Subject   string
	Predicate string
}

// NewClaimKey normalizes subject and predicate: case-folded, trimmed, inner
// whitespace collapsed. Entity strings are otherwise opaque: "John" and
// "John Smith" are distinct keys.
func NewClaimKey(subject, predicate string) ClaimKey {
	return ClaimKey{
		Subject:   Normalize(subject),
		Predicate: Normalize(predicate),
	}
}

// Normalize lowercases s, trims it, and collapses runs of whitespace.
func Normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

// entityAliases maps common shorthand entity names to a canonical form.
var entityAliases = map[string]string{
	// User self-references
	"i":      "user",
	"me":     "user",
	"myself": "user",
	// Programming languages
	"js": "javascript",
	"ts": "typescript",
	"py": "python",
	"rb": "ruby",
	"rs": "rust",
	// Common tools
	"pg":       "postgresql",
	"postgres": "postgresql",
	"mongo":    "mongodb",
	"k8s":      "kubernetes",
	"tf":       "terraform",
	"gh":       "github",
	// Operating systems
	"mac": "macos",
	"osx": "macos",
	"win": "windows",
}

// ResolveEntity normalizes an entity name and maps known shorthand to its
// canonical form ("postgres" and "pg" both resolve to "postgresql").
// Unknown entities pass through normalized; full entity resolution across
// distinct names is out of scope.
func ResolveEntity(s string) string {
	n := Normalize(s)
	if canonical, ok := entityAliases[n]; ok {
		return canonical
	}
	return n
}

// Category is a named fact bucket with a cached textual summary.
//
// The summary is a cache, not source of truth: the authoritative category set
// is the distinct category values on active facts. A missing or empty summary
// renders as an empty section, never as an error.
type Category struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Summary   string    `json:"summary,omitempty"`
	Stale     bool      `json:"stale"`
	UpdatedAt time.Time `json:"updated_at"`
}

// CategoryAccess is one append-only usage-log row, written per category
// surfaced in a context-assembly response. Rows are read only in aggregate
// and may be pruned without affecting correctness.
type CategoryAccess struct {
	ID         uuid.UUID `json:"id"`
	Category   string    `json:"category"`
	AccessedAt time.Time `json:"accessed_at"`
	Source     string    `json:"source"`
}

// GraphEdge is a weighted relationship between two entity strings. Edges are
// a derived, rebuildable projection of the fact store: rebuilding from the
// same fact set yields the same edge set and weights.
type GraphEdge struct {
	ID        uuid.UUID `json:"id"`
	Subject   string    `json:"subject"`
	Predicate string    `json:"predicate"`
	Object    string    `json:"object"`
	Weight    float64   `json:"weight"`
	CreatedAt time.Time `json:"created_at"`
}
