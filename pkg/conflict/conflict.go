// Package conflict decides, at write time, whether a candidate fact
// contradicts, duplicates, or coexists with the existing active facts.
//
// Resolution for a claim key runs inside a per-key critical section: two
// concurrent writers for the same (subject, predicate) serialize, and the
// second re-checks the store after acquiring the lock since the first may
// already have archived or inserted.
package conflict

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/papercomputeco/engram/pkg/memory"
	"github.com/papercomputeco/engram/pkg/store"
)

// ReinforcementBonus is the bounded confidence bump applied when an
// incoming fact restates an existing active claim verbatim.
const ReinforcementBonus = 0.05

// Action describes what Resolve did with the candidate.
type Action string

const (
	// ActionInserted means no active fact held the claim; the candidate
	// was stored as a new active fact.
	ActionInserted Action = "inserted"

	// ActionReinforced means the candidate restated the existing object;
	// the existing fact's confidence was bumped and no row was created.
	ActionReinforced Action = "reinforced"

	// ActionSuperseded means the candidate's object differed; the existing
	// fact was archived and the candidate stored with a supersedes link.
	ActionSuperseded Action = "superseded"
)

// Result reports the outcome of one resolution.
type Result struct {
	Action Action `json:"action"`

	// Fact is the active fact after resolution: the inserted candidate,
	// the reinforced existing fact, or the superseding candidate.
	Fact *memory.Fact `json:"fact"`

	// Archived is the previously active fact displaced by a supersession,
	// nil otherwise.
	Archived *memory.Fact `json:"archived,omitempty"`
}

// Resolver serializes fact writes per claim key against a store.Driver.
type Resolver struct {
	driver store.Driver
	logger *zap.Logger

	mu    sync.Mutex
	locks map[memory.ClaimKey]*sync.Mutex
}

// NewResolver creates a Resolver over the given driver.
func NewResolver(driver store.Driver, logger *zap.Logger) *Resolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{
		driver: driver,
		logger: logger,
		locks:  make(map[memory.ClaimKey]*sync.Mutex),
	}
}

func (r *Resolver) lockFor(key memory.ClaimKey) *sync.Mutex {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.locks[key]
	if !ok {
		l = &sync.Mutex{}
		r.locks[key] = l
	}
	return l
}

// Resolve runs the conflict algorithm for the candidate fact. The candidate
// must not already be stored; Resolve owns the insert.
func (r *Resolver) Resolve(ctx context.Context, candidate *memory.Fact) (*Result, error) {
	if candidate == nil {
		return nil, memory.ValidationError{Reason: "nil candidate"}
	}
	if candidate.Subject == "" && candidate.Predicate == "" {
		return nil, memory.ValidationError{Reason: "fact requires a subject or a predicate"}
	}

	key := candidate.Key()
	lock := r.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	// Re-check under the lock: a concurrent resolution for this key may
	// have finished between the caller's decision to write and now.
	existing, err := r.driver.FindActiveClaim(ctx, key)
	if err != nil {
		var nf memory.NotFoundError
		if !errors.As(err, &nf) {
			return nil, fmt.Errorf("looking up active claim: %w", err)
		}
		existing = nil
	}

	if existing == nil {
		if err := r.driver.PutFact(ctx, candidate); err != nil {
			return nil, fmt.Errorf("inserting fact: %w", err)
		}
		r.logger.Debug("fact inserted",
			zap.String("fact_id", candidate.ID.String()),
			zap.String("subject", candidate.Subject),
			zap.String("predicate", candidate.Predicate))
		return &Result{Action: ActionInserted, Fact: candidate}, nil
	}

	if memory.Normalize(candidate.Object) == memory.Normalize(existing.Object) {
		existing.Confidence = memory.ClampConfidence(existing.Confidence + ReinforcementBonus)
		// Reinforcement counts as seeing the claim again, so the decay
		// watermark advances.
		existing.DecayedAt = time.Now().UTC()
		if err := r.driver.UpdateFact(ctx, existing); err != nil {
			return nil, fmt.Errorf("reinforcing fact: %w", err)
		}
		r.logger.Debug("fact reinforced",
			zap.String("fact_id", existing.ID.String()),
			zap.Float64("confidence", existing.Confidence))
		return &Result{Action: ActionReinforced, Fact: existing}, nil
	}

	// Differing object: archive the old claim, link the new one to it.
	if err := r.driver.SetStatus(ctx, existing.ID, memory.StatusArchived); err != nil {
		return nil, fmt.Errorf("archiving superseded fact: %w", err)
	}
	supersededID := existing.ID
	candidate.Supersedes = &supersededID
	if err := r.driver.PutFact(ctx, candidate); err != nil {
		return nil, fmt.Errorf("inserting superseding fact: %w", err)
	}
	existing.Status = memory.StatusArchived

	r.logger.Debug("fact superseded",
		zap.String("old_fact_id", existing.ID.String()),
		zap.String("new_fact_id", candidate.ID.String()),
		zap.String("subject", candidate.Subject),
		zap.String("predicate", candidate.Predicate))
	return &Result{Action: ActionSuperseded, Fact: candidate, Archived: existing}, nil
}
