package memory

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

// ValidationError rejects malformed input to a write operation before any
// state change.
type ValidationError struct {
	Reason string
}

func (e ValidationError) Error() string {
	return "validation: " + e.Reason
}

// InvalidTransitionError rejects an illegal fact status transition; state is
// left unchanged.
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition %s → %s", e.From, e.To)
}

// NotFoundError is returned for operations referencing a nonexistent resource
// or fact id. Category lookups by name never produce it; categories are
// soft-existent.
type NotFoundError struct {
	Kind string
	ID   uuid.UUID
}

func (e NotFoundError) Error() string {
	if e.ID == uuid.Nil {
		return e.Kind + " not found"
	}
	return fmt.Sprintf("%s not found: %s", e.Kind, e.ID)
}

// ErrSupersedesImmutable rejects changing a supersedes link once set.
var ErrSupersedesImmutable = errors.New("supersedes link is immutable once set")
