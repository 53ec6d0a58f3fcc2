// Package eventstream defines transport-neutral memory events and the
// Publisher interface backends implement.
package eventstream

import (
	"time"

	"github.com/papercomputeco/engram/pkg/memory"
)

const (
	// SchemaVersionV1 is the first version of the event payload schema.
	SchemaVersionV1 = 1

	// EventTypeFactIngested is emitted after extraction resolves a fact into
	// the store, whatever the resolution outcome was.
	EventTypeFactIngested = "engram.fact.ingested"
)

// FactIngestedEvent is the payload emitted for each resolved fact.
type FactIngestedEvent struct {
	SchemaVersion int         `json:"schema_version"`
	EventType     string      `json:"event_type"`
	EventID       string      `json:"event_id"`
	EmittedAt     time.Time   `json:"emitted_at"`
	Source        EventSource `json:"source"`

	// Action is the conflict resolution outcome: inserted, reinforced, or
	// superseded.
	Action string `json:"action"`

	Fact *memory.Fact `json:"fact"`

	// Archived is the fact displaced by a supersession, when there was one.
	Archived *memory.Fact `json:"archived,omitempty"`
}

// EventSource identifies where the fact originated.
type EventSource struct {
	ResourceID string `json:"resource_id,omitempty"`
	Extractor  string `json:"extractor,omitempty"`
}
