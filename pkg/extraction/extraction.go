// Package extraction turns raw text into candidate facts. Providers are
// swappable: LLM-backed extractors return structured triples, and the
// deterministic core never depends on any specific model.
package extraction

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/papercomputeco/engram/pkg/memory"
)

// Candidate is one extracted fact before conflict resolution.
type Candidate struct {
	Subject   string `json:"subject"`
	Predicate string `json:"predicate"`

	// Object is nullable: models legitimately return facts without one
	// ("John smokes"). A null or missing object is an empty string, never
	// a decode failure.
	Object *string `json:"object"`

	Category   string  `json:"category,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
}

// ObjectText returns the object string, empty when absent.
func (c Candidate) ObjectText() string {
	if c.Object == nil {
		return ""
	}
	return *c.Object
}

// Fact converts the candidate into a new active fact.
func (c Candidate) Fact() (*memory.Fact, error) {
	f, err := memory.NewFact(c.Subject, c.Predicate, c.ObjectText())
	if err != nil {
		return nil, err
	}
	f.Category = c.Category
	if c.Confidence > 0 {
		f.Confidence = memory.ClampConfidence(c.Confidence)
	}
	return f, nil
}

// Extractor converts free text into candidate facts.
type Extractor interface {
	// Extract returns the candidate facts found in text. No extractable
	// facts is an empty slice, not an error.
	Extract(ctx context.Context, text string) ([]Candidate, error)
}

// DecodeCandidates tolerantly parses a model's JSON output. Accepted
// shapes: a {"facts": [...]} wrapper, a bare array, or a single object.
// Entries that are not objects or carry neither subject nor predicate are
// skipped. Malformed JSON yields no candidates rather than an error; model
// output is best-effort by nature.
func DecodeCandidates(data []byte) []Candidate {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return nil
	}

	var raw []json.RawMessage
	switch trimmed[0] {
	case '[':
		if err := json.Unmarshal([]byte(trimmed), &raw); err != nil {
			return nil
		}
	case '{':
		var wrapper struct {
			Facts []json.RawMessage `json:"facts"`
		}
		if err := json.Unmarshal([]byte(trimmed), &wrapper); err != nil {
			return nil
		}
		if wrapper.Facts != nil {
			raw = wrapper.Facts
		} else {
			// A single candidate object.
			raw = []json.RawMessage{json.RawMessage(trimmed)}
		}
	default:
		return nil
	}

	out := make([]Candidate, 0, len(raw))
	for _, r := range raw {
		var c Candidate
		if err := json.Unmarshal(r, &c); err != nil {
			continue
		}
		if strings.TrimSpace(c.Subject) == "" && strings.TrimSpace(c.Predicate) == "" {
			continue
		}
		if c.Confidence < 0 || c.Confidence > 1 {
			c.Confidence = memory.ClampConfidence(c.Confidence)
		}
		out = append(out, c)
	}
	return out
}
