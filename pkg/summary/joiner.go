package summary

import (
	"context"
	"fmt"
	"strings"
)

// Joiner is a deterministic Summarizer that concatenates the leading fact
// texts. It is the fallback when no LLM provider is configured and the
// workhorse for tests.
type Joiner struct {
	// MaxFacts bounds how many fact texts appear in the summary. Zero
	// means DefaultJoinerFacts.
	MaxFacts int
}

// DefaultJoinerFacts is the default number of facts a Joiner includes.
const DefaultJoinerFacts = 5

// Summarize joins the newest fact texts with semicolons, prefixed by the
// total count.
func (j *Joiner) Summarize(_ context.Context, category string, facts []string) (string, error) {
	if len(facts) == 0 {
		return "", nil
	}

	max := j.MaxFacts
	if max <= 0 {
		max = DefaultJoinerFacts
	}
	shown := facts
	if len(shown) > max {
		shown = shown[:max]
	}

	return fmt.Sprintf("%s (%d): %s", category, len(facts), strings.Join(shown, "; ")), nil
}

// Ensure Joiner implements Summarizer.
var _ Summarizer = (*Joiner)(nil)
