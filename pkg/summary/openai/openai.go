// Package openai provides a summary.Summarizer backed by the OpenAI API.
package openai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/papercomputeco/engram/pkg/summary"
)

// DefaultModel is the default chat model for summarization.
const DefaultModel = "gpt-4o-mini"

const systemPrompt = `You condense memory facts about a user into a short summary.
Given a category name and a list of facts, write 1-3 sentences capturing the
essentials. Prefer newer facts when they disagree with older ones. Output only
the summary text.`

// Summarizer implements summary.Summarizer using chat completions.
type Summarizer struct {
	client oai.Client
	model  string
}

// Config holds the OpenAI summarizer configuration.
type Config struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// New constructs an OpenAI Summarizer.
func New(cfg Config) (*Summarizer, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai summarizer: api key must not be empty")
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.Timeout}))
	}

	return &Summarizer{client: oai.NewClient(reqOpts...), model: model}, nil
}

// Summarize implements summary.Summarizer.
func (s *Summarizer) Summarize(ctx context.Context, category string, facts []string) (string, error) {
	if len(facts) == 0 {
		return "", nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Category: %s\nFacts (newest first):\n", category)
	for _, f := range facts {
		fmt.Fprintf(&b, "- %s\n", f)
	}

	resp, err := s.client.Chat.Completions.New(ctx, oai.ChatCompletionNewParams{
		Model: shared.ChatModel(s.model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(systemPrompt),
			oai.UserMessage(b.String()),
		},
		Temperature: param.NewOpt(0.2),
	})
	if err != nil {
		return "", fmt.Errorf("openai summarizer: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai summarizer: empty choices in response")
	}

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// Ensure Summarizer implements summary.Summarizer.
var _ summary.Summarizer = (*Summarizer)(nil)
