// Package openai provides an extraction.Extractor backed by the OpenAI API.
package openai

import (
	"context"
	"fmt"
	"net/http"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
	"github.com/openai/openai-go/shared"

	"github.com/papercomputeco/engram/pkg/extraction"
)

// DefaultModel is the default chat model for fact extraction.
const DefaultModel = "gpt-4o-mini"

const systemPrompt = `You extract structured facts from text about a user.
Return JSON of the form {"facts": [{"subject": ..., "predicate": ...,
"object": ..., "category": ..., "confidence": ...}]}. Categories are one of:
preferences, facts, events, relationships, skills, goals. Object may be null
when the predicate stands alone. Confidence is between 0 and 1. Extract only
what the text states; do not invent facts.`

// Extractor implements extraction.Extractor using chat completions.
type Extractor struct {
	client oai.Client
	model  string
}

// Config holds the OpenAI extractor configuration.
type Config struct {
	APIKey  string
	Model   string
	BaseURL string
	Timeout time.Duration
}

// New constructs an OpenAI Extractor.
func New(cfg Config) (*Extractor, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai extractor: api key must not be empty")
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

	return &Extractor{client: oai.NewClient(reqOpts...), model: model}, nil
}

// Extract implements extraction.Extractor.
func (e *Extractor) Extract(ctx context.Context, text string) ([]extraction.Candidate, error) {
	resp, err := e.client.Chat.Completions.New(ctx, oai.ChatCompletionNewParams{
		Model: shared.ChatModel(e.model),
		Messages: []oai.ChatCompletionMessageParamUnion{
			oai.SystemMessage(systemPrompt),
			oai.UserMessage(text),
		},
		Temperature: param.NewOpt(0.1),
		ResponseFormat: oai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONObject: &shared.ResponseFormatJSONObjectParam{},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("openai extractor: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("openai extractor: empty choices in response")
	}

	return extraction.DecodeCandidates([]byte(resp.Choices[0].Message.Content)), nil
}

// Ensure Extractor implements extraction.Extractor.
var _ extraction.Extractor = (*Extractor)(nil)
