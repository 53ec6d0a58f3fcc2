// Package ollama provides an extraction.Extractor backed by a local Ollama
// server.
package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/papercomputeco/engram/pkg/extraction"
)

const (
	// DefaultBaseURL is the standard local Ollama endpoint.
	DefaultBaseURL = "http://localhost:11434"

	// DefaultModel is the default chat model for fact extraction.
	DefaultModel = "llama3.2"

	// DefaultTimeout bounds a single extraction request.
	DefaultTimeout = 60 * time.Second
)

const systemPrompt = `You extract structured facts from text about a user.
Return JSON of the form {"facts": [{"subject": ..., "predicate": ...,
"object": ..., "category": ..., "confidence": ...}]}. Categories are one of:
preferences, facts, events, relationships, skills, goals. Object may be null
when the predicate stands alone. Confidence is between 0 and 1. Extract only
what the text states; do not invent facts.`

// Extractor implements extraction.Extractor against the Ollama chat API.
type Extractor struct {
	baseURL string
	model   string
	client  *http.Client
}

// Config holds the Ollama extractor configuration.
type Config struct {
	BaseURL string
	Model   string
	Timeout time.Duration
}

// New constructs an Ollama Extractor.
func New(cfg Config) *Extractor {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	return &Extractor{
		baseURL: baseURL,
		model:   model,
		client:  &http.Client{Timeout: timeout},
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string         `json:"model"`
	Messages []chatMessage  `json:"messages"`
	Stream   *bool          `json:"stream,omitempty"`
	Format   string         `json:"format,omitempty"`
	Options  map[string]any `json:"options,omitempty"`
}

type chatResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
	Done bool `json:"done"`
}

// Extract implements extraction.Extractor.
func (e *Extractor) Extract(ctx context.Context, text string) ([]extraction.Candidate, error) {
	stream := false
	payload := chatRequest{
		Model: e.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: text},
		},
		Stream:  &stream,
		Format:  "json",
		Options: map[string]any{"temperature": 0.1},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("ollama extractor: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		e.baseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ollama extractor: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("ollama extractor: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("ollama extractor: unexpected status %d: %s",
			resp.StatusCode, string(data))
	}

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("ollama extractor: decode response: %w", err)
	}

	return extraction.DecodeCandidates([]byte(out.Message.Content)), nil
}

// Ensure Extractor implements extraction.Extractor.
var _ extraction.Extractor = (*Extractor)(nil)
