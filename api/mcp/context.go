package mcp

import (
	"context"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/papercomputeco/engram/pkg/retrieval"
)

var (
	contextToolName    = "memory_context"
	contextDescription = "Assemble a markdown context block from long-term memory. Returns category summaries and the highest-priority facts, optionally narrowed by a query and bounded in size. Use this at the start of a conversation to load what is known about the user."
)

// ContextInput represents the input arguments for the memory_context tool.
type ContextInput struct {
	Query      string   `json:"query,omitempty" jsonschema:"optional query text to focus the context on"`
	Categories []string `json:"categories,omitempty" jsonschema:"optional category names to restrict the context to"`
	MaxChars   int      `json:"max_chars,omitempty" jsonschema:"maximum size of the rendered context in characters (default: unbounded)"`
}

// ContextOutput represents the output of the memory_context tool.
type ContextOutput struct {
	Context string `json:"context"`
}

// handleContext processes a context assembly request via MCP.
func (s *Server) handleContext(ctx context.Context, _ *mcp.CallToolRequest, input ContextInput) (*mcp.CallToolResult, ContextOutput, error) {
	s.config.Logger.Debug("MCP context request",
		zap.String("query", input.Query),
		zap.Strings("categories", input.Categories),
		zap.Int("maxChars", input.MaxChars),
	)

	text, err := s.config.Engine.Context(ctx, retrieval.Request{
		Query:      input.Query,
		Categories: input.Categories,
		MaxChars:   input.MaxChars,
	})
	if err != nil {
		s.config.Logger.Error("failed to assemble context", zap.Error(err))
		return &mcp.CallToolResult{
			IsError: true,
			Content: []mcp.Content{
				&mcp.TextContent{Text: fmt.Sprintf("Failed to assemble context: %v", err)},
			},
		}, ContextOutput{}, nil
	}

	output := ContextOutput{Context: text}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}, output, nil
}
