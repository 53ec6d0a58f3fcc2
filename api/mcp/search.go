package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.uber.org/zap"

	"github.com/papercomputeco/engram/pkg/retrieval"
	"github.com/papercomputeco/engram/pkg/utils"
)

var (
	searchToolName    = "memory_search"
	searchDescription = "Search long-term memory for facts matching a query. Returns structured facts grouped by category with confidence scores and match provenance. Use this to answer specific questions about the user."
)

// SearchInput represents the input arguments for the memory_search tool.
type SearchInput struct {
	Query      string   `json:"query" jsonschema:"the search query text to find relevant facts"`
	Categories []string `json:"categories,omitempty" jsonschema:"optional category names to restrict the search to"`
	MaxItems   int      `json:"max_items,omitempty" jsonschema:"maximum facts per category (default: 10)"`
}

// SearchFact represents a single fact in the search output.
type SearchFact struct {
	ID         string  `json:"id"`
	Text       string  `json:"text"`
	Category   string  `json:"category"`
	Confidence float64 `json:"confidence"`
	Match      string  `json:"match"`
	Score      float32 `json:"score,omitempty"`
}

// SearchOutput represents the output of the memory_search tool.
type SearchOutput struct {
	Query string       `json:"query"`
	Facts []SearchFact `json:"facts"`
	Count int          `json:"count"`
}

// handleSearch processes a memory search request via MCP.
func (s *Server) handleSearch(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (*mcp.CallToolResult, SearchOutput, error) {
	logger := s.config.Logger

	if input.Query == "" {
		return &mcp.CallToolResult{
			IsError: true,
			Content: []mcp.Content{
				&mcp.TextContent{Text: "query is required"},
			},
		}, SearchOutput{}, nil
	}

	logger.Debug("MCP search request",
		zap.String("query", input.Query),
		zap.Strings("categories", input.Categories),
	)

	resp, err := s.config.Engine.Retrieve(ctx, retrieval.Request{
		Query:               input.Query,
		Categories:          input.Categories,
		MaxItemsPerCategory: input.MaxItems,
	})
	if err != nil {
		logger.Error("failed to search memory", zap.Error(err))
		return &mcp.CallToolResult{
			IsError: true,
			Content: []mcp.Content{
				&mcp.TextContent{Text: fmt.Sprintf("Memory search failed: %v", err)},
			},
		}, SearchOutput{}, nil
	}

	output := SearchOutput{Query: input.Query, Facts: []SearchFact{}}
	for _, block := range resp.Categories {
		for _, item := range block.Items {
			output.Facts = append(output.Facts, SearchFact{
				ID:         item.Fact.ID.String(),
				Text:       utils.Truncate(item.Fact.Text(), 200),
				Category:   block.Name,
				Confidence: item.Fact.Confidence,
				Match:      string(item.Match),
				Score:      item.Score,
			})
		}
	}
	output.Count = len(output.Facts)

	jsonBytes, err := json.Marshal(output)
	if err != nil {
		return &mcp.CallToolResult{
			IsError: true,
			Content: []mcp.Content{
				&mcp.TextContent{Text: fmt.Sprintf("Failed to serialize results: %v", err)},
			},
		}, SearchOutput{}, nil
	}

	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(jsonBytes)},
		},
	}, output, nil
}
