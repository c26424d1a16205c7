package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/papercomputeco/chronicle/pkg/pipeline"
	"github.com/papercomputeco/chronicle/pkg/search"
)

var (
	searchToolName    = "search_memories"
	searchDescription = "Search the memories extracted from recorded conversations. Returns the most relevant active memories for the query text, optionally restricted to one user or conversation."
)

// SearchInput represents the input arguments for the search_memories tool.
type SearchInput struct {
	Query          string  `json:"query" jsonschema:"the search query text to find relevant memories"`
	UserID         string  `json:"user_id,omitempty" jsonschema:"only return memories owned by this user"`
	ConversationID string  `json:"conversation_id,omitempty" jsonschema:"only return memories from this conversation"`
	Contains       string  `json:"contains,omitempty" jsonschema:"case-insensitive substring the memory content must contain"`
	Limit          int     `json:"limit,omitempty" jsonschema:"number of results to return (default: 10)"`
	ScoreThreshold float32 `json:"score_threshold,omitempty" jsonschema:"minimum relevance score between 0 and 1"`
}

// SearchResult represents a single search result.
type SearchResult struct {
	MemoryID       string         `json:"memory_id"`
	ConversationID string         `json:"conversation_id"`
	UserID         string         `json:"user_id"`
	Content        string         `json:"content"`
	Score          float32        `json:"score"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// SearchOutput represents the output of the search tool.
type SearchOutput struct {
	Query   string         `json:"query"`
	Results []SearchResult `json:"results"`
	Count   int            `json:"count"`
}

// handleSearch processes a search request.
func (s *Server) handleSearch(ctx context.Context, _ *mcp.CallToolRequest, input SearchInput) (*mcp.CallToolResult, SearchOutput, error) {
	logger := s.config.Logger
	logger.Debug("MCP search request",
		"query", input.Query,
		"limit", input.Limit,
	)

	results, err := s.config.Service.SearchMemories(ctx, pipeline.SearchRequest{
		Query:          input.Query,
		UserID:         input.UserID,
		ConversationID: input.ConversationID,
		Contains:       input.Contains,
		Limit:          input.Limit,
		ScoreThreshold: input.ScoreThreshold,
	})
	if err != nil {
		logger.Error("failed to search memories", "error", err)
		return toolError("Memory search failed: %v", err), SearchOutput{}, nil
	}

	output := SearchOutput{
		Query:   input.Query,
		Results: make([]SearchResult, 0, len(results)),
	}
	for _, r := range results {
		output.Results = append(output.Results, buildSearchResult(r))
	}
	output.Count = len(output.Results)

	res, err := textResult(output)
	if err != nil {
		logger.Error("failed to marshal search output", "error", err)
		return toolError("Failed to serialize results: %v", err), SearchOutput{}, nil
	}
	return res, output, nil
}

func buildSearchResult(r search.Result) SearchResult {
	return SearchResult{
		MemoryID:       r.Memory.ID,
		ConversationID: r.Memory.SourceConversationID,
		UserID:         r.Memory.UserID,
		Content:        r.Memory.Content,
		Score:          r.Score,
		Metadata:       r.Memory.Metadata,
	}
}
