package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/papercomputeco/chronicle/pkg/conversation"
)

var (
	listVersionsToolName    = "list_versions"
	listVersionsDescription = "List the transcript and memory versions of a conversation, oldest first, marking which one of each kind is active."
)

// ListVersionsInput represents the input arguments for list_versions.
type ListVersionsInput struct {
	ConversationID string `json:"conversation_id" jsonschema:"the conversation whose versions to list"`
	Kind           string `json:"kind,omitempty" jsonschema:"transcript or memory (default: both)"`
}

// ListVersionsOutput lists versions of one conversation.
type ListVersionsOutput struct {
	ConversationID string                     `json:"conversation_id"`
	Versions       []conversation.VersionInfo `json:"versions"`
	Count          int                        `json:"count"`
}

func (s *Server) handleListVersions(ctx context.Context, _ *mcp.CallToolRequest, input ListVersionsInput) (*mcp.CallToolResult, ListVersionsOutput, error) {
	if input.ConversationID == "" {
		return toolError("conversation_id is required"), ListVersionsOutput{}, nil
	}

	kinds := []conversation.VersionKind{conversation.KindTranscript, conversation.KindMemory}
	if input.Kind != "" {
		kind, err := conversation.ParseVersionKind(input.Kind)
		if err != nil {
			return toolError("%v", err), ListVersionsOutput{}, nil
		}
		kinds = []conversation.VersionKind{kind}
	}

	output := ListVersionsOutput{
		ConversationID: input.ConversationID,
		Versions:       []conversation.VersionInfo{},
	}
	for _, kind := range kinds {
		vs, err := s.config.Service.ListVersions(ctx, input.ConversationID, kind)
		if err != nil {
			return toolError("Listing versions failed: %v", err), ListVersionsOutput{}, nil
		}
		output.Versions = append(output.Versions, vs...)
	}
	output.Count = len(output.Versions)

	res, err := textResult(output)
	if err != nil {
		return toolError("Failed to serialize results: %v", err), ListVersionsOutput{}, nil
	}
	return res, output, nil
}
