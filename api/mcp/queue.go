package mcp

import (
	"context"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

var (
	queueStatsToolName    = "queue_stats"
	queueStatsDescription = "Report how many pipeline jobs are queued, processing, completed and failed."

	reprocessMemoryToolName    = "reprocess_memory"
	reprocessMemoryDescription = "Queue a new memory extraction for a conversation. Runs against the given transcript version, or the active one when none is given. The new memory version is activated when the job completes."
)

// QueueStatsInput takes no arguments.
type QueueStatsInput struct{}

// QueueStatsOutput represents job counts per status.
type QueueStatsOutput struct {
	Queued     int `json:"queued_jobs"`
	Processing int `json:"processing_jobs"`
	Completed  int `json:"completed_jobs"`
	Failed     int `json:"failed_jobs"`
	Total      int `json:"total_jobs"`
}

func (s *Server) handleQueueStats(ctx context.Context, _ *mcp.CallToolRequest, _ QueueStatsInput) (*mcp.CallToolResult, QueueStatsOutput, error) {
	stats, err := s.config.Service.QueueStats(ctx)
	if err != nil {
		return toolError("Queue stats failed: %v", err), QueueStatsOutput{}, nil
	}

	output := QueueStatsOutput{
		Queued:     stats.Queued,
		Processing: stats.Processing,
		Completed:  stats.Completed,
		Failed:     stats.Failed,
		Total:      stats.Total(),
	}
	res, err := textResult(output)
	if err != nil {
		return toolError("Failed to serialize results: %v", err), QueueStatsOutput{}, nil
	}
	return res, output, nil
}

// ReprocessMemoryInput represents the input arguments for reprocess_memory.
type ReprocessMemoryInput struct {
	ConversationID      string `json:"conversation_id" jsonschema:"the conversation to re-extract memories for"`
	TranscriptVersionID string `json:"transcript_version_id,omitempty" jsonschema:"transcript version to extract from (default: the active one)"`
}

// ReprocessMemoryOutput identifies the queued job.
type ReprocessMemoryOutput struct {
	JobID               string `json:"job_id"`
	ConversationID      string `json:"conversation_id"`
	TranscriptVersionID string `json:"transcript_version_id"`
}

func (s *Server) handleReprocessMemory(ctx context.Context, _ *mcp.CallToolRequest, input ReprocessMemoryInput) (*mcp.CallToolResult, ReprocessMemoryOutput, error) {
	if input.ConversationID == "" {
		return toolError("conversation_id is required"), ReprocessMemoryOutput{}, nil
	}

	job, err := s.config.Service.ReprocessMemory(ctx, input.ConversationID, input.TranscriptVersionID)
	if err != nil {
		return toolError("Reprocess failed: %v", err), ReprocessMemoryOutput{}, nil
	}
	s.config.Logger.Info("memory reprocessing queued via MCP",
		"conversation_id", input.ConversationID,
		"job_id", job.ID,
	)

	output := ReprocessMemoryOutput{
		JobID:               job.ID,
		ConversationID:      job.Payload.ConversationID,
		TranscriptVersionID: job.Payload.SourceVersionID,
	}
	res, err := textResult(output)
	if err != nil {
		return toolError("Failed to serialize results: %v", err), ReprocessMemoryOutput{}, nil
	}
	return res, output, nil
}
