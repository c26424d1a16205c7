package api

import (
	"errors"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/papercomputeco/chronicle/pkg/conversation"
	"github.com/papercomputeco/chronicle/pkg/pipeline"
)

// ConversationListResponse wraps a conversation listing.
type ConversationListResponse struct {
	Count         int                          `json:"count"`
	Conversations []*conversation.Conversation `json:"conversations"`
}

// EndRequest is the body of POST /v1/conversations/:id/end.
type EndRequest struct {
	Reason conversation.EndReason `json:"reason"`
}

// handlePing returns a simple health check response.
func (s *Server) handlePing(c *fiber.Ctx) error {
	return c.JSON("pong")
}

// handleUpload accepts a multipart audio upload and enqueues transcription.
// Form fields:
//   - file (required): the audio file
//   - user_id (optional): owner of the conversation
//   - fixture (optional): marks the conversation as test data
func (s *Server) handleUpload(c *fiber.Ctx) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return badRequest(c, "multipart field \"file\" is required")
	}

	fixture := false
	if v := c.FormValue("fixture"); v != "" {
		fixture, err = strconv.ParseBool(v)
		if err != nil {
			return badRequest(c, "fixture must be a boolean")
		}
	}

	f, err := fh.Open()
	if err != nil {
		return s.fail(c, err, "reading upload")
	}
	defer f.Close()

	res, err := s.service.Upload(c.Context(), pipeline.UploadRequest{
		UserID:    strings.TrimSpace(c.FormValue("user_id")),
		Filename:  fh.Filename,
		Reader:    f,
		IsFixture: fixture,
	})
	var incomplete *pipeline.IncompleteUploadError
	if errors.As(err, &incomplete) {
		s.logger.Error("upload failed", "conversation_id", incomplete.ConversationID, "error", incomplete.Err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":           "upload failed",
			"conversation_id": incomplete.ConversationID,
		})
	}
	if err != nil {
		return s.fail(c, err, "upload")
	}
	return c.Status(fiber.StatusAccepted).JSON(res)
}

// handleListConversations lists conversations newest first.
// Query parameters:
//   - user_id (optional)
//   - include_fixtures (optional, default false)
//   - limit (optional, default all)
func (s *Server) handleListConversations(c *fiber.Ctx) error {
	filter := conversation.Filter{UserID: c.Query("user_id")}

	if v := c.Query("include_fixtures"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return badRequest(c, "include_fixtures must be a boolean")
		}
		filter.IncludeFixtures = b
	}
	limit, err := nonNegativeQuery(c, "limit")
	if err != nil {
		return badRequest(c, err.Error())
	}
	filter.Limit = limit

	convs, err := s.service.ListConversations(c.Context(), filter)
	if err != nil {
		return s.fail(c, err, "listing conversations")
	}
	if convs == nil {
		convs = []*conversation.Conversation{}
	}
	return c.JSON(ConversationListResponse{Count: len(convs), Conversations: convs})
}

// handleGetConversation returns one conversation.
func (s *Server) handleGetConversation(c *fiber.Ctx) error {
	conv, err := s.service.GetConversation(c.Context(), c.Params("id"))
	if err != nil {
		return s.fail(c, err, "getting conversation")
	}
	return c.JSON(conv)
}

// handleEndConversation records an end reason. An empty body means
// user_stopped.
func (s *Server) handleEndConversation(c *fiber.Ctx) error {
	req := EndRequest{Reason: conversation.EndReasonUserStopped}
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid request body")
		}
	}

	conv, err := s.service.EndConversation(c.Context(), c.Params("id"), req.Reason)
	if err != nil {
		return s.fail(c, err, "ending conversation")
	}
	return c.JSON(conv)
}

// handleReprocessTranscript queues a new transcription of the stored audio.
func (s *Server) handleReprocessTranscript(c *fiber.Ctx) error {
	job, err := s.service.ReprocessTranscript(c.Context(), c.Params("id"))
	if err != nil {
		return s.fail(c, err, "reprocessing transcript")
	}
	return c.Status(fiber.StatusAccepted).JSON(job)
}

// ReprocessMemoryRequest is the optional body of
// POST /v1/conversations/:id/reprocess/memory.
type ReprocessMemoryRequest struct {
	TranscriptVersionID string `json:"transcript_version_id"`
}

// handleReprocessMemory queues extraction against a transcript version,
// the active one when none is named.
func (s *Server) handleReprocessMemory(c *fiber.Ctx) error {
	var req ReprocessMemoryRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return badRequest(c, "invalid request body")
		}
	}

	job, err := s.service.ReprocessMemory(c.Context(), c.Params("id"), req.TranscriptVersionID)
	if err != nil {
		return s.fail(c, err, "reprocessing memory")
	}
	return c.Status(fiber.StatusAccepted).JSON(job)
}

type queryError string

func (e queryError) Error() string { return string(e) }

func nonNegativeQuery(c *fiber.Ctx, name string) (int, error) {
	v := c.Query(name)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, queryError(name + " must be a non-negative integer")
	}
	return n, nil
}
