package api

import (
	"github.com/gofiber/fiber/v2"

	"github.com/papercomputeco/chronicle/pkg/conversation"
)

// VersionListResponse wraps a version listing.
type VersionListResponse struct {
	ConversationID string                     `json:"conversation_id"`
	Count          int                        `json:"count"`
	Versions       []conversation.VersionInfo `json:"versions"`
}

// handleListVersions lists versions oldest first.
// Query parameters:
//   - kind (optional): transcript or memory; both when omitted
func (s *Server) handleListVersions(c *fiber.Ctx) error {
	id := c.Params("id")
	kinds := []conversation.VersionKind{conversation.KindTranscript, conversation.KindMemory}
	if v := c.Query("kind"); v != "" {
		kind, err := conversation.ParseVersionKind(v)
		if err != nil {
			return badRequest(c, err.Error())
		}
		kinds = []conversation.VersionKind{kind}
	}

	versions := []conversation.VersionInfo{}
	for _, kind := range kinds {
		vs, err := s.service.ListVersions(c.Context(), id, kind)
		if err != nil {
			return s.fail(c, err, "listing versions")
		}
		versions = append(versions, vs...)
	}

	return c.JSON(VersionListResponse{
		ConversationID: id,
		Count:          len(versions),
		Versions:       versions,
	})
}

// handleGetVersion returns a version with its segments or memories.
func (s *Server) handleGetVersion(c *fiber.Ctx) error {
	kind, err := conversation.ParseVersionKind(c.Params("kind"))
	if err != nil {
		return badRequest(c, err.Error())
	}

	v, err := s.service.GetVersion(c.Context(), c.Params("id"), kind, c.Params("version"))
	if err != nil {
		return s.fail(c, err, "getting version")
	}
	return c.JSON(v)
}

// handleActivateVersion makes a version active. Activating a memory version
// also resyncs the search index.
func (s *Server) handleActivateVersion(c *fiber.Ctx) error {
	kind, err := conversation.ParseVersionKind(c.Params("kind"))
	if err != nil {
		return badRequest(c, err.Error())
	}
	id, versionID := c.Params("id"), c.Params("version")

	switch kind {
	case conversation.KindTranscript:
		err = s.service.ActivateTranscriptVersion(c.Context(), id, versionID)
	case conversation.KindMemory:
		err = s.service.ActivateMemoryVersion(c.Context(), id, versionID)
	}
	if err != nil {
		return s.fail(c, err, "activating version")
	}

	v, err := s.service.GetVersion(c.Context(), id, kind, versionID)
	if err != nil {
		return s.fail(c, err, "getting version")
	}
	return c.JSON(v)
}

// handleDeleteVersion removes an inactive version.
func (s *Server) handleDeleteVersion(c *fiber.Ctx) error {
	kind, err := conversation.ParseVersionKind(c.Params("kind"))
	if err != nil {
		return badRequest(c, err.Error())
	}

	if err := s.service.DeleteVersion(c.Context(), c.Params("id"), kind, c.Params("version")); err != nil {
		return s.fail(c, err, "deleting version")
	}
	return c.SendStatus(fiber.StatusNoContent)
}
