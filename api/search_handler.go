package api

import (
	"strconv"

	"github.com/gofiber/fiber/v2"

	"github.com/papercomputeco/chronicle/pkg/conversation"
	"github.com/papercomputeco/chronicle/pkg/pipeline"
	"github.com/papercomputeco/chronicle/pkg/search"
)

// UserMemoriesResponse is the body of GET /v1/users/:user/memories.
type UserMemoriesResponse struct {
	UserID   string                 `json:"user_id"`
	Count    int                    `json:"count"`
	Memories []*conversation.Memory `json:"memories"`
}

// SearchResponse is the body of GET /v1/memories/search.
type SearchResponse struct {
	Query   string          `json:"query"`
	Count   int             `json:"count"`
	Results []search.Result `json:"results"`
}

// handleSearchMemories handles GET /v1/memories/search requests.
// Query parameters:
//   - query (required): the search query text
//   - user_id, conversation_id (optional): restrict the candidate set
//   - contains (optional): case-insensitive substring the content must hold
//   - limit (optional, default 10): number of results to return
//   - score_threshold (optional): minimum score in [0, 1]
func (s *Server) handleSearchMemories(c *fiber.Ctx) error {
	query := c.Query("query")
	if query == "" {
		return badRequest(c, "query parameter is required")
	}

	req := pipeline.SearchRequest{
		Query:          query,
		UserID:         c.Query("user_id"),
		ConversationID: c.Query("conversation_id"),
		Contains:       c.Query("contains"),
	}

	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return badRequest(c, "limit must be a positive integer")
		}
		req.Limit = n
	}
	if v := c.Query("score_threshold"); v != "" {
		f, err := strconv.ParseFloat(v, 32)
		if err != nil || f < 0 || f > 1 {
			return badRequest(c, "score_threshold must be a number between 0 and 1")
		}
		req.ScoreThreshold = float32(f)
	}

	results, err := s.service.SearchMemories(c.Context(), req)
	if err != nil {
		return s.fail(c, err, "searching memories")
	}
	if results == nil {
		results = []search.Result{}
	}
	return c.JSON(SearchResponse{Query: query, Count: len(results), Results: results})
}

// handleGetMemory returns one memory, active or not.
func (s *Server) handleGetMemory(c *fiber.Ctx) error {
	m, err := s.service.GetMemory(c.Context(), c.Params("id"))
	if err != nil {
		return s.fail(c, err, "getting memory")
	}
	return c.JSON(m)
}

// handleDeleteMemory drops one memory from the active set and responds
// with the memory version that replaced it.
func (s *Server) handleDeleteMemory(c *fiber.Ctx) error {
	v, err := s.service.DeleteMemory(c.Context(), c.Params("id"))
	if err != nil {
		return s.fail(c, err, "deleting memory")
	}
	return c.JSON(v)
}

// handleListUserMemories lists a user's active memories.
func (s *Server) handleListUserMemories(c *fiber.Ctx) error {
	user := c.Params("user")
	mems, err := s.service.ListUserMemories(c.Context(), user)
	if err != nil {
		return s.fail(c, err, "listing memories")
	}
	return c.JSON(UserMemoriesResponse{UserID: user, Count: len(mems), Memories: mems})
}

// handleCountMemories counts a user's active memories.
func (s *Server) handleCountMemories(c *fiber.Ctx) error {
	user := c.Params("user")
	n, err := s.service.CountMemories(c.Context(), user)
	if err != nil {
		return s.fail(c, err, "counting memories")
	}
	return c.JSON(fiber.Map{"user_id": user, "count": n})
}

// handleDeleteUserMemories clears a user's active memories. Earlier
// versions stay restorable through version activation.
func (s *Server) handleDeleteUserMemories(c *fiber.Ctx) error {
	user := c.Params("user")
	n, err := s.service.DeleteUserMemories(c.Context(), user)
	if err != nil {
		return s.fail(c, err, "deleting memories")
	}
	return c.JSON(fiber.Map{"user_id": user, "deleted": n})
}
