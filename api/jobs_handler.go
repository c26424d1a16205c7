package api

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/papercomputeco/chronicle/pkg/jobs"
)

// JobListResponse wraps a job listing.
type JobListResponse struct {
	Count int         `json:"count"`
	Jobs  []*jobs.Job `json:"jobs"`
}

// StatsResponse reports queue depth per status.
type StatsResponse struct {
	jobs.Stats
	Total int `json:"total_jobs"`
}

// handleListJobs lists jobs newest first.
// Query parameters:
//   - type (optional, comma separated): transcription, memory_extraction
//   - status (optional, comma separated): queued, processing, completed, failed
//   - conversation_id (optional)
//   - limit, offset (optional)
func (s *Server) handleListJobs(c *fiber.Ctx) error {
	filter := jobs.Filter{ConversationID: c.Query("conversation_id")}

	for _, v := range splitList(c.Query("type")) {
		t := jobs.Type(v)
		if !t.Valid() {
			return badRequest(c, "unknown job type "+v)
		}
		filter.Types = append(filter.Types, t)
	}
	for _, v := range splitList(c.Query("status")) {
		st := jobs.Status(v)
		if !st.Valid() {
			return badRequest(c, "unknown job status "+v)
		}
		filter.Statuses = append(filter.Statuses, st)
	}

	var err error
	if filter.Limit, err = nonNegativeQuery(c, "limit"); err != nil {
		return badRequest(c, err.Error())
	}
	if filter.Offset, err = nonNegativeQuery(c, "offset"); err != nil {
		return badRequest(c, err.Error())
	}

	list, err := s.service.ListJobs(c.Context(), filter)
	if err != nil {
		return s.fail(c, err, "listing jobs")
	}
	if list == nil {
		list = []*jobs.Job{}
	}
	return c.JSON(JobListResponse{Count: len(list), Jobs: list})
}

// handleQueueStats returns job counts per status.
func (s *Server) handleQueueStats(c *fiber.Ctx) error {
	stats, err := s.service.QueueStats(c.Context())
	if err != nil {
		return s.fail(c, err, "getting queue stats")
	}
	return c.JSON(StatsResponse{Stats: stats, Total: stats.Total()})
}

// handleGetJob returns one job with its last error and result.
func (s *Server) handleGetJob(c *fiber.Ctx) error {
	job, err := s.service.GetJob(c.Context(), c.Params("id"))
	if err != nil {
		return s.fail(c, err, "getting job")
	}
	return c.JSON(job)
}

func splitList(v string) []string {
	var out []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
