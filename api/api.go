package api

import (
	"errors"
	"log/slog"

	"github.com/gofiber/adaptor/v2"
	"github.com/gofiber/fiber/v2"

	"github.com/papercomputeco/chronicle/pkg/pipeline"
)

// Server is the API server in front of a pipeline.Service.
type Server struct {
	config  Config
	service *pipeline.Service
	logger  *slog.Logger
	app     *fiber.App
}

// NewServer creates a new API server.
// The service is injected so the API can share it with a local worker pool.
func NewServer(config Config, service *pipeline.Service, logger *slog.Logger) (*Server, error) {
	if service == nil {
		return nil, errors.New("pipeline service is required")
	}
	if logger == nil {
		return nil, errors.New("logger is required")
	}
	if config.BodyLimit <= 0 {
		config.BodyLimit = DefaultBodyLimit
	}

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		BodyLimit:             config.BodyLimit,
	})

	s := &Server{
		config:  config,
		service: service,
		logger:  logger,
		app:     app,
	}

	app.Get("/ping", s.handlePing)

	v1 := app.Group("/v1")

	conv := v1.Group("/conversations")
	conv.Post("/", s.handleUpload)
	conv.Get("/", s.handleListConversations)
	conv.Get("/:id", s.handleGetConversation)
	conv.Post("/:id/end", s.handleEndConversation)
	conv.Post("/:id/reprocess/transcript", s.handleReprocessTranscript)
	conv.Post("/:id/reprocess/memory", s.handleReprocessMemory)
	conv.Get("/:id/versions", s.handleListVersions)
	conv.Get("/:id/versions/:kind/:version", s.handleGetVersion)
	conv.Delete("/:id/versions/:kind/:version", s.handleDeleteVersion)
	conv.Post("/:id/versions/:kind/:version/activate", s.handleActivateVersion)

	v1.Get("/jobs", s.handleListJobs)
	v1.Get("/jobs/stats", s.handleQueueStats)
	v1.Get("/jobs/:id", s.handleGetJob)

	v1.Get("/memories/search", s.handleSearchMemories)
	v1.Get("/memories/:id", s.handleGetMemory)
	v1.Delete("/memories/:id", s.handleDeleteMemory)

	v1.Get("/users/:user/memories", s.handleListUserMemories)
	v1.Get("/users/:user/memories/count", s.handleCountMemories)
	v1.Delete("/users/:user/memories", s.handleDeleteUserMemories)

	if config.MCPHandler != nil {
		app.All("/mcp", adaptor.HTTPHandler(config.MCPHandler))
	}

	return s, nil
}

// Run starts the API server on the configured address.
func (s *Server) Run() error {
	s.logger.Info("starting API server", "listen", s.config.ListenAddr)
	return s.app.Listen(s.config.ListenAddr)
}

// Shutdown gracefully shuts down the API server.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}
