// Package mcp provides an MCP (Model Context Protocol) server exposing
// memory search, queue stats and version tools over a pipeline.Service.
package mcp

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/papercomputeco/chronicle/pkg/pipeline"
	"github.com/papercomputeco/chronicle/pkg/utils"
)

type Config struct {
	// Service answers every tool call.
	Service *pipeline.Service

	// Noop for empty MCP server
	Noop bool

	// Logger is the configured slog logger
	Logger *slog.Logger
}

type Server struct {
	config    Config
	mcpServer *mcp.Server
	handler   *mcp.StreamableHTTPHandler
}

// NewServer creates a new MCP server with the chronicle tools.
func NewServer(c Config) (*Server, error) {
	s := &Server{
		config: c,
	}

	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    "chronicle",
			Version: utils.Version,
		},
		&mcp.ServerOptions{},
	)

	if !c.Noop {
		if c.Service == nil {
			return nil, errors.New("pipeline service is required")
		}
		if c.Logger == nil {
			return nil, errors.New("logger is required")
		}

		mcp.AddTool(mcpServer, &mcp.Tool{
			Name:        searchToolName,
			Description: searchDescription,
		}, s.handleSearch)
		mcp.AddTool(mcpServer, &mcp.Tool{
			Name:        queueStatsToolName,
			Description: queueStatsDescription,
		}, s.handleQueueStats)
		mcp.AddTool(mcpServer, &mcp.Tool{
			Name:        listVersionsToolName,
			Description: listVersionsDescription,
		}, s.handleListVersions)
		mcp.AddTool(mcpServer, &mcp.Tool{
			Name:        reprocessMemoryToolName,
			Description: reprocessMemoryDescription,
		}, s.handleReprocessMemory)
	}

	s.mcpServer = mcpServer

	// Create a streamable HTTP net/http handler for stateless operations
	s.handler = mcp.NewStreamableHTTPHandler(
		func(_ *http.Request) *mcp.Server {
			return mcpServer
		},
		&mcp.StreamableHTTPOptions{
			Stateless: true,
		},
	)

	return s, nil
}

// Handler returns the HTTP handler for the MCP server.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// MCPServer returns the underlying server, e.g. to connect an in-process
// transport.
func (s *Server) MCPServer() *mcp.Server {
	return s.mcpServer
}

func toolError(format string, args ...any) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		IsError: true,
		Content: []mcp.Content{
			&mcp.TextContent{Text: fmt.Sprintf(format, args...)},
		},
	}
}

// textResult serializes the structured output as JSON for the text field.
// Per MCP spec: tools returning structured content should also return
// serialized JSON in a TextContent block for backwards compatibility.
func textResult(output any) (*mcp.CallToolResult, error) {
	jsonBytes, err := json.Marshal(output)
	if err != nil {
		return nil, err
	}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: string(jsonBytes)},
		},
	}, nil
}
