package stack

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/papercomputeco/chronicle/api"
	chroniclemcp "github.com/papercomputeco/chronicle/api/mcp"
)

// NewAPIServer builds the HTTP API on the stack's service, with the MCP
// endpoint mounted at /mcp.
func (s *Stack) NewAPIServer() (*api.Server, error) {
	mcpServer, err := chroniclemcp.NewServer(chroniclemcp.Config{
		Service: s.Service,
		Logger:  s.logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating MCP server: %w", err)
	}

	server, err := api.NewServer(api.Config{
		ListenAddr: s.Config.API.Listen,
		MCPHandler: mcpServer.Handler(),
	}, s.Service, s.logger)
	if err != nil {
		return nil, fmt.Errorf("creating API server: %w", err)
	}
	return server, nil
}

// Serve starts the worker pool (if any) and server (if non-nil), then
// blocks until SIGINT, SIGTERM, ctx cancellation or a server error.
func (s *Stack) Serve(ctx context.Context, server *api.Server) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	if err := s.Start(ctx); err != nil {
		return err
	}

	// Channel to capture errors from goroutines
	errChan := make(chan error, 1)
	if server != nil {
		go func() {
			if err := server.Run(); err != nil {
				errChan <- fmt.Errorf("API server error: %w", err)
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case err := <-errChan:
		return err
	case sig := <-sigChan:
		s.logger.Info("received signal, shutting down", "signal", sig.String())
	case <-ctx.Done():
	}

	if server != nil {
		if err := server.Shutdown(); err != nil {
			return fmt.Errorf("shutting down API server: %w", err)
		}
	}
	return nil
}
