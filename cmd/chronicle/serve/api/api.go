// Package apicmder provides the chronicle API server cobra command.
package apicmder

import (
	"slices"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/chronicle/cmd/chronicle/stack"
	"github.com/papercomputeco/chronicle/pkg/config"
)

const apiLongDesc string = `Run the Chronicle API server for uploading conversations, managing
transcript and memory versions, and inspecting the job queue.

Uploads and reprocessing requests are queued in the configured storage; run
"chronicle serve worker" against the same storage to process them. The MCP
endpoint is served at /mcp.`

const apiShortDesc string = "Run the Chronicle API server"

func NewAPICmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "api",
		Short: apiShortDesc,
		Long:  apiLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd)
		},
	}

	stack.AddFlags(cmd)
	stack.AddLogFlags(cmd)
	config.AddStringFlag(cmd, config.Flags, config.FlagListen, new(string))
	config.AddUintFlag(cmd, config.Flags, config.FlagMaxAttempts, new(uint))

	return cmd
}

func run(cmd *cobra.Command) error {
	log, closeLog, err := stack.NewServiceLogger(cmd)
	if err != nil {
		return err
	}
	defer closeLog()

	keys := slices.Concat(config.StackFlags, []string{config.FlagListen, config.FlagMaxAttempts})
	cfg, err := stack.LoadConfig(cmd, keys)
	if err != nil {
		return err
	}

	s, err := stack.Open(cmd.Context(), cfg, stack.Options{
		ConfigDir: stack.ConfigDir(cmd),
		Search:    true,
		Logger:    log,
	})
	if err != nil {
		return err
	}
	defer s.Close()

	server, err := s.NewAPIServer()
	if err != nil {
		return err
	}
	return s.Serve(cmd.Context(), server)
}
