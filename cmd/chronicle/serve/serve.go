// Package servecmder provides the serve command with subcommands for running services.
package servecmder

import (
	"slices"

	"github.com/spf13/cobra"

	apicmder "github.com/papercomputeco/chronicle/cmd/chronicle/serve/api"
	workercmder "github.com/papercomputeco/chronicle/cmd/chronicle/serve/worker"
	"github.com/papercomputeco/chronicle/cmd/chronicle/stack"
	"github.com/papercomputeco/chronicle/pkg/config"
)

const serveLongDesc string = `Run Chronicle services.

Use subcommands to run individual services or all services together:
  chronicle serve          Run the API server and workers together
  chronicle serve api      Run just the API server
  chronicle serve worker   Run just the workers

The API server and workers only share the configured storage, so they can
run as separate processes against SQLite or PostgreSQL.`

const serveShortDesc string = "Run Chronicle services"

func NewServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: serveShortDesc,
		Long:  serveLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd)
		},
	}

	stack.AddFlags(cmd)
	stack.AddLogFlags(cmd)
	stack.AddWorkerFlags(cmd)
	stack.AddNodeIDFlag(cmd)
	config.AddStringFlag(cmd, config.Flags, config.FlagListen, new(string))

	cmd.AddCommand(apicmder.NewAPICmd())
	cmd.AddCommand(workercmder.NewWorkerCmd())

	return cmd
}

func run(cmd *cobra.Command) error {
	log, closeLog, err := stack.NewServiceLogger(cmd)
	if err != nil {
		return err
	}
	defer closeLog()

	keys := slices.Concat(config.StackFlags, stack.WorkerFlags, []string{config.FlagListen})
	cfg, err := stack.LoadConfig(cmd, keys)
	if err != nil {
		return err
	}

	s, err := stack.Open(cmd.Context(), cfg, stack.Options{
		ConfigDir:  stack.ConfigDir(cmd),
		Workers:    true,
		StableNode: true,
		Search:     true,
		Logger:     log,
	})
	if err != nil {
		return err
	}
	defer s.Close()

	server, err := s.NewAPIServer()
	if err != nil {
		return err
	}

	log.Info("starting chronicle",
		"api_addr", cfg.API.Listen,
		"workers", cfg.Worker.Count,
		"storage", cfg.Storage.Driver,
	)
	return s.Serve(cmd.Context(), server)
}
