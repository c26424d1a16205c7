// Package workercmder provides the chronicle worker cobra command.
package workercmder

import (
	"slices"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/chronicle/cmd/chronicle/stack"
	"github.com/papercomputeco/chronicle/pkg/config"
)

const workerLongDesc string = `Run Chronicle workers without the API server.

Workers claim transcription and memory extraction jobs from the configured
storage. Several worker processes may share one SQLite or PostgreSQL store;
give each a distinct --node-id when they run on the same host.

Requires DEEPGRAM_API_KEY and the API key of the configured language model
provider (OPENAI_API_KEY or ANTHROPIC_API_KEY).`

const workerShortDesc string = "Run Chronicle workers"

func NewWorkerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: workerShortDesc,
		Long:  workerLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd)
		},
	}

	stack.AddFlags(cmd)
	stack.AddLogFlags(cmd)
	stack.AddWorkerFlags(cmd)
	stack.AddNodeIDFlag(cmd)

	return cmd
}

func run(cmd *cobra.Command) error {
	log, closeLog, err := stack.NewServiceLogger(cmd)
	if err != nil {
		return err
	}
	defer closeLog()

	cfg, err := stack.LoadConfig(cmd, slices.Concat(config.StackFlags, stack.WorkerFlags))
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

	return s.Serve(cmd.Context(), nil)
}
