package jobscmder

import (
	"errors"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/papercomputeco/chronicle/cmd/chronicle/stack"
)

const topLongDesc string = `Watch the job queue live.

Shows job counts per status and the most recent jobs, refreshed on an
interval. Select a job to see its attempts, worker and last error.

Keys:
  j/k     move          f   cycle status filter
  t       cycle type    r   refresh now
  q       quit`

const topShortDesc string = "Watch the job queue live"

func newTopCmd() *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "top",
		Short: topShortDesc,
		Long:  topLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !term.IsTerminal(int(os.Stdout.Fd())) {
				return errors.New("jobs top needs a terminal; use \"chronicle jobs list\" instead")
			}
			if interval <= 0 {
				return errors.New("--interval must be positive")
			}

			s, err := openStack(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			return runTopTUI(cmd.Context(), s.Service, interval)
		},
	}

	stack.AddFlags(cmd)
	cmd.Flags().DurationVar(&interval, "interval", time.Second, "Refresh interval")

	return cmd
}
