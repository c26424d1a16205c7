package jobscmder

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/chronicle/cmd/chronicle/stack"
	"github.com/papercomputeco/chronicle/pkg/cliui"
	"github.com/papercomputeco/chronicle/pkg/jobs"
)

const statsShortDesc string = "Count jobs per status"

// statsOutput is the structured form of jobs stats.
type statsOutput struct {
	Queued     int `json:"queued"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Total      int `json:"total"`
}

func newStatsCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "stats",
		Short: statsShortDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if output != cliui.FormatText && !cliui.Structured(output) {
				return fmt.Errorf("unsupported output format: %q", output)
			}

			s, err := openStack(cmd)
			if err != nil {
				return err
			}
			defer s.Close()

			st, err := s.Service.QueueStats(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if cliui.Structured(output) {
				return cliui.Encode(out, output, statsOutput{
					Queued:     st.Queued,
					Processing: st.Processing,
					Completed:  st.Completed,
					Failed:     st.Failed,
					Total:      st.Total(),
				})
			}

			fmt.Fprintln(out)
			for _, row := range []struct {
				status jobs.Status
				n      int
			}{
				{jobs.StatusQueued, st.Queued},
				{jobs.StatusProcessing, st.Processing},
				{jobs.StatusCompleted, st.Completed},
				{jobs.StatusFailed, st.Failed},
			} {
				fmt.Fprintf(out, "  %s %s\n", padStatus(row.status, 12), strconv.Itoa(row.n))
			}
			fmt.Fprintf(out, "  %-12s %d\n\n", "total", st.Total())
			return nil
		},
	}

	stack.AddFlags(cmd)
	cmd.Flags().StringVarP(&output, "output", "o", cliui.FormatText, "Output format (text, json, yaml)")

	return cmd
}
