package configcmder

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/chronicle/pkg/cliui"
	"github.com/papercomputeco/chronicle/pkg/config"
)

const getLongDesc string = `Get a configuration value.

Reads the value for the given key from the config.toml file stored in the
.chronicle/ directory, falling back to the built-in default. Keys use dotted
notation matching the TOML section structure.

Examples:
  chronicle config get llm.provider
  chronicle config get worker.lease_duration`

const getShortDesc string = "Get a configuration value"

func newGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:               "get <key>",
		Short:             getShortDesc,
		Long:              getLongDesc,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completeKeys,
		RunE: func(cmd *cobra.Command, args []string) error {
			key := args[0]
			if !config.IsValidConfigKey(key) {
				return unknownKey(key)
			}

			cfger, err := loadConfiger(cmd)
			if err != nil {
				return err
			}

			value, err := cfger.GetConfigValue(key)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			printTarget(out, cfger)
			if value == "" {
				fmt.Fprintf(out, "  %s  %s\n\n", cliui.KeyStyle.Render(key), cliui.DimStyle.Render("<not set>"))
			} else {
				fmt.Fprintf(out, "  %s  %s\n\n", cliui.KeyStyle.Render(key), cliui.ValueStyle.Render(value))
			}
			return nil
		},
	}

	return cmd
}
