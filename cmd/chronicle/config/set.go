package configcmder

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/chronicle/pkg/cliui"
	"github.com/papercomputeco/chronicle/pkg/config"
)

const setLongDesc string = `Set a configuration value.

Sets the given key to the provided value in the config.toml file stored in
the .chronicle/ directory. The value is parsed according to the key's type
and the resulting configuration is validated before it is written.

Durations use Go syntax (30s, 5m). Lists such as events.brokers and
audio.patterns are comma separated.

Examples:
  chronicle config set storage.driver postgres
  chronicle config set storage.postgres_dsn postgres://localhost/chronicle
  chronicle config set worker.poll_interval 500ms
  chronicle config set events.brokers kafka-1:9092,kafka-2:9092`

const setShortDesc string = "Set a configuration value"

func newSetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:               "set <key> <value>",
		Short:             setShortDesc,
		Long:              setLongDesc,
		Args:              cobra.ExactArgs(2),
		ValidArgsFunction: completeKeys,
		RunE: func(cmd *cobra.Command, args []string) error {
			key, value := args[0], args[1]
			if !config.IsValidConfigKey(key) {
				return unknownKey(key)
			}

			cfger, err := loadConfiger(cmd)
			if err != nil {
				return err
			}

			if err := cfger.SetConfigValue(key, value); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			printTarget(out, cfger)
			fmt.Fprintf(out, "  %s Set %s = %s\n\n",
				cliui.SuccessMark,
				cliui.KeyStyle.Render(key),
				cliui.ValueStyle.Render(value),
			)
			return nil
		},
	}

	return cmd
}
