package configcmder

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/chronicle/pkg/cliui"
	"github.com/papercomputeco/chronicle/pkg/config"
)

const listLongDesc string = `List all configuration values.

Displays every configuration key with its current value, from the
config.toml file stored in the .chronicle/ directory or the built-in
default. Values that differ from the default are highlighted.

Examples:
  chronicle config list
  chronicle config list -o toml`

const listShortDesc string = "List all configuration values"

func newListCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "list",
		Short: listShortDesc,
		Long:  listLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfger, err := loadConfiger(cmd)
			if err != nil {
				return err
			}
			cfg, err := cfger.LoadConfig()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			switch output {
			case "toml":
				return config.EncodeTOML(out, cfg)
			case cliui.FormatText:
			default:
				if !cliui.Structured(output) {
					return fmt.Errorf("unsupported output format: %q", output)
				}
				values := make(map[string]string, len(config.ValidConfigKeys()))
				for _, key := range config.ValidConfigKeys() {
					values[key] = cfg.Get(key)
				}
				return cliui.Encode(out, output, values)
			}

			printTarget(out, cfger)

			keys := config.ValidConfigKeys()
			maxLen := 0
			for _, k := range keys {
				maxLen = max(maxLen, len(k))
			}

			defaults := config.NewDefaultConfig()
			for _, key := range keys {
				value := cfg.Get(key)
				rendered := cliui.DimStyle.Render(fmt.Sprintf("%q", value))
				switch {
				case value == "":
					rendered = cliui.DimStyle.Render("<not set>")
				case value != defaults.Get(key):
					rendered = cliui.ValueStyle.Render(fmt.Sprintf("%q", value))
				}
				fmt.Fprintf(out, "  %s = %s\n", cliui.KeyStyle.Render(fmt.Sprintf("%-*s", maxLen, key)), rendered)
			}
			fmt.Fprintln(out)
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", cliui.FormatText, "Output format (text, toml, json, yaml)")

	return cmd
}
