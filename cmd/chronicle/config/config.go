// Package configcmder provides the config command for managing persistent
// chronicle configuration stored in the .chronicle/ directory.
package configcmder

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/chronicle/pkg/cliui"
	"github.com/papercomputeco/chronicle/pkg/config"
)

const configLongDesc string = `Manage persistent chronicle configuration.

Configuration is stored as config.toml in the .chronicle/ directory and
provides default values for command flags. CHRONICLE_* environment variables
override the file, and CLI flags override both.

Keys use dotted notation matching the TOML section structure, for example:
  storage.driver, storage.sqlite_path, audio.inbox,
  worker.count, worker.max_attempts,
  stt.provider, llm.provider, llm.model,
  vector_store.provider, embedding.model, events.provider

Use subcommands to get, set, or list configuration values:
  chronicle config set <key> <value>    Set a configuration value
  chronicle config get <key>            Get a configuration value
  chronicle config list                 List all configuration values

Examples:
  chronicle config set llm.provider anthropic
  chronicle config set worker.count 8
  chronicle config get storage.driver
  chronicle config list`

const configShortDesc string = "Manage persistent chronicle configuration"

func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: configShortDesc,
		Long:  configLongDesc,
	}

	cmd.AddCommand(newSetCmd())
	cmd.AddCommand(newGetCmd())
	cmd.AddCommand(newListCmd())

	return cmd
}

func completeKeys(_ *cobra.Command, args []string, _ string) ([]string, cobra.ShellCompDirective) {
	if len(args) == 0 {
		return config.ValidConfigKeys(), cobra.ShellCompDirectiveNoFileComp
	}
	return nil, cobra.ShellCompDirectiveNoFileComp
}

func unknownKey(key string) error {
	return fmt.Errorf("unknown config key: %q\n\nValid keys: %s",
		key, strings.Join(config.ValidConfigKeys(), ", "))
}

func loadConfiger(cmd *cobra.Command) (*config.Configer, error) {
	configDir, _ := cmd.Flags().GetString("config-dir")
	cfger, err := config.NewConfiger(configDir)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return cfger, nil
}

func printTarget(w io.Writer, cfger *config.Configer) {
	target := cfger.GetTarget()
	if target != "" {
		fmt.Fprintf(w, "\n  %s %s\n\n",
			cliui.KeyStyle.Render("Config file:"),
			cliui.DimStyle.Render(target),
		)
	} else {
		fmt.Fprintf(w, "\n  %s\n\n", cliui.DimStyle.Render("No config file found. Using defaults."))
	}
}
