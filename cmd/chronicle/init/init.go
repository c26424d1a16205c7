// Package initcmder provides the init command for initializing a local
// .chronicle directory in the current working directory.
package initcmder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/chronicle/pkg/cliui"
	"github.com/papercomputeco/chronicle/pkg/config"
)

const (
	dirName = ".chronicle"

	// presetFetchTimeout bounds fetching a remote preset.
	presetFetchTimeout = 15 * time.Second
)

const initLongDesc string = `Initialize a new .chronicle/ directory in the current working directory.

Creates a local .chronicle/ directory that takes precedence over the default
~/.chronicle/ directory for the database, stored audio, the inbox ledger,
configuration and other chronicle state. A config.toml with default values
is written unless one already exists.

--preset writes a config.toml for a language model provider, replacing any
existing one. It accepts a preset name (openai, anthropic, ollama) or an
http(s) URL of a config.toml to fetch.

Examples:
  chronicle init
  chronicle init --preset anthropic
  chronicle init --preset https://example.com/chronicle/config.toml`

const initShortDesc string = "Initialize a local .chronicle/ directory"

func NewInitCmd() *cobra.Command {
	var preset string

	cmd := &cobra.Command{
		Use:   "init",
		Short: initShortDesc,
		Long:  initLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runInit(cmd.Context(), cmd.OutOrStdout(), preset)
		},
	}

	cmd.Flags().StringVar(&preset, "preset", "", "Provider preset ("+strings.Join(config.ValidPresetNames(), ", ")+") or config.toml URL")

	return cmd
}

func runInit(ctx context.Context, out io.Writer, preset string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	var cfg *config.Config
	if preset != "" {
		var err error
		cfg, err = loadPreset(ctx, preset)
		if err != nil {
			return err
		}
	}

	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting current directory: %w", err)
	}
	dir := filepath.Join(cwd, dirName)

	existed := false
	if info, err := os.Stat(dir); err == nil && info.IsDir() {
		existed = true
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating .chronicle directory: %w", err)
	}

	cfger, err := config.NewConfiger(dir)
	if err != nil {
		return err
	}

	wrote := false
	switch {
	case cfg != nil:
		wrote = true
	case !fileExists(cfger.GetTarget()):
		cfg = config.NewDefaultConfig()
		wrote = true
	}
	if wrote {
		if err := cfger.SaveConfig(cfg); err != nil {
			return err
		}
	}

	if existed && !wrote {
		fmt.Fprintf(out, "Already initialized: %s\n", dir)
		return nil
	}
	if existed {
		fmt.Fprintf(out, "  %s Wrote %s\n", cliui.SuccessMark, cfger.GetTarget())
		return nil
	}
	fmt.Fprintf(out, "  %s Initialized .chronicle directory: %s\n", cliui.SuccessMark, dir)
	return nil
}

// loadPreset resolves a named preset or fetches a config.toml over HTTP.
func loadPreset(ctx context.Context, preset string) (*config.Config, error) {
	if strings.HasPrefix(preset, "http://") || strings.HasPrefix(preset, "https://") {
		return fetchPreset(ctx, preset)
	}
	cfg, err := config.PresetConfig(preset)
	if err != nil {
		return nil, fmt.Errorf("unknown preset %q (valid presets: %s, or an http(s) URL)",
			preset, strings.Join(config.ValidPresetNames(), ", "))
	}
	return cfg, nil
}

func fetchPreset(ctx context.Context, url string) (*config.Config, error) {
	ctx, cancel := context.WithTimeout(ctx, presetFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("fetching remote config: %w", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching remote config: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching remote config: HTTP %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("fetching remote config: %w", err)
	}

	cfg, err := config.ParseConfigTOML(data)
	if err != nil {
		return nil, fmt.Errorf("parsing remote config: %w", err)
	}
	return cfg, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return !errors.Is(err, os.ErrNotExist)
}
