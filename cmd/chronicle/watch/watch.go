// Package watchcmder provides the watch command, which uploads recordings
// dropped into an inbox directory.
package watchcmder

import (
	"slices"
	"time"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/chronicle/cmd/chronicle/stack"
	"github.com/papercomputeco/chronicle/pkg/config"
	"github.com/papercomputeco/chronicle/pkg/dotdir"
)

type watchCommander struct {
	process bool
	settle  time.Duration
	rescan  bool
}

const watchLongDesc string = `Watch an inbox directory and upload new recordings.

Files whose names match audio.patterns are uploaded once they stop growing.
Uploaded files are recorded in .chronicle/inbox.json so restarting the
watcher does not upload them again; use --rescan to forget that ledger.

With --process, local workers transcribe and extract memories as well, so a
single "chronicle watch --process" is a complete pipeline.

Examples:
  chronicle watch
  chronicle watch ~/Recordings --patterns "*.m4a"
  chronicle watch --process --user ada`

const watchShortDesc string = "Upload recordings dropped into an inbox"

func NewWatchCmd() *cobra.Command {
	cmder := &watchCommander{}

	cmd := &cobra.Command{
		Use:   "watch [dir]",
		Short: watchShortDesc,
		Long:  watchLongDesc,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd, args)
		},
	}

	stack.AddFlags(cmd)
	stack.AddWorkerFlags(cmd)
	config.AddStringFlag(cmd, config.Flags, config.FlagInbox, new(string))
	config.AddStringFlag(cmd, config.Flags, config.FlagPatterns, new(string))
	config.AddStringFlag(cmd, config.Flags, config.FlagUser, new(string))
	cmd.Flags().BoolVar(&cmder.process, "process", false, "Run local workers to process uploads")
	cmd.Flags().DurationVar(&cmder.settle, "settle", 2*time.Second, "How long a file must stay unchanged before upload")
	cmd.Flags().BoolVar(&cmder.rescan, "rescan", false, "Forget previously uploaded files")

	return cmd
}

func (c *watchCommander) run(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	log := stack.NewLogger(cmd)
	configDir := stack.ConfigDir(cmd)

	keys := slices.Concat(config.StackFlags, stack.WorkerFlags,
		[]string{config.FlagInbox, config.FlagPatterns, config.FlagUser})
	cfg, err := stack.LoadConfig(cmd, keys)
	if err != nil {
		return err
	}

	ddm := dotdir.NewManager()
	inbox := cfg.Audio.Inbox
	if len(args) == 1 {
		inbox = args[0]
	}
	inbox, err = ddm.Resolve(configDir, inbox, "inbox")
	if err != nil {
		return err
	}

	if c.rescan {
		if err := ddm.ClearInboxState(configDir); err != nil {
			return err
		}
	}

	s, err := stack.Open(ctx, cfg, stack.Options{
		ConfigDir: configDir,
		Workers:   c.process,
		Search:    c.process,
		Logger:    log,
	})
	if err != nil {
		return err
	}
	defer s.Close()

	w, err := newWatcher(watcherConfig{
		Dir:       inbox,
		Patterns:  cfg.Audio.Patterns,
		Settle:    c.settle,
		UserID:    cfg.Pipeline.DefaultUserID,
		Service:   s.Service,
		Dotdir:    ddm,
		ConfigDir: configDir,
		Logger:    log,
	})
	if err != nil {
		return err
	}

	if err := s.Start(ctx); err != nil {
		return err
	}
	return w.Run(ctx)
}
