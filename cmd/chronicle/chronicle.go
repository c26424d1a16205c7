// Package chroniclecmder is the root chronicle command.
package chroniclecmder

import (
	"github.com/spf13/cobra"

	configcmder "github.com/papercomputeco/chronicle/cmd/chronicle/config"
	conversationscmder "github.com/papercomputeco/chronicle/cmd/chronicle/conversations"
	initcmder "github.com/papercomputeco/chronicle/cmd/chronicle/init"
	jobscmder "github.com/papercomputeco/chronicle/cmd/chronicle/jobs"
	reprocesscmder "github.com/papercomputeco/chronicle/cmd/chronicle/reprocess"
	searchcmder "github.com/papercomputeco/chronicle/cmd/chronicle/search"
	servecmder "github.com/papercomputeco/chronicle/cmd/chronicle/serve"
	uploadcmder "github.com/papercomputeco/chronicle/cmd/chronicle/upload"
	versionscmder "github.com/papercomputeco/chronicle/cmd/chronicle/versions"
	watchcmder "github.com/papercomputeco/chronicle/cmd/chronicle/watch"
	versioncmder "github.com/papercomputeco/chronicle/cmd/version"
)

const chronicleLongDesc string = `Chronicle turns recorded conversations into versioned transcripts and
long-term memories.

Run services using:
  chronicle serve          Run the API server and workers together
  chronicle serve api      Run just the API server
  chronicle serve worker   Run just the workers

Work with local data:
  chronicle upload <file>            Upload a recording
  chronicle watch                    Upload recordings dropped into the inbox
  chronicle versions list <conv>     List transcript and memory versions
  chronicle reprocess memory <conv>  Re-extract memories
  chronicle jobs top                 Watch the job queue`

const chronicleShortDesc string = "Chronicle - Conversation Memory Pipeline"

func NewChronicleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "chronicle",
		Short:        chronicleShortDesc,
		Long:         chronicleLongDesc,
		SilenceUsage: true,
	}

	// Global flags
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().String("config-dir", "", "Override the .chronicle/ directory")

	// Add subcommands
	cmd.AddCommand(servecmder.NewServeCmd())
	cmd.AddCommand(uploadcmder.NewUploadCmd())
	cmd.AddCommand(watchcmder.NewWatchCmd())
	cmd.AddCommand(reprocesscmder.NewReprocessCmd())
	cmd.AddCommand(versionscmder.NewVersionsCmd())
	cmd.AddCommand(jobscmder.NewJobsCmd())
	cmd.AddCommand(conversationscmder.NewConversationsCmd())
	cmd.AddCommand(searchcmder.NewSearchCmd())
	cmd.AddCommand(configcmder.NewConfigCmd())
	cmd.AddCommand(initcmder.NewInitCmd())
	cmd.AddCommand(versioncmder.NewVersionCmd())

	return cmd
}
