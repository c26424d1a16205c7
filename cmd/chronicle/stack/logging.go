package stack

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/papercomputeco/chronicle/pkg/logger"
)

// AddLogFlags registers the service logging flags.
func AddLogFlags(cmd *cobra.Command) {
	cmd.Flags().Bool("json-logs", false, "Log JSON to stderr even on a terminal")
	cmd.Flags().String("log-file", "", "Also append JSON logs to this file")
}

// NewServiceLogger returns the logger for long-running services. Output is
// pretty on a terminal and JSON otherwise; --log-file adds a JSON copy.
// The returned closer releases the log file.
func NewServiceLogger(cmd *cobra.Command) (*slog.Logger, func() error, error) {
	debug, _ := cmd.Flags().GetBool("debug")
	jsonLogs, _ := cmd.Flags().GetBool("json-logs")
	logFile, _ := cmd.Flags().GetString("log-file")

	pretty := !jsonLogs && term.IsTerminal(int(os.Stderr.Fd()))
	return newServiceLogger(os.Stderr, pretty, debug, logFile)
}

func newServiceLogger(console io.Writer, pretty, debug bool, logFile string) (*slog.Logger, func() error, error) {
	noop := func() error { return nil }

	if logFile == "" {
		return logger.New(
			logger.WithDebug(debug),
			logger.WithPretty(pretty),
			logger.WithJSON(!pretty),
			logger.WithSource(debug && !pretty),
			logger.WithWriter(console),
		), noop, nil
	}

	f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}

	if !pretty {
		return logger.New(
			logger.WithDebug(debug),
			logger.WithJSON(true),
			logger.WithSource(debug),
			logger.WithWriters(console, f),
		), f.Close, nil
	}

	return logger.Multi(
		logger.New(logger.WithDebug(debug), logger.WithPretty(true), logger.WithWriter(console)),
		logger.New(logger.WithDebug(debug), logger.WithJSON(true), logger.WithWriter(f)),
	), f.Close, nil
}
