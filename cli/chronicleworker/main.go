package main

import (
	"os"

	workercmder "github.com/papercomputeco/chronicle/cmd/chronicle/serve/worker"
)

func main() {
	cmd := workercmder.NewWorkerCmd()
	cmd.Use = "chronicleworker"
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().String("config-dir", "", "Override the .chronicle/ directory")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
