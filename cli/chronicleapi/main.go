package main

import (
	"os"

	apicmder "github.com/papercomputeco/chronicle/cmd/chronicle/serve/api"
)

func main() {
	cmd := apicmder.NewAPICmd()
	cmd.Use = "chronicleapi"
	cmd.PersistentFlags().BoolP("debug", "d", false, "Enable debug logging")
	cmd.PersistentFlags().String("config-dir", "", "Override the .chronicle/ directory")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
