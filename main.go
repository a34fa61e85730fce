package main

import (
	"log"
	"os"

	"github.com/mwittgen/obs-base/cmd"
	"github.com/mwittgen/obs-base/internal/conf"
)

// Build metadata, injected at build time via ldflags.
var (
	version   = "unknown"
	buildDate = "unknown"
)

func main() {
	settings, err := conf.Load()
	if err != nil {
		log.Fatalf("Error loading configuration: %v", err)
	}
	settings.Version = version
	settings.BuildDate = buildDate

	rootCmd := cmd.RootCommand(settings)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
