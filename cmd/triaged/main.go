// Package main is the entry point for the triaged CLI.
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
)

// Build-time variables (set via ldflags)
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
)

func main() {
	_ = godotenv.Load()

	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("triaged"),
		kong.Description("Incident triage agent with operator-gated remediation."),
		kong.UsageOnError(),
	)

	// Version needs no runtime; answer before wiring stores or transports.
	if ctx.Command() == "version" {
		fmt.Printf("triaged version %s (commit: %s, built: %s)\n", version, commit, buildTime)
		return
	}

	a, err := buildApp(&cli)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	defer a.close()

	ctx.FatalIfErrorf(ctx.Run(a))
}
