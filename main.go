// Package main is the entry point for the registry CLI.
package main

import (
	"os"

	"github.com/km-arc/go-registry/cmd"
)

// Build information injected via ldflags at build time.
var version = ""

func main() {
	if version != "" {
		cmd.SetVersion(version)
	}
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
