package cmd

import (
	"github.com/spf13/cobra"

	"github.com/km-arc/go-registry/framework/app"
)

var (
	version  = app.Version
	envFiles []string
)

var rootCmd = &cobra.Command{
	Use:          "registry",
	Short:        "Dependency registration store and container inspector",
	Long:         `Bootstraps the application container from .env configuration and exposes it for inspection.`,
	Version:      version,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringSliceVarP(&envFiles, "env", "e", nil,
		"env files to load (default: .env)")
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion sets the version string (called from main with ldflags)
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}
