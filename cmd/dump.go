package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/km-arc/go-registry/framework/app"
	"github.com/km-arc/go-registry/framework/container"
	"github.com/km-arc/go-registry/framework/inspector"
)

var (
	dumpFormat   string
	dumpDeferred bool
)

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Print the registrations of the booted application",
	Long: `Boot the application and print every container with the bindings visible from it.

Examples:
  # YAML (default)
  registry dump

  # JSON, piped to jq
  registry dump --format json | jq '.[0].registrations[].type'

  # Load deferred providers first
  registry dump --load-deferred`,
	RunE: func(cmd *cobra.Command, args []string) error {
		application, err := app.New(envFiles...)
		if err != nil {
			return err
		}
		err = func() error {
			if err := application.Boot(); err != nil {
				return err
			}
			if dumpDeferred {
				if _, err := application.Inspector(); err != nil {
					return err
				}
			}
			return writeDump(cmd.OutOrStdout(), dumpFormat, application.Container)
		}()
		return errors.Join(err, application.Close())
	},
}

func init() {
	dumpCmd.Flags().StringVarP(&dumpFormat, "format", "f", "yaml", "output format: yaml or json")
	dumpCmd.Flags().BoolVar(&dumpDeferred, "load-deferred", false, "resolve deferred providers before dumping")
	rootCmd.AddCommand(dumpCmd)
}

// writeDump encodes the tree rooted at root to w.
func writeDump(w io.Writer, format string, root *container.Container) error {
	dump := inspector.Dump(root)
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(dump); err != nil {
			return err
		}
		return enc.Close()
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(dump)
	default:
		return fmt.Errorf("unknown format %q (want yaml or json)", format)
	}
}
