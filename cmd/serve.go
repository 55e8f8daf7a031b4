package cmd

import (
	"context"
	"errors"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/km-arc/go-registry/framework/app"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the container inspector over HTTP",
	Long: `Boot the application and serve a read-only view of its container tree.

Routes:
  GET /healthz
  GET /containers
  GET /containers/{id}/registrations
  GET /containers/{id}/lookup?type=&name=
  GET /metrics

Examples:
  registry serve
  registry serve --addr 127.0.0.1:9000 --env .env.local
  curl localhost:8089/containers | jq '.[].id'`,
	RunE: func(cmd *cobra.Command, args []string) error {
		application, err := app.New(envFiles...)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("addr") {
			application.Config().Inspector.Addr = serveAddr
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		err = application.Run(ctx)
		if errors.Is(err, context.Canceled) {
			err = nil
		}
		return errors.Join(err, application.Close())
	},
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (overrides INSPECTOR_ADDR)")
	rootCmd.AddCommand(serveCmd)
}
