package main

import (
	"github.com/smallbiznis/paynotify/internal/config"
	"github.com/smallbiznis/paynotify/internal/notification"
	"github.com/smallbiznis/paynotify/internal/server"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Receive notifications over HTTP and reconcile them in the background",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if err := cfg.Validate(); err != nil {
				return err
			}

			app := fx.New(
				coreModules(cfg),
				notification.Module,
				server.Module,
			)
			if err := app.Err(); err != nil {
				return err
			}
			app.Run()
			return nil
		},
	}
}
