package main

import (
	"fmt"

	"github.com/smallbiznis/paynotify/internal/audit/masking"
	"github.com/smallbiznis/paynotify/internal/config"
	"github.com/spf13/cobra"
)

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect configuration",
	}
	cmd.AddCommand(configCheckCmd())
	return cmd
}

func configCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the processor mode and access token pairing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "mode:           %s\n", cfg.MercadoPago.Mode)
			fmt.Fprintf(out, "access token:   %s\n", valueOrDash(masking.MaskSecret(cfg.MercadoPago.AccessToken())))
			fmt.Fprintf(out, "api base url:   %s\n", cfg.MercadoPago.BaseURL)
			fmt.Fprintf(out, "ledger backend: %s\n", cfg.LedgerBackend)
			fmt.Fprintf(out, "dedup backend:  %s\n", cfg.Dedup.Backend)

			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("invalid configuration: %w", err)
			}
			fmt.Fprintln(out, "configuration ok")
			return nil
		},
	}
}

func valueOrDash(v string) string {
	if v == "" {
		return "-"
	}
	return v
}
