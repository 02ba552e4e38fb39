package main

import (
	"context"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/smallbiznis/paynotify/internal/config"
	notificationdomain "github.com/smallbiznis/paynotify/internal/notification/domain"
	obscontext "github.com/smallbiznis/paynotify/internal/observability/context"
	reconciledomain "github.com/smallbiznis/paynotify/internal/reconcile/domain"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

func replayCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "replay <payment-id>...",
		Short: "Reconcile payments synchronously, as if a notification had arrived for each",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ids := make([]uint64, 0, len(args))
			for _, arg := range args {
				id, ok := notificationdomain.ParsePaymentID(arg)
				if !ok {
					return fmt.Errorf("invalid payment id %q", arg)
				}
				ids = append(ids, id)
			}

			cfg := config.Load()
			if err := cfg.Validate(); err != nil {
				return err
			}

			var reconciler reconciledomain.Service
			app := fx.New(
				coreModules(cfg),
				fx.NopLogger,
				fx.Populate(&reconciler),
			)

			startCtx, cancel := context.WithTimeout(cmd.Context(), app.StartTimeout())
			defer cancel()
			if err := app.Start(startCtx); err != nil {
				return err
			}
			defer func() {
				stopCtx, stopCancel := context.WithTimeout(context.Background(), app.StopTimeout())
				defer stopCancel()
				_ = app.Stop(stopCtx)
			}()

			replayID := "replay-" + ulid.Make().String()
			ctx := obscontext.WithNotificationID(cmd.Context(), replayID)
			ctx, cancelRun := context.WithTimeout(ctx, timeout)
			defer cancelRun()

			results := reconciler.ReconcileMany(ctx, replayID, ids)
			failed := 0
			out := cmd.OutOrStdout()
			for _, r := range results {
				if r.Err != nil {
					failed++
					fmt.Fprintf(out, "%d\t%s\t%v\n", r.PaymentID, r.Outcome, r.Err)
					continue
				}
				fmt.Fprintf(out, "%d\t%s\n", r.PaymentID, r.Outcome)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d payments failed to reconcile", failed, len(results))
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "Overall deadline for the replay")
	return cmd
}
