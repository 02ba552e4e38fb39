package main

import (
	"github.com/bwmarrin/snowflake"
	"github.com/smallbiznis/paynotify/internal/audit"
	"github.com/smallbiznis/paynotify/internal/clock"
	"github.com/smallbiznis/paynotify/internal/config"
	"github.com/smallbiznis/paynotify/internal/dedup"
	"github.com/smallbiznis/paynotify/internal/events"
	"github.com/smallbiznis/paynotify/internal/gateway/mercadopago"
	"github.com/smallbiznis/paynotify/internal/ledger"
	"github.com/smallbiznis/paynotify/internal/migration"
	"github.com/smallbiznis/paynotify/internal/observability"
	"github.com/smallbiznis/paynotify/internal/reconcile"
	"github.com/smallbiznis/paynotify/pkg/db"
	"go.uber.org/fx"
)

// coreModules wires everything reconciliation needs. The ledger backend is
// chosen up front because the bolt store replaces the SQL stack entirely.
func coreModules(cfg config.Config) fx.Option {
	return fx.Options(
		fx.Supply(cfg),
		fx.Provide(config.NewReconcileConfigHolder),
		observability.Module,
		fx.Provide(RegisterSnowflake),
		clock.Module,
		storageModules(cfg),
		dedup.Module,
		mercadopago.Module,
		events.Module,
		audit.Module,
		reconcile.Module,
	)
}

func storageModules(cfg config.Config) fx.Option {
	if cfg.LedgerBackend == config.LedgerBackendBolt {
		return ledger.BoltModule
	}
	return fx.Options(
		db.Module,
		migration.Module,
		ledger.Module,
	)
}

func RegisterSnowflake() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}
