package ledger

import (
	"context"

	"github.com/bwmarrin/snowflake"
	auditdomain "github.com/smallbiznis/paynotify/internal/audit/domain"
	auditrepository "github.com/smallbiznis/paynotify/internal/audit/repository"
	"github.com/smallbiznis/paynotify/internal/clock"
	"github.com/smallbiznis/paynotify/internal/config"
	"github.com/smallbiznis/paynotify/internal/ledger/boltstore"
	ledgerdomain "github.com/smallbiznis/paynotify/internal/ledger/domain"
	"github.com/smallbiznis/paynotify/internal/ledger/repository"
	"github.com/smallbiznis/paynotify/internal/ledger/service"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module wires the SQL ledger on top of the shared *gorm.DB.
var Module = fx.Module("ledger.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
	fx.Provide(auditrepository.NewGormRepository),
)

// BoltModule wires the embedded single-file ledger.
var BoltModule = fx.Module("ledger.bolt",
	fx.Provide(provideBoltStore),
	fx.Provide(func(s *boltstore.Store) ledgerdomain.Service { return s }),
	fx.Provide(func(s *boltstore.Store) auditdomain.Repository { return s }),
)

func provideBoltStore(lc fx.Lifecycle, cfg config.Config, log *zap.Logger, genID *snowflake.Node, clk clock.Clock) (*boltstore.Store, error) {
	store, err := boltstore.Open(cfg.BoltPath, log, genID, clk)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return store.Close()
		},
	})
	return store, nil
}
