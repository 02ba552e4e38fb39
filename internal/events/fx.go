package events

import (
	"context"
	"strings"

	"github.com/smallbiznis/paynotify/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("events",
	fx.Provide(NewPublisher),
)

// NewPublisher returns the AMQP publisher when AMQP_URL is set, otherwise a no-op.
func NewPublisher(lc fx.Lifecycle, cfg config.Config, log *zap.Logger) (Publisher, error) {
	url := strings.TrimSpace(cfg.Events.AMQPURL)
	if url == "" {
		log.Info("credit events disabled, AMQP_URL not set")
		return NoopPublisher{}, nil
	}

	pub, err := NewAMQPPublisher(url, cfg.Events.Exchange, log)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return pub.Close()
		},
	})
	return pub, nil
}
