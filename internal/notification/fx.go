package notification

import (
	"github.com/smallbiznis/paynotify/internal/notification/service"
	"go.uber.org/fx"
)

var Module = fx.Module("notification.service",
	fx.Provide(service.NewService),
)
