package audit

import (
	"github.com/smallbiznis/paynotify/internal/audit/service"
	"go.uber.org/fx"
)

// Module provides the audit service; the repository comes from the selected
// ledger backend.
var Module = fx.Module("audit.service",
	fx.Provide(service.NewService),
)
