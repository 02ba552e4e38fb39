package mercadopago

import "go.uber.org/fx"

var Module = fx.Module("gateway.mercadopago",
	fx.Provide(NewClient),
)
