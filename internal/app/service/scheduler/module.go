package scheduler

import (
	"go.uber.org/fx"

	"github.com/lunarlabs/memberd/internal/app/service/billing"
	"github.com/lunarlabs/memberd/internal/app/service/subscription"
)

// Module wires the sweep loop into the app.
var Module = fx.Options(
	fx.Provide(
		func(e *billing.Engine) Biller { return e },
		func(st *subscription.Store) Lister { return st },
		NewScheduler,
	),
	fx.Invoke(Register),
)
