package billing

import (
	"go.uber.org/fx"

	"github.com/lunarlabs/memberd/internal/app/service/subscription"
)

// Module exposes the billing engine via Fx. The Invoicer, AccessController
// and Notifier ports are provided by the gateway package.
var Module = fx.Options(
	fx.Provide(
		func(store *subscription.Store) SubscriptionStore { return store },
		NewEngine,
	),
)
