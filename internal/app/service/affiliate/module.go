package affiliate

import (
	"go.uber.org/fx"

	"github.com/lunarlabs/memberd/internal/app/service/subscription"
)

// Module exposes the commission ledger via Fx. The subscription store backs
// the paying-referral count.
var Module = fx.Options(
	fx.Provide(
		func(store *subscription.Store) PayingCounter { return store },
		NewService,
	),
)
