package gateway

import (
	"go.uber.org/fx"

	"github.com/lunarlabs/memberd/internal/app/service/billing"
)

// Module provides the bridge client and binds it to the billing ports.
var Module = fx.Options(
	fx.Provide(
		NewClient,
		func(c *Client) billing.Invoicer { return c },
		func(c *Client) billing.AccessController { return c },
		func(c *Client) billing.Notifier { return c },
	),
)
