package app

import (
	"time"

	"github.com/lunarlabs/memberd/internal/app/api/server"
	"github.com/lunarlabs/memberd/internal/app/service/affiliate"
	"github.com/lunarlabs/memberd/internal/app/service/billing"
	"github.com/lunarlabs/memberd/internal/app/service/discount"
	"github.com/lunarlabs/memberd/internal/app/service/scheduler"
	"github.com/lunarlabs/memberd/internal/app/service/subscription"
	"github.com/lunarlabs/memberd/internal/platform/db"
	"github.com/lunarlabs/memberd/internal/platform/gateway"
	"github.com/lunarlabs/memberd/pkg/config"
	"github.com/lunarlabs/memberd/pkg/logger"

	"go.uber.org/fx"
)

const (
	DefaultStartTimeout = 15 * time.Second
	DefaultStopTimeout  = 10 * time.Second
)

var Module = fx.Options(
	logger.Module,
	config.Module,
	db.Module,
	gateway.Module,
	server.Module,
	subscription.Module,
	discount.Module,
	affiliate.Module,
	billing.Module,
	scheduler.Module,
)
