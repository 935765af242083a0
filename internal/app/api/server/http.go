package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/lunarlabs/memberd/internal/app/api/handlers"
	affsvc "github.com/lunarlabs/memberd/internal/app/service/affiliate"
	"github.com/lunarlabs/memberd/internal/app/service/billing"
	discsvc "github.com/lunarlabs/memberd/internal/app/service/discount"
	subsvc "github.com/lunarlabs/memberd/internal/app/service/subscription"
	cfgpkg "github.com/lunarlabs/memberd/pkg/config"

	mw "github.com/lunarlabs/memberd/internal/app/api/middleware"

	metrics "github.com/lunarlabs/memberd/pkg/metrics"

	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func newEngine() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	// Add request tracing middleware only; request logger & access log are attached per group in registerRoutes
	r.Use(mw.TraceMiddleware())
	return r
}

func registerRoutes(r *gin.Engine, log *zap.SugaredLogger, cfg *cfgpkg.Config, engine *billing.Engine, store *subsvc.Store, discounts *discsvc.Service, affiliates *affsvc.Service) {
	// Prometheus metrics
	if cfg != nil && cfg.MetricsAddr != "" {
		p := metrics.NewPrometheus(metrics.NewPrometheusOptions{
			ReqCntURLLabelMappingFn: func(c *gin.Context) string {
				if fp := c.FullPath(); fp != "" {
					return fp
				}
				return c.Request.URL.Path
			},
			Logger: log,
		})
		p.SetListenAddress(cfg.MetricsAddr)
		p.Use(r)

		log.Infow("metrics started", "addr", cfg.MetricsAddr)
	}

	// Public group: request logger + access log
	pub := r.Group("/")
	pub.Use(mw.RequestLoggerMiddleware(log), mw.AccessLogMiddleware())
	handlers.RegisterHealthRoutes(pub)

	apiV1 := r.Group("/api/v1")
	apiV1.Use(mw.RequestLoggerMiddleware(log), mw.AccessLogMiddleware())

	// Payment provider bridge endpoints: events in, pre-checkout gate.
	handlers.RegisterPaymentRoutes(apiV1.Group("/payments"), engine)

	// User-facing endpoints, identified by the bridge's X-User-ID header.
	user := apiV1.Group("/")
	user.Use(mw.UserIdentityMiddleware())
	handlers.RegisterSubscriptionRoutes(user.Group("/subscriptions"), engine, store)
	handlers.RegisterAffiliateRoutes(user.Group("/affiliate"), affiliates)

	// Operator surface behind JWT auth.
	admin := apiV1.Group("/admin")
	admin.Use(mw.OperatorAuthMiddleware(cfg))
	handlers.RegisterAdminRoutes(admin, engine, store, discounts, affiliates)
}

func runServer(lc fx.Lifecycle, log *zap.SugaredLogger, cfg *cfgpkg.Config, r *gin.Engine) {
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Infow("starting HTTP server", "addr", addr)
			go func() {
				if err := srv.ListenAndServe(); err != nil {
					log.Errorf("server error: %v", err)
					panic(err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			log.Infow("stopping HTTP server")
			shutdownCtx, cancel := context.WithTimeout(ctx, 120*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

var Module = fx.Options(
	fx.Provide(newEngine),
	fx.Invoke(registerRoutes),
	fx.Invoke(runServer),
)
