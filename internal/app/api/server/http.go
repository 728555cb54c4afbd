package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/tradejournal/billing/docs"
	"github.com/tradejournal/billing/internal/app/api/handlers"
	mw "github.com/tradejournal/billing/internal/app/api/middleware"
	"github.com/tradejournal/billing/internal/app/service/credit"
	"github.com/tradejournal/billing/internal/app/service/settlement"
	"github.com/tradejournal/billing/internal/app/service/statistics"
	subsvc "github.com/tradejournal/billing/internal/app/service/subscription"
	cfgpkg "github.com/tradejournal/billing/pkg/config"
	metrics "github.com/tradejournal/billing/pkg/metrics"
	"github.com/tradejournal/billing/pkg/ratelimit"
)

func newEngine() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	// Add request tracing middleware only; request logger & access log are attached per group in registerRoutes
	r.Use(mw.TraceMiddleware())
	return r
}

func registerRoutes(
	r *gin.Engine,
	log *zap.SugaredLogger,
	cfg *cfgpkg.Config,
	settler *settlement.Service,
	sub *subsvc.Service,
	credits *credit.Service,
	stats *statistics.Service,
	limiter *ratelimit.Limiter,
) {
	// Prometheus metrics
	if cfg != nil && cfg.MetricsAddr != "" {
		p := metrics.NewPrometheus(metrics.NewPrometheusOptions{
			Subsystem:   "billing",
			MetricsList: metrics.BusinessMetrics,
			ReqCntURLLabelMappingFn: func(c *gin.Context) string {
				if fp := c.FullPath(); fp != "" {
					return fp
				}
				return "unmatched"
			},
			Logger: log,
		})
		p.SetListenAddress(cfg.MetricsAddr)
		p.Use(r)

		log.Infow("metrics started", "addr", cfg.MetricsAddr)
	}
	// Public group: request logger + access log
	pub := r.Group("/")
	pub.Use(mw.RequestLoggerMiddleware(log), mw.AccessLogMiddleware(log))
	handlers.RegisterHealthRoutes(pub)
	// Swagger UI
	docs.SwaggerInfo.BasePath = "/"
	pub.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	// User APIs behind bearer auth
	apiV1 := r.Group("/api/v1")
	apiV1.Use(mw.RequestLoggerMiddleware(log), mw.AccessLogMiddleware(log))

	user := apiV1.Group("")
	user.Use(mw.AuthMiddleware(mw.NewTokenVerifier(cfg.Auth), log))
	handlers.RegisterCheckoutRoutes(user, settler, log,
		mw.RateLimitMiddleware(limiter, "checkout", cfg.RateLimit.CheckoutPerMinute, log))
	handlers.RegisterSubscriptionRoutes(user, sub, log)
	handlers.RegisterCreditRoutes(user, credits, log,
		mw.RateLimitMiddleware(limiter, "credits_consume", cfg.RateLimit.ConsumePerMinute, log))

	// Admin APIs behind basic auth
	if len(cfg.Admin.Accounts) == 0 {
		log.Warnw("admin accounts not configured, admin routes disabled")
		return
	}
	admin := apiV1.Group("/admin", gin.BasicAuth(gin.Accounts(cfg.Admin.Accounts)))
	handlers.RegisterAdminRoutes(admin, sub, stats, log)
}

func runServer(lc fx.Lifecycle, log *zap.SugaredLogger, cfg *cfgpkg.Config, r *gin.Engine) {
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: r, ReadHeaderTimeout: 5 * time.Second}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			log.Infow("starting HTTP server", "addr", addr)
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
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
