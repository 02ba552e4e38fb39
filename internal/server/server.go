package server

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/smallbiznis/paynotify/internal/config"
	notificationservice "github.com/smallbiznis/paynotify/internal/notification/service"
	"github.com/smallbiznis/paynotify/internal/observability"
	obsmiddleware "github.com/smallbiznis/paynotify/internal/observability/logger"
	obsmetrics "github.com/smallbiznis/paynotify/internal/observability/metrics"
	obstracing "github.com/smallbiznis/paynotify/internal/observability/tracing"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const defaultHTTPAddr = ":10000"

var Module = fx.Module("http.server",
	fx.Provide(registerGin),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(obsmiddleware.GinMiddleware(obsmiddleware.MiddlewareConfig{
		Debug:           obsCfg.Debug(),
		ErrorClassifier: classifyErrorForLog,
	}))
	r.Use(obstracing.GinMiddleware())
	r.Use(obsmetrics.GinMiddleware(httpMetrics))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func registerGin(obsCfg observability.Config, httpMetrics *obsmetrics.HTTPMetrics) *gin.Engine {
	return NewEngine(obsCfg, httpMetrics)
}

func run(lc fx.Lifecycle, shutdowner fx.Shutdowner, cfg config.Config, log *zap.Logger, r *gin.Engine) {
	addr := strings.TrimSpace(cfg.HTTPAddr)
	if addr == "" {
		addr = defaultHTTPAddr
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				log.Info("http server listening", zap.String("addr", addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("http server stopped", zap.Error(err))
					_ = shutdowner.Shutdown(fx.ExitCode(1))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		},
	})
}

type Server struct {
	engine        *gin.Engine
	cfg           config.Config
	log           *zap.Logger
	notifications *notificationservice.Service
	tunables      *config.ReconcileConfigHolder
}

type ServerParams struct {
	fx.In

	Gin           *gin.Engine
	Cfg           config.Config
	Log           *zap.Logger
	Notifications *notificationservice.Service
	Tunables      *config.ReconcileConfigHolder `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	tunables := p.Tunables
	if tunables == nil {
		tunables = config.NewStaticReconcileConfigHolder(config.DefaultReconcileConfig())
	}
	svc := &Server{
		engine:        p.Gin,
		cfg:           p.Cfg,
		log:           p.Log.Named("http.server"),
		notifications: p.Notifications,
		tunables:      tunables,
	}

	svc.registerWebhookRoutes()
	svc.registerOpsRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerWebhookRoutes() {
	// legacy path kept for notification URLs already registered with the processor
	s.engine.GET("/pagamento", s.WebhookLiveness)
	s.engine.POST("/pagamento", s.HandleNotification)

	s.engine.POST("/webhooks/mercadopago", s.HandleNotification)
}

func (s *Server) registerOpsRoutes() {
	s.engine.GET("/diagnostics", s.Diagnostics)
}
