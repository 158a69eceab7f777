package server

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/posbridge/posbridge/internal/config"
	jobdomain "github.com/posbridge/posbridge/internal/jobqueue/domain"
	loyaltydomain "github.com/posbridge/posbridge/internal/loyalty/domain"
	obsmetrics "github.com/posbridge/posbridge/internal/observability/metrics"
	"github.com/posbridge/posbridge/internal/pos"
	"github.com/posbridge/posbridge/internal/ratelimit"
	"github.com/posbridge/posbridge/internal/reconcile"
	vendordomain "github.com/posbridge/posbridge/internal/vendors/domain"
	webhookdomain "github.com/posbridge/posbridge/internal/webhook/domain"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var Module = fx.Module("server",
	fx.Provide(NewEngine),
	fx.Invoke(NewServer),
	fx.Invoke(run),
)

func NewEngine(log *zap.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestLogMiddleware(log))
	r.Use(ErrorHandlingMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return r
}

func run(lc fx.Lifecycle, cfg config.Config, r *gin.Engine) {
	srv := &http.Server{
		Addr:    cfg.HTTPAddr,
		Handler: r,
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					panic(err)
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
	engine       *gin.Engine
	cfg          config.Config
	db           *gorm.DB
	log          *zap.Logger
	registry     *pos.Registry
	webhookSvc   webhookdomain.Service
	vendorSvc    vendordomain.Service
	jobQueueSvc  jobdomain.Service
	jobRepo      jobdomain.Repository
	loyaltyRepo  loyaltydomain.Repository
	reconcileSvc *reconcile.Service
	opsLimiter   *ratelimit.OpsReconcileLimiter
	metrics      *obsmetrics.Metrics
}

type ServerParams struct {
	fx.In

	Gin          *gin.Engine
	Cfg          config.Config
	DB           *gorm.DB
	Log          *zap.Logger
	Registry     *pos.Registry
	WebhookSvc   webhookdomain.Service
	VendorSvc    vendordomain.Service
	JobQueueSvc  jobdomain.Service
	JobRepo      jobdomain.Repository
	LoyaltyRepo  loyaltydomain.Repository
	ReconcileSvc *reconcile.Service
	OpsLimiter   *ratelimit.OpsReconcileLimiter `optional:"true"`
	Metrics      *obsmetrics.Metrics            `optional:"true"`
}

func NewServer(p ServerParams) *Server {
	svc := &Server{
		engine:       p.Gin,
		cfg:          p.Cfg,
		db:           p.DB,
		log:          p.Log.Named("server"),
		registry:     p.Registry,
		webhookSvc:   p.WebhookSvc,
		vendorSvc:    p.VendorSvc,
		jobQueueSvc:  p.JobQueueSvc,
		jobRepo:      p.JobRepo,
		loyaltyRepo:  p.LoyaltyRepo,
		reconcileSvc: p.ReconcileSvc,
		opsLimiter:   p.OpsLimiter,
		metrics:      p.Metrics,
	}

	svc.registerWebhookRoutes()
	svc.registerAPIRoutes()
	svc.registerInternalRoutes()
	svc.registerOpsRoutes()

	return svc
}

func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func (s *Server) registerWebhookRoutes() {
	s.engine.POST("/webhooks/:provider", s.HandleWebhook)
}

func (s *Server) registerAPIRoutes() {
	api := s.engine.Group("/api")

	api.GET("/providers", s.ListProviders)

	api.POST("/vendors", s.CreateVendor)
	api.GET("/vendors/:slug", s.GetVendor)
	api.POST("/vendors/:slug/locations", s.AddVendorLocation)
	api.GET("/vendors/:slug/locations", s.ListVendorLocations)
	api.GET("/vendors/:slug/loyalty/balance", s.GetLoyaltyBalance)
}

func (s *Server) registerInternalRoutes() {
	internal := s.engine.Group("/internal", s.TriggerTokenRequired())

	internal.POST("/jobs/drain", s.DrainJobs)
	internal.POST("/jobs/reset-stale", s.ResetStaleJobs)
	internal.GET("/jobs/stats", s.JobStats)
	internal.POST("/reconcile", s.RunReconcileSweep)
}

func (s *Server) registerOpsRoutes() {
	ops := s.engine.Group("/ops", s.TriggerTokenRequired())

	ops.POST("/vendors/:slug/reconcile", s.OpsReconcileRateLimit(), s.ReconcileVendor)
}
