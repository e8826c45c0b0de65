package router

import (
	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/outreach-engine/internal/handler/prometheus"
	"github.com/jwalitptl/outreach-engine/internal/handler/sequence"
	"github.com/jwalitptl/outreach-engine/internal/middleware"
	"github.com/jwalitptl/outreach-engine/pkg/errreport"
	"github.com/jwalitptl/outreach-engine/pkg/logger"
)

type Handler interface {
	RegisterRoutes(*gin.RouterGroup)
}

type RouterConfig struct {
	CronSecret string
	// PublicRate and PublicBurst throttle the tracking and webhook routes per
	// client IP.
	PublicRate  rate.Limit
	PublicBurst int
}

type Router struct {
	engine    *gin.Engine
	config    RouterConfig
	logger    *logger.Logger
	metrics   *prometheus.Handler
	healthH   Handler
	sequenceH *sequence.Handler
	trackingH Handler
}

func NewRouter(
	log *logger.Logger,
	reporter errreport.Reporter,
	metrics *prometheus.Handler,
	healthH Handler,
	sequenceH *sequence.Handler,
	trackingH Handler,
	config RouterConfig,
) *Router {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()

	engine.Use(
		middleware.RequestID(log),
		middleware.Recovery(log, reporter),
		middleware.Logger(log),
		metrics.Middleware(),
	)

	return &Router{
		engine:    engine,
		config:    config,
		logger:    log,
		metrics:   metrics,
		healthH:   healthH,
		sequenceH: sequenceH,
		trackingH: trackingH,
	}
}

func (r *Router) Setup() {
	root := r.engine.Group("")
	r.healthH.RegisterRoutes(root)
	root.GET("/metrics", r.metrics.Handler())

	// Tracking links and provider webhooks are public.
	public := r.engine.Group("")
	if r.config.PublicRate > 0 {
		limiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
			Rate:  r.config.PublicRate,
			Burst: r.config.PublicBurst,
		})
		public.Use(limiter.RateLimit())
	}
	r.trackingH.RegisterRoutes(public)

	api := r.engine.Group("/api/v1")
	api.Use(func(c *gin.Context) {
		c.Header("X-API-Version", "1.0")
		c.Next()
	})
	r.sequenceH.RegisterRoutes(api)

	cron := api.Group("")
	cron.Use(middleware.CronAuth(r.config.CronSecret))
	r.sequenceH.RegisterCronRoutes(cron)
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}
