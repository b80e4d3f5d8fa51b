package router

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/diagnosis-api/internal/middleware"
	"github.com/jwalitptl/diagnosis-api/internal/model"
	"github.com/jwalitptl/diagnosis-api/pkg/logger"
)

type Handler interface {
	RegisterRoutes(*gin.RouterGroup)
}

// ReviewHandler exposes clinician-only routes next to its public ones.
type ReviewHandler interface {
	Handler
	RegisterReviewRoutes(*gin.RouterGroup)
}

type Handlers struct {
	Health     Handler
	Catalog    Handler
	Prediction ReviewHandler
	Training   Handler
}

type RouterConfig struct {
	Mode              string
	RateLimit         rate.Limit
	RateBurst         int
	RateLimitEnabled  bool
	RequestTimeout    time.Duration
	CORSConfig        middleware.CORSConfig
	MetricsPrefix     string
	MetricsRegisterer prometheus.Registerer
	CatalogMaxAge     int
}

type Router struct {
	engine   *gin.Engine
	handlers Handlers
	session  *middleware.SessionMiddleware
	limiter  *middleware.RateLimiter
	config   RouterConfig
}

func NewRouter(handlers Handlers, session *middleware.SessionMiddleware, log *logger.Logger, config RouterConfig) *Router {
	if config.Mode != "" {
		gin.SetMode(config.Mode)
	}

	engine := gin.New()
	if config.MetricsPrefix == "" {
		config.MetricsPrefix = "diagnosis_http"
	}
	metrics := middleware.NewRequestMetrics(config.MetricsRegisterer, config.MetricsPrefix)

	engine.Use(
		middleware.RequestID(),
		middleware.Recovery(log),
		middleware.Logger(log),
		middleware.ErrorHandler(log),
		metrics.Middleware(),
		middleware.Timeout(middleware.TimeoutConfig{Duration: config.RequestTimeout}),
		middleware.SecurityHeaders(),
		middleware.SizeLimit(middleware.DefaultSizeLimitConfig()),
	)
	engine.Use(middleware.CORS(config.CORSConfig))

	r := &Router{
		engine:   engine,
		handlers: handlers,
		session:  session,
		config:   config,
	}
	if config.RateLimitEnabled {
		r.limiter = middleware.NewRateLimiter(middleware.RateLimiterConfig{
			Rate:  config.RateLimit,
			Burst: config.RateBurst,
		})
	}
	return r
}

func (r *Router) Setup() {
	api := r.engine.Group("/api/v1")

	api.Use(func(c *gin.Context) {
		c.Header("X-API-Version", "1.0")
		c.Next()
	})

	r.handlers.Health.RegisterRoutes(api)

	// Reference data
	catalog := api.Group("")
	catalog.Use(middleware.Cacheable(r.config.CatalogMaxAge))
	r.handlers.Catalog.RegisterRoutes(catalog)

	// Session-scoped routes
	sessions := api.Group("")
	sessions.Use(r.session.Session(), middleware.NoStore())
	if r.limiter != nil {
		sessions.Use(r.limiter.RateLimit())
	}
	r.handlers.Prediction.RegisterRoutes(sessions)

	// Admin routes
	admin := sessions.Group("")
	admin.Use(r.session.RequireRole(model.RoleAdmin))
	r.handlers.Prediction.RegisterReviewRoutes(admin)
	r.handlers.Training.RegisterRoutes(admin)
}

func (r *Router) Engine() *gin.Engine {
	return r.engine
}
