package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/time/rate"

	"github.com/jwalitptl/diagnosis-api/internal/app"
	"github.com/jwalitptl/diagnosis-api/internal/config"
	catalogHandler "github.com/jwalitptl/diagnosis-api/internal/handler/catalog"
	"github.com/jwalitptl/diagnosis-api/internal/handler/health"
	predictionHandler "github.com/jwalitptl/diagnosis-api/internal/handler/prediction"
	"github.com/jwalitptl/diagnosis-api/internal/handler/training"
	"github.com/jwalitptl/diagnosis-api/internal/middleware"
	"github.com/jwalitptl/diagnosis-api/internal/ml"
	"github.com/jwalitptl/diagnosis-api/internal/repository/postgres"
	"github.com/jwalitptl/diagnosis-api/internal/router"
	"github.com/jwalitptl/diagnosis-api/pkg/logger"
	"github.com/jwalitptl/diagnosis-api/pkg/metrics"
)

func main() {
	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.NewLogger(nil).Fatal(err, "Failed to load configuration")
	}

	log := logger.NewLogger(cfg.Log.ToLoggerConfig())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := postgres.ConnectWithRetry(ctx, cfg.Database, cfg.Server.StartupWait, log)
	if err != nil {
		log.Fatal(err, "Failed to connect to database")
	}
	defer db.Close()

	m := metrics.NewMetrics("diagnosis", "api")
	components, err := app.Build(cfg, db, log, m)
	if err != nil {
		log.Fatal(err, "Failed to initialise services")
	}

	// Load or train before accepting traffic so the first request does not
	// pay for it. Failure is not fatal: predictions degrade to empty results.
	if !components.Classifier.EnsureLoaded(ctx) {
		log.Warn("Starting without a model")
	}

	if cfg.ML.WatchArtifacts {
		watcher, err := ml.NewWatcher(components.Store, components.Classifier.Invalidate, log.WithComponent("artifact_watcher"))
		if err != nil {
			log.Error(err, "Artifact watcher disabled")
		} else {
			go watcher.Run(ctx)
		}
	}

	if err := middleware.RegisterValidators(); err != nil {
		log.Fatal(err, "Failed to register validators")
	}

	cors := middleware.DefaultCORSConfig()
	if len(cfg.Server.AllowedOrigins) > 0 {
		cors.AllowOrigins = cfg.Server.AllowedOrigins
	}

	r := router.NewRouter(router.Handlers{
		Health:     health.NewHandler(db, components.Classifier),
		Catalog:    catalogHandler.NewHandler(components.Catalog, components.Predictions),
		Prediction: predictionHandler.NewHandler(components.Predictions),
		Training:   training.NewHandler(components.Predictions),
	}, middleware.NewSessionMiddleware(cfg.Auth.JWTSecret), log, router.RouterConfig{
		Mode:              cfg.Server.Mode,
		RateLimit:         rate.Limit(cfg.RateLimit.RequestsPerSecond),
		RateBurst:         cfg.RateLimit.Burst,
		RateLimitEnabled:  cfg.RateLimit.Enabled,
		RequestTimeout:    cfg.Server.RequestTimeout,
		CORSConfig:        cors,
		MetricsPrefix:     "diagnosis_http",
		MetricsRegisterer: prometheus.DefaultRegisterer,
		CatalogMaxAge:     300,
	})
	r.Setup()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r.Engine(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info("Server starting", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err, "Failed to start server")
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(err, "Server forced to shutdown")
	}

	log.Info("Server exited")
}
