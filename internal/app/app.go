// Package app assembles the services shared by the api and trainer binaries.
package app

import (
	"github.com/jmoiron/sqlx"

	"github.com/jwalitptl/diagnosis-api/internal/config"
	"github.com/jwalitptl/diagnosis-api/internal/ml"
	"github.com/jwalitptl/diagnosis-api/internal/repository"
	"github.com/jwalitptl/diagnosis-api/internal/repository/postgres"
	"github.com/jwalitptl/diagnosis-api/internal/service/catalog"
	"github.com/jwalitptl/diagnosis-api/internal/service/event"
	"github.com/jwalitptl/diagnosis-api/internal/service/prediction"
	"github.com/jwalitptl/diagnosis-api/pkg/logger"
	"github.com/jwalitptl/diagnosis-api/pkg/metrics"
)

type Components struct {
	CatalogRepo repository.CatalogRepository
	Store       *ml.ArtifactStore
	Catalog     *catalog.Service
	Events      *event.EventService
	Classifier  *prediction.ModelClassifier
	Predictions *prediction.Service
}

func Build(cfg *config.Config, db *sqlx.DB, log *logger.Logger, m *metrics.Metrics) (*Components, error) {
	base := postgres.NewBaseRepository(db)
	catalogRepo := postgres.NewCatalogRepository(base)
	predictionRepo := postgres.NewPredictionRepository(base)
	outboxRepo := postgres.NewOutboxRepository(base)

	store := ml.NewArtifactStore(cfg.ML.ArtifactDir, cfg.ML.KeepVersions)
	catalogSvc := catalog.NewService(catalogRepo, log)
	events := event.NewEventService(outboxRepo, log)

	classifier := prediction.NewModelClassifier(
		store,
		catalogSvc,
		events,
		prediction.ClassifierConfig{
			Params:            cfg.ML.ToForestParams(),
			SymmetricFeatures: cfg.ML.SymmetricFeatures,
		},
		log,
		m,
	)

	predictions, err := prediction.NewService(
		classifier,
		catalogRepo,
		predictionRepo,
		prediction.Config{
			DisplayThreshold: cfg.ML.DisplayThreshold,
			TopK:             cfg.ML.TopK,
			ResultCacheSize:  cfg.ML.ResultCacheSize,
			InfoCacheTTL:     cfg.ML.InfoCacheTTL,
		},
		log,
		m,
	)
	if err != nil {
		return nil, err
	}

	return &Components{
		CatalogRepo: catalogRepo,
		Store:       store,
		Catalog:     catalogSvc,
		Events:      events,
		Classifier:  classifier,
		Predictions: predictions,
	}, nil
}
