package prediction

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jwalitptl/diagnosis-api/internal/ml"
	"github.com/jwalitptl/diagnosis-api/internal/model"
	"github.com/jwalitptl/diagnosis-api/internal/service/catalog"
	"github.com/jwalitptl/diagnosis-api/internal/service/event"
	"github.com/jwalitptl/diagnosis-api/pkg/logger"
	"github.com/jwalitptl/diagnosis-api/pkg/metrics"
)

var ErrModelUnavailable = errors.New("prediction model unavailable")

// Scores is the raw classifier output for one symptom set.
type Scores struct {
	Labels        []string
	Probabilities []float64
	ModelVersion  string
	// Recognized counts the input names that mapped to a feature column.
	Recognized int
	Unknown    []string
}

// Classifier owns the trained model. Implementations must be safe for
// concurrent use.
type Classifier interface {
	EnsureLoaded(ctx context.Context) bool
	Version() string
	Score(ctx context.Context, symptoms []string) (*Scores, error)
	Train(ctx context.Context) (*TrainReport, error)
	Accuracy(ctx context.Context) float64
	Manifest() (*ml.Manifest, bool)
	Invalidate(version string)
}

// CatalogSource provides the catalog snapshot models are trained on.
type CatalogSource interface {
	Snapshot(ctx context.Context) (*catalog.Snapshot, error)
}

type ClassifierConfig struct {
	Params            ml.ForestParams
	SymmetricFeatures bool
}

type TrainReport struct {
	Manifest  ml.Manifest `json:"manifest"`
	Persisted bool        `json:"persisted"`
	SaveError string      `json:"save_error,omitempty"`
	// FullReason is set when the model was scored on its own training rows.
	FullReason string   `json:"full_reason,omitempty"`
	Skipped    []string `json:"skipped_diseases,omitempty"`
}

type loadedModel struct {
	artifact *ml.Artifact
	encoder  *ml.Encoder
}

// ModelClassifier serves an artifact from the store, training a new one
// from the catalog when none has been published.
type ModelClassifier struct {
	store   *ml.ArtifactStore
	catalog CatalogSource
	events  event.EventServicer
	cfg     ClassifierConfig
	log     *logger.Logger
	metrics *metrics.Metrics

	// loadMu serialises load and train so concurrent callers never fit twice.
	loadMu sync.Mutex
	mu     sync.RWMutex
	model  *loadedModel
}

func NewModelClassifier(
	store *ml.ArtifactStore,
	catalog CatalogSource,
	events event.EventServicer,
	cfg ClassifierConfig,
	log *logger.Logger,
	metrics *metrics.Metrics,
) *ModelClassifier {
	return &ModelClassifier{
		store:   store,
		catalog: catalog,
		events:  events,
		cfg:     cfg,
		log:     log.WithComponent("classifier"),
		metrics: metrics,
	}
}

func (c *ModelClassifier) current() *loadedModel {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.model
}

func (c *ModelClassifier) set(m *loadedModel) {
	c.mu.Lock()
	c.model = m
	c.mu.Unlock()
}

// EnsureLoaded makes a model available: the in-memory one, else the
// published artifact, else a freshly trained one.
func (c *ModelClassifier) EnsureLoaded(ctx context.Context) bool {
	if c.current() != nil {
		return true
	}

	c.loadMu.Lock()
	defer c.loadMu.Unlock()
	if c.current() != nil {
		return true
	}

	if err := c.loadLocked(); err == nil {
		return true
	} else if !errors.Is(err, ml.ErrArtifactNotFound) {
		c.log.Error(err, "Failed to load model")
	} else {
		c.log.Info("No saved model, training a new one", "reason", err.Error())
	}

	if _, err := c.trainLocked(ctx); err != nil {
		c.log.Error(err, "Failed to train model")
		return false
	}
	return true
}

func (c *ModelClassifier) loadLocked() error {
	artifact, err := c.store.Load()
	if err != nil {
		c.metrics.ModelLoads.WithLabelValues("not_found").Inc()
		return err
	}
	c.set(&loadedModel{artifact: artifact, encoder: ml.NewEncoder(artifact.SymptomOrder)})
	c.metrics.ModelLoads.WithLabelValues("loaded").Inc()
	c.metrics.ModelAccuracy.Set(artifact.Manifest.Accuracy)
	c.log.Info("Model loaded",
		"version", artifact.Manifest.Version,
		"symptoms", len(artifact.SymptomOrder),
		"diseases", len(artifact.DiseaseLabels))
	return nil
}

func (c *ModelClassifier) Version() string {
	if m := c.current(); m != nil {
		return m.artifact.Manifest.Version
	}
	return ""
}

func (c *ModelClassifier) Manifest() (*ml.Manifest, bool) {
	m := c.current()
	if m == nil {
		return nil, false
	}
	manifest := m.artifact.Manifest
	return &manifest, true
}

func (c *ModelClassifier) Score(_ context.Context, symptoms []string) (*Scores, error) {
	m := c.current()
	if m == nil {
		return nil, ErrModelUnavailable
	}

	vec, unknown := m.encoder.Encode(symptoms)
	scores := &Scores{
		Labels:       m.artifact.DiseaseLabels,
		ModelVersion: m.artifact.Manifest.Version,
		Recognized:   len(symptoms) - len(unknown),
		Unknown:      unknown,
	}
	if ml.IsZero(vec) {
		scores.Recognized = 0
		return scores, nil
	}

	probs, err := m.artifact.Forest.PredictProba(vec)
	if err != nil {
		return nil, fmt.Errorf("failed to score symptoms: %w", err)
	}
	scores.Probabilities = probs
	return scores, nil
}

// Train fits a new model from the current catalog and publishes it.
func (c *ModelClassifier) Train(ctx context.Context) (*TrainReport, error) {
	c.loadMu.Lock()
	defer c.loadMu.Unlock()
	return c.trainLocked(ctx)
}

func (c *ModelClassifier) trainLocked(ctx context.Context) (*TrainReport, error) {
	start := time.Now()
	ds, err := c.dataset(ctx)
	if err != nil {
		c.metrics.TrainingRuns.WithLabelValues("no_data").Inc()
		return nil, err
	}

	result, err := fitRecovered(ds, ml.TrainOptions{Params: c.cfg.Params})
	if err != nil {
		c.metrics.TrainingRuns.WithLabelValues("error").Inc()
		return nil, err
	}
	if result.Strategy == ml.SplitFull {
		c.log.Warn("Training on the full dataset, accuracy is optimistic",
			"rows", ds.Len(),
			"reason", result.FullReason)
	}

	artifact := &ml.Artifact{
		Manifest: ml.Manifest{
			Samples:       ds.Len(),
			TrainSamples:  result.TrainRows,
			TestSamples:   result.TestRows,
			SplitStrategy: result.Strategy,
			SplitReason:   result.FullReason,
			Accuracy:      result.Accuracy,
		},
		Forest:        result.Forest,
		SymptomOrder:  ds.SymptomOrder,
		DiseaseLabels: result.Forest.Classes,
	}

	report := &TrainReport{FullReason: result.FullReason, Skipped: ds.Skipped}
	manifest, err := c.store.Save(artifact)
	if err != nil {
		c.log.Error(err, "Failed to save model, keeping it in memory only")
		artifact.Manifest.Version = "unsaved-" + start.UTC().Format("20060102T150405")
		artifact.Manifest.CreatedAt = start.UTC()
		artifact.Manifest.Symptoms = len(artifact.SymptomOrder)
		artifact.Manifest.Diseases = len(artifact.DiseaseLabels)
		artifact.Manifest.Params = artifact.Forest.Params
		report.SaveError = err.Error()
	} else {
		artifact.Manifest = *manifest
		report.Persisted = true
	}
	report.Manifest = artifact.Manifest

	c.set(&loadedModel{artifact: artifact, encoder: ml.NewEncoder(artifact.SymptomOrder)})

	c.metrics.TrainingRuns.WithLabelValues("success").Inc()
	c.metrics.TrainingDuration.Observe(time.Since(start).Seconds())
	c.metrics.ModelAccuracy.Set(result.Accuracy)
	c.log.Info("Model trained",
		"version", artifact.Manifest.Version,
		"accuracy", result.Accuracy,
		"train_rows", result.TrainRows,
		"test_rows", result.TestRows,
		"split", string(result.Strategy))

	if c.events != nil {
		payload := model.ModelTrainedPayload{
			Version:   artifact.Manifest.Version,
			Accuracy:  result.Accuracy,
			Samples:   ds.Len(),
			Diseases:  len(artifact.DiseaseLabels),
			Symptoms:  len(artifact.SymptomOrder),
			Persisted: report.Persisted,
		}
		if err := c.events.Emit(ctx, model.EventModelTrained, payload); err != nil {
			c.log.Warn("Failed to queue model trained event", "error", err.Error())
		}
	}
	return report, nil
}

func (c *ModelClassifier) dataset(ctx context.Context) (*ml.Dataset, error) {
	snap, err := c.catalog.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	ds, err := ml.BuildDataset(snap.Symptoms, snap.Diseases, snap.Associations, ml.DatasetOptions{
		BinaryFeatures: c.cfg.SymmetricFeatures,
	})
	if ds != nil {
		for _, name := range ds.Skipped {
			c.log.Warn("Disease has no symptoms, skipping", "disease", name)
		}
	}
	return ds, err
}

// fitRecovered converts a panic inside fitting into an error.
func fitRecovered(ds *ml.Dataset, opts ml.TrainOptions) (result *ml.TrainResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			result = nil
			err = fmt.Errorf("training panicked: %v", r)
		}
	}()
	return ml.Fit(ds, opts)
}

// Accuracy scores the loaded model against the dataset rebuilt from the
// current catalog, projected onto the model's symptom order. It loads a
// published artifact but never trains, and returns 0 when no model is
// available or the catalog yields no rows.
func (c *ModelClassifier) Accuracy(ctx context.Context) float64 {
	m := c.current()
	if m == nil {
		c.loadMu.Lock()
		if c.current() == nil {
			_ = c.loadLocked()
		}
		c.loadMu.Unlock()
		if m = c.current(); m == nil {
			return 0
		}
	}
	ds, err := c.dataset(ctx)
	if err != nil && (ds == nil || ds.Len() == 0) {
		c.log.Warn("Cannot evaluate model", "error", err.Error())
		return 0
	}
	accuracy, err := m.artifact.Forest.Score(ds.Project(m.artifact.SymptomOrder), ds.Labels)
	if err != nil {
		c.log.Error(err, "Failed to evaluate model")
		return 0
	}
	return accuracy
}

// Invalidate drops the in-memory model when another process published a
// different version, so the next call reloads it.
func (c *ModelClassifier) Invalidate(version string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.model != nil && c.model.artifact.Manifest.Version == version {
		return
	}
	c.model = nil
	c.log.Info("Model invalidated", "published_version", version)
}
