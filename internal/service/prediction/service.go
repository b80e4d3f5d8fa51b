package prediction

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/patrickmn/go-cache"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jwalitptl/diagnosis-api/internal/ml"
	"github.com/jwalitptl/diagnosis-api/internal/model"
	"github.com/jwalitptl/diagnosis-api/internal/repository"
	"github.com/jwalitptl/diagnosis-api/pkg/logger"
	"github.com/jwalitptl/diagnosis-api/pkg/metrics"
)

const (
	defaultRating = 3

	defaultThreshold  = 0.05
	defaultTopK       = 5
	defaultCacheSize  = 512
	defaultInfoTTL    = 10 * time.Minute
	infoCleanupPeriod = 30 * time.Minute
)

type PredictionServicer interface {
	Predict(ctx context.Context, symptoms []string) []model.DiseaseProbability
	PredictAndRecord(ctx context.Context, sessionRef string, symptoms []string) *model.PredictionResult
	Explain(ctx context.Context, disease string) (*model.DiseaseInfo, bool)
	RecordFeedback(ctx context.Context, predictionID uuid.UUID, kind model.FeedbackKind, comment string, rating int) bool
	VerifyPrediction(ctx context.Context, predictionID uuid.UUID, req *model.VerifyRequest) error
	GetPrediction(ctx context.Context, id uuid.UUID) (*model.PredictionRecord, error)
	ListPredictions(ctx context.Context, filters *model.PredictionFilters) ([]*model.PredictionRecord, int, error)
	Train(ctx context.Context) (*TrainReport, error)
	Accuracy(ctx context.Context) float64
	Manifest(ctx context.Context) (*ml.Manifest, bool)
}

type Config struct {
	// DisplayThreshold hides diseases whose probability is not above it.
	DisplayThreshold float64
	TopK             int
	ResultCacheSize  int
	InfoCacheTTL     time.Duration
}

type Service struct {
	classifier Classifier
	catalog    repository.CatalogRepository
	repo       repository.PredictionRepository
	cfg        Config
	results    *lru.Cache[string, []model.DiseaseProbability]
	info       *cache.Cache
	log        *logger.Logger
	metrics    *metrics.Metrics
}

func NewService(
	classifier Classifier,
	catalog repository.CatalogRepository,
	repo repository.PredictionRepository,
	cfg Config,
	log *logger.Logger,
	metrics *metrics.Metrics,
) (*Service, error) {
	if cfg.DisplayThreshold <= 0 {
		cfg.DisplayThreshold = defaultThreshold
	}
	if cfg.TopK <= 0 {
		cfg.TopK = defaultTopK
	}
	if cfg.ResultCacheSize <= 0 {
		cfg.ResultCacheSize = defaultCacheSize
	}
	if cfg.InfoCacheTTL <= 0 {
		cfg.InfoCacheTTL = defaultInfoTTL
	}

	results, err := lru.New[string, []model.DiseaseProbability](cfg.ResultCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create result cache: %w", err)
	}

	return &Service{
		classifier: classifier,
		catalog:    catalog,
		repo:       repo,
		cfg:        cfg,
		results:    results,
		info:       cache.New(cfg.InfoCacheTTL, infoCleanupPeriod),
		log:        log.WithComponent("prediction"),
		metrics:    metrics,
	}, nil
}

// Predict ranks the diseases for the given symptom names. It never fails:
// a missing model, no recognised symptom or a scoring error all yield an
// empty list.
func (s *Service) Predict(ctx context.Context, symptoms []string) []model.DiseaseProbability {
	preds, _ := s.predict(ctx, symptoms)
	if preds == nil {
		return []model.DiseaseProbability{}
	}
	return preds
}

func (s *Service) predict(ctx context.Context, symptoms []string) ([]model.DiseaseProbability, string) {
	timer := prometheus.NewTimer(s.metrics.PredictionLatency)
	defer timer.ObserveDuration()

	if !s.classifier.EnsureLoaded(ctx) {
		s.metrics.Predictions.WithLabelValues("model_unavailable").Inc()
		return nil, ""
	}

	names := normalizeSymptoms(symptoms)
	version := s.classifier.Version()
	key := version + "|" + strings.Join(names, "\x1f")
	if cached, ok := s.results.Get(key); ok {
		s.metrics.PredictionCache.WithLabelValues("hit").Inc()
		return copyPredictions(cached), version
	}
	s.metrics.PredictionCache.WithLabelValues("miss").Inc()

	scores, err := s.classifier.Score(ctx, names)
	if err != nil {
		s.log.Error(err, "Prediction failed", "symptoms", names)
		s.metrics.Predictions.WithLabelValues("error").Inc()
		return nil, ""
	}
	for _, name := range scores.Unknown {
		s.log.Warn("Symptom not in training data", "symptom", name)
	}
	if scores.Recognized == 0 {
		s.metrics.Predictions.WithLabelValues("unrecognized").Inc()
		return nil, scores.ModelVersion
	}

	preds := rank(scores.Labels, scores.Probabilities, s.cfg.DisplayThreshold, s.cfg.TopK)
	if len(preds) == 0 {
		s.metrics.Predictions.WithLabelValues("below_threshold").Inc()
	} else {
		s.metrics.Predictions.WithLabelValues("success").Inc()
	}
	if scores.ModelVersion != version {
		key = scores.ModelVersion + "|" + strings.Join(names, "\x1f")
	}
	s.results.Add(key, preds)
	return copyPredictions(preds), scores.ModelVersion
}

// rank keeps the labels whose probability exceeds threshold, sorted by
// probability descending with ties in label order, and returns at most topK.
func rank(labels []string, probs []float64, threshold float64, topK int) []model.DiseaseProbability {
	preds := make([]model.DiseaseProbability, 0, len(labels))
	for i, label := range labels {
		if i >= len(probs) || probs[i] <= threshold {
			continue
		}
		preds = append(preds, model.DiseaseProbability{
			Disease:     label,
			Probability: probs[i],
			Confidence:  Band(probs[i]),
		})
	}
	sort.SliceStable(preds, func(i, j int) bool {
		return preds[i].Probability > preds[j].Probability
	})
	if len(preds) > topK {
		preds = preds[:topK]
	}
	return preds
}

// PredictAndRecord predicts, persists the result with its outbox event and
// renders the reply message. Nothing is stored when there is no prediction.
func (s *Service) PredictAndRecord(ctx context.Context, sessionRef string, symptoms []string) (result *model.PredictionResult) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error(fmt.Errorf("%v", r), "Prediction panicked")
			s.metrics.Predictions.WithLabelValues("error").Inc()
			result = &model.PredictionResult{Success: false, Message: msgPredictionFail}
		}
	}()

	preds, version := s.predict(ctx, symptoms)
	if len(preds) == 0 {
		return &model.PredictionResult{Success: false, Message: msgNoPrediction}
	}

	names := normalizeSymptoms(symptoms)
	ids, err := s.symptomIDs(ctx, names)
	if err != nil {
		s.log.Error(err, "Failed to resolve symptoms")
		return &model.PredictionResult{Success: false, Message: msgPredictionFail}
	}

	now := time.Now().UTC()
	record := &model.PredictionRecord{
		Base:            model.Base{ID: uuid.New(), CreatedAt: now, UpdatedAt: now},
		SessionRef:      sessionRef,
		SymptomIDs:      ids,
		Symptoms:        names,
		Predictions:     preds,
		ConfidenceScore: preds[0].Probability,
		ModelVersion:    version,
	}
	event, err := model.NewOutboxEvent(model.EventPredictionCreated, model.PredictionCreatedPayload{
		PredictionID:    record.ID,
		SessionRef:      record.SessionRef,
		Symptoms:        record.Symptoms,
		Predictions:     record.Predictions,
		ConfidenceScore: record.ConfidenceScore,
		ModelVersion:    record.ModelVersion,
	})
	if err != nil {
		s.log.Error(err, "Failed to build prediction event")
		return &model.PredictionResult{Success: false, Message: msgPredictionFail}
	}

	if err := s.repo.Create(ctx, record, event); err != nil {
		s.log.Error(err, "Failed to save prediction", "session_ref", sessionRef)
		s.metrics.DatabaseOperations.WithLabelValues("create_prediction", "error").Inc()
		return &model.PredictionResult{Success: false, Message: msgPredictionFail}
	}
	s.metrics.DatabaseOperations.WithLabelValues("create_prediction", "success").Inc()
	s.log.Info("Prediction saved",
		"prediction_id", record.ID.String(),
		"top_disease", preds[0].Disease,
		"confidence", record.ConfidenceScore)

	id := record.ID
	return &model.PredictionResult{
		Success:         true,
		PredictionID:    &id,
		Predictions:     preds,
		ConfidenceScore: record.ConfidenceScore,
		Message:         s.formatMessage(ctx, preds, record.ConfidenceScore),
	}
}

func (s *Service) symptomIDs(ctx context.Context, names []string) ([]int64, error) {
	symptoms, err := s.catalog.FindSymptomsByName(ctx, names)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, 0, len(symptoms))
	for _, sym := range symptoms {
		ids = append(ids, sym.ID)
	}
	return ids, nil
}

// Explain returns the descriptive metadata of an active disease.
func (s *Service) Explain(ctx context.Context, disease string) (*model.DiseaseInfo, bool) {
	name := ml.NormalizeName(disease)
	if v, ok := s.info.Get(name); ok {
		return v.(*model.DiseaseInfo), true
	}

	d, err := s.catalog.GetActiveDiseaseByName(ctx, name)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			s.log.Error(err, "Failed to get disease info", "disease", name)
		}
		return nil, false
	}
	info := model.NewDiseaseInfo(d)
	s.info.SetDefault(name, info)
	return info, true
}

// RecordFeedback stores the user's verdict on a prediction. A comment or
// rating also writes the detailed feedback row, rating defaulting to 3.
// Unknown ids return false and write nothing.
func (s *Service) RecordFeedback(ctx context.Context, predictionID uuid.UUID, kind model.FeedbackKind, comment string, rating int) bool {
	if !kind.Valid() {
		s.log.Warn("Rejected feedback", "prediction_id", predictionID.String(), "feedback", string(kind))
		return false
	}
	if rating < 0 || rating > model.MaxAccuracyRating {
		s.log.Warn("Rejected feedback rating", "prediction_id", predictionID.String(), "rating", rating)
		return false
	}

	var detail *model.PredictionFeedback
	if comment = strings.TrimSpace(comment); comment != "" || rating != 0 {
		if rating == 0 {
			rating = defaultRating
		}
		detail = &model.PredictionFeedback{
			PredictionID:          predictionID,
			AccuracyRating:        rating,
			SuggestedImprovements: comment,
		}
	}

	event, err := model.NewOutboxEvent(model.EventPredictionFeedback, model.PredictionFeedbackPayload{
		PredictionID:   predictionID,
		Feedback:       kind,
		AccuracyRating: rating,
		HasComment:     comment != "",
	})
	if err != nil {
		s.log.Error(err, "Failed to build feedback event")
		return false
	}

	if err := s.repo.SetFeedback(ctx, predictionID, kind, detail, event); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.log.Warn("Feedback for unknown prediction", "prediction_id", predictionID.String())
		} else {
			s.log.Error(err, "Failed to save feedback", "prediction_id", predictionID.String())
		}
		return false
	}
	s.metrics.Feedback.WithLabelValues(string(kind)).Inc()
	return true
}

// VerifyPrediction records a clinician's review of a prediction.
func (s *Service) VerifyPrediction(ctx context.Context, predictionID uuid.UUID, req *model.VerifyRequest) error {
	var detail *model.PredictionFeedback
	if req.ActualDiagnosis != "" || req.DoctorNotes != "" {
		detail = &model.PredictionFeedback{
			PredictionID:    predictionID,
			AccuracyRating:  s.currentRating(ctx, predictionID),
			ActualDiagnosis: strings.TrimSpace(req.ActualDiagnosis),
			DoctorNotes:     strings.TrimSpace(req.DoctorNotes),
		}
	}
	event, err := model.NewOutboxEvent(model.EventPredictionVerified, model.PredictionVerifiedPayload{
		PredictionID:    predictionID,
		Verified:        req.Verified,
		ActualDiagnosis: req.ActualDiagnosis,
	})
	if err != nil {
		return err
	}
	if err := s.repo.SetDoctorVerified(ctx, predictionID, req.Verified, detail, event); err != nil {
		return err
	}
	s.metrics.Feedback.WithLabelValues("doctor_verified").Inc()
	return nil
}

// currentRating keeps the user's rating when a clinician adds notes, and
// falls back to the mid-scale default for a new feedback row.
func (s *Service) currentRating(ctx context.Context, predictionID uuid.UUID) int {
	fb, err := s.repo.GetFeedback(ctx, predictionID)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			s.log.Warn("Failed to read feedback rating", "prediction_id", predictionID.String(), "error", err.Error())
		}
		return defaultRating
	}
	if fb.AccuracyRating < model.MinAccuracyRating || fb.AccuracyRating > model.MaxAccuracyRating {
		return defaultRating
	}
	return fb.AccuracyRating
}

func (s *Service) GetPrediction(ctx context.Context, id uuid.UUID) (*model.PredictionRecord, error) {
	return s.repo.Get(ctx, id)
}

func (s *Service) ListPredictions(ctx context.Context, filters *model.PredictionFilters) ([]*model.PredictionRecord, int, error) {
	return s.repo.List(ctx, filters)
}

// Train retrains the model from the current catalog and drops cached
// results and disease info, so deactivated diseases stop being explained.
func (s *Service) Train(ctx context.Context) (*TrainReport, error) {
	report, err := s.classifier.Train(ctx)
	if err != nil {
		return nil, err
	}
	s.results.Purge()
	s.info.Flush()
	return report, nil
}

// Accuracy evaluates the loaded model on the current catalog, 0 without one.
func (s *Service) Accuracy(ctx context.Context) float64 {
	return s.classifier.Accuracy(ctx)
}

func (s *Service) Manifest(ctx context.Context) (*ml.Manifest, bool) {
	if !s.classifier.EnsureLoaded(ctx) {
		return nil, false
	}
	return s.classifier.Manifest()
}

// normalizeSymptoms trims, NFC-normalises, de-duplicates and sorts names so
// that equal symptom sets share one cache entry.
func normalizeSymptoms(symptoms []string) []string {
	seen := make(map[string]struct{}, len(symptoms))
	out := make([]string, 0, len(symptoms))
	for _, s := range symptoms {
		name := ml.NormalizeName(s)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func copyPredictions(in []model.DiseaseProbability) []model.DiseaseProbability {
	if in == nil {
		return nil
	}
	return append([]model.DiseaseProbability(nil), in...)
}
