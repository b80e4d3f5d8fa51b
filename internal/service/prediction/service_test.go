package prediction

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/diagnosis-api/internal/ml"
	"github.com/jwalitptl/diagnosis-api/internal/model"
	"github.com/jwalitptl/diagnosis-api/internal/repository"
	"github.com/jwalitptl/diagnosis-api/pkg/logger"
	"github.com/jwalitptl/diagnosis-api/pkg/metrics"
)

// stubClassifier returns fixed probabilities for any recognised input.
type stubClassifier struct {
	labels      []string
	probs       []float64
	known       map[string]bool
	unavailable bool
	scoreCalls  int
	trained     int
}

func (c *stubClassifier) EnsureLoaded(context.Context) bool { return !c.unavailable }
func (c *stubClassifier) Version() string                  { return "v-stub" }

func (c *stubClassifier) Score(_ context.Context, symptoms []string) (*Scores, error) {
	c.scoreCalls++
	scores := &Scores{Labels: c.labels, ModelVersion: "v-stub"}
	for _, s := range symptoms {
		if c.known == nil || c.known[s] {
			scores.Recognized++
		} else {
			scores.Unknown = append(scores.Unknown, s)
		}
	}
	if scores.Recognized > 0 {
		scores.Probabilities = c.probs
	}
	return scores, nil
}

func (c *stubClassifier) Train(context.Context) (*TrainReport, error) {
	c.trained++
	return &TrainReport{Manifest: ml.Manifest{Version: "v-stub"}}, nil
}

func (c *stubClassifier) Accuracy(context.Context) float64 { return 0.5 }

func (c *stubClassifier) Manifest() (*ml.Manifest, bool) {
	return &ml.Manifest{Version: "v-stub"}, true
}

func (c *stubClassifier) Invalidate(string) {}

type fakeCatalog struct {
	symptoms []*model.Symptom
	diseases []*model.Disease
	lookups  int
}

func (c *fakeCatalog) ListSymptoms(context.Context, bool) ([]*model.Symptom, error) {
	return c.symptoms, nil
}
func (c *fakeCatalog) ListDiseases(context.Context, bool) ([]*model.Disease, error) {
	return c.diseases, nil
}
func (c *fakeCatalog) ListAssociations(context.Context) ([]*model.DiseaseSymptom, error) {
	return nil, nil
}

func (c *fakeCatalog) GetActiveDiseaseByName(_ context.Context, name string) (*model.Disease, error) {
	c.lookups++
	for _, d := range c.diseases {
		if d.Name == name && d.IsActive {
			return d, nil
		}
	}
	return nil, repository.ErrNotFound
}

func (c *fakeCatalog) FindSymptomsByName(_ context.Context, names []string) ([]*model.Symptom, error) {
	var out []*model.Symptom
	for _, s := range c.symptoms {
		for _, n := range names {
			if s.Name == n {
				out = append(out, s)
			}
		}
	}
	return out, nil
}

func (c *fakeCatalog) EnsureSymptom(context.Context, *model.Symptom) (bool, error) { return false, nil }
func (c *fakeCatalog) EnsureDisease(context.Context, *model.Disease) (bool, error) { return false, nil }
func (c *fakeCatalog) EnsureAssociation(context.Context, *model.DiseaseSymptom) (bool, error) {
	return false, nil
}

// memPredictions is an in-memory prediction sink.
type memPredictions struct {
	mu        sync.Mutex
	records   map[uuid.UUID]*model.PredictionRecord
	feedback  map[uuid.UUID]*model.PredictionFeedback
	events    []*model.OutboxEvent
	createErr error
}

func newMemPredictions() *memPredictions {
	return &memPredictions{
		records:  make(map[uuid.UUID]*model.PredictionRecord),
		feedback: make(map[uuid.UUID]*model.PredictionFeedback),
	}
}

func (r *memPredictions) Create(_ context.Context, rec *model.PredictionRecord, event *model.OutboxEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	cp := *rec
	r.records[rec.ID] = &cp
	r.events = append(r.events, event)
	return nil
}

func (r *memPredictions) Get(_ context.Context, id uuid.UUID) (*model.PredictionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (r *memPredictions) List(context.Context, *model.PredictionFilters) ([]*model.PredictionRecord, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*model.PredictionRecord
	for _, rec := range r.records {
		out = append(out, rec)
	}
	return out, len(out), nil
}

func (r *memPredictions) GetFeedback(_ context.Context, id uuid.UUID) (*model.PredictionFeedback, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fb, ok := r.feedback[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return fb, nil
}

func (r *memPredictions) SetFeedback(_ context.Context, id uuid.UUID, kind model.FeedbackKind, detail *model.PredictionFeedback, event *model.OutboxEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return repository.ErrNotFound
	}
	if err := checkRating(detail); err != nil {
		return err
	}
	k := kind
	rec.UserFeedback = &k
	if detail != nil {
		r.feedback[id] = detail
	}
	r.events = append(r.events, event)
	return nil
}

func (r *memPredictions) SetDoctorVerified(_ context.Context, id uuid.UUID, verified bool, detail *model.PredictionFeedback, event *model.OutboxEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return repository.ErrNotFound
	}
	if err := checkRating(detail); err != nil {
		return err
	}
	rec.DoctorVerified = verified
	if detail != nil {
		r.feedback[id] = detail
	}
	r.events = append(r.events, event)
	return nil
}

// checkRating mirrors the accuracy_rating column constraint.
func checkRating(detail *model.PredictionFeedback) error {
	if detail == nil {
		return nil
	}
	if detail.AccuracyRating < model.MinAccuracyRating || detail.AccuracyRating > model.MaxAccuracyRating {
		return fmt.Errorf("accuracy_rating %d violates check constraint", detail.AccuracyRating)
	}
	return nil
}

var stubLabels = []string{"Cảm cúm", "Sốt xuất huyết", "Trầm cảm", "Viêm họng", "Viêm phế quản", "Đau nửa đầu"}

func lowConfidenceStub() *stubClassifier {
	return &stubClassifier{
		labels: stubLabels,
		probs:  []float64{0.25, 0.18, 0.10, 0.22, 0.21, 0.04},
		known:  map[string]bool{"Sốt": true, "Ho": true, "Đau họng": true},
	}
}

func testCatalog() *fakeCatalog {
	return &fakeCatalog{
		symptoms: []*model.Symptom{
			{ID: 1, Name: "Sốt", IsActive: true},
			{ID: 2, Name: "Ho", IsActive: true},
			{ID: 3, Name: "Đau họng", IsActive: true},
		},
		diseases: []*model.Disease{
			{
				Name:          "Cảm cúm",
				Description:   strings.Repeat("Nhiễm virus cúm ", 10),
				Category:      model.DiseaseCategoryInfection,
				SeverityLevel: model.SeverityLow,
				IsActive:      true,
			},
			{
				Name:          "Viêm họng",
				Description:   "Viêm niêm mạc họng",
				Category:      model.DiseaseCategoryInfection,
				SeverityLevel: model.SeverityMedium,
				IsActive:      true,
			},
			{Name: "Bệnh cũ", Description: "Không còn dùng", IsActive: false},
		},
	}
}

func newTestService(t *testing.T, c Classifier, cat *fakeCatalog, repo *memPredictions) *Service {
	t.Helper()
	svc, err := NewService(c, cat, repo, Config{}, logger.Nop(), metrics.New("test"))
	require.NoError(t, err)
	return svc
}

func TestBandBoundaries(t *testing.T) {
	cases := []struct {
		p    float64
		want model.ConfidenceBand
	}{
		{0.61, model.ConfidenceHigh},
		{0.6, model.ConfidenceMedium},
		{0.31, model.ConfidenceMedium},
		{0.3, model.ConfidenceLow},
		{0.06, model.ConfidenceLow},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, Band(tc.p), "p=%v", tc.p)
	}
}

func TestRankFiltersSortsAndTruncates(t *testing.T) {
	preds := rank(
		[]string{"a", "b", "c", "d", "e", "f", "g"},
		[]float64{0.05, 0.2, 0.2, 0.1, 0.3, 0.07, 0.08},
		0.05, 5,
	)

	require.Len(t, preds, 5)
	var names []string
	for _, p := range preds {
		names = append(names, p.Disease)
	}
	assert.Equal(t, []string{"e", "b", "c", "d", "g"}, names)
	for i := 1; i < len(preds); i++ {
		assert.GreaterOrEqual(t, preds[i-1].Probability, preds[i].Probability)
	}
}

func TestPredictBandsAndOrdering(t *testing.T) {
	svc := newTestService(t, &stubClassifier{
		labels: []string{"Cảm cúm", "Viêm họng", "Đau nửa đầu"},
		probs:  []float64{0.65, 0.31, 0.04},
	}, testCatalog(), newMemPredictions())

	preds := svc.Predict(context.Background(), []string{"Sốt"})

	require.Len(t, preds, 2)
	assert.Equal(t, model.DiseaseProbability{Disease: "Cảm cúm", Probability: 0.65, Confidence: model.ConfidenceHigh}, preds[0])
	assert.Equal(t, model.ConfidenceMedium, preds[1].Confidence)
}

func TestPredictEmptyInputs(t *testing.T) {
	svc := newTestService(t, lowConfidenceStub(), testCatalog(), newMemPredictions())

	for _, input := range [][]string{nil, {}, {"not_a_real_symptom"}, {"  "}} {
		preds := svc.Predict(context.Background(), input)
		assert.NotNil(t, preds)
		assert.Empty(t, preds, "input %q", input)
	}
}

func TestPredictWithoutModel(t *testing.T) {
	stub := lowConfidenceStub()
	stub.unavailable = true
	svc := newTestService(t, stub, testCatalog(), newMemPredictions())

	assert.Empty(t, svc.Predict(context.Background(), []string{"Sốt"}))
	assert.Zero(t, stub.scoreCalls)
}

func TestPredictCachesBySymptomSet(t *testing.T) {
	stub := lowConfidenceStub()
	svc := newTestService(t, stub, testCatalog(), newMemPredictions())

	first := svc.Predict(context.Background(), []string{"Sốt", "Ho"})
	second := svc.Predict(context.Background(), []string{" Ho", "Sốt", "Ho"})

	assert.Equal(t, first, second)
	assert.Equal(t, 1, stub.scoreCalls)

	second[0].Disease = "mutated"
	assert.Equal(t, "Cảm cúm", svc.Predict(context.Background(), []string{"Sốt", "Ho"})[0].Disease)
}

func TestPredictAndRecordLowConfidence(t *testing.T) {
	repo := newMemPredictions()
	svc := newTestService(t, lowConfidenceStub(), testCatalog(), repo)

	result := svc.PredictAndRecord(context.Background(), "session-1", []string{"Sốt", "Đau họng"})

	require.True(t, result.Success)
	require.NotNil(t, result.PredictionID)
	assert.Equal(t, 0.25, result.ConfidenceScore)
	assert.Len(t, result.Predictions, 5)
	assert.Equal(t, model.ConfidenceLow, result.Predictions[0].Confidence)
	assert.Contains(t, result.Message, "⚠️ **Độ tin cậy: Thấp**")
	assert.Contains(t, result.Message, "Đây chỉ là dự đoán hỗ trợ, không thay thế chẩn đoán của bác sĩ")
	assert.Contains(t, result.Message, "**1. Cảm cúm** (25.0%)")
	assert.Contains(t, result.Message, "**2. Viêm họng** (22.0%)")
	assert.Contains(t, result.Message, "**3. Viêm phế quản** (21.0%)")
	assert.NotContains(t, result.Message, "Sốt xuất huyết")

	rec, err := repo.Get(context.Background(), *result.PredictionID)
	require.NoError(t, err)
	assert.Equal(t, "session-1", rec.SessionRef)
	assert.Equal(t, []string{"Sốt", "Đau họng"}, rec.Symptoms)
	assert.ElementsMatch(t, []int64{1, 3}, rec.SymptomIDs)
	assert.Equal(t, "v-stub", rec.ModelVersion)
	assert.Equal(t, model.PredictionStateCreated, rec.State())

	require.Len(t, repo.events, 1)
	assert.Equal(t, model.EventPredictionCreated, repo.events[0].EventType)
}

func TestPredictAndRecordMessageFormat(t *testing.T) {
	svc := newTestService(t, &stubClassifier{
		labels: []string{"Viêm họng", "Y"},
		probs:  []float64{0.7, 0.3},
	}, testCatalog(), newMemPredictions())

	result := svc.PredictAndRecord(context.Background(), "", []string{"Ho"})

	want := "🔍 **Kết quả dự đoán:**\n\n" +
		"**1. Viêm họng** (70.0%)\n" +
		"📝 Viêm niêm mạc họng...\n" +
		"⚠️ Mức độ: Trung bình\n\n" +
		"**2. Y** (30.0%)\n" +
		"✅ **Độ tin cậy: Cao**\n" +
		"\n⚠️ **Lưu ý quan trọng:**\n" +
		"• Đây chỉ là dự đoán hỗ trợ, không thay thế chẩn đoán của bác sĩ\n" +
		"• Vui lòng đặt lịch khám để được chẩn đoán chính xác\n" +
		"• Nếu triệu chứng nghiêm trọng, hãy đến bệnh viện ngay"
	require.True(t, result.Success)
	assert.Equal(t, want, result.Message)
}

func TestFormatMessageTruncatesDescription(t *testing.T) {
	svc := newTestService(t, lowConfidenceStub(), testCatalog(), newMemPredictions())

	msg := svc.formatMessage(context.Background(), []model.DiseaseProbability{{Disease: "Cảm cúm", Probability: 0.5}}, 0.5)

	desc := []rune(strings.Repeat("Nhiễm virus cúm ", 10))
	assert.Contains(t, msg, "📝 "+string(desc[:100])+"...\n")
	assert.Contains(t, msg, "⚡ **Độ tin cậy: Trung bình**\n")
	assert.Equal(t, msgNoDisease, svc.formatMessage(context.Background(), nil, 0))
}

func TestPredictAndRecordNothingToStore(t *testing.T) {
	repo := newMemPredictions()
	svc := newTestService(t, lowConfidenceStub(), testCatalog(), repo)

	result := svc.PredictAndRecord(context.Background(), "s", []string{"không rõ"})

	assert.False(t, result.Success)
	assert.Nil(t, result.PredictionID)
	assert.Equal(t, msgNoPrediction, result.Message)
	assert.Empty(t, repo.records)
	assert.Empty(t, repo.events)
}

func TestPredictAndRecordPersistenceFailure(t *testing.T) {
	repo := newMemPredictions()
	repo.createErr = errors.New("db down")
	svc := newTestService(t, lowConfidenceStub(), testCatalog(), repo)

	result := svc.PredictAndRecord(context.Background(), "s", []string{"Sốt"})

	assert.False(t, result.Success)
	assert.Equal(t, msgPredictionFail, result.Message)
}

func TestFailureMessagesSuggestAppointment(t *testing.T) {
	for _, msg := range []string{msgNoPrediction, msgPredictionFail, msgNoDisease} {
		assert.Contains(t, msg, "đặt lịch khám")
	}
}

func TestRecordFeedbackUnknownID(t *testing.T) {
	repo := newMemPredictions()
	svc := newTestService(t, lowConfidenceStub(), testCatalog(), repo)

	ok := svc.RecordFeedback(context.Background(), uuid.New(), model.FeedbackHelpful, "", 0)

	assert.False(t, ok)
	assert.Empty(t, repo.records)
	assert.Empty(t, repo.feedback)
	assert.Empty(t, repo.events)
}

func TestRecordFeedbackLastWriteWins(t *testing.T) {
	repo := newMemPredictions()
	svc := newTestService(t, lowConfidenceStub(), testCatalog(), repo)
	result := svc.PredictAndRecord(context.Background(), "s", []string{"Sốt", "Ho"})
	require.True(t, result.Success)
	id := *result.PredictionID
	before, err := repo.Get(context.Background(), id)
	require.NoError(t, err)

	require.True(t, svc.RecordFeedback(context.Background(), id, model.FeedbackHelpful, "", 0))
	require.True(t, svc.RecordFeedback(context.Background(), id, model.FeedbackNotHelpful, "", 0))

	after, err := repo.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, model.PredictionStateFeedbackGiven, after.State())
	require.NotNil(t, after.UserFeedback)
	assert.Equal(t, model.FeedbackNotHelpful, *after.UserFeedback)
	assert.Equal(t, before.Symptoms, after.Symptoms)
	assert.Equal(t, before.Predictions, after.Predictions)
	assert.Equal(t, before.ConfidenceScore, after.ConfidenceScore)
	assert.Empty(t, repo.feedback)
}

func TestRecordFeedbackWithComment(t *testing.T) {
	repo := newMemPredictions()
	svc := newTestService(t, lowConfidenceStub(), testCatalog(), repo)
	result := svc.PredictAndRecord(context.Background(), "s", []string{"Sốt"})
	id := *result.PredictionID

	require.True(t, svc.RecordFeedback(context.Background(), id, model.FeedbackSomewhat, " gần đúng ", 0))

	fb, err := repo.GetFeedback(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 3, fb.AccuracyRating)
	assert.Equal(t, "gần đúng", fb.SuggestedImprovements)
	assert.Equal(t, model.EventPredictionFeedback, repo.events[len(repo.events)-1].EventType)
}

func TestRecordFeedbackRejectsInvalidInput(t *testing.T) {
	repo := newMemPredictions()
	svc := newTestService(t, lowConfidenceStub(), testCatalog(), repo)
	result := svc.PredictAndRecord(context.Background(), "s", []string{"Sốt"})
	id := *result.PredictionID

	assert.False(t, svc.RecordFeedback(context.Background(), id, model.FeedbackKind("great"), "", 0))
	assert.False(t, svc.RecordFeedback(context.Background(), id, model.FeedbackHelpful, "", 6))

	rec, err := repo.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Nil(t, rec.UserFeedback)
}

func TestVerifyPrediction(t *testing.T) {
	repo := newMemPredictions()
	svc := newTestService(t, lowConfidenceStub(), testCatalog(), repo)
	result := svc.PredictAndRecord(context.Background(), "s", []string{"Sốt"})
	id := *result.PredictionID

	err := svc.VerifyPrediction(context.Background(), id, &model.VerifyRequest{Verified: true, ActualDiagnosis: "Viêm họng"})

	require.NoError(t, err)
	rec, _ := repo.Get(context.Background(), id)
	assert.True(t, rec.DoctorVerified)
	assert.Equal(t, "Viêm họng", repo.feedback[id].ActualDiagnosis)

	err = svc.VerifyPrediction(context.Background(), uuid.New(), &model.VerifyRequest{Verified: true})
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestExplainCachesActiveDiseases(t *testing.T) {
	cat := testCatalog()
	svc := newTestService(t, lowConfidenceStub(), cat, newMemPredictions())

	info, ok := svc.Explain(context.Background(), "Viêm họng")
	require.True(t, ok)
	assert.Equal(t, "Nhiễm trùng", info.Category)
	assert.Equal(t, "Trung bình", info.Severity)

	_, ok = svc.Explain(context.Background(), "Viêm họng")
	assert.True(t, ok)
	assert.Equal(t, 1, cat.lookups)

	_, ok = svc.Explain(context.Background(), "Bệnh cũ")
	assert.False(t, ok)
	_, ok = svc.Explain(context.Background(), "Không tồn tại")
	assert.False(t, ok)
}

func TestTrainDropsDeactivatedDiseaseInfo(t *testing.T) {
	cat := testCatalog()
	svc := newTestService(t, lowConfidenceStub(), cat, newMemPredictions())
	_, ok := svc.Explain(context.Background(), "Viêm họng")
	require.True(t, ok)

	for _, d := range cat.diseases {
		if d.Name == "Viêm họng" {
			d.IsActive = false
		}
	}
	_, err := svc.Train(context.Background())
	require.NoError(t, err)

	_, ok = svc.Explain(context.Background(), "Viêm họng")
	assert.False(t, ok)
}

func TestTrainPurgesResultCache(t *testing.T) {
	stub := lowConfidenceStub()
	svc := newTestService(t, stub, testCatalog(), newMemPredictions())
	svc.Predict(context.Background(), []string{"Sốt"})

	_, err := svc.Train(context.Background())
	require.NoError(t, err)
	svc.Predict(context.Background(), []string{"Sốt"})

	assert.Equal(t, 1, stub.trained)
	assert.Equal(t, 2, stub.scoreCalls)
}

func TestPredictWithTrainedModel(t *testing.T) {
	c := newTestClassifier(t, t.TempDir(), &staticCatalog{snap: fluSnapshot()}, nil)
	svc := newTestService(t, c, testCatalog(), newMemPredictions())

	preds := svc.Predict(context.Background(), []string{"Đau họng", "Sốt"})

	require.Len(t, preds, 2)
	names := []string{preds[0].Disease, preds[1].Disease}
	assert.ElementsMatch(t, []string{"Cảm cúm", "Viêm họng"}, names)
	for _, p := range preds {
		assert.Greater(t, p.Probability, 0.05)
		assert.Equal(t, Band(p.Probability), p.Confidence)
	}
}

func TestPredictSingleDiseaseCatalog(t *testing.T) {
	c := newTestClassifier(t, t.TempDir(), &staticCatalog{snap: singleDiseaseSnapshot()}, nil)
	svc := newTestService(t, c, testCatalog(), newMemPredictions())

	_, err := svc.Train(context.Background())
	assert.Error(t, err)
	assert.Empty(t, svc.Predict(context.Background(), []string{"Sốt"}))
	assert.Zero(t, svc.Accuracy(context.Background()))
}

func TestVerifyPredictionWithNotesStoresValidRating(t *testing.T) {
	repo := newMemPredictions()
	svc := newTestService(t, lowConfidenceStub(), testCatalog(), repo)
	id := *svc.PredictAndRecord(context.Background(), "s", []string{"Sốt"}).PredictionID

	err := svc.VerifyPrediction(context.Background(), id, &model.VerifyRequest{
		Verified:        true,
		ActualDiagnosis: "Viêm họng",
		DoctorNotes:     "ok",
	})

	require.NoError(t, err)
	fb := repo.feedback[id]
	require.NotNil(t, fb)
	assert.Equal(t, 3, fb.AccuracyRating)
	assert.Equal(t, "ok", fb.DoctorNotes)
}

func TestVerifyPredictionKeepsUserRating(t *testing.T) {
	repo := newMemPredictions()
	svc := newTestService(t, lowConfidenceStub(), testCatalog(), repo)
	id := *svc.PredictAndRecord(context.Background(), "s", []string{"Sốt"}).PredictionID
	require.True(t, svc.RecordFeedback(context.Background(), id, model.FeedbackHelpful, "", 5))

	err := svc.VerifyPrediction(context.Background(), id, &model.VerifyRequest{Verified: true, DoctorNotes: "khớp"})

	require.NoError(t, err)
	assert.Equal(t, 5, repo.feedback[id].AccuracyRating)
	assert.Equal(t, "khớp", repo.feedback[id].DoctorNotes)
}
