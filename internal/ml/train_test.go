package ml

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRand() *rand.Rand {
	return rand.New(rand.NewSource(42))
}

func TestFitSmallDatasetUsesFullSet(t *testing.T) {
	ds, err := fluThroatCatalog().build(DatasetOptions{})
	require.NoError(t, err)

	res, err := Fit(ds, TrainOptions{Params: DefaultForestParams()})
	require.NoError(t, err)

	assert.Equal(t, SplitFull, res.Strategy)
	assert.Equal(t, ReasonBelowSplitThreshold, res.FullReason)
	assert.Equal(t, 2, res.TrainRows)
	assert.Equal(t, 2, res.TestRows)
	assert.GreaterOrEqual(t, res.Accuracy, 0.0)
	assert.LessOrEqual(t, res.Accuracy, 1.0)
}

func TestFitSingletonClassesUseFullSet(t *testing.T) {
	ds := &Dataset{SymptomOrder: make([]string, 10)}
	for i := 0; i < 10; i++ {
		row := make([]float64, 10)
		row[i] = 1
		ds.Features = append(ds.Features, row)
		ds.Labels = append(ds.Labels, string(rune('a'+i)))
	}

	res, err := Fit(ds, TrainOptions{Params: DefaultForestParams()})
	require.NoError(t, err)

	assert.Equal(t, SplitFull, res.Strategy)
	assert.Equal(t, ReasonSingletonClass, res.FullReason)
	assert.Contains(t, res.FullReason, "instead of a random split")
	assert.Equal(t, 10, res.TestRows)
}

func TestFitStratifiedSplit(t *testing.T) {
	ds, err := wideCatalog().build(DatasetOptions{})
	require.NoError(t, err)
	require.Equal(t, 12, ds.Len())

	res, err := Fit(ds, TrainOptions{Params: DefaultForestParams()})
	require.NoError(t, err)

	assert.Equal(t, SplitStratified, res.Strategy)
	assert.Empty(t, res.FullReason)
	// round(4*0.2) = 1 held-out row per label.
	assert.Equal(t, 3, res.TestRows)
	assert.Equal(t, 9, res.TrainRows)
	assert.Equal(t, []string{"alpha", "beta", "gamma"}, res.Forest.Classes)
}

func TestFitFallsBackWhenClassHasSingleRow(t *testing.T) {
	labels := []string{"a", "a", "b", "b", "c", "c", "d", "d", "e", "f"}
	features := make([][]float64, len(labels))
	for i := range features {
		features[i] = []float64{float64(i) / 10, float64(len(labels)-i) / 10}
	}
	ds := &Dataset{SymptomOrder: []string{"x", "y"}, Features: features, Labels: labels}

	res, err := Fit(ds, TrainOptions{})
	require.NoError(t, err)

	assert.Equal(t, SplitFull, res.Strategy)
	assert.Equal(t, len(labels), res.TrainRows)
	assert.Len(t, res.Forest.Classes, 6)
}

func TestFitRequiresTwoLabels(t *testing.T) {
	ds := &Dataset{SymptomOrder: []string{"Sốt"}, Features: [][]float64{{0.8}}, Labels: []string{"Cảm cúm"}}

	_, err := Fit(ds, TrainOptions{})
	assert.ErrorIs(t, err, ErrInsufficientClasses)

	_, err = Fit(&Dataset{}, TrainOptions{})
	assert.ErrorIs(t, err, ErrNoTrainingData)
}

func TestStratifiedSplitKeepsLabelShares(t *testing.T) {
	labels := []string{"a", "a", "a", "a", "a", "b", "b", "b", "b", "b"}

	train, test := stratifiedSplit(labels, 0.2, 42)

	assert.Len(t, train, 8)
	assert.Len(t, test, 2)
	counts := map[string]int{}
	for _, i := range test {
		counts[labels[i]]++
	}
	assert.Equal(t, map[string]int{"a": 1, "b": 1}, counts)
}
