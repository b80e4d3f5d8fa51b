package ml

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTreeFitPredict(t *testing.T) {
	features := [][]float64{
		{0.1, 0.2},
		{0.2, 0.1},
		{0.9, 0.8},
		{0.8, 0.9},
	}
	labels := []int{0, 0, 1, 1}
	weights := []float64{1, 1, 1, 1}

	tree, err := fitTree(features, labels, weights, allRows(4), treeParams{
		maxDepth:        3,
		minSamplesSplit: 2,
		minSamplesLeaf:  1,
		maxFeatures:     2,
		nClasses:        2,
	}, newTestRand())
	require.NoError(t, err)

	dist, err := tree.Predict([]float64{0.15, 0.15})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0}, dist)

	dist, err = tree.Predict([]float64{0.85, 0.85})
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1}, dist)
}

func TestGini(t *testing.T) {
	assert.Equal(t, 0.0, gini([]float64{3, 0}))
	assert.InDelta(t, 0.5, gini([]float64{2, 2}), 1e-12)
	assert.Equal(t, 0.0, gini([]float64{0, 0}))
}

func TestForestPredictProbaIsDistribution(t *testing.T) {
	ds, err := wideCatalog().build(DatasetOptions{})
	require.NoError(t, err)

	forest, err := TrainForest(ds.Features, ds.Labels, DefaultForestParams())
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta", "gamma"}, forest.Classes)
	assert.Len(t, forest.Trees, 50)

	for _, row := range ds.Features {
		proba, err := forest.PredictProba(row)
		require.NoError(t, err)
		require.Len(t, proba, 3)
		assert.InDelta(t, 1.0, sum(proba), 1e-9)
		for _, p := range proba {
			assert.GreaterOrEqual(t, p, 0.0)
			assert.LessOrEqual(t, p, 1.0)
		}
	}
}

func TestForestRejectsWrongVectorLength(t *testing.T) {
	ds, err := fluThroatCatalog().build(DatasetOptions{})
	require.NoError(t, err)
	forest, err := TrainForest(ds.Features, ds.Labels, DefaultForestParams())
	require.NoError(t, err)

	_, err = forest.PredictProba([]float64{1, 0})
	assert.Error(t, err)
}

func TestForestRequiresTwoClasses(t *testing.T) {
	_, err := TrainForest([][]float64{{0.8}, {0.6}}, []string{"Cảm cúm", "Cảm cúm"}, DefaultForestParams())
	assert.ErrorIs(t, err, ErrInsufficientClasses)
}

func TestForestIsDeterministicForSeed(t *testing.T) {
	ds, err := wideCatalog().build(DatasetOptions{})
	require.NoError(t, err)

	a, err := TrainForest(ds.Features, ds.Labels, DefaultForestParams())
	require.NoError(t, err)
	b, err := TrainForest(ds.Features, ds.Labels, DefaultForestParams())
	require.NoError(t, err)

	ja, err := json.Marshal(a)
	require.NoError(t, err)
	jb, err := json.Marshal(b)
	require.NoError(t, err)
	assert.JSONEq(t, string(ja), string(jb))
}

func TestForestFluThroatRanksBothDiseases(t *testing.T) {
	ds, err := fluThroatCatalog().build(DatasetOptions{})
	require.NoError(t, err)

	forest, err := TrainForest(ds.Features, ds.Labels, DefaultForestParams())
	require.NoError(t, err)

	x, unknown := NewEncoder(ds.SymptomOrder).Encode([]string{"Đau họng", "Sốt"})
	require.Empty(t, unknown)

	proba, err := forest.PredictProba(x)
	require.NoError(t, err)
	require.Len(t, proba, 2)
	assert.Greater(t, proba[0], 0.05, "Cảm cúm")
	assert.Greater(t, proba[1], 0.05, "Viêm họng")
}
