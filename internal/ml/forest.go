package ml

import (
	"errors"
	"fmt"
	"math"
	"math/rand"
)

// ForestParams are the ensemble hyperparameters. Zero values fall back to
// DefaultForestParams.
type ForestParams struct {
	NEstimators     int   `json:"n_estimators"`
	MaxDepth        int   `json:"max_depth"`
	MinSamplesSplit int   `json:"min_samples_split"`
	MinSamplesLeaf  int   `json:"min_samples_leaf"`
	MaxFeatures     int   `json:"max_features,omitempty"`
	Seed            int64 `json:"seed"`
	BalancedWeights bool  `json:"balanced_weights"`
}

func DefaultForestParams() ForestParams {
	return ForestParams{
		NEstimators:     50,
		MaxDepth:        5,
		MinSamplesSplit: 2,
		MinSamplesLeaf:  1,
		Seed:            42,
		BalancedWeights: true,
	}
}

func (p ForestParams) withDefaults() ForestParams {
	def := DefaultForestParams()
	if p.NEstimators <= 0 {
		p.NEstimators = def.NEstimators
	}
	if p.MaxDepth <= 0 {
		p.MaxDepth = def.MaxDepth
	}
	if p.MinSamplesSplit < 2 {
		p.MinSamplesSplit = def.MinSamplesSplit
	}
	if p.MinSamplesLeaf < 1 {
		p.MinSamplesLeaf = def.MinSamplesLeaf
	}
	return p
}

// Forest is a bagged ensemble of Gini trees. Classes is sorted and indexes
// every probability vector the forest returns.
type Forest struct {
	Classes   []string     `json:"classes"`
	NFeatures int          `json:"n_features"`
	Params    ForestParams `json:"params"`
	Trees     []*Tree      `json:"trees"`
}

// TrainForest fits the ensemble. Each tree sees a bootstrap sample of the
// rows and considers sqrt(d) random features per split unless MaxFeatures
// is set.
func TrainForest(features [][]float64, labels []string, params ForestParams) (*Forest, error) {
	if len(features) == 0 || len(features) != len(labels) {
		return nil, errors.New("features and labels must be non-empty and of equal length")
	}
	nFeatures := len(features[0])
	if nFeatures == 0 {
		return nil, errors.New("feature vectors are empty")
	}
	for i, row := range features {
		if len(row) != nFeatures {
			return nil, fmt.Errorf("row %d has %d features, expected %d", i, len(row), nFeatures)
		}
	}

	classes := uniqueSorted(labels)
	if len(classes) < 2 {
		return nil, ErrInsufficientClasses
	}
	p := params.withDefaults()

	classIdx := make(map[string]int, len(classes))
	for i, c := range classes {
		classIdx[c] = i
	}
	y := make([]int, len(labels))
	counts := make([]int, len(classes))
	for i, l := range labels {
		y[i] = classIdx[l]
		counts[y[i]]++
	}

	classWeight := make([]float64, len(classes))
	for c := range classes {
		classWeight[c] = 1.0
		if p.BalancedWeights {
			classWeight[c] = float64(len(labels)) / float64(len(classes)*counts[c])
		}
	}

	maxFeatures := p.MaxFeatures
	if maxFeatures <= 0 || maxFeatures > nFeatures {
		maxFeatures = int(math.Max(1, math.Floor(math.Sqrt(float64(nFeatures)))))
	}

	tp := treeParams{
		maxDepth:        p.MaxDepth,
		minSamplesSplit: p.MinSamplesSplit,
		minSamplesLeaf:  p.MinSamplesLeaf,
		maxFeatures:     maxFeatures,
		nClasses:        len(classes),
	}

	rng := rand.New(rand.NewSource(p.Seed))
	forest := &Forest{
		Classes:   classes,
		NFeatures: nFeatures,
		Params:    p,
		Trees:     make([]*Tree, 0, p.NEstimators),
	}

	n := len(features)
	for t := 0; t < p.NEstimators; t++ {
		treeRng := rand.New(rand.NewSource(rng.Int63()))

		draws := make([]int, n)
		for i := 0; i < n; i++ {
			draws[treeRng.Intn(n)]++
		}
		weights := make([]float64, n)
		idx := make([]int, 0, n)
		for i, c := range draws {
			if c == 0 {
				continue
			}
			weights[i] = float64(c) * classWeight[y[i]]
			idx = append(idx, i)
		}

		tree, err := fitTree(features, y, weights, idx, tp, treeRng)
		if err != nil {
			return nil, fmt.Errorf("tree %d: %w", t, err)
		}
		forest.Trees = append(forest.Trees, tree)
	}

	return forest, nil
}

// PredictProba averages the leaf distributions of all trees.
func (f *Forest) PredictProba(x []float64) ([]float64, error) {
	if f == nil || len(f.Trees) == 0 {
		return nil, errors.New("model not trained")
	}
	if len(x) != f.NFeatures {
		return nil, fmt.Errorf("feature vector has length %d, expected %d", len(x), f.NFeatures)
	}
	proba := make([]float64, len(f.Classes))
	for _, tree := range f.Trees {
		dist, err := tree.Predict(x)
		if err != nil {
			return nil, err
		}
		if len(dist) != len(proba) {
			return nil, errors.New("invalid tree state")
		}
		for i, p := range dist {
			proba[i] += p
		}
	}
	for i := range proba {
		proba[i] /= float64(len(f.Trees))
	}
	return proba, nil
}

// Predict returns the most probable class. Ties go to the earlier class.
func (f *Forest) Predict(x []float64) (string, error) {
	proba, err := f.PredictProba(x)
	if err != nil {
		return "", err
	}
	best := 0
	for i := 1; i < len(proba); i++ {
		if proba[i] > proba[best] {
			best = i
		}
	}
	return f.Classes[best], nil
}

// Score returns the fraction of rows predicted correctly.
func (f *Forest) Score(features [][]float64, labels []string) (float64, error) {
	if len(features) == 0 || len(features) != len(labels) {
		return 0, errors.New("features and labels must be non-empty and of equal length")
	}
	correct := 0
	for i, row := range features {
		pred, err := f.Predict(row)
		if err != nil {
			return 0, err
		}
		if pred == labels[i] {
			correct++
		}
	}
	return float64(correct) / float64(len(features)), nil
}
