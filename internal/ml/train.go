package ml

import (
	"errors"
	"math"
	"math/rand"
	"sort"
)

type SplitStrategy string

const (
	SplitStratified SplitStrategy = "stratified"
	// SplitFull trains and scores on the same rows, so accuracy is optimistic.
	SplitFull SplitStrategy = "full"
)

// Reasons recorded when the full set is used for training and scoring.
const (
	ReasonBelowSplitThreshold = "dataset smaller than split threshold"
	// A random split would hold out diseases the forest never saw, so the
	// full set is used instead of falling back to an unstratified split.
	ReasonSingletonClass = "some disease has a single row, stratified split impossible; full set used instead of a random split"
)

const (
	defaultTestSize     = 0.2
	defaultMinSplitRows = 10
)

type TrainOptions struct {
	Params       ForestParams
	TestSize     float64
	MinSplitRows int
}

type TrainResult struct {
	Forest    *Forest
	Accuracy  float64
	TrainRows int
	TestRows  int
	Strategy  SplitStrategy
	// FullReason explains why the full set was used, empty for stratified.
	FullReason string
}

// Fit splits the dataset, trains a forest and scores it on the held-out part.
func Fit(ds *Dataset, opts TrainOptions) (*TrainResult, error) {
	if ds == nil || ds.Len() == 0 {
		return nil, ErrNoTrainingData
	}
	if len(ds.Classes()) < 2 {
		return nil, ErrInsufficientClasses
	}
	if opts.TestSize <= 0 || opts.TestSize >= 1 {
		opts.TestSize = defaultTestSize
	}
	if opts.MinSplitRows <= 0 {
		opts.MinSplitRows = defaultMinSplitRows
	}
	params := opts.Params.withDefaults()

	result := &TrainResult{Strategy: SplitFull}
	trainIdx, testIdx := allRows(ds.Len()), allRows(ds.Len())

	switch {
	case ds.Len() < opts.MinSplitRows:
		result.FullReason = ReasonBelowSplitThreshold
	case !stratifiable(ds.Labels):
		result.FullReason = ReasonSingletonClass
	default:
		trainIdx, testIdx = stratifiedSplit(ds.Labels, opts.TestSize, params.Seed)
		result.Strategy = SplitStratified
	}

	trainX, trainY := subset(ds, trainIdx)
	testX, testY := subset(ds, testIdx)

	forest, err := TrainForest(trainX, trainY, params)
	if err != nil {
		return nil, err
	}
	if len(testX) == 0 {
		return nil, errors.New("empty evaluation partition")
	}
	accuracy, err := forest.Score(testX, testY)
	if err != nil {
		return nil, err
	}

	result.Forest = forest
	result.Accuracy = accuracy
	result.TrainRows = len(trainIdx)
	result.TestRows = len(testIdx)
	return result, nil
}

func stratifiable(labels []string) bool {
	counts := make(map[string]int)
	for _, l := range labels {
		counts[l]++
	}
	for _, c := range counts {
		if c < 2 {
			return false
		}
	}
	return true
}

// stratifiedSplit holds out round(testSize*count) rows of every class, always
// keeping at least one row of each class for training.
func stratifiedSplit(labels []string, testSize float64, seed int64) ([]int, []int) {
	rng := rand.New(rand.NewSource(seed))
	byClass := make(map[string][]int)
	for i, l := range labels {
		byClass[l] = append(byClass[l], i)
	}

	var train, test []int
	for _, class := range uniqueSorted(labels) {
		rows := byClass[class]
		rng.Shuffle(len(rows), func(i, j int) { rows[i], rows[j] = rows[j], rows[i] })

		nTest := int(math.Round(float64(len(rows)) * testSize))
		if nTest < 1 {
			nTest = 1
		}
		if nTest > len(rows)-1 {
			nTest = len(rows) - 1
		}
		test = append(test, rows[:nTest]...)
		train = append(train, rows[nTest:]...)
	}
	sort.Ints(train)
	sort.Ints(test)
	return train, test
}

func subset(ds *Dataset, idx []int) ([][]float64, []string) {
	x := make([][]float64, len(idx))
	y := make([]string, len(idx))
	for i, r := range idx {
		x[i] = ds.Features[r]
		y[i] = ds.Labels[r]
	}
	return x, y
}

func allRows(n int) []int {
	idx := make([]int, n)
	for i := range idx {
		idx[i] = i
	}
	return idx
}
