package ml

import (
	"errors"
	"math/rand"
	"sort"
)

// TreeNode is one node of a tree stored in pre-order. Leaves carry the
// weighted class distribution of the samples that reached them.
type TreeNode struct {
	FeatureIdx int       `json:"feature_idx"`
	Threshold  float64   `json:"threshold"`
	LeftChild  int       `json:"left_child"`
	RightChild int       `json:"right_child"`
	IsLeaf     bool      `json:"is_leaf"`
	Value      []float64 `json:"value,omitempty"`
}

type Tree struct {
	Nodes []TreeNode `json:"nodes"`
}

type treeParams struct {
	maxDepth        int
	minSamplesSplit int
	minSamplesLeaf  int
	maxFeatures     int
	nClasses        int
}

type treeBuilder struct {
	params   treeParams
	features [][]float64
	labels   []int
	weights  []float64
	rng      *rand.Rand
}

// fitTree grows a tree over the rows in idx, each weighted by weights[row].
// Rows with zero weight are ignored.
func fitTree(features [][]float64, labels []int, weights []float64, idx []int, params treeParams, rng *rand.Rand) (*Tree, error) {
	if len(features) == 0 || len(labels) == 0 {
		return nil, errors.New("features or labels empty")
	}
	if len(features) != len(labels) || len(features) != len(weights) {
		return nil, errors.New("features, labels and weights size mismatch")
	}
	b := &treeBuilder{
		params:   params,
		features: features,
		labels:   labels,
		weights:  weights,
		rng:      rng,
	}
	return &Tree{Nodes: b.build(idx, 0)}, nil
}

func (b *treeBuilder) build(idx []int, depth int) []TreeNode {
	dist := b.distribution(idx)
	leaf := []TreeNode{{FeatureIdx: -1, LeftChild: -1, RightChild: -1, IsLeaf: true, Value: normalize(dist)}}

	if depth >= b.params.maxDepth || len(idx) < b.params.minSamplesSplit || isPure(dist) {
		return leaf
	}

	feature, threshold, ok := b.bestSplit(idx, dist)
	if !ok {
		return leaf
	}

	left, right := partition(b.features, idx, feature, threshold)
	leftNodes := b.build(left, depth+1)
	rightNodes := b.build(right, depth+1)

	root := TreeNode{
		FeatureIdx: feature,
		Threshold:  threshold,
		LeftChild:  1,
		RightChild: 1 + len(leftNodes),
	}

	nodes := make([]TreeNode, 0, 1+len(leftNodes)+len(rightNodes))
	nodes = append(nodes, root)
	nodes = append(nodes, offset(leftNodes, 1)...)
	nodes = append(nodes, offset(rightNodes, 1+len(leftNodes))...)
	return nodes
}

// bestSplit draws features in random order and evaluates at least
// maxFeatures of them, continuing past that only while no valid split has
// been found.
func (b *treeBuilder) bestSplit(idx []int, parent []float64) (int, float64, bool) {
	nFeatures := len(b.features[0])
	order := b.rng.Perm(nFeatures)

	parentWeight := sum(parent)
	parentImpurity := gini(parent)

	bestFeature := -1
	bestThreshold := 0.0
	bestImpurity := parentImpurity

	for visited, feature := range order {
		if visited >= b.params.maxFeatures && bestFeature != -1 {
			break
		}
		for _, threshold := range candidateThresholds(b.features, idx, feature) {
			left, right := partition(b.features, idx, feature, threshold)
			if len(left) < b.params.minSamplesLeaf || len(right) < b.params.minSamplesLeaf {
				continue
			}
			ld := b.distribution(left)
			rd := b.distribution(right)
			lw, rw := sum(ld), sum(rd)
			if lw == 0 || rw == 0 {
				continue
			}
			impurity := (lw/parentWeight)*gini(ld) + (rw/parentWeight)*gini(rd)
			if impurity < bestImpurity {
				bestImpurity = impurity
				bestFeature = feature
				bestThreshold = threshold
			}
		}
	}
	if bestFeature == -1 {
		return -1, 0, false
	}
	return bestFeature, bestThreshold, true
}

func (b *treeBuilder) distribution(idx []int) []float64 {
	dist := make([]float64, b.params.nClasses)
	for _, i := range idx {
		dist[b.labels[i]] += b.weights[i]
	}
	return dist
}

// Predict returns the class distribution of the leaf reached by x.
func (t *Tree) Predict(x []float64) ([]float64, error) {
	if len(t.Nodes) == 0 {
		return nil, errors.New("model not trained")
	}
	idx := 0
	for {
		node := t.Nodes[idx]
		if node.IsLeaf {
			return node.Value, nil
		}
		if node.FeatureIdx < 0 || node.FeatureIdx >= len(x) {
			return nil, errors.New("feature index out of range")
		}
		if x[node.FeatureIdx] <= node.Threshold {
			idx = node.LeftChild
		} else {
			idx = node.RightChild
		}
		if idx < 0 || idx >= len(t.Nodes) {
			return nil, errors.New("invalid tree state")
		}
	}
}

// candidateThresholds returns midpoints between consecutive distinct values.
func candidateThresholds(features [][]float64, idx []int, feature int) []float64 {
	values := make([]float64, 0, len(idx))
	for _, i := range idx {
		values = append(values, features[i][feature])
	}
	sort.Float64s(values)
	var out []float64
	for i := 1; i < len(values); i++ {
		if values[i] > values[i-1] {
			out = append(out, (values[i]+values[i-1])/2)
		}
	}
	return out
}

func partition(features [][]float64, idx []int, feature int, threshold float64) ([]int, []int) {
	left := make([]int, 0, len(idx))
	right := make([]int, 0, len(idx))
	for _, i := range idx {
		if features[i][feature] <= threshold {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	return left, right
}

func offset(nodes []TreeNode, by int) []TreeNode {
	for i := range nodes {
		if nodes[i].IsLeaf {
			continue
		}
		nodes[i].LeftChild += by
		nodes[i].RightChild += by
	}
	return nodes
}

func gini(dist []float64) float64 {
	total := sum(dist)
	if total == 0 {
		return 0
	}
	impurity := 1.0
	for _, w := range dist {
		p := w / total
		impurity -= p * p
	}
	return impurity
}

func isPure(dist []float64) bool {
	nonZero := 0
	for _, w := range dist {
		if w > 0 {
			nonZero++
		}
	}
	return nonZero <= 1
}

func normalize(dist []float64) []float64 {
	out := make([]float64, len(dist))
	total := sum(dist)
	if total == 0 {
		return out
	}
	for i, w := range dist {
		out[i] = w / total
	}
	return out
}

func sum(values []float64) float64 {
	var total float64
	for _, v := range values {
		total += v
	}
	return total
}
