package ml

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// DecisionForest is a one-vs-rest set of binary decision trees, one per label
// in label order. It is loaded from JSON and only used for inference.
type DecisionForest struct {
	K     int            `json:"k,omitempty"`
	Dim   int            `json:"dim,omitempty"`
	Trees []DecisionTree `json:"trees"`
}

// DecisionTree is a binary classifier stored as a flat node list, root first.
type DecisionTree struct {
	Label string     `json:"label"`
	Nodes []TreeNode `json:"nodes"`
}

type TreeNode struct {
	FeatureIdx  int     `json:"feature_idx"`
	Threshold   float64 `json:"threshold"`
	LeftChild   int     `json:"left_child"`
	RightChild  int     `json:"right_child"`
	ClassLabel  int     `json:"class_label"`
	Probability float64 `json:"probability"`
	IsLeaf      bool    `json:"is_leaf"`
}

// Leaf walks the tree for features and returns the leaf reached.
func (dt *DecisionTree) Leaf(features []float64) (TreeNode, error) {
	if len(dt.Nodes) == 0 {
		return TreeNode{}, errors.New("empty tree")
	}
	idx := 0
	for steps := 0; steps <= len(dt.Nodes); steps++ {
		node := dt.Nodes[idx]
		if node.IsLeaf {
			return node, nil
		}
		if node.FeatureIdx < 0 || node.FeatureIdx >= len(features) {
			return TreeNode{}, fmt.Errorf("feature index %d out of range", node.FeatureIdx)
		}
		if features[node.FeatureIdx] <= node.Threshold {
			idx = node.LeftChild
		} else {
			idx = node.RightChild
		}
		if idx < 0 || idx >= len(dt.Nodes) {
			return TreeNode{}, errors.New("invalid tree state")
		}
	}
	return TreeNode{}, errors.New("tree contains a cycle")
}

func (f *DecisionForest) Predict(ctx context.Context, features FeatureVector) ([][]int, error) {
	row := make([]int, len(f.Trees))
	for i := range f.Trees {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		leaf, err := f.Trees[i].Leaf(features)
		if err != nil {
			return nil, fmt.Errorf("tree %d (%s): %w", i, f.Trees[i].Label, err)
		}
		if leaf.ClassLabel == 1 {
			row[i] = 1
		}
	}
	return [][]int{row}, nil
}

// PredictProba reports the positive-class frequency of each reached leaf in
// the multi-output layout.
func (f *DecisionForest) PredictProba(ctx context.Context, features FeatureVector) (ProbabilitySource, error) {
	proba := make(MultiOutputProba, len(f.Trees))
	for i := range f.Trees {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		leaf, err := f.Trees[i].Leaf(features)
		if err != nil {
			return nil, fmt.Errorf("tree %d (%s): %w", i, f.Trees[i].Label, err)
		}
		proba[i] = [][]float64{{1 - leaf.Probability, leaf.Probability}}
	}
	return proba, nil
}

// Labels returns the tree labels in order.
func (f *DecisionForest) Labels() []string {
	out := make([]string, len(f.Trees))
	for i, t := range f.Trees {
		out[i] = t.Label
	}
	return out
}

// Vectorizer returns the feature parameters the forest was built for.
func (f *DecisionForest) Vectorizer() KmerVectorizer {
	return KmerVectorizer{K: f.K, Dim: f.Dim}
}

func (f *DecisionForest) Save(path string) error {
	if len(f.Trees) == 0 {
		return errors.New("forest has no trees")
	}
	payload, err := json.Marshal(f)
	if err != nil {
		return err
	}
	return os.WriteFile(path, payload, 0o600)
}

func (f *DecisionForest) Load(path string) error {
	payload, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var forest DecisionForest
	if err := json.Unmarshal(payload, &forest); err != nil {
		return err
	}
	if err := forest.validate(); err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	*f = forest
	return nil
}

func (f *DecisionForest) validate() error {
	if len(f.Trees) == 0 {
		return errors.New("forest has no trees")
	}
	for i, t := range f.Trees {
		if len(t.Nodes) == 0 {
			return fmt.Errorf("tree %d has no nodes", i)
		}
		for j, n := range t.Nodes {
			if n.IsLeaf {
				if n.Probability < 0 || n.Probability > 1 {
					return fmt.Errorf("tree %d node %d: probability %v out of range", i, j, n.Probability)
				}
				continue
			}
			if n.LeftChild <= j || n.LeftChild >= len(t.Nodes) || n.RightChild <= j || n.RightChild >= len(t.Nodes) {
				return fmt.Errorf("tree %d node %d: child index out of range", i, j)
			}
			if f.Dim > 0 && n.FeatureIdx >= f.Dim {
				return fmt.Errorf("tree %d node %d: feature %d beyond dim %d", i, j, n.FeatureIdx, f.Dim)
			}
		}
	}
	return nil
}
