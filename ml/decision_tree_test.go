package ml

import (
	"context"
	"path/filepath"
	"testing"
)

// stumpForest splits on slot 0: at most one occurrence goes left.
func stumpForest() *DecisionForest {
	stump := func(label string, left, right TreeNode) DecisionTree {
		return DecisionTree{Label: label, Nodes: []TreeNode{
			{FeatureIdx: 0, Threshold: 1, LeftChild: 1, RightChild: 2},
			left,
			right,
		}}
	}
	return &DecisionForest{K: 3, Dim: 16, Trees: []DecisionTree{
		stump("repeat-rich",
			TreeNode{IsLeaf: true, ClassLabel: 0, Probability: 0.1},
			TreeNode{IsLeaf: true, ClassLabel: 1, Probability: 0.9}),
		stump("unique",
			TreeNode{IsLeaf: true, ClassLabel: 1, Probability: 0.7},
			TreeNode{IsLeaf: true, ClassLabel: 0, Probability: 0.2}),
	}}
}

func TestDecisionForestPredict(t *testing.T) {
	forest := stumpForest()
	ctx := context.Background()

	binary, err := forest.Predict(ctx, Vectorize("AAAAA", 3, 16))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if binary[0][0] != 1 || binary[0][1] != 0 {
		t.Fatalf("unexpected binary %v", binary)
	}

	proba, err := forest.PredictProba(ctx, Vectorize("MKVLQ", 3, 16))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	multi, ok := proba.(MultiOutputProba)
	if !ok || len(multi) != 2 {
		t.Fatalf("unexpected proba %#v", proba)
	}
	if multi[0][0][1] != 0.1 || multi[1][0][1] != 0.7 {
		t.Fatalf("unexpected positive probabilities %v", multi)
	}
}

func TestDecisionForestFeatureOutOfRange(t *testing.T) {
	forest := stumpForest()
	if _, err := forest.Predict(context.Background(), FeatureVector{}); err == nil {
		t.Fatal("expected out of range error")
	}
}

func TestDecisionForestSaveLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "forest.json")
	if err := stumpForest().Save(path); err != nil {
		t.Fatalf("save: %v", err)
	}
	var loaded DecisionForest
	if err := loaded.Load(path); err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := loaded.Labels(); len(got) != 2 || got[0] != "repeat-rich" || got[1] != "unique" {
		t.Fatalf("unexpected labels %v", got)
	}
	if loaded.Vectorizer() != (KmerVectorizer{K: 3, Dim: 16}) {
		t.Fatalf("unexpected vectorizer %+v", loaded.Vectorizer())
	}
}

func TestDecisionForestRejectsBrokenTrees(t *testing.T) {
	tests := []struct {
		name   string
		forest DecisionForest
	}{
		{name: "no trees", forest: DecisionForest{}},
		{name: "empty tree", forest: DecisionForest{Trees: []DecisionTree{{Label: "x"}}}},
		{name: "backward child", forest: DecisionForest{Trees: []DecisionTree{{Label: "x", Nodes: []TreeNode{
			{FeatureIdx: 0, LeftChild: 0, RightChild: 1},
			{IsLeaf: true},
		}}}}},
		{name: "feature beyond dim", forest: DecisionForest{Dim: 4, Trees: []DecisionTree{{Label: "x", Nodes: []TreeNode{
			{FeatureIdx: 9, LeftChild: 1, RightChild: 2},
			{IsLeaf: true},
			{IsLeaf: true},
		}}}}},
		{name: "bad probability", forest: DecisionForest{Trees: []DecisionTree{{Label: "x", Nodes: []TreeNode{
			{IsLeaf: true, Probability: 1.5},
		}}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.forest.validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
