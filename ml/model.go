// Package ml turns protein sequences into k-mer features, runs them through a
// loaded multi-label classifier and decodes the output into ranked labels.
package ml

import (
	"context"
	"errors"
)

var (
	ErrPredictorUnavailable = errors.New("predictor or label set not loaded")
	ErrUnknownModel         = errors.New("unknown model")
	ErrShape                = errors.New("predictor output shape mismatch")
)

// Predictor is a loaded classifier. Predict returns a binary matrix with one
// row and one column per label. Implementations must be safe for concurrent
// use.
type Predictor interface {
	Predict(ctx context.Context, features FeatureVector) ([][]int, error)
}

// ProbabilityPredictor is implemented by predictors that also report
// per-label probabilities.
type ProbabilityPredictor interface {
	Predictor
	PredictProba(ctx context.Context, features FeatureVector) (ProbabilitySource, error)
}

// OutputPredictor is implemented by predictors that derive the binary matrix
// and the probabilities from a single inference.
type OutputPredictor interface {
	Predictor
	PredictOutput(ctx context.Context, features FeatureVector) (PredictorOutput, error)
}

// Closer is implemented by predictors holding native resources.
type Closer interface {
	Close() error
}
