package ml

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Status tags the outcome of a prediction.
type Status string

const (
	StatusOK          Status = "ok"
	StatusEmpty       Status = "empty"
	StatusUnavailable Status = "unavailable"
	StatusFault       Status = "fault"
)

// Result is the outcome of ModelContext.Predict. Predictions always holds a
// list a client can display; Status and Err tell why it looks the way it does.
type Result struct {
	Status      Status
	Predictions []LabelPrediction
	Err         error
}

// ModelContext is an immutable snapshot of everything a prediction needs.
// Swapping models means building a new ModelContext.
type ModelContext struct {
	Name          string
	Predictor     Predictor
	Labels        []string
	Vectorizer    Vectorizer
	DecodeOptions DecodeOptions
	LoadedAt      time.Time

	lease lease
}

// lease counts the holders of a context handed out by a Registry. A retired
// context is closed when its last holder releases it.
type lease struct {
	mu      sync.Mutex
	refs    int
	retired bool
	closed  bool
}

// Ready reports whether the context can produce predictions.
func (mc *ModelContext) Ready() bool {
	return mc != nil && mc.Predictor != nil && len(mc.Labels) > 0
}

// Predict vectorizes seq, runs the predictor and decodes its output. A nil or
// incomplete context yields StatusUnavailable with the Unavailable list.
// Predictor failures yield StatusFault with the PredictionError list.
func (mc *ModelContext) Predict(ctx context.Context, seq string) Result {
	if !mc.Ready() {
		return Result{Status: StatusUnavailable, Predictions: Unavailable(), Err: ErrPredictorUnavailable}
	}

	vectorizer := mc.Vectorizer
	if vectorizer == nil {
		vectorizer = DefaultVectorizer
	}
	features := vectorizer.Vectorize(seq)

	out, err := mc.run(ctx, features)
	if err != nil {
		err = fmt.Errorf("model %s: %w", mc.Name, err)
		return Result{Status: StatusFault, Predictions: PredictionError(err), Err: err}
	}

	preds := Decode(mc.Labels, out, mc.DecodeOptions)
	if len(preds) == 0 {
		return Result{Status: StatusEmpty, Predictions: preds}
	}
	return Result{Status: StatusOK, Predictions: preds}
}

func (mc *ModelContext) run(ctx context.Context, features FeatureVector) (PredictorOutput, error) {
	var out PredictorOutput
	if op, ok := mc.Predictor.(OutputPredictor); ok {
		var err error
		if out, err = op.PredictOutput(ctx, features); err != nil {
			return out, err
		}
		if len(out.Binary) == 0 {
			return out, fmt.Errorf("%w: empty binary matrix", ErrShape)
		}
		return out, nil
	}
	if pp, ok := mc.Predictor.(ProbabilityPredictor); ok {
		proba, err := pp.PredictProba(ctx, features)
		if err != nil {
			return out, err
		}
		out.Proba = proba
	}
	binary, err := mc.Predictor.Predict(ctx, features)
	if err != nil {
		return out, err
	}
	if len(binary) == 0 {
		return out, fmt.Errorf("%w: empty binary matrix", ErrShape)
	}
	out.Binary = binary
	return out, nil
}

// Release returns a context obtained from Registry.Context. The predictor of
// a context the registry has since replaced is closed by its last Release.
func (mc *ModelContext) Release() error {
	if mc == nil {
		return nil
	}
	mc.lease.mu.Lock()
	defer mc.lease.mu.Unlock()
	if mc.lease.refs > 0 {
		mc.lease.refs--
	}
	if mc.lease.retired && mc.lease.refs == 0 {
		return mc.closeLocked()
	}
	return nil
}

// acquire takes a reference unless the context was already retired.
func (mc *ModelContext) acquire() bool {
	mc.lease.mu.Lock()
	defer mc.lease.mu.Unlock()
	if mc.lease.retired {
		return false
	}
	mc.lease.refs++
	return true
}

// retire marks mc as replaced and closes it if nobody holds it.
func (mc *ModelContext) retire() error {
	mc.lease.mu.Lock()
	defer mc.lease.mu.Unlock()
	mc.lease.retired = true
	if mc.lease.refs > 0 {
		return nil
	}
	return mc.closeLocked()
}

// Close releases native resources held by the predictor, regardless of
// holders.
func (mc *ModelContext) Close() error {
	if mc == nil {
		return nil
	}
	mc.lease.mu.Lock()
	defer mc.lease.mu.Unlock()
	mc.lease.retired = true
	return mc.closeLocked()
}

func (mc *ModelContext) closeLocked() error {
	if mc.lease.closed {
		return nil
	}
	mc.lease.closed = true
	if c, ok := mc.Predictor.(Closer); ok {
		return c.Close()
	}
	return nil
}
