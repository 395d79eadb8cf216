package ml

import (
	"context"
	"errors"
	"fmt"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// OnnxOptions configures the ONNX Runtime backend.
type OnnxOptions struct {
	// SharedLibrary is the path of the onnxruntime shared library. Empty uses
	// the platform default lookup.
	SharedLibrary string
	InputName     string
	OutputName    string
	Dim           int
	Labels        int
	// BinaryThreshold turns output probabilities into the binary matrix.
	BinaryThreshold float64
}

var ortMu sync.Mutex

func initOrt(lib string) error {
	ortMu.Lock()
	defer ortMu.Unlock()
	if ort.IsInitialized() {
		return nil
	}
	if lib != "" {
		ort.SetSharedLibraryPath(lib)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("initialize onnxruntime: %w", err)
	}
	return nil
}

// OnnxPredictor runs a model exported with one float input [1, dim] and one
// probability output [1, labels].
type OnnxPredictor struct {
	session *ort.DynamicAdvancedSession
	opts    OnnxOptions
	mu      sync.RWMutex
}

func NewOnnxPredictor(path string, opts OnnxOptions) (*OnnxPredictor, error) {
	if opts.InputName == "" {
		opts.InputName = "input"
	}
	if opts.OutputName == "" {
		opts.OutputName = "probabilities"
	}
	if opts.Dim <= 0 {
		opts.Dim = DefaultDim
	}
	if opts.BinaryThreshold <= 0 {
		opts.BinaryThreshold = 0.5
	}
	if opts.Labels <= 0 {
		return nil, errors.New("onnx: label count required")
	}
	if err := initOrt(opts.SharedLibrary); err != nil {
		return nil, err
	}
	session, err := ort.NewDynamicAdvancedSession(path,
		[]string{opts.InputName}, []string{opts.OutputName}, nil)
	if err != nil {
		return nil, fmt.Errorf("onnx session %s: %w", path, err)
	}
	return &OnnxPredictor{session: session, opts: opts}, nil
}

func (p *OnnxPredictor) probabilities(ctx context.Context, features FeatureVector) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(features) != p.opts.Dim {
		return nil, fmt.Errorf("%w: %d features, model expects %d", ErrShape, len(features), p.opts.Dim)
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.session == nil {
		return nil, ErrPredictorUnavailable
	}

	input, err := ort.NewTensor(ort.NewShape(1, int64(p.opts.Dim)), features.Float32())
	if err != nil {
		return nil, err
	}
	defer input.Destroy()
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(p.opts.Labels)))
	if err != nil {
		return nil, err
	}
	defer output.Destroy()

	if err := p.session.Run([]ort.Value{input}, []ort.Value{output}); err != nil {
		return nil, fmt.Errorf("onnx run: %w", err)
	}
	data := output.GetData()
	out := make([]float32, len(data))
	copy(out, data)
	return out, nil
}

func (p *OnnxPredictor) Predict(ctx context.Context, features FeatureVector) ([][]int, error) {
	out, err := p.PredictOutput(ctx, features)
	if err != nil {
		return nil, err
	}
	return out.Binary, nil
}

func (p *OnnxPredictor) PredictProba(ctx context.Context, features FeatureVector) (ProbabilitySource, error) {
	out, err := p.PredictOutput(ctx, features)
	if err != nil {
		return nil, err
	}
	return out.Proba, nil
}

// PredictOutput runs the session once and thresholds the probabilities into
// the binary row.
func (p *OnnxPredictor) PredictOutput(ctx context.Context, features FeatureVector) (PredictorOutput, error) {
	probs, err := p.probabilities(ctx, features)
	if err != nil {
		return PredictorOutput{}, err
	}
	binary := make([]int, len(probs))
	proba := make([]float64, len(probs))
	for i, v := range probs {
		proba[i] = float64(v)
		if proba[i] >= p.opts.BinaryThreshold {
			binary[i] = 1
		}
	}
	return PredictorOutput{Binary: [][]int{binary}, Proba: MatrixProba{proba}}, nil
}

func (p *OnnxPredictor) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.session == nil {
		return nil
	}
	err := p.session.Destroy()
	p.session = nil
	return err
}
