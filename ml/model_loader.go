package ml

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	KindDecisionForest = "decision_forest"
	KindOnnx           = "onnx"
)

// KindForPath infers the backend from a model file extension.
func KindForPath(path string) (string, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return KindDecisionForest, true
	case ".onnx":
		return KindOnnx, true
	}
	return "", false
}

// LoadModel opens the model at path with the named backend.
func LoadModel(kind, path string, opts OnnxOptions) (Predictor, error) {
	switch kind {
	case KindDecisionForest:
		model := &DecisionForest{}
		if err := model.Load(path); err != nil {
			return nil, err
		}
		return model, nil
	case KindOnnx:
		return NewOnnxPredictor(path, opts)
	default:
		return nil, fmt.Errorf("%w: backend %q", ErrUnknownModel, kind)
	}
}

// LoadLabels reads the label encoder classes: a JSON array of strings in
// output column order.
func LoadLabels(path string) ([]string, error) {
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var labels []string
	if err := json.Unmarshal(payload, &labels); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if len(labels) == 0 {
		return nil, errors.New("label set is empty")
	}
	return labels, nil
}
