package ml

import "sort"

const (
	// DefaultThreshold admits multi-output labels whose probability exceeds it.
	DefaultThreshold = 0.3
	// DefaultTopK caps the ranked prediction list.
	DefaultTopK = 20
	// FallbackConfidence is reported for positive labels without a probability.
	FallbackConfidence = 0.85

	EvidenceModel       = "ML model prediction"
	UnavailableLabel    = "Model Not Available"
	UnavailableEvidence = "ML model or label encoder not loaded"
	FaultLabel          = "Prediction Error"
)

// LabelPrediction is one ranked label.
type LabelPrediction struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Evidence   string  `json:"evidence,omitempty"`
}

// ProbabilitySource is the optional probability output of a predictor. It is
// either MultiOutputProba or MatrixProba.
type ProbabilitySource interface {
	probabilitySource()
}

// MultiOutputProba holds one probability matrix per label. Only the first row
// of each is read; the positive class is column 1, or column 0 when the row
// has a single column.
type MultiOutputProba [][][]float64

// MatrixProba holds one row with one probability column per label.
type MatrixProba [][]float64

func (MultiOutputProba) probabilitySource() {}
func (MatrixProba) probabilitySource()      {}

// PredictorOutput is what a predictor returns for one feature vector.
type PredictorOutput struct {
	Binary [][]int
	Proba  ProbabilitySource
}

// DecodeOptions controls inclusion and ranking.
type DecodeOptions struct {
	Threshold float64 `json:"threshold" yaml:"threshold"`
	TopK      int     `json:"top_k" yaml:"top_k"`
}

// DefaultDecodeOptions returns the service defaults.
func DefaultDecodeOptions() DecodeOptions {
	return DecodeOptions{Threshold: DefaultThreshold, TopK: DefaultTopK}
}

// Unavailable is the single-entry list reported when no predictor or label set
// is loaded.
func Unavailable() []LabelPrediction {
	return []LabelPrediction{{
		Label:      UnavailableLabel,
		Confidence: 0,
		Evidence:   UnavailableEvidence,
	}}
}

// PredictionError is the single-entry list reported when the predictor
// failed. It carries the cause as evidence.
func PredictionError(err error) []LabelPrediction {
	return []LabelPrediction{{
		Label:      FaultLabel,
		Confidence: 0,
		Evidence:   "Model error: " + err.Error(),
	}}
}

// Decode turns raw predictor output into a list sorted by confidence
// descending, ties keeping label order, capped at opts.TopK. Missing cells of
// the binary matrix count as 0. A non-positive TopK uses DefaultTopK.
func Decode(labels []string, out PredictorOutput, opts DecodeOptions) []LabelPrediction {
	topK := opts.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}

	var row []int
	if len(out.Binary) > 0 {
		row = out.Binary[0]
	}
	positive := func(i int) bool {
		return i < len(row) && row[i] == 1
	}

	preds := make([]LabelPrediction, 0)
	switch proba := out.Proba.(type) {
	case MultiOutputProba:
		for i, label := range labels {
			if i >= len(proba) {
				break
			}
			p, ok := positiveClass(proba[i])
			if !ok {
				continue
			}
			if positive(i) || p > opts.Threshold {
				preds = append(preds, LabelPrediction{Label: label, Confidence: p, Evidence: EvidenceModel})
			}
		}
	default:
		var matrix []float64
		if m, ok := proba.(MatrixProba); ok && len(m) > 0 {
			matrix = m[0]
		}
		for i, label := range labels {
			if !positive(i) {
				continue
			}
			p := FallbackConfidence
			if i < len(matrix) {
				p = matrix[i]
			}
			preds = append(preds, LabelPrediction{Label: label, Confidence: p, Evidence: EvidenceModel})
		}
	}

	sort.SliceStable(preds, func(a, b int) bool {
		return preds[a].Confidence > preds[b].Confidence
	})
	if len(preds) > topK {
		preds = preds[:topK]
	}
	return preds
}

func positiveClass(m [][]float64) (float64, bool) {
	if len(m) == 0 || len(m[0]) == 0 {
		return 0, false
	}
	if len(m[0]) > 1 {
		return m[0][1], true
	}
	return m[0][0], true
}
