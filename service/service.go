// Package service runs analyses on behalf of the transports. It normalizes
// input, calls the engines, and records every outcome to the log, the audit
// store, the live event stream and the counters.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"proteinml/align"
	"proteinml/db"
	"proteinml/logging"
	"proteinml/ml"
	"proteinml/monitoring"
	"proteinml/properties"
	"proteinml/sequence"
)

var (
	// ErrEmptySequence rejects input that is empty after normalization.
	ErrEmptySequence = errors.New("empty sequence")
	// ErrTooManyPairs rejects batches above the configured limit.
	ErrTooManyPairs = errors.New("too many pairs")
)

type Options struct {
	Scheme    align.Scheme
	MaxCells  int64
	Workers   int
	MaxPairs  int
	CacheSize int
}

type alignKey struct {
	seq1, seq2 string
	scheme     align.Scheme
}

type Service struct {
	opts       Options
	models     *ml.Registry
	props      properties.Calculator
	store      *db.Store
	hub        *monitoring.Hub
	stats      *monitoring.Stats
	logger     *zap.Logger
	alignCache *lru.Cache[alignKey, align.Alignment]
	propCache  *lru.Cache[string, *properties.Properties]
}

// Deps are the collaborators of a Service. Store, Hub and Properties may be
// nil.
type Deps struct {
	Models     *ml.Registry
	Properties properties.Calculator
	Store      *db.Store
	Hub        *monitoring.Hub
	Stats      *monitoring.Stats
	Logger     *zap.Logger
}

func New(opts Options, deps Deps) (*Service, error) {
	if deps.Models == nil {
		return nil, errors.New("service: model registry required")
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Stats == nil {
		deps.Stats = monitoring.NewStats()
	}
	s := &Service{
		opts:   opts,
		models: deps.Models,
		props:  deps.Properties,
		store:  deps.Store,
		hub:    deps.Hub,
		stats:  deps.Stats,
		logger: deps.Logger,
	}
	if opts.CacheSize > 0 {
		var err error
		if s.alignCache, err = lru.New[alignKey, align.Alignment](opts.CacheSize); err != nil {
			return nil, err
		}
		if s.propCache, err = lru.New[string, *properties.Properties](opts.CacheSize); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Service) Models() *ml.Registry {
	return s.models
}

func (s *Service) Stats() monitoring.Snapshot {
	return s.stats.Snapshot()
}

func normalize(raw string) (string, error) {
	seq := sequence.Normalize(raw)
	if seq == "" {
		return "", ErrEmptySequence
	}
	return seq, nil
}

// outcome is what gets recorded for each analysis.
type outcome struct {
	kind      string
	seq       string
	model     string
	status    string
	err       error
	preds     []ml.LabelPrediction
	startedAt time.Time
}

func (s *Service) record(ctx context.Context, o outcome) {
	latency := time.Since(o.startedAt)
	requestID := logging.RequestID(ctx)

	fields := []zap.Field{
		zap.String("request_id", requestID),
		zap.String("kind", o.kind),
		zap.String("status", o.status),
		zap.Int("seq_length", utf8.RuneCountInString(o.seq)),
		zap.Duration("latency", latency),
	}
	if o.model != "" {
		fields = append(fields, zap.String("model", o.model))
	}
	switch o.status {
	case string(ml.StatusFault):
		s.logger.Error("analysis fault", append(fields, zap.Error(o.err))...)
	case string(ml.StatusUnavailable):
		s.logger.Warn("predictor unavailable", fields...)
	case string(ml.StatusEmpty):
		s.logger.Info("analysis found nothing", fields...)
	default:
		s.logger.Info("analysis completed", append(fields, zap.Int("predictions", len(o.preds)))...)
	}

	s.stats.Record(o.kind, o.status, latency)

	if s.hub != nil {
		s.hub.Publish(monitoring.Event{
			Type:      o.kind,
			RequestID: requestID,
			Status:    o.status,
			Model:     o.model,
			LatencyMS: float64(latency) / float64(time.Millisecond),
		})
	}

	if s.store != nil {
		entry := db.Entry{
			RequestID:       requestID,
			Kind:            o.kind,
			SeqDigest:       db.Digest(o.seq),
			SeqLength:       utf8.RuneCountInString(o.seq),
			Model:           o.model,
			Status:          o.status,
			PredictionCount: len(o.preds),
		}
		if o.err != nil {
			entry.Detail = o.err.Error()
		}
		if len(o.preds) > 0 {
			entry.TopLabel = o.preds[0].Label
			entry.TopConfidence = o.preds[0].Confidence
		}
		if err := s.store.Record(context.WithoutCancel(ctx), entry); err != nil {
			s.logger.Warn("audit record failed", zap.String("request_id", requestID), zap.Error(err))
		}
	}
}

// StatusRejected marks requests refused before any computation.
const StatusRejected = "rejected"

func statusOf(err error) string {
	switch {
	case err == nil:
		return string(ml.StatusOK)
	case errors.Is(err, align.ErrTooLarge), errors.Is(err, properties.ErrInvalidSequence):
		return StatusRejected
	}
	return string(ml.StatusFault)
}

// PredictOutcome is the result of Predict.
type PredictOutcome struct {
	Result         ml.Result
	Model          string
	SequenceLength int
}

// Predict ranks labels for raw with the named model, or the active model when
// name is empty. Selecting a model here does not change the active one.
// Unavailable and faulty predictors are reported through the result status;
// only input errors and unknown model names are returned as errors.
func (s *Service) Predict(ctx context.Context, raw, name string) (PredictOutcome, error) {
	started := time.Now()
	seq, err := normalize(raw)
	if err != nil {
		return PredictOutcome{}, err
	}

	mc, err := s.models.Context(name)
	if err != nil && !errors.Is(err, ml.ErrPredictorUnavailable) {
		return PredictOutcome{}, err
	}
	defer mc.Release()
	// mc is nil when nothing is active; Predict reports that as unavailable.
	res := mc.Predict(ctx, seq)

	modelName := "unknown"
	if mc != nil {
		modelName = mc.Name
	}
	s.record(ctx, outcome{
		kind:      db.KindPredict,
		seq:       seq,
		model:     modelName,
		status:    string(res.Status),
		err:       res.Err,
		preds:     res.Predictions,
		startedAt: started,
	})
	return PredictOutcome{Result: res, Model: modelName, SequenceLength: utf8.RuneCountInString(seq)}, nil
}

// Align returns the optimal global alignment of two raw sequences.
func (s *Service) Align(ctx context.Context, raw1, raw2 string) (align.Alignment, error) {
	started := time.Now()
	seq1, seq2, err := normalizePair(raw1, raw2)
	if err != nil {
		return align.Alignment{}, err
	}
	aln, err := s.align(seq1, seq2)
	s.record(ctx, outcome{kind: db.KindAlign, seq: seq1 + "/" + seq2, status: statusOf(err), err: err, startedAt: started})
	return aln, err
}

func normalizePair(raw1, raw2 string) (string, string, error) {
	seq1, err := normalize(raw1)
	if err != nil {
		return "", "", fmt.Errorf("sequence1: %w", err)
	}
	seq2, err := normalize(raw2)
	if err != nil {
		return "", "", fmt.Errorf("sequence2: %w", err)
	}
	return seq1, seq2, nil
}

func (s *Service) align(seq1, seq2 string) (align.Alignment, error) {
	if err := align.CheckSize(utf8.RuneCountInString(seq1), utf8.RuneCountInString(seq2), s.opts.MaxCells); err != nil {
		return align.Alignment{}, err
	}
	key := alignKey{seq1: seq1, seq2: seq2, scheme: s.opts.Scheme}
	if s.alignCache != nil {
		if aln, ok := s.alignCache.Get(key); ok {
			return aln, nil
		}
	}
	aln, err := align.Global(seq1, seq2, s.opts.Scheme)
	if err != nil {
		return align.Alignment{}, err
	}
	if s.alignCache != nil {
		s.alignCache.Add(key, aln)
	}
	return aln, nil
}

// SimilarityOutcome is the similarity of one pair.
type SimilarityOutcome struct {
	Similarity float64 `json:"similarity"`
	Length1    int     `json:"sequence1_length"`
	Length2    int     `json:"sequence2_length"`
	Score      float64 `json:"score"`
}

func similarityOf(seq1, seq2 string, aln align.Alignment) SimilarityOutcome {
	n, m := utf8.RuneCountInString(seq1), utf8.RuneCountInString(seq2)
	return SimilarityOutcome{
		Similarity: align.Similarity(aln.Score, n, m),
		Length1:    n,
		Length2:    m,
		Score:      aln.Score,
	}
}

// Similarity aligns two raw sequences and normalizes the score to [0,1].
func (s *Service) Similarity(ctx context.Context, raw1, raw2 string) (SimilarityOutcome, error) {
	started := time.Now()
	seq1, seq2, err := normalizePair(raw1, raw2)
	if err != nil {
		return SimilarityOutcome{}, err
	}
	aln, err := s.align(seq1, seq2)
	s.record(ctx, outcome{kind: db.KindSimilarity, seq: seq1 + "/" + seq2, status: statusOf(err), err: err, startedAt: started})
	if err != nil {
		return SimilarityOutcome{}, err
	}
	return similarityOf(seq1, seq2, aln), nil
}

// SimilarityBatch scores every pair concurrently. Results keep pair order.
func (s *Service) SimilarityBatch(ctx context.Context, pairs []align.Pair) ([]SimilarityOutcome, error) {
	started := time.Now()
	if s.opts.MaxPairs > 0 && len(pairs) > s.opts.MaxPairs {
		return nil, fmt.Errorf("%w: %d pairs, limit %d", ErrTooManyPairs, len(pairs), s.opts.MaxPairs)
	}

	normalized := make([]align.Pair, len(pairs))
	for i, p := range pairs {
		seq1, seq2, err := normalizePair(p.Seq1, p.Seq2)
		if err != nil {
			return nil, fmt.Errorf("pair %d: %w", i, err)
		}
		if err := align.CheckSize(utf8.RuneCountInString(seq1), utf8.RuneCountInString(seq2), s.opts.MaxCells); err != nil {
			err = fmt.Errorf("pair %d: %w", i, err)
			s.record(ctx, outcome{kind: db.KindBatch, seq: fmt.Sprintf("%d pairs", len(pairs)), status: StatusRejected, err: err, startedAt: started})
			return nil, err
		}
		normalized[i] = align.Pair{Seq1: seq1, Seq2: seq2}
	}

	alignments, err := align.AlignAll(ctx, normalized, s.opts.Scheme, s.opts.Workers)
	s.record(ctx, outcome{kind: db.KindBatch, seq: fmt.Sprintf("%d pairs", len(pairs)), status: statusOf(err), err: err, startedAt: started})
	if err != nil {
		return nil, err
	}

	out := make([]SimilarityOutcome, len(alignments))
	for i, aln := range alignments {
		out[i] = similarityOf(normalized[i].Seq1, normalized[i].Seq2, aln)
	}
	return out, nil
}

// VectorOutcome is the feature vector of one sequence.
type VectorOutcome struct {
	K       int              `json:"k"`
	Dim     int              `json:"dim"`
	NonZero int              `json:"nonzero"`
	Vector  ml.FeatureVector `json:"vector"`
	Kmers   []string         `json:"kmers"`
}

// Vectorize returns the k-mer features of raw with the active model's
// parameters, or k and dim when given.
func (s *Service) Vectorize(raw string, k, dim int) (VectorOutcome, error) {
	seq, err := normalize(raw)
	if err != nil {
		return VectorOutcome{}, err
	}
	if k <= 0 || dim <= 0 {
		kv := ml.DefaultVectorizer
		if mc := s.models.Active(); mc != nil {
			if v, ok := mc.Vectorizer.(ml.KmerVectorizer); ok {
				kv = v
			}
		}
		if k <= 0 {
			k = kv.K
		}
		if dim <= 0 {
			dim = kv.Dim
		}
	}
	if k <= 0 {
		k = ml.DefaultK
	}
	if dim <= 0 {
		dim = ml.DefaultDim
	}
	vec := ml.Vectorize(seq, k, dim)
	return VectorOutcome{
		K:       k,
		Dim:     dim,
		NonZero: vec.NonZero(),
		Vector:  vec,
		Kmers:   ml.KmerSlots(seq, k, dim),
	}, nil
}

// Properties returns the physicochemical properties of raw from the external
// calculator.
func (s *Service) Properties(ctx context.Context, raw string) (*properties.Properties, error) {
	started := time.Now()
	seq, err := normalize(raw)
	if err != nil {
		return nil, err
	}
	if s.props == nil {
		return nil, properties.ErrUnavailable
	}
	if s.propCache != nil {
		if p, ok := s.propCache.Get(seq); ok {
			return p, nil
		}
	}

	p, err := s.props.Calculate(ctx, seq)
	status := statusOf(err)
	if errors.Is(err, properties.ErrUnavailable) {
		status = string(ml.StatusUnavailable)
	}
	s.record(ctx, outcome{kind: db.KindProperties, seq: seq, status: status, err: err, startedAt: started})
	if err != nil {
		return nil, err
	}
	if s.propCache != nil {
		s.propCache.Add(seq, p)
	}
	return p, nil
}

// History returns recent audit entries. Without a store it returns an empty
// list.
func (s *Service) History(ctx context.Context, limit int) ([]db.Entry, error) {
	if s.store == nil {
		return []db.Entry{}, nil
	}
	return s.store.Recent(ctx, limit)
}

// AuditCounts returns the number of audit entries per status. Without a store
// it returns an empty map.
func (s *Service) AuditCounts(ctx context.Context) (map[string]int, error) {
	if s.store == nil {
		return map[string]int{}, nil
	}
	return s.store.CountByStatus(ctx)
}

// Ready reports whether an active model can produce predictions.
func (s *Service) Ready() bool {
	return s.models.Active().Ready()
}
