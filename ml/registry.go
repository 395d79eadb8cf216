package ml

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"
)

// RegistryOptions locates models on disk and fixes the parameters every
// context built from them shares.
type RegistryOptions struct {
	Dir           string
	LabelsPath    string
	Vectorizer    KmerVectorizer
	DecodeOptions DecodeOptions
	Onnx          OnnxOptions
	// CacheSize bounds the number of loaded models kept for per-request
	// selection.
	CacheSize int
}

// ModelInfo describes a model file found in the models directory.
type ModelInfo struct {
	Name   string `json:"name"`
	Kind   string `json:"kind"`
	Path   string `json:"path"`
	Active bool   `json:"active"`
}

// Registry owns the loaded model contexts. The active context sits behind an
// atomic pointer; readers take a snapshot per request and never observe a
// half-swapped model.
type Registry struct {
	opts     RegistryOptions
	logger   *zap.Logger
	active   atomic.Pointer[ModelContext]
	contexts *lru.Cache[string, *ModelContext]
	mu       sync.Mutex
}

func NewRegistry(opts RegistryOptions, logger *zap.Logger) (*Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.CacheSize <= 0 {
		opts.CacheSize = 4
	}
	if opts.DecodeOptions == (DecodeOptions{}) {
		opts.DecodeOptions = DefaultDecodeOptions()
	}
	r := &Registry{opts: opts, logger: logger}
	cache, err := lru.NewWithEvict(opts.CacheSize, r.evicted)
	if err != nil {
		return nil, err
	}
	r.contexts = cache
	return r, nil
}

func (r *Registry) evicted(name string, mc *ModelContext) {
	if r.active.Load() == mc {
		return
	}
	if err := mc.retire(); err != nil {
		r.logger.Warn("close evicted model", zap.String("model", name), zap.Error(err))
	}
}

// Active returns the current snapshot, or nil when no model is active. It
// takes no reference; callers that run predictions use Context.
func (r *Registry) Active() *ModelContext {
	return r.active.Load()
}

// Context returns the context for name, loading it on first use. An empty
// name or "default" selects the active context. The caller holds the context
// until it calls Release, so a reload or an eviction meanwhile does not close
// its predictor.
func (r *Registry) Context(name string) (*ModelContext, error) {
	for {
		mc, err := r.lookup(name)
		if err != nil {
			return nil, err
		}
		if mc.acquire() {
			return mc, nil
		}
		// Retired between lookup and acquire; the replacement is in place now.
	}
}

func (r *Registry) lookup(name string) (*ModelContext, error) {
	if name == "" || name == "default" {
		if mc := r.active.Load(); mc != nil {
			return mc, nil
		}
		return nil, ErrPredictorUnavailable
	}
	if mc := r.active.Load(); mc != nil && mc.Name == name {
		return mc, nil
	}
	if mc, ok := r.contexts.Get(name); ok {
		return mc, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if mc, ok := r.contexts.Get(name); ok {
		return mc, nil
	}
	mc, err := r.build(name)
	if err != nil {
		return nil, err
	}
	r.contexts.Add(name, mc)
	return mc, nil
}

// Activate makes name the active model for every later request.
func (r *Registry) Activate(name string) error {
	mc, err := r.lookup(name)
	if err != nil {
		return err
	}
	prev := r.active.Swap(mc)
	r.logger.Info("model activated", zap.String("model", name))
	if prev != mc {
		r.release(prev)
	}
	return nil
}

// Install registers a prebuilt context and makes it active.
func (r *Registry) Install(mc *ModelContext) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cached, _ := r.contexts.Peek(mc.Name)
	r.contexts.Add(mc.Name, mc)
	prev := r.active.Swap(mc)
	if prev != mc {
		r.release(prev)
	}
	if cached != nil && cached != mc && cached != prev {
		r.release(cached)
	}
}

// Reload rebuilds the named model from disk and swaps it in wherever the old
// context was referenced.
func (r *Registry) Reload(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	mc, err := r.build(name)
	if err != nil {
		return err
	}
	prev, _ := r.contexts.Peek(name)
	r.contexts.Add(name, mc)

	if cur := r.active.Load(); cur != nil && cur.Name == name {
		r.active.CompareAndSwap(cur, mc)
		if prev != cur {
			r.release(cur)
		}
	}
	if prev != nil {
		r.release(prev)
	}
	r.logger.Info("model reloaded", zap.String("model", name))
	return nil
}

// release retires mc once it is neither active nor cached. Its predictor is
// closed when the last holder lets go.
func (r *Registry) release(mc *ModelContext) {
	if mc == nil || r.active.Load() == mc {
		return
	}
	if cached, ok := r.contexts.Peek(mc.Name); ok && cached == mc {
		return
	}
	if err := mc.retire(); err != nil {
		r.logger.Warn("close model", zap.String("model", mc.Name), zap.Error(err))
	}
}

// ReloadLabels rebuilds every loaded context after the label file changed.
func (r *Registry) ReloadLabels() error {
	var errs []error
	for _, name := range r.contexts.Keys() {
		if err := r.Reload(name); err != nil {
			errs = append(errs, err)
		}
	}
	if mc := r.active.Load(); mc != nil && !r.contexts.Contains(mc.Name) {
		if err := r.Reload(mc.Name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Models lists the model files in the models directory sorted by name.
func (r *Registry) Models() ([]ModelInfo, error) {
	entries, err := os.ReadDir(r.opts.Dir)
	if err != nil {
		return nil, err
	}
	labels := filepath.Base(r.opts.LabelsPath)
	active := ""
	if mc := r.active.Load(); mc != nil {
		active = mc.Name
	}

	out := make([]ModelInfo, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || e.Name() == labels {
			continue
		}
		kind, ok := KindForPath(e.Name())
		if !ok {
			continue
		}
		name := modelName(e.Name())
		out = append(out, ModelInfo{
			Name:   name,
			Kind:   kind,
			Path:   filepath.Join(r.opts.Dir, e.Name()),
			Active: name == active,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Path returns the file backing the named model.
func (r *Registry) Path(name string) (string, string, error) {
	models, err := r.Models()
	if err != nil {
		return "", "", err
	}
	for _, m := range models {
		if m.Name == name {
			return m.Path, m.Kind, nil
		}
	}
	return "", "", fmt.Errorf("%w: %q", ErrUnknownModel, name)
}

func (r *Registry) build(name string) (*ModelContext, error) {
	path, kind, err := r.Path(name)
	if err != nil {
		return nil, err
	}

	var labels []string
	if r.opts.LabelsPath != "" {
		labels, err = LoadLabels(r.opts.LabelsPath)
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("labels: %w", err)
		}
	}

	vectorizer := r.opts.Vectorizer
	onnxOpts := r.opts.Onnx
	onnxOpts.Dim = vectorizer.Len()
	onnxOpts.Labels = len(labels)

	predictor, err := LoadModel(kind, path, onnxOpts)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", name, err)
	}
	if forest, ok := predictor.(*DecisionForest); ok {
		if len(labels) == 0 {
			labels = forest.Labels()
		}
		if forest.K > 0 || forest.Dim > 0 {
			vectorizer = forest.Vectorizer()
		}
	}
	if len(labels) == 0 {
		r.logger.Warn("model has no label set", zap.String("model", name))
	}

	return &ModelContext{
		Name:          name,
		Predictor:     predictor,
		Labels:        labels,
		Vectorizer:    vectorizer,
		DecodeOptions: r.opts.DecodeOptions,
		LoadedAt:      time.Now(),
	}, nil
}

// Close retires every loaded model. Contexts still held are closed by their
// last Release.
func (r *Registry) Close() error {
	active := r.active.Swap(nil)
	r.contexts.Purge()
	if active != nil {
		return active.retire()
	}
	return nil
}

func modelName(file string) string {
	return file[:len(file)-len(filepath.Ext(file))]
}
