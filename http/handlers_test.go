package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"proteinml/align"
	"proteinml/db"
	"proteinml/ml"
	"proteinml/monitoring"
	"proteinml/properties"
	"proteinml/service"
)

type testEnv struct {
	handler http.Handler
	reg     *ml.Registry
	hub     *monitoring.Hub
	dir     string
}

func newTestEnv(t *testing.T, cfg ServerConfig, opts service.Options) testEnv {
	t.Helper()
	return newTestEnvWithCalculator(t, cfg, opts, nil)
}

func newTestEnvWithCalculator(t *testing.T, cfg ServerConfig, opts service.Options, calc properties.Calculator) testEnv {
	t.Helper()
	dir := t.TempDir()
	reg, err := ml.NewRegistry(ml.RegistryOptions{Dir: dir, Vectorizer: ml.DefaultVectorizer}, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { reg.Close() })

	store, err := db.Open(filepath.Join(t.TempDir(), "audit.db"), false)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })

	if opts.Scheme == (align.Scheme{}) {
		opts.Scheme = align.DefaultScheme
	}
	hub := monitoring.NewHub(zap.NewNop())
	svc, err := service.New(opts, service.Deps{Models: reg, Properties: calc, Store: store, Hub: hub, Logger: zap.NewNop()})
	if err != nil {
		t.Fatal(err)
	}
	return testEnv{handler: NewHandler(cfg, svc, hub, zap.NewNop()), reg: reg, hub: hub, dir: dir}
}

func (e testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.handler.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("invalid json %q: %v", w.Body.String(), err)
	}
}

func TestHealthHandler(t *testing.T) {
	env := newTestEnv(t, DefaultServerConfig(), service.Options{})
	w := env.do(t, http.MethodGet, "/api/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("handler returned wrong status code: got %v want %v", w.Code, http.StatusOK)
	}
	var payload map[string]interface{}
	decodeBody(t, w, &payload)
	if payload["status"] != "healthy" || payload["service"] != "protein-ml" || payload["model_loaded"] != false {
		t.Fatalf("unexpected body %v", payload)
	}
	if w.Header().Get(RequestIDHeader) == "" {
		t.Fatal("missing request id header")
	}
	if w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatal("missing security headers")
	}
}

func TestReadyHandler(t *testing.T) {
	env := newTestEnv(t, DefaultServerConfig(), service.Options{})
	if w := env.do(t, http.MethodGet, "/api/ready", ""); w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 without a model, got %d", w.Code)
	}
	env.reg.Install(&ml.ModelContext{Name: "m", Predictor: fakePredictor{binary: [][]int{{1}}}, Labels: []string{"A"}})
	w := env.do(t, http.MethodGet, "/api/ready", "")
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	var payload map[string]interface{}
	decodeBody(t, w, &payload)
	if payload["model"] != "m" {
		t.Fatalf("unexpected body %v", payload)
	}
}

func TestAlignHandler(t *testing.T) {
	env := newTestEnv(t, DefaultServerConfig(), service.Options{})
	w := env.do(t, http.MethodPost, "/api/align", `{"sequence1":"GATTACA","sequence2":"GCATGCU"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var payload struct {
		Seq1   string  `json:"aligned_sequence1"`
		Seq2   string  `json:"aligned_sequence2"`
		Score  float64 `json:"score"`
		Length int     `json:"length"`
	}
	decodeBody(t, w, &payload)
	if payload.Score != 2 {
		t.Fatalf("score = %v, want 2", payload.Score)
	}
	if len(payload.Seq1) != payload.Length || len(payload.Seq2) != payload.Length {
		t.Fatalf("rows and length disagree: %+v", payload)
	}
}

func TestSimilarityHandlers(t *testing.T) {
	env := newTestEnv(t, DefaultServerConfig(), service.Options{MaxPairs: 2, MaxCells: 10_000})

	tests := []struct {
		name   string
		path   string
		body   string
		status int
	}{
		{name: "identical", path: "/api/similarity", body: `{"sequence1":"MKVLQ","sequence2":"mkvlq"}`, status: http.StatusOK},
		{name: "missing sequence", path: "/api/similarity", body: `{"sequence1":"MKVLQ"}`, status: http.StatusBadRequest},
		{name: "bad json", path: "/api/similarity", body: `{"sequence1":`, status: http.StatusBadRequest},
		{name: "too large", path: "/api/similarity", body: `{"sequence1":"` + strings.Repeat("A", 200) + `","sequence2":"` + strings.Repeat("C", 200) + `"}`, status: http.StatusRequestEntityTooLarge},
		{name: "batch", path: "/api/similarity/batch", body: `{"pairs":[{"sequence1":"MKV","sequence2":"MKV"},{"sequence1":"GATTACA","sequence2":"GCATGCU"}]}`, status: http.StatusOK},
		{name: "batch empty", path: "/api/similarity/batch", body: `{"pairs":[]}`, status: http.StatusBadRequest},
		{name: "batch too many", path: "/api/similarity/batch", body: `{"pairs":[{"sequence1":"A","sequence2":"A"},{"sequence1":"A","sequence2":"A"},{"sequence1":"A","sequence2":"A"}]}`, status: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := env.do(t, http.MethodPost, tt.path, tt.body)
			if w.Code != tt.status {
				t.Fatalf("status = %d, want %d: %s", w.Code, tt.status, w.Body.String())
			}
			if w.Code != http.StatusOK {
				var e errorResponse
				decodeBody(t, w, &e)
				if e.Error == "" {
					t.Fatal("error response without message")
				}
			}
		})
	}

	w := env.do(t, http.MethodPost, "/api/similarity", `{"sequence1":"MKVLQ","sequence2":"mkvlq"}`)
	var sim service.SimilarityOutcome
	decodeBody(t, w, &sim)
	if sim.Similarity != 1 || sim.Length1 != 5 || sim.Length2 != 5 {
		t.Fatalf("unexpected similarity %+v", sim)
	}

	w = env.do(t, http.MethodPost, "/api/similarity/batch", `{"pairs":[{"sequence1":"MKV","sequence2":"MKV"},{"sequence1":"GATTACA","sequence2":"GCATGCU"}]}`)
	var batch struct {
		Results []service.SimilarityOutcome `json:"results"`
		Count   int                         `json:"count"`
	}
	decodeBody(t, w, &batch)
	if batch.Count != 2 || batch.Results[0].Similarity != 1 || batch.Results[1].Score != 2 {
		t.Fatalf("unexpected batch %+v", batch)
	}
}

func TestVectorizeHandler(t *testing.T) {
	env := newTestEnv(t, DefaultServerConfig(), service.Options{})
	w := env.do(t, http.MethodPost, "/api/vectorize", `{"sequence":"MKVLQ","k":2,"dim":16}`)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	var out service.VectorOutcome
	decodeBody(t, w, &out)
	if out.K != 2 || out.Dim != 16 || len(out.Vector) != 16 || out.NonZero != 4 {
		t.Fatalf("unexpected vector %+v", out)
	}
	if out.Kmers[0] != "MK" {
		t.Fatalf("first slot should hold the first k-mer, got %v", out.Kmers)
	}

	if w := env.do(t, http.MethodPost, "/api/vectorize", `{"sequence":"MKVLQ","k":-1}`); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for negative k, got %d", w.Code)
	}
}

func TestPropertiesUnavailable(t *testing.T) {
	env := newTestEnv(t, DefaultServerConfig(), service.Options{})
	w := env.do(t, http.MethodPost, "/api/properties", `{"sequence":"MKVLQ"}`)
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", w.Code)
	}
}

type rejectingCalculator struct{}

func (rejectingCalculator) Calculate(ctx context.Context, seq string) (*properties.Properties, error) {
	return nil, fmt.Errorf("%w: ValueError: 'X' is not a valid unambiguous letter for protein", properties.ErrInvalidSequence)
}

func TestPropertiesInvalidSequence(t *testing.T) {
	env := newTestEnvWithCalculator(t, DefaultServerConfig(), service.Options{}, rejectingCalculator{})
	w := env.do(t, http.MethodPost, "/api/properties", `{"sequence":"MKXLQ"}`)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d: %s", w.Code, w.Body.String())
	}
	var body errorResponse
	decodeBody(t, w, &body)
	if !strings.Contains(body.Error, "invalid protein sequence") {
		t.Fatalf("unexpected error %q", body.Error)
	}

	w = env.do(t, http.MethodGet, "/api/stats", "")
	var stats struct {
		Audit map[string]int `json:"audit"`
	}
	decodeBody(t, w, &stats)
	if stats.Audit[service.StatusRejected] != 1 {
		t.Fatalf("expected a rejected audit entry, got %v", stats.Audit)
	}
}

func TestModelsHandlers(t *testing.T) {
	env := newTestEnv(t, DefaultServerConfig(), service.Options{})
	forest := &ml.DecisionForest{Trees: []ml.DecisionTree{
		{Label: "membrane", Nodes: []ml.TreeNode{{IsLeaf: true, ClassLabel: 1, Probability: 0.9}}},
	}}
	if err := forest.Save(filepath.Join(env.dir, "stump.json")); err != nil {
		t.Fatal(err)
	}

	w := env.do(t, http.MethodGet, "/api/models", "")
	var list struct {
		Models []ml.ModelInfo `json:"models"`
		Active string         `json:"active"`
	}
	decodeBody(t, w, &list)
	if len(list.Models) != 1 || list.Models[0].Name != "stump" || list.Active != "" {
		t.Fatalf("unexpected model list %+v", list)
	}

	if w := env.do(t, http.MethodPost, "/api/models/activate", `{"model":"missing"}`); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown model, got %d", w.Code)
	}
	if w := env.do(t, http.MethodPost, "/api/models/activate", `{}`); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without model, got %d", w.Code)
	}
	if w := env.do(t, http.MethodPost, "/api/models/activate", `{"model":"stump"}`); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}

	w = env.do(t, http.MethodPost, "/api/predict", `{"sequence":"MKVLQ"}`)
	var pred predictResponse
	decodeBody(t, w, &pred)
	if pred.Status != ml.StatusOK || pred.ModelUsed != "stump" || pred.Predictions[0].Label != "membrane" {
		t.Fatalf("unexpected prediction %+v", pred)
	}
}

func TestHistoryCarriesRequestID(t *testing.T) {
	env := newTestEnv(t, DefaultServerConfig(), service.Options{})

	req := httptest.NewRequest(http.MethodPost, "/api/align", strings.NewReader(`{"sequence1":"MKV","sequence2":"MKV"}`))
	req.Header.Set(RequestIDHeader, "trace-42")
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)
	if w.Header().Get(RequestIDHeader) != "trace-42" {
		t.Fatalf("request id not echoed: %q", w.Header().Get(RequestIDHeader))
	}

	w = env.do(t, http.MethodGet, "/api/history?limit=5", "")
	var history struct {
		Entries []db.Entry `json:"entries"`
	}
	decodeBody(t, w, &history)
	if len(history.Entries) != 1 || history.Entries[0].RequestID != "trace-42" || history.Entries[0].Kind != db.KindAlign {
		t.Fatalf("unexpected history %+v", history.Entries)
	}

	if w := env.do(t, http.MethodGet, "/api/history?limit=abc", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", w.Code)
	}

	w = env.do(t, http.MethodGet, "/api/stats", "")
	var stats struct {
		Stats monitoring.Snapshot `json:"stats"`
		Audit map[string]int      `json:"audit"`
	}
	decodeBody(t, w, &stats)
	if len(stats.Stats.Kinds) != 1 || stats.Stats.Kinds[0].Total != 1 {
		t.Fatalf("unexpected stats %+v", stats.Stats)
	}
	if len(stats.Audit) != 1 || stats.Audit["ok"] != 1 {
		t.Fatalf("unexpected audit counts %+v", stats.Audit)
	}
}

func TestRequestSizeLimit(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.MaxBodyBytes = 64
	env := newTestEnv(t, cfg, service.Options{})

	body := bytes.Repeat([]byte("A"), 200)
	w := env.do(t, http.MethodPost, "/api/predict", `{"sequence":"`+string(body)+`"}`)
	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", w.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	cfg := DefaultServerConfig()
	cfg.AllowedOrigins = []string{"https://lab.example"}
	env := newTestEnv(t, cfg, service.Options{})

	req := httptest.NewRequest(http.MethodOptions, "/api/predict", nil)
	req.Header.Set("Origin", "https://lab.example")
	w := httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)
	if w.Code != http.StatusOK || w.Header().Get("Access-Control-Allow-Origin") != "https://lab.example" {
		t.Fatalf("unexpected preflight response %d %v", w.Code, w.Header())
	}

	req = httptest.NewRequest(http.MethodOptions, "/api/predict", nil)
	req.Header.Set("Origin", "https://other.example")
	w = httptest.NewRecorder()
	env.handler.ServeHTTP(w, req)
	if w.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatal("origin outside the allow list was accepted")
	}
}
