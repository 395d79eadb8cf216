package http

import (
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"proteinml/align"
	"proteinml/ml"
	"proteinml/monitoring"
	"proteinml/service"
)

// Handlers serves the analysis API.
type Handlers struct {
	svc    *service.Service
	hub    *monitoring.Hub
	logger *zap.Logger
}

func RegisterHandlers(mux *http.ServeMux, h *Handlers) {
	mux.HandleFunc("GET /api/health", h.handleHealth)
	mux.HandleFunc("GET /api/ready", h.handleReady)

	mux.HandleFunc("POST /api/predict", h.handlePredict)
	mux.HandleFunc("POST /api/similarity", h.handleSimilarity)
	mux.HandleFunc("POST /api/similarity/batch", h.handleSimilarityBatch)
	mux.HandleFunc("POST /api/align", h.handleAlign)
	mux.HandleFunc("POST /api/vectorize", h.handleVectorize)
	mux.HandleFunc("POST /api/properties", h.handleProperties)

	mux.HandleFunc("GET /api/models", h.handleModels)
	mux.HandleFunc("POST /api/models/activate", h.handleActivate)

	mux.HandleFunc("GET /api/history", h.handleHistory)
	mux.HandleFunc("GET /api/stats", h.handleStats)
	if h.hub != nil {
		mux.HandleFunc("GET /api/ws/events", h.hub.HandleWebSocket)
	}
}

func (h *Handlers) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":       "healthy",
		"service":      "protein-ml",
		"model_loaded": h.svc.Ready(),
	})
}

func (h *Handlers) handleReady(w http.ResponseWriter, r *http.Request) {
	model := ""
	if mc := h.svc.Models().Active(); mc != nil {
		model = mc.Name
	}
	status := http.StatusOK
	if !h.svc.Ready() {
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, map[string]interface{}{
		"ready": status == http.StatusOK,
		"model": model,
	})
}

type predictRequest struct {
	Sequence string `json:"sequence"`
	Model    string `json:"model"`
}

type predictResponse struct {
	Predictions    []ml.LabelPrediction `json:"predictions"`
	Status         ml.Status            `json:"status"`
	SequenceLength int                  `json:"sequence_length"`
	ModelUsed      string               `json:"model_used"`
}

// handlePredict answers 200 for every predictor outcome; status tells a
// genuine empty result from an unavailable or failing model.
func (h *Handlers) handlePredict(w http.ResponseWriter, r *http.Request) {
	var req predictRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	out, err := h.svc.Predict(r.Context(), req.Sequence, req.Model)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, predictResponse{
		Predictions:    out.Result.Predictions,
		Status:         out.Result.Status,
		SequenceLength: out.SequenceLength,
		ModelUsed:      out.Model,
	})
}

type pairRequest struct {
	Sequence1 string `json:"sequence1"`
	Sequence2 string `json:"sequence2"`
}

func (h *Handlers) handleSimilarity(w http.ResponseWriter, r *http.Request) {
	var req pairRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	out, err := h.svc.Similarity(r.Context(), req.Sequence1, req.Sequence2)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, out)
}

func (h *Handlers) handleSimilarityBatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Pairs []align.Pair `json:"pairs"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if len(req.Pairs) == 0 {
		writeError(w, http.StatusBadRequest, "pairs is required")
		return
	}
	results, err := h.svc.SimilarityBatch(r.Context(), req.Pairs)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"results": results,
		"count":   len(results),
	})
}

type alignResponse struct {
	align.Alignment
	Length   int     `json:"length"`
	Identity float64 `json:"identity"`
	Midline  string  `json:"midline"`
}

func (h *Handlers) handleAlign(w http.ResponseWriter, r *http.Request) {
	var req pairRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	aln, err := h.svc.Align(r.Context(), req.Sequence1, req.Sequence2)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, alignResponse{
		Alignment: aln,
		Length:    aln.Length(),
		Identity:  aln.Identity(),
		Midline:   aln.Midline(),
	})
}

func (h *Handlers) handleVectorize(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Sequence string `json:"sequence"`
		K        int    `json:"k"`
		Dim      int    `json:"dim"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.K < 0 || req.Dim < 0 || req.Dim > 1<<20 {
		writeError(w, http.StatusBadRequest, "k and dim must be positive and dim at most 1048576")
		return
	}
	out, err := h.svc.Vectorize(req.Sequence, req.K, req.Dim)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, out)
}

func (h *Handlers) handleProperties(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Sequence string `json:"sequence"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	props, err := h.svc.Properties(r.Context(), req.Sequence)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, props)
}

func (h *Handlers) handleModels(w http.ResponseWriter, r *http.Request) {
	models, err := h.svc.Models().Models()
	if err != nil {
		h.logger.Error("list models", zap.Error(err))
		respondError(w, err)
		return
	}
	active := ""
	if mc := h.svc.Models().Active(); mc != nil {
		active = mc.Name
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"models": models,
		"active": active,
	})
}

func (h *Handlers) handleActivate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Model string `json:"model"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Model == "" {
		writeError(w, http.StatusBadRequest, "model is required")
		return
	}
	if err := h.svc.Models().Activate(req.Model); err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"active": req.Model})
}

func (h *Handlers) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 || n > 1000 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}
	entries, err := h.svc.History(r.Context(), limit)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"entries": entries,
		"count":   len(entries),
	})
}

func (h *Handlers) handleStats(w http.ResponseWriter, r *http.Request) {
	subscribers := 0
	if h.hub != nil {
		subscribers = h.hub.Clients()
	}
	audit, err := h.svc.AuditCounts(r.Context())
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"stats":       h.svc.Stats(),
		"audit":       audit,
		"subscribers": subscribers,
	})
}
