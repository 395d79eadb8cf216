package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"proteinml/align"
	"proteinml/ml"
	"proteinml/properties"
	"proteinml/service"
)

type errorResponse struct {
	Error string `json:"error"`
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, errorResponse{Error: msg})
}

// statusFor maps service errors to response codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrEmptySequence), errors.Is(err, service.ErrTooManyPairs),
		errors.Is(err, properties.ErrInvalidSequence):
		return http.StatusBadRequest
	case errors.Is(err, align.ErrTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ml.ErrUnknownModel):
		return http.StatusNotFound
	case errors.Is(err, properties.ErrUnavailable), errors.Is(err, ml.ErrPredictorUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func respondError(w http.ResponseWriter, err error) {
	writeError(w, statusFor(err), err.Error())
}

// decodeJSON reads the request body into v and answers the request itself
// when the body is unusable.
func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return false
		}
		writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
		return false
	}
	return true
}
