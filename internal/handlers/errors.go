package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/Brownie44l1/damage-api/internal/model"
	"github.com/Brownie44l1/damage-api/internal/preprocess"
)

const (
	msgModelNotLoaded = "Model not loaded"
	msgNoImage        = "No image data provided"
	msgFormField      = "Image must be sent as binary data or multipart file"
	msgTooLarge       = "Image exceeds maximum upload size"
	msgProcessing     = "Error processing image: "
	msgInternal       = "Internal server error"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// writePipelineError is the single place pipeline failures become responses.
func (h *Handler) writePipelineError(w http.ResponseWriter, r *http.Request, err error) {
	status, message := classify(err)
	if status >= http.StatusInternalServerError {
		h.log.Errorw("request failed", "request_id", requestIDFromContext(r.Context()), "status", status, "error", err)
	} else {
		h.log.Infow("request rejected", "request_id", requestIDFromContext(r.Context()), "status", status, "error", err)
	}
	writeError(w, status, message)
}

func classify(err error) (int, string) {
	var decodeErr *preprocess.DecodeError
	var predictErr *model.PredictionError
	switch {
	case errors.Is(err, model.ErrModelUnavailable):
		return http.StatusInternalServerError, msgModelNotLoaded
	case errors.Is(err, preprocess.ErrEmptyInput):
		return http.StatusBadRequest, msgNoImage
	case errors.Is(err, preprocess.ErrUnsupportedEncoding):
		return http.StatusBadRequest, msgFormField
	case isTooLarge(err):
		return http.StatusRequestEntityTooLarge, msgTooLarge
	case errors.As(err, &decodeErr):
		return http.StatusInternalServerError, msgProcessing + decodeErr.Error()
	case errors.As(err, &predictErr):
		return http.StatusInternalServerError, msgProcessing + predictErr.Error()
	default:
		return http.StatusInternalServerError, msgProcessing + err.Error()
	}
}

func isTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	return errors.As(err, &maxErr)
}
