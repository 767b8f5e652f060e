package handlers

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/Brownie44l1/damage-api/internal/model"
	"github.com/Brownie44l1/damage-api/internal/prediction"
	"github.com/Brownie44l1/damage-api/internal/preprocess"
)

type Options struct {
	// Model is nil when loading failed at startup.
	Model          model.Model
	ModelName      string
	Architecture   string
	MaxUploadBytes int64
	Logger         *zap.SugaredLogger
}

type Handler struct {
	model          model.Model
	modelName      string
	architecture   string
	maxUploadBytes int64
	log            *zap.SugaredLogger
}

func NewHandler(opts Options) *Handler {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	maxUpload := opts.MaxUploadBytes
	if maxUpload <= 0 {
		maxUpload = 32 << 20
	}
	return &Handler{
		model:          opts.Model,
		modelName:      opts.ModelName,
		architecture:   opts.Architecture,
		maxUploadBytes: maxUpload,
		log:            log,
	}
}

type inferenceResponse struct {
	Prediction prediction.Label `json:"prediction"`
}

type healthResponse struct {
	Status      string `json:"status"`
	ModelLoaded bool   `json:"model_loaded"`
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "healthy", ModelLoaded: h.model != nil})
}

func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	summary, err := model.Describe(h.model, h.modelName, h.architecture)
	if err != nil {
		h.writePipelineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) Inference(w http.ResponseWriter, r *http.Request) {
	if h.model == nil {
		h.writePipelineError(w, r, model.ErrModelUnavailable)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	raw, err := h.readImage(r)
	if err != nil {
		h.writePipelineError(w, r, err)
		return
	}

	tensor, err := preprocess.Normalize(raw)
	if err != nil {
		h.writePipelineError(w, r, err)
		return
	}

	probability, err := h.model.Predict(tensor)
	if err != nil {
		h.writePipelineError(w, r, err)
		return
	}

	label := prediction.Map(probability)
	h.log.Infow("prediction",
		"request_id", requestIDFromContext(r.Context()),
		"encoding", raw.Encoding.String(),
		"bytes", len(raw.Data),
		"probability", probability,
		"label", label)
	writeJSON(w, http.StatusOK, inferenceResponse{Prediction: label})
}
