package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/trainchimp/finetune-orchestrator/internal/models"
	"github.com/trainchimp/finetune-orchestrator/internal/orchestrator"
)

// FineTuneStarter is the slice of the orchestrator this handler needs.
type FineTuneStarter interface {
	StartFineTune(ctx context.Context, req orchestrator.StartFineTuneRequest) (*orchestrator.FineTuneResult, error)
}

// FineTuneHandler exposes the job creation endpoint. Job status has no
// dedicated API here: polling UIs read the decoded tags straight from the
// artifact store.
type FineTuneHandler struct {
	Logger *zap.Logger
	Orc    FineTuneStarter
}

// NewFineTuneHandler creates a new FineTuneHandler.
func NewFineTuneHandler(orc FineTuneStarter, logger *zap.Logger) *FineTuneHandler {
	return &FineTuneHandler{Logger: logger, Orc: orc}
}

// Routes returns the router for the fine-tune API.
func (h *FineTuneHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.StartFineTune)
	return r
}

// StartFineTuneRequest defines the structure for the job submission
// request body.
type StartFineTuneRequest struct {
	Name           string                `json:"name"`
	BaseModel      string                `json:"base_model"`
	DatasetID      string                `json:"dataset_id"`
	ParamsBillions float64               `json:"params_billions,omitempty"`
	TrainingParams models.TrainingParams `json:"training_params"`
}

// StartFineTuneResponse defines the structure for the job submission
// response body.
type StartFineTuneResponse struct {
	JobID       string    `json:"job_id"`
	Status      string    `json:"status"`
	GPUType     string    `json:"gpu_type"`
	CostPerHour string    `json:"cost_per_hr"`
	Address     string    `json:"address,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
	Message     string    `json:"message"`
}

// StartFineTune handles requests to create a fine-tune job. The call is
// synchronous through the whole provisioning handshake, so responses can
// take up to the polling ceiling.
func (h *FineTuneHandler) StartFineTune(w http.ResponseWriter, r *http.Request) {
	var req StartFineTuneRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Logger.Error("Failed to decode fine-tune request", zap.Error(err))
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.Name == "" || req.BaseModel == "" || req.DatasetID == "" {
		http.Error(w, "name, base_model and dataset_id are required fields", http.StatusBadRequest)
		return
	}

	result, err := h.Orc.StartFineTune(r.Context(), orchestrator.StartFineTuneRequest{
		Name:           req.Name,
		BaseModel:      req.BaseModel,
		DatasetRef:     req.DatasetID,
		Params:         req.TrainingParams,
		ParamsBillions: req.ParamsBillions,
	})
	if err != nil {
		h.writeError(w, req.Name, err)
		return
	}

	resp := StartFineTuneResponse{
		JobID:       result.JobID,
		Status:      string(models.StatusProvisioning),
		GPUType:     result.Instance.InstanceType,
		CostPerHour: result.Instance.CostPerHour.String(),
		Address:     result.Instance.Address,
		Timestamp:   time.Now().UTC(),
		Message:     "GPU instance provisioned, training will start shortly",
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.Logger.Error("Failed to encode fine-tune response", zap.Error(err))
	}
}

// writeError maps the orchestrator's error taxonomy onto HTTP statuses.
func (h *FineTuneHandler) writeError(w http.ResponseWriter, name string, err error) {
	h.Logger.Warn("Fine-tune request failed", zap.String("name", name), zap.Error(err))

	switch {
	case errors.Is(err, models.ErrInvalidInput), models.IsInvalidModelRef(err):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case models.IsDatasetNotFound(err):
		http.Error(w, err.Error(), http.StatusNotFound)
	case models.IsNoInstanceAvailable(err):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case models.IsProvisioningTimeout(err):
		http.Error(w, "GPU provisioning timed out", http.StatusGatewayTimeout)
	case models.IsArtifactCreation(err), models.IsProvisioningFailed(err):
		http.Error(w, "Failed to provision fine-tune job", http.StatusBadGateway)
	default:
		http.Error(w, "Internal error", http.StatusInternalServerError)
	}
}
