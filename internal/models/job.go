package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// JobStatus represents the lifecycle state of a fine-tune job.
type JobStatus string

const (
	StatusQueued       JobStatus = "queued"
	StatusProvisioning JobStatus = "provisioning"
	StatusLoadingModel JobStatus = "loading_model"
	StatusTraining     JobStatus = "training"
	StatusCompleted    JobStatus = "completed"
	StatusFailed       JobStatus = "failed"
)

// TrainingParams holds the user-supplied LoRA training hyperparameters.
// The orchestrator does not interpret these; they are forwarded to the
// remote training process through its environment.
type TrainingParams struct {
	Epochs       int     `json:"epochs"`
	BatchSize    int     `json:"batch_size,omitempty"`
	LearningRate float64 `json:"learning_rate,omitempty"`
	LoraRank     int     `json:"lora_rank,omitempty"`
	LoraAlpha    float64 `json:"lora_alpha,omitempty"`
}

// FineTuneJob is the structured view of a job's lifecycle state. It is not
// stored as a row anywhere: the system of record is the tag set on the
// job's artifact in the external metadata store, and this struct is what
// those tags encode to and decode from.
//
// BaseModel and DatasetRef are immutable once written. Each timestamp is
// set exactly once and they are monotonically ordered when present.
// ErrorDetail is only present when Status is StatusFailed.
type FineTuneJob struct {
	ID                string          `json:"id"` // namespace/name form, immutable
	Status            JobStatus       `json:"status"`
	BaseModel         string          `json:"base_model"`
	DatasetRef        string          `json:"dataset_ref"`
	CostPerHour       decimal.Decimal `json:"cost_per_hour"`
	GPUType           string          `json:"gpu_type,omitempty"`
	QueuedAt          *time.Time      `json:"queued_at,omitempty"`
	StartedAt         *time.Time      `json:"started_at,omitempty"`
	StartedTrainingAt *time.Time      `json:"started_training_at,omitempty"`
	CompletedAt       *time.Time      `json:"completed_at,omitempty"`
	ErrorDetail       string          `json:"error_detail,omitempty"`
}
