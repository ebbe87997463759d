package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// GPUInstance describes a remote GPU-backed compute resource returned by a
// provisioning adapter. It is transient: the orchestration call that
// requested it owns it exclusively, and only the job fields copied out of
// it are persisted. The instance itself is terminated either by the remote
// training workload on completion, or by the orchestrator's compensation
// path when provisioning fails partway through.
type GPUInstance struct {
	ProviderID     string          `json:"provider_id"`
	InstanceType   string          `json:"instance_type"`
	MemoryGB       float64         `json:"memory_gb"`
	CostPerHour    decimal.Decimal `json:"cost_per_hour"`
	Address        string          `json:"address,omitempty"`
	ProviderStatus string          `json:"provider_status"`
}

// JobStatusUpdate is the message published to NATS when a job transitions
// state. Consumers (UI pollers, audit sinks) are outside this service.
type JobStatusUpdate struct {
	JobID       string          `json:"job_id"`
	Status      JobStatus       `json:"status"`
	GPUType     string          `json:"gpu_type,omitempty"`
	CostPerHour decimal.Decimal `json:"cost_per_hour,omitempty"`
	Message     string          `json:"message,omitempty"`
	Timestamp   time.Time       `json:"timestamp"`
}

// NewJobStatusUpdate creates a JobStatusUpdate stamped with the current time.
func NewJobStatusUpdate(jobID string, status JobStatus, message string) *JobStatusUpdate {
	return &JobStatusUpdate{
		JobID:     jobID,
		Status:    status,
		Message:   message,
		Timestamp: time.Now().UTC(),
	}
}
