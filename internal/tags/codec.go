// Package tags encodes fine-tune job state to and from the flat string tag
// set stored on a job's artifact in the external metadata store. A tag is a
// single "key:value" string; this is the sole persistence mechanism for job
// state, and the store offers full-overwrite write semantics with no
// concurrency control. Every transition is therefore a read, filter,
// append, write-back cycle performed by the caller, and two concurrent
// writers to the same artifact can silently clobber each other.
package tags

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/trainchimp/finetune-orchestrator/internal/models"
)

// Tag keys owned by this scheme. Anything else attached to the artifact is
// foreign metadata: Encode preserves it verbatim, Decode ignores it.
const (
	KeyStatus            = "status"
	KeyBaseModel         = "base_model"
	KeyDataset           = "dataset"
	KeyCostPerHour       = "costPerHr"
	KeyGPU               = "gpu"
	KeyQueuedAt          = "queued_at"
	KeyStartedAt         = "started_at"
	KeyStartedTrainingAt = "started_training_at"
	KeyCompletedAt       = "completed_at"
	KeyError             = "error"
)

var ownedKeys = map[string]bool{
	KeyStatus:            true,
	KeyBaseModel:         true,
	KeyDataset:           true,
	KeyCostPerHour:       true,
	KeyGPU:               true,
	KeyQueuedAt:          true,
	KeyStartedAt:         true,
	KeyStartedTrainingAt: true,
	KeyCompletedAt:       true,
	KeyError:             true,
}

// Encode renders the job into the existing tag set, returning the full set
// to write back. Foreign tags pass through untouched. Every key owned by
// this scheme is removed before its new value is appended, so repeated
// encode cycles never accumulate duplicates and at most one "status:*" tag
// exists at any time. Unpopulated fields emit no tag.
func Encode(existing []string, job *models.FineTuneJob) []string {
	out := make([]string, 0, len(existing)+10)
	for _, t := range existing {
		if !ownedKeys[keyOf(t)] {
			out = append(out, t)
		}
	}

	if job.Status != "" {
		out = append(out, KeyStatus+":"+string(job.Status))
	}
	if job.BaseModel != "" {
		out = append(out, KeyBaseModel+":"+job.BaseModel)
	}
	if job.DatasetRef != "" {
		out = append(out, KeyDataset+":"+job.DatasetRef)
	}
	if !job.CostPerHour.IsZero() {
		out = append(out, KeyCostPerHour+":"+job.CostPerHour.String())
	}
	if job.GPUType != "" {
		out = append(out, KeyGPU+":"+job.GPUType)
	}
	out = appendTimestamp(out, KeyQueuedAt, job.QueuedAt)
	out = appendTimestamp(out, KeyStartedAt, job.StartedAt)
	out = appendTimestamp(out, KeyStartedTrainingAt, job.StartedTrainingAt)
	out = appendTimestamp(out, KeyCompletedAt, job.CompletedAt)
	if job.ErrorDetail != "" {
		out = append(out, KeyError+":"+job.ErrorDetail)
	}
	return out
}

// Decode parses a tag set back into structured job state. Decoding is
// partial: fields whose tags are missing or unparseable are left absent,
// never defaulted. Foreign tags are tolerated and skipped. When legacy
// writers left duplicate tags for an owned key, the last occurrence wins,
// since older encoders appended newer values after stale ones.
func Decode(tagSet []string) *models.FineTuneJob {
	job := &models.FineTuneJob{}
	for _, t := range tagSet {
		key, value, found := strings.Cut(t, ":")
		if !found || value == "" {
			continue
		}
		switch key {
		case KeyStatus:
			job.Status = models.JobStatus(value)
		case KeyBaseModel:
			job.BaseModel = value
		case KeyDataset:
			job.DatasetRef = value
		case KeyCostPerHour:
			if cost, err := decimal.NewFromString(value); err == nil {
				job.CostPerHour = cost
			}
		case KeyGPU:
			job.GPUType = value
		case KeyQueuedAt:
			job.QueuedAt = parseTimestamp(value, job.QueuedAt)
		case KeyStartedAt:
			job.StartedAt = parseTimestamp(value, job.StartedAt)
		case KeyStartedTrainingAt:
			job.StartedTrainingAt = parseTimestamp(value, job.StartedTrainingAt)
		case KeyCompletedAt:
			job.CompletedAt = parseTimestamp(value, job.CompletedAt)
		case KeyError:
			job.ErrorDetail = value
		}
	}
	return job
}

func appendTimestamp(out []string, key string, ts *time.Time) []string {
	if ts == nil {
		return out
	}
	return append(out, key+":"+ts.UTC().Format(time.RFC3339))
}

func parseTimestamp(value string, prev *time.Time) *time.Time {
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return prev
	}
	return &ts
}

func keyOf(tag string) string {
	key, _, _ := strings.Cut(tag, ":")
	return key
}
