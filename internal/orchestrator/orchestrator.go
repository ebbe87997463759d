// Package orchestrator drives a fine-tune job from submission to the
// GPU-ready handoff: it creates the job's artifact record, writes queued
// state, provisions a GPU instance at the rental provider, and either
// finalizes the artifact to provisioning state or compensates by undoing
// the partial side effects. Everything past the ready handoff (the
// training run itself, later status advances) belongs to the remote
// training workload.
package orchestrator

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/trainchimp/finetune-orchestrator/internal/estimator"
	"github.com/trainchimp/finetune-orchestrator/internal/models"
	"github.com/trainchimp/finetune-orchestrator/internal/provider"
	"github.com/trainchimp/finetune-orchestrator/internal/tags"
)

// ArtifactStore is the slice of the external metadata store this package
// needs. Writes are full overwrites; there is no concurrency control, so
// concurrent writers to one artifact can lose updates (see StartFineTune).
type ArtifactStore interface {
	CreateArtifact(ctx context.Context, id string, private bool) error
	DeleteArtifact(ctx context.Context, id string) error
	ReadTags(ctx context.Context, id string) ([]string, error)
	WriteTags(ctx context.Context, id string, tagSet []string) error
}

// DatasetVerifier checks a dataset reference before any state is created.
type DatasetVerifier interface {
	Verify(ctx context.Context, datasetRef string) error
}

// StatusPublisher emits job status transition events. Publication failures
// are logged and never fail the orchestration flow.
type StatusPublisher interface {
	PublishJobStatus(update *models.JobStatusUpdate) error
}

// Settings holds the orchestrator's static configuration.
type Settings struct {
	// Namespace prefixes artifact IDs (namespace/name form).
	Namespace string
	// PrivateArtifacts controls the visibility of created artifacts.
	PrivateArtifacts bool
	// TrainerEnv is an opaque bundle of credentials and identifiers the
	// remote training process needs; the orchestrator never inspects it.
	TrainerEnv map[string]string
}

// Orchestrator coordinates one provisioning attempt per job creation call.
type Orchestrator struct {
	logger      *zap.Logger
	settings    Settings
	store       ArtifactStore
	provisioner provider.Provisioner
	verifier    DatasetVerifier // optional
	publisher   StatusPublisher // optional
}

// New creates an Orchestrator.
func New(settings Settings, store ArtifactStore, provisioner provider.Provisioner, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		logger:      logger.Named("orchestrator"),
		settings:    settings,
		store:       store,
		provisioner: provisioner,
	}
}

// SetDatasetVerifier enables dataset existence checks before job creation.
func (o *Orchestrator) SetDatasetVerifier(v DatasetVerifier) {
	o.verifier = v
}

// SetStatusPublisher enables job status event publication.
func (o *Orchestrator) SetStatusPublisher(p StatusPublisher) {
	o.publisher = p
}

// StartFineTuneRequest carries a user's job submission.
type StartFineTuneRequest struct {
	Name       string
	BaseModel  string
	DatasetRef string
	Params     models.TrainingParams
	// ParamsBillions optionally overrides the parameter count parsed from
	// BaseModel when sizing the GPU.
	ParamsBillions float64
}

// FineTuneResult is returned once the GPU is ready and the artifact
// reflects provisioning state.
type FineTuneResult struct {
	JobID    string
	Instance *models.GPUInstance
}

// StartFineTune runs the whole sequence as one logical flow:
// verify dataset, create artifact, write queued tags, estimate memory,
// provision, finalize tags. It performs no retries; a failed job must be
// resubmitted as a new job.
//
// On provisioning failure the artifact created here is deleted (and a
// stray instance terminated when the failure names one) before the
// original typed error is returned. The caller is guaranteed the artifact
// is either fully present with status:provisioning or absent; the one
// residual risk is compensation itself failing, which is logged for
// manual cleanup and never masks the original error.
//
// The artifact's tag set is shared mutable state with no transactional
// guarantees: a status update racing a user action on the same artifact
// can silently lose non-status fields. That limitation is inherited from
// the store and deliberately not papered over with locking it does not
// support.
func (o *Orchestrator) StartFineTune(ctx context.Context, req StartFineTuneRequest) (*FineTuneResult, error) {
	if req.Name == "" || req.BaseModel == "" || req.DatasetRef == "" {
		return nil, fmt.Errorf("name, base model and dataset are required: %w", models.ErrInvalidInput)
	}

	jobID := req.Name
	if o.settings.Namespace != "" {
		jobID = o.settings.Namespace + "/" + req.Name
	}

	log := o.logger.With(zap.String("job_id", jobID))
	log.Info("Starting fine-tune job",
		zap.String("base_model", req.BaseModel),
		zap.String("dataset", req.DatasetRef),
	)

	// Everything up to artifact creation is side-effect free, so invalid
	// requests fail without anything to compensate.
	if o.verifier != nil {
		if err := o.verifier.Verify(ctx, req.DatasetRef); err != nil {
			log.Warn("Dataset verification failed", zap.Error(err))
			return nil, err
		}
	}

	requiredGB, err := estimator.EstimateMemoryGB(req.BaseModel, req.ParamsBillions)
	if err != nil {
		log.Warn("Cannot estimate memory requirement", zap.Error(err))
		return nil, err
	}

	instType, err := o.provisioner.SelectInstance(requiredGB)
	if err != nil {
		log.Warn("No instance type fits the memory requirement",
			zap.Float64("required_gb", requiredGB),
			zap.Error(err),
		)
		return nil, err
	}
	log.Info("Sized job",
		zap.Float64("required_gb", requiredGB),
		zap.String("instance_type", instType.ID),
	)

	if err := o.store.CreateArtifact(ctx, jobID, o.settings.PrivateArtifacts); err != nil {
		log.Error("Failed to create artifact", zap.Error(err))
		return nil, err
	}

	queuedAt := time.Now().UTC()
	job := &models.FineTuneJob{
		ID:         jobID,
		Status:     models.StatusQueued,
		BaseModel:  req.BaseModel,
		DatasetRef: req.DatasetRef,
		QueuedAt:   &queuedAt,
	}
	if err := o.store.WriteTags(ctx, jobID, tags.Encode(nil, job)); err != nil {
		// The artifact exists but carries no state; treat it like a failed
		// creation and remove it rather than leave it dangling.
		log.Error("Failed to write initial job state", zap.Error(err))
		o.compensate(ctx, jobID, "", err)
		return nil, fmt.Errorf("%w: initial state write failed: %v", models.ErrArtifactCreation, err)
	}
	o.publishStatus(jobID, models.StatusQueued, "", "job queued")

	instance, err := o.provisioner.Provision(ctx, jobID, requiredGB, o.buildTrainerEnv(jobID, req))
	if err != nil {
		log.Error("Provisioning failed", zap.Error(err))
		o.compensate(ctx, jobID, models.InstanceIDFromError(err), err)
		return nil, err
	}

	if err := o.finalize(ctx, jobID, instance); err != nil {
		log.Error("Failed to finalize job state after provisioning", zap.Error(err))
		o.compensate(ctx, jobID, instance.ProviderID, err)
		return nil, err
	}

	o.publishStatus(jobID, models.StatusProvisioning, instance.InstanceType, "gpu instance ready")
	log.Info("Fine-tune job provisioned",
		zap.String("instance_id", instance.ProviderID),
		zap.String("gpu_type", instance.InstanceType),
		zap.String("cost_per_hr", instance.CostPerHour.String()),
	)
	return &FineTuneResult{JobID: jobID, Instance: instance}, nil
}

// finalize moves the artifact from queued to provisioning with the cost
// and GPU details copied off the instance. Full read-modify-write cycle:
// the old status tag is stripped, owned keys are replaced, foreign tags
// survive untouched.
func (o *Orchestrator) finalize(ctx context.Context, jobID string, instance *models.GPUInstance) error {
	current, err := o.store.ReadTags(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to read current job state: %w", err)
	}

	job := tags.Decode(current)
	job.ID = jobID
	job.Status = models.StatusProvisioning
	job.CostPerHour = instance.CostPerHour
	job.GPUType = instance.InstanceType

	if err := o.store.WriteTags(ctx, jobID, tags.Encode(current, job)); err != nil {
		return fmt.Errorf("failed to write provisioning state: %w", err)
	}
	return nil
}

// compensate undoes the partial side effects of a failed provisioning
// attempt: terminate the stray instance when one exists, then delete the
// artifact created for this call. Compensation failures are logged for
// manual cleanup; the original error is what the caller sees.
func (o *Orchestrator) compensate(ctx context.Context, jobID, instanceID string, cause error) {
	log := o.logger.With(zap.String("job_id", jobID))

	if instanceID != "" {
		if err := o.provisioner.Terminate(ctx, instanceID); err != nil {
			log.Error("Compensation failed: could not terminate instance",
				zap.String("instance_id", instanceID),
				zap.NamedError("original_error", cause),
				zap.Error(err),
			)
		} else {
			log.Info("Terminated stray instance during compensation",
				zap.String("instance_id", instanceID),
			)
		}
	}

	if err := o.store.DeleteArtifact(ctx, jobID); err != nil {
		log.Error("Compensation failed: artifact left behind, flag for manual cleanup",
			zap.NamedError("original_error", cause),
			zap.Error(err),
		)
		return
	}
	log.Info("Deleted artifact during compensation")
}

func (o *Orchestrator) publishStatus(jobID string, status models.JobStatus, gpuType, message string) {
	if o.publisher == nil {
		return
	}
	update := models.NewJobStatusUpdate(jobID, status, message)
	update.GPUType = gpuType
	if err := o.publisher.PublishJobStatus(update); err != nil {
		o.logger.Warn("Failed to publish job status update",
			zap.String("job_id", jobID),
			zap.Error(err),
		)
	}
}

// buildTrainerEnv assembles the environment bundle the remote training
// process expects. The static TrainerEnv (credentials) is merged in
// opaquely; job fields and hyperparameters are named the way the trainer
// image reads them.
func (o *Orchestrator) buildTrainerEnv(jobID string, req StartFineTuneRequest) map[string]string {
	env := make(map[string]string, len(o.settings.TrainerEnv)+8)
	for k, v := range o.settings.TrainerEnv {
		env[k] = v
	}
	env["MODEL_NAME"] = jobID
	env["BASE_MODEL"] = req.BaseModel
	env["DATASET_ID"] = req.DatasetRef
	if req.Params.Epochs > 0 {
		env["EPOCHS"] = strconv.Itoa(req.Params.Epochs)
	}
	if req.Params.BatchSize > 0 {
		env["BATCH_SIZE"] = strconv.Itoa(req.Params.BatchSize)
	}
	if req.Params.LearningRate > 0 {
		env["LEARNING_RATE"] = strconv.FormatFloat(req.Params.LearningRate, 'g', -1, 64)
	}
	if req.Params.LoraRank > 0 {
		env["LORA_RANK"] = strconv.Itoa(req.Params.LoraRank)
	}
	if req.Params.LoraAlpha > 0 {
		env["LORA_ALPHA"] = strconv.FormatFloat(req.Params.LoraAlpha, 'g', -1, 64)
	}
	return env
}
