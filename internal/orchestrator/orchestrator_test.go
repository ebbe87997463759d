package orchestrator

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/trainchimp/finetune-orchestrator/internal/catalog"
	"github.com/trainchimp/finetune-orchestrator/internal/models"
	"github.com/trainchimp/finetune-orchestrator/internal/tags"
)

type fakeStore struct {
	tags      map[string][]string
	created   []string
	deleted   []string
	createErr error
	writeErr  error
	readErr   error
	deleteErr error
}

func newFakeStore() *fakeStore {
	return &fakeStore{tags: make(map[string][]string)}
}

func (s *fakeStore) CreateArtifact(ctx context.Context, id string, private bool) error {
	if s.createErr != nil {
		return s.createErr
	}
	s.created = append(s.created, id)
	s.tags[id] = nil
	return nil
}

func (s *fakeStore) DeleteArtifact(ctx context.Context, id string) error {
	if s.deleteErr != nil {
		return s.deleteErr
	}
	s.deleted = append(s.deleted, id)
	delete(s.tags, id)
	return nil
}

func (s *fakeStore) ReadTags(ctx context.Context, id string) ([]string, error) {
	if s.readErr != nil {
		return nil, s.readErr
	}
	return s.tags[id], nil
}

func (s *fakeStore) WriteTags(ctx context.Context, id string, tagSet []string) error {
	if s.writeErr != nil {
		return s.writeErr
	}
	s.tags[id] = tagSet
	return nil
}

type fakeProvisioner struct {
	cat            catalog.Catalog
	instance       *models.GPUInstance
	provisionErr   error
	terminateErr   error
	provisionCalls int
	terminated     []string
	lastEnv        map[string]string
}

func newFakeProvisioner() *fakeProvisioner {
	return &fakeProvisioner{
		cat: catalog.New([]catalog.InstanceType{
			{ID: "NVIDIA RTX A5000", MemoryGB: 24, CostPerHour: decimal.RequireFromString("0.43")},
			{ID: "NVIDIA A40", MemoryGB: 48, CostPerHour: decimal.RequireFromString("0.79")},
		}),
		instance: &models.GPUInstance{
			ProviderID:     "pod-1",
			InstanceType:   "NVIDIA RTX A5000",
			MemoryGB:       24,
			CostPerHour:    decimal.RequireFromString("0.43"),
			Address:        "203.0.113.7",
			ProviderStatus: "RUNNING",
		},
	}
}

func (p *fakeProvisioner) SelectInstance(requiredGB float64) (catalog.InstanceType, error) {
	return p.cat.Select(requiredGB)
}

func (p *fakeProvisioner) Provision(ctx context.Context, artifactID string, requiredGB float64, env map[string]string) (*models.GPUInstance, error) {
	p.provisionCalls++
	p.lastEnv = env
	if p.provisionErr != nil {
		return nil, p.provisionErr
	}
	return p.instance, nil
}

func (p *fakeProvisioner) Terminate(ctx context.Context, instanceID string) error {
	p.terminated = append(p.terminated, instanceID)
	return p.terminateErr
}

type fakePublisher struct {
	updates []*models.JobStatusUpdate
	err     error
}

func (f *fakePublisher) PublishJobStatus(update *models.JobStatusUpdate) error {
	f.updates = append(f.updates, update)
	return f.err
}

type fakeVerifier struct {
	err   error
	calls []string
}

func (f *fakeVerifier) Verify(ctx context.Context, datasetRef string) error {
	f.calls = append(f.calls, datasetRef)
	return f.err
}

func testRequest() StartFineTuneRequest {
	return StartFineTuneRequest{
		Name:       "llama-ft",
		BaseModel:  "meta-llama/Llama-3.2-1B-Instruct",
		DatasetRef: "alpaca-cleaned",
		Params:     models.TrainingParams{Epochs: 3, BatchSize: 8, LearningRate: 2e-4, LoraRank: 16, LoraAlpha: 32},
	}
}

func newTestOrchestrator(store *fakeStore, prov *fakeProvisioner) *Orchestrator {
	return New(Settings{
		Namespace:        "acme",
		PrivateArtifacts: true,
		TrainerEnv:       map[string]string{"HF_TOKEN": "secret"},
	}, store, prov, zap.NewNop())
}

func TestStartFineTuneHappyPath(t *testing.T) {
	store := newFakeStore()
	prov := newFakeProvisioner()
	o := newTestOrchestrator(store, prov)

	res, err := o.StartFineTune(context.Background(), testRequest())
	require.NoError(t, err)

	assert.Equal(t, "acme/llama-ft", res.JobID)
	assert.Equal(t, "pod-1", res.Instance.ProviderID)
	assert.Equal(t, []string{"acme/llama-ft"}, store.created)
	assert.Empty(t, store.deleted)

	// A 1B model needs 3 GB; the 24GB entry is the smallest that fits.
	job := tags.Decode(store.tags["acme/llama-ft"])
	assert.Equal(t, models.StatusProvisioning, job.Status)
	assert.Equal(t, "meta-llama/Llama-3.2-1B-Instruct", job.BaseModel)
	assert.Equal(t, "alpaca-cleaned", job.DatasetRef)
	assert.Equal(t, "NVIDIA RTX A5000", job.GPUType)
	assert.True(t, job.CostPerHour.Equal(decimal.RequireFromString("0.43")))
	assert.NotNil(t, job.QueuedAt)
	assert.WithinDuration(t, time.Now().UTC(), *job.QueuedAt, time.Minute)

	statusTags := 0
	for _, tag := range store.tags["acme/llama-ft"] {
		if strings.HasPrefix(tag, "status:") {
			statusTags++
		}
	}
	assert.Equal(t, 1, statusTags)
}

func TestStartFineTuneTrainerEnv(t *testing.T) {
	store := newFakeStore()
	prov := newFakeProvisioner()
	o := newTestOrchestrator(store, prov)

	_, err := o.StartFineTune(context.Background(), testRequest())
	require.NoError(t, err)

	env := prov.lastEnv
	assert.Equal(t, "acme/llama-ft", env["MODEL_NAME"])
	assert.Equal(t, "meta-llama/Llama-3.2-1B-Instruct", env["BASE_MODEL"])
	assert.Equal(t, "alpaca-cleaned", env["DATASET_ID"])
	assert.Equal(t, "3", env["EPOCHS"])
	assert.Equal(t, "8", env["BATCH_SIZE"])
	assert.Equal(t, "0.0002", env["LEARNING_RATE"])
	assert.Equal(t, "16", env["LORA_RANK"])
	assert.Equal(t, "32", env["LORA_ALPHA"])
	assert.Equal(t, "secret", env["HF_TOKEN"])
}

func TestStartFineTunePublishesStatusEvents(t *testing.T) {
	store := newFakeStore()
	prov := newFakeProvisioner()
	pub := &fakePublisher{}
	o := newTestOrchestrator(store, prov)
	o.SetStatusPublisher(pub)

	_, err := o.StartFineTune(context.Background(), testRequest())
	require.NoError(t, err)

	require.Len(t, pub.updates, 2)
	assert.Equal(t, models.StatusQueued, pub.updates[0].Status)
	assert.Equal(t, models.StatusProvisioning, pub.updates[1].Status)
	assert.Equal(t, "NVIDIA RTX A5000", pub.updates[1].GPUType)
}

func TestStartFineTunePublishFailureDoesNotFailFlow(t *testing.T) {
	store := newFakeStore()
	prov := newFakeProvisioner()
	pub := &fakePublisher{err: errors.New("nats down")}
	o := newTestOrchestrator(store, prov)
	o.SetStatusPublisher(pub)

	_, err := o.StartFineTune(context.Background(), testRequest())
	assert.NoError(t, err)
}

func TestStartFineTuneMissingFields(t *testing.T) {
	store := newFakeStore()
	prov := newFakeProvisioner()
	o := newTestOrchestrator(store, prov)

	req := testRequest()
	req.DatasetRef = ""
	_, err := o.StartFineTune(context.Background(), req)
	require.Error(t, err)
	assert.True(t, errors.Is(err, models.ErrInvalidInput))
	assert.Empty(t, store.created)
}

func TestStartFineTuneInvalidModelRef(t *testing.T) {
	store := newFakeStore()
	prov := newFakeProvisioner()
	o := newTestOrchestrator(store, prov)

	req := testRequest()
	req.BaseModel = "my-custom-model"
	_, err := o.StartFineTune(context.Background(), req)
	require.Error(t, err)
	assert.True(t, models.IsInvalidModelRef(err))
	assert.Empty(t, store.created)
	assert.Zero(t, prov.provisionCalls)
}

func TestStartFineTuneDatasetNotFound(t *testing.T) {
	store := newFakeStore()
	prov := newFakeProvisioner()
	o := newTestOrchestrator(store, prov)
	o.SetDatasetVerifier(&fakeVerifier{err: models.ErrDatasetNotFound})

	_, err := o.StartFineTune(context.Background(), testRequest())
	require.Error(t, err)
	assert.True(t, models.IsDatasetNotFound(err))
	assert.Empty(t, store.created)
	assert.Zero(t, prov.provisionCalls)
}

func TestStartFineTuneNoInstanceAvailable(t *testing.T) {
	store := newFakeStore()
	prov := newFakeProvisioner()
	o := newTestOrchestrator(store, prov)

	// 200B parameters need 600 GB; nothing in the catalog is close.
	req := testRequest()
	req.ParamsBillions = 200

	_, err := o.StartFineTune(context.Background(), req)
	require.Error(t, err)
	assert.True(t, models.IsNoInstanceAvailable(err))

	// Sizing happens before any side effect: no artifact, no provider call.
	assert.Empty(t, store.created)
	assert.Empty(t, store.deleted)
	assert.Zero(t, prov.provisionCalls)
}

func TestStartFineTuneArtifactCreationFails(t *testing.T) {
	store := newFakeStore()
	store.createErr = models.ErrArtifactCreation
	prov := newFakeProvisioner()
	o := newTestOrchestrator(store, prov)

	_, err := o.StartFineTune(context.Background(), testRequest())
	require.Error(t, err)
	assert.True(t, models.IsArtifactCreation(err))
	assert.Zero(t, prov.provisionCalls)
}

func TestStartFineTuneInitialWriteFailsDeletesArtifact(t *testing.T) {
	store := newFakeStore()
	store.writeErr = errors.New("store unavailable")
	prov := newFakeProvisioner()
	o := newTestOrchestrator(store, prov)

	_, err := o.StartFineTune(context.Background(), testRequest())
	require.Error(t, err)
	assert.True(t, models.IsArtifactCreation(err))
	assert.Equal(t, []string{"acme/llama-ft"}, store.deleted)
	assert.Zero(t, prov.provisionCalls)
}

func TestStartFineTuneProvisionFailureCompensates(t *testing.T) {
	store := newFakeStore()
	prov := newFakeProvisioner()
	prov.provisionErr = models.NewProvisionError("CreatePod", "", "runpod returned status 503", nil)
	o := newTestOrchestrator(store, prov)

	_, err := o.StartFineTune(context.Background(), testRequest())
	require.Error(t, err)
	assert.True(t, models.IsProvisioningFailed(err))

	// The artifact created for this job no longer exists.
	assert.Equal(t, []string{"acme/llama-ft"}, store.deleted)
	_, exists := store.tags["acme/llama-ft"]
	assert.False(t, exists)

	// No instance was created, so nothing to terminate.
	assert.Empty(t, prov.terminated)
}

func TestStartFineTuneTimeoutCompensatesAndTerminates(t *testing.T) {
	store := newFakeStore()
	prov := newFakeProvisioner()
	prov.provisionErr = &models.ProvisionTimeoutError{
		InstanceID: "pod-9",
		Attempts:   30,
		Interval:   10 * time.Second,
	}
	o := newTestOrchestrator(store, prov)

	_, err := o.StartFineTune(context.Background(), testRequest())
	require.Error(t, err)
	assert.True(t, models.IsProvisioningTimeout(err))

	// The stray pod named by the timeout is terminated, then the artifact removed.
	assert.Equal(t, []string{"pod-9"}, prov.terminated)
	assert.Equal(t, []string{"acme/llama-ft"}, store.deleted)
}

func TestStartFineTuneCompensationFailureKeepsOriginalError(t *testing.T) {
	store := newFakeStore()
	store.deleteErr = errors.New("store unavailable")
	prov := newFakeProvisioner()
	prov.provisionErr = models.NewProvisionError("CreatePod", "", "no capacity", nil)
	prov.terminateErr = errors.New("terminate failed too")
	o := newTestOrchestrator(store, prov)

	_, err := o.StartFineTune(context.Background(), testRequest())
	require.Error(t, err)
	// The caller sees the provisioning failure, never the cleanup failure.
	assert.True(t, models.IsProvisioningFailed(err))
	assert.NotContains(t, err.Error(), "store unavailable")
}

func TestStartFineTuneFinalizeFailureCompensates(t *testing.T) {
	store := newFakeStore()
	store.readErr = errors.New("store unavailable")
	prov := newFakeProvisioner()
	o := newTestOrchestrator(store, prov)

	_, err := o.StartFineTune(context.Background(), testRequest())
	require.Error(t, err)
	assert.Equal(t, []string{"pod-1"}, prov.terminated)
	assert.Equal(t, []string{"acme/llama-ft"}, store.deleted)
}

func TestFinalizePreservesForeignTags(t *testing.T) {
	store := newFakeStore()
	prov := newFakeProvisioner()
	o := newTestOrchestrator(store, prov)

	// The store may attach its own metadata between the initial write and
	// finalize, the way repo frameworks auto-tag new repositories.
	now := time.Now().UTC()
	queued := tags.Encode(nil, &models.FineTuneJob{Status: models.StatusQueued, QueuedAt: &now})
	store.tags["acme/llama-ft"] = append(queued, "license:apache-2.0")

	require.NoError(t, o.finalize(context.Background(), "acme/llama-ft", prov.instance))

	final := store.tags["acme/llama-ft"]
	assert.Contains(t, final, "license:apache-2.0")
	job := tags.Decode(final)
	assert.Equal(t, models.StatusProvisioning, job.Status)
	assert.Equal(t, "NVIDIA RTX A5000", job.GPUType)
	assert.NotNil(t, job.QueuedAt)
}

// TestTagWritesLastWriterWins documents the store's known lost-update
// hazard: two writers that read the same snapshot and write back clobber
// each other, because tag writes replace the whole set with no versioning.
func TestTagWritesLastWriterWins(t *testing.T) {
	store := newFakeStore()
	ctx := context.Background()
	jobID := "acme/llama-ft"

	now := time.Now().UTC()
	seed := tags.Encode(nil, &models.FineTuneJob{Status: models.StatusQueued, QueuedAt: &now})
	require.NoError(t, store.WriteTags(ctx, jobID, seed))

	snapshot, err := store.ReadTags(ctx, jobID)
	require.NoError(t, err)

	// Writer A advances status from the snapshot.
	jobA := tags.Decode(snapshot)
	jobA.Status = models.StatusTraining
	require.NoError(t, store.WriteTags(ctx, jobID, tags.Encode(snapshot, jobA)))

	// Writer B, holding the same stale snapshot, records an error.
	jobB := tags.Decode(snapshot)
	jobB.Status = models.StatusFailed
	jobB.ErrorDetail = "OOM during training"
	require.NoError(t, store.WriteTags(ctx, jobID, tags.Encode(snapshot, jobB)))

	final := tags.Decode(store.tags[jobID])
	assert.Equal(t, models.StatusFailed, final.Status)
	// Writer A's transition is gone without a trace.
	assert.NotEqual(t, models.StatusTraining, final.Status)
}
