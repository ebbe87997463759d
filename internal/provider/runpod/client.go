// Package runpod implements the provider.Provisioner interface against the
// RunPod REST API. It owns the RunPod instance catalog, the pod create
// request shape, and the bounded status-polling loop.
package runpod

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/trainchimp/finetune-orchestrator/internal/catalog"
	"github.com/trainchimp/finetune-orchestrator/internal/models"
)

const (
	defaultBaseURL         = "https://rest.runpod.io/v1"
	defaultPollInterval    = 10 * time.Second
	defaultMaxPollAttempts = 30 // 5 minute ceiling at the default interval
	defaultContainerDiskGB = 40

	statusRunning = "RUNNING"
)

// Config holds the settings for the RunPod client. PollInterval and
// MaxPollAttempts are injectable so tests can run the loop deterministically;
// zero values fall back to the defaults above.
type Config struct {
	BaseURL         string
	APIKey          string
	Image           string // training workload image the pod boots into
	StartCommand    string // docker args that pull and run the trainer
	PollInterval    time.Duration
	MaxPollAttempts int
}

// Client talks to the RunPod REST API.
type Client struct {
	httpClient      *http.Client
	logger          *zap.Logger
	baseURL         string
	apiKey          string
	image           string
	startCommand    string
	pollInterval    time.Duration
	maxPollAttempts int
	catalog         catalog.Catalog
}

// NewClient creates a RunPod provisioning client.
func NewClient(cfg Config, logger *zap.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.MaxPollAttempts <= 0 {
		cfg.MaxPollAttempts = defaultMaxPollAttempts
	}
	return &Client{
		httpClient:      &http.Client{Timeout: 30 * time.Second},
		logger:          logger.Named("runpod"),
		baseURL:         strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:          cfg.APIKey,
		image:           cfg.Image,
		startCommand:    cfg.StartCommand,
		pollInterval:    cfg.PollInterval,
		maxPollAttempts: cfg.MaxPollAttempts,
		catalog:         defaultCatalog(),
	}
}

// createPodRequest is the POST /pods body.
type createPodRequest struct {
	Name            string            `json:"name"`
	GPUTypeID       string            `json:"gpuTypeId"`
	GPUCount        int               `json:"gpuCount"`
	ImageName       string            `json:"imageName"`
	DockerArgs      string            `json:"dockerArgs,omitempty"`
	ContainerDiskGB int               `json:"containerDiskInGb"`
	Env             map[string]string `json:"env,omitempty"`
	CloudType       string            `json:"cloudType"`
}

// pod is the subset of the RunPod pod resource this adapter reads.
type pod struct {
	ID            string  `json:"id"`
	DesiredStatus string  `json:"desiredStatus"`
	CostPerHr     float64 `json:"costPerHr"`
	PublicIP      string  `json:"publicIp"`
}

// SelectInstance implements provider.Provisioner.
func (c *Client) SelectInstance(requiredGB float64) (catalog.InstanceType, error) {
	return c.catalog.Select(requiredGB)
}

// Provision implements provider.Provisioner. It creates a pod sized for the
// memory requirement and polls it at a fixed interval until it reports
// RUNNING. The loop is intentionally simple: fixed interval, fixed ceiling,
// no backoff, and any poll error stops it immediately. A provider slower
// than the ceiling yields a hard *models.ProvisionTimeoutError rather than
// a longer wait; no retry is attempted here.
func (c *Client) Provision(ctx context.Context, artifactID string, requiredGB float64, env map[string]string) (*models.GPUInstance, error) {
	instType, err := c.catalog.Select(requiredGB)
	if err != nil {
		return nil, err
	}

	podName := podNameFor(artifactID)
	c.logger.Info("Submitting pod create request",
		zap.String("artifact_id", artifactID),
		zap.String("pod_name", podName),
		zap.String("gpu_type", instType.ID),
		zap.Float64("required_gb", requiredGB),
	)

	created, err := c.createPod(ctx, createPodRequest{
		Name:            podName,
		GPUTypeID:       instType.ID,
		GPUCount:        1,
		ImageName:       c.image,
		DockerArgs:      c.startCommand,
		ContainerDiskGB: defaultContainerDiskGB,
		Env:             env,
		CloudType:       "SECURE",
	})
	if err != nil {
		return nil, err
	}

	c.logger.Info("Pod created, polling for running state",
		zap.String("pod_id", created.ID),
		zap.Duration("interval", c.pollInterval),
		zap.Int("max_attempts", c.maxPollAttempts),
	)

	for attempt := 1; attempt <= c.maxPollAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("polling pod %s cancelled: %w", created.ID, ctx.Err())
		case <-time.After(c.pollInterval):
		}

		current, err := c.getPod(ctx, created.ID)
		if err != nil {
			// Provider-level poll errors are not retryable.
			return nil, models.NewProvisionError("GetPod", created.ID, "status poll failed", err)
		}

		c.logger.Debug("Poll result",
			zap.String("pod_id", created.ID),
			zap.Int("attempt", attempt),
			zap.String("status", current.DesiredStatus),
		)

		if current.DesiredStatus == statusRunning {
			c.logger.Info("Pod is running",
				zap.String("pod_id", created.ID),
				zap.String("address", current.PublicIP),
				zap.Float64("cost_per_hr", current.CostPerHr),
			)
			return c.toInstance(current, instType), nil
		}
	}

	return nil, &models.ProvisionTimeoutError{
		InstanceID: created.ID,
		Attempts:   c.maxPollAttempts,
		Interval:   c.pollInterval,
	}
}

// Terminate implements provider.Provisioner.
func (c *Client) Terminate(ctx context.Context, instanceID string) error {
	req, err := c.newRequest(ctx, http.MethodDelete, "/pods/"+instanceID, nil)
	if err != nil {
		return fmt.Errorf("failed to create terminate request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to terminate pod %s: %w", instanceID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("terminate pod %s: runpod returned status %d", instanceID, resp.StatusCode)
	}
	c.logger.Info("Pod terminated", zap.String("pod_id", instanceID))
	return nil
}

func (c *Client) createPod(ctx context.Context, body createPodRequest) (*pod, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, models.NewProvisionError("CreatePod", "", "failed to marshal request", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/pods", bytes.NewReader(payload))
	if err != nil {
		return nil, models.NewProvisionError("CreatePod", "", "failed to create request", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, models.NewProvisionError("CreatePod", "", "submission failed", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		reason := fmt.Sprintf("runpod returned status %d", resp.StatusCode)
		if msg := readErrorBody(resp.Body); msg != "" {
			reason = fmt.Sprintf("%s: %s", reason, msg)
		}
		return nil, models.NewProvisionError("CreatePod", "", reason, nil)
	}

	var created pod
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return nil, models.NewProvisionError("CreatePod", "", "failed to decode response", err)
	}
	if created.ID == "" {
		return nil, models.NewProvisionError("CreatePod", "", "response carried no pod id", nil)
	}
	return &created, nil
}

func (c *Client) getPod(ctx context.Context, id string) (*pod, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/pods/"+id, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to get pod: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("runpod returned status %d for pod %s", resp.StatusCode, id)
	}

	var current pod
	if err := json.NewDecoder(resp.Body).Decode(&current); err != nil {
		return nil, fmt.Errorf("failed to decode pod: %w", err)
	}
	return &current, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) toInstance(p *pod, instType catalog.InstanceType) *models.GPUInstance {
	cost := instType.CostPerHour
	if p.CostPerHr > 0 {
		// Prefer the realized rate the provider reports over the catalog rate.
		cost = decimal.NewFromFloat(p.CostPerHr)
	}
	return &models.GPUInstance{
		ProviderID:     p.ID,
		InstanceType:   instType.ID,
		MemoryGB:       instType.MemoryGB,
		CostPerHour:    cost,
		Address:        p.PublicIP,
		ProviderStatus: p.DesiredStatus,
	}
}

// podNameFor derives a unique pod name from the artifact ID plus a
// timestamp, so resubmissions of the same job never collide at the
// provider.
func podNameFor(artifactID string) string {
	name := strings.ReplaceAll(artifactID, "/", "-")
	return fmt.Sprintf("%s-%d-%s", name, time.Now().Unix(), uuid.New().String()[:8])
}

func readErrorBody(r io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(r, 512))
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(data))
}
