// Package hub is the HTTP client for the external artifact/metadata store
// that serves as the system of record for fine-tune jobs. Each job is one
// model artifact (a namespace/name repository) and job state lives in the
// artifact's string tags. The store has full-overwrite write semantics and
// no concurrency control; read-modify-write cycles belong to the caller.
package hub

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/trainchimp/finetune-orchestrator/internal/models"
)

// Client is an HTTP client for the artifact store API.
type Client struct {
	httpClient *http.Client
	logger     *zap.Logger
	baseURL    string
	token      string
}

// NewClient creates an artifact store client. token is sent as a bearer
// credential on every request.
func NewClient(baseURL, token string, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.Named("hub"),
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
	}
}

type repoRequest struct {
	Type    string `json:"type"`
	Name    string `json:"name"`
	Private bool   `json:"private,omitempty"`
}

type modelResponse struct {
	Tags []string `json:"tags"`
}

type tagsRequest struct {
	Tags []string `json:"tags"`
}

// CreateArtifact creates the model repository backing a job. Failures wrap
// models.ErrArtifactCreation.
func (c *Client) CreateArtifact(ctx context.Context, id string, private bool) error {
	c.logger.Debug("Creating artifact", zap.String("artifact_id", id), zap.Bool("private", private))

	resp, err := c.do(ctx, http.MethodPost, "/api/repos/create", repoRequest{Type: "model", Name: id, Private: private})
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrArtifactCreation, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		c.logger.Warn("Artifact store rejected create",
			zap.String("artifact_id", id),
			zap.Int("status_code", resp.StatusCode),
		)
		return fmt.Errorf("%w: store returned status %d", models.ErrArtifactCreation, resp.StatusCode)
	}
	c.logger.Info("Artifact created", zap.String("artifact_id", id))
	return nil
}

// DeleteArtifact removes the model repository backing a job.
func (c *Client) DeleteArtifact(ctx context.Context, id string) error {
	c.logger.Debug("Deleting artifact", zap.String("artifact_id", id))

	resp, err := c.do(ctx, http.MethodDelete, "/api/repos/delete", repoRequest{Type: "model", Name: id})
	if err != nil {
		return fmt.Errorf("failed to delete artifact %s: %w", id, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("delete artifact %s: store returned status %d", id, resp.StatusCode)
	}
	c.logger.Info("Artifact deleted", zap.String("artifact_id", id))
	return nil
}

// ReadTags fetches the artifact's full tag set.
func (c *Client) ReadTags(ctx context.Context, id string) ([]string, error) {
	resp, err := c.do(ctx, http.MethodGet, "/api/models/"+id, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to read tags for %s: %w", id, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("read tags for %s: store returned status %d", id, resp.StatusCode)
	}

	var model modelResponse
	if err := json.NewDecoder(resp.Body).Decode(&model); err != nil {
		return nil, fmt.Errorf("failed to decode tags for %s: %w", id, err)
	}
	return model.Tags, nil
}

// WriteTags replaces the artifact's tag set wholesale. The store has no
// patch operation, so callers must send the complete set including any
// foreign tags they want to survive.
func (c *Client) WriteTags(ctx context.Context, id string, tagSet []string) error {
	resp, err := c.do(ctx, http.MethodPut, "/api/models/"+id+"/tags", tagsRequest{Tags: tagSet})
	if err != nil {
		return fmt.Errorf("failed to write tags for %s: %w", id, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("write tags for %s: store returned status %d", id, resp.StatusCode)
	}
	c.logger.Debug("Tags written", zap.String("artifact_id", id), zap.Int("count", len(tagSet)))
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to artifact store failed: %w", err)
	}
	return resp, nil
}
