// Package datasets checks that a referenced training dataset actually
// exists in S3-compatible object storage before any job state is created.
// Verification runs before all other side effects, so a missing dataset
// never needs compensation.
package datasets

import (
	"context"
	"fmt"
	"path"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/trainchimp/finetune-orchestrator/internal/models"
)

// datasetObject is the file every uploaded dataset must contain.
const datasetObject = "data.jsonl"

// StorageConfig holds the object storage connection settings.
type StorageConfig struct {
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UseSSL          bool   `yaml:"use_ssl"`
	Bucket          string `yaml:"bucket"`
}

// Verifier checks dataset existence in a bucket laid out as
// datasets/<ref>/data.jsonl.
type Verifier struct {
	client *minio.Client
	logger *zap.Logger
	bucket string
}

// NewVerifier creates a dataset verifier backed by the configured
// S3-compatible endpoint.
func NewVerifier(cfg StorageConfig, logger *zap.Logger) (*Verifier, error) {
	logger.Info("Initializing dataset storage client",
		zap.String("endpoint", cfg.Endpoint),
		zap.Bool("useSSL", cfg.UseSSL),
		zap.String("bucket", cfg.Bucket),
	)

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create object storage client: %w", err)
	}

	return &Verifier{
		client: client,
		logger: logger.Named("datasets"),
		bucket: cfg.Bucket,
	}, nil
}

// Verify returns models.ErrDatasetNotFound when the dataset's data file is
// absent, and a plain error when the storage call itself fails.
func (v *Verifier) Verify(ctx context.Context, datasetRef string) error {
	key := path.Join("datasets", datasetRef, datasetObject)
	v.logger.Debug("Checking dataset object", zap.String("bucket", v.bucket), zap.String("key", key))

	_, err := v.client.StatObject(ctx, v.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		errResp := minio.ToErrorResponse(err)
		if errResp.Code == "NoSuchKey" || errResp.Code == "NoSuchBucket" {
			return fmt.Errorf("dataset %q: %w", datasetRef, models.ErrDatasetNotFound)
		}
		v.logger.Error("Dataset storage check failed", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("failed to check dataset %q: %w", datasetRef, err)
	}
	return nil
}
