// Package events publishes job status transitions to NATS so polling UIs
// and audit sinks can follow jobs without hitting the artifact store.
// Publication is fire-and-forget: the orchestration flow never fails
// because an event could not be sent.
package events

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/trainchimp/finetune-orchestrator/internal/models"
)

// Connect establishes a NATS connection with reconnect handling suitable
// for a long-lived orchestrator process.
func Connect(natsAddress string, logger *zap.Logger) (*nats.Conn, error) {
	logger.Info("Attempting to connect to NATS server", zap.String("address", natsAddress))

	nc, err := nats.Connect(
		natsAddress,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(50),
		nats.ReconnectWait(time.Second*5),
		nats.Timeout(10*time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", zap.Error(err))
			} else {
				logger.Warn("NATS disconnected (no specific error)")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			logger.Warn("NATS connection closed permanently. Will not attempt to reconnect.")
		}),
	)
	if err != nil {
		logger.Error("Failed to connect to NATS after retries", zap.Error(err))
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", natsAddress, err)
	}

	logger.Info("Successfully connected to NATS", zap.String("url", nc.ConnectedUrl()))
	return nc, nil
}

// Publisher publishes JobStatusUpdate messages on
// <subjectPrefix>.<jobID with / replaced by ->.
type Publisher struct {
	nc            *nats.Conn
	logger        *zap.Logger
	subjectPrefix string
}

// NewPublisher creates a status publisher over an established connection.
func NewPublisher(nc *nats.Conn, subjectPrefix string, logger *zap.Logger) *Publisher {
	return &Publisher{
		nc:            nc,
		logger:        logger.Named("events"),
		subjectPrefix: subjectPrefix,
	}
}

// PublishJobStatus sends a status update. Errors are returned so callers
// can log them, but callers must not treat them as fatal.
func (p *Publisher) PublishJobStatus(update *models.JobStatusUpdate) error {
	data, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("failed to marshal status update for %s: %w", update.JobID, err)
	}

	// Artifact IDs are namespace/name; '/' is not a valid subject token.
	subject := p.subjectPrefix + "." + strings.ReplaceAll(update.JobID, "/", "-")
	if err := p.nc.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish status update to %s: %w", subject, err)
	}

	p.logger.Debug("Published job status update",
		zap.String("subject", subject),
		zap.String("job_id", update.JobID),
		zap.String("status", string(update.Status)),
	)
	return nil
}
