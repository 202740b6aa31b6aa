// Package events fans job events out over RabbitMQ and keeps task records up to date from them.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/ucloud-orchestrator/internal/domain"
	"github.com/cuongbtq/ucloud-orchestrator/internal/observability"
)

const contentTypeJSON = "application/json"

// Broker publishes raw messages.
type Broker interface {
	PublishWithRetry(ctx context.Context, body []byte, contentType string) error
}

// Publisher sends job events to the broker.
type Publisher struct {
	broker  Broker
	metrics *observability.Metrics
	logger  *slog.Logger
}

func NewPublisher(broker Broker, metrics *observability.Metrics, logger *slog.Logger) *Publisher {
	return &Publisher{broker: broker, metrics: metrics, logger: logger}
}

// Publish encodes event as JSON and publishes it.
func (p *Publisher) Publish(ctx context.Context, event domain.JobEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode job event: %w", err)
	}
	err = p.broker.PublishWithRetry(ctx, body, contentTypeJSON)
	p.metrics.RecordEventPublished(ctx, string(event.Kind), err)
	if err != nil {
		return fmt.Errorf("failed to publish %s event for job %s: %w", event.Kind, event.JobID, err)
	}
	p.logger.Debug("Job event published",
		slog.String("job_id", event.JobID),
		slog.String("kind", string(event.Kind)),
	)
	return nil
}
