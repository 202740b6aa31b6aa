package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cuongbtq/ucloud-orchestrator/internal/domain"
	"github.com/cuongbtq/ucloud-orchestrator/internal/storage"
	amqp "github.com/rabbitmq/amqp091-go"
)

// ErrMalformedEvent marks messages that will never be processable.
var ErrMalformedEvent = errors.New("malformed job event")

// Source opens a delivery stream with manual acknowledgement.
type Source interface {
	Consume(consumerTag string, prefetch int) (<-chan amqp.Delivery, error)
}

type ConsumerConfig struct {
	Source      Source
	Tasks       storage.TaskStore
	Logger      *slog.Logger
	ConsumerTag string
	Prefetch    int
	Concurrency int
}

// Consumer maintains task records from the job event stream.
type Consumer struct {
	source      Source
	tasks       storage.TaskStore
	logger      *slog.Logger
	tag         string
	prefetch    int
	concurrency int
	wg          sync.WaitGroup
}

func NewConsumer(cfg ConsumerConfig) *Consumer {
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Consumer{
		source:      cfg.Source,
		tasks:       cfg.Tasks,
		logger:      cfg.Logger,
		tag:         cfg.ConsumerTag,
		prefetch:    cfg.Prefetch,
		concurrency: concurrency,
	}
}

// Run consumes until ctx ends or the delivery channel closes.
func (c *Consumer) Run(ctx context.Context) error {
	deliveries, err := c.source.Consume(c.tag, c.prefetch)
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	c.logger.Info("Job event consumer started",
		slog.String("consumer_tag", c.tag),
		slog.Int("concurrency", c.concurrency),
	)
	for i := 0; i < c.concurrency; i++ {
		c.wg.Add(1)
		go c.workerLoop(ctx, deliveries)
	}
	c.wg.Wait()
	c.logger.Info("Job event consumer stopped")
	return nil
}

func (c *Consumer) workerLoop(ctx context.Context, deliveries <-chan amqp.Delivery) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case delivery, ok := <-deliveries:
			if !ok {
				c.logger.Warn("RabbitMQ delivery channel closed")
				return
			}
			c.handle(ctx, delivery)
		}
	}
}

// handle applies one delivery and acknowledges it. Malformed events are dropped, store
// failures are requeued.
func (c *Consumer) handle(ctx context.Context, delivery amqp.Delivery) {
	err := c.Apply(ctx, delivery.Body)
	if err == nil {
		if ackErr := delivery.Ack(false); ackErr != nil {
			c.logger.Error("Failed to ACK message", slog.String("error", ackErr.Error()))
		}
		return
	}

	requeue := !errors.Is(err, ErrMalformedEvent)
	c.logger.Error("Failed to apply job event",
		slog.String("error", err.Error()),
		slog.Bool("requeue", requeue),
	)
	if nackErr := delivery.Nack(false, requeue); nackErr != nil {
		c.logger.Error("Failed to NACK message", slog.String("error", nackErr.Error()))
	}
}

// Apply decodes one job event and updates its task record.
func (c *Consumer) Apply(ctx context.Context, body []byte) error {
	var event domain.JobEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if event.JobID == "" || !event.State.Valid() || event.Timestamp.IsZero() {
		return fmt.Errorf("%w: missing job id, state or timestamp", ErrMalformedEvent)
	}

	task := &domain.TaskRecord{
		JobID:     event.JobID,
		State:     string(event.State),
		Message:   event.Message,
		Progress:  Progress(event.State),
		UpdatedAt: event.Timestamp,
	}
	if err := c.tasks.UpsertTask(ctx, task); err != nil {
		return fmt.Errorf("failed to update task of job %s: %w", event.JobID, err)
	}
	c.logger.Debug("Task record updated",
		slog.String("job_id", event.JobID),
		slog.String("state", task.State),
	)
	return nil
}

// Progress is a coarse completion percentage for a state.
func Progress(state domain.JobState) int {
	switch state {
	case domain.JobStateInQueue:
		return 0
	case domain.JobStateProvisioning:
		return 10
	case domain.JobStateRunning, domain.JobStateSuspended:
		return 50
	case domain.JobStateCanceling:
		return 90
	}
	if state.IsTerminal() {
		return 100
	}
	return 0
}
