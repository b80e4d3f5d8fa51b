package worker

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jwalitptl/diagnosis-api/internal/model"
	"github.com/jwalitptl/diagnosis-api/internal/repository"
	"github.com/jwalitptl/diagnosis-api/pkg/logger"
	"github.com/jwalitptl/diagnosis-api/pkg/messaging"
	"github.com/jwalitptl/diagnosis-api/pkg/metrics"
)

const defaultCleanupInterval = time.Hour

type OutboxProcessorConfig struct {
	BatchSize     int
	PollInterval  time.Duration
	RetryAttempts int
	RetryDelay    time.Duration
	// Retention is how long processed events are kept. Zero disables cleanup.
	Retention       time.Duration
	CleanupInterval time.Duration
}

// OutboxProcessor publishes outbox events to the broker. Events that still
// fail after RetryAttempts passes are copied to the dead letter table and
// marked failed.
type OutboxProcessor struct {
	repo    repository.OutboxRepository
	broker  messaging.Broker
	config  OutboxProcessorConfig
	logger  *logger.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewOutboxProcessor(
	repo repository.OutboxRepository,
	broker messaging.Broker,
	config OutboxProcessorConfig,
	logger *logger.Logger,
	metrics *metrics.Metrics,
) *OutboxProcessor {
	// Config validation instead of defaults
	if config.BatchSize <= 0 {
		panic("BatchSize must be greater than 0")
	}
	if config.PollInterval <= 0 {
		panic("PollInterval must be greater than 0")
	}
	if config.RetryAttempts <= 0 {
		panic("RetryAttempts must be greater than 0")
	}
	if config.RetryDelay <= 0 {
		panic("RetryDelay must be greater than 0")
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = defaultCleanupInterval
	}

	return &OutboxProcessor{
		repo:    repo,
		broker:  broker,
		config:  config,
		logger:  logger.WithComponent("outbox_processor"),
		metrics: metrics,
		now:     time.Now,
	}
}

func (p *OutboxProcessor) Start(ctx context.Context) {
	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()
	cleanup := time.NewTicker(p.config.CleanupInterval)
	defer cleanup.Stop()

	p.logger.Info("Starting outbox processor",
		"batch_size", p.config.BatchSize,
		"poll_interval", p.config.PollInterval.String())

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("Shutting down outbox processor")
			return
		case <-ticker.C:
			if _, err := p.ProcessBatch(ctx); err != nil {
				p.logger.Error(err, "Failed to process events")
			}
		case <-cleanup.C:
			if _, err := p.Cleanup(ctx); err != nil {
				p.logger.Error(err, "Failed to clean up processed events")
			}
		}
	}
}

// ProcessBatch handles one batch of due events in a single transaction and
// returns how many were published.
func (p *OutboxProcessor) ProcessBatch(ctx context.Context) (int, error) {
	timer := prometheus.NewTimer(p.metrics.OutboxProcessingLatency)
	defer timer.ObserveDuration()

	tx, err := p.repo.BeginTx(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	events, err := p.repo.GetPendingEventsWithLock(ctx, tx, p.config.BatchSize)
	if err != nil {
		p.metrics.DatabaseOperations.WithLabelValues("get_pending_events", "error").Inc()
		return 0, fmt.Errorf("failed to get pending events: %w", err)
	}
	p.metrics.DatabaseOperations.WithLabelValues("get_pending_events", "success").Inc()

	published := 0
	for _, event := range events {
		if err := p.publish(ctx, event); err != nil {
			p.logger.Warn("Failed to publish event",
				"event_id", event.ID.String(),
				"event_type", event.EventType,
				"retry_count", event.RetryCount,
				"error", err.Error())
			if err := p.fail(ctx, tx, event, err); err != nil {
				return published, err
			}
			continue
		}
		if err := p.repo.UpdateStatusTx(ctx, tx, event.ID, model.OutboxStatusProcessed, nil, nil); err != nil {
			return published, fmt.Errorf("failed to mark event %s processed: %w", event.ID, err)
		}
		p.metrics.OutboxEventsProcessed.Inc()
		published++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return published, nil
}

func (p *OutboxProcessor) publish(ctx context.Context, event *model.OutboxEvent) error {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(p.config.RetryDelay), uint64(p.config.RetryAttempts-1)),
		ctx,
	)
	return backoff.RetryNotify(func() error {
		return p.broker.Publish(ctx, event.EventType, event.Payload)
	}, policy, func(error, time.Duration) {
		p.metrics.OutboxRetries.WithLabelValues(event.EventType).Inc()
	})
}

// fail schedules the event for another pass with exponential delay, or
// dead-letters it once RetryAttempts passes have been used up.
func (p *OutboxProcessor) fail(ctx context.Context, tx *sql.Tx, event *model.OutboxEvent, cause error) error {
	p.metrics.OutboxEventsFailed.Inc()
	msg := cause.Error()
	event.ErrorMessage = &msg

	if event.RetryCount+1 >= p.config.RetryAttempts {
		if err := p.repo.MoveToDeadLetter(ctx, tx, event); err != nil {
			return err
		}
		return p.repo.UpdateStatusTx(ctx, tx, event.ID, model.OutboxStatusFailed, &msg, nil)
	}

	retryAt := p.now().Add(p.config.RetryDelay << uint(event.RetryCount+1))
	return p.repo.UpdateStatusTx(ctx, tx, event.ID, model.OutboxStatusRetry, &msg, &retryAt)
}

// Cleanup removes processed events older than the retention window.
func (p *OutboxProcessor) Cleanup(ctx context.Context) (int64, error) {
	if p.config.Retention <= 0 {
		return 0, nil
	}
	n, err := p.repo.DeleteProcessedBefore(ctx, p.now().Add(-p.config.Retention))
	if err != nil {
		p.metrics.DatabaseOperations.WithLabelValues("delete_processed_events", "error").Inc()
		return 0, err
	}
	p.metrics.DatabaseOperations.WithLabelValues("delete_processed_events", "success").Inc()
	p.metrics.OutboxEventsCleaned.Add(float64(n))
	if n > 0 {
		p.logger.Info("Removed processed outbox events", "count", n)
	}
	return n, nil
}
