package event

import (
	"context"
	"fmt"

	"github.com/jwalitptl/diagnosis-api/internal/model"
	"github.com/jwalitptl/diagnosis-api/internal/repository"
	"github.com/jwalitptl/diagnosis-api/pkg/logger"
)

type EventServicer interface {
	Emit(ctx context.Context, eventType string, payload interface{}) error
}

// EventService writes events to the outbox. The outbox worker publishes
// them, so Emit never talks to the broker.
type EventService struct {
	outboxRepo repository.OutboxRepository
	log        *logger.Logger
}

func NewEventService(outboxRepo repository.OutboxRepository, log *logger.Logger) *EventService {
	return &EventService{
		outboxRepo: outboxRepo,
		log:        log.WithComponent("events"),
	}
}

func (s *EventService) Emit(ctx context.Context, eventType string, payload interface{}) error {
	event, err := model.NewOutboxEvent(eventType, payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	if err := s.outboxRepo.Create(ctx, event); err != nil {
		return fmt.Errorf("failed to create outbox event: %w", err)
	}

	s.log.Debug("Event queued", "event_id", event.ID.String(), "event_type", eventType)
	return nil
}
