package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"square-sync-service/internal/models"
	"square-sync-service/internal/util"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventPublisher handles publishing service events
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishSyncCompleted publishes a SyncCompleted event after a sync run
func (ep *EventPublisher) PublishSyncCompleted(ctx context.Context, event *models.SyncCompletedEvent) error {
	if event.EventID == "" {
		event.EventID = uuid.New().String()
	}
	event.EventType = models.EventTypeSyncCompleted
	event.Timestamp = time.Now()
	return ep.producer.PublishEvent(ctx, event.SyncID, event)
}

// PublishWebhookValidated hands a validated Square event to downstream
// domain processing.
func (ep *EventPublisher) PublishWebhookValidated(ctx context.Context, event *models.WebhookValidatedEvent) error {
	if event.EventID == "" {
		event.EventID = uuid.New().String()
	}
	event.EventType = models.EventTypeWebhookValidated
	event.Timestamp = time.Now()
	return ep.producer.PublishEvent(ctx, event.SquareEventID, event)
}

// EventHandler routes consumed messages to registered handlers
type EventHandler struct {
	onSyncRequested func(context.Context, *models.SyncRequestedEvent) error
	logger          *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnSyncRequested registers a handler for SyncRequested events
func (eh *EventHandler) OnSyncRequested(handler func(context.Context, *models.SyncRequestedEvent) error) {
	eh.onSyncRequested = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	eh.logger.Debug("Handling event",
		zap.String("type", baseEvent.EventType),
		zap.String("id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypeSyncRequested:
		if eh.onSyncRequested != nil {
			var event models.SyncRequestedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal SyncRequested event: %w", err)
			}
			return eh.onSyncRequested(ctx, &event)
		}

	default:
		eh.logger.Debug("Unhandled event type", zap.String("type", baseEvent.EventType))
	}

	return nil
}
