package alert

import (
	"context"
	"time"

	"square-sync-service/internal/broker"
	"square-sync-service/internal/models"
	"square-sync-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Severity levels for webhook/sync alerts.
const (
	SeverityInfo     = "info"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Alert is a fire-and-forget notification about a sync or webhook problem.
type Alert struct {
	Severity string
	Title    string
	Message  string
	Details  map[string]interface{}
}

// Publisher sends alerts to the alerting topic. Failures are logged and
// swallowed: an unreachable alert channel must never fail a sync.
type Publisher struct {
	producer *broker.Producer
	logger   *zap.Logger
}

// NewPublisher creates an alert publisher
func NewPublisher(producer *broker.Producer) *Publisher {
	return &Publisher{
		producer: producer,
		logger:   util.GetLogger(),
	}
}

// Send publishes an alert, best effort.
func (p *Publisher) Send(ctx context.Context, a Alert) {
	event := &models.WebhookAlertEvent{
		BaseEvent: models.BaseEvent{
			EventID:   uuid.New().String(),
			EventType: models.EventTypeWebhookAlert,
			Timestamp: time.Now(),
		},
		Severity: a.Severity,
		Title:    a.Title,
		Message:  a.Message,
		Details:  a.Details,
	}

	if err := p.producer.PublishEvent(ctx, a.Severity, event); err != nil {
		p.logger.Error("Failed to publish alert",
			zap.String("severity", a.Severity),
			zap.String("title", a.Title),
			zap.Error(err))
	}
}
