package models

import "time"

// Event types
const (
	EventTypeSyncRequested    = "SYNC_REQUESTED"
	EventTypeSyncCompleted    = "SYNC_COMPLETED"
	EventTypeWebhookAlert     = "WEBHOOK_ALERT"
	EventTypeWebhookValidated = "WEBHOOK_VALIDATED"
)

// Sync targets for SyncRequestedEvent
const (
	SyncTargetPayments = "payments"
	SyncTargetCatalog  = "catalog"
	SyncTargetOrdinals = "ordinals"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// SyncRequestedEvent is published by external schedulers to trigger a sync run.
type SyncRequestedEvent struct {
	BaseEvent
	Target          string `json:"target"`
	SyncType        string `json:"sync_type"`
	LookbackMinutes int    `json:"lookback_minutes"`
	ForceSync       bool   `json:"force_sync"`
	Environment     string `json:"environment,omitempty"`
}

// SyncCompletedEvent is published after a sync run finishes, success or not.
type SyncCompletedEvent struct {
	BaseEvent
	SyncID            string `json:"sync_id"`
	SyncType          string `json:"sync_type"`
	Success           bool   `json:"success"`
	PaymentsFound     int    `json:"payments_found"`
	PaymentsProcessed int    `json:"payments_processed"`
	PaymentsFailed    int    `json:"payments_failed"`
	DurationMs        int64  `json:"duration_ms"`
}

// WebhookAlertEvent is the fire-and-forget alerting side channel.
type WebhookAlertEvent struct {
	BaseEvent
	Severity string                 `json:"severity"`
	Title    string                 `json:"title"`
	Message  string                 `json:"message"`
	Details  map[string]interface{} `json:"details,omitempty"`
}

// WebhookValidatedEvent hands a validated Square event off to domain
// processing downstream of this service.
type WebhookValidatedEvent struct {
	BaseEvent
	SquareEventID   string `json:"square_event_id"`
	SquareEventType string `json:"square_event_type"`
	MerchantID      string `json:"merchant_id"`
	Environment     string `json:"environment"`
	Payload         []byte `json:"payload"`
}
