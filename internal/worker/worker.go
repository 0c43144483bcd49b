package worker

import (
	"context"
	"fmt"

	"square-sync-service/internal/broker"
	"square-sync-service/internal/models"
	"square-sync-service/internal/service"
	"square-sync-service/internal/util"

	"go.uber.org/zap"
)

// SyncWorker consumes sync-request events published by external schedulers
// and dispatches them to the sync services.
type SyncWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	payments     *service.PaymentSyncService
	catalog      *service.CatalogSyncService
	logger       *zap.Logger
}

// NewSyncWorker creates a new sync worker
func NewSyncWorker(
	consumer *broker.Consumer,
	payments *service.PaymentSyncService,
	catalog *service.CatalogSyncService,
) *SyncWorker {
	w := &SyncWorker{
		consumer: consumer,
		payments: payments,
		catalog:  catalog,
		logger:   util.GetLogger(),
	}

	eventHandler := broker.NewEventHandler()
	eventHandler.OnSyncRequested(w.handleSyncRequested)
	w.eventHandler = eventHandler

	return w
}

// Start starts the worker
func (w *SyncWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting sync worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *SyncWorker) Stop() error {
	w.logger.Info("Stopping sync worker")
	return w.consumer.Close()
}

// handleSyncRequested dispatches one sync request by target. Sync results
// are self-reporting; a failed run is not a message-handling error.
func (w *SyncWorker) handleSyncRequested(ctx context.Context, event *models.SyncRequestedEvent) error {
	w.logger.Info("Sync requested",
		zap.String("event_id", event.EventID),
		zap.String("target", event.Target),
		zap.String("sync_type", event.SyncType),
		zap.String("environment", event.Environment))

	switch event.Target {
	case models.SyncTargetPayments:
		req := &service.PaymentSyncRequest{
			LookbackMinutes: event.LookbackMinutes,
			SyncType:        event.SyncType,
			ForceSync:       event.ForceSync,
			Environment:     event.Environment,
		}
		if req.SyncType == "" {
			req.SyncType = models.SyncTypeScheduled
		}

		var result *service.PaymentSyncResult
		if event.Environment == "all" {
			req.Environment = ""
			result = w.payments.SyncAllEnvironments(ctx, req)
		} else {
			result = w.payments.SyncPayments(ctx, req)
		}
		if !result.Success {
			w.logger.Warn("Requested payment sync did not succeed",
				zap.String("sync_id", result.SyncID),
				zap.Int("errors", len(result.Errors)))
		}

	case models.SyncTargetCatalog:
		result := w.catalog.SyncCatalog(ctx)
		if !result.Success {
			w.logger.Warn("Requested catalog sync did not succeed",
				zap.String("sync_id", result.SyncID),
				zap.Int("errors", len(result.Errors)))
		}

	case models.SyncTargetOrdinals:
		result := w.catalog.ResyncOrdinals(ctx)
		if !result.Success {
			w.logger.Warn("Requested ordinal resync did not succeed",
				zap.Int("errors", len(result.Errors)))
		}

	default:
		return fmt.Errorf("unknown sync target %q", event.Target)
	}

	return nil
}
