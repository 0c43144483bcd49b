package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"square-sync-service/internal/alert"
	"square-sync-service/internal/models"
	"square-sync-service/internal/util"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Default tuning for sync runs, used when the corresponding knob is unset.
const (
	defaultLookbackMinutes   = 60
	defaultBatchSize         = 10
	emergencyLookbackMinutes = 120
	defaultMaxPages          = 10
	paymentPageSize          = 100
	orphanedOrderLimit       = 100
	interBatchDelay          = 200 * time.Millisecond
)

// Tuning holds the operator-adjustable sync knobs from configuration. Zero
// values fall back to the package defaults.
type Tuning struct {
	LookbackMinutes int
	BatchSize       int
	MaxPages        int
	BatchDelay      time.Duration
}

func (t Tuning) withDefaults() Tuning {
	if t.LookbackMinutes <= 0 {
		t.LookbackMinutes = defaultLookbackMinutes
	}
	if t.BatchSize <= 0 {
		t.BatchSize = defaultBatchSize
	}
	if t.MaxPages <= 0 {
		t.MaxPages = defaultMaxPages
	}
	if t.BatchDelay <= 0 {
		t.BatchDelay = interBatchDelay
	}
	return t
}

// PaymentStore is the persistence contract payment sync needs.
type PaymentStore interface {
	FindMissingPayments(ctx context.Context, squarePaymentIDs []string) (missing, existing []string, err error)
	GetOrderBySquareOrderID(ctx context.Context, squareOrderID string) (*models.Order, error)
	CreatePayment(ctx context.Context, payment *models.Payment) error
	UpdatePaymentFromSquare(ctx context.Context, squarePaymentID, status string, rawData []byte) error
	UpdateOrderPaymentStatus(ctx context.Context, orderID int64, status string) error
	FindOrdersWithoutPayments(ctx context.Context, since time.Time, limit int) ([]models.Order, error)
	CreateSyncStatus(ctx context.Context, record *models.SyncStatusRecord) error
	UpdateSyncStatus(ctx context.Context, record *models.SyncStatusRecord) error
}

// PaymentLister is the Square surface payment sync needs, one per environment.
type PaymentLister interface {
	Environment() string
	ListPayments(ctx context.Context, beginTime time.Time, cursor string, limit int) ([]models.SquarePayment, string, error)
}

// Alerter is the fire-and-forget alerting side channel.
type Alerter interface {
	Send(ctx context.Context, a alert.Alert)
}

// SyncEventPublisher announces finished sync runs. Optional; may be nil.
type SyncEventPublisher interface {
	PublishSyncCompleted(ctx context.Context, event *models.SyncCompletedEvent) error
}

// PaymentSyncRequest parametrizes one sync run.
type PaymentSyncRequest struct {
	LookbackMinutes int    `json:"lookback_minutes"`
	SyncType        string `json:"sync_type"`
	MerchantID      string `json:"merchant_id,omitempty"`
	ForceSync       bool   `json:"force_sync"`
	BatchSize       int    `json:"batch_size"`
	Environment     string `json:"environment,omitempty"`
}

// PaymentSyncError records one payment's failure without aborting the run.
type PaymentSyncError struct {
	PaymentID string `json:"payment_id"`
	Error     string `json:"error"`
}

// PaymentSyncMetadata describes the run context.
type PaymentSyncMetadata struct {
	Environment string `json:"environment"`
	SyncType    string `json:"sync_type"`
}

// PaymentSyncResult is the structured outcome of a sync run. It is always
// well-formed; total failure is reported here, never as an error.
type PaymentSyncResult struct {
	Success           bool                `json:"success"`
	SyncID            string              `json:"sync_id"`
	PaymentsFound     int                 `json:"payments_found"`
	PaymentsProcessed int                 `json:"payments_processed"`
	PaymentsFailed    int                 `json:"payments_failed"`
	PaymentsSkipped   int                 `json:"payments_skipped"`
	Errors            []PaymentSyncError  `json:"errors,omitempty"`
	StartTime         time.Time           `json:"start_time"`
	EndTime           time.Time           `json:"end_time"`
	DurationMs        int64               `json:"duration_ms"`
	Metadata          PaymentSyncMetadata `json:"metadata"`
}

// PaymentSyncService reconciles local payment records against Square's
// payment ledger. It is the fallback safety net for webhook loss: safe to
// run repeatedly and concurrently with webhook processing.
type PaymentSyncService struct {
	store      PaymentStore
	clients    map[string]PaymentLister
	alerts     Alerter
	events     SyncEventPublisher
	defaultEnv string
	tuning     Tuning
	logger     *zap.Logger
}

// NewPaymentSyncService creates a payment sync service. clients maps Square
// environment names to API clients; defaultEnv selects the one used when a
// request does not name an environment.
func NewPaymentSyncService(
	store PaymentStore,
	clients map[string]PaymentLister,
	alerts Alerter,
	events SyncEventPublisher,
	defaultEnv string,
	tuning Tuning,
) *PaymentSyncService {
	return &PaymentSyncService{
		store:      store,
		clients:    clients,
		alerts:     alerts,
		events:     events,
		defaultEnv: defaultEnv,
		tuning:     tuning.withDefaults(),
		logger:     util.GetLogger(),
	}
}

// disposition is the terminal state of one fetched payment. Every payment
// found must end in exactly one of these.
type disposition string

const (
	dispositionProcessed disposition = "processed"
	dispositionFailed    disposition = "failed"
	dispositionSkipped   disposition = "skipped"
)

// SyncPayments runs one reconciliation pass: fetch recent Square payments,
// create missing local records, relink orphaned orders, and on forceSync
// re-verify existing records.
func (s *PaymentSyncService) SyncPayments(ctx context.Context, req *PaymentSyncRequest) (result *PaymentSyncResult) {
	ctx, span := util.StartSpan(ctx, "PaymentSyncService.SyncPayments")
	defer span.End()

	start := time.Now()
	req = s.normalizeRequest(req)

	result = &PaymentSyncResult{
		SyncID:    newSyncID(req.SyncType, start),
		StartTime: start,
		Metadata:  PaymentSyncMetadata{Environment: req.Environment, SyncType: req.SyncType},
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("Payment sync panicked", zap.Any("panic", r))
			result.Errors = append(result.Errors, PaymentSyncError{Error: fmt.Sprintf("sync panicked: %v", r)})
			result.Success = false
			s.alerts.Send(ctx, alert.Alert{
				Severity: alert.SeverityHigh,
				Title:    "Payment sync crashed",
				Message:  fmt.Sprintf("sync aborted by panic: %v", r),
				Details:  map[string]interface{}{"sync_id": result.SyncID},
			})
		}
		s.finalize(ctx, result)
	}()

	status := &models.SyncStatusRecord{
		SyncID:    result.SyncID,
		SyncType:  req.SyncType,
		StartTime: start,
	}
	if err := s.store.CreateSyncStatus(ctx, status); err != nil {
		// The start marker is observability, not a precondition.
		s.logger.Warn("Failed to create sync status record", zap.Error(err))
	}

	client, ok := s.clients[req.Environment]
	if !ok {
		result.Errors = append(result.Errors, PaymentSyncError{
			Error: fmt.Sprintf("no square client for environment %q", req.Environment),
		})
		return result
	}

	payments, err := s.fetchPayments(ctx, client, req.LookbackMinutes)
	if err != nil {
		result.Errors = append(result.Errors, PaymentSyncError{Error: fmt.Sprintf("failed to fetch payments: %v", err)})
		s.alerts.Send(ctx, alert.Alert{
			Severity: alert.SeverityHigh,
			Title:    "Payment sync failed",
			Message:  "could not fetch payments from Square",
			Details:  map[string]interface{}{"sync_id": result.SyncID, "error": err.Error()},
		})
		return result
	}

	result.PaymentsFound = len(payments)
	s.logger.Info("Fetched payments from Square",
		zap.String("sync_id", result.SyncID),
		zap.String("environment", req.Environment),
		zap.Int("count", len(payments)))

	paymentByID := make(map[string]models.SquarePayment, len(payments))
	ids := make([]string, 0, len(payments))
	for _, p := range payments {
		paymentByID[p.ID] = p
		ids = append(ids, p.ID)
	}

	missing, existing, err := s.store.FindMissingPayments(ctx, ids)
	if err != nil {
		result.Errors = append(result.Errors, PaymentSyncError{Error: fmt.Sprintf("failed to partition payments: %v", err)})
		return result
	}

	dispositions := make(map[string]disposition, len(payments))
	for _, id := range existing {
		dispositions[id] = dispositionSkipped
	}

	var mu sync.Mutex
	s.processInBatches(ctx, missing, req.BatchSize, func(ctx context.Context, id string) {
		d, syncErr := s.processPayment(ctx, paymentByID[id])
		mu.Lock()
		defer mu.Unlock()
		dispositions[id] = d
		if syncErr != nil {
			result.Errors = append(result.Errors, PaymentSyncError{PaymentID: id, Error: syncErr.Error()})
		}
	})

	if req.ForceSync {
		s.processInBatches(ctx, existing, req.BatchSize, func(ctx context.Context, id string) {
			d, syncErr := s.reverifyPayment(ctx, paymentByID[id])
			mu.Lock()
			defer mu.Unlock()
			dispositions[id] = d
			if syncErr != nil {
				result.Errors = append(result.Errors, PaymentSyncError{PaymentID: id, Error: syncErr.Error()})
			}
		})
	}

	s.relinkOrphanedOrders(ctx, req, paymentByID, dispositions, result)

	for _, d := range dispositions {
		switch d {
		case dispositionProcessed:
			result.PaymentsProcessed++
		case dispositionFailed:
			result.PaymentsFailed++
		default:
			result.PaymentsSkipped++
		}
	}

	// Lenient by contract: partial success must not block downstream
	// alerting suppression.
	result.Success = len(result.Errors) == 0 || result.PaymentsProcessed > result.PaymentsFailed
	return result
}

// fetchPayments pages through Square's payments list within the lookback
// window. The page ceiling guarantees termination even under pathological
// cursor loops.
func (s *PaymentSyncService) fetchPayments(ctx context.Context, client PaymentLister, lookbackMinutes int) ([]models.SquarePayment, error) {
	beginTime := time.Now().Add(-time.Duration(lookbackMinutes) * time.Minute)

	var payments []models.SquarePayment
	cursor := ""
	for page := 0; page < s.tuning.MaxPages; page++ {
		batch, next, err := client.ListPayments(ctx, beginTime, cursor, paymentPageSize)
		if err != nil {
			return nil, err
		}
		payments = append(payments, batch...)
		if next == "" {
			return payments, nil
		}
		cursor = next
	}

	s.logger.Warn("Payment fetch hit page ceiling",
		zap.Int("max_pages", s.tuning.MaxPages),
		zap.Int("payments", len(payments)))
	return payments, nil
}

// processPayment creates the local record for one missing Square payment,
// resolving its local order first. A payment whose order does not exist
// locally is a recorded gap, not an error.
func (s *PaymentSyncService) processPayment(ctx context.Context, sp models.SquarePayment) (disposition, error) {
	if sp.OrderID == "" {
		s.logger.Warn("Square payment has no order reference, skipping", zap.String("payment_id", sp.ID))
		return dispositionSkipped, nil
	}

	order, err := s.store.GetOrderBySquareOrderID(ctx, sp.OrderID)
	if err != nil {
		return dispositionFailed, fmt.Errorf("failed to look up order: %w", err)
	}
	if order == nil {
		// Test traffic and out-of-band orders legitimately have no local order.
		s.logger.Warn("No local order for Square payment, skipping",
			zap.String("payment_id", sp.ID),
			zap.String("square_order_id", sp.OrderID))
		return dispositionSkipped, nil
	}

	status := s.mapPaymentStatus(sp.ID, sp.Status)
	rawData, err := json.Marshal(sp)
	if err != nil {
		return dispositionFailed, fmt.Errorf("failed to snapshot payment: %w", err)
	}

	payment := &models.Payment{
		SquarePaymentID: sp.ID,
		OrderID:         order.ID,
		Amount:          sp.AmountMoney.Amount,
		Status:          status,
		RawData:         rawData,
	}
	if err := s.store.CreatePayment(ctx, payment); err != nil {
		return dispositionFailed, fmt.Errorf("failed to create payment record: %w", err)
	}

	if order.PaymentStatus != status {
		if err := s.store.UpdateOrderPaymentStatus(ctx, order.ID, status); err != nil {
			return dispositionFailed, fmt.Errorf("failed to update order status: %w", err)
		}
	}

	return dispositionProcessed, nil
}

// reverifyPayment overwrites an existing record's status and raw snapshot.
// Local-only fields are untouched.
func (s *PaymentSyncService) reverifyPayment(ctx context.Context, sp models.SquarePayment) (disposition, error) {
	status := s.mapPaymentStatus(sp.ID, sp.Status)
	rawData, err := json.Marshal(sp)
	if err != nil {
		return dispositionFailed, fmt.Errorf("failed to snapshot payment: %w", err)
	}
	if err := s.store.UpdatePaymentFromSquare(ctx, sp.ID, status, rawData); err != nil {
		return dispositionFailed, fmt.Errorf("failed to re-verify payment: %w", err)
	}
	return dispositionProcessed, nil
}

// relinkOrphanedOrders recovers local orders in the lookback window that have
// no payment record at all, matching them against the already-fetched
// payment set.
func (s *PaymentSyncService) relinkOrphanedOrders(
	ctx context.Context,
	req *PaymentSyncRequest,
	paymentByID map[string]models.SquarePayment,
	dispositions map[string]disposition,
	result *PaymentSyncResult,
) {
	since := time.Now().Add(-time.Duration(req.LookbackMinutes) * time.Minute)
	orders, err := s.store.FindOrdersWithoutPayments(ctx, since, orphanedOrderLimit)
	if err != nil {
		result.Errors = append(result.Errors, PaymentSyncError{Error: fmt.Sprintf("failed to find orphaned orders: %v", err)})
		return
	}

	paymentByOrder := make(map[string]models.SquarePayment, len(paymentByID))
	for _, p := range paymentByID {
		if p.OrderID != "" {
			paymentByOrder[p.OrderID] = p
		}
	}

	for _, order := range orders {
		if order.SquareOrderID == nil {
			continue
		}
		sp, ok := paymentByOrder[*order.SquareOrderID]
		if !ok {
			continue
		}
		if d := dispositions[sp.ID]; d == dispositionProcessed || d == dispositionFailed {
			continue
		}

		d, syncErr := s.processPayment(ctx, sp)
		dispositions[sp.ID] = d
		if syncErr != nil {
			result.Errors = append(result.Errors, PaymentSyncError{PaymentID: sp.ID, Error: syncErr.Error()})
			continue
		}
		if d == dispositionProcessed {
			util.OrphanedOrdersRelinked.Inc()
			s.logger.Info("Relinked orphaned order",
				zap.Int64("order_id", order.ID),
				zap.String("payment_id", sp.ID))
		}
	}
}

// processInBatches runs fn over ids in fixed-size chunks with intra-chunk
// parallelism and a short delay between chunks.
func (s *PaymentSyncService) processInBatches(ctx context.Context, ids []string, batchSize int, fn func(context.Context, string)) {
	for start := 0; start < len(ids); start += batchSize {
		end := start + batchSize
		if end > len(ids) {
			end = len(ids)
		}

		var wg sync.WaitGroup
		for _, id := range ids[start:end] {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				fn(ctx, id)
			}(id)
		}
		wg.Wait()

		if end < len(ids) {
			time.Sleep(s.tuning.BatchDelay)
		}
	}
}

// mapPaymentStatus maps Square's payment status onto the local status set.
// Unknown statuses map to PENDING with a warning.
func (s *PaymentSyncService) mapPaymentStatus(paymentID, squareStatus string) string {
	switch squareStatus {
	case models.SquarePaymentCompleted:
		return models.PaymentStatusPaid
	case models.SquarePaymentPending:
		return models.PaymentStatusPending
	case models.SquarePaymentFailed, models.SquarePaymentCanceled:
		return models.PaymentStatusFailed
	default:
		s.logger.Warn("Unknown Square payment status, treating as pending",
			zap.String("payment_id", paymentID),
			zap.String("status", squareStatus))
		return models.PaymentStatusPending
	}
}

func (s *PaymentSyncService) finalize(ctx context.Context, result *PaymentSyncResult) {
	result.EndTime = time.Now()
	result.DurationMs = result.EndTime.Sub(result.StartTime).Milliseconds()

	util.PaymentSyncDuration.Observe(float64(result.DurationMs) / 1000)
	util.PaymentsSyncedTotal.WithLabelValues(result.Metadata.SyncType).Add(float64(result.PaymentsProcessed))
	util.PaymentsSyncFailedTotal.WithLabelValues(result.Metadata.SyncType).Add(float64(result.PaymentsFailed))

	status := &models.SyncStatusRecord{
		SyncID:            result.SyncID,
		SyncType:          result.Metadata.SyncType,
		StartTime:         result.StartTime,
		EndTime:           &result.EndTime,
		PaymentsFound:     result.PaymentsFound,
		PaymentsProcessed: result.PaymentsProcessed,
		PaymentsFailed:    result.PaymentsFailed,
	}
	if len(result.Errors) > 0 {
		details := formatSyncErrors(result.Errors)
		status.ErrorDetails = &details
	}
	if err := s.store.UpdateSyncStatus(ctx, status); err != nil {
		s.logger.Error("Failed to finalize sync status record", zap.Error(err))
	}

	if s.events != nil {
		event := &models.SyncCompletedEvent{
			SyncID:            result.SyncID,
			SyncType:          result.Metadata.SyncType,
			Success:           result.Success,
			PaymentsFound:     result.PaymentsFound,
			PaymentsProcessed: result.PaymentsProcessed,
			PaymentsFailed:    result.PaymentsFailed,
			DurationMs:        result.DurationMs,
		}
		if err := s.events.PublishSyncCompleted(ctx, event); err != nil {
			s.logger.Warn("Failed to publish sync completed event", zap.Error(err))
		}
	}

	s.logger.Info("Payment sync finished",
		zap.String("sync_id", result.SyncID),
		zap.Bool("success", result.Success),
		zap.Int("found", result.PaymentsFound),
		zap.Int("processed", result.PaymentsProcessed),
		zap.Int("failed", result.PaymentsFailed),
		zap.Int("skipped", result.PaymentsSkipped),
		zap.Int64("duration_ms", result.DurationMs))
}

// SyncAllEnvironments runs a sync across every configured Square environment
// and combines the results. A failure in one environment never prevents the
// others from running or being reported.
func (s *PaymentSyncService) SyncAllEnvironments(ctx context.Context, req *PaymentSyncRequest) *PaymentSyncResult {
	start := time.Now()
	req = s.normalizeRequest(req)

	combined := &PaymentSyncResult{
		Success:   true,
		SyncID:    "combined_" + newSyncID(req.SyncType, start),
		StartTime: start,
		Metadata:  PaymentSyncMetadata{Environment: "all", SyncType: req.SyncType},
	}

	var maxDuration int64
	for _, env := range []string{models.EnvironmentProduction, models.EnvironmentSandbox} {
		if _, ok := s.clients[env]; !ok {
			continue
		}

		envReq := *req
		envReq.Environment = env
		envResult := s.SyncPayments(ctx, &envReq)

		combined.PaymentsFound += envResult.PaymentsFound
		combined.PaymentsProcessed += envResult.PaymentsProcessed
		combined.PaymentsFailed += envResult.PaymentsFailed
		combined.PaymentsSkipped += envResult.PaymentsSkipped
		combined.Errors = append(combined.Errors, envResult.Errors...)
		if !envResult.Success {
			combined.Success = false
		}
		if envResult.DurationMs > maxDuration {
			maxDuration = envResult.DurationMs
		}
	}

	combined.EndTime = time.Now()
	combined.DurationMs = maxDuration
	return combined
}

// EmergencySync is the last line of defense against silent payment loss,
// invoked after webhook processing fails for one event. Wider lookback,
// always forced, critical alert if it fails too.
func (s *PaymentSyncService) EmergencySync(ctx context.Context, failedEventID string) *PaymentSyncResult {
	s.logger.Warn("Running emergency payment sync", zap.String("failed_event_id", failedEventID))

	result := s.SyncPayments(ctx, &PaymentSyncRequest{
		LookbackMinutes: emergencyLookbackMinutes,
		SyncType:        models.SyncTypeWebhookFallback,
		ForceSync:       true,
	})

	if !result.Success {
		s.alerts.Send(ctx, alert.Alert{
			Severity: alert.SeverityCritical,
			Title:    "Emergency payment sync failed",
			Message:  "fallback sync after webhook failure did not succeed; payments may be missing",
			Details: map[string]interface{}{
				"sync_id":         result.SyncID,
				"failed_event_id": failedEventID,
				"errors":          len(result.Errors),
			},
		})
	}
	return result
}

// normalizeRequest fills request gaps from the service tuning.
func (s *PaymentSyncService) normalizeRequest(req *PaymentSyncRequest) *PaymentSyncRequest {
	if req == nil {
		req = &PaymentSyncRequest{}
	}
	out := *req
	if out.LookbackMinutes <= 0 {
		out.LookbackMinutes = s.tuning.LookbackMinutes
	}
	if out.BatchSize <= 0 {
		out.BatchSize = s.tuning.BatchSize
	}
	if out.SyncType == "" {
		out.SyncType = models.SyncTypeManual
	}
	if out.Environment == "" {
		out.Environment = s.defaultEnv
	}
	return &out
}

// newSyncID embeds the sync type and start time plus a random suffix.
func newSyncID(syncType string, start time.Time) string {
	return fmt.Sprintf("%s_%d_%s", syncType, start.UnixMilli(), uuid.New().String()[:8])
}

func formatSyncErrors(errs []PaymentSyncError) string {
	parts := make([]string, 0, len(errs))
	for _, e := range errs {
		if e.PaymentID != "" {
			parts = append(parts, fmt.Sprintf("%s: %s", e.PaymentID, e.Error))
		} else {
			parts = append(parts, e.Error)
		}
	}
	return strings.Join(parts, "; ")
}
