package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"square-sync-service/internal/alert"
	"square-sync-service/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePaymentStore struct {
	mu       sync.Mutex
	orders   map[string]*models.Order   // by square order id
	payments map[string]*models.Payment // by square payment id
	orphans  []models.Order
	nextID   int64
}

func newFakePaymentStore() *fakePaymentStore {
	return &fakePaymentStore{
		orders:   make(map[string]*models.Order),
		payments: make(map[string]*models.Payment),
	}
}

func (f *fakePaymentStore) addOrder(squareOrderID string) *models.Order {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	order := &models.Order{
		ID:            f.nextID,
		SquareOrderID: &squareOrderID,
		PaymentStatus: models.PaymentStatusPending,
	}
	f.orders[squareOrderID] = order
	return order
}

func (f *fakePaymentStore) FindMissingPayments(_ context.Context, ids []string) (missing, existing []string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		if _, ok := f.payments[id]; ok {
			existing = append(existing, id)
		} else {
			missing = append(missing, id)
		}
	}
	return missing, existing, nil
}

func (f *fakePaymentStore) GetOrderBySquareOrderID(_ context.Context, squareOrderID string) (*models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.orders[squareOrderID], nil
}

func (f *fakePaymentStore) CreatePayment(_ context.Context, payment *models.Payment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	payment.ID = f.nextID
	f.payments[payment.SquarePaymentID] = payment
	return nil
}

func (f *fakePaymentStore) UpdatePaymentFromSquare(_ context.Context, squarePaymentID, status string, rawData []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.payments[squarePaymentID]; ok {
		p.Status = status
		p.RawData = rawData
	}
	return nil
}

func (f *fakePaymentStore) UpdateOrderPaymentStatus(_ context.Context, orderID int64, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, order := range f.orders {
		if order.ID == orderID {
			order.PaymentStatus = status
		}
	}
	return nil
}

func (f *fakePaymentStore) FindOrdersWithoutPayments(_ context.Context, _ time.Time, _ int) ([]models.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.orphans, nil
}

func (f *fakePaymentStore) CreateSyncStatus(_ context.Context, _ *models.SyncStatusRecord) error {
	return nil
}

func (f *fakePaymentStore) UpdateSyncStatus(_ context.Context, _ *models.SyncStatusRecord) error {
	return nil
}

type fakeLister struct {
	env      string
	payments []models.SquarePayment
	err      error
}

func (f *fakeLister) Environment() string { return f.env }

func (f *fakeLister) ListPayments(_ context.Context, _ time.Time, _ string, _ int) ([]models.SquarePayment, string, error) {
	if f.err != nil {
		return nil, "", f.err
	}
	return f.payments, "", nil
}

type fakeAlerter struct {
	mu     sync.Mutex
	alerts []alert.Alert
}

func (f *fakeAlerter) Send(_ context.Context, a alert.Alert) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.alerts = append(f.alerts, a)
}

func (f *fakeAlerter) bySeverity(severity string) []alert.Alert {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []alert.Alert
	for _, a := range f.alerts {
		if a.Severity == severity {
			out = append(out, a)
		}
	}
	return out
}

func newTestPaymentSync(store *fakePaymentStore, listers map[string]PaymentLister, alerts *fakeAlerter) *PaymentSyncService {
	return NewPaymentSyncService(store, listers, alerts, nil,
		models.EnvironmentProduction, Tuning{BatchDelay: time.Millisecond})
}

func squarePayment(id, orderID, status string, amount int64) models.SquarePayment {
	return models.SquarePayment{
		ID:          id,
		Status:      status,
		OrderID:     orderID,
		AmountMoney: models.Money{Amount: amount, Currency: "USD"},
		CreatedAt:   time.Now(),
	}
}

func TestSyncPaymentsCreatesMissingRecords(t *testing.T) {
	store := newFakePaymentStore()
	order := store.addOrder("sq-order-1")
	store.addOrder("sq-order-2")

	lister := &fakeLister{env: models.EnvironmentProduction, payments: []models.SquarePayment{
		squarePayment("pay-1", "sq-order-1", models.SquarePaymentCompleted, 2500),
		squarePayment("pay-2", "sq-order-2", models.SquarePaymentPending, 1200),
	}}

	svc := newTestPaymentSync(store, map[string]PaymentLister{models.EnvironmentProduction: lister}, &fakeAlerter{})
	result := svc.SyncPayments(context.Background(), nil)

	assert.True(t, result.Success)
	assert.Equal(t, 2, result.PaymentsFound)
	assert.Equal(t, 2, result.PaymentsProcessed)
	assert.Zero(t, result.PaymentsFailed)
	assert.Empty(t, result.Errors)

	require.Contains(t, store.payments, "pay-1")
	assert.Equal(t, models.PaymentStatusPaid, store.payments["pay-1"].Status)
	assert.Equal(t, order.ID, store.payments["pay-1"].OrderID)
	assert.Equal(t, models.PaymentStatusPaid, order.PaymentStatus)
	assert.Equal(t, models.PaymentStatusPending, store.payments["pay-2"].Status)
}

func TestSyncPaymentsIdempotent(t *testing.T) {
	store := newFakePaymentStore()
	store.addOrder("sq-order-1")

	lister := &fakeLister{env: models.EnvironmentProduction, payments: []models.SquarePayment{
		squarePayment("pay-1", "sq-order-1", models.SquarePaymentCompleted, 2500),
	}}

	svc := newTestPaymentSync(store, map[string]PaymentLister{models.EnvironmentProduction: lister}, &fakeAlerter{})

	first := svc.SyncPayments(context.Background(), nil)
	assert.Equal(t, 1, first.PaymentsProcessed)

	second := svc.SyncPayments(context.Background(), nil)
	assert.True(t, second.Success)
	assert.Zero(t, second.PaymentsProcessed)
	assert.Equal(t, 1, second.PaymentsSkipped)
}

func TestSyncPaymentsDispositionsSumToFound(t *testing.T) {
	store := newFakePaymentStore()

	var payments []models.SquarePayment
	for i := 0; i < 100; i++ {
		orderID := fmt.Sprintf("sq-order-%d", i)
		// Every third payment has no local order and must be skipped.
		if i%3 != 0 {
			store.addOrder(orderID)
		}
		payments = append(payments, squarePayment(fmt.Sprintf("pay-%d", i), orderID, models.SquarePaymentCompleted, 1000))
	}

	lister := &fakeLister{env: models.EnvironmentProduction, payments: payments}
	svc := newTestPaymentSync(store, map[string]PaymentLister{models.EnvironmentProduction: lister}, &fakeAlerter{})

	result := svc.SyncPayments(context.Background(), &PaymentSyncRequest{BatchSize: 20})

	assert.Equal(t, 100, result.PaymentsFound)
	assert.Equal(t, result.PaymentsFound,
		result.PaymentsProcessed+result.PaymentsFailed+result.PaymentsSkipped)
	assert.True(t, result.Success)
}

func TestSyncPaymentsFetchFailureAlerts(t *testing.T) {
	store := newFakePaymentStore()
	alerts := &fakeAlerter{}
	lister := &fakeLister{env: models.EnvironmentProduction, err: fmt.Errorf("square is down")}

	svc := newTestPaymentSync(store, map[string]PaymentLister{models.EnvironmentProduction: lister}, alerts)
	result := svc.SyncPayments(context.Background(), nil)

	assert.False(t, result.Success)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0].Error, "square is down")
	assert.Len(t, alerts.bySeverity(alert.SeverityHigh), 1)
}

func TestSyncPaymentsUnknownEnvironment(t *testing.T) {
	store := newFakePaymentStore()
	svc := newTestPaymentSync(store, map[string]PaymentLister{}, &fakeAlerter{})

	result := svc.SyncPayments(context.Background(), &PaymentSyncRequest{Environment: "staging"})

	assert.False(t, result.Success)
	require.Len(t, result.Errors, 1)
	assert.Contains(t, result.Errors[0].Error, "staging")
}

func TestSyncPaymentsForceSyncReverifies(t *testing.T) {
	store := newFakePaymentStore()
	store.addOrder("sq-order-1")

	lister := &fakeLister{env: models.EnvironmentProduction, payments: []models.SquarePayment{
		squarePayment("pay-1", "sq-order-1", models.SquarePaymentCompleted, 2500),
	}}
	svc := newTestPaymentSync(store, map[string]PaymentLister{models.EnvironmentProduction: lister}, &fakeAlerter{})

	svc.SyncPayments(context.Background(), nil)

	// Status changed on Square side; plain sync skips, force sync re-verifies.
	lister.payments[0].Status = models.SquarePaymentFailed

	plain := svc.SyncPayments(context.Background(), nil)
	assert.Equal(t, 1, plain.PaymentsSkipped)
	assert.Equal(t, models.PaymentStatusPaid, store.payments["pay-1"].Status)

	forced := svc.SyncPayments(context.Background(), &PaymentSyncRequest{ForceSync: true})
	assert.Equal(t, 1, forced.PaymentsProcessed)
	assert.Equal(t, models.PaymentStatusFailed, store.payments["pay-1"].Status)
}

func TestRelinkOrphanedOrders(t *testing.T) {
	store := newFakePaymentStore()
	order := store.addOrder("sq-order-1")
	store.orphans = []models.Order{*order}

	// Payment already exists locally, so the main pass skips it; the relink
	// pass must upgrade it to processed for the orphaned order.
	store.payments["pay-1"] = &models.Payment{SquarePaymentID: "pay-1", Status: models.PaymentStatusPending}

	lister := &fakeLister{env: models.EnvironmentProduction, payments: []models.SquarePayment{
		squarePayment("pay-1", "sq-order-1", models.SquarePaymentCompleted, 2500),
	}}
	svc := newTestPaymentSync(store, map[string]PaymentLister{models.EnvironmentProduction: lister}, &fakeAlerter{})

	result := svc.SyncPayments(context.Background(), nil)

	assert.Equal(t, 1, result.PaymentsProcessed)
	assert.Zero(t, result.PaymentsSkipped)
	assert.Equal(t, models.PaymentStatusPaid, order.PaymentStatus)
}

func TestMapPaymentStatus(t *testing.T) {
	svc := newTestPaymentSync(newFakePaymentStore(), nil, &fakeAlerter{})

	assert.Equal(t, models.PaymentStatusPaid, svc.mapPaymentStatus("p", models.SquarePaymentCompleted))
	assert.Equal(t, models.PaymentStatusPending, svc.mapPaymentStatus("p", models.SquarePaymentPending))
	assert.Equal(t, models.PaymentStatusFailed, svc.mapPaymentStatus("p", models.SquarePaymentFailed))
	assert.Equal(t, models.PaymentStatusFailed, svc.mapPaymentStatus("p", models.SquarePaymentCanceled))
	assert.Equal(t, models.PaymentStatusPending, svc.mapPaymentStatus("p", "APPROVED"))
}

func TestSyncAllEnvironmentsCombinesResults(t *testing.T) {
	store := newFakePaymentStore()
	store.addOrder("sq-order-prod")
	store.addOrder("sq-order-sand")

	listers := map[string]PaymentLister{
		models.EnvironmentProduction: &fakeLister{
			env: models.EnvironmentProduction,
			payments: []models.SquarePayment{
				squarePayment("pay-prod", "sq-order-prod", models.SquarePaymentCompleted, 5000),
			},
		},
		models.EnvironmentSandbox: &fakeLister{
			env: models.EnvironmentSandbox,
			payments: []models.SquarePayment{
				squarePayment("pay-sand", "sq-order-sand", models.SquarePaymentCompleted, 100),
			},
		},
	}
	svc := newTestPaymentSync(store, listers, &fakeAlerter{})

	result := svc.SyncAllEnvironments(context.Background(), nil)

	assert.True(t, result.Success)
	assert.True(t, strings.HasPrefix(result.SyncID, "combined_"))
	assert.Equal(t, 2, result.PaymentsFound)
	assert.Equal(t, 2, result.PaymentsProcessed)
	assert.Equal(t, "all", result.Metadata.Environment)
}

func TestSyncAllEnvironmentsPartialFailure(t *testing.T) {
	store := newFakePaymentStore()
	store.addOrder("sq-order-prod")

	listers := map[string]PaymentLister{
		models.EnvironmentProduction: &fakeLister{
			env: models.EnvironmentProduction,
			payments: []models.SquarePayment{
				squarePayment("pay-prod", "sq-order-prod", models.SquarePaymentCompleted, 5000),
			},
		},
		models.EnvironmentSandbox: &fakeLister{
			env: models.EnvironmentSandbox,
			err: fmt.Errorf("sandbox unreachable"),
		},
	}
	svc := newTestPaymentSync(store, listers, &fakeAlerter{})

	result := svc.SyncAllEnvironments(context.Background(), nil)

	assert.False(t, result.Success)
	assert.Equal(t, 1, result.PaymentsProcessed)
	require.NotEmpty(t, result.Errors)
	assert.Contains(t, result.Errors[0].Error, "sandbox unreachable")
}

func TestEmergencySyncAlertsOnFailure(t *testing.T) {
	store := newFakePaymentStore()
	alerts := &fakeAlerter{}
	lister := &fakeLister{env: models.EnvironmentProduction, err: fmt.Errorf("square is down")}

	svc := newTestPaymentSync(store, map[string]PaymentLister{models.EnvironmentProduction: lister}, alerts)
	result := svc.EmergencySync(context.Background(), "evt-failed-1")

	assert.False(t, result.Success)
	assert.Equal(t, models.SyncTypeWebhookFallback, result.Metadata.SyncType)
	require.Len(t, alerts.bySeverity(alert.SeverityCritical), 1)
	assert.Equal(t, "evt-failed-1", alerts.bySeverity(alert.SeverityCritical)[0].Details["failed_event_id"])
}

func TestNewSyncIDFormat(t *testing.T) {
	start := time.Now()
	id := newSyncID(models.SyncTypeManual, start)

	parts := strings.Split(id, "_")
	require.Len(t, parts, 3)
	assert.Equal(t, models.SyncTypeManual, parts[0])
	assert.Equal(t, fmt.Sprintf("%d", start.UnixMilli()), parts[1])
	assert.Len(t, parts[2], 8)
}

func TestNormalizeRequestDefaults(t *testing.T) {
	svc := NewPaymentSyncService(newFakePaymentStore(), nil, &fakeAlerter{},
		nil, models.EnvironmentSandbox, Tuning{})

	req := svc.normalizeRequest(nil)

	assert.Equal(t, defaultLookbackMinutes, req.LookbackMinutes)
	assert.Equal(t, defaultBatchSize, req.BatchSize)
	assert.Equal(t, models.SyncTypeManual, req.SyncType)
	assert.Equal(t, models.EnvironmentSandbox, req.Environment)
}

// pagingLister always reports another page, to exercise the page ceiling.
type pagingLister struct {
	pages int
}

func (f *pagingLister) Environment() string { return models.EnvironmentProduction }

func (f *pagingLister) ListPayments(_ context.Context, _ time.Time, _ string, _ int) ([]models.SquarePayment, string, error) {
	f.pages++
	payment := squarePayment(fmt.Sprintf("pay-%d", f.pages), "", models.SquarePaymentCompleted, 100)
	return []models.SquarePayment{payment}, "next", nil
}

func TestTuningReachesSyncBehavior(t *testing.T) {
	tuning := Tuning{LookbackMinutes: 30, BatchSize: 5, MaxPages: 2, BatchDelay: time.Millisecond}
	svc := NewPaymentSyncService(newFakePaymentStore(), nil, &fakeAlerter{},
		nil, models.EnvironmentProduction, tuning)

	req := svc.normalizeRequest(nil)
	assert.Equal(t, 30, req.LookbackMinutes)
	assert.Equal(t, 5, req.BatchSize)

	// Explicit request values still win over the tuning.
	explicit := svc.normalizeRequest(&PaymentSyncRequest{LookbackMinutes: 90, BatchSize: 50})
	assert.Equal(t, 90, explicit.LookbackMinutes)
	assert.Equal(t, 50, explicit.BatchSize)

	lister := &pagingLister{}
	payments, err := svc.fetchPayments(context.Background(), lister, 60)
	require.NoError(t, err)
	assert.Len(t, payments, 2)
	assert.Equal(t, 2, lister.pages)
}

func TestTuningZeroValuesFallBackToDefaults(t *testing.T) {
	tuning := Tuning{}.withDefaults()

	assert.Equal(t, defaultLookbackMinutes, tuning.LookbackMinutes)
	assert.Equal(t, defaultBatchSize, tuning.BatchSize)
	assert.Equal(t, defaultMaxPages, tuning.MaxPages)
	assert.Equal(t, interBatchDelay, tuning.BatchDelay)
}
