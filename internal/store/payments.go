package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"square-sync-service/internal/models"

	"github.com/jmoiron/sqlx"
)

// GetOrderBySquareOrderID retrieves the local order linked to a Square order,
// or nil if no such order exists locally.
func (s *Store) GetOrderBySquareOrderID(ctx context.Context, squareOrderID string) (*models.Order, error) {
	var order models.Order
	err := s.db.GetContext(ctx, &order,
		"SELECT * FROM orders WHERE square_order_id = $1", squareOrderID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &order, nil
}

// UpdateOrderPaymentStatus updates the payment status on an order
func (s *Store) UpdateOrderPaymentStatus(ctx context.Context, orderID int64, status string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE orders SET payment_status = $1, updated_at = NOW() WHERE id = $2",
		status, orderID)
	return err
}

// FindOrdersWithoutPayments returns orders created since the given time that
// have no payment record at all.
func (s *Store) FindOrdersWithoutPayments(ctx context.Context, since time.Time, limit int) ([]models.Order, error) {
	var orders []models.Order
	err := s.db.SelectContext(ctx, &orders, `
		SELECT o.* FROM orders o
		LEFT JOIN payments p ON p.order_id = o.id
		WHERE p.id IS NULL AND o.created_at >= $1
		ORDER BY o.created_at DESC
		LIMIT $2`, since, limit)
	return orders, err
}

// FindMissingPayments partitions Square payment IDs into those with no local
// record and those already recorded, in one batched query.
func (s *Store) FindMissingPayments(ctx context.Context, squarePaymentIDs []string) (missing, existing []string, err error) {
	if len(squarePaymentIDs) == 0 {
		return nil, nil, nil
	}

	query, args, err := sqlx.In(
		"SELECT square_payment_id FROM payments WHERE square_payment_id IN (?)", squarePaymentIDs)
	if err != nil {
		return nil, nil, err
	}
	query = s.db.Rebind(query)

	var found []string
	if err := s.db.SelectContext(ctx, &found, query, args...); err != nil {
		return nil, nil, err
	}

	existingSet := make(map[string]bool, len(found))
	for _, id := range found {
		existingSet[id] = true
	}

	for _, id := range squarePaymentIDs {
		if existingSet[id] {
			existing = append(existing, id)
		} else {
			missing = append(missing, id)
		}
	}
	return missing, existing, nil
}

// CreatePayment creates a local payment record mirroring a Square payment
func (s *Store) CreatePayment(ctx context.Context, payment *models.Payment) error {
	query := `
		INSERT INTO payments (square_payment_id, order_id, amount, status, raw_data)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at, updated_at`

	return s.db.GetContext(ctx, payment, query,
		payment.SquarePaymentID, payment.OrderID, payment.Amount, payment.Status, payment.RawData)
}

// GetPaymentBySquareID retrieves a payment by its Square payment ID
func (s *Store) GetPaymentBySquareID(ctx context.Context, squarePaymentID string) (*models.Payment, error) {
	var payment models.Payment
	err := s.db.GetContext(ctx, &payment,
		"SELECT * FROM payments WHERE square_payment_id = $1", squarePaymentID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("payment not found: %s", squarePaymentID)
	}
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

// UpdatePaymentFromSquare overwrites the status and raw snapshot of an
// existing payment record. Local-only fields are left untouched.
func (s *Store) UpdatePaymentFromSquare(ctx context.Context, squarePaymentID, status string, rawData []byte) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE payments SET status = $1, raw_data = $2, updated_at = NOW() WHERE square_payment_id = $3",
		status, rawData, squarePaymentID)
	return err
}
