package store

import (
	"context"

	"square-sync-service/internal/models"
)

// CreateSyncStatus writes the start marker for a sync run, before any remote
// calls, so a crash mid-sync is still observable in history.
func (s *Store) CreateSyncStatus(ctx context.Context, record *models.SyncStatusRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_status (sync_id, sync_type, start_time, payments_found, payments_processed, payments_failed)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		record.SyncID, record.SyncType, record.StartTime,
		record.PaymentsFound, record.PaymentsProcessed, record.PaymentsFailed)
	return err
}

// UpdateSyncStatus finalizes a sync run's counts and end time
func (s *Store) UpdateSyncStatus(ctx context.Context, record *models.SyncStatusRecord) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sync_status
		SET end_time = $1, payments_found = $2, payments_processed = $3,
		    payments_failed = $4, error_details = $5
		WHERE sync_id = $6`,
		record.EndTime, record.PaymentsFound, record.PaymentsProcessed,
		record.PaymentsFailed, record.ErrorDetails, record.SyncID)
	return err
}

// GetSyncHistory returns the most recent sync runs, newest first
func (s *Store) GetSyncHistory(ctx context.Context, limit int) ([]models.SyncStatusRecord, error) {
	if limit <= 0 {
		limit = 50
	}
	var records []models.SyncStatusRecord
	err := s.db.SelectContext(ctx, &records,
		"SELECT * FROM sync_status ORDER BY start_time DESC LIMIT $1", limit)
	return records, err
}
