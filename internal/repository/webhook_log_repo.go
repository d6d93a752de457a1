package repository

import (
	"context"
	"fmt"
	"time"

	"billingsync/internal/model"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// WebhookLogRepository is the append-only webhook ingestion log.
// There is deliberately no update or delete.
type WebhookLogRepository interface {
	Record(ctx context.Context, rec *model.WebhookRecord) error
	// ListSince returns every record processed at or after since.
	ListSince(ctx context.Context, since time.Time) ([]model.WebhookRecord, error)
	// RecentFailures returns the newest failed records.
	RecentFailures(ctx context.Context, limit int) ([]model.WebhookRecord, error)
	// CountByEventID returns how many attempts exist for an event.
	CountByEventID(ctx context.Context, eventID string) (int, error)
}

type webhookLogRepository struct {
	pool *pgxpool.Pool
}

func NewWebhookLogRepository(pool *pgxpool.Pool) WebhookLogRepository {
	return &webhookLogRepository{pool: pool}
}

const webhookRecordColumns = `id, event_id, event_type, success, error_message, processing_time_ms, retry_count, test_mode, processed_at`

func (r *webhookLogRepository) Record(ctx context.Context, rec *model.WebhookRecord) error {
	query := `
        INSERT INTO webhook_processing_logs (` + webhookRecordColumns + `)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
    `
	_, err := r.pool.Exec(
		ctx,
		query,
		rec.ID,
		rec.EventID,
		rec.EventType,
		rec.Success,
		rec.ErrorMessage,
		rec.ProcessingTimeMs,
		rec.RetryCount,
		rec.TestMode,
		rec.ProcessedAt,
	)
	if err != nil {
		return fmt.Errorf("record webhook event %s: %w", rec.EventID, err)
	}
	return nil
}

func (r *webhookLogRepository) ListSince(ctx context.Context, since time.Time) ([]model.WebhookRecord, error) {
	query := `SELECT ` + webhookRecordColumns + ` FROM webhook_processing_logs WHERE processed_at >= $1 ORDER BY processed_at DESC`
	rows, err := r.pool.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("list webhook records since %s: %w", since.Format(time.RFC3339), err)
	}
	return collectWebhookRecords(rows)
}

func (r *webhookLogRepository) RecentFailures(ctx context.Context, limit int) ([]model.WebhookRecord, error) {
	query := `SELECT ` + webhookRecordColumns + ` FROM webhook_processing_logs WHERE success = false ORDER BY processed_at DESC LIMIT $1`
	rows, err := r.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("list recent webhook failures: %w", err)
	}
	return collectWebhookRecords(rows)
}

func (r *webhookLogRepository) CountByEventID(ctx context.Context, eventID string) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM webhook_processing_logs WHERE event_id = $1`, eventID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count webhook attempts for %s: %w", eventID, err)
	}
	return n, nil
}

func collectWebhookRecords(rows pgx.Rows) ([]model.WebhookRecord, error) {
	defer rows.Close()
	var out []model.WebhookRecord
	for rows.Next() {
		var rec model.WebhookRecord
		if err := rows.Scan(
			&rec.ID,
			&rec.EventID,
			&rec.EventType,
			&rec.Success,
			&rec.ErrorMessage,
			&rec.ProcessingTimeMs,
			&rec.RetryCount,
			&rec.TestMode,
			&rec.ProcessedAt,
		); err != nil {
			return nil, fmt.Errorf("scan webhook record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate webhook records: %w", err)
	}
	return out, nil
}
