package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/lib/pq"

	"coldchain-cloud/internal/notifications/notify"
)

// DeliveryRepository persists notification delivery attempts.
type DeliveryRepository struct {
	db *sql.DB
}

// NewDeliveryRepository constructs a repository.
func NewDeliveryRepository(db *sql.DB) *DeliveryRepository {
	return &DeliveryRepository{db: db}
}

// Record inserts one delivery attempt.
func (r *DeliveryRepository) Record(ctx context.Context, record notify.DeliveryRecord) error {
	if r == nil || r.db == nil {
		return errors.New("delivery repo: nil db")
	}
	if record.AlertID == "" || record.Channel == "" {
		return errors.New("delivery repo: missing fields")
	}
	if record.At.IsZero() {
		record.At = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO notification_deliveries (
	id, alert_id, step_kind, channel, recipients, result, detail, sent_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8
)`, record.ID, record.AlertID, record.StepKind, record.Channel,
		pq.Array(record.Recipients), record.Result, record.Detail, record.At)
	return err
}

// ListByAlert returns delivery attempts for one alert, oldest first.
func (r *DeliveryRepository) ListByAlert(ctx context.Context, alertID string) ([]notify.DeliveryRecord, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("delivery repo: nil db")
	}
	if alertID == "" {
		return nil, errors.New("delivery repo: invalid query")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id, alert_id, step_kind, channel, recipients, result, detail, sent_at
FROM notification_deliveries
WHERE alert_id = $1
ORDER BY sent_at ASC`, alertID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []notify.DeliveryRecord
	for rows.Next() {
		var record notify.DeliveryRecord
		if err := rows.Scan(
			&record.ID,
			&record.AlertID,
			&record.StepKind,
			&record.Channel,
			pq.Array(&record.Recipients),
			&record.Result,
			&record.Detail,
			&record.At,
		); err != nil {
			return nil, err
		}
		record.At = record.At.UTC()
		result = append(result, record)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
