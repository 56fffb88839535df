package postgres

import (
	"context"
	"database/sql"
	"errors"
	"time"

	alerts "coldchain-cloud/internal/alerts/domain"
)

// AlertRepository is a Postgres repository for alert lifecycle records. The
// row key is the deterministic alert id, so re-raising an alert that is still
// active updates the existing row instead of creating a duplicate.
type AlertRepository struct {
	db *sql.DB
}

// NewAlertRepository constructs a repository.
func NewAlertRepository(db *sql.DB) *AlertRepository {
	return &AlertRepository{db: db}
}

// Create inserts a newly raised alert.
func (r *AlertRepository) Create(ctx context.Context, alert *alerts.ActiveAlert) error {
	if r == nil || r.db == nil {
		return errors.New("alert repo: nil db")
	}
	if alert == nil {
		return errors.New("alert repo: nil alert")
	}
	if alert.ID == "" || alert.UnitID == "" || alert.OrgID == "" {
		return errors.New("alert repo: missing fields")
	}
	if alert.RaisedAt.IsZero() {
		alert.RaisedAt = time.Now().UTC()
	}
	if alert.UpdatedAt.IsZero() {
		alert.UpdatedAt = alert.RaisedAt
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO active_alerts (
	id, org_id, site_id, unit_id, unit_name, site_name, area_name, type,
	severity, title, message, missed_checkins, door_context,
	raised_at, updated_at, acknowledged_at, acknowledged_by, resolved_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8,
	$9, $10, $11, $12, $13,
	$14, $15, $16, $17, $18
)`,
		alert.ID,
		alert.OrgID,
		alert.SiteID,
		alert.UnitID,
		alert.UnitName,
		alert.SiteName,
		alert.AreaName,
		alert.Type,
		string(alert.Severity),
		alert.Title,
		alert.Message,
		alert.MissedCheckins,
		alert.DoorContext,
		alert.RaisedAt,
		alert.UpdatedAt,
		alert.AcknowledgedAt,
		alert.AcknowledgedBy,
		alert.ResolvedAt,
	)
	return err
}

// ListActive returns unresolved alerts for an org.
func (r *AlertRepository) ListActive(ctx context.Context, orgID string) ([]alerts.ActiveAlert, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert repo: nil db")
	}
	if orgID == "" {
		return nil, errors.New("alert repo: invalid query")
	}
	return r.list(ctx, `
SELECT id, org_id, site_id, unit_id, unit_name, site_name, area_name, type,
	severity, title, message, missed_checkins, door_context,
	raised_at, updated_at, acknowledged_at, acknowledged_by, resolved_at
FROM active_alerts
WHERE org_id = $1 AND resolved_at IS NULL
ORDER BY raised_at ASC`, orgID)
}

// ListActiveBySite returns unresolved alerts for one site.
func (r *AlertRepository) ListActiveBySite(ctx context.Context, siteID string) ([]alerts.ActiveAlert, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert repo: nil db")
	}
	if siteID == "" {
		return nil, errors.New("alert repo: invalid query")
	}
	return r.list(ctx, `
SELECT id, org_id, site_id, unit_id, unit_name, site_name, area_name, type,
	severity, title, message, missed_checkins, door_context,
	raised_at, updated_at, acknowledged_at, acknowledged_by, resolved_at
FROM active_alerts
WHERE site_id = $1 AND resolved_at IS NULL
ORDER BY raised_at ASC`, siteID)
}

// UpdateObservation refreshes the generated fields of an active alert. The
// lifecycle timestamps other than updated_at are untouched.
func (r *AlertRepository) UpdateObservation(ctx context.Context, alert *alerts.ActiveAlert) error {
	if r == nil || r.db == nil {
		return errors.New("alert repo: nil db")
	}
	if alert == nil || alert.ID == "" {
		return errors.New("alert repo: invalid alert")
	}
	if alert.UpdatedAt.IsZero() {
		alert.UpdatedAt = time.Now().UTC()
	}
	_, err := r.db.ExecContext(ctx, `
UPDATE active_alerts
SET severity = $1, title = $2, message = $3, missed_checkins = $4,
	door_context = $5, updated_at = $6
WHERE id = $7 AND resolved_at IS NULL`,
		string(alert.Severity), alert.Title, alert.Message, alert.MissedCheckins,
		alert.DoorContext, alert.UpdatedAt, alert.ID)
	return err
}

// MarkAcknowledged records an operator acknowledgement. Acknowledging an
// already-acknowledged or resolved alert is a no-op.
func (r *AlertRepository) MarkAcknowledged(ctx context.Context, alertID, actor string, at time.Time) (bool, error) {
	if r == nil || r.db == nil {
		return false, errors.New("alert repo: nil db")
	}
	if alertID == "" {
		return false, errors.New("alert repo: invalid alert id")
	}
	result, err := r.db.ExecContext(ctx, `
UPDATE active_alerts
SET acknowledged_at = $1, acknowledged_by = $2, updated_at = $1
WHERE id = $3 AND acknowledged_at IS NULL AND resolved_at IS NULL`, at, actor, alertID)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// MarkResolved closes an active alert.
func (r *AlertRepository) MarkResolved(ctx context.Context, alertID string, at time.Time) error {
	if r == nil || r.db == nil {
		return errors.New("alert repo: nil db")
	}
	if alertID == "" {
		return errors.New("alert repo: invalid alert id")
	}
	_, err := r.db.ExecContext(ctx, `
UPDATE active_alerts
SET resolved_at = $1, updated_at = $1
WHERE id = $2 AND resolved_at IS NULL`, at, alertID)
	return err
}

// ListHistory returns resolved and active alerts raised within a time window,
// newest first.
func (r *AlertRepository) ListHistory(ctx context.Context, orgID string, from, to time.Time) ([]alerts.ActiveAlert, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("alert repo: nil db")
	}
	if orgID == "" {
		return nil, errors.New("alert repo: invalid query")
	}
	return r.list(ctx, `
SELECT id, org_id, site_id, unit_id, unit_name, site_name, area_name, type,
	severity, title, message, missed_checkins, door_context,
	raised_at, updated_at, acknowledged_at, acknowledged_by, resolved_at
FROM active_alerts
WHERE org_id = $1 AND raised_at >= $2 AND raised_at < $3
ORDER BY raised_at DESC`, orgID, from, to)
}

func (r *AlertRepository) list(ctx context.Context, query string, args ...any) ([]alerts.ActiveAlert, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []alerts.ActiveAlert
	for rows.Next() {
		alert, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *alert)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

type alertScanner interface {
	Scan(dest ...any) error
}

func scanAlert(row alertScanner) (*alerts.ActiveAlert, error) {
	var alert alerts.ActiveAlert
	var severity string
	var acknowledgedAt, resolvedAt sql.NullTime
	var acknowledgedBy sql.NullString
	if err := row.Scan(
		&alert.ID,
		&alert.OrgID,
		&alert.SiteID,
		&alert.UnitID,
		&alert.UnitName,
		&alert.SiteName,
		&alert.AreaName,
		&alert.Type,
		&severity,
		&alert.Title,
		&alert.Message,
		&alert.MissedCheckins,
		&alert.DoorContext,
		&alert.RaisedAt,
		&alert.UpdatedAt,
		&acknowledgedAt,
		&acknowledgedBy,
		&resolvedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	alert.Severity = alerts.Severity(severity)
	alert.RaisedAt = alert.RaisedAt.UTC()
	alert.UpdatedAt = alert.UpdatedAt.UTC()
	if acknowledgedAt.Valid {
		t := acknowledgedAt.Time.UTC()
		alert.AcknowledgedAt = &t
	}
	if acknowledgedBy.Valid {
		alert.AcknowledgedBy = acknowledgedBy.String
	}
	if resolvedAt.Valid {
		t := resolvedAt.Time.UTC()
		alert.ResolvedAt = &t
	}
	return &alert, nil
}
