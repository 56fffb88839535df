package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	alerts "coldchain-cloud/internal/alerts/domain"
	"coldchain-cloud/internal/audit"
	notifications "coldchain-cloud/internal/notifications/domain"
	rules "coldchain-cloud/internal/rules/domain"
)

// PolicyOverrideRepository is a Postgres repository for scoped notification
// policy overrides, keyed by (scope, scope_id, alert_type). List-valued
// fields are stored as JSONB; NULL columns inherit from the parent scope.
type PolicyOverrideRepository struct {
	db *sql.DB
}

// NewPolicyOverrideRepository constructs a repository.
func NewPolicyOverrideRepository(db *sql.DB) *PolicyOverrideRepository {
	return &PolicyOverrideRepository{db: db}
}

// Get loads the override row for one scope and alert type. A missing row
// returns (nil, nil).
func (r *PolicyOverrideRepository) Get(ctx context.Context, scope rules.Scope, scopeID, alertType string) (*notifications.Override, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("policy override repo: nil db")
	}
	if scopeID == "" || alertType == "" {
		return nil, errors.New("policy override repo: invalid query")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT initial_channels, requires_ack, ack_deadline_minutes, escalation_steps,
	reminders_enabled, reminder_interval_minutes, send_resolved_notifications,
	quiet_hours_enabled, quiet_hours_start_local, quiet_hours_end_local,
	quiet_hours_exempt_channels, severity_threshold, allow_warning_notifications
FROM notification_policy_overrides
WHERE scope = $1 AND scope_id = $2 AND alert_type = $3
LIMIT 1`, string(scope), scopeID, alertType)

	var o notifications.Override
	var initialChannels, escalationSteps, exemptChannels []byte
	var severityThreshold sql.NullString
	if err := row.Scan(
		&initialChannels,
		&o.RequiresAck,
		&o.AckDeadlineMinutes,
		&escalationSteps,
		&o.RemindersEnabled,
		&o.ReminderIntervalMinutes,
		&o.SendResolvedNotifications,
		&o.QuietHoursEnabled,
		&o.QuietHoursStartLocal,
		&o.QuietHoursEndLocal,
		&exemptChannels,
		&severityThreshold,
		&o.AllowWarningNotifications,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if initialChannels != nil {
		var channels []notifications.Channel
		if err := json.Unmarshal(initialChannels, &channels); err != nil {
			return nil, fmt.Errorf("policy override repo: initial channels: %w", err)
		}
		o.InitialChannels = &channels
	}
	if escalationSteps != nil {
		var steps []notifications.EscalationStep
		if err := json.Unmarshal(escalationSteps, &steps); err != nil {
			return nil, fmt.Errorf("policy override repo: escalation steps: %w", err)
		}
		o.EscalationSteps = &steps
	}
	if exemptChannels != nil {
		var channels []notifications.Channel
		if err := json.Unmarshal(exemptChannels, &channels); err != nil {
			return nil, fmt.Errorf("policy override repo: exempt channels: %w", err)
		}
		o.QuietHoursExemptChannels = &channels
	}
	if severityThreshold.Valid {
		severity := alerts.Severity(severityThreshold.String)
		o.SeverityThreshold = &severity
	}
	return &o, nil
}

// Save upserts the override row for one scope and alert type. Validation runs
// before the statement so malformed policies never reach storage.
func (r *PolicyOverrideRepository) Save(ctx context.Context, scope rules.Scope, scopeID, alertType string, o *notifications.Override) error {
	if r == nil || r.db == nil {
		return errors.New("policy override repo: nil db")
	}
	if scopeID == "" || alertType == "" {
		return errors.New("policy override repo: invalid key")
	}
	if o == nil {
		return errors.New("policy override repo: nil override")
	}
	if err := o.Validate(); err != nil {
		return fmt.Errorf("policy override repo: %w", err)
	}
	initialChannels, err := marshalNullable(o.InitialChannels)
	if err != nil {
		return fmt.Errorf("policy override repo: initial channels: %w", err)
	}
	escalationSteps, err := marshalNullable(o.EscalationSteps)
	if err != nil {
		return fmt.Errorf("policy override repo: escalation steps: %w", err)
	}
	exemptChannels, err := marshalNullable(o.QuietHoursExemptChannels)
	if err != nil {
		return fmt.Errorf("policy override repo: exempt channels: %w", err)
	}
	var severityThreshold *string
	if o.SeverityThreshold != nil {
		value := string(*o.SeverityThreshold)
		severityThreshold = &value
	}
	_, err = r.db.ExecContext(ctx, `
INSERT INTO notification_policy_overrides (
	scope, scope_id, alert_type, initial_channels, requires_ack,
	ack_deadline_minutes, escalation_steps, reminders_enabled,
	reminder_interval_minutes, send_resolved_notifications, quiet_hours_enabled,
	quiet_hours_start_local, quiet_hours_end_local, quiet_hours_exempt_channels,
	severity_threshold, allow_warning_notifications, updated_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17
)
ON CONFLICT (scope, scope_id, alert_type) DO UPDATE SET
	initial_channels = EXCLUDED.initial_channels,
	requires_ack = EXCLUDED.requires_ack,
	ack_deadline_minutes = EXCLUDED.ack_deadline_minutes,
	escalation_steps = EXCLUDED.escalation_steps,
	reminders_enabled = EXCLUDED.reminders_enabled,
	reminder_interval_minutes = EXCLUDED.reminder_interval_minutes,
	send_resolved_notifications = EXCLUDED.send_resolved_notifications,
	quiet_hours_enabled = EXCLUDED.quiet_hours_enabled,
	quiet_hours_start_local = EXCLUDED.quiet_hours_start_local,
	quiet_hours_end_local = EXCLUDED.quiet_hours_end_local,
	quiet_hours_exempt_channels = EXCLUDED.quiet_hours_exempt_channels,
	severity_threshold = EXCLUDED.severity_threshold,
	allow_warning_notifications = EXCLUDED.allow_warning_notifications,
	updated_at = EXCLUDED.updated_at`,
		string(scope), scopeID, alertType, initialChannels, o.RequiresAck,
		o.AckDeadlineMinutes, escalationSteps, o.RemindersEnabled,
		o.ReminderIntervalMinutes, o.SendResolvedNotifications, o.QuietHoursEnabled,
		o.QuietHoursStartLocal, o.QuietHoursEndLocal, exemptChannels,
		severityThreshold, o.AllowWarningNotifications, time.Now().UTC())
	if err != nil {
		return err
	}
	logPolicyAudit(ctx, r.db, scope, scopeID, alertType)
	return nil
}

// Delete removes the override row, reverting the scope to inheritance.
// Deleting a missing row is a no-op.
func (r *PolicyOverrideRepository) Delete(ctx context.Context, scope rules.Scope, scopeID, alertType string) error {
	if r == nil || r.db == nil {
		return errors.New("policy override repo: nil db")
	}
	if scopeID == "" || alertType == "" {
		return errors.New("policy override repo: invalid key")
	}
	_, err := r.db.ExecContext(ctx, `
DELETE FROM notification_policy_overrides
WHERE scope = $1 AND scope_id = $2 AND alert_type = $3`, string(scope), scopeID, alertType)
	return err
}

func marshalNullable[T any](value *[]T) ([]byte, error) {
	if value == nil {
		return nil, nil
	}
	return json.Marshal(*value)
}

func logPolicyAudit(ctx context.Context, db *sql.DB, scope rules.Scope, scopeID, alertType string) {
	if db == nil {
		return
	}
	meta, _ := json.Marshal(map[string]any{
		"scope":      scope,
		"scope_id":   scopeID,
		"alert_type": alertType,
	})
	repo := audit.NewRepository(db)
	if repo == nil {
		return
	}
	_ = repo.Log(ctx, audit.Entry{
		Action:       "notification_policy.save",
		ResourceType: "notification_policy",
		ResourceID:   string(scope) + ":" + scopeID + ":" + alertType,
		Metadata:     meta,
		CreatedAt:    time.Now().UTC(),
	})
}
