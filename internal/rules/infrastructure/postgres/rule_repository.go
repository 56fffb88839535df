package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"coldchain-cloud/internal/audit"
	rules "coldchain-cloud/internal/rules/domain"
)

// RuleOverrideRepository is a Postgres repository for scoped rule overrides.
// One row per (scope, scope_id); NULL columns inherit from the parent scope.
type RuleOverrideRepository struct {
	db *sql.DB
}

// NewRuleOverrideRepository constructs a repository.
func NewRuleOverrideRepository(db *sql.DB) *RuleOverrideRepository {
	return &RuleOverrideRepository{db: db}
}

// Get loads the override row for one scope. A missing row returns (nil, nil);
// resolution treats it the same as a row with every field NULL.
func (r *RuleOverrideRepository) Get(ctx context.Context, scope rules.Scope, scopeID string) (*rules.Override, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("rule override repo: nil db")
	}
	if scopeID == "" {
		return nil, errors.New("rule override repo: invalid query")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT manual_interval_minutes, manual_grace_minutes, expected_reading_interval_seconds,
	offline_warning_missed_checkins, offline_critical_missed_checkins,
	manual_log_missed_checkins_threshold, door_open_warning_minutes,
	door_open_critical_minutes, door_open_max_mask_minutes_per_day,
	excursion_confirm_minutes_door_closed, excursion_confirm_minutes_door_open,
	max_excursion_minutes
FROM rule_overrides
WHERE scope = $1 AND scope_id = $2
LIMIT 1`, string(scope), scopeID)
	var o rules.Override
	if err := row.Scan(
		&o.ManualIntervalMinutes,
		&o.ManualGraceMinutes,
		&o.ExpectedReadingIntervalSeconds,
		&o.OfflineWarningMissedCheckins,
		&o.OfflineCriticalMissedCheckins,
		&o.ManualLogMissedCheckinsThreshold,
		&o.DoorOpenWarningMinutes,
		&o.DoorOpenCriticalMinutes,
		&o.DoorOpenMaxMaskMinutesPerDay,
		&o.ExcursionConfirmMinutesDoorClosed,
		&o.ExcursionConfirmMinutesDoorOpen,
		&o.MaxExcursionMinutes,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &o, nil
}

// Save upserts the override row for one scope. Rejected writes never reach
// storage: validation runs before the statement.
func (r *RuleOverrideRepository) Save(ctx context.Context, scope rules.Scope, scopeID string, o *rules.Override) error {
	if r == nil || r.db == nil {
		return errors.New("rule override repo: nil db")
	}
	if scopeID == "" {
		return errors.New("rule override repo: invalid scope id")
	}
	if o == nil {
		return errors.New("rule override repo: nil override")
	}
	if err := o.Validate(); err != nil {
		return fmt.Errorf("rule override repo: %w", err)
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO rule_overrides (
	scope, scope_id, manual_interval_minutes, manual_grace_minutes,
	expected_reading_interval_seconds, offline_warning_missed_checkins,
	offline_critical_missed_checkins, manual_log_missed_checkins_threshold,
	door_open_warning_minutes, door_open_critical_minutes,
	door_open_max_mask_minutes_per_day, excursion_confirm_minutes_door_closed,
	excursion_confirm_minutes_door_open, max_excursion_minutes, updated_at
) VALUES (
	$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15
)
ON CONFLICT (scope, scope_id) DO UPDATE SET
	manual_interval_minutes = EXCLUDED.manual_interval_minutes,
	manual_grace_minutes = EXCLUDED.manual_grace_minutes,
	expected_reading_interval_seconds = EXCLUDED.expected_reading_interval_seconds,
	offline_warning_missed_checkins = EXCLUDED.offline_warning_missed_checkins,
	offline_critical_missed_checkins = EXCLUDED.offline_critical_missed_checkins,
	manual_log_missed_checkins_threshold = EXCLUDED.manual_log_missed_checkins_threshold,
	door_open_warning_minutes = EXCLUDED.door_open_warning_minutes,
	door_open_critical_minutes = EXCLUDED.door_open_critical_minutes,
	door_open_max_mask_minutes_per_day = EXCLUDED.door_open_max_mask_minutes_per_day,
	excursion_confirm_minutes_door_closed = EXCLUDED.excursion_confirm_minutes_door_closed,
	excursion_confirm_minutes_door_open = EXCLUDED.excursion_confirm_minutes_door_open,
	max_excursion_minutes = EXCLUDED.max_excursion_minutes,
	updated_at = EXCLUDED.updated_at`,
		string(scope), scopeID,
		o.ManualIntervalMinutes, o.ManualGraceMinutes, o.ExpectedReadingIntervalSeconds,
		o.OfflineWarningMissedCheckins, o.OfflineCriticalMissedCheckins,
		o.ManualLogMissedCheckinsThreshold, o.DoorOpenWarningMinutes,
		o.DoorOpenCriticalMinutes, o.DoorOpenMaxMaskMinutesPerDay,
		o.ExcursionConfirmMinutesDoorClosed, o.ExcursionConfirmMinutesDoorOpen,
		o.MaxExcursionMinutes, time.Now().UTC())
	if err != nil {
		return err
	}
	logRuleAudit(ctx, r.db, scope, scopeID, o)
	return nil
}

// Delete removes the override row for one scope. Deleting a missing row is a no-op.
func (r *RuleOverrideRepository) Delete(ctx context.Context, scope rules.Scope, scopeID string) error {
	if r == nil || r.db == nil {
		return errors.New("rule override repo: nil db")
	}
	if scopeID == "" {
		return errors.New("rule override repo: invalid scope id")
	}
	_, err := r.db.ExecContext(ctx, `
DELETE FROM rule_overrides WHERE scope = $1 AND scope_id = $2`, string(scope), scopeID)
	return err
}

func logRuleAudit(ctx context.Context, db *sql.DB, scope rules.Scope, scopeID string, o *rules.Override) {
	if db == nil || o == nil {
		return
	}
	meta, _ := json.Marshal(map[string]any{
		"scope":                                 scope,
		"manual_interval_minutes":               o.ManualIntervalMinutes,
		"manual_grace_minutes":                  o.ManualGraceMinutes,
		"expected_reading_interval_seconds":     o.ExpectedReadingIntervalSeconds,
		"offline_warning_missed_checkins":       o.OfflineWarningMissedCheckins,
		"offline_critical_missed_checkins":      o.OfflineCriticalMissedCheckins,
		"manual_log_missed_checkins_threshold":  o.ManualLogMissedCheckinsThreshold,
		"door_open_warning_minutes":             o.DoorOpenWarningMinutes,
		"door_open_critical_minutes":            o.DoorOpenCriticalMinutes,
		"door_open_max_mask_minutes_per_day":    o.DoorOpenMaxMaskMinutesPerDay,
		"excursion_confirm_minutes_door_closed": o.ExcursionConfirmMinutesDoorClosed,
		"excursion_confirm_minutes_door_open":   o.ExcursionConfirmMinutesDoorOpen,
		"max_excursion_minutes":                 o.MaxExcursionMinutes,
	})
	repo := audit.NewRepository(db)
	if repo == nil {
		return
	}
	_ = repo.Log(ctx, audit.Entry{
		Action:       "rule_override.save",
		ResourceType: "rule_override",
		ResourceID:   string(scope) + ":" + scopeID,
		Metadata:     meta,
		CreatedAt:    time.Now().UTC(),
	})
}
