package postgres

import (
	"context"
	"database/sql"
	"errors"

	fleet "coldchain-cloud/internal/fleet/domain"
)

// UnitRepository reads unit snapshots for evaluation.
type UnitRepository struct {
	db *sql.DB
}

// NewUnitRepository constructs a repository.
func NewUnitRepository(db *sql.DB) *UnitRepository {
	return &UnitRepository{db: db}
}

// ListUnitStates returns the evaluation snapshot for every monitored unit in
// an org. The heartbeat timestamp falls back to the last reading timestamp
// when the dedicated check-in source has never reported.
func (r *UnitRepository) ListUnitStates(ctx context.Context, orgID string) ([]fleet.UnitState, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("unit repo: nil db")
	}
	if orgID == "" {
		return nil, errors.New("unit repo: invalid query")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT u.id, u.name, u.org_id, u.site_id, s.name, COALESCE(u.area_name, ''),
	u.status, u.temp_limit_high, u.temp_limit_low,
	u.last_temp_reading, COALESCE(u.last_reading_at, '0001-01-01'),
	COALESCE(u.last_manual_log_at, '0001-01-01'),
	COALESCE(u.last_checkin_at, u.last_reading_at, '0001-01-01'),
	u.checkin_interval_minutes, u.manual_logging_enabled,
	u.has_door_sensor, COALESCE(u.door_state, ''),
	COALESCE(u.door_last_changed_at, '0001-01-01'), u.battery_level
FROM units u
JOIN sites s ON s.id = u.site_id
WHERE u.org_id = $1
ORDER BY s.name ASC, u.name ASC`, orgID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []fleet.UnitState
	for rows.Next() {
		var unit fleet.UnitState
		if err := rows.Scan(
			&unit.ID,
			&unit.Name,
			&unit.OrgID,
			&unit.SiteID,
			&unit.SiteName,
			&unit.AreaName,
			&unit.Status,
			&unit.TempLimitHigh,
			&unit.TempLimitLow,
			&unit.LastTempReading,
			&unit.LastReadingAt,
			&unit.LastManualLogAt,
			&unit.LastCheckinAt,
			&unit.CheckinIntervalMinutes,
			&unit.ManualLoggingEnabled,
			&unit.HasDoorSensor,
			&unit.DoorState,
			&unit.DoorLastChangedAt,
			&unit.BatteryLevel,
		); err != nil {
			return nil, err
		}
		unit.LastReadingAt = unit.LastReadingAt.UTC()
		unit.LastManualLogAt = unit.LastManualLogAt.UTC()
		unit.LastCheckinAt = unit.LastCheckinAt.UTC()
		unit.DoorLastChangedAt = unit.DoorLastChangedAt.UTC()
		result = append(result, unit)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// GetUnitState returns the snapshot for a single unit, or (nil, nil) when the
// unit does not exist.
func (r *UnitRepository) GetUnitState(ctx context.Context, unitID string) (*fleet.UnitState, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("unit repo: nil db")
	}
	if unitID == "" {
		return nil, errors.New("unit repo: invalid query")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT u.id, u.name, u.org_id, u.site_id, s.name, COALESCE(u.area_name, ''),
	u.status, u.temp_limit_high, u.temp_limit_low,
	u.last_temp_reading, COALESCE(u.last_reading_at, '0001-01-01'),
	COALESCE(u.last_manual_log_at, '0001-01-01'),
	COALESCE(u.last_checkin_at, u.last_reading_at, '0001-01-01'),
	u.checkin_interval_minutes, u.manual_logging_enabled,
	u.has_door_sensor, COALESCE(u.door_state, ''),
	COALESCE(u.door_last_changed_at, '0001-01-01'), u.battery_level
FROM units u
JOIN sites s ON s.id = u.site_id
WHERE u.id = $1
LIMIT 1`, unitID)
	var unit fleet.UnitState
	if err := row.Scan(
		&unit.ID,
		&unit.Name,
		&unit.OrgID,
		&unit.SiteID,
		&unit.SiteName,
		&unit.AreaName,
		&unit.Status,
		&unit.TempLimitHigh,
		&unit.TempLimitLow,
		&unit.LastTempReading,
		&unit.LastReadingAt,
		&unit.LastManualLogAt,
		&unit.LastCheckinAt,
		&unit.CheckinIntervalMinutes,
		&unit.ManualLoggingEnabled,
		&unit.HasDoorSensor,
		&unit.DoorState,
		&unit.DoorLastChangedAt,
		&unit.BatteryLevel,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	unit.LastReadingAt = unit.LastReadingAt.UTC()
	unit.LastManualLogAt = unit.LastManualLogAt.UTC()
	unit.LastCheckinAt = unit.LastCheckinAt.UTC()
	unit.DoorLastChangedAt = unit.DoorLastChangedAt.UTC()
	return &unit, nil
}
