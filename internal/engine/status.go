package engine

import (
	"context"
	"errors"
	"time"

	"coldchain-cloud/internal/status"
)

// UnitStatus is the presentation row for one unit on the status board.
type UnitStatus struct {
	UnitID   string `json:"unit_id"`
	Name     string `json:"name"`
	SiteID   string `json:"site_id"`
	SiteName string `json:"site_name"`
	AreaName string `json:"area_name,omitempty"`

	Label string `json:"label"`
	Tone  string `json:"tone"`

	MissedCheckins int        `json:"missed_checkins"`
	ManualLogDueAt *time.Time `json:"manual_log_due_at,omitempty"`
	IsManualLogDue bool       `json:"is_manual_log_due"`

	LastTempReading *float64   `json:"last_temp_reading,omitempty"`
	LastReadingAt   *time.Time `json:"last_reading_at,omitempty"`
	BatteryLevel    *float64   `json:"battery_level,omitempty"`

	// RuleSources maps rule field names to the scope that supplied each value.
	RuleSources map[string]string `json:"rule_sources,omitempty"`
}

// StatusBoard derives the presentation status for every monitored unit using
// the same observation time across the whole board.
func (e *Engine) StatusBoard(ctx context.Context) ([]UnitStatus, error) {
	if e == nil {
		return nil, errors.New("engine: nil engine")
	}
	now := e.clock.Now().UTC()

	units, err := e.units.ListUnitStates(ctx, e.orgID)
	if err != nil {
		return nil, err
	}
	rulesByUnit, err := e.resolveRules(ctx, units)
	if err != nil {
		return nil, err
	}

	board := make([]UnitStatus, 0, len(units))
	for _, unit := range units {
		r := rulesByUnit[unit.ID]
		computed := status.Compute(unit, r, now)
		label := status.StatusLabel(unit, computed)

		row := UnitStatus{
			UnitID:          unit.ID,
			Name:            unit.Name,
			SiteID:          unit.SiteID,
			SiteName:        unit.SiteName,
			AreaName:        unit.AreaName,
			Label:           label.Text,
			Tone:            string(label.Tone),
			MissedCheckins:  computed.MissedCheckins,
			IsManualLogDue:  computed.IsManualLogDue,
			LastTempReading: unit.LastTempReading,
			BatteryLevel:    unit.BatteryLevel,
		}
		if !computed.ManualLogDueAt.IsZero() {
			dueAt := computed.ManualLogDueAt
			row.ManualLogDueAt = &dueAt
		}
		if !unit.LastReadingAt.IsZero() {
			readingAt := unit.LastReadingAt
			row.LastReadingAt = &readingAt
		}
		if len(r.Source) > 0 {
			row.RuleSources = make(map[string]string, len(r.Source))
			for field, scope := range r.Source {
				row.RuleSources[field] = string(scope)
			}
		}
		board = append(board, row)
	}
	return board, nil
}
