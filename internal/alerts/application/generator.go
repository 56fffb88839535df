package application

import (
	"fmt"
	"time"

	alerts "coldchain-cloud/internal/alerts/domain"
	fleet "coldchain-cloud/internal/fleet/domain"
	rules "coldchain-cloud/internal/rules/domain"
	"coldchain-cloud/internal/status"
)

// Battery thresholds in percent.
const (
	batteryCritical = 10
	batteryWarning  = 20
)

// Report is the output of one generation pass over a set of units.
type Report struct {
	Alerts          []alerts.Alert `json:"alerts"`
	CriticalCount   int            `json:"critical_count"`
	WarningCount    int            `json:"warning_count"`
	UnitsOK         int            `json:"units_ok"`
	UnitsWithAlerts int            `json:"units_with_alerts"`
}

// Generate evaluates all units against their effective rules and produces the
// deduplicated, severity-sorted alert list for this cycle. Re-running on
// unchanged input yields identical output; callers diff against the previous
// cycle to decide what is newly raised.
//
// uplinkIntervals optionally overrides a unit's check-in cadence when the
// heartbeat source reports one; keys are unit IDs, values minutes.
func Generate(units []fleet.UnitState, rulesByUnit map[string]rules.EffectiveRules, uplinkIntervals map[string]int, now time.Time) Report {
	var report Report
	for _, unit := range units {
		r, ok := rulesByUnit[unit.ID]
		if !ok {
			r = rules.Defaults()
		}
		if interval, ok := uplinkIntervals[unit.ID]; ok && interval > 0 {
			unit.CheckinIntervalMinutes = interval
		}
		unitAlerts := evaluateUnit(unit, r, now)
		if len(unitAlerts) == 0 {
			report.UnitsOK++
			continue
		}
		report.UnitsWithAlerts++
		for _, alert := range unitAlerts {
			switch alert.Severity {
			case alerts.SeverityCritical:
				report.CriticalCount++
			case alerts.SeverityWarning:
				report.WarningCount++
			}
		}
		report.Alerts = append(report.Alerts, unitAlerts...)
	}
	alerts.SortBySeverity(report.Alerts)
	return report
}

// evaluateUnit appends at most one alert per type, in a fixed order.
func evaluateUnit(unit fleet.UnitState, r rules.EffectiveRules, now time.Time) []alerts.Alert {
	computed := status.Compute(unit, r, now)
	var list []alerts.Alert

	switch computed.OfflineSeverity {
	case status.OfflineCritical:
		list = append(list, offlineAlert(unit, computed, alerts.TypeOfflineCritical, alerts.SeverityCritical, now))
	case status.OfflineWarning:
		list = append(list, offlineAlert(unit, computed, alerts.TypeOfflineWarning, alerts.SeverityWarning, now))
	}

	if computed.ManualRequired {
		list = append(list, manualAlert(unit, computed, now))
	}

	if unit.Status == fleet.StatusAlarmActive {
		list = append(list, thresholdAlert(unit, alerts.TypeAlarmActive, alerts.SeverityCritical, "Temperature Alarm"))
	}

	if unit.Status == fleet.StatusExcursion {
		list = append(list, thresholdAlert(unit, alerts.TypeExcursion, alerts.SeverityWarning, "Temperature Excursion"))
	}

	if unit.BatteryLevel != nil {
		level := *unit.BatteryLevel
		if level < batteryCritical {
			list = append(list, batteryAlert(unit, level, alerts.SeverityCritical))
		} else if level < batteryWarning {
			list = append(list, batteryAlert(unit, level, alerts.SeverityWarning))
		}
	}

	return list
}

func offlineAlert(unit fleet.UnitState, computed status.ComputedStatus, alertType string, severity alerts.Severity, now time.Time) alerts.Alert {
	missed := computed.MissedCheckins
	message := fmt.Sprintf("%s has never checked in.", unit.Name)
	if missed != status.NeverCheckedIn && !unit.LastCheckinAt.IsZero() {
		message = fmt.Sprintf("No check-in from %s for %s (%d missed check-ins).",
			unit.Name, formatDuration(now.Sub(unit.LastCheckinAt)), missed)
	}
	return alerts.Alert{
		ID:             alerts.AlertID(unit.ID, alertType),
		UnitID:         unit.ID,
		UnitName:       unit.Name,
		SiteName:       unit.SiteName,
		AreaName:       unit.AreaName,
		Type:           alertType,
		Severity:       severity,
		Title:          "Unit Offline",
		Message:        message,
		MissedCheckins: &missed,
	}
}

func manualAlert(unit fleet.UnitState, computed status.ComputedStatus, now time.Time) alerts.Alert {
	message := fmt.Sprintf("%s requires a manual temperature log: never logged.", unit.Name)
	if !computed.ManualLogDueAt.IsZero() {
		message = fmt.Sprintf("%s requires a manual temperature log: overdue by %s.",
			unit.Name, formatDuration(now.Sub(computed.ManualLogDueAt)))
	}
	return alerts.Alert{
		ID:       alerts.AlertID(unit.ID, alerts.TypeManualRequired),
		UnitID:   unit.ID,
		UnitName: unit.Name,
		SiteName: unit.SiteName,
		AreaName: unit.AreaName,
		Type:     alerts.TypeManualRequired,
		Severity: alerts.SeverityCritical,
		Title:    "Manual Log Required",
		Message:  message,
	}
}

func thresholdAlert(unit fleet.UnitState, alertType string, severity alerts.Severity, title string) alerts.Alert {
	doorContext := ""
	if unit.HasDoorSensor {
		switch unit.DoorState {
		case fleet.DoorOpen:
			doorContext = "door open"
		case fleet.DoorClosed:
			doorContext = "door closed"
		}
	}
	message := fmt.Sprintf("%s exceeded the high limit %.1f°C.", unit.Name, unit.TempLimitHigh)
	if unit.LastTempReading != nil {
		message = fmt.Sprintf("%s reading %.1f°C is above the high limit %.1f°C.",
			unit.Name, *unit.LastTempReading, unit.TempLimitHigh)
	}
	if doorContext != "" {
		message += " (" + doorContext + ")"
	}
	return alerts.Alert{
		ID:          alerts.AlertID(unit.ID, alertType),
		UnitID:      unit.ID,
		UnitName:    unit.Name,
		SiteName:    unit.SiteName,
		AreaName:    unit.AreaName,
		Type:        alertType,
		Severity:    severity,
		Title:       title,
		Message:     message,
		DoorContext: doorContext,
	}
}

func batteryAlert(unit fleet.UnitState, level float64, severity alerts.Severity) alerts.Alert {
	return alerts.Alert{
		ID:       alerts.AlertID(unit.ID, alerts.TypeLowBattery),
		UnitID:   unit.ID,
		UnitName: unit.Name,
		SiteName: unit.SiteName,
		AreaName: unit.AreaName,
		Type:     alerts.TypeLowBattery,
		Severity: severity,
		Title:    "Low Battery",
		Message:  fmt.Sprintf("Sensor battery on %s is at %.0f%%.", unit.Name, level),
	}
}

func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Round(time.Minute)
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	if hours > 0 {
		return fmt.Sprintf("%dh %02dm", hours, minutes)
	}
	return fmt.Sprintf("%dm", minutes)
}
