package alerts

import (
	"sort"
	"time"
)

// Alert types produced by the generator.
const (
	TypeManualRequired  = "MANUAL_REQUIRED"
	TypeOfflineWarning  = "OFFLINE_WARNING"
	TypeOfflineCritical = "OFFLINE_CRITICAL"
	TypeExcursion       = "EXCURSION"
	TypeAlarmActive     = "ALARM_ACTIVE"
	TypeLowBattery      = "LOW_BATTERY"
)

// Severity of an alert.
type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeverityInfo     Severity = "info"
)

// Rank orders severities, highest first.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityWarning:
		return 2
	case SeverityInfo:
		return 1
	default:
		return 0
	}
}

// Alert is one logical alert for a (unit, type) pair within an evaluation
// cycle. Alerts are recomputed fully on every pass, never appended: the ID is
// deterministic so the persistence layer can diff consecutive cycles to decide
// what is newly raised and what has resolved.
type Alert struct {
	ID       string   `json:"id"`
	UnitID   string   `json:"unit_id"`
	UnitName string   `json:"unit_name"`
	SiteName string   `json:"site_name"`
	AreaName string   `json:"area_name,omitempty"`
	Type     string   `json:"type"`
	Severity Severity `json:"severity"`
	Title    string   `json:"title"`
	Message  string   `json:"message"`

	// MissedCheckins is set on offline alerts.
	MissedCheckins *int `json:"missed_checkins,omitempty"`

	// DoorContext carries the door suffix for alarm/excursion alerts when a
	// door sensor is linked, e.g. "door open".
	DoorContext string `json:"door_context,omitempty"`
}

// AlertID builds the deterministic de-duplication id for a unit and type.
func AlertID(unitID, alertType string) string {
	return unitID + ":" + alertType
}

// ActiveAlert is the persisted lifecycle record behind one logical alert. The
// embedded Alert fields are refreshed on every evaluation pass while the
// record stays active; the timestamps track the lifecycle across passes.
type ActiveAlert struct {
	Alert
	OrgID          string     `json:"org_id"`
	SiteID         string     `json:"site_id"`
	RaisedAt       time.Time  `json:"raised_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`
	AcknowledgedBy string     `json:"acknowledged_by,omitempty"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
}

// Acknowledged reports whether the alert has been acknowledged.
func (a ActiveAlert) Acknowledged() bool {
	return a.AcknowledgedAt != nil
}

// SortBySeverity orders alerts critical-first. The sort is stable: alerts of
// equal severity keep their generation order.
func SortBySeverity(list []Alert) {
	sort.SliceStable(list, func(i, j int) bool {
		return list[i].Severity.Rank() > list[j].Severity.Rank()
	})
}
