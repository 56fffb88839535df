package fleet

import "time"

// Raw unit lifecycle status as reported by the telemetry pipeline. The raw
// value may lag behind reality; the status package derives the presentation
// state from timestamps instead of trusting it.
const (
	StatusOK                    = "ok"
	StatusAlarmActive           = "alarm_active"
	StatusExcursion             = "excursion"
	StatusRestoring             = "restoring"
	StatusOffline               = "offline"
	StatusManualRequired        = "manual_required"
	StatusMonitoringInterrupted = "monitoring_interrupted"
)

// Door states reported by an attached door sensor.
const (
	DoorOpen   = "open"
	DoorClosed = "closed"
)

// UnitState is a read-only snapshot of one refrigeration unit at evaluation
// time. Zero time values mean the event never happened.
type UnitState struct {
	ID       string
	Name     string
	OrgID    string
	SiteID   string
	SiteName string
	AreaName string

	Status        string
	TempLimitHigh float64
	TempLimitLow  *float64

	LastTempReading *float64
	LastReadingAt   time.Time
	LastManualLogAt time.Time

	// LastCheckinAt prefers the dedicated heartbeat source over the reading
	// timestamp when both exist.
	LastCheckinAt time.Time

	// CheckinIntervalMinutes must match the actual reporting cadence of the
	// attached sensor. A stale value here causes false offline/online flips;
	// provisioning owns keeping it synchronized with the device configuration.
	CheckinIntervalMinutes int

	ManualLoggingEnabled bool

	HasDoorSensor     bool
	DoorState         string
	DoorLastChangedAt time.Time

	// BatteryLevel is a percentage 0-100 when the sensor reports one.
	BatteryLevel *float64
}
