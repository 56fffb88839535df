// Package status derives connectivity and compliance state from unit
// timestamps and effective rules. Every function is pure: time enters only
// through the now argument, which the caller reads once per evaluation pass.
package status

import (
	"fmt"
	"time"

	fleet "coldchain-cloud/internal/fleet/domain"
	rules "coldchain-cloud/internal/rules/domain"
)

// NeverCheckedIn is the missed-check-in sentinel for units that have no
// check-in on record at all.
const NeverCheckedIn = 999

// checkinBuffer absorbs jitter exactly at interval boundaries so a unit does
// not flap between 0 and 1 missed check-ins. The buffer and the trailing -1
// adjustment are load-bearing: changing either shifts every offline threshold
// by one interval.
const checkinBuffer = 30 * time.Second

// OfflineSeverity buckets the missed-check-in count.
type OfflineSeverity string

const (
	OfflineNone     OfflineSeverity = "none"
	OfflineWarning  OfflineSeverity = "warning"
	OfflineCritical OfflineSeverity = "critical"
)

// ComputedStatus is the derived state for one unit. It is recomputed on every
// pass and never persisted as a source of truth.
type ComputedStatus struct {
	MissedCheckins  int
	OfflineSeverity OfflineSeverity
	ManualRequired  bool
	ManualLogDueAt  time.Time
	IsManualLogDue  bool
}

// MissedCheckins counts elapsed reporting intervals with no heartbeat. A zero
// lastCheckinAt means the unit never checked in and yields the sentinel.
// Panics on a non-positive interval: a silently wrong threshold is worse than
// a crashed evaluation tick the supervisor can retry.
func MissedCheckins(lastCheckinAt time.Time, intervalMinutes int, now time.Time) int {
	if lastCheckinAt.IsZero() {
		return NeverCheckedIn
	}
	if intervalMinutes <= 0 {
		panic(fmt.Sprintf("status: non-positive check-in interval %d", intervalMinutes))
	}
	elapsed := now.Sub(lastCheckinAt)
	interval := time.Duration(intervalMinutes) * time.Minute
	missed := int((elapsed-checkinBuffer)/interval) - 1
	if missed < 0 {
		return 0
	}
	return missed
}

// Offline maps a missed-check-in count onto a severity bucket. Thresholds are
// inclusive lower bounds.
func Offline(missed int, r rules.EffectiveRules) OfflineSeverity {
	if missed >= r.OfflineCriticalMissedCheckins {
		return OfflineCritical
	}
	if missed >= r.OfflineWarningMissedCheckins {
		return OfflineWarning
	}
	return OfflineNone
}

// ManualLogDueAt returns when the next manual log is due. A unit that never
// produced a reading is always due (zero time).
func ManualLogDueAt(unit fleet.UnitState, r rules.EffectiveRules) time.Time {
	if unit.LastReadingAt.IsZero() {
		return time.Time{}
	}
	return unit.LastReadingAt.Add(time.Duration(r.ManualIntervalMinutes) * time.Minute)
}

// ManualRequired reports whether a manual temperature log is now mandatory:
// manual logging enabled, enough missed check-ins, and the due deadline passed
// beyond the grace window.
func ManualRequired(unit fleet.UnitState, r rules.EffectiveRules, missed int, now time.Time) bool {
	if !unit.ManualLoggingEnabled {
		return false
	}
	if missed < r.ManualLogMissedCheckinsThreshold {
		return false
	}
	dueAt := ManualLogDueAt(unit, r)
	if dueAt.IsZero() {
		return true
	}
	grace := time.Duration(r.ManualGraceMinutes) * time.Minute
	return now.After(dueAt.Add(grace))
}

// Compute derives the full ComputedStatus for one unit.
func Compute(unit fleet.UnitState, r rules.EffectiveRules, now time.Time) ComputedStatus {
	interval := unit.CheckinIntervalMinutes
	if interval <= 0 {
		interval = r.ExpectedReadingIntervalSeconds / 60
	}
	if interval <= 0 {
		interval = 1
	}
	missed := MissedCheckins(unit.LastCheckinAt, interval, now)
	dueAt := ManualLogDueAt(unit, r)
	return ComputedStatus{
		MissedCheckins:  missed,
		OfflineSeverity: Offline(missed, r),
		ManualRequired:  ManualRequired(unit, r, missed, now),
		ManualLogDueAt:  dueAt,
		IsManualLogDue:  dueAt.IsZero() || now.After(dueAt),
	}
}

// Tone is the presentation bucket accompanying a label.
type Tone string

const (
	ToneCritical Tone = "critical"
	ToneWarning  Tone = "warning"
	ToneInfo     Tone = "info"
	ToneNone     Tone = "none"
)

// Label is the presentation state of a unit.
type Label struct {
	Text string
	Tone Tone
}

// StatusLabel picks the presentation label for a unit. The guard order is
// semantically load-bearing and must not be rearranged: in particular the
// computed offline severity always beats a stale raw "offline" status field,
// since the raw field may lag behind a fresh heartbeat.
func StatusLabel(unit fleet.UnitState, computed ComputedStatus) Label {
	switch {
	case unit.Status == fleet.StatusAlarmActive:
		return Label{Text: "ALARM", Tone: ToneCritical}
	case unit.Status == fleet.StatusExcursion:
		return Label{Text: "Excursion", Tone: ToneWarning}
	case computed.OfflineSeverity == OfflineCritical:
		return Label{Text: "Offline", Tone: ToneCritical}
	case computed.OfflineSeverity == OfflineWarning:
		return Label{Text: "Offline", Tone: ToneWarning}
	case computed.ManualRequired:
		return Label{Text: "Log Required", Tone: ToneWarning}
	case unit.Status == fleet.StatusRestoring:
		return Label{Text: "Restoring", Tone: ToneInfo}
	default:
		return Label{Text: "OK", Tone: ToneNone}
	}
}
