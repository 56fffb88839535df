package status

import (
	"testing"
	"time"

	fleet "coldchain-cloud/internal/fleet/domain"
	rules "coldchain-cloud/internal/rules/domain"
)

var baseTime = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

func TestMissedCheckinsNeverCheckedIn(t *testing.T) {
	if got := MissedCheckins(time.Time{}, 5, baseTime); got != NeverCheckedIn {
		t.Fatalf("missed = %d, want sentinel %d", got, NeverCheckedIn)
	}
}

func TestMissedCheckinsCounting(t *testing.T) {
	cases := []struct {
		name            string
		elapsed         time.Duration
		intervalMinutes int
		want            int
	}{
		{"just checked in", 10 * time.Second, 5, 0},
		{"one interval elapsed", 5 * time.Minute, 5, 0},
		{"jitter at boundary", 5*time.Minute + 20*time.Second, 5, 0},
		{"two intervals", 10*time.Minute + 40*time.Second, 5, 1},
		{"thirty five minutes at five minute cadence", 35 * time.Minute, 5, 5},
		{"one hour at five minute cadence", time.Hour, 5, 10},
		{"negative elapsed clamps to zero", -time.Minute, 5, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			last := baseTime.Add(-tc.elapsed)
			if got := MissedCheckins(last, tc.intervalMinutes, baseTime); got != tc.want {
				t.Fatalf("missed = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestMissedCheckinsPanicsOnBadInterval(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on non-positive interval")
		}
	}()
	MissedCheckins(baseTime.Add(-time.Hour), 0, baseTime)
}

func TestOfflineSeverityBuckets(t *testing.T) {
	r := rules.Defaults() // warning at 3, critical at 12

	cases := []struct {
		missed int
		want   OfflineSeverity
	}{
		{0, OfflineNone},
		{2, OfflineNone},
		{3, OfflineWarning},
		{11, OfflineWarning},
		{12, OfflineCritical},
		{NeverCheckedIn, OfflineCritical},
	}
	for _, tc := range cases {
		if got := Offline(tc.missed, r); got != tc.want {
			t.Fatalf("Offline(%d) = %s, want %s", tc.missed, got, tc.want)
		}
	}
}

func TestManualRequired(t *testing.T) {
	r := rules.Defaults() // interval 240m, grace 30m, threshold 3 missed

	unit := fleet.UnitState{
		ID:                   "unit-1",
		ManualLoggingEnabled: true,
		LastReadingAt:        baseTime.Add(-5 * time.Hour),
	}

	if !ManualRequired(unit, r, 4, baseTime) {
		t.Fatal("want manual required: reading 5h old, threshold passed")
	}

	// Inside the grace window the log is due but not yet mandatory.
	unit.LastReadingAt = baseTime.Add(-4*time.Hour - 10*time.Minute)
	if ManualRequired(unit, r, 4, baseTime) {
		t.Fatal("manual required inside grace window")
	}

	// Too few missed check-ins gates the requirement entirely.
	unit.LastReadingAt = baseTime.Add(-5 * time.Hour)
	if ManualRequired(unit, r, 2, baseTime) {
		t.Fatal("manual required below missed check-in threshold")
	}

	// Disabled manual logging always wins.
	unit.ManualLoggingEnabled = false
	if ManualRequired(unit, r, 10, baseTime) {
		t.Fatal("manual required with manual logging disabled")
	}

	// A unit with no reading at all is always due once the threshold passes.
	unit.ManualLoggingEnabled = true
	unit.LastReadingAt = time.Time{}
	if !ManualRequired(unit, r, 4, baseTime) {
		t.Fatal("want manual required for unit that never logged")
	}
}

func TestComputeFallsBackToRuleInterval(t *testing.T) {
	r := rules.Defaults() // 300s expected reading interval
	unit := fleet.UnitState{
		ID:            "unit-1",
		LastCheckinAt: baseTime.Add(-35 * time.Minute),
	}
	computed := Compute(unit, r, baseTime)
	if computed.MissedCheckins != 5 {
		t.Fatalf("missed = %d, want 5 from rule-derived 5m interval", computed.MissedCheckins)
	}
	if computed.OfflineSeverity != OfflineWarning {
		t.Fatalf("severity = %s, want warning", computed.OfflineSeverity)
	}
}

func TestStatusLabelPrecedence(t *testing.T) {
	cases := []struct {
		name     string
		unit     fleet.UnitState
		computed ComputedStatus
		wantText string
		wantTone Tone
	}{
		{
			name:     "alarm beats everything",
			unit:     fleet.UnitState{Status: fleet.StatusAlarmActive},
			computed: ComputedStatus{OfflineSeverity: OfflineCritical, ManualRequired: true},
			wantText: "ALARM",
			wantTone: ToneCritical,
		},
		{
			name:     "excursion beats offline",
			unit:     fleet.UnitState{Status: fleet.StatusExcursion},
			computed: ComputedStatus{OfflineSeverity: OfflineCritical},
			wantText: "Excursion",
			wantTone: ToneWarning,
		},
		{
			name:     "critical offline",
			unit:     fleet.UnitState{Status: fleet.StatusOK},
			computed: ComputedStatus{OfflineSeverity: OfflineCritical},
			wantText: "Offline",
			wantTone: ToneCritical,
		},
		{
			name:     "warning offline beats manual",
			unit:     fleet.UnitState{Status: fleet.StatusOK},
			computed: ComputedStatus{OfflineSeverity: OfflineWarning, ManualRequired: true},
			wantText: "Offline",
			wantTone: ToneWarning,
		},
		{
			name:     "manual required",
			unit:     fleet.UnitState{Status: fleet.StatusOK},
			computed: ComputedStatus{ManualRequired: true},
			wantText: "Log Required",
			wantTone: ToneWarning,
		},
		{
			name:     "restoring",
			unit:     fleet.UnitState{Status: fleet.StatusRestoring},
			computed: ComputedStatus{},
			wantText: "Restoring",
			wantTone: ToneInfo,
		},
		{
			// The raw status field lags; a fresh heartbeat overrides it.
			name:     "stale raw offline with healthy heartbeat",
			unit:     fleet.UnitState{Status: fleet.StatusOffline},
			computed: ComputedStatus{OfflineSeverity: OfflineNone},
			wantText: "OK",
			wantTone: ToneNone,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			label := StatusLabel(tc.unit, tc.computed)
			if label.Text != tc.wantText || label.Tone != tc.wantTone {
				t.Fatalf("label = %q/%s, want %q/%s", label.Text, label.Tone, tc.wantText, tc.wantTone)
			}
		})
	}
}
