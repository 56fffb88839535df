package rules

import "errors"

// Scope identifies which configuration level supplied a resolved value.
type Scope string

const (
	ScopeUnit    Scope = "unit"
	ScopeSite    Scope = "site"
	ScopeOrg     Scope = "org"
	ScopeDefault Scope = "default"
)

// Field names used for source attribution.
const (
	FieldManualIntervalMinutes             = "manual_interval_minutes"
	FieldManualGraceMinutes                = "manual_grace_minutes"
	FieldExpectedReadingIntervalSeconds    = "expected_reading_interval_seconds"
	FieldOfflineWarningMissedCheckins      = "offline_warning_missed_checkins"
	FieldOfflineCriticalMissedCheckins     = "offline_critical_missed_checkins"
	FieldManualLogMissedCheckinsThreshold  = "manual_log_missed_checkins_threshold"
	FieldDoorOpenWarningMinutes            = "door_open_warning_minutes"
	FieldDoorOpenCriticalMinutes           = "door_open_critical_minutes"
	FieldDoorOpenMaxMaskMinutesPerDay      = "door_open_max_mask_minutes_per_day"
	FieldExcursionConfirmMinutesDoorClosed = "excursion_confirm_minutes_door_closed"
	FieldExcursionConfirmMinutesDoorOpen   = "excursion_confirm_minutes_door_open"
	FieldMaxExcursionMinutes               = "max_excursion_minutes"
)

// Override is a partial rule record at one scope. Nil fields inherit from the
// parent scope; a present field overrides it. A missing row and a row with all
// fields nil are both valid and behave identically during resolution.
type Override struct {
	ManualIntervalMinutes             *int
	ManualGraceMinutes                *int
	ExpectedReadingIntervalSeconds    *int
	OfflineWarningMissedCheckins      *int
	OfflineCriticalMissedCheckins     *int
	ManualLogMissedCheckinsThreshold  *int
	DoorOpenWarningMinutes            *int
	DoorOpenCriticalMinutes           *int
	DoorOpenMaxMaskMinutesPerDay      *int
	ExcursionConfirmMinutesDoorClosed *int
	ExcursionConfirmMinutesDoorOpen   *int
	MaxExcursionMinutes               *int
}

// Validate checks write-time invariants for a partial record. Thresholds that
// pair up (warning/critical) are only comparable when both are present at the
// same scope; the cross-scope pairing is checked on the resolved record.
func (o *Override) Validate() error {
	if o == nil {
		return nil
	}
	for _, field := range []*int{
		o.ManualIntervalMinutes, o.ManualGraceMinutes, o.ExpectedReadingIntervalSeconds,
		o.OfflineWarningMissedCheckins, o.OfflineCriticalMissedCheckins,
		o.ManualLogMissedCheckinsThreshold, o.DoorOpenWarningMinutes,
		o.DoorOpenCriticalMinutes, o.DoorOpenMaxMaskMinutesPerDay,
		o.ExcursionConfirmMinutesDoorClosed, o.ExcursionConfirmMinutesDoorOpen,
		o.MaxExcursionMinutes,
	} {
		if field != nil && *field < 0 {
			return errors.New("rules: negative values are not allowed")
		}
	}
	if o.OfflineWarningMissedCheckins != nil && o.OfflineCriticalMissedCheckins != nil &&
		*o.OfflineWarningMissedCheckins > *o.OfflineCriticalMissedCheckins {
		return errors.New("rules: offline warning threshold exceeds critical threshold")
	}
	if o.DoorOpenWarningMinutes != nil && o.DoorOpenCriticalMinutes != nil &&
		*o.DoorOpenWarningMinutes > *o.DoorOpenCriticalMinutes {
		return errors.New("rules: door open warning threshold exceeds critical threshold")
	}
	return nil
}

// EffectiveRules is the fully merged rule set for one unit. It is an immutable
// snapshot taken per evaluation pass.
type EffectiveRules struct {
	ManualIntervalMinutes             int
	ManualGraceMinutes                int
	ExpectedReadingIntervalSeconds    int
	OfflineWarningMissedCheckins      int
	OfflineCriticalMissedCheckins     int
	ManualLogMissedCheckinsThreshold  int
	DoorOpenWarningMinutes            int
	DoorOpenCriticalMinutes           int
	DoorOpenMaxMaskMinutesPerDay      int
	ExcursionConfirmMinutesDoorClosed int
	ExcursionConfirmMinutesDoorOpen   int
	MaxExcursionMinutes               int

	// Source records the scope that supplied each field, keyed by the Field*
	// constants. Used for configuration transparency in the UI; not consulted
	// by any computation.
	Source map[string]Scope
}

// Defaults returns the built-in rule set applied when no scope overrides a field.
func Defaults() EffectiveRules {
	return EffectiveRules{
		ManualIntervalMinutes:             240,
		ManualGraceMinutes:                30,
		ExpectedReadingIntervalSeconds:    300,
		OfflineWarningMissedCheckins:      3,
		OfflineCriticalMissedCheckins:     12,
		ManualLogMissedCheckinsThreshold:  3,
		DoorOpenWarningMinutes:            5,
		DoorOpenCriticalMinutes:           15,
		DoorOpenMaxMaskMinutesPerDay:      60,
		ExcursionConfirmMinutesDoorClosed: 30,
		ExcursionConfirmMinutesDoorOpen:   60,
		MaxExcursionMinutes:               240,
	}
}

// Resolve merges org, site and unit overrides into one effective rule set.
// Precedence per field is unit, then site, then org, then the built-in default;
// a unit record that sets a single field still inherits every other field from
// its parents. Any input may be nil.
func Resolve(org, site, unit *Override) EffectiveRules {
	defaults := Defaults()
	resolved := EffectiveRules{Source: make(map[string]Scope, 12)}

	resolved.ManualIntervalMinutes = pick(FieldManualIntervalMinutes, resolved.Source, defaults.ManualIntervalMinutes,
		field(unit, func(o *Override) *int { return o.ManualIntervalMinutes }),
		field(site, func(o *Override) *int { return o.ManualIntervalMinutes }),
		field(org, func(o *Override) *int { return o.ManualIntervalMinutes }))
	resolved.ManualGraceMinutes = pick(FieldManualGraceMinutes, resolved.Source, defaults.ManualGraceMinutes,
		field(unit, func(o *Override) *int { return o.ManualGraceMinutes }),
		field(site, func(o *Override) *int { return o.ManualGraceMinutes }),
		field(org, func(o *Override) *int { return o.ManualGraceMinutes }))
	resolved.ExpectedReadingIntervalSeconds = pick(FieldExpectedReadingIntervalSeconds, resolved.Source, defaults.ExpectedReadingIntervalSeconds,
		field(unit, func(o *Override) *int { return o.ExpectedReadingIntervalSeconds }),
		field(site, func(o *Override) *int { return o.ExpectedReadingIntervalSeconds }),
		field(org, func(o *Override) *int { return o.ExpectedReadingIntervalSeconds }))
	resolved.OfflineWarningMissedCheckins = pick(FieldOfflineWarningMissedCheckins, resolved.Source, defaults.OfflineWarningMissedCheckins,
		field(unit, func(o *Override) *int { return o.OfflineWarningMissedCheckins }),
		field(site, func(o *Override) *int { return o.OfflineWarningMissedCheckins }),
		field(org, func(o *Override) *int { return o.OfflineWarningMissedCheckins }))
	resolved.OfflineCriticalMissedCheckins = pick(FieldOfflineCriticalMissedCheckins, resolved.Source, defaults.OfflineCriticalMissedCheckins,
		field(unit, func(o *Override) *int { return o.OfflineCriticalMissedCheckins }),
		field(site, func(o *Override) *int { return o.OfflineCriticalMissedCheckins }),
		field(org, func(o *Override) *int { return o.OfflineCriticalMissedCheckins }))
	resolved.ManualLogMissedCheckinsThreshold = pick(FieldManualLogMissedCheckinsThreshold, resolved.Source, defaults.ManualLogMissedCheckinsThreshold,
		field(unit, func(o *Override) *int { return o.ManualLogMissedCheckinsThreshold }),
		field(site, func(o *Override) *int { return o.ManualLogMissedCheckinsThreshold }),
		field(org, func(o *Override) *int { return o.ManualLogMissedCheckinsThreshold }))
	resolved.DoorOpenWarningMinutes = pick(FieldDoorOpenWarningMinutes, resolved.Source, defaults.DoorOpenWarningMinutes,
		field(unit, func(o *Override) *int { return o.DoorOpenWarningMinutes }),
		field(site, func(o *Override) *int { return o.DoorOpenWarningMinutes }),
		field(org, func(o *Override) *int { return o.DoorOpenWarningMinutes }))
	resolved.DoorOpenCriticalMinutes = pick(FieldDoorOpenCriticalMinutes, resolved.Source, defaults.DoorOpenCriticalMinutes,
		field(unit, func(o *Override) *int { return o.DoorOpenCriticalMinutes }),
		field(site, func(o *Override) *int { return o.DoorOpenCriticalMinutes }),
		field(org, func(o *Override) *int { return o.DoorOpenCriticalMinutes }))
	resolved.DoorOpenMaxMaskMinutesPerDay = pick(FieldDoorOpenMaxMaskMinutesPerDay, resolved.Source, defaults.DoorOpenMaxMaskMinutesPerDay,
		field(unit, func(o *Override) *int { return o.DoorOpenMaxMaskMinutesPerDay }),
		field(site, func(o *Override) *int { return o.DoorOpenMaxMaskMinutesPerDay }),
		field(org, func(o *Override) *int { return o.DoorOpenMaxMaskMinutesPerDay }))
	resolved.ExcursionConfirmMinutesDoorClosed = pick(FieldExcursionConfirmMinutesDoorClosed, resolved.Source, defaults.ExcursionConfirmMinutesDoorClosed,
		field(unit, func(o *Override) *int { return o.ExcursionConfirmMinutesDoorClosed }),
		field(site, func(o *Override) *int { return o.ExcursionConfirmMinutesDoorClosed }),
		field(org, func(o *Override) *int { return o.ExcursionConfirmMinutesDoorClosed }))
	resolved.ExcursionConfirmMinutesDoorOpen = pick(FieldExcursionConfirmMinutesDoorOpen, resolved.Source, defaults.ExcursionConfirmMinutesDoorOpen,
		field(unit, func(o *Override) *int { return o.ExcursionConfirmMinutesDoorOpen }),
		field(site, func(o *Override) *int { return o.ExcursionConfirmMinutesDoorOpen }),
		field(org, func(o *Override) *int { return o.ExcursionConfirmMinutesDoorOpen }))
	resolved.MaxExcursionMinutes = pick(FieldMaxExcursionMinutes, resolved.Source, defaults.MaxExcursionMinutes,
		field(unit, func(o *Override) *int { return o.MaxExcursionMinutes }),
		field(site, func(o *Override) *int { return o.MaxExcursionMinutes }),
		field(org, func(o *Override) *int { return o.MaxExcursionMinutes }))

	return resolved
}

type candidate struct {
	scope Scope
	value *int
}

func field(o *Override, get func(*Override) *int) candidate {
	if o == nil {
		return candidate{}
	}
	return candidate{value: get(o)}
}

// pick walks unit, site, org candidates in order and returns the first present
// value, recording where it came from. Falls back to the built-in default.
func pick(name string, source map[string]Scope, def int, unit, site, org candidate) int {
	unit.scope, site.scope, org.scope = ScopeUnit, ScopeSite, ScopeOrg
	for _, c := range []candidate{unit, site, org} {
		if c.value != nil {
			source[name] = c.scope
			return *c.value
		}
	}
	source[name] = ScopeDefault
	return def
}
