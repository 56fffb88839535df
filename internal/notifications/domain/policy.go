package notifications

import (
	"errors"
	"fmt"
	"time"

	alerts "coldchain-cloud/internal/alerts/domain"
	rules "coldchain-cloud/internal/rules/domain"
)

// Channel identifies a delivery mechanism. Transport mechanics live behind the
// notify.Sender interface; the policy layer only selects channels.
type Channel string

const (
	ChannelEmail    Channel = "EMAIL"
	ChannelSMS      Channel = "SMS"
	ChannelInApp    Channel = "IN_APP_CENTER"
	ChannelWebToast Channel = "WEB_TOAST"
)

// Valid reports whether the channel is supported.
func (c Channel) Valid() bool {
	switch c {
	case ChannelEmail, ChannelSMS, ChannelInApp, ChannelWebToast:
		return true
	default:
		return false
	}
}

// EscalationStep is one delayed delivery attempt beyond the initial one.
// Steps are an ordered list; array order is significant and never re-sorted.
type EscalationStep struct {
	DelayMinutes    int       `json:"delay_minutes"`
	Channels        []Channel `json:"channels"`
	ContactPriority int       `json:"contact_priority"`
	Repeat          bool      `json:"repeat"`
}

// NewEscalationStep validates and constructs a step. Malformed steps are
// rejected here, at policy-save time; the scheduler assumes validated input.
func NewEscalationStep(delayMinutes int, channels []Channel, contactPriority int, repeat bool) (EscalationStep, error) {
	step := EscalationStep{
		DelayMinutes:    delayMinutes,
		Channels:        channels,
		ContactPriority: contactPriority,
		Repeat:          repeat,
	}
	if err := step.Validate(); err != nil {
		return EscalationStep{}, err
	}
	return step, nil
}

// Validate checks step invariants.
func (s EscalationStep) Validate() error {
	if s.DelayMinutes < 0 {
		return errors.New("notifications: escalation step delay must be non-negative")
	}
	if len(s.Channels) == 0 {
		return errors.New("notifications: escalation step needs at least one channel")
	}
	for _, ch := range s.Channels {
		if !ch.Valid() {
			return fmt.Errorf("notifications: unknown channel %q", ch)
		}
	}
	if s.ContactPriority < 0 {
		return errors.New("notifications: contact priority must be non-negative")
	}
	return nil
}

// Policy is the fully resolved notification policy for one (unit, alert type).
type Policy struct {
	InitialChannels []Channel

	RequiresAck bool
	// AckDeadlineMinutes is 0 when no deadline is configured.
	AckDeadlineMinutes int

	EscalationSteps []EscalationStep

	RemindersEnabled        bool
	ReminderIntervalMinutes int

	SendResolvedNotifications bool

	QuietHoursEnabled bool
	// Local wall-clock strings, e.g. "22:00". The window may wrap midnight.
	QuietHoursStartLocal string
	QuietHoursEndLocal   string
	// QuietHoursExemptChannels deliver even inside the quiet window.
	QuietHoursExemptChannels []Channel

	SeverityThreshold         alerts.Severity
	AllowWarningNotifications bool

	// Source records the scope that supplied each field, for UI transparency.
	Source map[string]rules.Scope
}

// Validate checks resolved-policy invariants at save time.
func (p Policy) Validate() error {
	for _, ch := range p.InitialChannels {
		if !ch.Valid() {
			return fmt.Errorf("notifications: unknown channel %q", ch)
		}
	}
	for i, step := range p.EscalationSteps {
		if err := step.Validate(); err != nil {
			return fmt.Errorf("step %d: %w", i, err)
		}
	}
	if p.AckDeadlineMinutes < 0 {
		return errors.New("notifications: ack deadline must be non-negative")
	}
	if p.ReminderIntervalMinutes < 0 {
		return errors.New("notifications: reminder interval must be non-negative")
	}
	if p.QuietHoursEnabled {
		if _, err := ParseClock(p.QuietHoursStartLocal); err != nil {
			return err
		}
		if _, err := ParseClock(p.QuietHoursEndLocal); err != nil {
			return err
		}
	}
	return nil
}

// Override is a partial policy record at one scope, keyed externally by
// (scope, scopeID, alertType). Nil fields inherit from the parent scope. A
// deleted row reverts its scope to inheritance, which is why "no row" and
// "row with nil fields" must both resolve identically.
type Override struct {
	InitialChannels *[]Channel

	RequiresAck        *bool
	AckDeadlineMinutes *int

	EscalationSteps *[]EscalationStep

	RemindersEnabled        *bool
	ReminderIntervalMinutes *int

	SendResolvedNotifications *bool

	QuietHoursEnabled        *bool
	QuietHoursStartLocal     *string
	QuietHoursEndLocal       *string
	QuietHoursExemptChannels *[]Channel

	SeverityThreshold         *alerts.Severity
	AllowWarningNotifications *bool
}

// Validate checks write-time invariants for a partial record.
func (o *Override) Validate() error {
	if o == nil {
		return nil
	}
	if o.InitialChannels != nil {
		for _, ch := range *o.InitialChannels {
			if !ch.Valid() {
				return fmt.Errorf("notifications: unknown channel %q", ch)
			}
		}
	}
	if o.EscalationSteps != nil {
		for i, step := range *o.EscalationSteps {
			if err := step.Validate(); err != nil {
				return fmt.Errorf("step %d: %w", i, err)
			}
		}
	}
	if o.AckDeadlineMinutes != nil && *o.AckDeadlineMinutes < 0 {
		return errors.New("notifications: ack deadline must be non-negative")
	}
	if o.ReminderIntervalMinutes != nil && *o.ReminderIntervalMinutes < 0 {
		return errors.New("notifications: reminder interval must be non-negative")
	}
	if o.QuietHoursStartLocal != nil {
		if _, err := ParseClock(*o.QuietHoursStartLocal); err != nil {
			return err
		}
	}
	if o.QuietHoursEndLocal != nil {
		if _, err := ParseClock(*o.QuietHoursEndLocal); err != nil {
			return err
		}
	}
	if o.QuietHoursExemptChannels != nil {
		for _, ch := range *o.QuietHoursExemptChannels {
			if !ch.Valid() {
				return fmt.Errorf("notifications: unknown channel %q", ch)
			}
		}
	}
	return nil
}

// DefaultPolicy is the built-in policy applied when no scope overrides a field.
func DefaultPolicy() Policy {
	return Policy{
		InitialChannels:           []Channel{ChannelInApp, ChannelWebToast},
		RequiresAck:               false,
		AckDeadlineMinutes:        0,
		RemindersEnabled:          false,
		ReminderIntervalMinutes:   60,
		SendResolvedNotifications: false,
		QuietHoursEnabled:         false,
		QuietHoursStartLocal:      "22:00",
		QuietHoursEndLocal:        "07:00",
		QuietHoursExemptChannels:  []Channel{ChannelInApp},
		SeverityThreshold:         alerts.SeverityCritical,
		AllowWarningNotifications: false,
	}
}

// ResolvePolicy merges org, site and unit overrides field by field, with
// unit > site > org > built-in default precedence. Any input may be nil.
func ResolvePolicy(org, site, unit *Override) Policy {
	resolved := DefaultPolicy()
	resolved.Source = make(map[string]rules.Scope)
	for field := range policyFields {
		resolved.Source[field] = rules.ScopeDefault
	}
	for _, layer := range []struct {
		scope    rules.Scope
		override *Override
	}{
		{rules.ScopeOrg, org},
		{rules.ScopeSite, site},
		{rules.ScopeUnit, unit},
	} {
		applyOverride(&resolved, layer.override, layer.scope)
	}
	return resolved
}

var policyFields = map[string]struct{}{
	"initial_channels":            {},
	"requires_ack":                {},
	"ack_deadline_minutes":        {},
	"escalation_steps":            {},
	"reminders_enabled":           {},
	"reminder_interval_minutes":   {},
	"send_resolved_notifications": {},
	"quiet_hours_enabled":         {},
	"quiet_hours_start_local":     {},
	"quiet_hours_end_local":       {},
	"quiet_hours_exempt_channels": {},
	"severity_threshold":          {},
	"allow_warning_notifications": {},
}

// applyOverride copies present fields from one scope onto the resolved policy.
// Called org-first so that later scopes win per field.
func applyOverride(p *Policy, o *Override, scope rules.Scope) {
	if o == nil {
		return
	}
	if o.InitialChannels != nil {
		p.InitialChannels = append([]Channel(nil), (*o.InitialChannels)...)
		p.Source["initial_channels"] = scope
	}
	if o.RequiresAck != nil {
		p.RequiresAck = *o.RequiresAck
		p.Source["requires_ack"] = scope
	}
	if o.AckDeadlineMinutes != nil {
		p.AckDeadlineMinutes = *o.AckDeadlineMinutes
		p.Source["ack_deadline_minutes"] = scope
	}
	if o.EscalationSteps != nil {
		p.EscalationSteps = append([]EscalationStep(nil), (*o.EscalationSteps)...)
		p.Source["escalation_steps"] = scope
	}
	if o.RemindersEnabled != nil {
		p.RemindersEnabled = *o.RemindersEnabled
		p.Source["reminders_enabled"] = scope
	}
	if o.ReminderIntervalMinutes != nil {
		p.ReminderIntervalMinutes = *o.ReminderIntervalMinutes
		p.Source["reminder_interval_minutes"] = scope
	}
	if o.SendResolvedNotifications != nil {
		p.SendResolvedNotifications = *o.SendResolvedNotifications
		p.Source["send_resolved_notifications"] = scope
	}
	if o.QuietHoursEnabled != nil {
		p.QuietHoursEnabled = *o.QuietHoursEnabled
		p.Source["quiet_hours_enabled"] = scope
	}
	if o.QuietHoursStartLocal != nil {
		p.QuietHoursStartLocal = *o.QuietHoursStartLocal
		p.Source["quiet_hours_start_local"] = scope
	}
	if o.QuietHoursEndLocal != nil {
		p.QuietHoursEndLocal = *o.QuietHoursEndLocal
		p.Source["quiet_hours_end_local"] = scope
	}
	if o.QuietHoursExemptChannels != nil {
		p.QuietHoursExemptChannels = append([]Channel(nil), (*o.QuietHoursExemptChannels)...)
		p.Source["quiet_hours_exempt_channels"] = scope
	}
	if o.SeverityThreshold != nil {
		p.SeverityThreshold = *o.SeverityThreshold
		p.Source["severity_threshold"] = scope
	}
	if o.AllowWarningNotifications != nil {
		p.AllowWarningNotifications = *o.AllowWarningNotifications
		p.Source["allow_warning_notifications"] = scope
	}
}

// ParseClock parses a local "15:04" wall-clock string into minutes past
// midnight.
func ParseClock(value string) (int, error) {
	t, err := time.Parse("15:04", value)
	if err != nil {
		return 0, fmt.Errorf("notifications: invalid clock %q", value)
	}
	return t.Hour()*60 + t.Minute(), nil
}

// InQuietHours reports whether the local wall-clock time of at falls inside
// the [start, end) window. Windows may wrap midnight, e.g. 22:00-07:00.
func InQuietHours(at time.Time, startLocal, endLocal string) bool {
	start, err := ParseClock(startLocal)
	if err != nil {
		return false
	}
	end, err := ParseClock(endLocal)
	if err != nil {
		return false
	}
	if start == end {
		return false
	}
	minute := at.Hour()*60 + at.Minute()
	if start < end {
		return minute >= start && minute < end
	}
	return minute >= start || minute < end
}
