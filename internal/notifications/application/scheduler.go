// Package application computes delivery timelines from notification policies.
// A timeline is a description of when deliveries should happen; firing the
// steps at the right wall-clock time is the dispatcher's job.
package application

import (
	"time"

	alerts "coldchain-cloud/internal/alerts/domain"
	notifications "coldchain-cloud/internal/notifications/domain"
)

// StepKind classifies a timeline step.
type StepKind string

const (
	StepInitial    StepKind = "initial"
	StepEscalation StepKind = "escalation"
	StepReminder   StepKind = "reminder"
	StepResolution StepKind = "resolution"
)

// TimelineStep is one scheduled delivery.
type TimelineStep struct {
	Kind            StepKind                `json:"kind"`
	OffsetMinutes   int                     `json:"offset_minutes"`
	FireAt          time.Time               `json:"fire_at"`
	Channels        []notifications.Channel `json:"channels"`
	Suppressed      []notifications.Channel `json:"suppressed,omitempty"`
	ContactPriority int                     `json:"contact_priority"`

	// Repeat steps re-fire every RepeatEveryMinutes until the alert is
	// acknowledged or resolved.
	Repeat             bool `json:"repeat"`
	RepeatEveryMinutes int  `json:"repeat_every_minutes,omitempty"`

	// PostDeadline marks steps scheduled at or after the acknowledgement
	// deadline; downstream severity bumping keys off it. The step itself
	// still fires.
	PostDeadline bool `json:"post_deadline"`
}

// Skipped reports whether quiet hours suppressed every channel of the step.
// Skipped steps are not retried.
func (s TimelineStep) Skipped() bool {
	return len(s.Channels) == 0
}

// DeliveryTimeline is the ordered delivery schedule for one alert.
type DeliveryTimeline struct {
	AlertID       string          `json:"alert_id"`
	Severity      alerts.Severity `json:"severity"`
	CreatedAt     time.Time       `json:"created_at"`
	AckDeadlineAt time.Time       `json:"ack_deadline_at,omitempty"`
	Steps         []TimelineStep  `json:"steps"`
}

// Empty reports whether the policy gated out any delivery.
func (t DeliveryTimeline) Empty() bool {
	return len(t.Steps) == 0
}

// Schedule computes the delivery timeline for a triggering alert under the
// given resolved policy. Pure over (policy, alert, now); the policy is assumed
// validated at save time.
func Schedule(policy notifications.Policy, alert alerts.Alert, now time.Time) DeliveryTimeline {
	timeline := DeliveryTimeline{
		AlertID:   alert.ID,
		Severity:  alert.Severity,
		CreatedAt: now,
	}
	if !eligible(policy, alert.Severity) {
		return timeline
	}
	if policy.RequiresAck && policy.AckDeadlineMinutes > 0 {
		timeline.AckDeadlineAt = now.Add(time.Duration(policy.AckDeadlineMinutes) * time.Minute)
	}

	timeline.Steps = append(timeline.Steps, buildStep(policy, alert.Severity, StepInitial, 0, now,
		policy.InitialChannels, 0, false, 0))

	cumulative := 0
	for _, step := range policy.EscalationSteps {
		cumulative += step.DelayMinutes
		repeatEvery := 0
		if step.Repeat {
			repeatEvery = step.DelayMinutes
		}
		timeline.Steps = append(timeline.Steps, buildStep(policy, alert.Severity, StepEscalation, cumulative, now,
			step.Channels, step.ContactPriority, step.Repeat, repeatEvery))
	}

	if policy.RemindersEnabled && policy.ReminderIntervalMinutes > 0 {
		timeline.Steps = append(timeline.Steps, buildStep(policy, alert.Severity, StepReminder,
			policy.ReminderIntervalMinutes, now, policy.InitialChannels, 0, true, policy.ReminderIntervalMinutes))
	}

	if !timeline.AckDeadlineAt.IsZero() {
		for i := range timeline.Steps {
			if timeline.Steps[i].OffsetMinutes >= policy.AckDeadlineMinutes {
				timeline.Steps[i].PostDeadline = true
			}
		}
	}
	return timeline
}

// ScheduleResolution produces the single immediate delivery emitted when an
// alert resolves, reusing the initial channel set. Empty unless the policy
// opts in to resolved notifications.
func ScheduleResolution(policy notifications.Policy, alert alerts.Alert, now time.Time) DeliveryTimeline {
	timeline := DeliveryTimeline{
		AlertID:   alert.ID,
		Severity:  alert.Severity,
		CreatedAt: now,
	}
	if !policy.SendResolvedNotifications {
		return timeline
	}
	timeline.Steps = append(timeline.Steps, buildStep(policy, alert.Severity, StepResolution, 0, now,
		policy.InitialChannels, 0, false, 0))
	return timeline
}

// eligible applies the severity gate: critical always passes, warning passes
// when explicitly allowed, everything else must meet the threshold.
func eligible(policy notifications.Policy, severity alerts.Severity) bool {
	if severity == alerts.SeverityCritical {
		return true
	}
	if severity == alerts.SeverityWarning && policy.AllowWarningNotifications {
		return true
	}
	return severity.Rank() >= policy.SeverityThreshold.Rank()
}

func buildStep(policy notifications.Policy, severity alerts.Severity, kind StepKind, offsetMinutes int, now time.Time,
	channels []notifications.Channel, contactPriority int, repeat bool, repeatEvery int) TimelineStep {
	fireAt := now.Add(time.Duration(offsetMinutes) * time.Minute)
	delivered, suppressed := partitionQuietHours(policy, severity, channels, fireAt)
	return TimelineStep{
		Kind:               kind,
		OffsetMinutes:      offsetMinutes,
		FireAt:             fireAt,
		Channels:           delivered,
		Suppressed:         suppressed,
		ContactPriority:    contactPriority,
		Repeat:             repeat,
		RepeatEveryMinutes: repeatEvery,
	}
}

// partitionQuietHours splits channels into deliverable and suppressed at the
// step's projected fire time. Quiet hours suppress delivery of non-critical
// alerts only, and exempt channels always deliver. Suppression skips the
// affected channel; it never reschedules the step.
func partitionQuietHours(policy notifications.Policy, severity alerts.Severity, channels []notifications.Channel, fireAt time.Time) ([]notifications.Channel, []notifications.Channel) {
	if !policy.QuietHoursEnabled || severity == alerts.SeverityCritical {
		return append([]notifications.Channel(nil), channels...), nil
	}
	if !notifications.InQuietHours(fireAt, policy.QuietHoursStartLocal, policy.QuietHoursEndLocal) {
		return append([]notifications.Channel(nil), channels...), nil
	}
	exempt := make(map[notifications.Channel]bool, len(policy.QuietHoursExemptChannels))
	for _, ch := range policy.QuietHoursExemptChannels {
		exempt[ch] = true
	}
	var delivered, suppressed []notifications.Channel
	for _, ch := range channels {
		if exempt[ch] {
			delivered = append(delivered, ch)
		} else {
			suppressed = append(suppressed, ch)
		}
	}
	return delivered, suppressed
}
