package engine

import (
	"context"
	"errors"
	"log"
	"time"

	alertsapp "coldchain-cloud/internal/alerts/application"
	alerts "coldchain-cloud/internal/alerts/domain"
	fleet "coldchain-cloud/internal/fleet/domain"
	notifapp "coldchain-cloud/internal/notifications/application"
	notifications "coldchain-cloud/internal/notifications/domain"
	"coldchain-cloud/internal/observability/metrics"
	rules "coldchain-cloud/internal/rules/domain"
)

// UnitSource provides evaluation snapshots.
type UnitSource interface {
	ListUnitStates(ctx context.Context, orgID string) ([]fleet.UnitState, error)
}

// RuleSource provides scoped rule overrides.
type RuleSource interface {
	Get(ctx context.Context, scope rules.Scope, scopeID string) (*rules.Override, error)
}

// PolicySource provides scoped notification policy overrides.
type PolicySource interface {
	Get(ctx context.Context, scope rules.Scope, scopeID, alertType string) (*notifications.Override, error)
}

// AlertStore persists alert lifecycle records.
type AlertStore interface {
	ListActive(ctx context.Context, orgID string) ([]alerts.ActiveAlert, error)
	Create(ctx context.Context, alert *alerts.ActiveAlert) error
	UpdateObservation(ctx context.Context, alert *alerts.ActiveAlert) error
	MarkAcknowledged(ctx context.Context, alertID, actor string, at time.Time) (bool, error)
	MarkResolved(ctx context.Context, alertID string, at time.Time) error
}

// Notifier executes delivery timelines.
type Notifier interface {
	Start(timeline notifapp.DeliveryTimeline, alert alerts.Alert)
	SendResolution(timeline notifapp.DeliveryTimeline, alert alerts.Alert)
	Cancel(alertID string)
}

// Broadcaster pushes lifecycle events to live subscribers.
type Broadcaster interface {
	Broadcast(event string, payload any)
}

// Clock provides the evaluation observation time.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Engine runs the periodic evaluation loop: snapshot the fleet, resolve rules,
// generate the alert set, and diff it against the persisted active set to
// decide what is newly raised, still open, and resolved.
type Engine struct {
	orgID    string
	interval time.Duration

	units    UnitSource
	rules    RuleSource
	policies PolicySource
	store    AlertStore
	notifier Notifier

	broadcaster Broadcaster
	logger      *log.Logger
	clock       Clock
}

// Option configures the engine.
type Option func(*Engine)

// WithClock overrides the default clock.
func WithClock(clock Clock) Option {
	return func(e *Engine) {
		if clock != nil {
			e.clock = clock
		}
	}
}

// WithBroadcaster attaches a live event broadcaster.
func WithBroadcaster(broadcaster Broadcaster) Option {
	return func(e *Engine) {
		e.broadcaster = broadcaster
	}
}

// WithLogger attaches a logger.
func WithLogger(logger *log.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// New constructs an engine.
func New(cfg Config, units UnitSource, ruleSource RuleSource, policies PolicySource, store AlertStore, notifier Notifier, opts ...Option) (*Engine, error) {
	if units == nil || ruleSource == nil || policies == nil || store == nil || notifier == nil {
		return nil, errors.New("engine: missing dependency")
	}
	if cfg.OrgID == "" {
		return nil, errors.New("engine: org id required")
	}
	interval := cfg.EvaluationInterval()
	if interval <= 0 {
		interval = time.Minute
	}
	e := &Engine{
		orgID:    cfg.OrgID,
		interval: interval,
		units:    units,
		rules:    ruleSource,
		policies: policies,
		store:    store,
		notifier: notifier,
		clock:    systemClock{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Run begins the evaluation loop and blocks until the context is canceled.
func (e *Engine) Run(ctx context.Context) {
	if e == nil {
		return
	}
	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()

	e.tick(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.tick(ctx)
		}
	}
}

func (e *Engine) tick(ctx context.Context) {
	started := time.Now()
	report, err := e.EvaluateOnce(ctx)
	result := metrics.ResultSuccess
	if err != nil {
		result = metrics.ResultError
		e.logf("evaluation failed: %v", err)
	}
	metrics.ObserveEvaluation(result, time.Since(started), report.UnitsOK+report.UnitsWithAlerts)
}

// EvaluateOnce performs one evaluation pass. The observation time is read once
// and shared by every computation in the pass.
func (e *Engine) EvaluateOnce(ctx context.Context) (alertsapp.Report, error) {
	if e == nil {
		return alertsapp.Report{}, errors.New("engine: nil engine")
	}
	now := e.clock.Now().UTC()

	units, err := e.units.ListUnitStates(ctx, e.orgID)
	if err != nil {
		return alertsapp.Report{}, err
	}

	rulesByUnit, err := e.resolveRules(ctx, units)
	if err != nil {
		return alertsapp.Report{}, err
	}

	report := alertsapp.Generate(units, rulesByUnit, nil, now)

	if err := e.reconcile(ctx, units, report, now); err != nil {
		return report, err
	}

	e.broadcast("report", report)
	metrics.SetActiveAlerts(string(alerts.SeverityCritical), report.CriticalCount)
	metrics.SetActiveAlerts(string(alerts.SeverityWarning), report.WarningCount)
	return report, nil
}

// resolveRules merges scoped overrides for every unit. Org and site rows are
// fetched once per pass and shared across the units under them.
func (e *Engine) resolveRules(ctx context.Context, units []fleet.UnitState) (map[string]rules.EffectiveRules, error) {
	org, err := e.rules.Get(ctx, rules.ScopeOrg, e.orgID)
	if err != nil {
		return nil, err
	}

	siteOverrides := make(map[string]*rules.Override)
	resolved := make(map[string]rules.EffectiveRules, len(units))
	for _, unit := range units {
		site, ok := siteOverrides[unit.SiteID]
		if !ok {
			site, err = e.rules.Get(ctx, rules.ScopeSite, unit.SiteID)
			if err != nil {
				return nil, err
			}
			siteOverrides[unit.SiteID] = site
		}
		unitOverride, err := e.rules.Get(ctx, rules.ScopeUnit, unit.ID)
		if err != nil {
			return nil, err
		}
		resolved[unit.ID] = rules.Resolve(org, site, unitOverride)
	}
	return resolved, nil
}

// reconcile diffs the generated set against the persisted active set.
func (e *Engine) reconcile(ctx context.Context, units []fleet.UnitState, report alertsapp.Report, now time.Time) error {
	active, err := e.store.ListActive(ctx, e.orgID)
	if err != nil {
		return err
	}
	activeByID := make(map[string]alerts.ActiveAlert, len(active))
	for _, record := range active {
		activeByID[record.ID] = record
	}

	siteByUnit := make(map[string]string, len(units))
	for _, unit := range units {
		siteByUnit[unit.ID] = unit.SiteID
	}

	seen := make(map[string]bool, len(report.Alerts))
	for _, alert := range report.Alerts {
		seen[alert.ID] = true
		existing, ok := activeByID[alert.ID]
		if ok {
			if observationChanged(existing.Alert, alert) {
				existing.Alert = alert
				existing.UpdatedAt = now
				if err := e.store.UpdateObservation(ctx, &existing); err != nil {
					return err
				}
				e.broadcast("alert.updated", existing)
			}
			continue
		}

		record := alerts.ActiveAlert{
			Alert:     alert,
			OrgID:     e.orgID,
			SiteID:    siteByUnit[alert.UnitID],
			RaisedAt:  now,
			UpdatedAt: now,
		}
		if err := e.store.Create(ctx, &record); err != nil {
			return err
		}
		metrics.IncAlertEvent("raised")
		e.broadcast("alert.raised", record)

		policy, err := e.resolvePolicy(ctx, alert.UnitID, siteByUnit[alert.UnitID], alert.Type)
		if err != nil {
			return err
		}
		e.notifier.Start(notifapp.Schedule(policy, alert, now), alert)
	}

	for id, existing := range activeByID {
		if seen[id] {
			continue
		}
		if err := e.store.MarkResolved(ctx, id, now); err != nil {
			return err
		}
		metrics.IncAlertEvent("resolved")
		e.notifier.Cancel(id)
		e.broadcast("alert.resolved", existing)

		policy, err := e.resolvePolicy(ctx, existing.UnitID, existing.SiteID, existing.Type)
		if err != nil {
			return err
		}
		if policy.SendResolvedNotifications {
			e.notifier.SendResolution(notifapp.ScheduleResolution(policy, existing.Alert, now), existing.Alert)
		}
	}
	return nil
}

// Acknowledge records an operator acknowledgement and stops pending
// escalations. Returns false when the alert is unknown, already acknowledged,
// or resolved.
func (e *Engine) Acknowledge(ctx context.Context, alertID, actor string) (bool, error) {
	if e == nil {
		return false, errors.New("engine: nil engine")
	}
	if alertID == "" {
		return false, errors.New("engine: alert id required")
	}
	acked, err := e.store.MarkAcknowledged(ctx, alertID, actor, e.clock.Now().UTC())
	if err != nil {
		return false, err
	}
	if acked {
		metrics.IncAlertEvent("acknowledged")
		e.notifier.Cancel(alertID)
		e.broadcast("alert.acknowledged", map[string]string{"id": alertID, "actor": actor})
	}
	return acked, nil
}

func (e *Engine) resolvePolicy(ctx context.Context, unitID, siteID, alertType string) (notifications.Policy, error) {
	org, err := e.policies.Get(ctx, rules.ScopeOrg, e.orgID, alertType)
	if err != nil {
		return notifications.Policy{}, err
	}
	var site *notifications.Override
	if siteID != "" {
		site, err = e.policies.Get(ctx, rules.ScopeSite, siteID, alertType)
		if err != nil {
			return notifications.Policy{}, err
		}
	}
	unit, err := e.policies.Get(ctx, rules.ScopeUnit, unitID, alertType)
	if err != nil {
		return notifications.Policy{}, err
	}
	return notifications.ResolvePolicy(org, site, unit), nil
}

// observationChanged reports whether the refreshed generation output differs
// from the persisted record in any operator-visible field.
func observationChanged(previous, current alerts.Alert) bool {
	if previous.Severity != current.Severity ||
		previous.Title != current.Title ||
		previous.Message != current.Message ||
		previous.DoorContext != current.DoorContext {
		return true
	}
	switch {
	case previous.MissedCheckins == nil && current.MissedCheckins == nil:
		return false
	case previous.MissedCheckins == nil || current.MissedCheckins == nil:
		return true
	default:
		return *previous.MissedCheckins != *current.MissedCheckins
	}
}

func (e *Engine) broadcast(event string, payload any) {
	if e.broadcaster != nil {
		e.broadcaster.Broadcast(event, payload)
	}
}

func (e *Engine) logf(format string, args ...any) {
	if e.logger != nil {
		e.logger.Printf(format, args...)
	}
}
