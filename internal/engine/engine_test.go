package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	alerts "coldchain-cloud/internal/alerts/domain"
	fleet "coldchain-cloud/internal/fleet/domain"
	notifapp "coldchain-cloud/internal/notifications/application"
	notifications "coldchain-cloud/internal/notifications/domain"
	rules "coldchain-cloud/internal/rules/domain"
)

var tickTime = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time { return c.now }

type stubUnits struct {
	units []fleet.UnitState
}

func (s *stubUnits) ListUnitStates(_ context.Context, _ string) ([]fleet.UnitState, error) {
	return s.units, nil
}

type stubRules struct {
	overrides map[string]*rules.Override // keyed scope:scopeID
}

func (s *stubRules) Get(_ context.Context, scope rules.Scope, scopeID string) (*rules.Override, error) {
	if s.overrides == nil {
		return nil, nil
	}
	return s.overrides[string(scope)+":"+scopeID], nil
}

type stubPolicies struct {
	overrides map[string]*notifications.Override // keyed scope:scopeID:alertType
}

func (s *stubPolicies) Get(_ context.Context, scope rules.Scope, scopeID, alertType string) (*notifications.Override, error) {
	if s.overrides == nil {
		return nil, nil
	}
	return s.overrides[string(scope)+":"+scopeID+":"+alertType], nil
}

type memoryStore struct {
	mu     sync.Mutex
	active map[string]*alerts.ActiveAlert
}

func newMemoryStore() *memoryStore {
	return &memoryStore{active: make(map[string]*alerts.ActiveAlert)}
}

func (s *memoryStore) ListActive(_ context.Context, _ string) ([]alerts.ActiveAlert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []alerts.ActiveAlert
	for _, record := range s.active {
		if record.ResolvedAt == nil {
			out = append(out, *record)
		}
	}
	return out, nil
}

func (s *memoryStore) Create(_ context.Context, alert *alerts.ActiveAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *alert
	s.active[alert.ID] = &copied
	return nil
}

func (s *memoryStore) UpdateObservation(_ context.Context, alert *alerts.ActiveAlert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.active[alert.ID]; ok && existing.ResolvedAt == nil {
		existing.Alert = alert.Alert
		existing.UpdatedAt = alert.UpdatedAt
	}
	return nil
}

func (s *memoryStore) MarkAcknowledged(_ context.Context, alertID, actor string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.active[alertID]
	if !ok || existing.AcknowledgedAt != nil || existing.ResolvedAt != nil {
		return false, nil
	}
	existing.AcknowledgedAt = &at
	existing.AcknowledgedBy = actor
	return true, nil
}

func (s *memoryStore) MarkResolved(_ context.Context, alertID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.active[alertID]; ok {
		existing.ResolvedAt = &at
	}
	return nil
}

func (s *memoryStore) get(id string) *alerts.ActiveAlert {
	s.mu.Lock()
	defer s.mu.Unlock()
	if record, ok := s.active[id]; ok {
		copied := *record
		return &copied
	}
	return nil
}

type recordingNotifier struct {
	mu          sync.Mutex
	started     []string
	resolutions []string
	canceled    []string
}

func (n *recordingNotifier) Start(_ notifapp.DeliveryTimeline, alert alerts.Alert) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.started = append(n.started, alert.ID)
}

func (n *recordingNotifier) SendResolution(_ notifapp.DeliveryTimeline, alert alerts.Alert) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.resolutions = append(n.resolutions, alert.ID)
}

func (n *recordingNotifier) Cancel(alertID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.canceled = append(n.canceled, alertID)
}

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []string
}

func (b *recordingBroadcaster) Broadcast(event string, _ any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
}

func (b *recordingBroadcaster) has(event string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range b.events {
		if e == event {
			return true
		}
	}
	return false
}

func offlineUnit(id string) fleet.UnitState {
	return fleet.UnitState{
		ID:                     id,
		Name:                   "Walk-in " + id,
		SiteID:                 "site-1",
		SiteName:               "Central Kitchen",
		Status:                 fleet.StatusOK,
		CheckinIntervalMinutes: 5,
		LastCheckinAt:          tickTime.Add(-35 * time.Minute),
		LastReadingAt:          tickTime.Add(-35 * time.Minute),
	}
}

func healthyTestUnit(id string) fleet.UnitState {
	u := offlineUnit(id)
	u.LastCheckinAt = tickTime.Add(-time.Minute)
	u.LastReadingAt = tickTime.Add(-time.Minute)
	return u
}

func newTestEngine(t *testing.T, units *stubUnits, store *memoryStore, notifier *recordingNotifier, broadcaster *recordingBroadcaster) *Engine {
	t.Helper()
	cfg := Config{OrgID: "org-1", EvaluationIntervalSeconds: 60}
	opts := []Option{WithClock(fixedClock{now: tickTime})}
	if broadcaster != nil {
		opts = append(opts, WithBroadcaster(broadcaster))
	}
	eng, err := New(cfg, units, &stubRules{}, &stubPolicies{}, store, notifier, opts...)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return eng
}

func TestEvaluateOnceRaisesNewAlerts(t *testing.T) {
	units := &stubUnits{units: []fleet.UnitState{offlineUnit("u1"), healthyTestUnit("u2")}}
	store := newMemoryStore()
	notifier := &recordingNotifier{}
	broadcaster := &recordingBroadcaster{}
	eng := newTestEngine(t, units, store, notifier, broadcaster)

	report, err := eng.EvaluateOnce(context.Background())
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if report.WarningCount != 1 || report.UnitsOK != 1 {
		t.Fatalf("report = %+v, want one warning, one ok", report)
	}

	record := store.get("u1:OFFLINE_WARNING")
	if record == nil {
		t.Fatal("alert not persisted")
	}
	if !record.RaisedAt.Equal(tickTime) || record.SiteID != "site-1" || record.OrgID != "org-1" {
		t.Fatalf("record = %+v", record)
	}
	if len(notifier.started) != 1 || notifier.started[0] != "u1:OFFLINE_WARNING" {
		t.Fatalf("notifier started = %v", notifier.started)
	}
	if !broadcaster.has("alert.raised") || !broadcaster.has("report") {
		t.Fatalf("events = %v, want alert.raised and report", broadcaster.events)
	}
}

func TestEvaluateOnceIsIdempotentAcrossPasses(t *testing.T) {
	units := &stubUnits{units: []fleet.UnitState{offlineUnit("u1")}}
	store := newMemoryStore()
	notifier := &recordingNotifier{}
	eng := newTestEngine(t, units, store, notifier, nil)

	for i := 0; i < 3; i++ {
		if _, err := eng.EvaluateOnce(context.Background()); err != nil {
			t.Fatalf("pass %d: %v", i, err)
		}
	}

	if len(notifier.started) != 1 {
		t.Fatalf("notifier started %d times, want 1", len(notifier.started))
	}
	if len(store.active) != 1 {
		t.Fatalf("store holds %d records, want 1", len(store.active))
	}
}

func TestEvaluateOnceUpdatesChangedObservation(t *testing.T) {
	unit := offlineUnit("u1")
	units := &stubUnits{units: []fleet.UnitState{unit}}
	store := newMemoryStore()
	notifier := &recordingNotifier{}
	broadcaster := &recordingBroadcaster{}
	eng := newTestEngine(t, units, store, notifier, broadcaster)

	if _, err := eng.EvaluateOnce(context.Background()); err != nil {
		t.Fatalf("first pass: %v", err)
	}

	// Another interval elapses; the missed count grows in place.
	unit.LastCheckinAt = tickTime.Add(-40 * time.Minute)
	units.units = []fleet.UnitState{unit}
	if _, err := eng.EvaluateOnce(context.Background()); err != nil {
		t.Fatalf("second pass: %v", err)
	}

	record := store.get("u1:OFFLINE_WARNING")
	if record == nil || record.MissedCheckins == nil || *record.MissedCheckins != 6 {
		t.Fatalf("record = %+v, want refreshed missed count 6", record)
	}
	if len(notifier.started) != 1 {
		t.Fatalf("update re-notified: started = %v", notifier.started)
	}
	if !broadcaster.has("alert.updated") {
		t.Fatalf("events = %v, want alert.updated", broadcaster.events)
	}
}

func TestEvaluateOnceResolvesClearedAlerts(t *testing.T) {
	units := &stubUnits{units: []fleet.UnitState{offlineUnit("u1")}}
	store := newMemoryStore()
	notifier := &recordingNotifier{}
	broadcaster := &recordingBroadcaster{}
	eng := newTestEngine(t, units, store, notifier, broadcaster)

	if _, err := eng.EvaluateOnce(context.Background()); err != nil {
		t.Fatalf("first pass: %v", err)
	}

	units.units = []fleet.UnitState{healthyTestUnit("u1")}
	if _, err := eng.EvaluateOnce(context.Background()); err != nil {
		t.Fatalf("second pass: %v", err)
	}

	record := store.get("u1:OFFLINE_WARNING")
	if record == nil || record.ResolvedAt == nil {
		t.Fatalf("record = %+v, want resolved", record)
	}
	if len(notifier.canceled) != 1 || notifier.canceled[0] != "u1:OFFLINE_WARNING" {
		t.Fatalf("canceled = %v", notifier.canceled)
	}
	if !broadcaster.has("alert.resolved") {
		t.Fatalf("events = %v, want alert.resolved", broadcaster.events)
	}
	// Default policy does not opt in to resolution notifications.
	if len(notifier.resolutions) != 0 {
		t.Fatalf("resolutions = %v, want none", notifier.resolutions)
	}
}

func TestEvaluateOnceSendsResolutionWhenPolicyOptsIn(t *testing.T) {
	optIn := true
	policies := &stubPolicies{overrides: map[string]*notifications.Override{
		"org:org-1:OFFLINE_WARNING": {SendResolvedNotifications: &optIn},
	}}
	units := &stubUnits{units: []fleet.UnitState{offlineUnit("u1")}}
	store := newMemoryStore()
	notifier := &recordingNotifier{}

	cfg := Config{OrgID: "org-1", EvaluationIntervalSeconds: 60}
	eng, err := New(cfg, units, &stubRules{}, policies, store, notifier, WithClock(fixedClock{now: tickTime}))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	if _, err := eng.EvaluateOnce(context.Background()); err != nil {
		t.Fatalf("first pass: %v", err)
	}
	units.units = []fleet.UnitState{healthyTestUnit("u1")}
	if _, err := eng.EvaluateOnce(context.Background()); err != nil {
		t.Fatalf("second pass: %v", err)
	}

	if len(notifier.resolutions) != 1 || notifier.resolutions[0] != "u1:OFFLINE_WARNING" {
		t.Fatalf("resolutions = %v, want one for the offline alert", notifier.resolutions)
	}
}

func TestEvaluateOnceAppliesScopedRules(t *testing.T) {
	relaxed := 100
	ruleSource := &stubRules{overrides: map[string]*rules.Override{
		"unit:u1": {OfflineWarningMissedCheckins: &relaxed, OfflineCriticalMissedCheckins: &relaxed},
	}}
	units := &stubUnits{units: []fleet.UnitState{offlineUnit("u1")}}
	store := newMemoryStore()
	notifier := &recordingNotifier{}

	cfg := Config{OrgID: "org-1", EvaluationIntervalSeconds: 60}
	eng, err := New(cfg, units, ruleSource, &stubPolicies{}, store, notifier, WithClock(fixedClock{now: tickTime}))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}

	report, err := eng.EvaluateOnce(context.Background())
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if len(report.Alerts) != 0 {
		t.Fatalf("alerts = %v, relaxed unit threshold should suppress offline", report.Alerts)
	}
}

func TestAcknowledge(t *testing.T) {
	units := &stubUnits{units: []fleet.UnitState{offlineUnit("u1")}}
	store := newMemoryStore()
	notifier := &recordingNotifier{}
	broadcaster := &recordingBroadcaster{}
	eng := newTestEngine(t, units, store, notifier, broadcaster)

	if _, err := eng.EvaluateOnce(context.Background()); err != nil {
		t.Fatalf("evaluate: %v", err)
	}

	acked, err := eng.Acknowledge(context.Background(), "u1:OFFLINE_WARNING", "sam")
	if err != nil {
		t.Fatalf("acknowledge: %v", err)
	}
	if !acked {
		t.Fatal("acknowledge returned false for active alert")
	}
	record := store.get("u1:OFFLINE_WARNING")
	if record.AcknowledgedAt == nil || record.AcknowledgedBy != "sam" {
		t.Fatalf("record = %+v, want acknowledged by sam", record)
	}
	if len(notifier.canceled) == 0 {
		t.Fatal("pending deliveries not canceled on ack")
	}
	if !broadcaster.has("alert.acknowledged") {
		t.Fatalf("events = %v, want alert.acknowledged", broadcaster.events)
	}

	// Second ack is a conflict, not an error.
	acked, err = eng.Acknowledge(context.Background(), "u1:OFFLINE_WARNING", "alex")
	if err != nil {
		t.Fatalf("second acknowledge: %v", err)
	}
	if acked {
		t.Fatal("double acknowledge succeeded")
	}
	if record := store.get("u1:OFFLINE_WARNING"); record.AcknowledgedBy != "sam" {
		t.Fatalf("actor overwritten: %s", record.AcknowledgedBy)
	}
}

func TestAcknowledgeUnknownAlert(t *testing.T) {
	eng := newTestEngine(t, &stubUnits{}, newMemoryStore(), &recordingNotifier{}, nil)

	acked, err := eng.Acknowledge(context.Background(), "missing:OFFLINE_WARNING", "sam")
	if err != nil {
		t.Fatalf("acknowledge: %v", err)
	}
	if acked {
		t.Fatal("acknowledged a record that does not exist")
	}
	if _, err := eng.Acknowledge(context.Background(), "", "sam"); err == nil {
		t.Fatal("empty alert id accepted")
	}
}

func TestStatusBoard(t *testing.T) {
	units := &stubUnits{units: []fleet.UnitState{offlineUnit("u1"), healthyTestUnit("u2")}}
	eng := newTestEngine(t, units, newMemoryStore(), &recordingNotifier{}, nil)

	board, err := eng.StatusBoard(context.Background())
	if err != nil {
		t.Fatalf("status board: %v", err)
	}
	if len(board) != 2 {
		t.Fatalf("board = %d entries, want 2", len(board))
	}
	byUnit := make(map[string]UnitStatus, len(board))
	for _, entry := range board {
		byUnit[entry.UnitID] = entry
	}
	if byUnit["u1"].Label != "Offline" || byUnit["u1"].MissedCheckins != 5 {
		t.Fatalf("u1 = %+v, want offline with 5 missed", byUnit["u1"])
	}
	if byUnit["u2"].Label != "OK" {
		t.Fatalf("u2 = %+v, want OK", byUnit["u2"])
	}
	if byUnit["u1"].RuleSources["offline_warning_missed_checkins"] != "default" {
		t.Fatalf("rule sources = %v, want default attribution", byUnit["u1"].RuleSources)
	}
}
