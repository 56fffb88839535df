package integration_test

import (
	"context"
	"database/sql"
	"os"
	"testing"
	"time"

	alerts "coldchain-cloud/internal/alerts/domain"
	alertrepo "coldchain-cloud/internal/alerts/infrastructure/postgres"
	rules "coldchain-cloud/internal/rules/domain"
	rulerepo "coldchain-cloud/internal/rules/infrastructure/postgres"

	_ "github.com/jackc/pgx/v5/stdlib"
)

func TestAlertLifecycle_Postgres(t *testing.T) {
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	if !tableExists(db, "active_alerts") {
		t.Skip("missing tables; run migrations")
	}

	ctx := context.Background()
	orgID := "org-it-alerts"

	_, _ = db.ExecContext(ctx, "DELETE FROM active_alerts WHERE org_id = $1", orgID)

	repo := alertrepo.NewAlertRepository(db)
	raisedAt := time.Now().UTC().Truncate(time.Millisecond)
	missed := 5

	record := alerts.ActiveAlert{
		Alert: alerts.Alert{
			ID:             "unit-it-1:OFFLINE_WARNING",
			UnitID:         "unit-it-1",
			UnitName:       "Walk-in IT",
			SiteName:       "Integration Kitchen",
			Type:           alerts.TypeOfflineWarning,
			Severity:       alerts.SeverityWarning,
			Title:          "Unit Offline",
			Message:        "No check-in from Walk-in IT for 35m (5 missed check-ins).",
			MissedCheckins: &missed,
		},
		OrgID:    orgID,
		SiteID:   "site-it-1",
		RaisedAt: raisedAt,
	}
	if err := repo.Create(ctx, &record); err != nil {
		t.Fatalf("create: %v", err)
	}

	active, err := repo.ListActive(ctx, orgID)
	if err != nil {
		t.Fatalf("list active: %v", err)
	}
	if len(active) != 1 {
		t.Fatalf("active = %d, want 1", len(active))
	}
	got := active[0]
	if got.ID != record.ID || got.Severity != alerts.SeverityWarning {
		t.Fatalf("got %+v", got)
	}
	if got.MissedCheckins == nil || *got.MissedCheckins != 5 {
		t.Fatalf("missed = %v, want 5", got.MissedCheckins)
	}
	if got.RaisedAt.Location() != time.UTC {
		t.Fatalf("raised_at not normalized to UTC: %v", got.RaisedAt)
	}

	// Refresh the observation in place.
	missed = 7
	record.Severity = alerts.SeverityCritical
	record.Message = "No check-in from Walk-in IT for 45m (7 missed check-ins)."
	record.UpdatedAt = raisedAt.Add(10 * time.Minute)
	if err := repo.UpdateObservation(ctx, &record); err != nil {
		t.Fatalf("update observation: %v", err)
	}
	active, _ = repo.ListActive(ctx, orgID)
	if len(active) != 1 || active[0].Severity != alerts.SeverityCritical {
		t.Fatalf("after update: %+v", active)
	}

	// First ack wins; the second is a no-op.
	acked, err := repo.MarkAcknowledged(ctx, record.ID, "sam", raisedAt.Add(12*time.Minute))
	if err != nil || !acked {
		t.Fatalf("acknowledge: acked=%v err=%v", acked, err)
	}
	acked, err = repo.MarkAcknowledged(ctx, record.ID, "alex", raisedAt.Add(13*time.Minute))
	if err != nil {
		t.Fatalf("second acknowledge: %v", err)
	}
	if acked {
		t.Fatal("double acknowledge affected a row")
	}
	active, _ = repo.ListActive(ctx, orgID)
	if active[0].AcknowledgedBy != "sam" {
		t.Fatalf("acknowledged by = %q, want sam", active[0].AcknowledgedBy)
	}

	if err := repo.MarkResolved(ctx, record.ID, raisedAt.Add(20*time.Minute)); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	active, _ = repo.ListActive(ctx, orgID)
	if len(active) != 0 {
		t.Fatalf("active after resolve = %d, want 0", len(active))
	}

	history, err := repo.ListHistory(ctx, orgID, raisedAt.Add(-time.Hour), raisedAt.Add(time.Hour))
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(history) != 1 || history[0].ResolvedAt == nil {
		t.Fatalf("history = %+v, want one resolved record", history)
	}
}

func TestRuleOverrideRoundTrip_Postgres(t *testing.T) {
	dsn := os.Getenv("PG_DSN")
	if dsn == "" {
		t.Skip("PG_DSN not set")
	}

	db, err := sql.Open("pgx", dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	defer db.Close()

	if !tableExists(db, "rule_overrides") {
		t.Skip("missing tables; run migrations")
	}

	ctx := context.Background()
	scopeID := "site-it-rules"
	_, _ = db.ExecContext(ctx, "DELETE FROM rule_overrides WHERE scope_id = $1", scopeID)

	repo := rulerepo.NewRuleOverrideRepository(db)

	// Absent row resolves to nil, not an empty override.
	override, err := repo.Get(ctx, rules.ScopeSite, scopeID)
	if err != nil {
		t.Fatalf("get missing: %v", err)
	}
	if override != nil {
		t.Fatalf("missing row = %+v, want nil", override)
	}

	warning := 5
	interval := 600
	if err := repo.Save(ctx, rules.ScopeSite, scopeID, &rules.Override{
		OfflineWarningMissedCheckins:   &warning,
		ExpectedReadingIntervalSeconds: &interval,
	}); err != nil {
		t.Fatalf("save: %v", err)
	}

	override, err = repo.Get(ctx, rules.ScopeSite, scopeID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if override == nil || override.OfflineWarningMissedCheckins == nil || *override.OfflineWarningMissedCheckins != 5 {
		t.Fatalf("override = %+v, want warning 5", override)
	}
	if override.OfflineCriticalMissedCheckins != nil {
		t.Fatal("unset field came back non-nil")
	}

	// Upsert replaces the row for the same scope key.
	warning = 8
	if err := repo.Save(ctx, rules.ScopeSite, scopeID, &rules.Override{
		OfflineWarningMissedCheckins: &warning,
	}); err != nil {
		t.Fatalf("save again: %v", err)
	}
	override, _ = repo.Get(ctx, rules.ScopeSite, scopeID)
	if override == nil || *override.OfflineWarningMissedCheckins != 8 {
		t.Fatalf("override = %+v, want warning 8", override)
	}

	// Delete reverts the scope to inheritance.
	if err := repo.Delete(ctx, rules.ScopeSite, scopeID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	override, _ = repo.Get(ctx, rules.ScopeSite, scopeID)
	if override != nil {
		t.Fatalf("override after delete = %+v, want nil", override)
	}
}

func tableExists(db *sql.DB, table string) bool {
	var exists bool
	err := db.QueryRow(`
SELECT EXISTS (
	SELECT 1
	FROM information_schema.tables
	WHERE table_schema = 'public' AND table_name = $1
)`, table).Scan(&exists)
	if err != nil {
		return false
	}
	return exists
}
