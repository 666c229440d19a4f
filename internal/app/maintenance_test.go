package app_test

import (
	"context"
	"testing"
	"time"

	"trivia-forge-service/internal/app"
	"trivia-forge-service/internal/domain"
	"trivia-forge-service/internal/infra/memory"
)

type maintenanceFixture struct {
	maintenance *app.Maintenance
	rights      *memory.EligibilityRepo
	ladder      *memory.Ladder
	snapshots   *memory.SnapshotRepo
	seasons     *memory.SeasonRepo
	janitor     *recordingJanitor
	now         time.Time
}

type recordingJanitor struct {
	purged []string
}

func (j *recordingJanitor) PurgeDay(_ context.Context, date string) error {
	j.purged = append(j.purged, date)
	return nil
}

func newMaintenanceFixture(t *testing.T, cfg app.MaintenanceConfig) *maintenanceFixture {
	t.Helper()
	fx := &maintenanceFixture{
		rights:    memory.NewEligibilityRepo(),
		ladder:    memory.NewLadder(),
		snapshots: memory.NewSnapshotRepo(),
		seasons:   memory.NewSeasonRepo(),
		janitor:   &recordingJanitor{},
		now:       time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC),
	}
	if err := fx.seasons.Create(context.Background(), &domain.Season{
		ID:       "2025-q2",
		StartsAt: time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
		EndsAt:   time.Date(2025, 7, 1, 0, 0, 0, 0, time.UTC),
		Active:   true,
	}); err != nil {
		t.Fatalf("seed season: %v", err)
	}
	fx.maintenance = app.NewMaintenance(fx.rights, fx.ladder, fx.snapshots, fx.seasons, fx.janitor, cfg, nil).
		WithClock(func() time.Time { return fx.now })
	return fx
}

func (fx *maintenanceFixture) grant(t *testing.T, id string, expiresAt time.Time, status domain.EligibilityStatus) {
	t.Helper()
	err := fx.rights.Create(context.Background(), &domain.Eligibility{
		ID:        id,
		Type:      domain.EligibilityCategory,
		Identity:  "alice",
		Target:    "history",
		Status:    status,
		GrantedAt: fx.now.Add(-time.Hour),
		ExpiresAt: expiresAt,
	})
	if err != nil {
		t.Fatalf("grant %s: %v", id, err)
	}
}

func TestSweepExpiresOnlyDueActive(t *testing.T) {
	fx := newMaintenanceFixture(t, app.DefaultMaintenanceConfig())
	ctx := context.Background()

	fx.grant(t, "due", fx.now.Add(-time.Minute), domain.EligibilityActive)
	fx.grant(t, "live", fx.now.Add(10*time.Minute), domain.EligibilityActive)
	fx.grant(t, "claimed", fx.now.Add(-time.Minute), domain.EligibilityClaimed)
	fx.grant(t, "expired", fx.now.Add(-2*time.Hour), domain.EligibilityExpired)

	expired, err := fx.maintenance.SweepEligibilities(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if expired != 1 {
		t.Fatalf("expected exactly 1 expiry, got %d", expired)
	}

	for id, want := range map[string]domain.EligibilityStatus{
		"due":     domain.EligibilityExpired,
		"live":    domain.EligibilityActive,
		"claimed": domain.EligibilityClaimed,
		"expired": domain.EligibilityExpired,
	} {
		got, err := fx.rights.Get(ctx, id)
		if err != nil {
			t.Fatalf("get %s: %v", id, err)
		}
		if got.Status != want {
			t.Fatalf("%s: expected %s, got %s", id, want, got.Status)
		}
	}

	// re-running the sweep is a no-op
	expired, err = fx.maintenance.SweepEligibilities(ctx)
	if err != nil {
		t.Fatalf("second sweep: %v", err)
	}
	if expired != 0 {
		t.Fatalf("expected idempotent sweep, got %d expiries", expired)
	}
}

func TestRolloverDayPurgesYesterday(t *testing.T) {
	fx := newMaintenanceFixture(t, app.DefaultMaintenanceConfig())
	if err := fx.maintenance.RolloverDay(context.Background()); err != nil {
		t.Fatalf("rollover: %v", err)
	}
	if len(fx.janitor.purged) != 1 || fx.janitor.purged[0] != "2025-06-09" {
		t.Fatalf("expected purge of 2025-06-09, got %v", fx.janitor.purged)
	}
}

func TestSnapshotLadderWritesInBatches(t *testing.T) {
	cfg := app.DefaultMaintenanceConfig()
	cfg.SnapshotBatch = 2
	fx := newMaintenanceFixture(t, cfg)
	ctx := context.Background()

	standings := []domain.Standing{
		{Points: 30},
		{Points: 20},
		{Points: 10},
		{Points: 5},
		{Points: 1},
	}
	for i, standing := range standings {
		identity := string(rune('a' + i))
		if err := fx.ladder.Update(ctx, "2025-q2", identity, standing.Encode(fx.now)); err != nil {
			t.Fatalf("seed ladder: %v", err)
		}
	}

	if err := fx.maintenance.SnapshotLadder(ctx); err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	rows := fx.snapshots.Snapshots()
	if len(rows) != 5 {
		t.Fatalf("expected 5 snapshot rows, got %d", len(rows))
	}
	// Snapshots() returns rows in map order, so look them up by identity
	byIdentity := make(map[string]*domain.LeaderboardRow, len(rows))
	for _, row := range rows {
		byIdentity[row.Identity] = row
	}
	top := byIdentity["a"]
	if top == nil || top.Rank != 1 || top.Points != 30 || top.Date != "2025-06-10" {
		t.Fatalf("unexpected top row %+v", top)
	}
	bottom := byIdentity["e"]
	if bottom == nil || bottom.Rank != 5 || bottom.Points != 1 {
		t.Fatalf("unexpected bottom row %+v", bottom)
	}
}

func TestSeasonRolloverNotDue(t *testing.T) {
	fx := newMaintenanceFixture(t, app.DefaultMaintenanceConfig())
	if err := fx.maintenance.RolloverSeasonIfDue(context.Background()); err != nil {
		t.Fatalf("rollover: %v", err)
	}
	season, err := fx.seasons.Active(context.Background())
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if season.ID != "2025-q2" {
		t.Fatalf("season rolled early, active is %s", season.ID)
	}
}

func TestSeasonRolloverArchivesRewardsAndOpensNext(t *testing.T) {
	fx := newMaintenanceFixture(t, app.DefaultMaintenanceConfig())
	ctx := context.Background()

	for identity, points := range map[string]int{"alice": 40, "bob": 25} {
		standing := domain.Standing{Points: points}
		if err := fx.ladder.Update(ctx, "2025-q2", identity, standing.Encode(fx.now)); err != nil {
			t.Fatalf("seed ladder: %v", err)
		}
	}

	fx.now = time.Date(2025, 7, 1, 0, 30, 0, 0, time.UTC)
	if err := fx.maintenance.RolloverSeasonIfDue(ctx); err != nil {
		t.Fatalf("rollover: %v", err)
	}

	// final standings archived
	if got := len(fx.snapshots.Snapshots()); got != 2 {
		t.Fatalf("expected 2 archived rows, got %d", got)
	}

	// the champion holds a season eligibility
	reward, err := fx.rights.Get(ctx, "season-champion-2025-q2")
	if err != nil {
		t.Fatalf("reward: %v", err)
	}
	if reward.Identity != "alice" || reward.Type != domain.EligibilitySeason {
		t.Fatalf("unexpected reward %+v", reward)
	}

	// next quarter is open
	season, err := fx.seasons.Active(ctx)
	if err != nil {
		t.Fatalf("active: %v", err)
	}
	if season.ID != "2025-q3" || !season.Active {
		t.Fatalf("expected 2025-q3 active, got %+v", season)
	}

	// a repeated run against the new season is a no-op
	if err := fx.maintenance.RolloverSeasonIfDue(ctx); err != nil {
		t.Fatalf("second rollover: %v", err)
	}
	season, err = fx.seasons.Active(ctx)
	if err != nil {
		t.Fatalf("active after second run: %v", err)
	}
	if season.ID != "2025-q3" {
		t.Fatalf("expected 2025-q3 still active, got %s", season.ID)
	}
}
