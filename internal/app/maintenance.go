package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-co-op/gocron/v2"

	"trivia-forge-service/internal/domain"
)

// SnapshotRepo upserts decoded ladder rows; each batch lands transactionally
// so a partial failure never leaves a half-written snapshot.
type SnapshotRepo interface {
	UpsertBatch(ctx context.Context, rows []domain.LeaderboardRow) error
}

// Janitor deletes a day's rate-limit counters and seen-question sets. The
// keys are TTL-backed, so this is a best-effort cleanup.
type Janitor interface {
	PurgeDay(ctx context.Context, date string) error
}

// MaintenanceConfig sets the sweep cadence and snapshot batch size.
type MaintenanceConfig struct {
	SweepInterval    time.Duration
	SnapshotInterval time.Duration
	SnapshotBatch    int
}

func DefaultMaintenanceConfig() MaintenanceConfig {
	return MaintenanceConfig{
		SweepInterval:    time.Minute,
		SnapshotInterval: 24 * time.Hour,
		SnapshotBatch:    200,
	}
}

// Maintenance owns the periodic sweeps: eligibility expiry, daily rollover,
// ranking snapshots and the quarterly season rollover. The job bodies are
// exported methods so they can be driven directly in tests; transient store
// errors are logged and retried on the next tick.
type Maintenance struct {
	rights    EligibilityRepo
	ladder    Ladder
	snapshots SnapshotRepo
	seasons   SeasonRepo
	janitor   Janitor
	cfg       MaintenanceConfig
	clock     func() time.Time
	logger    *slog.Logger
	scheduler gocron.Scheduler
}

func NewMaintenance(
	rights EligibilityRepo,
	ladder Ladder,
	snapshots SnapshotRepo,
	seasons SeasonRepo,
	janitor Janitor,
	cfg MaintenanceConfig,
	logger *slog.Logger,
) *Maintenance {
	if logger == nil {
		logger = slog.Default()
	}
	return &Maintenance{
		rights:    rights,
		ladder:    ladder,
		snapshots: snapshots,
		seasons:   seasons,
		janitor:   janitor,
		cfg:       cfg,
		clock:     time.Now,
		logger:    logger,
	}
}

// WithClock is test-only.
func (m *Maintenance) WithClock(clock func() time.Time) *Maintenance {
	m.clock = clock
	return m
}

// Start schedules all jobs and runs them until Stop.
func (m *Maintenance) Start(ctx context.Context) error {
	scheduler, err := gocron.NewScheduler()
	if err != nil {
		return err
	}

	if _, err := scheduler.NewJob(
		gocron.DurationJob(m.cfg.SweepInterval),
		gocron.NewTask(func() {
			if _, err := m.SweepEligibilities(ctx); err != nil {
				m.logger.Error("eligibility sweep", "err", err)
			}
		}),
	); err != nil {
		return err
	}

	if _, err := scheduler.NewJob(
		gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(0, 5, 0))),
		gocron.NewTask(func() {
			if err := m.RolloverDay(ctx); err != nil {
				m.logger.Error("daily rollover", "err", err)
			}
		}),
	); err != nil {
		return err
	}

	if _, err := scheduler.NewJob(
		gocron.DurationJob(m.cfg.SnapshotInterval),
		gocron.NewTask(func() {
			if err := m.SnapshotLadder(ctx); err != nil {
				m.logger.Error("ranking snapshot", "err", err)
			}
		}),
	); err != nil {
		return err
	}

	if _, err := scheduler.NewJob(
		gocron.DailyJob(1, gocron.NewAtTimes(gocron.NewAtTime(0, 30, 0))),
		gocron.NewTask(func() {
			if err := m.RolloverSeasonIfDue(ctx); err != nil {
				m.logger.Error("season rollover", "err", err)
			}
		}),
	); err != nil {
		return err
	}

	scheduler.Start()
	m.scheduler = scheduler
	m.logger.Info("maintenance jobs scheduled",
		"sweep", m.cfg.SweepInterval.String(),
		"snapshot", m.cfg.SnapshotInterval.String())
	return nil
}

// Stop shuts the scheduler down.
func (m *Maintenance) Stop() error {
	if m.scheduler == nil {
		return nil
	}
	return m.scheduler.Shutdown()
}

// SweepEligibilities expires every active eligibility whose window has
// closed. The single conditional update makes the sweep idempotent and safe
// against concurrent claims.
func (m *Maintenance) SweepEligibilities(ctx context.Context) (int64, error) {
	expired, err := m.rights.ExpireDue(ctx, m.clock())
	if err != nil {
		return 0, err
	}
	if expired > 0 {
		m.logger.Info("eligibilities expired", "count", expired)
	}
	return expired, nil
}

// RolloverDay drops yesterday's rate-limit counters and seen-question sets.
func (m *Maintenance) RolloverDay(ctx context.Context) error {
	yesterday := m.clock().UTC().AddDate(0, 0, -1).Format("2006-01-02")
	return m.janitor.PurgeDay(ctx, yesterday)
}

// SnapshotLadder reads the whole season ladder, decodes every entry and
// upserts one durable row per identity keyed by (season, date, identity).
// The scan tolerates entries changing mid-iteration.
func (m *Maintenance) SnapshotLadder(ctx context.Context) error {
	season, err := m.seasons.Active(ctx)
	if err != nil {
		return err
	}
	return m.snapshotSeason(ctx, season.ID)
}

func (m *Maintenance) snapshotSeason(ctx context.Context, seasonID string) error {
	entries, err := m.ladder.Entries(ctx, seasonID)
	if err != nil {
		return err
	}

	now := m.clock()
	date := now.UTC().Format("2006-01-02")
	batch := make([]domain.LeaderboardRow, 0, m.cfg.SnapshotBatch)
	for i, entry := range entries {
		standing := domain.DecodeStanding(entry.Score)
		batch = append(batch, domain.LeaderboardRow{
			SeasonID:     seasonID,
			Date:         date,
			Identity:     entry.Identity,
			Rank:         i + 1,
			Score:        entry.Score,
			Points:       standing.Points,
			ClaimedCount: standing.ClaimedCount,
			PerfectCount: standing.PerfectCount,
			AvgLatencyMs: standing.AvgLatencyMs,
			CapturedAt:   now,
		})
		if len(batch) == m.cfg.SnapshotBatch {
			if err := m.snapshots.UpsertBatch(ctx, batch); err != nil {
				return err
			}
			batch = batch[:0]
		}
	}
	if len(batch) > 0 {
		return m.snapshots.UpsertBatch(ctx, batch)
	}
	return nil
}

// RolloverSeasonIfDue closes the active season once its end date passes:
// final standings are archived, the top identity is rewarded with a season
// eligibility, the season deactivates and the next epoch opens. Per-identity
// accumulators reset by key rotation: the new season id scopes fresh rows
// and a fresh ladder.
func (m *Maintenance) RolloverSeasonIfDue(ctx context.Context) error {
	season, err := m.seasons.Active(ctx)
	if err != nil {
		return err
	}
	now := m.clock()
	if now.Before(season.EndsAt) {
		return nil
	}

	if err := m.snapshotSeason(ctx, season.ID); err != nil {
		return err
	}

	top, err := m.ladder.Top(ctx, season.ID, 1)
	if err != nil {
		return err
	}
	if len(top) > 0 {
		reward := &domain.Eligibility{
			ID:        seasonRewardID(season.ID),
			Type:      domain.EligibilitySeason,
			Identity:  top[0].Identity,
			Target:    season.ID,
			Status:    domain.EligibilityActive,
			GrantedAt: now,
			ExpiresAt: now.Add(7 * 24 * time.Hour),
		}
		if err := m.rights.Create(ctx, reward); err != nil {
			return err
		}
	}

	if err := m.seasons.Deactivate(ctx, season.ID); err != nil {
		return err
	}

	next := NextSeason(season, now)
	if err := m.seasons.Create(ctx, next); err != nil {
		return err
	}
	m.logger.Info("season rolled over", "closed", season.ID, "opened", next.ID)
	return nil
}

// NextSeason derives the following quarterly epoch from the one that just
// closed.
func NextSeason(previous *domain.Season, now time.Time) *domain.Season {
	start := previous.EndsAt
	if start.Before(now) {
		start = now
	}
	end := start.AddDate(0, 3, 0)
	year, quarter := start.Year(), (int(start.Month())-1)/3+1
	return &domain.Season{
		ID:       fmt.Sprintf("%d-q%d", year, quarter),
		Name:     fmt.Sprintf("Season %d Q%d", year, quarter),
		StartsAt: start,
		EndsAt:   end,
		Active:   true,
	}
}

func seasonRewardID(seasonID string) string {
	return "season-champion-" + seasonID
}
