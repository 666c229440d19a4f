package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"trivia-forge-service/internal/domain"
)

// The durable-row repos share one bun.DB. Every transition that must be
// atomic is a single conditional UPDATE, never read-modify-write.

// HistoryRepo persists completed-session summaries.
type HistoryRepo struct {
	db *bun.DB
}

func NewHistoryRepo(db *bun.DB) *HistoryRepo {
	return &HistoryRepo{db: db}
}

func (r *HistoryRepo) SaveSummary(ctx context.Context, summary *domain.SessionSummary) error {
	if _, err := r.db.NewInsert().Model(summary).Exec(ctx); err != nil {
		return fmt.Errorf("save summary: %w", err)
	}
	return nil
}

// EligibilityRepo owns the eligibility rows.
type EligibilityRepo struct {
	db *bun.DB
}

func NewEligibilityRepo(db *bun.DB) *EligibilityRepo {
	return &EligibilityRepo{db: db}
}

func (r *EligibilityRepo) Create(ctx context.Context, eligibility *domain.Eligibility) error {
	// season rewards use deterministic ids, so a rerun rollover is a no-op
	_, err := r.db.NewInsert().Model(eligibility).On("CONFLICT (id) DO NOTHING").Exec(ctx)
	if err != nil {
		return fmt.Errorf("create eligibility: %w", err)
	}
	return nil
}

func (r *EligibilityRepo) Get(ctx context.Context, id string) (*domain.Eligibility, error) {
	eligibility := new(domain.Eligibility)
	err := r.db.NewSelect().Model(eligibility).Where("id = ?", id).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrEligibilityNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load eligibility: %w", err)
	}
	return eligibility, nil
}

// Claim flips active→claimed conditionally; losing the race against the
// expiry sweep (or a double claim) reports ErrEligibilityNotActive.
func (r *EligibilityRepo) Claim(ctx context.Context, id string, now time.Time) error {
	res, err := r.db.NewUpdate().
		Model((*domain.Eligibility)(nil)).
		Set("status = ?", domain.EligibilityClaimed).
		Where("id = ?", id).
		Where("status = ?", domain.EligibilityActive).
		Where("expires_at > ?", now).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("claim eligibility: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("claim eligibility: %w", err)
	}
	if affected == 0 {
		return domain.ErrEligibilityNotActive
	}
	return nil
}

// ExpireDue is the sweep's single conditional update: idempotent, and a
// no-op for anything already claimed or expired.
func (r *EligibilityRepo) ExpireDue(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.NewUpdate().
		Model((*domain.Eligibility)(nil)).
		Set("status = ?", domain.EligibilityExpired).
		Where("status = ?", domain.EligibilityActive).
		Where("expires_at <= ?", now).
		Exec(ctx)
	if err != nil {
		return 0, fmt.Errorf("expire eligibilities: %w", err)
	}
	return res.RowsAffected()
}

// SeasonPointsRepo owns the per-identity season accumulators.
type SeasonPointsRepo struct {
	db *bun.DB
}

func NewSeasonPointsRepo(db *bun.DB) *SeasonPointsRepo {
	return &SeasonPointsRepo{db: db}
}

func (r *SeasonPointsRepo) Get(ctx context.Context, identity, seasonID string) (*domain.SeasonPoints, error) {
	points := new(domain.SeasonPoints)
	err := r.db.NewSelect().Model(points).
		Where("identity = ?", identity).
		Where("season_id = ?", seasonID).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return &domain.SeasonPoints{Identity: identity, SeasonID: seasonID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load season points: %w", err)
	}
	return points, nil
}

// Upsert is version-checked so concurrent merges never overwrite each other:
// a fresh row inserts at version 1, an update must carry the version it read
// and bumps it. A stale write reports ErrStandingConflict and the caller
// reloads.
func (r *SeasonPointsRepo) Upsert(ctx context.Context, points *domain.SeasonPoints) error {
	if points.Version == 0 {
		points.Version = 1
		res, err := r.db.NewInsert().Model(points).
			On("CONFLICT (identity, season_id) DO NOTHING").
			Exec(ctx)
		if err != nil {
			return fmt.Errorf("insert season points: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("insert season points: %w", err)
		}
		if affected == 0 {
			return domain.ErrStandingConflict
		}
		return nil
	}

	prev := points.Version
	points.Version = prev + 1
	res, err := r.db.NewUpdate().Model(points).
		Column("points", "claimed_count", "perfect_count", "avg_latency_ms",
			"answered_count", "sessions_used", "last_active_at", "version").
		WherePK().
		Where("version = ?", prev).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("update season points: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update season points: %w", err)
	}
	if affected == 0 {
		return domain.ErrStandingConflict
	}
	return nil
}

// SeasonRepo resolves and rolls ranking epochs.
type SeasonRepo struct {
	db *bun.DB
}

func NewSeasonRepo(db *bun.DB) *SeasonRepo {
	return &SeasonRepo{db: db}
}

func (r *SeasonRepo) Active(ctx context.Context) (*domain.Season, error) {
	season := new(domain.Season)
	err := r.db.NewSelect().Model(season).
		Where("active").
		Order("starts_at DESC").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrSeasonNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load active season: %w", err)
	}
	return season, nil
}

func (r *SeasonRepo) Deactivate(ctx context.Context, id string) error {
	res, err := r.db.NewUpdate().
		Model((*domain.Season)(nil)).
		Set("active = FALSE").
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("deactivate season: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deactivate season: %w", err)
	}
	if affected == 0 {
		return domain.ErrSeasonNotFound
	}
	return nil
}

func (r *SeasonRepo) Create(ctx context.Context, season *domain.Season) error {
	_, err := r.db.NewInsert().Model(season).On("CONFLICT (id) DO NOTHING").Exec(ctx)
	if err != nil {
		return fmt.Errorf("create season: %w", err)
	}
	return nil
}

// SnapshotRepo upserts leaderboard snapshot rows.
type SnapshotRepo struct {
	db *bun.DB
}

func NewSnapshotRepo(db *bun.DB) *SnapshotRepo {
	return &SnapshotRepo{db: db}
}

// UpsertBatch writes one batch inside a transaction so a partial failure
// never leaves a half-written snapshot.
func (r *SnapshotRepo) UpsertBatch(ctx context.Context, rows []domain.LeaderboardRow) error {
	if len(rows) == 0 {
		return nil
	}
	err := r.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := tx.NewInsert().Model(&rows).
			On("CONFLICT (season_id, date, identity) DO UPDATE").
			Set("rank = EXCLUDED.rank").
			Set("score = EXCLUDED.score").
			Set("points = EXCLUDED.points").
			Set("claimed_count = EXCLUDED.claimed_count").
			Set("perfect_count = EXCLUDED.perfect_count").
			Set("avg_latency_ms = EXCLUDED.avg_latency_ms").
			Set("captured_at = EXCLUDED.captured_at").
			Exec(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("upsert snapshot batch: %w", err)
	}
	return nil
}
