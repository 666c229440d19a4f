package memory

import (
	"context"
	"sync"
	"time"

	"trivia-forge-service/internal/domain"
)

// The in-memory repos mirror the conditional-update semantics of the
// postgres repository so app unit tests exercise the same contracts.

// HistoryRepo stores completed-session summaries.
type HistoryRepo struct {
	mu        sync.Mutex
	summaries map[string]*domain.SessionSummary
}

func NewHistoryRepo() *HistoryRepo {
	return &HistoryRepo{summaries: make(map[string]*domain.SessionSummary)}
}

func (r *HistoryRepo) SaveSummary(_ context.Context, summary *domain.SessionSummary) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *summary
	r.summaries[summary.ID] = &copied
	return nil
}

// Summaries is a test helper.
func (r *HistoryRepo) Summaries() []*domain.SessionSummary {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.SessionSummary, 0, len(r.summaries))
	for _, s := range r.summaries {
		copied := *s
		out = append(out, &copied)
	}
	return out
}

// EligibilityRepo stores eligibilities with conditional claim/expire.
type EligibilityRepo struct {
	mu   sync.Mutex
	rows map[string]*domain.Eligibility
}

func NewEligibilityRepo() *EligibilityRepo {
	return &EligibilityRepo{rows: make(map[string]*domain.Eligibility)}
}

func (r *EligibilityRepo) Create(_ context.Context, eligibility *domain.Eligibility) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *eligibility
	r.rows[eligibility.ID] = &copied
	return nil
}

func (r *EligibilityRepo) Get(_ context.Context, id string) (*domain.Eligibility, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	eligibility, ok := r.rows[id]
	if !ok {
		return nil, domain.ErrEligibilityNotFound
	}
	copied := *eligibility
	return &copied, nil
}

func (r *EligibilityRepo) Claim(_ context.Context, id string, now time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	eligibility, ok := r.rows[id]
	if !ok {
		return domain.ErrEligibilityNotFound
	}
	if eligibility.Status != domain.EligibilityActive || !eligibility.ExpiresAt.After(now) {
		return domain.ErrEligibilityNotActive
	}
	eligibility.Status = domain.EligibilityClaimed
	return nil
}

func (r *EligibilityRepo) ExpireDue(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var expired int64
	for _, eligibility := range r.rows {
		if eligibility.Status == domain.EligibilityActive && !eligibility.ExpiresAt.After(now) {
			eligibility.Status = domain.EligibilityExpired
			expired++
		}
	}
	return expired, nil
}

// SeasonPointsRepo stores the per-identity season accumulators.
type SeasonPointsRepo struct {
	mu   sync.Mutex
	rows map[string]*domain.SeasonPoints
}

func NewSeasonPointsRepo() *SeasonPointsRepo {
	return &SeasonPointsRepo{rows: make(map[string]*domain.SeasonPoints)}
}

func (r *SeasonPointsRepo) Get(_ context.Context, identity, seasonID string) (*domain.SeasonPoints, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if points, ok := r.rows[identity+":"+seasonID]; ok {
		copied := *points
		return &copied, nil
	}
	return &domain.SeasonPoints{Identity: identity, SeasonID: seasonID}, nil
}

// Upsert is version-checked: a write carrying a stale version loses with
// ErrStandingConflict, matching the postgres repo.
func (r *SeasonPointsRepo) Upsert(_ context.Context, points *domain.SeasonPoints) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := points.Identity + ":" + points.SeasonID
	current, ok := r.rows[key]
	if points.Version == 0 {
		if ok {
			return domain.ErrStandingConflict
		}
	} else if !ok || current.Version != points.Version {
		return domain.ErrStandingConflict
	}
	copied := *points
	copied.Version++
	r.rows[key] = &copied
	return nil
}

// SeasonRepo stores ranking epochs.
type SeasonRepo struct {
	mu   sync.Mutex
	rows map[string]*domain.Season
}

func NewSeasonRepo() *SeasonRepo {
	return &SeasonRepo{rows: make(map[string]*domain.Season)}
}

func (r *SeasonRepo) Active(_ context.Context) (*domain.Season, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, season := range r.rows {
		if season.Active {
			copied := *season
			return &copied, nil
		}
	}
	return nil, domain.ErrSeasonNotFound
}

func (r *SeasonRepo) Deactivate(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	season, ok := r.rows[id]
	if !ok {
		return domain.ErrSeasonNotFound
	}
	season.Active = false
	return nil
}

func (r *SeasonRepo) Create(_ context.Context, season *domain.Season) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *season
	r.rows[season.ID] = &copied
	return nil
}

// SnapshotRepo stores leaderboard snapshot rows keyed (season, date, identity).
type SnapshotRepo struct {
	mu   sync.Mutex
	rows map[string]*domain.LeaderboardRow
}

func NewSnapshotRepo() *SnapshotRepo {
	return &SnapshotRepo{rows: make(map[string]*domain.LeaderboardRow)}
}

func (r *SnapshotRepo) UpsertBatch(_ context.Context, rows []domain.LeaderboardRow) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, row := range rows {
		copied := row
		r.rows[row.SeasonID+":"+row.Date+":"+row.Identity] = &copied
	}
	return nil
}

// Snapshots is a test helper.
func (r *SnapshotRepo) Snapshots() []*domain.LeaderboardRow {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*domain.LeaderboardRow, 0, len(r.rows))
	for _, row := range r.rows {
		copied := *row
		out = append(out, &copied)
	}
	return out
}
