package app

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"trivia-forge-service/internal/domain"
)

// SlotGuard enforces one-active-session-per-identity, daily caps and the
// inter-session cooldown. Acquire returns one of the admission sentinels on
// denial; Release atomically drops the lock, arms the cooldown and counts the
// session against the daily limit. Abort drops only the lock, for starts that
// fail after admission.
type SlotGuard interface {
	Acquire(ctx context.Context, identity string, registered bool) error
	Release(ctx context.Context, identity string) error
	Abort(ctx context.Context, identity string) error
}

// SessionStore keeps live sessions under the session TTL. UpdateIf performs a
// versioned conditional write and fails with domain.ErrSessionConflict when a
// concurrent writer got there first.
type SessionStore interface {
	Put(ctx context.Context, session *domain.Session) error
	Get(ctx context.Context, sessionID string) (*domain.Session, error)
	UpdateIf(ctx context.Context, session *domain.Session) error
	Delete(ctx context.Context, sessionID string) error
}

// SeenStore tracks which questions an identity saw in a category today.
type SeenStore interface {
	Seen(ctx context.Context, identity, category string) ([]string, error)
	MarkSeen(ctx context.Context, identity, category string, questionIDs ...string) error
}

// LadderEntry is one member of the season-scoped sorted ranking structure.
type LadderEntry struct {
	Identity string
	Score    int64
}

// Ladder is the season-scoped sorted ranking structure.
type Ladder interface {
	Update(ctx context.Context, seasonID, identity string, score int64) error
	Top(ctx context.Context, seasonID string, limit int) ([]LadderEntry, error)
	Entries(ctx context.Context, seasonID string) ([]LadderEntry, error)
}

// HistoryRepo persists completed-session summaries.
type HistoryRepo interface {
	SaveSummary(ctx context.Context, summary *domain.SessionSummary) error
}

// EligibilityRepo owns the eligibility rows. ExpireDue and Claim are
// conditional updates so the claim/expire race settles on whichever lands
// first.
type EligibilityRepo interface {
	Create(ctx context.Context, eligibility *domain.Eligibility) error
	Get(ctx context.Context, id string) (*domain.Eligibility, error)
	Claim(ctx context.Context, id string, now time.Time) error
	ExpireDue(ctx context.Context, now time.Time) (int64, error)
}

// SeasonPointsRepo owns the per-identity season accumulators. Upsert is a
// versioned conditional write and reports ErrStandingConflict when the row
// moved underneath the caller.
type SeasonPointsRepo interface {
	Get(ctx context.Context, identity, seasonID string) (*domain.SeasonPoints, error)
	Upsert(ctx context.Context, points *domain.SeasonPoints) error
}

// SeasonRepo resolves and rolls ranking epochs.
type SeasonRepo interface {
	Active(ctx context.Context) (*domain.Season, error)
	Deactivate(ctx context.Context, id string) error
	Create(ctx context.Context, season *domain.Season) error
}

// GameService owns the session state machine: start, in-order timed answers,
// completion with scoring, eligibility grants and ladder updates.
type GameService struct {
	guard    SlotGuard
	selector *Selector
	sessions SessionStore
	seen     SeenStore
	ladder   Ladder
	history  HistoryRepo
	rights   EligibilityRepo
	points   SeasonPointsRepo
	seasons  SeasonRepo
	cfg      GameConfig
	clock    func() time.Time
	logger   *slog.Logger
}

func NewGameService(
	guard SlotGuard,
	selector *Selector,
	sessions SessionStore,
	seen SeenStore,
	ladder Ladder,
	history HistoryRepo,
	rights EligibilityRepo,
	points SeasonPointsRepo,
	seasons SeasonRepo,
	cfg GameConfig,
	logger *slog.Logger,
) *GameService {
	if logger == nil {
		logger = slog.Default()
	}
	return &GameService{
		guard:    guard,
		selector: selector,
		sessions: sessions,
		seen:     seen,
		ladder:   ladder,
		history:  history,
		rights:   rights,
		points:   points,
		seasons:  seasons,
		cfg:      cfg,
		clock:    time.Now,
		logger:   logger,
	}
}

// WithClock is test-only for deterministic timestamps.
func (s *GameService) WithClock(clock func() time.Time) *GameService {
	s.clock = clock
	return s
}

// Start admits the identity through the slot guard, selects a full question
// set and creates the live session. The slot is released again if anything
// after admission fails, so a failed start never blocks the identity.
func (s *GameService) Start(ctx context.Context, identity domain.Identity, category string) (domain.SessionView, error) {
	season, err := s.seasons.Active(ctx)
	if err != nil {
		return domain.SessionView{}, err
	}

	if err := s.guard.Acquire(ctx, identity.Key, identity.Registered); err != nil {
		return domain.SessionView{}, err
	}

	view, err := s.startLocked(ctx, identity, category, season.ID)
	if err != nil {
		if abortErr := s.guard.Abort(ctx, identity.Key); abortErr != nil {
			s.logger.Warn("slot abort after failed start", "identity", identity.Key, "err", abortErr)
		}
		return domain.SessionView{}, err
	}
	return view, nil
}

func (s *GameService) startLocked(ctx context.Context, identity domain.Identity, category, seasonID string) (domain.SessionView, error) {
	exclude, err := s.seen.Seen(ctx, identity.Key, category)
	if err != nil {
		return domain.SessionView{}, err
	}

	questions, err := s.selector.Select(ctx, category, domain.QuestionsPerSession, exclude)
	if err != nil {
		return domain.SessionView{}, err
	}

	now := s.clock()
	session := &domain.Session{
		ID:         uuid.NewString(),
		Identity:   identity.Key,
		Registered: identity.Registered,
		Category:   category,
		SeasonID:   seasonID,
		Questions:  questions,
		StartedAt:  now,
		ServedAt:   []time.Time{now},
		Status:     domain.SessionActive,
		Version:    1,
	}
	if err := s.sessions.Put(ctx, session); err != nil {
		return domain.SessionView{}, err
	}

	served := make([]string, 0, len(questions))
	for _, q := range questions {
		served = append(served, q.ID)
	}
	if err := s.selector.MarkServed(ctx, category, served); err != nil {
		// freshness bookkeeping only, the session is already live
		s.logger.Warn("mark served", "category", category, "err", err)
	}

	return session.View(), nil
}

// SubmitAnswer validates an in-order, in-budget answer against the
// authoritative copy and advances the session under a conditional write.
// Timed-out and out-of-order submissions never change state.
func (s *GameService) SubmitAnswer(ctx context.Context, sessionID string, questionIndex, optionIndex int, elapsedMs int64) (domain.AnswerResult, error) {
	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return domain.AnswerResult{}, err
	}
	if session.Status != domain.SessionActive {
		return domain.AnswerResult{}, domain.ErrSessionNotFound
	}
	if questionIndex != session.CurrentIndex || questionIndex >= len(session.Questions) {
		return domain.AnswerResult{}, domain.ErrInvalidQuestionIndex
	}
	if elapsedMs > s.cfg.AnswerBudget.Milliseconds() {
		return domain.AnswerResult{}, domain.ErrAnswerTimeout
	}

	question := session.Questions[questionIndex]
	correct := optionIndex >= 0 && optionIndex == question.CorrectIndex
	if correct {
		session.Score++
	}
	if elapsedMs < 0 {
		elapsedMs = 0
	}
	session.CurrentIndex++
	session.LatencyMs = append(session.LatencyMs, elapsedMs)
	session.ServedAt = append(session.ServedAt, s.clock())

	if err := s.sessions.UpdateIf(ctx, session); err != nil {
		return domain.AnswerResult{}, err
	}

	if err := s.seen.MarkSeen(ctx, session.Identity, session.Category, question.ID); err != nil {
		// seen-sets are TTL-backed freshness state, not correctness state
		s.logger.Warn("mark seen", "identity", session.Identity, "err", err)
	}

	return domain.AnswerResult{
		Correct:      correct,
		CorrectIndex: question.CorrectIndex,
		Explanation:  question.Explanation,
		RunningScore: session.Score,
	}, nil
}

// Complete finalizes the session: win/perfect status, season point merge,
// ladder re-encode, optional eligibility grant, durable summary, slot
// release and live-record deletion.
func (s *GameService) Complete(ctx context.Context, sessionID string) (domain.SessionResult, error) {
	session, err := s.sessions.Get(ctx, sessionID)
	if err != nil {
		return domain.SessionResult{}, err
	}
	if session.Status != domain.SessionActive {
		return domain.SessionResult{}, domain.ErrSessionNotFound
	}

	// The flip to completed is the versioned write that picks the single
	// finalizer; a concurrent Complete loses the version check and sees the
	// session as already gone.
	session.Status = domain.SessionCompleted
	if err := s.sessions.UpdateIf(ctx, session); err != nil {
		if errors.Is(err, domain.ErrSessionConflict) {
			return domain.SessionResult{}, domain.ErrSessionNotFound
		}
		return domain.SessionResult{}, err
	}

	now := s.clock()
	perfect := session.Score == domain.QuestionsPerSession
	result := domain.SessionResult{
		SessionID:   session.ID,
		Identity:    session.Identity,
		Category:    session.Category,
		SeasonID:    session.SeasonID,
		Score:       session.Score,
		Won:         session.Score >= s.cfg.WinThreshold,
		Perfect:     perfect,
		PointsDelta: session.Score,
	}
	if perfect {
		result.PointsDelta += s.cfg.PerfectBonus

		window := s.cfg.EligibilityWindow
		if !session.Registered {
			window = s.cfg.EligibilityWindowGuest
		}
		eligibility := &domain.Eligibility{
			ID:        uuid.NewString(),
			Type:      domain.EligibilityCategory,
			Identity:  session.Identity,
			Target:    session.Category,
			Status:    domain.EligibilityActive,
			GrantedAt: now,
			ExpiresAt: now.Add(window),
		}
		if err := s.rights.Create(ctx, eligibility); err != nil {
			return domain.SessionResult{}, err
		}
		result.Eligibility = eligibility
	}

	err = s.mergeStanding(ctx, session.Identity, session.SeasonID, now, func(points *domain.SeasonPoints) {
		points.MergeSession(result, session.LatencyMs, now)
	})
	if err != nil {
		return domain.SessionResult{}, err
	}

	summary := &domain.SessionSummary{
		ID:          session.ID,
		Identity:    session.Identity,
		Category:    session.Category,
		SeasonID:    session.SeasonID,
		Score:       session.Score,
		Won:         result.Won,
		Perfect:     perfect,
		DurationMs:  now.Sub(session.StartedAt).Milliseconds(),
		CompletedAt: now,
	}
	if err := s.history.SaveSummary(ctx, summary); err != nil {
		return domain.SessionResult{}, err
	}

	if err := s.guard.Release(ctx, session.Identity); err != nil {
		return domain.SessionResult{}, err
	}
	if err := s.sessions.Delete(ctx, sessionID); err != nil {
		s.logger.Warn("delete completed session", "session", sessionID, "err", err)
	}
	return result, nil
}

// RecordClaim marks an active eligibility claimed and folds the claim into
// the season standing. The conditional claim makes the claim/expire race a
// first-writer-wins no-op for the loser.
func (s *GameService) RecordClaim(ctx context.Context, identity domain.Identity, eligibilityID string) error {
	eligibility, err := s.rights.Get(ctx, eligibilityID)
	if err != nil {
		return err
	}
	if eligibility.Identity != identity.Key {
		return domain.ErrEligibilityNotFound
	}

	now := s.clock()
	if err := s.rights.Claim(ctx, eligibilityID, now); err != nil {
		return err
	}

	season, err := s.seasons.Active(ctx)
	if err != nil {
		return err
	}
	return s.mergeStanding(ctx, identity.Key, season.ID, now, func(points *domain.SeasonPoints) {
		points.ClaimedCount++
		points.LastActiveAt = now
	})
}

// standingRetries bounds the optimistic merge loop; contention on a single
// identity is rare and short-lived.
const standingRetries = 5

// mergeStanding applies mutate to the identity's season accumulator under the
// version check and re-encodes the ladder from the row that won. A stale
// write reloads and retries, so a completion racing a claim loses neither
// update.
func (s *GameService) mergeStanding(ctx context.Context, identity, seasonID string, now time.Time, mutate func(*domain.SeasonPoints)) error {
	for attempt := 0; ; attempt++ {
		points, err := s.points.Get(ctx, identity, seasonID)
		if err != nil {
			return err
		}
		mutate(points)
		err = s.points.Upsert(ctx, points)
		if errors.Is(err, domain.ErrStandingConflict) && attempt < standingRetries {
			continue
		}
		if err != nil {
			return err
		}
		return s.ladder.Update(ctx, seasonID, identity, points.Standing().Encode(now))
	}
}

// Leaderboard returns the decoded top standings for a season.
func (s *GameService) Leaderboard(ctx context.Context, seasonID string, limit int) ([]domain.LeaderboardRow, error) {
	if seasonID == "" {
		season, err := s.seasons.Active(ctx)
		if err != nil {
			return nil, err
		}
		seasonID = season.ID
	}
	entries, err := s.ladder.Top(ctx, seasonID, limit)
	if err != nil {
		return nil, err
	}
	now := s.clock()
	rows := make([]domain.LeaderboardRow, 0, len(entries))
	for i, entry := range entries {
		standing := domain.DecodeStanding(entry.Score)
		rows = append(rows, domain.LeaderboardRow{
			SeasonID:     seasonID,
			Identity:     entry.Identity,
			Rank:         i + 1,
			Score:        entry.Score,
			Points:       standing.Points,
			ClaimedCount: standing.ClaimedCount,
			PerfectCount: standing.PerfectCount,
			AvgLatencyMs: standing.AvgLatencyMs,
			CapturedAt:   now,
		})
	}
	return rows, nil
}

// IsAdmissionDenied reports whether err is one of the guard denials.
func IsAdmissionDenied(err error) bool {
	return errors.Is(err, domain.ErrDailyLimitReached) ||
		errors.Is(err, domain.ErrCooldownActive) ||
		errors.Is(err, domain.ErrActiveSessionExists)
}
