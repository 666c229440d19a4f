package app_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"trivia-forge-service/internal/app"
	"trivia-forge-service/internal/domain"
	"trivia-forge-service/internal/infra/memory"
)

type gameFixture struct {
	service *app.GameService
	guard   *memory.Guard
	rights  *memory.EligibilityRepo
	points  *memory.SeasonPointsRepo
	ladder  *memory.Ladder
	history *memory.HistoryRepo
	now     time.Time

	// one-shot interleave hooks, fired right before the wrapped repo call
	onSaveSummary  func()
	onUpsertPoints func()
}

// hookedHistory and hookedPoints let a test run a rival call at a precise
// point inside an in-flight operation.
type hookedHistory struct{ fx *gameFixture }

func (h *hookedHistory) SaveSummary(ctx context.Context, summary *domain.SessionSummary) error {
	if hook := h.fx.onSaveSummary; hook != nil {
		h.fx.onSaveSummary = nil
		hook()
	}
	return h.fx.history.SaveSummary(ctx, summary)
}

type hookedPoints struct{ fx *gameFixture }

func (h *hookedPoints) Get(ctx context.Context, identity, seasonID string) (*domain.SeasonPoints, error) {
	return h.fx.points.Get(ctx, identity, seasonID)
}

func (h *hookedPoints) Upsert(ctx context.Context, points *domain.SeasonPoints) error {
	if hook := h.fx.onUpsertPoints; hook != nil {
		h.fx.onUpsertPoints = nil
		hook()
	}
	return h.fx.points.Upsert(ctx, points)
}

func newGameFixture(t *testing.T) *gameFixture {
	t.Helper()

	pools := make(map[string][]domain.Question)
	for _, category := range []string{"history", "science"} {
		questions := make([]domain.Question, 0, 120)
		for i := 0; i < 120; i++ {
			questions = append(questions, domain.Question{
				ID:           fmt.Sprintf("%s-q%d", category, i),
				Text:         fmt.Sprintf("%s question %d", category, i),
				Options:      []string{"a", "b", "c", "d"},
				CorrectIndex: i % 4,
				Explanation:  "because",
			})
		}
		pools[category] = questions
	}

	fx := &gameFixture{
		guard:   memory.NewGuard(memory.DefaultGuardLimits()),
		rights:  memory.NewEligibilityRepo(),
		points:  memory.NewSeasonPointsRepo(),
		ladder:  memory.NewLadder(),
		history: memory.NewHistoryRepo(),
		now:     time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC),
	}
	clock := func() time.Time { return fx.now }

	seasons := memory.NewSeasonRepo()
	if err := seasons.Create(context.Background(), &domain.Season{
		ID:       "2025-q2",
		StartsAt: fx.now.AddDate(0, -1, 0),
		EndsAt:   fx.now.AddDate(0, 2, 0),
		Active:   true,
	}); err != nil {
		t.Fatalf("seed season: %v", err)
	}

	selector := app.NewSelector(memory.NewQuestionSource(pools), app.DefaultSelectorConfig())
	fx.service = app.NewGameService(
		fx.guard.WithClock(clock),
		selector,
		memory.NewSessionStore(15*time.Minute).WithClock(clock),
		memory.NewSeenStore().WithClock(clock),
		fx.ladder,
		&hookedHistory{fx: fx},
		fx.rights,
		&hookedPoints{fx: fx},
		seasons,
		app.DefaultGameConfig(),
		nil,
	).WithClock(clock)
	return fx
}

func (fx *gameFixture) advance(d time.Duration) {
	fx.now = fx.now.Add(d)
}

// answerAll answers every question in order; correctCount of them with the
// correct option, the rest deliberately wrong.
func (fx *gameFixture) answerAll(t *testing.T, view domain.SessionView, correctCount int) {
	t.Helper()
	ctx := context.Background()
	for i := range view.Questions {
		option := correctOption(t, fx, view, i)
		if i >= correctCount {
			option = (option + 1) % 4
		}
		if _, err := fx.service.SubmitAnswer(ctx, view.ID, i, option, 1500); err != nil {
			t.Fatalf("answer %d: %v", i, err)
		}
	}
}

// playThrough answers the whole session and finalizes it.
func (fx *gameFixture) playThrough(t *testing.T, view domain.SessionView, correctCount int) domain.SessionResult {
	t.Helper()
	fx.answerAll(t, view, correctCount)
	result, err := fx.service.Complete(context.Background(), view.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	return result
}

// correctOption recovers the correct index from the deterministic fixture
// numbering, since the client view deliberately hides it.
func correctOption(t *testing.T, fx *gameFixture, view domain.SessionView, i int) int {
	t.Helper()
	q := view.Questions[i]
	var n int
	if _, err := fmt.Sscanf(q.ID, view.Category+"-q%d", &n); err != nil {
		t.Fatalf("unexpected question id %q: %v", q.ID, err)
	}
	return n % 4
}

func TestStartServesTenUniqueHiddenQuestions(t *testing.T) {
	fx := newGameFixture(t)
	view, err := fx.service.Start(context.Background(), domain.Identity{Key: "alice", Registered: true}, "history")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	if len(view.Questions) != domain.QuestionsPerSession {
		t.Fatalf("expected %d questions, got %d", domain.QuestionsPerSession, len(view.Questions))
	}
	seen := make(map[string]struct{})
	for _, q := range view.Questions {
		if _, dup := seen[q.ID]; dup {
			t.Fatalf("duplicate question %s in one session", q.ID)
		}
		seen[q.ID] = struct{}{}
		if len(q.Options) != 4 {
			t.Fatalf("expected 4 options, got %d", len(q.Options))
		}
	}
}

func TestStartRejectsSecondConcurrentSession(t *testing.T) {
	fx := newGameFixture(t)
	ctx := context.Background()
	identity := domain.Identity{Key: "alice", Registered: true}

	if _, err := fx.service.Start(ctx, identity, "history"); err != nil {
		t.Fatalf("first start: %v", err)
	}
	if _, err := fx.service.Start(ctx, identity, "science"); !errors.Is(err, domain.ErrActiveSessionExists) {
		t.Fatalf("expected active-session denial, got %v", err)
	}
	if !app.IsAdmissionDenied(domain.ErrActiveSessionExists) {
		t.Fatal("active-session error should classify as admission denial")
	}
}

func TestStartAdmitsSingleConcurrentWinner(t *testing.T) {
	fx := newGameFixture(t)
	ctx := context.Background()
	identity := domain.Identity{Key: "alice", Registered: true}

	const attempts = 8
	errs := make(chan error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := fx.service.Start(ctx, identity, "history")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var admitted, denied int
	for err := range errs {
		switch {
		case err == nil:
			admitted++
		case errors.Is(err, domain.ErrActiveSessionExists):
			denied++
		default:
			t.Fatalf("unexpected start error: %v", err)
		}
	}
	if admitted != 1 || denied != attempts-1 {
		t.Fatalf("expected exactly one admitted start, got %d admitted and %d denied", admitted, denied)
	}
}

func TestStartFailureReleasesSlot(t *testing.T) {
	fx := newGameFixture(t)
	ctx := context.Background()
	identity := domain.Identity{Key: "alice", Registered: true}

	if _, err := fx.service.Start(ctx, identity, "geography"); !errors.Is(err, domain.ErrCategoryNotFound) {
		t.Fatalf("expected unknown category, got %v", err)
	}
	// a failed start must not leave the identity locked or cooled down
	if _, err := fx.service.Start(ctx, identity, "history"); err != nil {
		t.Fatalf("start after failed start: %v", err)
	}
}

func TestSubmitAnswerOutOfOrder(t *testing.T) {
	fx := newGameFixture(t)
	ctx := context.Background()
	view, err := fx.service.Start(ctx, domain.Identity{Key: "alice", Registered: true}, "history")
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	if _, err := fx.service.SubmitAnswer(ctx, view.ID, 3, 0, 1000); !errors.Is(err, domain.ErrInvalidQuestionIndex) {
		t.Fatalf("expected invalid index for skipped question, got %v", err)
	}
	if _, err := fx.service.SubmitAnswer(ctx, view.ID, 0, correctOption(t, fx, view, 0), 1000); err != nil {
		t.Fatalf("in-order answer: %v", err)
	}
	if _, err := fx.service.SubmitAnswer(ctx, view.ID, 0, 0, 1000); !errors.Is(err, domain.ErrInvalidQuestionIndex) {
		t.Fatalf("expected invalid index for repeated question, got %v", err)
	}
}

func TestSubmitAnswerTimeoutLeavesStateUntouched(t *testing.T) {
	fx := newGameFixture(t)
	ctx := context.Background()
	view, err := fx.service.Start(ctx, domain.Identity{Key: "alice", Registered: true}, "history")
	if err != nil {
		t.Fatalf("start: %v", err)
	}

	if _, err := fx.service.SubmitAnswer(ctx, view.ID, 0, correctOption(t, fx, view, 0), 11_000); !errors.Is(err, domain.ErrAnswerTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
	// the timed-out submission must not have consumed the question
	result, err := fx.service.SubmitAnswer(ctx, view.ID, 0, correctOption(t, fx, view, 0), 2000)
	if err != nil {
		t.Fatalf("resubmit after timeout: %v", err)
	}
	if !result.Correct || result.RunningScore != 1 {
		t.Fatalf("expected correct with score 1, got %+v", result)
	}
}

func TestCompleteWonAndLostThresholds(t *testing.T) {
	fx := newGameFixture(t)
	ctx := context.Background()
	identity := domain.Identity{Key: "alice", Registered: true}

	view, err := fx.service.Start(ctx, identity, "history")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	result := fx.playThrough(t, view, 6)
	if !result.Won || result.Perfect {
		t.Fatalf("6/10 should be won and not perfect, got %+v", result)
	}
	if result.PointsDelta != 6 {
		t.Fatalf("expected 6 points without bonus, got %d", result.PointsDelta)
	}

	fx.advance(2 * time.Minute)
	view, err = fx.service.Start(ctx, identity, "history")
	if err != nil {
		t.Fatalf("second start: %v", err)
	}
	result = fx.playThrough(t, view, 5)
	if result.Won {
		t.Fatalf("5/10 should not be won, got %+v", result)
	}

	summaries := fx.history.Summaries()
	if len(summaries) != 2 {
		t.Fatalf("expected 2 summaries, got %d", len(summaries))
	}
}

func TestPerfectSessionGrantsEligibility(t *testing.T) {
	fx := newGameFixture(t)
	ctx := context.Background()

	view, err := fx.service.Start(ctx, domain.Identity{Key: "alice", Registered: true}, "science")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	result := fx.playThrough(t, view, 10)
	if !result.Perfect {
		t.Fatalf("10/10 should be perfect, got %+v", result)
	}
	if result.PointsDelta != 20 {
		t.Fatalf("expected 10 points plus 10 bonus, got %d", result.PointsDelta)
	}
	if result.Eligibility == nil {
		t.Fatal("perfect session must grant an eligibility")
	}
	if result.Eligibility.Target != "science" || result.Eligibility.Status != domain.EligibilityActive {
		t.Fatalf("unexpected eligibility %+v", result.Eligibility)
	}
	if got := result.Eligibility.ExpiresAt.Sub(result.Eligibility.GrantedAt); got != 30*time.Minute {
		t.Fatalf("registered window should be 30m, got %v", got)
	}
}

func TestGuestEligibilityWindowIsShorter(t *testing.T) {
	fx := newGameFixture(t)
	view, err := fx.service.Start(context.Background(), domain.Identity{Key: "guest-1", Registered: false}, "science")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	result := fx.playThrough(t, view, 10)
	if got := result.Eligibility.ExpiresAt.Sub(result.Eligibility.GrantedAt); got != 25*time.Minute {
		t.Fatalf("guest window should be 25m, got %v", got)
	}
}

func TestCompleteFinalizesExactlyOnce(t *testing.T) {
	fx := newGameFixture(t)
	ctx := context.Background()
	identity := domain.Identity{Key: "alice", Registered: true}

	view, err := fx.service.Start(ctx, identity, "science")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	fx.answerAll(t, view, 10)

	// a rival Complete lands mid-finalization, after the winner's side
	// effects began but before the summary write
	var rivalErr error
	fx.onSaveSummary = func() {
		_, rivalErr = fx.service.Complete(ctx, view.ID)
	}

	result, err := fx.service.Complete(ctx, view.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if !result.Perfect || result.Eligibility == nil {
		t.Fatalf("expected perfect result with eligibility, got %+v", result)
	}
	if !errors.Is(rivalErr, domain.ErrSessionNotFound) {
		t.Fatalf("rival completion must lose with session-not-found, got %v", rivalErr)
	}

	points, err := fx.points.Get(ctx, "alice", "2025-q2")
	if err != nil {
		t.Fatalf("points: %v", err)
	}
	if points.Points != 20 || points.SessionsUsed != 1 {
		t.Fatalf("expected a single merge (20 points, 1 session), got %+v", points)
	}
	if got := len(fx.history.Summaries()); got != 1 {
		t.Fatalf("expected exactly 1 summary, got %d", got)
	}
}

func TestStandingMergeSurvivesConcurrentWrite(t *testing.T) {
	fx := newGameFixture(t)
	ctx := context.Background()
	identity := domain.Identity{Key: "alice", Registered: true}

	view, err := fx.service.Start(ctx, identity, "science")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	fx.answerAll(t, view, 10)

	// a claim-style increment sneaks in between the completion's read and
	// its write; the stale write must retry, not overwrite
	fx.onUpsertPoints = func() {
		points, err := fx.points.Get(ctx, "alice", "2025-q2")
		if err != nil {
			t.Fatalf("rival get: %v", err)
		}
		points.ClaimedCount++
		points.LastActiveAt = fx.now
		if err := fx.points.Upsert(ctx, points); err != nil {
			t.Fatalf("rival upsert: %v", err)
		}
	}

	if _, err := fx.service.Complete(ctx, view.ID); err != nil {
		t.Fatalf("complete: %v", err)
	}

	points, err := fx.points.Get(ctx, "alice", "2025-q2")
	if err != nil {
		t.Fatalf("points: %v", err)
	}
	if points.Points != 20 || points.SessionsUsed != 1 || points.ClaimedCount != 1 {
		t.Fatalf("one of the racing updates was lost: %+v", points)
	}
}

func TestDailyLimitBlocksEleventhSession(t *testing.T) {
	fx := newGameFixture(t)
	ctx := context.Background()
	identity := domain.Identity{Key: "alice", Registered: true}

	for i := 0; i < 10; i++ {
		view, err := fx.service.Start(ctx, identity, "history")
		if err != nil {
			t.Fatalf("start %d: %v", i+1, err)
		}
		fx.playThrough(t, view, 5)
		fx.advance(2 * time.Minute)
	}

	if _, err := fx.service.Start(ctx, identity, "history"); !errors.Is(err, domain.ErrDailyLimitReached) {
		t.Fatalf("expected daily limit on 11th start, got %v", err)
	}

	// the counter is per-day, next day plays again
	fx.advance(24 * time.Hour)
	if _, err := fx.service.Start(ctx, identity, "history"); err != nil {
		t.Fatalf("start next day: %v", err)
	}
}

func TestCooldownBetweenSessions(t *testing.T) {
	fx := newGameFixture(t)
	ctx := context.Background()
	identity := domain.Identity{Key: "alice", Registered: true}

	view, err := fx.service.Start(ctx, identity, "history")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	fx.playThrough(t, view, 5)

	if _, err := fx.service.Start(ctx, identity, "history"); !errors.Is(err, domain.ErrCooldownActive) {
		t.Fatalf("expected cooldown right after completion, got %v", err)
	}
	fx.advance(61 * time.Second)
	if _, err := fx.service.Start(ctx, identity, "history"); err != nil {
		t.Fatalf("start after cooldown: %v", err)
	}
}

func TestClaimFoldsIntoStanding(t *testing.T) {
	fx := newGameFixture(t)
	ctx := context.Background()
	identity := domain.Identity{Key: "alice", Registered: true}

	view, err := fx.service.Start(ctx, identity, "science")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	result := fx.playThrough(t, view, 10)

	if err := fx.service.RecordClaim(ctx, identity, result.Eligibility.ID); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := fx.service.RecordClaim(ctx, identity, result.Eligibility.ID); !errors.Is(err, domain.ErrEligibilityNotActive) {
		t.Fatalf("second claim should fail, got %v", err)
	}

	rows, err := fx.service.Leaderboard(ctx, "", 10)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(rows) != 1 || rows[0].ClaimedCount != 1 || rows[0].Points != 20 {
		t.Fatalf("unexpected standing %+v", rows)
	}
}

func TestClaimRejectsForeignEligibility(t *testing.T) {
	fx := newGameFixture(t)
	ctx := context.Background()

	view, err := fx.service.Start(ctx, domain.Identity{Key: "alice", Registered: true}, "science")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	result := fx.playThrough(t, view, 10)

	err = fx.service.RecordClaim(ctx, domain.Identity{Key: "mallory", Registered: true}, result.Eligibility.ID)
	if !errors.Is(err, domain.ErrEligibilityNotFound) {
		t.Fatalf("expected not-found for foreign claim, got %v", err)
	}
}

func TestLeaderboardOrdersByCompositeStanding(t *testing.T) {
	fx := newGameFixture(t)
	ctx := context.Background()

	for _, tc := range []struct {
		identity string
		correct  int
	}{
		{"alice", 10},
		{"bob", 8},
		{"carol", 9},
	} {
		view, err := fx.service.Start(ctx, domain.Identity{Key: tc.identity, Registered: true}, "history")
		if err != nil {
			t.Fatalf("start %s: %v", tc.identity, err)
		}
		fx.playThrough(t, view, tc.correct)
	}

	rows, err := fx.service.Leaderboard(ctx, "2025-q2", 3)
	if err != nil {
		t.Fatalf("leaderboard: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	// alice has the perfect bonus (20 points) ahead of carol (9) and bob (8)
	if rows[0].Identity != "alice" || rows[1].Identity != "carol" || rows[2].Identity != "bob" {
		t.Fatalf("unexpected order: %s, %s, %s", rows[0].Identity, rows[1].Identity, rows[2].Identity)
	}
	if rows[0].Rank != 1 || rows[2].Rank != 3 {
		t.Fatalf("ranks not dense: %+v", rows)
	}
}

func TestSessionsDoNotRepeatSeenQuestionsSameDay(t *testing.T) {
	fx := newGameFixture(t)
	ctx := context.Background()
	identity := domain.Identity{Key: "alice", Registered: true}

	view, err := fx.service.Start(ctx, identity, "history")
	if err != nil {
		t.Fatalf("start: %v", err)
	}
	first := make(map[string]struct{})
	for _, q := range view.Questions {
		first[q.ID] = struct{}{}
	}
	fx.playThrough(t, view, 5)
	fx.advance(2 * time.Minute)

	view, err = fx.service.Start(ctx, identity, "history")
	if err != nil {
		t.Fatalf("second start: %v", err)
	}
	for _, q := range view.Questions {
		if _, repeated := first[q.ID]; repeated {
			t.Fatalf("question %s repeated within the same day", q.ID)
		}
	}
}
