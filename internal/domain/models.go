package domain

import (
	"time"

	"github.com/uptrace/bun"
)

// Identity is a stable player key plus its registration class. Anonymous
// guests get tighter daily limits and shorter eligibility windows.
type Identity struct {
	Key        string `json:"key"`
	Registered bool   `json:"registered"`
}

// Question is the authoritative form of a served question. The correct index
// and explanation never leave the server before the answer is submitted.
type Question struct {
	ID           string   `json:"id"`
	Text         string   `json:"text"`
	Options      []string `json:"options"` // always 4
	CorrectIndex int      `json:"correctIndex"`
	Explanation  string   `json:"explanation"`
}

// QuestionView is the client-visible projection of a Question.
type QuestionView struct {
	ID      string   `json:"id"`
	Text    string   `json:"text"`
	Options []string `json:"options"`
}

type SessionStatus string

const (
	SessionActive    SessionStatus = "active"
	SessionCompleted SessionStatus = "completed"
)

// QuestionsPerSession is the fixed length of every served question list.
const QuestionsPerSession = 10

// Session is one active play attempt. It lives in the session store under a
// TTL and is mutated only through versioned conditional writes.
type Session struct {
	ID           string        `json:"id"`
	Identity     string        `json:"identity"`
	Registered   bool          `json:"registered"`
	Category     string        `json:"category"`
	SeasonID     string        `json:"seasonId"`
	Questions    []Question    `json:"questions"`
	CurrentIndex int           `json:"currentIndex"`
	Score        int           `json:"score"`
	StartedAt    time.Time     `json:"startedAt"`
	ServedAt     []time.Time   `json:"servedAt"`   // per-question serve timestamps
	LatencyMs    []int64       `json:"latencyMs"`  // per answered question
	Status       SessionStatus `json:"status"`
	Version      int64         `json:"version"`
}

// View strips answers and explanations for the client.
func (s *Session) View() SessionView {
	questions := make([]QuestionView, 0, len(s.Questions))
	for _, q := range s.Questions {
		questions = append(questions, QuestionView{ID: q.ID, Text: q.Text, Options: q.Options})
	}
	return SessionView{
		ID:           s.ID,
		Category:     s.Category,
		Questions:    questions,
		CurrentIndex: s.CurrentIndex,
		Score:        s.Score,
	}
}

type SessionView struct {
	ID           string         `json:"id"`
	Category     string         `json:"category"`
	Questions    []QuestionView `json:"questions"`
	CurrentIndex int            `json:"currentIndex"`
	Score        int            `json:"score"`
}

// AnswerResult is returned after each accepted submission.
type AnswerResult struct {
	Correct      bool   `json:"correct"`
	CorrectIndex int    `json:"correctIndex"`
	Explanation  string `json:"explanation"`
	RunningScore int    `json:"runningScore"`
}

// SessionResult summarizes a finalized session.
type SessionResult struct {
	SessionID   string       `json:"sessionId"`
	Identity    string       `json:"identity"`
	Category    string       `json:"category"`
	SeasonID    string       `json:"seasonId"`
	Score       int          `json:"score"`
	Won         bool         `json:"won"`
	Perfect     bool         `json:"perfect"`
	PointsDelta int          `json:"pointsDelta"`
	Eligibility *Eligibility `json:"eligibility,omitempty"`
}

type EligibilityType string

const (
	EligibilityCategory EligibilityType = "category"
	EligibilityMaster   EligibilityType = "master"
	EligibilitySeason   EligibilityType = "season"
)

type EligibilityStatus string

const (
	EligibilityActive  EligibilityStatus = "active"
	EligibilityClaimed EligibilityStatus = "claimed"
	EligibilityExpired EligibilityStatus = "expired"
)

// Eligibility is a time-boxed right to claim a collectible. No stock is
// reserved at grant time; the record is pure permission.
type Eligibility struct {
	bun.BaseModel `bun:"table:eligibilities"`

	ID        string            `bun:"id,pk" json:"id"`
	Type      EligibilityType   `bun:"type" json:"type"`
	Identity  string            `bun:"identity" json:"identity"`
	Target    string            `bun:"target" json:"target"` // category or season reference
	Status    EligibilityStatus `bun:"status" json:"status"`
	GrantedAt time.Time         `bun:"granted_at" json:"grantedAt"`
	ExpiresAt time.Time         `bun:"expires_at" json:"expiresAt"`
}

// SeasonPoints is the per-identity, per-season accumulator behind the ladder.
// Writers go through a version check, so concurrent merges retry instead of
// overwriting each other.
type SeasonPoints struct {
	bun.BaseModel `bun:"table:season_points"`

	Identity      string    `bun:"identity,pk" json:"identity"`
	SeasonID      string    `bun:"season_id,pk" json:"seasonId"`
	Points        int       `bun:"points" json:"points"`
	ClaimedCount  int       `bun:"claimed_count" json:"claimedCount"`
	PerfectCount  int       `bun:"perfect_count" json:"perfectCount"`
	AvgLatencyMs  int64     `bun:"avg_latency_ms" json:"avgLatencyMs"`
	AnsweredCount int       `bun:"answered_count" json:"answeredCount"` // divisor for the running mean
	SessionsUsed  int       `bun:"sessions_used" json:"sessionsUsed"`
	LastActiveAt  time.Time `bun:"last_active_at" json:"lastActiveAt"`
	Version       int64     `bun:"version" json:"version"`
}

// SessionSummary is the durable row persisted when a live session completes.
type SessionSummary struct {
	bun.BaseModel `bun:"table:session_summaries"`

	ID          string    `bun:"id,pk" json:"id"`
	Identity    string    `bun:"identity" json:"identity"`
	Category    string    `bun:"category" json:"category"`
	SeasonID    string    `bun:"season_id" json:"seasonId"`
	Score       int       `bun:"score" json:"score"`
	Won         bool      `bun:"won" json:"won"`
	Perfect     bool      `bun:"perfect" json:"perfect"`
	DurationMs  int64     `bun:"duration_ms" json:"durationMs"`
	CompletedAt time.Time `bun:"completed_at" json:"completedAt"`
}

// LeaderboardRow is one decoded entry of the daily ranking snapshot.
type LeaderboardRow struct {
	bun.BaseModel `bun:"table:leaderboard_snapshots"`

	SeasonID     string    `bun:"season_id,pk" json:"seasonId"`
	Date         string    `bun:"date,pk" json:"date"` // YYYY-MM-DD
	Identity     string    `bun:"identity,pk" json:"identity"`
	Rank         int       `bun:"rank" json:"rank"`
	Score        int64     `bun:"score" json:"score"`
	Points       int       `bun:"points" json:"points"`
	ClaimedCount int       `bun:"claimed_count" json:"claimedCount"`
	PerfectCount int       `bun:"perfect_count" json:"perfectCount"`
	AvgLatencyMs int64     `bun:"avg_latency_ms" json:"avgLatencyMs"`
	CapturedAt   time.Time `bun:"captured_at" json:"capturedAt"`
}

// Season is a fixed-length ranking epoch.
type Season struct {
	bun.BaseModel `bun:"table:seasons"`

	ID       string    `bun:"id,pk" json:"id"`
	Name     string    `bun:"name" json:"name"`
	StartsAt time.Time `bun:"starts_at" json:"startsAt"`
	EndsAt   time.Time `bun:"ends_at" json:"endsAt"`
	Active   bool      `bun:"active" json:"active"`
}

type ForgeType string

const (
	ForgeCategory ForgeType = "category"
	ForgeMaster   ForgeType = "master"
	ForgeSeason   ForgeType = "season"
)

type ForgeStatus string

const (
	ForgePending    ForgeStatus = "pending"
	ForgeProcessing ForgeStatus = "processing"
	ForgeConfirmed  ForgeStatus = "confirmed"
	ForgeFailed     ForgeStatus = "failed"
)

// ForgeRequest is the tagged union over the three forge types. Category is
// meaningful only for category forges, SeasonID only for season forges.
type ForgeRequest struct {
	Type     ForgeType `json:"type"`
	Identity string    `json:"identity"`
	Category string    `json:"category,omitempty"`
	SeasonID string    `json:"seasonId,omitempty"`
	Inputs   []string  `json:"inputs"` // collectible fingerprints, ordered
}

// ForgeOperation tracks a combination request through the external ledger
// write. Inputs are validated strictly before creation and never re-checked.
type ForgeOperation struct {
	bun.BaseModel `bun:"table:forge_operations"`

	ID        string      `bun:"id,pk" json:"id"`
	Type      ForgeType   `bun:"type" json:"type"`
	Identity  string      `bun:"identity" json:"identity"`
	Inputs    []string    `bun:"inputs,array" json:"inputs"`
	Output    string      `bun:"output" json:"output,omitempty"`
	Status    ForgeStatus `bun:"status" json:"status"`
	CreatedAt time.Time   `bun:"created_at" json:"createdAt"`
	UpdatedAt time.Time   `bun:"updated_at" json:"updatedAt"`
}

type CollectibleState string

const (
	CollectiblePending   CollectibleState = "pending"
	CollectibleConfirmed CollectibleState = "confirmed"
)

// TierUltimate marks top-tier collectibles eligible for master forges.
const TierUltimate = "ultimate"

// Collectible is the inventory read model consumed by forge admission.
type Collectible struct {
	bun.BaseModel `bun:"table:collectibles"`

	Fingerprint string           `bun:"fingerprint,pk" json:"fingerprint"`
	Owner       string           `bun:"owner" json:"owner"`
	Category    string           `bun:"category" json:"category"`
	Tier        string           `bun:"tier" json:"tier"`
	SeasonID    string           `bun:"season_id" json:"seasonId"`
	State       CollectibleState `bun:"state" json:"state"`
	ConsumedBy  string           `bun:"consumed_by" json:"consumedBy,omitempty"` // forge operation id
}
