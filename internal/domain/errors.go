package domain

import (
	"errors"
	"fmt"
)

// Admission errors: the request is declined, never retried automatically.
var (
	// ErrDailyLimitReached means the identity spent its sessions for the day.
	ErrDailyLimitReached = errors.New("daily session limit reached")
	// ErrCooldownActive means the previous session completed too recently.
	ErrCooldownActive = errors.New("session cooldown active")
	// ErrActiveSessionExists means the identity already holds the session lock.
	ErrActiveSessionExists = errors.New("an active session already exists")
)

// Validation and not-found errors on the play path.
var (
	// ErrSessionNotFound covers absent, expired and concurrently-replaced sessions.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionConflict is returned when a conditional session write lost the race.
	ErrSessionConflict = errors.New("session was modified concurrently")
	// ErrInvalidQuestionIndex means the answer did not target the current question.
	ErrInvalidQuestionIndex = errors.New("invalid question index")
	// ErrAnswerTimeout means the per-question budget was exceeded.
	ErrAnswerTimeout = errors.New("answer submitted after the time budget")
	// ErrInsufficientQuestions means the category cannot field a playable set.
	ErrInsufficientQuestions = errors.New("insufficient questions in category")
	// ErrCategoryNotFound indicates an unknown category.
	ErrCategoryNotFound = errors.New("category not found")
)

var (
	// ErrOperationNotFound indicates an unknown forge operation id.
	ErrOperationNotFound = errors.New("forge operation not found")
	// ErrInvalidTransition means the requested forge status change is not
	// reachable from the operation's current status.
	ErrInvalidTransition = errors.New("invalid forge status transition")
	// ErrStandingConflict means a conditional season-points write lost the race.
	ErrStandingConflict = errors.New("season standing was modified concurrently")
	// ErrSeasonNotFound indicates no active season.
	ErrSeasonNotFound = errors.New("season not found")
	// ErrEligibilityNotFound indicates an unknown eligibility id.
	ErrEligibilityNotFound = errors.New("eligibility not found")
	// ErrEligibilityNotActive means a claim raced an expiry (or re-claim) and lost.
	ErrEligibilityNotActive = errors.New("eligibility is not active")
)

// RuleError is a forge admission failure naming the unmet rule. It is never
// retried with the same inputs.
type RuleError struct {
	Rule   string
	Detail string
}

func (e *RuleError) Error() string {
	if e.Detail == "" {
		return "forge rule violated: " + e.Rule
	}
	return fmt.Sprintf("forge rule violated: %s: %s", e.Rule, e.Detail)
}

// IsRuleError reports whether err is a forge admission failure.
func IsRuleError(err error) bool {
	var re *RuleError
	return errors.As(err, &re)
}
