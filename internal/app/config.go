package app

import "time"

// GameConfig carries the play-path tunables. Every window here is a
// configuration input resolved at wiring time, not a constant baked into the
// algorithms.
type GameConfig struct {
	SessionTTL             time.Duration
	AnswerBudget           time.Duration
	WinThreshold           int
	PerfectBonus           int
	EligibilityWindow      time.Duration // registered identities
	EligibilityWindowGuest time.Duration // anonymous identities
}

// DefaultGameConfig returns the production defaults.
func DefaultGameConfig() GameConfig {
	return GameConfig{
		SessionTTL:             15 * time.Minute,
		AnswerBudget:           10 * time.Second,
		WinThreshold:           6,
		PerfectBonus:           10,
		EligibilityWindow:      30 * time.Minute,
		EligibilityWindowGuest: 25 * time.Minute,
	}
}

// SelectorConfig tunes the question pool policy.
type SelectorConfig struct {
	// ReuseRatio is the fraction of a request drawn from previously-served
	// questions when the pool is large enough for the split.
	ReuseRatio float64
	// SplitThreshold is the minimum pool size for the reuse/fresh split.
	SplitThreshold int
	// MinPlayable is the smallest selection considered a playable set.
	MinPlayable int
	// CacheTTL bounds how long a category pool is served from cache.
	CacheTTL time.Duration
}

func DefaultSelectorConfig() SelectorConfig {
	return SelectorConfig{
		ReuseRatio:     0.5,
		SplitThreshold: 30,
		MinPlayable:    10,
		CacheTTL:       10 * time.Minute,
	}
}
