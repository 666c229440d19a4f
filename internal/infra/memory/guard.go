package memory

import (
	"context"
	"sync"
	"time"

	"trivia-forge-service/internal/domain"
)

// GuardLimits mirrors the redis guard tunables.
type GuardLimits struct {
	Daily      int
	DailyGuest int
	Cooldown   time.Duration
	LockTTL    time.Duration
}

func DefaultGuardLimits() GuardLimits {
	return GuardLimits{Daily: 10, DailyGuest: 5, Cooldown: 60 * time.Second, LockTTL: 15 * time.Minute}
}

// Guard is the in-memory slot guard used by unit tests and store-less runs.
type Guard struct {
	limits GuardLimits
	clock  func() time.Time

	mu        sync.Mutex
	locks     map[string]time.Time // identity -> lock expiry
	cooldowns map[string]time.Time // identity -> cooldown expiry
	daily     map[string]int       // identity+date -> sessions used
}

func NewGuard(limits GuardLimits) *Guard {
	return &Guard{
		limits:    limits,
		clock:     time.Now,
		locks:     make(map[string]time.Time),
		cooldowns: make(map[string]time.Time),
		daily:     make(map[string]int),
	}
}

// WithClock is test-only.
func (g *Guard) WithClock(clock func() time.Time) *Guard {
	g.clock = clock
	return g
}

func (g *Guard) Acquire(_ context.Context, identity string, registered bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.clock()

	limit := g.limits.Daily
	if !registered {
		limit = g.limits.DailyGuest
	}
	if g.daily[g.dailyKey(identity, now)] >= limit {
		return domain.ErrDailyLimitReached
	}
	if until, ok := g.cooldowns[identity]; ok && until.After(now) {
		return domain.ErrCooldownActive
	}
	if until, ok := g.locks[identity]; ok && until.After(now) {
		return domain.ErrActiveSessionExists
	}
	g.locks[identity] = now.Add(g.limits.LockTTL)
	return nil
}

func (g *Guard) Release(_ context.Context, identity string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.clock()
	delete(g.locks, identity)
	g.cooldowns[identity] = now.Add(g.limits.Cooldown)
	g.daily[g.dailyKey(identity, now)]++
	return nil
}

// Abort drops the lock without cooldown or daily accounting.
func (g *Guard) Abort(_ context.Context, identity string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.locks, identity)
	return nil
}

func (g *Guard) dailyKey(identity string, now time.Time) string {
	return identity + ":" + now.UTC().Format("2006-01-02")
}
