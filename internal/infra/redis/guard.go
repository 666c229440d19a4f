package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"trivia-forge-service/internal/domain"
)

// GuardLimits holds the admission tunables.
type GuardLimits struct {
	Daily      int           // sessions/day for registered identities
	DailyGuest int           // sessions/day for anonymous identities
	Cooldown   time.Duration // after completion
	LockTTL    time.Duration // maximum session lifetime
}

func DefaultGuardLimits() GuardLimits {
	return GuardLimits{
		Daily:      10,
		DailyGuest: 5,
		Cooldown:   60 * time.Second,
		LockTTL:    15 * time.Minute,
	}
}

// Guard is the Redis-backed rate/concurrency guard. The session lock is a
// SET-if-absent with TTL, so a crashed client can never block its identity
// past the maximum session lifetime.
type Guard struct {
	client *redis.Client
	limits GuardLimits
	clock  func() time.Time
}

func NewGuard(client *redis.Client, limits GuardLimits) *Guard {
	return &Guard{client: client, limits: limits, clock: time.Now}
}

// WithClock is test-only for deterministic daily boundaries.
func (g *Guard) WithClock(clock func() time.Time) *Guard {
	g.clock = clock
	return g
}

// Acquire admits one session slot. Denials, in check order: daily limit,
// cooldown, lock already held.
func (g *Guard) Acquire(ctx context.Context, identity string, registered bool) error {
	used, err := g.client.Get(ctx, g.dailyKey(identity)).Int()
	if err != nil && err != redis.Nil {
		return fmt.Errorf("daily counter: %w", err)
	}
	limit := g.limits.Daily
	if !registered {
		limit = g.limits.DailyGuest
	}
	if used >= limit {
		return domain.ErrDailyLimitReached
	}

	onCooldown, err := g.client.Exists(ctx, g.cooldownKey(identity)).Result()
	if err != nil {
		return fmt.Errorf("cooldown marker: %w", err)
	}
	if onCooldown > 0 {
		return domain.ErrCooldownActive
	}

	ok, err := g.client.SetNX(ctx, g.lockKey(identity), "1", g.limits.LockTTL).Result()
	if err != nil {
		return fmt.Errorf("session lock: %w", err)
	}
	if !ok {
		return domain.ErrActiveSessionExists
	}
	return nil
}

// Release drops the lock and, in the same transaction, arms the cooldown and
// counts the session against today's limit. No new session can slip in
// between lock release and cooldown visibility.
func (g *Guard) Release(ctx context.Context, identity string) error {
	pipe := g.client.TxPipeline()
	pipe.Del(ctx, g.lockKey(identity))
	pipe.Set(ctx, g.cooldownKey(identity), "1", g.limits.Cooldown)
	pipe.Incr(ctx, g.dailyKey(identity))
	pipe.Expire(ctx, g.dailyKey(identity), 24*time.Hour)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("release slot: %w", err)
	}
	return nil
}

// Abort drops the lock without arming the cooldown or counting the session.
// Used when a start fails after admission, so the attempt costs nothing.
func (g *Guard) Abort(ctx context.Context, identity string) error {
	if err := g.client.Del(ctx, g.lockKey(identity)).Err(); err != nil {
		return fmt.Errorf("abort slot: %w", err)
	}
	return nil
}

func (g *Guard) lockKey(identity string) string {
	return "lock:session:" + identity
}

func (g *Guard) cooldownKey(identity string) string {
	return "cooldown:" + identity
}

func (g *Guard) dailyKey(identity string) string {
	return "limit:daily:" + identity + ":" + g.clock().UTC().Format("2006-01-02")
}
