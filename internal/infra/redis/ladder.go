package redis

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"

	"trivia-forge-service/internal/app"
)

// Ladder is the season-scoped sorted ranking structure, one sorted set per
// season with the composite score as the member score. The ZSET score is a
// float64 projection that loses the low bands above 2^53, so the exact int64
// is kept in a companion hash and read back for decoding. Updates are plain
// overwrites; no cross-identity coordination is needed.
type Ladder struct {
	client *redis.Client
}

func NewLadder(client *redis.Client) *Ladder {
	return &Ladder{client: client}
}

func (l *Ladder) Update(ctx context.Context, seasonID, identity string, score int64) error {
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZAdd(ctx, l.key(seasonID), redis.Z{Score: float64(score), Member: identity})
		pipe.HSet(ctx, l.scoresKey(seasonID), identity, score)
		return nil
	})
	if err != nil {
		return fmt.Errorf("ladder update: %w", err)
	}
	return nil
}

func (l *Ladder) Top(ctx context.Context, seasonID string, limit int) ([]app.LadderEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	return l.rangeDesc(ctx, seasonID, int64(limit-1))
}

// Entries returns the full ladder, best first. The scan is eventually
// consistent: entries changing mid-read are fine for snapshot purposes.
func (l *Ladder) Entries(ctx context.Context, seasonID string) ([]app.LadderEntry, error) {
	return l.rangeDesc(ctx, seasonID, -1)
}

func (l *Ladder) rangeDesc(ctx context.Context, seasonID string, stop int64) ([]app.LadderEntry, error) {
	members, err := l.client.ZRevRangeWithScores(ctx, l.key(seasonID), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("ladder range: %w", err)
	}
	if len(members) == 0 {
		return nil, nil
	}

	identities := make([]string, 0, len(members))
	for _, member := range members {
		identity, _ := member.Member.(string)
		identities = append(identities, identity)
	}
	exact, err := l.client.HMGet(ctx, l.scoresKey(seasonID), identities...).Result()
	if err != nil {
		return nil, fmt.Errorf("ladder scores: %w", err)
	}

	entries := make([]app.LadderEntry, 0, len(members))
	for i, member := range members {
		// the rounded ZSET score covers a missing hash field
		score := int64(member.Score)
		if raw, ok := exact[i].(string); ok {
			if parsed, perr := strconv.ParseInt(raw, 10, 64); perr == nil {
				score = parsed
			}
		}
		entries = append(entries, app.LadderEntry{
			Identity: identities[i],
			Score:    score,
		})
	}
	return entries, nil
}

func (l *Ladder) key(seasonID string) string {
	return "ladder:global:" + seasonID
}

func (l *Ladder) scoresKey(seasonID string) string {
	return "ladder:scores:" + seasonID
}
