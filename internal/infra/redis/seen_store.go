package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// SeenStore records which question ids an identity saw in a category today.
// Keys roll daily and expire on their own after 24h.
type SeenStore struct {
	client *redis.Client
	clock  func() time.Time
}

func NewSeenStore(client *redis.Client) *SeenStore {
	return &SeenStore{client: client, clock: time.Now}
}

// WithClock is test-only.
func (s *SeenStore) WithClock(clock func() time.Time) *SeenStore {
	s.clock = clock
	return s
}

func (s *SeenStore) Seen(ctx context.Context, identity, category string) ([]string, error) {
	ids, err := s.client.SMembers(ctx, s.key(identity, category)).Result()
	if err != nil {
		return nil, fmt.Errorf("seen set: %w", err)
	}
	return ids, nil
}

func (s *SeenStore) MarkSeen(ctx context.Context, identity, category string, questionIDs ...string) error {
	if len(questionIDs) == 0 {
		return nil
	}
	key := s.key(identity, category)
	members := make([]interface{}, 0, len(questionIDs))
	for _, id := range questionIDs {
		members = append(members, id)
	}
	pipe := s.client.TxPipeline()
	pipe.SAdd(ctx, key, members...)
	pipe.Expire(ctx, key, 24*time.Hour)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("mark seen: %w", err)
	}
	return nil
}

func (s *SeenStore) key(identity, category string) string {
	return "seen:" + identity + ":" + category + ":" + s.clock().UTC().Format("2006-01-02")
}
