package redis

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Janitor deletes a day's TTL-backed keys ahead of their natural expiry.
type Janitor struct {
	client *redis.Client
}

func NewJanitor(client *redis.Client) *Janitor {
	return &Janitor{client: client}
}

// PurgeDay scans for the date's rate-limit counters and seen-question sets
// and deletes them. Best effort: the keys expire on their own anyway.
func (j *Janitor) PurgeDay(ctx context.Context, date string) error {
	for _, pattern := range []string{"limit:daily:*:" + date, "seen:*:" + date} {
		iter := j.client.Scan(ctx, 0, pattern, 100).Iterator()
		for iter.Next(ctx) {
			if err := j.client.Del(ctx, iter.Val()).Err(); err != nil {
				return fmt.Errorf("purge %s: %w", iter.Val(), err)
			}
		}
		if err := iter.Err(); err != nil {
			return fmt.Errorf("scan %s: %w", pattern, err)
		}
	}
	return nil
}
