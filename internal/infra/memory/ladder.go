package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"trivia-forge-service/internal/app"
)

// Ladder is the in-memory season-scoped ranking structure.
type Ladder struct {
	mu      sync.RWMutex
	seasons map[string]map[string]int64 // seasonID -> identity -> score
}

func NewLadder() *Ladder {
	return &Ladder{seasons: make(map[string]map[string]int64)}
}

func (l *Ladder) Update(_ context.Context, seasonID, identity string, score int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	season, ok := l.seasons[seasonID]
	if !ok {
		season = make(map[string]int64)
		l.seasons[seasonID] = season
	}
	season[identity] = score
	return nil
}

func (l *Ladder) Top(ctx context.Context, seasonID string, limit int) ([]app.LadderEntry, error) {
	entries, err := l.Entries(ctx, seasonID)
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func (l *Ladder) Entries(_ context.Context, seasonID string) ([]app.LadderEntry, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	season := l.seasons[seasonID]
	entries := make([]app.LadderEntry, 0, len(season))
	for identity, score := range season {
		entries = append(entries, app.LadderEntry{Identity: identity, Score: score})
	}
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		return entries[i].Identity < entries[j].Identity
	})
	return entries, nil
}

// SeenStore is the in-memory daily seen-question set.
type SeenStore struct {
	clock func() time.Time

	mu   sync.Mutex
	seen map[string]map[string]struct{} // identity:category:date -> question ids
}

func NewSeenStore() *SeenStore {
	return &SeenStore{clock: time.Now, seen: make(map[string]map[string]struct{})}
}

// WithClock is test-only.
func (s *SeenStore) WithClock(clock func() time.Time) *SeenStore {
	s.clock = clock
	return s
}

func (s *SeenStore) Seen(_ context.Context, identity, category string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.seen[s.key(identity, category)]))
	for id := range s.seen[s.key(identity, category)] {
		ids = append(ids, id)
	}
	return ids, nil
}

func (s *SeenStore) MarkSeen(_ context.Context, identity, category string, questionIDs ...string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := s.key(identity, category)
	set, ok := s.seen[key]
	if !ok {
		set = make(map[string]struct{})
		s.seen[key] = set
	}
	for _, id := range questionIDs {
		set[id] = struct{}{}
	}
	return nil
}

func (s *SeenStore) key(identity, category string) string {
	return identity + ":" + category + ":" + s.clock().UTC().Format("2006-01-02")
}
