package app

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"trivia-forge-service/internal/domain"
)

// PoolQuestion pairs a question with how often it has been served, which is
// what the reuse/fresh split keys off.
type PoolQuestion struct {
	domain.Question
	ServedCount int64
}

// QuestionSource loads category pools from the backing store and records
// serves so freshness decays over time.
type QuestionSource interface {
	LoadPool(ctx context.Context, category string) ([]PoolQuestion, error)
	MarkServed(ctx context.Context, questionIDs []string) error
}

// Selector chooses non-repeating question sets for a category. Pools are
// cached with TTL and jitter behind singleflight so concurrent session starts
// in the same category hit the store once.
type Selector struct {
	source QuestionSource
	cfg    SelectorConfig
	clock  func() time.Time
	sf     singleflight.Group
	rnd    *rand.Rand

	mu    sync.RWMutex
	cache map[string]cachedPool
}

type cachedPool struct {
	pool      []PoolQuestion
	expiresAt time.Time
}

func NewSelector(source QuestionSource, cfg SelectorConfig) *Selector {
	return &Selector{
		source: source,
		cfg:    cfg,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[string]cachedPool),
	}
}

// Select returns up to count questions from the category none of which appear
// in exclude. When fewer than the minimum playable count are available the
// partial result is returned together with ErrInsufficientQuestions; the
// caller decides whether to abort.
func (s *Selector) Select(ctx context.Context, category string, count int, exclude []string) ([]domain.Question, error) {
	pool, err := s.pool(ctx, category)
	if err != nil {
		return nil, err
	}

	excluded := make(map[string]struct{}, len(exclude))
	for _, id := range exclude {
		excluded[id] = struct{}{}
	}

	var reused, fresh []PoolQuestion
	for _, q := range pool {
		if _, ok := excluded[q.ID]; ok {
			continue
		}
		if q.ServedCount > 0 {
			reused = append(reused, q)
		} else {
			fresh = append(fresh, q)
		}
	}

	var picked []PoolQuestion
	if len(pool) >= s.cfg.SplitThreshold {
		// Blend previously-served and never-served items by the configured
		// ratio; shortfall on either side is filled from the other.
		reuseWant := int(float64(count) * s.cfg.ReuseRatio)
		s.shuffle(reused)
		s.shuffle(fresh)
		if len(reused) > reuseWant {
			reused = reused[:reuseWant]
		}
		picked = append(picked, reused...)
		for _, q := range fresh {
			if len(picked) >= count {
				break
			}
			picked = append(picked, q)
		}
		// fresh ran out before count: top up from the reused remainder
		if len(picked) < count {
			remainder := s.topUp(pool, picked, excluded)
			s.shuffle(remainder)
			for _, q := range remainder {
				if len(picked) >= count {
					break
				}
				picked = append(picked, q)
			}
		}
	} else {
		available := append(append([]PoolQuestion(nil), reused...), fresh...)
		s.shuffle(available)
		if len(available) > count {
			available = available[:count]
		}
		picked = available
	}

	questions := make([]domain.Question, 0, len(picked))
	for _, q := range picked {
		questions = append(questions, q.Question)
	}
	if len(questions) < s.cfg.MinPlayable {
		return questions, domain.ErrInsufficientQuestions
	}
	return questions, nil
}

// MarkServed forwards the serve record to the source and patches the cached
// pool so the split sees it before the next reload. The cached slice is
// replaced, never mutated: Select iterates its copy without holding the lock.
func (s *Selector) MarkServed(ctx context.Context, category string, questionIDs []string) error {
	if err := s.source.MarkServed(ctx, questionIDs); err != nil {
		return err
	}
	served := make(map[string]struct{}, len(questionIDs))
	for _, id := range questionIDs {
		served[id] = struct{}{}
	}
	s.mu.Lock()
	if entry, ok := s.cache[category]; ok {
		pool := make([]PoolQuestion, len(entry.pool))
		copy(pool, entry.pool)
		for i := range pool {
			if _, ok := served[pool[i].ID]; ok {
				pool[i].ServedCount++
			}
		}
		s.cache[category] = cachedPool{pool: pool, expiresAt: entry.expiresAt}
	}
	s.mu.Unlock()
	return nil
}

func (s *Selector) pool(ctx context.Context, category string) ([]PoolQuestion, error) {
	now := s.clock()

	s.mu.RLock()
	if entry, ok := s.cache[category]; ok && entry.expiresAt.After(now) {
		s.mu.RUnlock()
		return entry.pool, nil
	}
	s.mu.RUnlock()

	result, err, _ := s.sf.Do(category, func() (interface{}, error) {
		now := s.clock()
		s.mu.RLock()
		if entry, ok := s.cache[category]; ok && entry.expiresAt.After(now) {
			s.mu.RUnlock()
			return entry.pool, nil
		}
		s.mu.RUnlock()

		pool, err := s.source.LoadPool(ctx, category)
		if err != nil {
			return nil, err
		}
		if len(pool) == 0 {
			return nil, domain.ErrCategoryNotFound
		}

		ttl := s.ttlWithJitter()
		s.mu.Lock()
		s.cache[category] = cachedPool{pool: pool, expiresAt: now.Add(ttl)}
		s.mu.Unlock()
		return pool, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]PoolQuestion), nil
}

// topUp returns pool items that are neither excluded nor already picked.
func (s *Selector) topUp(pool, picked []PoolQuestion, excluded map[string]struct{}) []PoolQuestion {
	taken := make(map[string]struct{}, len(picked))
	for _, q := range picked {
		taken[q.ID] = struct{}{}
	}
	var out []PoolQuestion
	for _, q := range pool {
		if _, ok := excluded[q.ID]; ok {
			continue
		}
		if _, ok := taken[q.ID]; ok {
			continue
		}
		out = append(out, q)
	}
	return out
}

func (s *Selector) shuffle(pool []PoolQuestion) {
	s.mu.Lock()
	s.rnd.Shuffle(len(pool), func(i, j int) {
		pool[i], pool[j] = pool[j], pool[i]
	})
	s.mu.Unlock()
}

func (s *Selector) ttlWithJitter() time.Duration {
	if s.cfg.CacheTTL <= 0 {
		return 0
	}
	// up to 10% jitter to spread expirations
	jitterMax := int64(s.cfg.CacheTTL) / 10
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.CacheTTL + time.Duration(s.rnd.Int63n(jitterMax+1))
}
