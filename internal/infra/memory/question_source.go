package memory

import (
	"context"
	"sync"

	"trivia-forge-service/internal/app"
	"trivia-forge-service/internal/domain"
)

// QuestionSource serves category pools from an in-memory map, tracking served
// counts the same way the postgres source does.
type QuestionSource struct {
	mu     sync.Mutex
	pools  map[string][]app.PoolQuestion
	served map[string]int64 // question id -> serve count
}

func NewQuestionSource(pools map[string][]domain.Question) *QuestionSource {
	source := &QuestionSource{
		pools:  make(map[string][]app.PoolQuestion, len(pools)),
		served: make(map[string]int64),
	}
	for category, questions := range pools {
		pool := make([]app.PoolQuestion, 0, len(questions))
		for _, q := range questions {
			pool = append(pool, app.PoolQuestion{Question: q})
		}
		source.pools[category] = pool
	}
	return source
}

func (s *QuestionSource) LoadPool(_ context.Context, category string) ([]app.PoolQuestion, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.pools[category]
	if !ok {
		return nil, domain.ErrCategoryNotFound
	}
	pool := make([]app.PoolQuestion, len(stored))
	copy(pool, stored)
	for i := range pool {
		pool[i].ServedCount = s.served[pool[i].ID]
	}
	return pool, nil
}

func (s *QuestionSource) MarkServed(_ context.Context, questionIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range questionIDs {
		s.served[id]++
	}
	return nil
}
