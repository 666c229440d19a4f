package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"

	"trivia-forge-service/internal/app"
	"trivia-forge-service/internal/domain"
)

// QuestionSource loads category pools from Postgres. Options are stored as
// jsonb; served_count feeds the selector's reuse/fresh split.
type QuestionSource struct {
	pool *pgxpool.Pool
}

func NewQuestionSource(pool *pgxpool.Pool) *QuestionSource {
	return &QuestionSource{pool: pool}
}

func (s *QuestionSource) LoadPool(ctx context.Context, category string) ([]app.PoolQuestion, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, text, options, correct_index, explanation, served_count
		 FROM questions WHERE category = $1`, category)
	if err != nil {
		return nil, fmt.Errorf("load pool: %w", err)
	}
	defer rows.Close()

	var pool []app.PoolQuestion
	for rows.Next() {
		var (
			q       domain.Question
			options []byte
			served  int64
		)
		if err := rows.Scan(&q.ID, &q.Text, &options, &q.CorrectIndex, &q.Explanation, &served); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		if err := json.Unmarshal(options, &q.Options); err != nil {
			return nil, fmt.Errorf("unmarshal options: %w", err)
		}
		pool = append(pool, app.PoolQuestion{Question: q, ServedCount: served})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pool: %w", err)
	}
	return pool, nil
}

func (s *QuestionSource) MarkServed(ctx context.Context, questionIDs []string) error {
	if len(questionIDs) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE questions SET served_count = served_count + 1 WHERE id = ANY($1)`, questionIDs)
	if err != nil {
		return fmt.Errorf("mark served: %w", err)
	}
	return nil
}
