package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"trivia-room-service/internal/domain"
)

// QuestionStore reads question pools from the questions table and keeps
// their asked/correct/incorrect counters.
type QuestionStore struct {
	pool *pgxpool.Pool
}

func NewQuestionStore(pool *pgxpool.Pool) *QuestionStore {
	return &QuestionStore{pool: pool}
}

const selectPool = `
SELECT id, text, options, correct_index, category, difficulty,
       COALESCE(explanation, ''), COALESCE(citation, '')
FROM questions
WHERE difficulty = $1
ORDER BY times_asked ASC, id ASC`

func (s *QuestionStore) LoadPool(ctx context.Context, difficulty domain.Difficulty) ([]domain.Question, error) {
	rows, err := s.pool.Query(ctx, selectPool, string(difficulty))
	if err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}
	defer rows.Close()

	var out []domain.Question
	for rows.Next() {
		var (
			q          domain.Question
			rawOptions []byte
			diff       string
		)
		if err := rows.Scan(&q.ID, &q.Text, &rawOptions, &q.CorrectIndex, &q.Category, &diff, &q.Explanation, &q.Citation); err != nil {
			return nil, fmt.Errorf("scan question: %w", err)
		}
		if err := json.Unmarshal(rawOptions, &q.Options); err != nil {
			return nil, fmt.Errorf("unmarshal options of %s: %w", q.ID, err)
		}
		q.Difficulty = domain.Difficulty(diff)
		out = append(out, q)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}
	if len(out) == 0 {
		return nil, domain.ErrNoQuestions
	}
	return out, nil
}

func (s *QuestionStore) MarkAsked(ctx context.Context, questionID, category string) error {
	batch := &pgx.Batch{}
	batch.Queue(`UPDATE questions SET times_asked = times_asked + 1, last_asked_at = now() WHERE id = $1`, questionID)
	if category != "" {
		batch.Queue(`
INSERT INTO category_usage (category, times_asked, last_asked_at) VALUES ($1, 1, now())
ON CONFLICT (category) DO UPDATE SET times_asked = category_usage.times_asked + 1, last_asked_at = now()`, category)
	}
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("mark asked: %w", err)
		}
	}
	return nil
}

func (s *QuestionStore) MarkCorrect(ctx context.Context, questionID string) error {
	if _, err := s.pool.Exec(ctx, `UPDATE questions SET times_correct = times_correct + 1 WHERE id = $1`, questionID); err != nil {
		return fmt.Errorf("mark correct: %w", err)
	}
	return nil
}

func (s *QuestionStore) MarkIncorrect(ctx context.Context, questionID string) error {
	if _, err := s.pool.Exec(ctx, `UPDATE questions SET times_incorrect = times_incorrect + 1 WHERE id = $1`, questionID); err != nil {
		return fmt.Errorf("mark incorrect: %w", err)
	}
	return nil
}

// Upsert inserts or replaces question content, leaving counters untouched.
func (s *QuestionStore) Upsert(ctx context.Context, questions ...domain.Question) error {
	batch := &pgx.Batch{}
	for _, q := range questions {
		options, err := json.Marshal(q.Options)
		if err != nil {
			return fmt.Errorf("marshal options of %s: %w", q.ID, err)
		}
		batch.Queue(`
INSERT INTO questions (id, text, options, correct_index, category, difficulty, explanation, citation)
VALUES ($1, $2, $3::jsonb, $4, $5, $6, NULLIF($7, ''), NULLIF($8, ''))
ON CONFLICT (id) DO UPDATE SET
    text = EXCLUDED.text,
    options = EXCLUDED.options,
    correct_index = EXCLUDED.correct_index,
    category = EXCLUDED.category,
    difficulty = EXCLUDED.difficulty,
    explanation = EXCLUDED.explanation,
    citation = EXCLUDED.citation`,
			q.ID, q.Text, string(options), q.CorrectIndex, q.Category, string(q.Difficulty), q.Explanation, q.Citation)
	}
	br := s.pool.SendBatch(ctx, batch)
	defer br.Close()
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("upsert questions: %w", err)
		}
	}
	return nil
}

// Counters returns asked, correct and incorrect totals of a question.
func (s *QuestionStore) Counters(ctx context.Context, questionID string) (asked, correct, incorrect int64, err error) {
	err = s.pool.QueryRow(ctx,
		`SELECT times_asked, times_correct, times_incorrect FROM questions WHERE id = $1`, questionID,
	).Scan(&asked, &correct, &incorrect)
	if err != nil {
		return 0, 0, 0, fmt.Errorf("question counters: %w", err)
	}
	return asked, correct, incorrect, nil
}
