package memory

import (
	"context"
	"sync"

	"trivia-room-service/internal/domain"
)

// QuestionCounters are the outcome counters of one question.
type QuestionCounters struct {
	Asked     int
	Correct   int
	Incorrect int
}

// QuestionBank is a static question source, used when no database is configured and in tests.
type QuestionBank struct {
	mu        sync.RWMutex
	questions map[domain.Difficulty][]domain.Question
	counters  map[string]*QuestionCounters
}

func NewQuestionBank(questions ...domain.Question) *QuestionBank {
	b := &QuestionBank{
		questions: make(map[domain.Difficulty][]domain.Question),
		counters:  make(map[string]*QuestionCounters),
	}
	b.Add(questions...)
	return b
}

// Add appends questions; ids already in the bank are skipped.
func (b *QuestionBank) Add(questions ...domain.Question) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, q := range questions {
		if _, dup := b.counters[q.ID]; dup {
			continue
		}
		b.questions[q.Difficulty] = append(b.questions[q.Difficulty], q)
		b.counters[q.ID] = &QuestionCounters{}
	}
}

func (b *QuestionBank) LoadPool(_ context.Context, difficulty domain.Difficulty) ([]domain.Question, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	pool := b.questions[difficulty]
	if len(pool) == 0 {
		return nil, domain.ErrNoQuestions
	}
	return append([]domain.Question(nil), pool...), nil
}

func (b *QuestionBank) MarkAsked(_ context.Context, questionID, _ string) error {
	b.bump(questionID, func(c *QuestionCounters) { c.Asked++ })
	return nil
}

func (b *QuestionBank) MarkCorrect(_ context.Context, questionID string) error {
	b.bump(questionID, func(c *QuestionCounters) { c.Correct++ })
	return nil
}

func (b *QuestionBank) MarkIncorrect(_ context.Context, questionID string) error {
	b.bump(questionID, func(c *QuestionCounters) { c.Incorrect++ })
	return nil
}

func (b *QuestionBank) bump(questionID string, fn func(*QuestionCounters)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.counters[questionID]; ok {
		fn(c)
	}
}

// Counters returns a copy of a question's counters.
func (b *QuestionBank) Counters(questionID string) (QuestionCounters, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	c, ok := b.counters[questionID]
	if !ok {
		return QuestionCounters{}, false
	}
	return *c, true
}
