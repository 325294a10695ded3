package memory

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"trivia-room-service/internal/domain"
)

// PoolLoader fetches every candidate question of a difficulty from a backing store.
type PoolLoader interface {
	LoadPool(ctx context.Context, difficulty domain.Difficulty) ([]domain.Question, error)
}

// QuestionSource is a backing store that also records question outcomes.
type QuestionSource interface {
	PoolLoader
	MarkAsked(ctx context.Context, questionID, category string) error
	MarkCorrect(ctx context.Context, questionID string) error
	MarkIncorrect(ctx context.Context, questionID string) error
}

// QuestionRepository caches per-difficulty pools with TTL so rooms do not hit
// the database on every batch.
type QuestionRepository struct {
	source QuestionSource
	ttl    time.Duration
	clock  func() time.Time
	sf     singleflight.Group

	rndMu sync.Mutex
	rnd   *rand.Rand

	mu    sync.RWMutex
	cache map[domain.Difficulty]cachedPool
}

type cachedPool struct {
	questions []domain.Question
	expiresAt time.Time
}

func NewQuestionRepository(source QuestionSource, ttl time.Duration) *QuestionRepository {
	return &QuestionRepository{
		source: source,
		ttl:    ttl,
		clock:  time.Now,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
		cache:  make(map[domain.Difficulty]cachedPool),
	}
}

// FetchQuestions returns up to count random questions of the difficulty that
// are not in excludeIDs.
func (r *QuestionRepository) FetchQuestions(ctx context.Context, count int, difficulty domain.Difficulty, excludeIDs []string) ([]domain.Question, error) {
	pool, err := r.pool(ctx, difficulty)
	if err != nil {
		return nil, err
	}

	excluded := make(map[string]struct{}, len(excludeIDs))
	for _, id := range excludeIDs {
		excluded[id] = struct{}{}
	}
	out := make([]domain.Question, 0, len(pool))
	for _, q := range pool {
		if _, skip := excluded[q.ID]; !skip {
			out = append(out, q)
		}
	}

	r.rndMu.Lock()
	r.rnd.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	r.rndMu.Unlock()

	if count > 0 && len(out) > count {
		out = out[:count]
	}
	return out, nil
}

func (r *QuestionRepository) pool(ctx context.Context, difficulty domain.Difficulty) ([]domain.Question, error) {
	now := r.clock()

	r.mu.RLock()
	if entry, ok := r.cache[difficulty]; ok && entry.expiresAt.After(now) {
		r.mu.RUnlock()
		return entry.questions, nil
	}
	r.mu.RUnlock()

	result, err, _ := r.sf.Do(string(difficulty), func() (interface{}, error) {
		now := r.clock()
		r.mu.RLock()
		if entry, ok := r.cache[difficulty]; ok && entry.expiresAt.After(now) {
			r.mu.RUnlock()
			return entry.questions, nil
		}
		r.mu.RUnlock()

		questions, err := r.source.LoadPool(ctx, difficulty)
		if err != nil {
			return nil, err
		}

		r.mu.Lock()
		r.cache[difficulty] = cachedPool{
			questions: questions,
			expiresAt: now.Add(r.ttlWithJitter()),
		}
		r.mu.Unlock()
		return questions, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.Question), nil
}

func (r *QuestionRepository) MarkAsked(ctx context.Context, questionID, category string) error {
	return r.source.MarkAsked(ctx, questionID, category)
}

func (r *QuestionRepository) MarkCorrect(ctx context.Context, questionID string) error {
	return r.source.MarkCorrect(ctx, questionID)
}

func (r *QuestionRepository) MarkIncorrect(ctx context.Context, questionID string) error {
	return r.source.MarkIncorrect(ctx, questionID)
}

// Invalidate drops the cached pool of a difficulty.
func (r *QuestionRepository) Invalidate(difficulty domain.Difficulty) {
	r.mu.Lock()
	delete(r.cache, difficulty)
	r.mu.Unlock()
}

func (r *QuestionRepository) ttlWithJitter() time.Duration {
	if r.ttl <= 0 {
		return 0
	}
	// add up to 10% jitter to spread expirations
	jitterMax := int64(r.ttl) / 10
	r.rndMu.Lock()
	defer r.rndMu.Unlock()
	return r.ttl + time.Duration(r.rnd.Int63n(jitterMax+1))
}
