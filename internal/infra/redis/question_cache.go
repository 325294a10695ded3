package redis

import (
	"context"
	"encoding/json"
	"errors"
	"math/rand"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"trivia-room-service/internal/domain"
	"trivia-room-service/internal/infra/memory"
)

// QuestionCache keeps per-difficulty question pools in Redis so every
// instance shares one warm copy, and falls back to the source on a miss.
// Pools are stored as JSON under trivia:questions:{difficulty}.
type QuestionCache struct {
	client *redis.Client
	source memory.QuestionSource
	ttl    time.Duration
	sf     singleflight.Group

	rndMu sync.Mutex
	rnd   *rand.Rand
}

func NewQuestionCache(client *redis.Client, source memory.QuestionSource, ttl time.Duration) *QuestionCache {
	return &QuestionCache{
		client: client,
		source: source,
		ttl:    ttl,
		rnd:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (c *QuestionCache) LoadPool(ctx context.Context, difficulty domain.Difficulty) ([]domain.Question, error) {
	if pool, ok := c.cached(ctx, difficulty); ok {
		return pool, nil
	}

	result, err, _ := c.sf.Do(string(difficulty), func() (interface{}, error) {
		// Re-check cache in case another goroutine filled it.
		if pool, ok := c.cached(ctx, difficulty); ok {
			return pool, nil
		}

		pool, err := c.source.LoadPool(ctx, difficulty)
		if err != nil {
			return nil, err
		}

		raw, err := json.Marshal(pool)
		if err == nil {
			err = c.client.Set(ctx, c.key(difficulty), raw, c.ttlWithJitter()).Err()
		}
		if err != nil {
			log.Warn().Err(err).Str("difficulty", string(difficulty)).Msg("question pool not cached")
		}
		return pool, nil
	})
	if err != nil {
		return nil, err
	}
	return result.([]domain.Question), nil
}

func (c *QuestionCache) cached(ctx context.Context, difficulty domain.Difficulty) ([]domain.Question, bool) {
	raw, err := c.client.Get(ctx, c.key(difficulty)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.Warn().Err(err).Str("difficulty", string(difficulty)).Msg("question cache read failed")
		}
		return nil, false
	}
	var pool []domain.Question
	if err := json.Unmarshal(raw, &pool); err != nil || len(pool) == 0 {
		return nil, false
	}
	return pool, true
}

func (c *QuestionCache) MarkAsked(ctx context.Context, questionID, category string) error {
	return c.source.MarkAsked(ctx, questionID, category)
}

func (c *QuestionCache) MarkCorrect(ctx context.Context, questionID string) error {
	return c.source.MarkCorrect(ctx, questionID)
}

func (c *QuestionCache) MarkIncorrect(ctx context.Context, questionID string) error {
	return c.source.MarkIncorrect(ctx, questionID)
}

func (c *QuestionCache) key(difficulty domain.Difficulty) string {
	return "trivia:questions:" + string(difficulty)
}

func (c *QuestionCache) ttlWithJitter() time.Duration {
	if c.ttl <= 0 {
		return 0
	}
	jitterMax := int64(c.ttl) / 10
	c.rndMu.Lock()
	defer c.rndMu.Unlock()
	return c.ttl + time.Duration(c.rnd.Int63n(jitterMax+1))
}
