package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"trivia-room-service/internal/domain"
)

// QuotaStore keeps guest answer counters as quota:{type}:{value}:{date}.
type QuotaStore struct {
	client *redis.Client
}

func NewQuotaStore(client *redis.Client) *QuotaStore {
	return &QuotaStore{client: client}
}

func (s *QuotaStore) key(identifierType, identifier, date string) string {
	return "quota:" + identifierType + ":" + identifier + ":" + date
}

func (s *QuotaStore) GetCount(ctx context.Context, identifierType, identifier, date string) (int, error) {
	n, err := s.client.Get(ctx, s.key(identifierType, identifier, date)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("quota get: %w", err)
	}
	return n, nil
}

func (s *QuotaStore) Increment(ctx context.Context, identifierType, identifier, date string, expiry time.Duration) (int, error) {
	key := s.key(identifierType, identifier, date)
	pipe := s.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	if expiry > 0 {
		pipe.Expire(ctx, key, expiry)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("quota increment: %w", err)
	}
	return int(incr.Val()), nil
}

// StatsStore keeps per-user stats in the hash stats:{user}.
type StatsStore struct {
	client *redis.Client
}

func NewStatsStore(client *redis.Client) *StatsStore {
	return &StatsStore{client: client}
}

const (
	fieldCorrect       = "correct"
	fieldWrong         = "wrong"
	fieldPoints        = "points"
	fieldCurrentStreak = "current_streak"
	fieldBestStreak    = "best_streak"
)

func (s *StatsStore) key(userID string) string {
	return "stats:" + userID
}

func (s *StatsStore) IncrementStats(ctx context.Context, userID string, delta domain.StatsDelta) (domain.PlayerStats, error) {
	key := s.key(userID)
	pipe := s.client.TxPipeline()
	if delta.Correct != 0 {
		pipe.HIncrBy(ctx, key, fieldCorrect, int64(delta.Correct))
	}
	if delta.Wrong != 0 {
		pipe.HIncrBy(ctx, key, fieldWrong, int64(delta.Wrong))
	}
	if delta.Points != 0 {
		pipe.HIncrBy(ctx, key, fieldPoints, int64(delta.Points))
	}
	if delta.ResetStreak {
		pipe.HSet(ctx, key, fieldCurrentStreak, delta.StreakDelta)
	} else if delta.StreakDelta != 0 {
		pipe.HIncrBy(ctx, key, fieldCurrentStreak, int64(delta.StreakDelta))
	}
	all := pipe.HGetAll(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return domain.PlayerStats{}, fmt.Errorf("stats increment: %w", err)
	}

	stats := parseStats(userID, all.Val())
	if stats.CurrentStreak > stats.BestStreak {
		stats.BestStreak = stats.CurrentStreak
		if err := s.client.HSet(ctx, key, fieldBestStreak, stats.BestStreak).Err(); err != nil {
			return stats, fmt.Errorf("stats best streak: %w", err)
		}
	}
	return stats, nil
}

func (s *StatsStore) Get(ctx context.Context, userID string) (domain.PlayerStats, error) {
	fields, err := s.client.HGetAll(ctx, s.key(userID)).Result()
	if err != nil {
		return domain.PlayerStats{}, fmt.Errorf("stats get: %w", err)
	}
	return parseStats(userID, fields), nil
}

func parseStats(userID string, fields map[string]string) domain.PlayerStats {
	atoi := func(k string) int {
		n, _ := strconv.Atoi(fields[k])
		return n
	}
	return domain.PlayerStats{
		UserID:        userID,
		Correct:       atoi(fieldCorrect),
		Wrong:         atoi(fieldWrong),
		Points:        atoi(fieldPoints),
		CurrentStreak: atoi(fieldCurrentStreak),
		BestStreak:    atoi(fieldBestStreak),
	}
}

// LeaderboardStore keeps boards as sorted sets.
type LeaderboardStore struct {
	client *redis.Client
	// dailyTTL bounds how long leaderboard:daily:* boards live.
	dailyTTL time.Duration
}

func NewLeaderboardStore(client *redis.Client) *LeaderboardStore {
	return &LeaderboardStore{client: client, dailyTTL: 72 * time.Hour}
}

func (s *LeaderboardStore) IncrementScore(ctx context.Context, boardKey, userID string, delta int) error {
	pipe := s.client.TxPipeline()
	pipe.ZIncrBy(ctx, boardKey, float64(delta), userID)
	if isDaily(boardKey) && s.dailyTTL > 0 {
		pipe.Expire(ctx, boardKey, s.dailyTTL)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("leaderboard increment: %w", err)
	}
	return nil
}

func (s *LeaderboardStore) Top(ctx context.Context, boardKey string, n int) ([]domain.LeaderboardEntry, error) {
	if n <= 0 {
		n = 10
	}
	rows, err := s.client.ZRevRangeWithScores(ctx, boardKey, 0, int64(n-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("leaderboard top: %w", err)
	}
	out := make([]domain.LeaderboardEntry, 0, len(rows))
	for i, z := range rows {
		id, _ := z.Member.(string)
		out = append(out, domain.LeaderboardEntry{
			Rank:     i + 1,
			PlayerID: id,
			Score:    int(z.Score),
		})
	}
	return out, nil
}

func isDaily(boardKey string) bool {
	return strings.HasPrefix(boardKey, "leaderboard:daily:")
}
