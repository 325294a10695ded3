package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"trivia-room-service/internal/domain"
)

// QuotaStore keeps daily counters in process. Expiry is ignored; keys are
// per date so stale days are never read again.
type QuotaStore struct {
	mu     sync.Mutex
	counts map[string]int
}

func NewQuotaStore() *QuotaStore {
	return &QuotaStore{counts: make(map[string]int)}
}

func quotaKey(identifierType, identifier, date string) string {
	return "quota:" + identifierType + ":" + identifier + ":" + date
}

func (s *QuotaStore) GetCount(_ context.Context, identifierType, identifier, date string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[quotaKey(identifierType, identifier, date)], nil
}

func (s *QuotaStore) Increment(_ context.Context, identifierType, identifier, date string, _ time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := quotaKey(identifierType, identifier, date)
	s.counts[k]++
	return s.counts[k], nil
}

// StatsStore keeps per-user stats in process.
type StatsStore struct {
	mu    sync.Mutex
	stats map[string]domain.PlayerStats
}

func NewStatsStore() *StatsStore {
	return &StatsStore{stats: make(map[string]domain.PlayerStats)}
}

func (s *StatsStore) IncrementStats(_ context.Context, userID string, delta domain.StatsDelta) (domain.PlayerStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats[userID]
	st.UserID = userID
	st.Correct += delta.Correct
	st.Wrong += delta.Wrong
	st.Points += delta.Points
	if delta.ResetStreak {
		st.CurrentStreak = delta.StreakDelta
	} else {
		st.CurrentStreak += delta.StreakDelta
	}
	if st.CurrentStreak > st.BestStreak {
		st.BestStreak = st.CurrentStreak
	}
	s.stats[userID] = st
	return st, nil
}

func (s *StatsStore) Get(_ context.Context, userID string) (domain.PlayerStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.stats[userID]
	st.UserID = userID
	return st, nil
}

// LeaderboardStore keeps score boards in process.
type LeaderboardStore struct {
	mu     sync.Mutex
	boards map[string]map[string]int
}

func NewLeaderboardStore() *LeaderboardStore {
	return &LeaderboardStore{boards: make(map[string]map[string]int)}
}

func (s *LeaderboardStore) IncrementScore(_ context.Context, boardKey, userID string, delta int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	board, ok := s.boards[boardKey]
	if !ok {
		board = make(map[string]int)
		s.boards[boardKey] = board
	}
	board[userID] += delta
	return nil
}

// Top returns the n best entries, ties ordered by user id.
func (s *LeaderboardStore) Top(_ context.Context, boardKey string, n int) ([]domain.LeaderboardEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	board := s.boards[boardKey]
	out := make([]domain.LeaderboardEntry, 0, len(board))
	for id, score := range board {
		out = append(out, domain.LeaderboardEntry{PlayerID: id, Score: score})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].PlayerID < out[j].PlayerID
	})
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	for i := range out {
		out[i].Rank = i + 1
	}
	return out, nil
}
