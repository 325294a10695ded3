package app

import (
	"context"
	"time"

	"trivia-room-service/internal/domain"
)

// QuestionSupply provides question batches and records how questions performed.
type QuestionSupply interface {
	FetchQuestions(ctx context.Context, count int, difficulty domain.Difficulty, excludeIDs []string) ([]domain.Question, error)
	MarkAsked(ctx context.Context, questionID, category string) error
	MarkCorrect(ctx context.Context, questionID string) error
	MarkIncorrect(ctx context.Context, questionID string) error
}

// BadgeEvaluator is the achievement rule engine.
type BadgeEvaluator interface {
	Evaluate(ctx context.Context, stats domain.PlayerStats, bc domain.BadgeContext) ([]domain.Badge, error)
}

// StatsStore is the durable per-user statistics store.
type StatsStore interface {
	IncrementStats(ctx context.Context, userID string, delta domain.StatsDelta) (domain.PlayerStats, error)
}

// LeaderboardStore keeps durable score boards.
type LeaderboardStore interface {
	IncrementScore(ctx context.Context, boardKey, userID string, delta int) error
	Top(ctx context.Context, boardKey string, n int) ([]domain.LeaderboardEntry, error)
}

// QuotaStore holds daily answer counters per identifier. Owned by QuotaGuard.
type QuotaStore interface {
	GetCount(ctx context.Context, identifierType, identifier, date string) (int, error)
	Increment(ctx context.Context, identifierType, identifier, date string, expiry time.Duration) (int, error)
}

// Publisher sends outbound events to the message bus.
type Publisher interface {
	Publish(ctx context.Context, ev domain.Event) error
}

// SessionRepository abstracts where active room sessions are registered (in-memory, Redis-marked, etc).
type SessionRepository interface {
	Put(roomID string, session *RoomSession)
	Get(roomID string) (*RoomSession, bool)
	// Delete removes the session only if it is still the one registered for the room.
	Delete(roomID string, session *RoomSession)
	All() []*RoomSession
}

// Presence lists the non-system participants of a room channel.
type Presence interface {
	Members(roomID string) []domain.Player
}

const boardAllTime = "leaderboard:alltime"

// BoardKey resolves a board name ("alltime" or "daily") for the given day.
func BoardKey(name string, now time.Time) string {
	if name == "daily" {
		return dailyBoard(now)
	}
	return boardAllTime
}

func dailyBoard(now time.Time) string {
	return "leaderboard:daily:" + now.UTC().Format(dateLayout)
}

const dateLayout = "2006-01-02"
