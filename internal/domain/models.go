package domain

import (
	"strings"
	"time"
)

// Difficulty is the tier a room and its questions belong to.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
)

// Difficulties lists every supported tier in lobby order.
var Difficulties = []Difficulty{DifficultyEasy, DifficultyMedium, DifficultyHard}

// ParseDifficulty normalizes user input into a known tier.
func ParseDifficulty(raw string) (Difficulty, error) {
	d := Difficulty(strings.ToLower(strings.TrimSpace(raw)))
	switch d {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return d, nil
	case "":
		return DifficultyMedium, nil
	}
	return "", ErrInvalidDifficulty
}

// RoomStatus reflects whether a set is currently running in a room.
type RoomStatus string

const (
	RoomWaiting    RoomStatus = "waiting"
	RoomInProgress RoomStatus = "in_progress"
)

// Room is a matchmaking bucket with a difficulty tier and capacity.
type Room struct {
	ID         string     `json:"id"`
	Difficulty Difficulty `json:"difficulty"`
	Capacity   int        `json:"capacity"`
	Status     RoomStatus `json:"status"`
	// Permanent rooms are reset instead of removed when they empty.
	Permanent bool `json:"permanent"`
}

// Phase is the question phase of a running set.
type Phase string

const (
	PhaseWaiting  Phase = "waiting"
	PhaseQuestion Phase = "question"
	PhaseResults  Phase = "results"
)

// Player is a participant present in a room channel.
type Player struct {
	ID          string    `json:"id"`
	DisplayName string    `json:"displayName"`
	JoinedAt    time.Time `json:"joinedAt"`

	// Authenticated players are exempt from the daily guest quota.
	Authenticated  bool   `json:"authenticated"`
	GuestID        string `json:"-"`
	Fingerprint    string `json:"-"`
	NetworkAddress string `json:"-"`
	// System participants (monitors, bots) never count towards presence.
	System bool `json:"-"`
}

// PlayerQuestionState is the per-question answer state of one player.
type PlayerQuestionState struct {
	GuessCount        int
	WrongAnswers      []int
	Penalty           int
	AnsweredCorrectly bool
	// QuotaChecked is set once the first attempt at this question passed the guest quota.
	QuotaChecked bool
}

// HasGuessed reports whether idx was already submitted as a wrong answer.
func (s *PlayerQuestionState) HasGuessed(idx int) bool {
	for _, w := range s.WrongAnswers {
		if w == idx {
			return true
		}
	}
	return false
}

// Question models a multiple choice question with exactly one correct option.
type Question struct {
	ID           string     `json:"id"`
	Text         string     `json:"text"`
	Options      []string   `json:"options"`
	CorrectIndex int        `json:"correctIndex"`
	Category     string     `json:"category"`
	Difficulty   Difficulty `json:"difficulty"`
	Explanation  string     `json:"explanation,omitempty"`
	Citation     string     `json:"citation,omitempty"`
}

// QuestionView is the public part of a question sent with question_start.
type QuestionView struct {
	ID         string     `json:"id"`
	Text       string     `json:"text"`
	Options    []string   `json:"options"`
	Category   string     `json:"category"`
	Difficulty Difficulty `json:"difficulty"`
}

// View strips the answer from a question.
func (q Question) View() QuestionView {
	return QuestionView{
		ID:         q.ID,
		Text:       q.Text,
		Options:    q.Options,
		Category:   q.Category,
		Difficulty: q.Difficulty,
	}
}

// LeaderboardEntry is a ranked view of a player's score.
type LeaderboardEntry struct {
	Rank        int    `json:"rank"`
	PlayerID    string `json:"playerId"`
	DisplayName string `json:"displayName"`
	Score       int    `json:"score"`
}

// PlayerStats is the durable per-user statistics record.
type PlayerStats struct {
	UserID        string `json:"userId"`
	Correct       int    `json:"correct"`
	Wrong         int    `json:"wrong"`
	Points        int    `json:"points"`
	CurrentStreak int    `json:"currentStreak"`
	BestStreak    int    `json:"bestStreak"`
}

// StatsDelta is applied to PlayerStats by an idempotent increment.
type StatsDelta struct {
	Correct int
	Wrong   int
	Points  int
	// StreakDelta is added to the current streak, unless ResetStreak is set in
	// which case the current streak becomes StreakDelta.
	StreakDelta int
	ResetStreak bool
}

// Badge is an achievement awarded by the badge engine.
type Badge struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// BadgeContext describes the answer that triggered a badge evaluation.
type BadgeContext struct {
	RoomID        string
	SetID         string
	QuestionID    string
	QuestionIndex int
	Difficulty    Difficulty
	Consecutive   int
	WrongGuesses  int
	Points        int
}

// QuotaIdentifier is one of the identities a guest quota is tracked under.
type QuotaIdentifier struct {
	Type  string
	Value string
}

const (
	QuotaGuestID     = "guest"
	QuotaFingerprint = "device"
	QuotaNetwork     = "ip"
)

// QuotaIdentifiers returns the known identities of a guest player.
func (p Player) QuotaIdentifiers() []QuotaIdentifier {
	ids := make([]QuotaIdentifier, 0, 3)
	guest := p.GuestID
	if guest == "" {
		guest = p.ID
	}
	ids = append(ids, QuotaIdentifier{Type: QuotaGuestID, Value: guest})
	if p.Fingerprint != "" {
		ids = append(ids, QuotaIdentifier{Type: QuotaFingerprint, Value: p.Fingerprint})
	}
	if p.NetworkAddress != "" {
		ids = append(ids, QuotaIdentifier{Type: QuotaNetwork, Value: p.NetworkAddress})
	}
	return ids
}

// RoomSummary is the lobby view of a room.
type RoomSummary struct {
	Room
	Players int    `json:"players"`
	SetID   string `json:"setId,omitempty"`
}
