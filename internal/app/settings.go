package app

import (
	"time"
	"unicode/utf8"

	"trivia-room-service/internal/domain"
)

// Scoring is the points table of a difficulty tier. Wrong is negative by convention.
type Scoring struct {
	Correct int
	Wrong   int
}

// Settings are the tunables of the room session state machine and the lobby.
type Settings struct {
	BatchSize       int
	QuestionsPerSet int // 0 means continuous play
	RoomCapacity    int

	MinQuestionDuration  time.Duration
	MaxQuestionDuration  time.Duration
	BaseQuestionDuration time.Duration
	CharsPerSecond       int

	RevealGrace     time.Duration
	ResultsDuration time.Duration
	RestartCooldown time.Duration
	ShutdownGrace   time.Duration
	StoreTimeout    time.Duration

	Scoring map[domain.Difficulty]Scoring

	QuotaLimit  int
	QuotaExpiry time.Duration
}

// DefaultSettings mirrors config.Default.
func DefaultSettings() Settings {
	return Settings{
		BatchSize:            10,
		RoomCapacity:         50,
		MinQuestionDuration:  10 * time.Second,
		MaxQuestionDuration:  30 * time.Second,
		BaseQuestionDuration: 6 * time.Second,
		CharsPerSecond:       15,
		RevealGrace:          1500 * time.Millisecond,
		ResultsDuration:      5 * time.Second,
		RestartCooldown:      10 * time.Second,
		ShutdownGrace:        5 * time.Second,
		StoreTimeout:         2 * time.Second,
		Scoring: map[domain.Difficulty]Scoring{
			domain.DifficultyEasy:   {Correct: 50, Wrong: -20},
			domain.DifficultyMedium: {Correct: 100, Wrong: -20},
			domain.DifficultyHard:   {Correct: 150, Wrong: -20},
		},
		QuotaLimit:  50,
		QuotaExpiry: 48 * time.Hour,
	}
}

func (s Settings) scoringFor(d domain.Difficulty) Scoring {
	if sc, ok := s.Scoring[d]; ok {
		return sc
	}
	if sc, ok := s.Scoring[domain.DifficultyMedium]; ok {
		return sc
	}
	return Scoring{Correct: 100, Wrong: -20}
}

// QuestionDuration grows with the amount of text a player has to read and is
// clamped to the configured bounds. Whole seconds only, since clients count down.
func (s Settings) QuestionDuration(q domain.Question) time.Duration {
	chars := utf8.RuneCountInString(q.Text)
	for _, opt := range q.Options {
		chars += utf8.RuneCountInString(opt)
	}
	cps := s.CharsPerSecond
	if cps <= 0 {
		cps = 15
	}
	d := s.BaseQuestionDuration + time.Duration(chars)*time.Second/time.Duration(cps)
	d = d.Round(time.Second)
	if s.MinQuestionDuration > 0 && d < s.MinQuestionDuration {
		d = s.MinQuestionDuration
	}
	if s.MaxQuestionDuration > 0 && d > s.MaxQuestionDuration {
		d = s.MaxQuestionDuration
	}
	return d
}
