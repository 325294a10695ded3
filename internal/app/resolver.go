package app

import (
	"math"

	"trivia-room-service/internal/domain"
)

// Outcome is the decision taken for a single answer submission.
type Outcome int

const (
	OutcomeIgnored Outcome = iota
	OutcomeCorrectWinner
	OutcomeCorrectLate
	OutcomeWrong
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCorrectWinner:
		return "correct_winner"
	case OutcomeCorrectLate:
		return "correct_late"
	case OutcomeWrong:
		return "wrong"
	}
	return "ignored"
}

// Resolution describes what an answer does to the submitting player.
type Resolution struct {
	Outcome Outcome
	// PointsDelta is the signed score change: +points for a winner, -penalty for a wrong guess.
	PointsDelta int
	// Penalty is the positive magnitude deducted for a wrong guess.
	Penalty int
	// GuessCount is the player's wrong-guess count after this answer.
	GuessCount int
}

// PenaltyMultiplier escalates the wrong-answer penalty: 1.0, 1.5, then 2.0 from the third guess on.
func PenaltyMultiplier(guessCount int) float64 {
	switch {
	case guessCount <= 1:
		return 1.0
	case guessCount == 2:
		return 1.5
	default:
		return 2.0
	}
}

// Penalty returns the rounded penalty magnitude for the n-th wrong guess.
// base follows the negative-by-convention config value; only its magnitude counts.
func Penalty(base, guessCount int) int {
	magnitude := math.Abs(float64(base))
	return int(math.Round(magnitude * PenaltyMultiplier(guessCount)))
}

// Resolve decides the outcome of an answer without mutating anything.
// A nil state means the player has not interacted with the question yet.
func Resolve(state *domain.PlayerQuestionState, q domain.Question, winnerExists bool, answerIndex int, sc Scoring) Resolution {
	if answerIndex < 0 || answerIndex >= len(q.Options) {
		return Resolution{Outcome: OutcomeIgnored}
	}
	guesses := 0
	if state != nil {
		if state.AnsweredCorrectly || state.HasGuessed(answerIndex) {
			return Resolution{Outcome: OutcomeIgnored, GuessCount: state.GuessCount}
		}
		guesses = state.GuessCount
	}

	if answerIndex == q.CorrectIndex {
		if winnerExists {
			return Resolution{Outcome: OutcomeCorrectLate, GuessCount: guesses}
		}
		return Resolution{Outcome: OutcomeCorrectWinner, PointsDelta: sc.Correct, GuessCount: guesses}
	}

	guesses++
	penalty := Penalty(sc.Wrong, guesses)
	return Resolution{
		Outcome:     OutcomeWrong,
		PointsDelta: -penalty,
		Penalty:     penalty,
		GuessCount:  guesses,
	}
}

// Apply records a resolution on the player's question state.
func (r Resolution) Apply(state *domain.PlayerQuestionState, answerIndex int) {
	switch r.Outcome {
	case OutcomeCorrectWinner, OutcomeCorrectLate:
		state.AnsweredCorrectly = true
	case OutcomeWrong:
		state.GuessCount = r.GuessCount
		state.WrongAnswers = append(state.WrongAnswers, answerIndex)
		state.Penalty += r.Penalty
	}
}
