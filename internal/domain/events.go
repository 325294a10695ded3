package domain

// Outbound event types.
const (
	EventSetStart       = "set_start"
	EventQuestionStart  = "question_start"
	EventAnswerResult   = "answer_result"
	EventWrongAnswer    = "wrong_answer"
	EventCorrectButSlow = "correct_but_slow"
	EventQuotaExceeded  = "quota_exceeded"
	EventQuestionEnd    = "question_end"
	EventSetEnd         = "set_end"
)

// RoomChannel is the channel every player of a room listens on.
func RoomChannel(roomID string) string {
	return "room:" + roomID
}

// PlayerChannel is the private channel of a single player.
func PlayerChannel(playerID string) string {
	return "player:" + playerID
}

// Event is an outbound message published on a channel.
type Event struct {
	Channel string `json:"channel"`
	Type    string `json:"type"`
	RoomID  string `json:"roomId"`
	Payload any    `json:"payload"`
}

type SetStartPayload struct {
	SetID          string `json:"setId"`
	TotalQuestions int    `json:"totalQuestions"`
	PlayerCount    int    `json:"playerCount"`
}

type QuestionStartPayload struct {
	Question         QuestionView `json:"question"`
	QuestionIndex    int          `json:"questionIndex"`
	TotalQuestions   int          `json:"totalQuestions"`
	QuestionDuration int          `json:"questionDuration"`
}

type AnswerResultPayload struct {
	PlayerID      string `json:"playerId"`
	AnswerIndex   int    `json:"answerIndex"`
	IsCorrect     bool   `json:"isCorrect"`
	CorrectIndex  int    `json:"correctIndex"`
	PointsAwarded int    `json:"pointsAwarded"`
}

type WrongAnswerPayload struct {
	AnswerIndex  int   `json:"answerIndex"`
	Penalty      int   `json:"penalty"`
	GuessCount   int   `json:"guessCount"`
	WrongAnswers []int `json:"wrongAnswers"`
}

type CorrectButSlowPayload struct {
	WinnerName string `json:"winnerName"`
}

type QuotaExceededPayload struct {
	Limit   int    `json:"limit"`
	Message string `json:"message"`
}

// PlayerResult is the per-player outcome of a single question.
type PlayerResult struct {
	Answered bool `json:"answered"`
	Correct  bool `json:"correct"`
}

type QuestionEndPayload struct {
	CorrectIndex   int                     `json:"correctIndex"`
	Explanation    string                  `json:"explanation,omitempty"`
	Citation       string                  `json:"citation,omitempty"`
	Scores         map[string]int          `json:"scores"`
	Leaderboard    []LeaderboardEntry      `json:"leaderboard"`
	WinnerID       *string                 `json:"winnerId"`
	WinnerName     *string                 `json:"winnerName"`
	WinnerPoints   int                     `json:"winnerPoints"`
	PlayerResults  map[string]PlayerResult `json:"playerResults"`
	Badges         map[string][]Badge      `json:"badges,omitempty"`
	NextQuestionIn int                     `json:"nextQuestionIn"`
}

type SetEndPayload struct {
	SetID         string              `json:"setId"`
	FinalScores   map[string]int      `json:"finalScores"`
	Leaderboard   []LeaderboardEntry  `json:"leaderboard"`
	BadgesSummary map[string][]string `json:"badgesSummary"`
}
