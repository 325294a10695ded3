package app

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"trivia-room-service/internal/domain"
)

const inboxSize = 256

// Dependencies are the collaborators a room session talks to. Badges, Stats,
// Leaderboard, Quota and Presence are optional.
type Dependencies struct {
	Questions   QuestionSupply
	Badges      BadgeEvaluator
	Stats       StatsStore
	Leaderboard LeaderboardStore
	Quota       *QuotaGuard
	Publisher   Publisher
	Presence    Presence
	Clock       clockwork.Clock
}

type sessionEvent interface{ sessionEvent() }

type (
	startSetEvent     struct{}
	playerJoinedEvent struct{ player domain.Player }
	playerLeftEvent   struct{ playerID string }
	answerEvent       struct {
		playerID    string
		answerIndex int
	}
	timerFiredEvent struct {
		kind TimerKind
		gen  uint64
	}
	// endSetEvent forces set end with final results (shutdown).
	endSetEvent struct{}
	// stopEvent tears the session down silently (room emptied).
	stopEvent struct{}
)

func (startSetEvent) sessionEvent()     {}
func (playerJoinedEvent) sessionEvent() {}
func (playerLeftEvent) sessionEvent()   {}
func (answerEvent) sessionEvent()       {}
func (timerFiredEvent) sessionEvent()   {}
func (endSetEvent) sessionEvent()       {}
func (stopEvent) sessionEvent()         {}

// RoomSession is the state machine of one set in one room. All state is owned
// by the goroutine running Run; everything else talks to it through the inbox.
type RoomSession struct {
	room     domain.Room
	setID    string
	settings Settings
	deps     Dependencies
	timers   *TimerRegistry
	log      zerolog.Logger
	onEnded  func(*RoomSession)

	inbox chan sessionEvent
	done  chan struct{}

	phase     domain.Phase
	questions []domain.Question
	used      map[string]struct{}
	index     int

	players map[string]domain.Player
	order   []string
	scores  map[string]int
	states  map[string]*domain.PlayerQuestionState
	streaks map[string]int
	lastWon map[string]int

	deadline     time.Time
	winnerID     string
	winnerName   string
	winnerPoints int

	questionBadges map[string][]domain.Badge
	setBadges      map[string][]string

	started   bool
	completed bool
}

// NewRoomSession builds a session for a fresh set. onEnded is invoked from the
// session goroutine once the set ended with results.
func NewRoomSession(room domain.Room, setID string, settings Settings, deps Dependencies, onEnded func(*RoomSession)) *RoomSession {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	s := &RoomSession{
		room:           room,
		setID:          setID,
		settings:       settings,
		deps:           deps,
		onEnded:        onEnded,
		inbox:          make(chan sessionEvent, inboxSize),
		done:           make(chan struct{}),
		phase:          domain.PhaseWaiting,
		used:           make(map[string]struct{}),
		players:        make(map[string]domain.Player),
		scores:         make(map[string]int),
		states:         make(map[string]*domain.PlayerQuestionState),
		streaks:        make(map[string]int),
		lastWon:        make(map[string]int),
		questionBadges: make(map[string][]domain.Badge),
		setBadges:      make(map[string][]string),
		log: log.With().
			Str("room_id", room.ID).
			Str("set_id", setID).
			Logger(),
	}
	s.timers = NewTimerRegistry(deps.Clock, func(kind TimerKind, gen uint64) {
		s.enqueue(timerFiredEvent{kind: kind, gen: gen})
	})
	return s
}

func (s *RoomSession) RoomID() string { return s.room.ID }

func (s *RoomSession) SetID() string { return s.setID }

// Done is closed once the session goroutine exits.
func (s *RoomSession) Done() <-chan struct{} { return s.done }

// Run processes inbox events one at a time until the set ends or ctx is cancelled.
func (s *RoomSession) Run(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			s.timers.CancelAll()
			s.completed = true
			return
		case ev := <-s.inbox:
			s.handle(ctx, ev)
			if s.completed {
				return
			}
		}
	}
}

func (s *RoomSession) enqueue(ev sessionEvent) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case <-s.done:
		return false
	case s.inbox <- ev:
		return true
	}
}

// StartSet asks the session to begin its set.
func (s *RoomSession) StartSet() bool { return s.enqueue(startSetEvent{}) }

// PlayerJoined registers a presence-enter.
func (s *RoomSession) PlayerJoined(p domain.Player) bool {
	return s.enqueue(playerJoinedEvent{player: p})
}

// PlayerLeft registers a presence-leave.
func (s *RoomSession) PlayerLeft(playerID string) bool {
	return s.enqueue(playerLeftEvent{playerID: playerID})
}

// Answer submits an answer for the current question.
func (s *RoomSession) Answer(playerID string, answerIndex int) bool {
	return s.enqueue(answerEvent{playerID: playerID, answerIndex: answerIndex})
}

// End forces the set to end and publish its final results.
func (s *RoomSession) End() bool { return s.enqueue(endSetEvent{}) }

// Stop tears the session down without publishing results.
func (s *RoomSession) Stop() bool { return s.enqueue(stopEvent{}) }

func (s *RoomSession) handle(ctx context.Context, ev sessionEvent) {
	if s.completed {
		return
	}
	switch e := ev.(type) {
	case startSetEvent:
		s.startSet(ctx)
	case playerJoinedEvent:
		s.addPlayer(e.player)
		s.catchUp(ctx, e.player)
	case playerLeftEvent:
		delete(s.players, e.playerID)
	case answerEvent:
		s.handleAnswer(ctx, e.playerID, e.answerIndex)
	case timerFiredEvent:
		s.handleTimer(ctx, e.kind, e.gen)
	case endSetEvent:
		s.endSet(ctx)
	case stopEvent:
		s.timers.CancelAll()
		s.completed = true
		s.log.Info().Msg("session torn down")
	}
}

func (s *RoomSession) addPlayer(p domain.Player) {
	if p.System {
		return
	}
	if _, seen := s.scores[p.ID]; !seen {
		s.scores[p.ID] = 0
		s.order = append(s.order, p.ID)
	}
	s.players[p.ID] = p
}

// catchUp sends the open question to a player who joined mid-question.
func (s *RoomSession) catchUp(ctx context.Context, p domain.Player) {
	if p.System || s.phase != domain.PhaseQuestion || s.winnerID != "" {
		return
	}
	q, ok := s.currentQuestion()
	if !ok {
		return
	}
	remaining := s.deadline.Sub(s.deps.Clock.Now())
	if remaining <= 0 {
		return
	}
	s.publish(ctx, domain.PlayerChannel(p.ID), domain.EventQuestionStart, domain.QuestionStartPayload{
		Question:         q.View(),
		QuestionIndex:    s.index,
		TotalQuestions:   s.settings.QuestionsPerSet,
		QuestionDuration: int(math.Ceil(remaining.Seconds())),
	})
}

func (s *RoomSession) startSet(ctx context.Context) {
	if s.started {
		return
	}
	s.started = true

	if s.deps.Presence != nil {
		for _, p := range s.deps.Presence.Members(s.room.ID) {
			s.addPlayer(p)
		}
	}

	questions, err := s.fetchBatch(ctx)
	if err != nil || len(questions) == 0 {
		s.log.Warn().Err(err).Msg("initial question fetch failed, using fallback pack")
		questions = FallbackQuestions(s.room.Difficulty)
	}
	s.appendQuestions(questions)

	s.log.Info().
		Int("players", len(s.players)).
		Int("questions", len(s.questions)).
		Msg("set started")
	s.publish(ctx, domain.RoomChannel(s.room.ID), domain.EventSetStart, domain.SetStartPayload{
		SetID:          s.setID,
		TotalQuestions: s.settings.QuestionsPerSet,
		PlayerCount:    len(s.players),
	})
	s.startQuestion(ctx)
}

func (s *RoomSession) fetchBatch(ctx context.Context) ([]domain.Question, error) {
	exclude := make([]string, 0, len(s.used))
	for id := range s.used {
		exclude = append(exclude, id)
	}
	sort.Strings(exclude)
	fctx, cancel := s.storeCtx(ctx)
	defer cancel()
	return s.deps.Questions.FetchQuestions(fctx, s.settings.BatchSize, s.room.Difficulty, exclude)
}

func (s *RoomSession) appendQuestions(qs []domain.Question) {
	for _, q := range qs {
		if _, dup := s.used[q.ID]; dup || len(q.Options) == 0 {
			continue
		}
		s.used[q.ID] = struct{}{}
		s.questions = append(s.questions, q)
	}
}

func (s *RoomSession) startQuestion(ctx context.Context) {
	if s.settings.QuestionsPerSet > 0 && s.index >= s.settings.QuestionsPerSet {
		s.endSet(ctx)
		return
	}
	if s.index >= len(s.questions) {
		more, err := s.fetchBatch(ctx)
		if err != nil {
			s.log.Warn().Err(err).Msg("question refill failed")
		}
		s.appendQuestions(more)
		if s.index >= len(s.questions) {
			s.log.Info().Int("asked", s.index).Msg("question supply exhausted")
			s.endSet(ctx)
			return
		}
	}

	q := s.questions[s.index]
	d := s.settings.QuestionDuration(q)
	s.resetQuestionState()
	s.phase = domain.PhaseQuestion
	s.deadline = s.deps.Clock.Now().Add(d)
	s.timers.CancelAll()

	s.publish(ctx, domain.RoomChannel(s.room.ID), domain.EventQuestionStart, domain.QuestionStartPayload{
		Question:         q.View(),
		QuestionIndex:    s.index,
		TotalQuestions:   s.settings.QuestionsPerSet,
		QuestionDuration: int(d.Seconds()),
	})
	s.timers.Arm(TimerQuestionDeadline, d)

	go func(q domain.Question) {
		mctx, cancel := s.storeCtx(context.Background())
		defer cancel()
		if err := s.deps.Questions.MarkAsked(mctx, q.ID, q.Category); err != nil {
			s.log.Warn().Err(err).Str("question_id", q.ID).Msg("mark asked failed")
		}
	}(q)
}

func (s *RoomSession) resetQuestionState() {
	s.states = make(map[string]*domain.PlayerQuestionState)
	s.winnerID = ""
	s.winnerName = ""
	s.winnerPoints = 0
	s.questionBadges = make(map[string][]domain.Badge)
}

func (s *RoomSession) currentQuestion() (domain.Question, bool) {
	if s.index < 0 || s.index >= len(s.questions) {
		return domain.Question{}, false
	}
	return s.questions[s.index], true
}

func (s *RoomSession) handleAnswer(ctx context.Context, playerID string, answerIndex int) {
	if s.phase != domain.PhaseQuestion {
		return
	}
	player, ok := s.players[playerID]
	if !ok {
		return
	}
	q, ok := s.currentQuestion()
	if !ok {
		return
	}

	state := s.states[playerID]
	res := Resolve(state, q, s.winnerID != "", answerIndex, s.settings.scoringFor(q.Difficulty))
	if res.Outcome == OutcomeIgnored {
		s.log.Debug().Str("player_id", playerID).Int("answer_index", answerIndex).Msg("answer ignored")
		return
	}
	if state == nil {
		state = &domain.PlayerQuestionState{}
		s.states[playerID] = state
	}

	if !state.QuotaChecked && !player.Authenticated && s.deps.Quota != nil {
		cctx, cancel := s.storeCtx(ctx)
		status := s.deps.Quota.Check(cctx, player)
		cancel()
		if status.Blocked {
			s.log.Info().Str("player_id", playerID).Int("count", status.Count).Msg("guest quota exceeded")
			s.publish(ctx, domain.PlayerChannel(playerID), domain.EventQuotaExceeded, domain.QuotaExceededPayload{
				Limit:   s.deps.Quota.Limit(),
				Message: "Daily free question limit reached. Sign in to keep playing.",
			})
			return
		}
		state.QuotaChecked = true
		qctx, cancel := s.storeCtx(ctx)
		if err := s.deps.Quota.Increment(qctx, player); err != nil {
			s.log.Warn().Err(err).Str("player_id", playerID).Msg("quota increment failed")
		}
		cancel()
	}

	res.Apply(state, answerIndex)
	switch res.Outcome {
	case OutcomeCorrectWinner:
		s.recordWinner(ctx, player, q, res, state)
	case OutcomeCorrectLate:
		s.publish(ctx, domain.PlayerChannel(playerID), domain.EventCorrectButSlow, domain.CorrectButSlowPayload{
			WinnerName: s.winnerName,
		})
	case OutcomeWrong:
		s.recordWrong(ctx, player, q, res, state, answerIndex)
	}
}

func (s *RoomSession) recordWinner(ctx context.Context, player domain.Player, q domain.Question, res Resolution, state *domain.PlayerQuestionState) {
	s.winnerID = player.ID
	s.winnerName = player.DisplayName
	s.winnerPoints = res.PointsDelta
	s.scores[player.ID] += res.PointsDelta

	consecutive := 1
	if last, ok := s.lastWon[player.ID]; ok && last == s.index-1 {
		consecutive = s.streaks[player.ID] + 1
	}
	s.streaks[player.ID] = consecutive
	s.lastWon[player.ID] = s.index

	s.log.Info().
		Str("player_id", player.ID).
		Str("question_id", q.ID).
		Int("points", res.PointsDelta).
		Int("consecutive", consecutive).
		Msg("question won")

	s.publish(ctx, domain.RoomChannel(s.room.ID), domain.EventAnswerResult, domain.AnswerResultPayload{
		PlayerID:      player.ID,
		AnswerIndex:   q.CorrectIndex,
		IsCorrect:     true,
		CorrectIndex:  q.CorrectIndex,
		PointsAwarded: res.PointsDelta,
	})

	// Late answers already in flight are still classified during the grace window.
	s.timers.Arm(TimerQuestionDeadline, s.settings.RevealGrace)

	s.persistWin(ctx, player, q, res.PointsDelta, consecutive, state.GuessCount)
}

func (s *RoomSession) recordWrong(ctx context.Context, player domain.Player, q domain.Question, res Resolution, state *domain.PlayerQuestionState, answerIndex int) {
	s.scores[player.ID] += res.PointsDelta

	wrong := make([]int, len(state.WrongAnswers))
	copy(wrong, state.WrongAnswers)
	s.publish(ctx, domain.PlayerChannel(player.ID), domain.EventWrongAnswer, domain.WrongAnswerPayload{
		AnswerIndex:  answerIndex,
		Penalty:      res.Penalty,
		GuessCount:   state.GuessCount,
		WrongAnswers: wrong,
	})

	sctx, cancel := s.storeCtx(ctx)
	defer cancel()
	if err := s.deps.Questions.MarkIncorrect(sctx, q.ID); err != nil {
		s.log.Warn().Err(err).Str("question_id", q.ID).Msg("mark incorrect failed")
	}
	s.bumpBoards(sctx, player.ID, res.PointsDelta)
	if s.deps.Stats != nil {
		if _, err := s.deps.Stats.IncrementStats(sctx, player.ID, domain.StatsDelta{Wrong: 1, Points: res.PointsDelta}); err != nil {
			s.log.Warn().Err(err).Str("player_id", player.ID).Msg("stats increment failed")
		}
	}
}

func (s *RoomSession) persistWin(ctx context.Context, player domain.Player, q domain.Question, points, consecutive, wrongGuesses int) {
	sctx, cancel := s.storeCtx(ctx)
	defer cancel()

	if err := s.deps.Questions.MarkCorrect(sctx, q.ID); err != nil {
		s.log.Warn().Err(err).Str("question_id", q.ID).Msg("mark correct failed")
	}
	s.bumpBoards(sctx, player.ID, points)

	if s.deps.Stats == nil {
		return
	}
	stats, err := s.deps.Stats.IncrementStats(sctx, player.ID, domain.StatsDelta{
		Correct:     1,
		Points:      points,
		StreakDelta: 1,
		ResetStreak: consecutive == 1,
	})
	if err != nil {
		s.log.Warn().Err(err).Str("player_id", player.ID).Msg("stats increment failed")
		return
	}
	if s.deps.Badges == nil {
		return
	}
	badges, err := s.deps.Badges.Evaluate(sctx, stats, domain.BadgeContext{
		RoomID:        s.room.ID,
		SetID:         s.setID,
		QuestionID:    q.ID,
		QuestionIndex: s.index,
		Difficulty:    q.Difficulty,
		Consecutive:   consecutive,
		WrongGuesses:  wrongGuesses,
		Points:        points,
	})
	if err != nil {
		s.log.Warn().Err(err).Str("player_id", player.ID).Msg("badge evaluation failed")
		return
	}
	s.recordBadges(player.ID, badges)
}

func (s *RoomSession) recordBadges(playerID string, badges []domain.Badge) {
	for _, b := range badges {
		s.questionBadges[playerID] = append(s.questionBadges[playerID], b)
		dup := false
		for _, id := range s.setBadges[playerID] {
			if id == b.ID {
				dup = true
				break
			}
		}
		if !dup {
			s.setBadges[playerID] = append(s.setBadges[playerID], b.ID)
		}
	}
}

func (s *RoomSession) bumpBoards(ctx context.Context, playerID string, delta int) {
	if s.deps.Leaderboard == nil || delta == 0 {
		return
	}
	now := s.deps.Clock.Now()
	for _, board := range []string{boardAllTime, dailyBoard(now)} {
		if err := s.deps.Leaderboard.IncrementScore(ctx, board, playerID, delta); err != nil {
			s.log.Warn().Err(err).Str("board", board).Str("player_id", playerID).Msg("leaderboard increment failed")
		}
	}
}

func (s *RoomSession) handleTimer(ctx context.Context, kind TimerKind, gen uint64) {
	if !s.timers.Consume(kind, gen) {
		return
	}
	switch kind {
	case TimerQuestionDeadline:
		if s.phase == domain.PhaseQuestion {
			s.showResults(ctx)
		}
	case TimerResultsAdvance:
		if s.phase == domain.PhaseResults {
			s.advance(ctx)
		}
	}
}

func (s *RoomSession) showResults(ctx context.Context) {
	q, ok := s.currentQuestion()
	if !ok {
		return
	}
	s.phase = domain.PhaseResults
	s.timers.Cancel(TimerQuestionDeadline)

	results := make(map[string]domain.PlayerResult, len(s.players))
	for id := range s.players {
		st := s.states[id]
		if st == nil {
			results[id] = domain.PlayerResult{}
			continue
		}
		results[id] = domain.PlayerResult{
			Answered: st.GuessCount > 0 || st.AnsweredCorrectly,
			Correct:  st.AnsweredCorrectly,
		}
	}

	var winnerID, winnerName *string
	if s.winnerID != "" {
		id, name := s.winnerID, s.winnerName
		winnerID, winnerName = &id, &name
	}
	var badges map[string][]domain.Badge
	if len(s.questionBadges) > 0 {
		badges = s.questionBadges
	}

	s.publish(ctx, domain.RoomChannel(s.room.ID), domain.EventQuestionEnd, domain.QuestionEndPayload{
		CorrectIndex:   q.CorrectIndex,
		Explanation:    q.Explanation,
		Citation:       q.Citation,
		Scores:         s.scoreSnapshot(),
		Leaderboard:    s.leaderboard(),
		WinnerID:       winnerID,
		WinnerName:     winnerName,
		WinnerPoints:   s.winnerPoints,
		PlayerResults:  results,
		Badges:         badges,
		NextQuestionIn: int(math.Ceil(s.settings.ResultsDuration.Seconds())),
	})
	s.timers.Arm(TimerResultsAdvance, s.settings.ResultsDuration)
}

func (s *RoomSession) advance(ctx context.Context) {
	s.index++
	s.resetQuestionState()
	s.phase = domain.PhaseWaiting
	s.startQuestion(ctx)
}

func (s *RoomSession) endSet(ctx context.Context) {
	if s.completed {
		return
	}
	s.completed = true
	s.timers.CancelAll()
	s.phase = domain.PhaseWaiting

	summary := make(map[string][]string, len(s.setBadges))
	for id, badges := range s.setBadges {
		summary[id] = append([]string(nil), badges...)
	}
	s.log.Info().Int("asked", s.index).Msg("set ended")
	s.publish(ctx, domain.RoomChannel(s.room.ID), domain.EventSetEnd, domain.SetEndPayload{
		SetID:         s.setID,
		FinalScores:   s.scoreSnapshot(),
		Leaderboard:   s.leaderboard(),
		BadgesSummary: summary,
	})
	if s.onEnded != nil {
		s.onEnded(s)
	}
}

// leaderboard ranks present players by score; ties keep join order.
func (s *RoomSession) leaderboard() []domain.LeaderboardEntry {
	entries := make([]domain.LeaderboardEntry, 0, len(s.players))
	for _, id := range s.order {
		p, ok := s.players[id]
		if !ok {
			continue
		}
		entries = append(entries, domain.LeaderboardEntry{
			PlayerID:    id,
			DisplayName: p.DisplayName,
			Score:       s.scores[id],
		})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Score > entries[j].Score
	})
	for i := range entries {
		entries[i].Rank = i + 1
	}
	return entries
}

func (s *RoomSession) scoreSnapshot() map[string]int {
	out := make(map[string]int, len(s.players))
	for id := range s.players {
		out[id] = s.scores[id]
	}
	return out
}

func (s *RoomSession) publish(ctx context.Context, channel, eventType string, payload any) {
	err := s.deps.Publisher.Publish(ctx, domain.Event{
		Channel: channel,
		Type:    eventType,
		RoomID:  s.room.ID,
		Payload: payload,
	})
	if err != nil {
		s.log.Warn().Err(err).Str("event", eventType).Msg("publish failed")
	}
}

func (s *RoomSession) storeCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.settings.StoreTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.settings.StoreTimeout)
}
