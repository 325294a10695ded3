package app

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trivia-room-service/internal/domain"
)

type mapSessions struct {
	mu sync.Mutex
	m  map[string]*RoomSession
}

func (r *mapSessions) Put(roomID string, s *RoomSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m[roomID] = s
}

func (r *mapSessions) Get(roomID string) (*RoomSession, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.m[roomID]
	return s, ok
}

func (r *mapSessions) Delete(roomID string, s *RoomSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.m[roomID] == s {
		delete(r.m, roomID)
	}
}

func (r *mapSessions) All() []*RoomSession {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*RoomSession, 0, len(r.m))
	for _, s := range r.m {
		out = append(out, s)
	}
	return out
}

type lobby struct {
	m        *Manager
	pub      *recorder
	clock    *clockwork.FakeClock
	sessions *mapSessions
}

func newLobby(t *testing.T, settings Settings, batches ...[]domain.Question) *lobby {
	t.Helper()
	l := &lobby{
		pub:      &recorder{},
		clock:    clockwork.NewFakeClockAt(sessionDay),
		sessions: &mapSessions{m: make(map[string]*RoomSession)},
	}
	deps := Dependencies{
		Questions: &supplyStub{batches: batches},
		Publisher: l.pub,
		Clock:     l.clock,
	}
	l.m = NewManager(settings, deps, l.sessions)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	l.m.Start(ctx)
	return l
}

func (l *lobby) waitFor(t *testing.T, typ string, n int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(l.pub.ofType(typ)) >= n
	}, 2*time.Second, 5*time.Millisecond, "waiting for %d %s", n, typ)
}

func (l *lobby) blockUntil(t *testing.T, waiters int) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, l.clock.BlockUntilContext(ctx, waiters))
}

func TestJoinStartsSetInPermanentRoom(t *testing.T) {
	l := newLobby(t, testSettings(), []domain.Question{question("q1", 1)})

	room, err := l.m.Join(context.Background(), JoinRequest{Player: member("x", "X"), Difficulty: domain.DifficultyMedium})
	require.NoError(t, err)
	assert.Equal(t, "medium-1", room.ID)
	assert.Equal(t, domain.RoomInProgress, room.Status)

	l.waitFor(t, domain.EventQuestionStart, 1)
	_, start := lastPayload[domain.SetStartPayload](t, l.pub, domain.EventSetStart)
	assert.Equal(t, "medium-1:1", start.SetID)
	assert.Equal(t, 1, start.PlayerCount)

	var summary domain.RoomSummary
	for _, r := range l.m.Rooms() {
		if r.ID == "medium-1" {
			summary = r
		}
	}
	assert.Equal(t, 1, summary.Players)
	assert.Equal(t, "medium-1:1", summary.SetID)
	assert.Len(t, l.m.Rooms(), 3)
}

func TestJoinAttachesBeforeSessionStarts(t *testing.T) {
	l := newLobby(t, testSettings(), []domain.Question{question("q1", 1)})

	var attached []string
	var eventsAtAttach int
	_, err := l.m.Join(context.Background(), JoinRequest{
		Player:     member("x", "X"),
		Difficulty: domain.DifficultyEasy,
		Attach: func(room domain.Room) {
			attached = append(attached, room.ID)
			eventsAtAttach = l.pub.count()
		},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"easy-1"}, attached)
	assert.Zero(t, eventsAtAttach)
	l.waitFor(t, domain.EventSetStart, 1)
}

func TestJoinRunningSetRoutesAnswers(t *testing.T) {
	l := newLobby(t, testSettings(), []domain.Question{question("q1", 1)})
	ctx := context.Background()

	_, err := l.m.Join(ctx, JoinRequest{Player: member("x", "X"), Difficulty: domain.DifficultyMedium})
	require.NoError(t, err)
	l.waitFor(t, domain.EventQuestionStart, 1)

	_, err = l.m.Join(ctx, JoinRequest{Player: member("y", "Y"), Difficulty: domain.DifficultyMedium})
	require.NoError(t, err)
	l.m.SubmitAnswer("medium-1", "y", 1)

	l.waitFor(t, domain.EventAnswerResult, 1)
	_, res := lastPayload[domain.AnswerResultPayload](t, l.pub, domain.EventAnswerResult)
	assert.Equal(t, "y", res.PlayerID)

	// idle rooms drop answers
	l.m.SubmitAnswer("hard-1", "y", 0)
	assert.Len(t, l.pub.ofType(domain.EventAnswerResult), 1)
}

func TestOverflowRoomWhenFull(t *testing.T) {
	settings := testSettings()
	settings.RoomCapacity = 1
	l := newLobby(t, settings)
	ctx := context.Background()

	first, err := l.m.Join(ctx, JoinRequest{Player: member("x", "X"), Difficulty: domain.DifficultyHard})
	require.NoError(t, err)
	second, err := l.m.Join(ctx, JoinRequest{Player: member("y", "Y"), Difficulty: domain.DifficultyHard})
	require.NoError(t, err)

	assert.Equal(t, "hard-1", first.ID)
	assert.NotEqual(t, first.ID, second.ID)
	assert.True(t, strings.HasPrefix(second.ID, "hard-"))
	assert.False(t, second.Permanent)
	assert.Len(t, l.m.Rooms(), 4)

	// rejoining lands in the room the player already occupies
	again, err := l.m.Join(ctx, JoinRequest{Player: member("y", "Y"), Difficulty: domain.DifficultyHard})
	require.NoError(t, err)
	assert.Equal(t, second.ID, again.ID)

	_, err = l.m.Join(ctx, JoinRequest{Player: member("z", "Z"), RoomID: "hard-1"})
	assert.ErrorIs(t, err, domain.ErrRoomFull)

	// y holds two connections now; the room goes away with the second leave
	l.m.Leave(ctx, second.ID, "y")
	assert.Len(t, l.m.Rooms(), 4)
	l.m.Leave(ctx, second.ID, "y")
	assert.Len(t, l.m.Rooms(), 3)
}

func TestSecondConnectionKeepsPlayerPresent(t *testing.T) {
	l := newLobby(t, testSettings(), []domain.Question{question("q1", 1)})
	ctx := context.Background()

	_, err := l.m.Join(ctx, JoinRequest{Player: member("y", "Y"), Difficulty: domain.DifficultyMedium})
	require.NoError(t, err)
	l.waitFor(t, domain.EventQuestionStart, 1)

	first := member("x", "X")
	first.JoinedAt = sessionDay.Add(time.Second)
	_, err = l.m.Join(ctx, JoinRequest{Player: first, Difficulty: domain.DifficultyMedium})
	require.NoError(t, err)
	second := member("x", "X")
	second.JoinedAt = sessionDay.Add(time.Minute)
	_, err = l.m.Join(ctx, JoinRequest{Player: second, Difficulty: domain.DifficultyMedium})
	require.NoError(t, err)

	// the older connection closes while the newer one stays open
	l.m.Leave(ctx, "medium-1", "x")

	members := l.m.Members("medium-1")
	require.Len(t, members, 2)
	assert.Equal(t, "x", members[1].ID)
	assert.Equal(t, sessionDay.Add(time.Second), members[1].JoinedAt)

	l.m.SubmitAnswer("medium-1", "x", 1)
	l.waitFor(t, domain.EventAnswerResult, 1)
	_, res := lastPayload[domain.AnswerResultPayload](t, l.pub, domain.EventAnswerResult)
	assert.Equal(t, "x", res.PlayerID)
	assert.True(t, res.IsCorrect)

	l.m.Leave(ctx, "medium-1", "x")
	members = l.m.Members("medium-1")
	require.Len(t, members, 1)
	assert.Equal(t, "y", members[0].ID)
}

func TestJoinValidation(t *testing.T) {
	l := newLobby(t, testSettings())
	ctx := context.Background()

	_, err := l.m.Join(ctx, JoinRequest{Player: domain.Player{DisplayName: "nobody"}})
	assert.ErrorIs(t, err, domain.ErrMissingIdentity)

	_, err = l.m.Join(ctx, JoinRequest{Player: member("x", "X"), RoomID: "nope"})
	assert.ErrorIs(t, err, domain.ErrRoomNotFound)
}

func TestSystemParticipantDoesNotStartSet(t *testing.T) {
	l := newLobby(t, testSettings())

	_, err := l.m.Join(context.Background(), JoinRequest{
		Player:     domain.Player{ID: "monitor", System: true},
		Difficulty: domain.DifficultyEasy,
	})
	require.NoError(t, err)

	_, active := l.sessions.Get("easy-1")
	assert.False(t, active)
	assert.Empty(t, l.m.Members("easy-1"))
}

func TestLastLeaveTearsDownSession(t *testing.T) {
	l := newLobby(t, testSettings(), []domain.Question{question("q1", 1)})
	ctx := context.Background()

	_, err := l.m.Join(ctx, JoinRequest{Player: member("x", "X"), Difficulty: domain.DifficultyMedium})
	require.NoError(t, err)
	l.waitFor(t, domain.EventQuestionStart, 1)
	session, ok := l.sessions.Get("medium-1")
	require.True(t, ok)

	l.m.Leave(ctx, "medium-1", "x")

	select {
	case <-session.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session still running")
	}
	_, active := l.sessions.Get("medium-1")
	assert.False(t, active)
	assert.Empty(t, l.pub.ofType(domain.EventSetEnd))
	for _, r := range l.m.Rooms() {
		assert.Equal(t, domain.RoomWaiting, r.Status, r.ID)
	}
}

func TestMembersInJoinOrder(t *testing.T) {
	l := newLobby(t, testSettings())
	ctx := context.Background()

	late := member("a", "A")
	late.JoinedAt = sessionDay.Add(time.Minute)
	early := member("b", "B")
	early.JoinedAt = sessionDay

	_, err := l.m.Join(ctx, JoinRequest{Player: late, Difficulty: domain.DifficultyEasy})
	require.NoError(t, err)
	_, err = l.m.Join(ctx, JoinRequest{Player: early, Difficulty: domain.DifficultyEasy})
	require.NoError(t, err)

	members := l.m.Members("easy-1")
	require.Len(t, members, 2)
	assert.Equal(t, "b", members[0].ID)
	assert.Equal(t, "a", members[1].ID)
}

func TestNextSetStartsAfterCooldown(t *testing.T) {
	settings := testSettings()
	settings.QuestionsPerSet = 1
	l := newLobby(t, settings, []domain.Question{question("q1", 1)})

	_, err := l.m.Join(context.Background(), JoinRequest{Player: member("x", "X"), Difficulty: domain.DifficultyMedium})
	require.NoError(t, err)
	l.waitFor(t, domain.EventQuestionStart, 1)

	l.blockUntil(t, 1)
	l.clock.Advance(10 * time.Second)
	l.waitFor(t, domain.EventQuestionEnd, 1)

	l.blockUntil(t, 1)
	l.clock.Advance(5 * time.Second)
	l.waitFor(t, domain.EventSetEnd, 1)

	l.blockUntil(t, 1)
	l.clock.Advance(settings.RestartCooldown)
	l.waitFor(t, domain.EventSetStart, 2)

	_, start := lastPayload[domain.SetStartPayload](t, l.pub, domain.EventSetStart)
	assert.Equal(t, "medium-1:2", start.SetID)
}

func TestNoRestartWhenRoomEmptied(t *testing.T) {
	settings := testSettings()
	settings.QuestionsPerSet = 1
	l := newLobby(t, settings, []domain.Question{question("q1", 1)})
	ctx := context.Background()

	_, err := l.m.Join(ctx, JoinRequest{Player: member("x", "X"), Difficulty: domain.DifficultyMedium})
	require.NoError(t, err)
	l.waitFor(t, domain.EventQuestionStart, 1)

	l.blockUntil(t, 1)
	l.clock.Advance(10 * time.Second)
	l.waitFor(t, domain.EventQuestionEnd, 1)
	l.blockUntil(t, 1)
	l.clock.Advance(5 * time.Second)
	l.waitFor(t, domain.EventSetEnd, 1)
	l.blockUntil(t, 1)

	l.m.Leave(ctx, "medium-1", "x")
	l.clock.Advance(settings.RestartCooldown)
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, l.pub.ofType(domain.EventSetStart), 1)
}

func TestShutdownEndsRunningSets(t *testing.T) {
	l := newLobby(t, testSettings(), []domain.Question{question("q1", 1)})
	ctx := context.Background()

	_, err := l.m.Join(ctx, JoinRequest{Player: member("x", "X"), Difficulty: domain.DifficultyMedium})
	require.NoError(t, err)
	l.waitFor(t, domain.EventQuestionStart, 1)
	l.blockUntil(t, 1)

	done := make(chan error, 1)
	go func() { done <- l.m.Shutdown(ctx) }()

	// question deadline plus the shutdown grace
	l.blockUntil(t, 2)
	_, err = l.m.Join(ctx, JoinRequest{Player: member("y", "Y"), Difficulty: domain.DifficultyEasy})
	assert.ErrorIs(t, err, domain.ErrShuttingDown)
	l.clock.Advance(testSettings().ShutdownGrace)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown did not finish")
	}
	_, end := lastPayload[domain.SetEndPayload](t, l.pub, domain.EventSetEnd)
	assert.Equal(t, map[string]int{"x": 0}, end.FinalScores)
	assert.Empty(t, l.sessions.All())
}
