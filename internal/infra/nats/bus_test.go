package nats

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trivia-room-service/internal/app"
	"trivia-room-service/internal/domain"
)

type sent struct {
	subject string
	data    []byte
}

type fakeConn struct {
	msgs []sent
	err  error
}

func (c *fakeConn) Publish(subject string, data []byte) error {
	if c.err != nil {
		return c.err
	}
	c.msgs = append(c.msgs, sent{subject: subject, data: data})
	return nil
}

type fakeRouter struct {
	joins   []app.JoinRequest
	leaves  []string
	answers []int
	joinErr error
}

func (r *fakeRouter) Join(_ context.Context, req app.JoinRequest) (domain.Room, error) {
	r.joins = append(r.joins, req)
	if r.joinErr != nil {
		return domain.Room{}, r.joinErr
	}
	return domain.Room{ID: string(req.Difficulty) + "-1", Difficulty: req.Difficulty}, nil
}

func (r *fakeRouter) Leave(_ context.Context, roomID, playerID string) {
	r.leaves = append(r.leaves, roomID+"/"+playerID)
}

func (r *fakeRouter) SubmitAnswer(_, _ string, answerIndex int) {
	r.answers = append(r.answers, answerIndex)
}

func TestPublishRoutesBySubject(t *testing.T) {
	c := &fakeConn{}
	bus := newBus(c, "trivia")

	err := bus.Publish(context.Background(), domain.Event{
		Channel: domain.RoomChannel("easy-1"),
		Type:    domain.EventSetStart,
		RoomID:  "easy-1",
		Payload: domain.SetStartPayload{SetID: "easy-1:1", PlayerCount: 2},
	})
	require.NoError(t, err)
	err = bus.Publish(context.Background(), domain.Event{
		Channel: domain.PlayerChannel("user.42"),
		Type:    domain.EventWrongAnswer,
		RoomID:  "easy-1",
		Payload: domain.WrongAnswerPayload{AnswerIndex: 1, Penalty: 20, GuessCount: 1, WrongAnswers: []int{1}},
	})
	require.NoError(t, err)

	require.Len(t, c.msgs, 2)
	assert.Equal(t, "trivia.room.easy-1", c.msgs[0].subject)
	assert.Equal(t, "trivia.player.user_42", c.msgs[1].subject)

	var env struct {
		Type    string                 `json:"type"`
		RoomID  string                 `json:"roomId"`
		Payload map[string]interface{} `json:"payload"`
	}
	require.NoError(t, json.Unmarshal(c.msgs[1].data, &env))
	assert.Equal(t, domain.EventWrongAnswer, env.Type)
	assert.Equal(t, "easy-1", env.RoomID)
	assert.EqualValues(t, 20, env.Payload["penalty"])
}

func TestPublishRejectsUnknownChannel(t *testing.T) {
	bus := newBus(&fakeConn{}, "")
	err := bus.Publish(context.Background(), domain.Event{Channel: "lobby"})
	assert.Error(t, err)

	subject, err := bus.Subject("room:x")
	require.NoError(t, err)
	assert.Equal(t, "trivia.room.x", subject)
}

func TestPublishWrapsConnError(t *testing.T) {
	bus := newBus(&fakeConn{err: errors.New("nats: connection closed")}, "trivia")
	err := bus.Publish(context.Background(), domain.Event{Channel: "room:x"})
	assert.ErrorContains(t, err, "trivia.room.x")
}

func TestDispatchCommands(t *testing.T) {
	bus := newBus(&fakeConn{}, "trivia")
	router := &fakeRouter{}
	ctx := context.Background()

	reply, err := bus.dispatch(ctx, router, []byte(`{"type":"join","playerId":"p1","displayName":"Ann","difficulty":"hard","guestId":"g1"}`))
	require.NoError(t, err)
	require.Len(t, router.joins, 1)
	assert.Equal(t, domain.DifficultyHard, router.joins[0].Difficulty)
	assert.Equal(t, "g1", router.joins[0].Player.GuestID)

	var jr JoinReply
	require.NoError(t, json.Unmarshal(reply, &jr))
	require.NotNil(t, jr.Room)
	assert.Equal(t, "hard-1", jr.Room.ID)

	_, err = bus.dispatch(ctx, router, []byte(`{"type":"answer","roomId":"hard-1","playerId":"p1","answerIndex":3}`))
	require.NoError(t, err)
	assert.Equal(t, []int{3}, router.answers)

	_, err = bus.dispatch(ctx, router, []byte(`{"type":"leave","roomId":"hard-1","playerId":"p1"}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"hard-1/p1"}, router.leaves)
}

func TestDispatchRejectsBadCommands(t *testing.T) {
	bus := newBus(&fakeConn{}, "trivia")
	router := &fakeRouter{joinErr: domain.ErrShuttingDown}
	ctx := context.Background()

	_, err := bus.dispatch(ctx, router, []byte(`not json`))
	assert.Error(t, err)

	_, err = bus.dispatch(ctx, router, []byte(`{"type":"answer","roomId":"r"}`))
	assert.ErrorIs(t, err, domain.ErrMissingIdentity)

	_, err = bus.dispatch(ctx, router, []byte(`{"type":"dance","playerId":"p"}`))
	assert.ErrorIs(t, err, errUnknownCommand)

	reply, err := bus.dispatch(ctx, router, []byte(`{"type":"join","playerId":"p","difficulty":"extreme"}`))
	assert.ErrorIs(t, err, domain.ErrInvalidDifficulty)
	assert.Contains(t, string(reply), "invalid difficulty")

	reply, err = bus.dispatch(ctx, router, []byte(`{"type":"join","playerId":"p"}`))
	assert.ErrorIs(t, err, domain.ErrShuttingDown)
	assert.Contains(t, string(reply), "shutting down")
}
