package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"

	"trivia-room-service/internal/app"
	"trivia-room-service/internal/domain"
)

// Config holds the NATS connection settings.
type Config struct {
	URL           string
	SubjectPrefix string
	MaxReconnects int
	ReconnectWait time.Duration
}

func DefaultConfig() Config {
	return Config{
		URL:           nats.DefaultURL,
		SubjectPrefix: "trivia",
		MaxReconnects: -1, // Infinite
		ReconnectWait: 2 * time.Second,
	}
}

// Router receives commands arriving from other gateway instances.
type Router interface {
	Join(ctx context.Context, req app.JoinRequest) (domain.Room, error)
	Leave(ctx context.Context, roomID, playerID string)
	SubmitAnswer(roomID, playerID string, answerIndex int)
}

type conn interface {
	Publish(subject string, data []byte) error
}

// Bus publishes room events to NATS and routes inbound commands to the lobby.
// Room events go to {prefix}.room.{roomId}, per-player events to
// {prefix}.player.{playerId}; commands are read from {prefix}.inbound.>.
type Bus struct {
	nc     *nats.Conn
	conn   conn
	prefix string
	sub    *nats.Subscription
}

// Connect dials NATS with reconnect logging.
func Connect(cfg Config) (*Bus, error) {
	opts := []nats.Option{
		nats.Name("trivia-room-service"),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	b := newBus(nc, cfg.SubjectPrefix)
	b.nc = nc
	return b, nil
}

func newBus(c conn, prefix string) *Bus {
	if prefix == "" {
		prefix = "trivia"
	}
	return &Bus{conn: c, prefix: prefix}
}

// Envelope is the wire form of an outbound event.
type Envelope struct {
	Type    string `json:"type"`
	RoomID  string `json:"roomId"`
	Payload any    `json:"payload"`
}

func (b *Bus) Publish(_ context.Context, ev domain.Event) error {
	subject, err := b.Subject(ev.Channel)
	if err != nil {
		return err
	}
	data, err := json.Marshal(Envelope{Type: ev.Type, RoomID: ev.RoomID, Payload: ev.Payload})
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := b.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}

// Subject maps a domain channel ("room:x", "player:y") to a NATS subject.
func (b *Bus) Subject(channel string) (string, error) {
	kind, id, ok := strings.Cut(channel, ":")
	if !ok || id == "" || (kind != "room" && kind != "player") {
		return "", fmt.Errorf("unroutable channel %q", channel)
	}
	return b.prefix + "." + kind + "." + token(id), nil
}

// token keeps ids from splitting into extra subject tokens.
func token(id string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', ' ', '*', '>', '\t', '\n':
			return '_'
		}
		return r
	}, id)
}

// Command is an inbound request from another gateway.
type Command struct {
	Type          string `json:"type"`
	RoomID        string `json:"roomId,omitempty"`
	PlayerID      string `json:"playerId"`
	DisplayName   string `json:"displayName,omitempty"`
	Difficulty    string `json:"difficulty,omitempty"`
	AnswerIndex   int    `json:"answerIndex"`
	Authenticated bool   `json:"authenticated,omitempty"`
	GuestID       string `json:"guestId,omitempty"`
	Fingerprint   string `json:"fingerprint,omitempty"`
	Address       string `json:"address,omitempty"`
}

const (
	CommandJoin   = "join"
	CommandLeave  = "leave"
	CommandAnswer = "answer"
)

// JoinReply answers a join command sent with a reply subject.
type JoinReply struct {
	Room  *domain.Room `json:"room,omitempty"`
	Error string       `json:"error,omitempty"`
}

var errUnknownCommand = errors.New("unknown command")

// Listen subscribes to inbound commands until Close.
func (b *Bus) Listen(ctx context.Context, router Router) error {
	if b.nc == nil {
		return errors.New("bus is not connected")
	}
	sub, err := b.nc.Subscribe(b.prefix+".inbound.>", func(msg *nats.Msg) {
		reply, err := b.dispatch(ctx, router, msg.Data)
		if err != nil {
			log.Warn().Err(err).Str("subject", msg.Subject).Msg("inbound command rejected")
		}
		if msg.Reply != "" && reply != nil {
			if err := msg.Respond(reply); err != nil {
				log.Warn().Err(err).Msg("inbound reply failed")
			}
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe inbound: %w", err)
	}
	b.sub = sub
	log.Info().Str("subject", sub.Subject).Msg("listening for inbound commands")
	return nil
}

// dispatch routes one command and returns the reply body for joins.
func (b *Bus) dispatch(ctx context.Context, router Router, data []byte) ([]byte, error) {
	var cmd Command
	if err := json.Unmarshal(data, &cmd); err != nil {
		return nil, fmt.Errorf("decode command: %w", err)
	}
	if cmd.PlayerID == "" {
		return nil, domain.ErrMissingIdentity
	}

	switch cmd.Type {
	case CommandJoin:
		difficulty, err := domain.ParseDifficulty(cmd.Difficulty)
		if err != nil {
			return joinReply(nil, err), err
		}
		room, err := router.Join(ctx, app.JoinRequest{
			Player: domain.Player{
				ID:             cmd.PlayerID,
				DisplayName:    cmd.DisplayName,
				Authenticated:  cmd.Authenticated,
				GuestID:        cmd.GuestID,
				Fingerprint:    cmd.Fingerprint,
				NetworkAddress: cmd.Address,
			},
			Difficulty: difficulty,
			RoomID:     cmd.RoomID,
		})
		if err != nil {
			return joinReply(nil, err), err
		}
		return joinReply(&room, nil), nil
	case CommandLeave:
		router.Leave(ctx, cmd.RoomID, cmd.PlayerID)
		return nil, nil
	case CommandAnswer:
		router.SubmitAnswer(cmd.RoomID, cmd.PlayerID, cmd.AnswerIndex)
		return nil, nil
	}
	return nil, fmt.Errorf("%w: %q", errUnknownCommand, cmd.Type)
}

func joinReply(room *domain.Room, err error) []byte {
	r := JoinReply{Room: room}
	if err != nil {
		r.Error = err.Error()
	}
	data, _ := json.Marshal(r)
	return data
}

// Close drains the inbound subscription and closes the connection.
func (b *Bus) Close() {
	if b.sub != nil {
		_ = b.sub.Unsubscribe()
	}
	if b.nc != nil {
		if err := b.nc.Drain(); err != nil {
			b.nc.Close()
		}
	}
}
