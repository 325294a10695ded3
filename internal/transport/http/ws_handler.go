package http

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"trivia-room-service/internal/app"
	"trivia-room-service/internal/auth"
	"trivia-room-service/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	maxNameLength  = 32
	answersPerSec  = 4
	answerBurst    = 4
	sendBufferSize = 32
)

// Lobby is the part of the session manager the websocket gateway drives.
type Lobby interface {
	Join(ctx context.Context, req app.JoinRequest) (domain.Room, error)
	Leave(ctx context.Context, roomID, playerID string)
	SubmitAnswer(roomID, playerID string, answerIndex int)
}

// EventSource streams published events for a set of channels.
type EventSource interface {
	Subscribe(channels ...string) (<-chan domain.Event, func())
}

// TokenVerifier resolves an authenticated player's token.
type TokenVerifier interface {
	Verify(token string) (auth.Identity, error)
}

type WSHandler struct {
	lobby    Lobby
	events   EventSource
	tokens   TokenVerifier
	upgrader websocket.Upgrader
}

func NewWSHandler(lobby Lobby, events EventSource, tokens TokenVerifier) *WSHandler {
	return &WSHandler{
		lobby:  lobby,
		events: events,
		tokens: tokens,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

type inboundMessage struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type answerPayload struct {
	AnswerIndex *int `json:"answerIndex"`
}

type joinedPayload struct {
	Room     domain.Room `json:"room"`
	PlayerID string      `json:"playerId"`
}

type outboundMessage[T any] struct {
	Type    string `json:"type"`
	RoomID  string `json:"roomId,omitempty"`
	Payload T      `json:"payload"`
}

type errorPayload struct {
	Message string `json:"message"`
}

// ServeWS upgrades HTTP requests to websockets, joins the player into a room
// and relays the room's events until the connection closes.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	player, difficulty, err := h.identify(r)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, domain.ErrInvalidToken) {
			status = http.StatusUnauthorized
		}
		http.Error(w, err.Error(), status)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("ws upgrade failed")
		return
	}
	defer conn.Close()

	var (
		updates <-chan domain.Event
		cancel  = func() {}
	)
	room, err := h.lobby.Join(r.Context(), app.JoinRequest{
		Player:     player,
		Difficulty: difficulty,
		RoomID:     r.URL.Query().Get("roomId"),
		Attach: func(room domain.Room) {
			updates, cancel = h.events.Subscribe(domain.RoomChannel(room.ID), domain.PlayerChannel(player.ID))
		},
	})
	if err != nil {
		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		_ = conn.WriteJSON(outboundMessage[errorPayload]{Type: "error", Payload: errorPayload{Message: err.Error()}})
		return
	}
	defer cancel()
	defer h.lobby.Leave(context.Background(), room.ID, player.ID)

	logger := log.With().Str("room_id", room.ID).Str("player_id", player.ID).Logger()
	logger.Info().Msg("player connected")

	send := make(chan outboundMessage[any], sendBufferSize)
	closeSignals := make(chan struct{})
	writerDone := make(chan struct{})
	updatesDone := make(chan struct{})

	push := func(msg outboundMessage[any]) bool {
		select {
		case send <- msg:
			return true
		case <-writerDone:
			return false
		}
	}

	go func() {
		defer close(writerDone)
		for msg := range send {
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(msg); err != nil {
				logger.Debug().Err(err).Msg("ws write failed")
				return
			}
		}
	}()

	push(outboundMessage[any]{Type: "joined", RoomID: room.ID, Payload: joinedPayload{Room: room, PlayerID: player.ID}})

	go func() {
		defer close(updatesDone)
		for {
			select {
			case ev, ok := <-updates:
				if !ok {
					return
				}
				if !push(outboundMessage[any]{Type: ev.Type, RoomID: ev.RoomID, Payload: ev.Payload}) {
					return
				}
			case <-closeSignals:
				return
			}
		}
	}()

	limiter := rate.NewLimiter(answersPerSec, answerBurst)
	for {
		var inbound inboundMessage
		if err := conn.ReadJSON(&inbound); err != nil {
			break
		}
		switch inbound.Type {
		case "answer":
			var payload answerPayload
			if err := json.Unmarshal(inbound.Payload, &payload); err != nil || payload.AnswerIndex == nil {
				push(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "invalid answer payload"}})
				continue
			}
			if !limiter.Allow() {
				push(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "too many answers"}})
				continue
			}
			h.lobby.SubmitAnswer(room.ID, player.ID, *payload.AnswerIndex)
		default:
			push(outboundMessage[any]{Type: "error", Payload: errorPayload{Message: "unsupported message type"}})
		}
	}

	close(closeSignals)
	<-updatesDone
	close(send)
	<-writerDone
	logger.Info().Msg("player disconnected")
}

// identify builds the player from the query string. A token makes the player
// authenticated; otherwise a guestId is required.
func (h *WSHandler) identify(r *http.Request) (domain.Player, domain.Difficulty, error) {
	q := r.URL.Query()
	difficulty, err := domain.ParseDifficulty(q.Get("difficulty"))
	if err != nil {
		return domain.Player{}, "", err
	}

	p := domain.Player{
		DisplayName:    displayName(q.Get("name")),
		Fingerprint:    q.Get("fp"),
		NetworkAddress: clientAddress(r),
	}
	if token := q.Get("token"); token != "" {
		if h.tokens == nil {
			return domain.Player{}, "", domain.ErrInvalidToken
		}
		id, err := h.tokens.Verify(token)
		if err != nil {
			return domain.Player{}, "", domain.ErrInvalidToken
		}
		p.ID = id.PlayerID
		p.Authenticated = true
		if q.Get("name") == "" && id.DisplayName != "" {
			p.DisplayName = displayName(id.DisplayName)
		}
		return p, difficulty, nil
	}

	guest := strings.TrimSpace(q.Get("guestId"))
	if guest == "" {
		return domain.Player{}, "", domain.ErrMissingIdentity
	}
	p.ID = "guest-" + guest
	p.GuestID = guest
	return p, difficulty, nil
}

func displayName(raw string) string {
	name := strings.TrimSpace(raw)
	if name == "" {
		return "Player"
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		name = string([]rune(name)[:maxNameLength])
	}
	return name
}

// clientAddress prefers the first X-Forwarded-For hop over the socket peer.
func clientAddress(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		if addr := strings.TrimSpace(first); addr != "" {
			return addr
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
