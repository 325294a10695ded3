package http

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"trivia-room-service/internal/app"
	"trivia-room-service/internal/domain"
)

const (
	defaultBoardLimit = 10
	maxBoardLimit     = 100
)

// RoomLister exposes the lobby's room summaries.
type RoomLister interface {
	Rooms() []domain.RoomSummary
}

// APIHandler serves the read-only lobby endpoints.
type APIHandler struct {
	rooms  RoomLister
	boards app.LeaderboardStore
	clock  clockwork.Clock
}

func NewAPIHandler(rooms RoomLister, boards app.LeaderboardStore, clock clockwork.Clock) *APIHandler {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &APIHandler{rooms: rooms, boards: boards, clock: clock}
}

// Register mounts the endpoints on mux.
func (h *APIHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", h.Health)
	mux.HandleFunc("/rooms", h.Rooms)
	mux.HandleFunc("/leaderboard", h.Leaderboard)
}

func (h *APIHandler) Health(w http.ResponseWriter, r *http.Request) {
	w.Write([]byte("ok"))
}

func (h *APIHandler) Rooms(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"rooms": h.rooms.Rooms()})
}

type leaderboardResponse struct {
	Board   string                    `json:"board"`
	Entries []domain.LeaderboardEntry `json:"entries"`
}

func (h *APIHandler) Leaderboard(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	q := r.URL.Query()
	name := q.Get("board")
	switch name {
	case "":
		name = "alltime"
	case "alltime", "daily":
	default:
		http.Error(w, "board must be alltime or daily", http.StatusBadRequest)
		return
	}
	limit := defaultBoardLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = min(n, maxBoardLimit)
	}

	key := app.BoardKey(name, h.clock.Now())
	entries, err := h.boards.Top(r.Context(), key, limit)
	if err != nil {
		log.Warn().Err(err).Str("board", key).Msg("leaderboard read failed")
		http.Error(w, "leaderboard unavailable", http.StatusServiceUnavailable)
		return
	}
	if entries == nil {
		entries = []domain.LeaderboardEntry{}
	}
	writeJSON(w, http.StatusOK, leaderboardResponse{Board: key, Entries: entries})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Debug().Err(err).Msg("response write failed")
	}
}
