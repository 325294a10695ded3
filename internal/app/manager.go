package app

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"trivia-room-service/internal/domain"
)

// JoinRequest asks the lobby to place a player. RoomID is optional; without
// it the first room of the difficulty with free capacity is used.
type JoinRequest struct {
	Player     domain.Player
	Difficulty domain.Difficulty
	RoomID     string
	// Attach runs once the room is chosen and before its session hears of the
	// player. It must not call back into the Manager.
	Attach func(room domain.Room)
}

type roomEntry struct {
	room    domain.Room
	members map[string]domain.Player
	// open connections per member; a player leaves with the last one
	conns   map[string]int
	setSeq  int
	restart clockwork.Timer
}

func (e *roomEntry) humans() int {
	n := 0
	for _, p := range e.members {
		if !p.System {
			n++
		}
	}
	return n
}

// Manager owns the rooms, their presence lists and the registry of running
// room sessions.
type Manager struct {
	settings Settings
	deps     Dependencies
	sessions SessionRepository
	clock    clockwork.Clock

	mu       sync.Mutex
	ctx      context.Context
	rooms    map[string]*roomEntry
	draining bool
	wg       sync.WaitGroup
}

// NewManager seeds one permanent room per difficulty. deps.Presence is
// replaced by the manager itself.
func NewManager(settings Settings, deps Dependencies, sessions SessionRepository) *Manager {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	m := &Manager{
		settings: settings,
		sessions: sessions,
		clock:    deps.Clock,
		ctx:      context.Background(),
		rooms:    make(map[string]*roomEntry),
	}
	deps.Presence = m
	m.deps = deps

	for _, d := range domain.Difficulties {
		id := fmt.Sprintf("%s-1", d)
		m.rooms[id] = m.newRoomEntry(id, d, true)
	}
	return m
}

// Start sets the context every room session runs under. Cancelling it stops
// all sessions without publishing results; use Shutdown for a graceful stop.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	m.ctx = ctx
	m.mu.Unlock()
	log.Info().Int("rooms", len(m.rooms)).Msg("session manager started")
}

func (m *Manager) newRoomEntry(id string, d domain.Difficulty, permanent bool) *roomEntry {
	return &roomEntry{
		room: domain.Room{
			ID:         id,
			Difficulty: d,
			Capacity:   m.settings.RoomCapacity,
			Status:     domain.RoomWaiting,
			Permanent:  permanent,
		},
		members: make(map[string]domain.Player),
		conns:   make(map[string]int),
	}
}

// Join places the player in a room and starts a set if the room was idle.
func (m *Manager) Join(ctx context.Context, req JoinRequest) (domain.Room, error) {
	p := req.Player
	if p.ID == "" {
		return domain.Room{}, domain.ErrMissingIdentity
	}
	if p.JoinedAt.IsZero() {
		p.JoinedAt = m.clock.Now()
	}

	m.mu.Lock()
	if m.draining {
		m.mu.Unlock()
		return domain.Room{}, domain.ErrShuttingDown
	}

	var entry *roomEntry
	if req.RoomID != "" {
		e, ok := m.rooms[req.RoomID]
		if !ok {
			m.mu.Unlock()
			return domain.Room{}, domain.ErrRoomNotFound
		}
		if _, member := e.members[p.ID]; !member && !p.System && e.room.Capacity > 0 && e.humans() >= e.room.Capacity {
			m.mu.Unlock()
			return domain.Room{}, domain.ErrRoomFull
		}
		entry = e
	} else {
		entry = m.pickRoomLocked(req.Difficulty, p.ID)
	}

	if prev, member := entry.members[p.ID]; member {
		p.JoinedAt = prev.JoinedAt
	}
	entry.members[p.ID] = p
	entry.conns[p.ID]++
	room := entry.room
	if req.Attach != nil {
		req.Attach(room)
	}
	if p.System {
		m.mu.Unlock()
		return room, nil
	}

	session, active := m.sessions.Get(room.ID)
	if !active {
		m.startSessionLocked(entry)
		room = entry.room
		m.mu.Unlock()
		return room, nil
	}
	m.mu.Unlock()

	session.PlayerJoined(p)
	log.Info().Str("room_id", room.ID).Str("player_id", p.ID).Msg("player joined running set")
	return room, nil
}

// pickRoomLocked prefers a room the player is already in, then permanent
// rooms, then the oldest overflow room with space; otherwise it opens a new one.
func (m *Manager) pickRoomLocked(d domain.Difficulty, playerID string) *roomEntry {
	candidates := make([]*roomEntry, 0, len(m.rooms))
	for _, e := range m.rooms {
		if e.room.Difficulty == d {
			candidates = append(candidates, e)
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].room.Permanent != candidates[j].room.Permanent {
			return candidates[i].room.Permanent
		}
		return candidates[i].room.ID < candidates[j].room.ID
	})

	for _, e := range candidates {
		if _, member := e.members[playerID]; member {
			return e
		}
	}
	for _, e := range candidates {
		if e.room.Capacity <= 0 || e.humans() < e.room.Capacity {
			return e
		}
	}

	id := fmt.Sprintf("%s-%s", d, uuid.NewString()[:8])
	e := m.newRoomEntry(id, d, false)
	m.rooms[id] = e
	log.Info().Str("room_id", id).Str("difficulty", string(d)).Msg("overflow room created")
	return e
}

// startSessionLocked registers and launches a session for a fresh set. The
// start event goes into an empty buffered inbox, so it never blocks under m.mu.
func (m *Manager) startSessionLocked(entry *roomEntry) {
	if entry.restart != nil {
		entry.restart.Stop()
		entry.restart = nil
	}
	entry.setSeq++
	entry.room.Status = domain.RoomInProgress
	setID := fmt.Sprintf("%s:%d", entry.room.ID, entry.setSeq)

	session := NewRoomSession(entry.room, setID, m.settings, m.deps, m.onSetEnded)
	m.sessions.Put(entry.room.ID, session)

	ctx := m.ctx
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		session.Run(ctx)
	}()
	session.StartSet()
}

// Leave drops one of the player's connections. The player is removed with the
// last one, and the room's session is torn down once no non-system
// participant is left.
func (m *Manager) Leave(_ context.Context, roomID, playerID string) {
	m.mu.Lock()
	entry, ok := m.rooms[roomID]
	if !ok {
		m.mu.Unlock()
		return
	}
	if _, member := entry.members[playerID]; !member {
		m.mu.Unlock()
		return
	}
	if entry.conns[playerID]--; entry.conns[playerID] > 0 {
		m.mu.Unlock()
		return
	}
	delete(entry.conns, playerID)
	delete(entry.members, playerID)

	session, active := m.sessions.Get(roomID)
	empty := entry.humans() == 0
	if empty {
		if active {
			m.sessions.Delete(roomID, session)
		}
		m.resetRoomLocked(entry)
	}
	m.mu.Unlock()

	if !active {
		return
	}
	if empty {
		session.Stop()
		log.Info().Str("room_id", roomID).Msg("room emptied, session stopped")
		return
	}
	session.PlayerLeft(playerID)
}

func (m *Manager) resetRoomLocked(entry *roomEntry) {
	if entry.restart != nil {
		entry.restart.Stop()
		entry.restart = nil
	}
	entry.room.Status = domain.RoomWaiting
	if !entry.room.Permanent && len(entry.members) == 0 {
		delete(m.rooms, entry.room.ID)
	}
}

// SubmitAnswer routes an answer to the room's session. Answers for rooms
// without a running set are dropped.
func (m *Manager) SubmitAnswer(roomID, playerID string, answerIndex int) {
	session, ok := m.sessions.Get(roomID)
	if !ok {
		log.Debug().Str("room_id", roomID).Str("player_id", playerID).Msg("answer for idle room dropped")
		return
	}
	session.Answer(playerID, answerIndex)
}

// onSetEnded runs on the session goroutine after set_end was published.
func (m *Manager) onSetEnded(s *RoomSession) {
	roomID := s.RoomID()

	m.mu.Lock()
	defer m.mu.Unlock()

	if cur, ok := m.sessions.Get(roomID); ok && cur != s {
		return
	}
	m.sessions.Delete(roomID, s)

	entry, ok := m.rooms[roomID]
	if !ok {
		return
	}
	if m.draining || entry.humans() == 0 {
		m.resetRoomLocked(entry)
		return
	}
	entry.room.Status = domain.RoomWaiting
	if entry.restart != nil {
		entry.restart.Stop()
	}
	entry.restart = m.clock.AfterFunc(m.settings.RestartCooldown, func() {
		m.restartSet(roomID)
	})
	log.Info().
		Str("room_id", roomID).
		Dur("cooldown", m.settings.RestartCooldown).
		Msg("next set scheduled")
}

// restartSet starts the next set if the room still has players.
func (m *Manager) restartSet(roomID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.rooms[roomID]
	if !ok {
		return
	}
	entry.restart = nil
	if m.draining {
		return
	}
	if _, active := m.sessions.Get(roomID); active {
		return
	}
	if entry.humans() == 0 {
		m.resetRoomLocked(entry)
		return
	}
	m.startSessionLocked(entry)
}

// Members implements Presence.
func (m *Manager) Members(roomID string) []domain.Player {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.rooms[roomID]
	if !ok {
		return nil
	}
	out := make([]domain.Player, 0, len(entry.members))
	for _, p := range entry.members {
		if !p.System {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].JoinedAt.Before(out[j].JoinedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Rooms lists every known room ordered by id.
func (m *Manager) Rooms() []domain.RoomSummary {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]domain.RoomSummary, 0, len(m.rooms))
	for id, e := range m.rooms {
		sum := domain.RoomSummary{Room: e.room, Players: e.humans()}
		if s, ok := m.sessions.Get(id); ok {
			sum.SetID = s.SetID()
		}
		out = append(out, sum)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Shutdown stops new sets, waits the grace period, then ends every running
// set with final results and waits for the sessions to exit.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.draining = true
	for _, e := range m.rooms {
		if e.restart != nil {
			e.restart.Stop()
			e.restart = nil
		}
	}
	m.mu.Unlock()

	log.Info().Dur("grace", m.settings.ShutdownGrace).Msg("draining rooms")
	if m.settings.ShutdownGrace > 0 {
		select {
		case <-ctx.Done():
		case <-m.clock.After(m.settings.ShutdownGrace):
		}
	}

	for _, s := range m.sessions.All() {
		s.End()
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		log.Info().Msg("all rooms drained")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
