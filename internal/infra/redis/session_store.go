package redis

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"trivia-room-service/internal/app"
)

const markerTimeout = 2 * time.Second

// SessionStore is a Redis-aware implementation of app.SessionRepository.
// Sessions are actors and stay in a local map; Redis only carries a liveness
// marker per active room so other instances and operators can see which rooms
// this node is running.
//
// Put and Delete are called under the lobby lock, so they only touch the map.
// Markers are written in the background and never block the caller.
type SessionStore struct {
	client   *redis.Client
	ttl      time.Duration
	timeout  time.Duration
	mu       sync.RWMutex
	sessions map[string]*app.RoomSession
	// serialises marker writes so the last one reflects the latest map state
	writeMu sync.Mutex
}

func NewSessionStore(client *redis.Client, ttl time.Duration) *SessionStore {
	return &SessionStore{
		client:   client,
		ttl:      ttl,
		timeout:  markerTimeout,
		sessions: make(map[string]*app.RoomSession),
	}
}

func (s *SessionStore) Put(roomID string, session *app.RoomSession) {
	s.mu.Lock()
	s.sessions[roomID] = session
	s.mu.Unlock()
	go s.mark(roomID)
}

func (s *SessionStore) Get(roomID string) (*app.RoomSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[roomID]
	return session, ok
}

func (s *SessionStore) Delete(roomID string, session *app.RoomSession) {
	s.mu.Lock()
	cur, ok := s.sessions[roomID]
	if !ok || cur != session {
		s.mu.Unlock()
		return
	}
	delete(s.sessions, roomID)
	s.mu.Unlock()
	go s.mark(roomID)
}

// mark brings the room's marker in line with the map: SET while a session
// is registered, DEL otherwise. Best effort.
func (s *SessionStore) mark(roomID string) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	session, live := s.Get(roomID)
	var err error
	if live {
		err = s.client.Set(ctx, s.key(roomID), session.SetID(), s.ttl).Err()
	} else {
		err = s.client.Del(ctx, s.key(roomID)).Err()
	}
	if err != nil {
		log.Warn().Err(err).Str("room_id", roomID).Bool("live", live).Msg("room liveness marker not written")
	}
}

func (s *SessionStore) All() []*app.RoomSession {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*app.RoomSession, 0, len(s.sessions))
	for _, session := range s.sessions {
		out = append(out, session)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoomID() < out[j].RoomID() })
	return out
}

// Refresh extends the liveness markers of every active room. Call it more
// often than the ttl.
func (s *SessionStore) Refresh(ctx context.Context) error {
	s.mu.RLock()
	rooms := make([]string, 0, len(s.sessions))
	for roomID := range s.sessions {
		rooms = append(rooms, roomID)
	}
	s.mu.RUnlock()
	if len(rooms) == 0 {
		return nil
	}
	pipe := s.client.Pipeline()
	for _, roomID := range rooms {
		pipe.Expire(ctx, s.key(roomID), s.ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s *SessionStore) key(roomID string) string {
	return "trivia:room:" + roomID + ":live"
}
