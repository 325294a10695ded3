package memory

import (
	"sort"
	"sync"

	"trivia-room-service/internal/app"
)

// SessionStore is an in-memory implementation of app.SessionRepository.
type SessionStore struct {
	mu       sync.RWMutex
	sessions map[string]*app.RoomSession
}

func NewSessionStore() *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*app.RoomSession),
	}
}

func (s *SessionStore) Put(roomID string, session *app.RoomSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[roomID] = session
}

func (s *SessionStore) Get(roomID string) (*app.RoomSession, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[roomID]
	return session, ok
}

func (s *SessionStore) Delete(roomID string, session *app.RoomSession) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.sessions[roomID]; ok && cur == session {
		delete(s.sessions, roomID)
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
