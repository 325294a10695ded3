package memory

import (
	"testing"

	"trivia-room-service/internal/app"
	"trivia-room-service/internal/domain"
)

func newSession(roomID string) *app.RoomSession {
	room := domain.Room{ID: roomID, Difficulty: domain.DifficultyEasy}
	return app.NewRoomSession(room, roomID+":1", app.DefaultSettings(), app.Dependencies{}, nil)
}

func TestSessionStoreLifecycle(t *testing.T) {
	store := NewSessionStore()

	session := newSession("easy-1")
	store.Put("easy-1", session)
	if got, ok := store.Get("easy-1"); !ok || got != session {
		t.Fatalf("expected session present")
	}

	store.Delete("easy-1", session)
	if _, ok := store.Get("easy-1"); ok {
		t.Fatalf("expected session removed")
	}
}

func TestSessionStoreDeleteKeepsReplacement(t *testing.T) {
	store := NewSessionStore()

	old := newSession("easy-1")
	store.Put("easy-1", old)
	fresh := newSession("easy-1")
	store.Put("easy-1", fresh)

	store.Delete("easy-1", old)
	if got, ok := store.Get("easy-1"); !ok || got != fresh {
		t.Fatalf("stale delete removed the replacement session")
	}

	store.Put("hard-1", newSession("hard-1"))
	all := store.All()
	if len(all) != 2 || all[0].RoomID() != "easy-1" || all[1].RoomID() != "hard-1" {
		t.Fatalf("unexpected listing %v", all)
	}
}
