package domain

import "errors"

var (
	// ErrRoomNotFound is returned when an event targets a room the lobby does not know.
	ErrRoomNotFound = errors.New("room not found")
	// ErrRoomFull indicates an explicit room join hit the room capacity.
	ErrRoomFull = errors.New("room is full")
	// ErrShuttingDown is returned once the lobby stopped accepting new rounds.
	ErrShuttingDown = errors.New("lobby is shutting down")
	// ErrInvalidDifficulty indicates an unknown difficulty tier.
	ErrInvalidDifficulty = errors.New("invalid difficulty")
	// ErrNoQuestions indicates the question supply returned nothing.
	ErrNoQuestions = errors.New("no questions available")
	// ErrInvalidToken indicates a player token failed verification.
	ErrInvalidToken = errors.New("invalid player token")
	// ErrMissingIdentity is returned when a join carries neither a token nor a guest id.
	ErrMissingIdentity = errors.New("missing player identity")
)
