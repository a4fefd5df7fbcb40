package game

import "errors"

var (
	ErrRoomNotFound   = errors.New("room not found")
	ErrPlayerNotFound = errors.New("player not found in room")
	ErrWrongPhase     = errors.New("action not valid in current phase")
	ErrAlreadyActed   = errors.New("player already acted this phase")
	ErrInvalidGuess   = errors.New("guess references an unknown response")
)
