package apperror

import "errors"

var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExists   = errors.New("session already exists")
	ErrSessionFull     = errors.New("session already has two players")
	ErrInvalidName     = errors.New("player name is required")

	ErrIllegalMove    = errors.New("illegal move")
	ErrNotYourTurn    = errors.New("it's not your turn")
	ErrGameOver       = errors.New("game is already finished")
	ErrGameNotStarted = errors.New("game is not started")
)
