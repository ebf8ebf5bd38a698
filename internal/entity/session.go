package entity

import (
	"fmt"
	"strings"
	"time"

	"github.com/rocketscienceinc/tictactoe-sessions/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-sessions/internal/tictactoe"
)

const (
	StatusEmpty      = "empty"
	StatusWaiting    = "waiting"
	StatusInProgress = "in_progress"
	StatusFinished   = "finished"
)

// MaxPlayers is the number of player slots in a session.
const MaxPlayers = 2

type Participant struct {
	Name     string    `json:"name"`
	JoinedAt time.Time `json:"joinedAt"`
}

type GameState struct {
	Board         tictactoe.Board   `json:"board"`
	CurrentPlayer tictactoe.Mark    `json:"currentPlayer"`
	Outcome       tictactoe.Outcome `json:"outcome"`
}

// Session is one shared game between two named players.
// Methods mutate the receiver only when they succeed.
type Session struct {
	ID           string        `json:"sessionId"`
	CreatedAt    time.Time     `json:"createdAt"`
	Participants []Participant `json:"participants"`
	GameState    GameState     `json:"gameState"`
	Version      int64         `json:"version"`
	LastResetAt  *time.Time    `json:"lastResetAt,omitempty"`
}

func NewGameState() GameState {
	return GameState{
		Board:         tictactoe.Board{},
		CurrentPlayer: tictactoe.X,
		Outcome:       tictactoe.InProgress,
	}
}

func NewSession(id string, now time.Time) *Session {
	return &Session{
		ID:           id,
		CreatedAt:    now,
		Participants: []Participant{},
		GameState:    NewGameState(),
	}
}

// Join adds name to the next free slot. Joining twice with the same name is a no-op.
func (that *Session) Join(name string, now time.Time) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return apperror.ErrInvalidName
	}

	if that.HasParticipant(name) {
		return nil
	}

	if len(that.Participants) >= MaxPlayers {
		return fmt.Errorf("%w: cannot add %q", apperror.ErrSessionFull, name)
	}

	that.Participants = append(that.Participants, Participant{Name: name, JoinedAt: now})
	that.Version++

	return nil
}

func (that *Session) Move(row, col int, mark tictactoe.Mark) error {
	if that.GameState.Outcome.IsDecided() {
		return fmt.Errorf("%w: outcome is %s", apperror.ErrGameOver, that.GameState.Outcome)
	}

	if len(that.Participants) < MaxPlayers {
		return fmt.Errorf("%w: waiting for an opponent", apperror.ErrGameNotStarted)
	}

	if mark != that.GameState.CurrentPlayer {
		return fmt.Errorf("%w: current player is %s", apperror.ErrNotYourTurn, that.GameState.CurrentPlayer)
	}

	board, err := tictactoe.ApplyMove(that.GameState.Board, row, col, mark)
	if err != nil {
		return err
	}

	that.GameState.Board = board
	that.GameState.Outcome = tictactoe.DetectOutcome(board)

	// the turn stays with the last mover once the game is decided
	if !that.GameState.Outcome.IsDecided() {
		that.GameState.CurrentPlayer = mark.Opponent()
	}

	that.Version++

	return nil
}

// Reset starts a new game in the same session. Participants keep their slots.
func (that *Session) Reset(now time.Time) {
	that.GameState = NewGameState()
	that.LastResetAt = &now
	that.Version++
}

func (that *Session) Status() string {
	switch {
	case that.GameState.Outcome.IsDecided():
		return StatusFinished
	case len(that.Participants) == 0:
		return StatusEmpty
	case len(that.Participants) < MaxPlayers:
		return StatusWaiting
	default:
		return StatusInProgress
	}
}

func (that *Session) HasParticipant(name string) bool {
	return that.MarkOf(name) != tictactoe.Empty
}

// MarkOf returns the slot held by name, or Empty if name has not joined.
func (that *Session) MarkOf(name string) tictactoe.Mark {
	name = strings.TrimSpace(name)

	for i, participant := range that.Participants {
		if participant.Name != name {
			continue
		}

		switch i {
		case 0:
			return tictactoe.X
		case 1:
			return tictactoe.O
		}
	}

	return tictactoe.Empty
}

// Winner returns "X", "O", "draw" or nil while the game is in progress.
func (that *Session) Winner() *string {
	var winner string

	switch that.GameState.Outcome {
	case tictactoe.XWins, tictactoe.OWins:
		winner = that.GameState.Outcome.Winner().String()
	case tictactoe.Draw:
		winner = "draw"
	default:
		return nil
	}

	return &winner
}

// Clone returns a deep copy, so stored sessions never share slices with callers.
func (that *Session) Clone() *Session {
	clone := *that
	clone.Participants = append([]Participant{}, that.Participants...)

	if that.LastResetAt != nil {
		resetAt := *that.LastResetAt
		clone.LastResetAt = &resetAt
	}

	return &clone
}
