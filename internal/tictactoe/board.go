package tictactoe

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/rocketscienceinc/tictactoe-sessions/internal/apperror"
)

// Size is the length of a board side.
const Size = 3

type Mark uint8

const (
	Empty Mark = iota
	X
	O
)

type Outcome string

const (
	InProgress Outcome = "in_progress"
	XWins      Outcome = "x_wins"
	OWins      Outcome = "o_wins"
	Draw       Outcome = "draw"
)

var (
	ErrUnknownMark  = errors.New("unknown mark")
	ErrInvalidBoard = errors.New("invalid board")

	// WinCombos lists the 8 lines as cell indices in row-major order.
	WinCombos = [][3]int{
		{0, 1, 2},
		{3, 4, 5},
		{6, 7, 8},
		{0, 3, 6},
		{1, 4, 7},
		{2, 5, 8},
		{0, 4, 8},
		{2, 4, 6},
	}
)

// Board is the canonical 3x3 grid. The zero value is an empty board.
type Board [Size][Size]Mark

func (that Mark) String() string {
	switch that {
	case X:
		return "X"
	case O:
		return "O"
	default:
		return ""
	}
}

// Opponent returns the other player mark. Empty has no opponent.
func (that Mark) Opponent() Mark {
	switch that {
	case X:
		return O
	case O:
		return X
	default:
		return Empty
	}
}

func (that Mark) IsPlayer() bool {
	return that == X || that == O
}

func (that Mark) MarshalText() ([]byte, error) {
	return []byte(that.String()), nil
}

func (that *Mark) UnmarshalText(text []byte) error {
	mark, err := ParseMark(string(text))
	if err != nil {
		return err
	}

	*that = mark

	return nil
}

// ParseMark accepts "X", "O" (any case) and "" for an empty cell.
func ParseMark(value string) (Mark, error) {
	switch value {
	case "":
		return Empty, nil
	case "X", "x":
		return X, nil
	case "O", "o":
		return O, nil
	default:
		return Empty, fmt.Errorf("%w: %q", ErrUnknownMark, value)
	}
}

// Winner returns the mark that won, or Empty for draw and in-progress games.
func (that Outcome) Winner() Mark {
	switch that {
	case XWins:
		return X
	case OWins:
		return O
	default:
		return Empty
	}
}

func (that Outcome) IsDecided() bool {
	return that != InProgress
}

// UnmarshalJSON accepts both the 3x3 grid and a flat row-major array of 9 cells.
// Null cells decode as Empty.
func (that *Board) UnmarshalJSON(data []byte) error {
	var grid [][]Mark
	if err := json.Unmarshal(data, &grid); err == nil {
		if len(grid) != Size {
			return fmt.Errorf("%w: expected %d rows, got %d", ErrInvalidBoard, Size, len(grid))
		}

		var board Board
		for row := range grid {
			if len(grid[row]) != Size {
				return fmt.Errorf("%w: row %d has %d cells", ErrInvalidBoard, row, len(grid[row]))
			}
			copy(board[row][:], grid[row])
		}

		*that = board

		return nil
	}

	var flat []Mark
	if err := json.Unmarshal(data, &flat); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidBoard, err)
	}

	if len(flat) != Size*Size {
		return fmt.Errorf("%w: expected %d cells, got %d", ErrInvalidBoard, Size*Size, len(flat))
	}

	var board Board
	for i, mark := range flat {
		board[i/Size][i%Size] = mark
	}

	*that = board

	return nil
}

// ApplyMove returns a copy of board with mark placed at (row, col).
func ApplyMove(board Board, row, col int, mark Mark) (Board, error) {
	if !mark.IsPlayer() {
		return board, fmt.Errorf("%w: mark must be X or O", apperror.ErrIllegalMove)
	}

	if row < 0 || row >= Size || col < 0 || col >= Size {
		return board, fmt.Errorf("%w: cell (%d, %d) is out of range", apperror.ErrIllegalMove, row, col)
	}

	if board[row][col] != Empty {
		return board, fmt.Errorf("%w: cell (%d, %d) is already occupied", apperror.ErrIllegalMove, row, col)
	}

	board[row][col] = mark

	return board, nil
}

func DetectOutcome(board Board) Outcome {
	switch lineWinner(board) {
	case X:
		return XWins
	case O:
		return OWins
	}

	// the game will continue until all the squares are full
	if !IsFull(board) {
		return InProgress
	}

	return Draw
}

func IsFull(board Board) bool {
	for row := range board {
		for _, cell := range board[row] {
			if cell == Empty {
				return false
			}
		}
	}

	return true
}

// Validate checks that a board decoded from outside could have been reached by
// alternating moves starting with X. It guarantees at most one mark owns a line.
func Validate(board Board) error {
	var xCount, oCount int

	for row := range board {
		for _, cell := range board[row] {
			switch cell {
			case X:
				xCount++
			case O:
				oCount++
			case Empty:
			default:
				return fmt.Errorf("%w: %w %d", ErrInvalidBoard, ErrUnknownMark, cell)
			}
		}
	}

	if xCount != oCount && xCount != oCount+1 {
		return fmt.Errorf("%w: %d X marks and %d O marks", ErrInvalidBoard, xCount, oCount)
	}

	xWins, oWins := hasLine(board, X), hasLine(board, O)

	switch {
	case xWins && oWins:
		return fmt.Errorf("%w: both players have a line", ErrInvalidBoard)
	case xWins && xCount != oCount+1:
		return fmt.Errorf("%w: X won but O moved afterwards", ErrInvalidBoard)
	case oWins && xCount != oCount:
		return fmt.Errorf("%w: O won but X moved afterwards", ErrInvalidBoard)
	}

	return nil
}

func lineWinner(board Board) Mark {
	for _, combo := range WinCombos {
		a, b, c := cellAt(board, combo[0]), cellAt(board, combo[1]), cellAt(board, combo[2])
		if a != Empty && a == b && b == c {
			return a
		}
	}

	return Empty
}

func hasLine(board Board, mark Mark) bool {
	for _, combo := range WinCombos {
		if cellAt(board, combo[0]) == mark && cellAt(board, combo[1]) == mark && cellAt(board, combo[2]) == mark {
			return true
		}
	}

	return false
}

func cellAt(board Board, index int) Mark {
	return board[index/Size][index%Size]
}
