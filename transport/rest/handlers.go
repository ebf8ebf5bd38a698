package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/skip2/go-qrcode"

	"github.com/rocketscienceinc/tictactoe-sessions/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-sessions/internal/entity"
	"github.com/rocketscienceinc/tictactoe-sessions/internal/tictactoe"
)

const (
	maxBodyBytes = 1 << 10
	qrSize       = 320
)

var errBadRequest = errors.New("bad request")

type sessionUseCase interface {
	CreateSession(ctx context.Context) (*entity.Session, error)
	GetSession(ctx context.Context, id string) (*entity.Session, error)
	JoinSession(ctx context.Context, id, name string) (*entity.Session, error)
	MakeMove(ctx context.Context, id string, row, col int, mark tictactoe.Mark) (*entity.Session, error)
	ResetSession(ctx context.Context, id string) (*entity.Session, error)
}

type SessionHandlers struct {
	logger    *slog.Logger
	useCase   sessionUseCase
	clientURL string
}

func NewSessionHandlers(logger *slog.Logger, useCase sessionUseCase, clientURL string) *SessionHandlers {
	return &SessionHandlers{
		logger:    logger.With("component", "session_handlers"),
		useCase:   useCase,
		clientURL: strings.TrimRight(clientURL, "/"),
	}
}

type createResponse struct {
	SessionID    string `json:"sessionId"`
	ShareableURL string `json:"shareableUrl"`
}

type gameStateResponse struct {
	Board         tictactoe.Board   `json:"board"`
	CurrentPlayer tictactoe.Mark    `json:"currentPlayer"`
	Outcome       tictactoe.Outcome `json:"outcome"`
	Winner        *string           `json:"winner"`
}

type playerResponse struct {
	Name     string         `json:"name"`
	Mark     tictactoe.Mark `json:"mark"`
	JoinedAt time.Time      `json:"joinedAt"`
}

type sessionResponse struct {
	SessionID    string            `json:"sessionId"`
	ShareableURL string            `json:"shareableUrl"`
	Status       string            `json:"status"`
	Players      []playerResponse  `json:"players"`
	GameState    gameStateResponse `json:"gameState"`
	Version      int64             `json:"version"`
	CreatedAt    time.Time         `json:"createdAt"`
	LastResetAt  *time.Time        `json:"lastResetAt,omitempty"`
}

type joinRequest struct {
	Name string `json:"name"`
}

type joinResponse struct {
	sessionResponse
	Mark tictactoe.Mark `json:"mark"`
}

type moveRequest struct {
	Row    *int   `json:"row"`
	Col    *int   `json:"col"`
	Player string `json:"player"`
}

func (that moveRequest) validate() (tictactoe.Mark, error) {
	if that.Row == nil || that.Col == nil {
		return tictactoe.Empty, fmt.Errorf("%w: row and col are required", errBadRequest)
	}

	mark, err := tictactoe.ParseMark(that.Player)
	if err != nil || mark == tictactoe.Empty {
		return tictactoe.Empty, fmt.Errorf("%w: player must be X or O", errBadRequest)
	}

	return mark, nil
}

func (that *SessionHandlers) Create(w http.ResponseWriter, r *http.Request) {
	log := that.logger.With("method", "Create")

	session, err := that.useCase.CreateSession(r.Context())
	if err != nil {
		writeError(w, log, err)
		return
	}

	writeJSON(w, http.StatusCreated, createResponse{
		SessionID:    session.ID,
		ShareableURL: that.shareableURL(session.ID),
	})
}

func (that *SessionHandlers) Get(w http.ResponseWriter, r *http.Request) {
	log := that.logger.With("method", "Get")

	session, err := that.useCase.GetSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, log, err)
		return
	}

	writeJSON(w, http.StatusOK, that.toResponse(session))
}

func (that *SessionHandlers) Join(w http.ResponseWriter, r *http.Request) {
	log := that.logger.With("method", "Join")

	var req joinRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, log, err)
		return
	}

	session, err := that.useCase.JoinSession(r.Context(), chi.URLParam(r, "id"), req.Name)
	if err != nil {
		writeError(w, log, err)
		return
	}

	writeJSON(w, http.StatusOK, joinResponse{
		sessionResponse: that.toResponse(session),
		Mark:            session.MarkOf(req.Name),
	})
}

// Move applies {row, col, player}. Besides illegal move (422), wrong turn and
// game over (409), a move before the second player joined is refused with 409
// game_not_started.
func (that *SessionHandlers) Move(w http.ResponseWriter, r *http.Request) {
	log := that.logger.With("method", "Move")

	var req moveRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, log, err)
		return
	}

	id := chi.URLParam(r, "id")

	mark, err := req.validate()
	if err != nil {
		writeError(w, log, that.rejectMove(r.Context(), id, err))
		return
	}

	session, err := that.useCase.MakeMove(r.Context(), id, *req.Row, *req.Col, mark)
	if err != nil {
		writeError(w, log, err)
		return
	}

	writeJSON(w, http.StatusOK, that.toResponse(session))
}

// rejectMove picks the error for a malformed move. An unknown or finished
// session is reported before the malformed body.
func (that *SessionHandlers) rejectMove(ctx context.Context, id string, err error) error {
	session, getErr := that.useCase.GetSession(ctx, id)
	if getErr != nil {
		return getErr
	}

	if session.GameState.Outcome.IsDecided() {
		return fmt.Errorf("%w: outcome is %s", apperror.ErrGameOver, session.GameState.Outcome)
	}

	return err
}

func (that *SessionHandlers) Reset(w http.ResponseWriter, r *http.Request) {
	log := that.logger.With("method", "Reset")

	session, err := that.useCase.ResetSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, log, err)
		return
	}

	writeJSON(w, http.StatusOK, that.toResponse(session))
}

// QRCode renders the shareable link of an existing session as a PNG.
func (that *SessionHandlers) QRCode(w http.ResponseWriter, r *http.Request) {
	log := that.logger.With("method", "QRCode")

	session, err := that.useCase.GetSession(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, log, err)
		return
	}

	png, err := qrcode.Encode(that.shareableURL(session.ID), qrcode.Medium, qrSize)
	if err != nil {
		writeError(w, log, fmt.Errorf("failed to encode qr code: %w", err))
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.WriteHeader(http.StatusOK)
	if _, err = w.Write(png); err != nil {
		log.Error("failed to write qr code", "error", err)
	}
}

func (that *SessionHandlers) shareableURL(id string) string {
	return that.clientURL + "/session/" + id
}

func (that *SessionHandlers) toResponse(session *entity.Session) sessionResponse {
	players := make([]playerResponse, 0, len(session.Participants))
	for _, participant := range session.Participants {
		players = append(players, playerResponse{
			Name:     participant.Name,
			Mark:     session.MarkOf(participant.Name),
			JoinedAt: participant.JoinedAt,
		})
	}

	return sessionResponse{
		SessionID:    session.ID,
		ShareableURL: that.shareableURL(session.ID),
		Status:       session.Status(),
		Players:      players,
		GameState: gameStateResponse{
			Board:         session.GameState.Board,
			CurrentPlayer: session.GameState.CurrentPlayer,
			Outcome:       session.GameState.Outcome,
			Winner:        session.Winner(),
		},
		Version:     session.Version,
		CreatedAt:   session.CreatedAt,
		LastResetAt: session.LastResetAt,
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("%w: invalid request body: %w", errBadRequest, err)
	}

	// the body holds exactly one JSON value
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return fmt.Errorf("%w: unexpected data after the request body", errBadRequest)
	}

	return nil
}
