package rest

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/rocketscienceinc/tictactoe-sessions/internal/apperror"
)

const (
	reasonNotFound       = "not_found"
	reasonIllegalMove    = "illegal_move"
	reasonNotYourTurn    = "not_your_turn"
	reasonGameOver       = "game_over"
	reasonGameNotStarted = "game_not_started"
	reasonSessionFull    = "session_full"
	reasonInvalidName    = "invalid_name"
	reasonBadRequest     = "bad_request"
	reasonInternal       = "internal"
)

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason"`
}

var errorStatuses = []struct {
	err    error
	status int
	reason string
}{
	{apperror.ErrSessionNotFound, http.StatusNotFound, reasonNotFound},
	{apperror.ErrInvalidName, http.StatusBadRequest, reasonInvalidName},
	{errBadRequest, http.StatusBadRequest, reasonBadRequest},
	{apperror.ErrSessionFull, http.StatusConflict, reasonSessionFull},
	{apperror.ErrNotYourTurn, http.StatusConflict, reasonNotYourTurn},
	{apperror.ErrGameOver, http.StatusConflict, reasonGameOver},
	{apperror.ErrGameNotStarted, http.StatusConflict, reasonGameNotStarted},
	{apperror.ErrIllegalMove, http.StatusUnprocessableEntity, reasonIllegalMove},
}

// writeError maps err to its status code. Unknown errors are logged and
// hidden from the client.
func writeError(w http.ResponseWriter, log *slog.Logger, err error) {
	for _, known := range errorStatuses {
		if errors.Is(err, known.err) {
			log.Debug("request rejected", "reason", known.reason, "error", err)
			writeJSON(w, known.status, errorResponse{Error: known.err.Error(), Reason: known.reason})
			return
		}
	}

	log.Error("request failed", "error", err)
	writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal server error", Reason: reasonInternal})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}
