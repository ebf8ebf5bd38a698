package repository

import (
	"context"
	"fmt"
	"sync"

	"github.com/rocketscienceinc/tictactoe-sessions/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-sessions/internal/entity"
)

type memSession struct {
	mu       sync.RWMutex
	sessions map[string]*entity.Session
}

// NewMemorySessionRepository keeps sessions in process memory. Stored values are
// copied on the way in and out.
func NewMemorySessionRepository() SessionRepository {
	return &memSession{
		sessions: make(map[string]*entity.Session),
	}
}

func (that *memSession) Create(_ context.Context, session *entity.Session) error {
	that.mu.Lock()
	defer that.mu.Unlock()

	if _, ok := that.sessions[session.ID]; ok {
		return fmt.Errorf("%w: %s", apperror.ErrSessionExists, session.ID)
	}

	that.sessions[session.ID] = session.Clone()

	return nil
}

func (that *memSession) GetByID(_ context.Context, id string) (*entity.Session, error) {
	that.mu.RLock()
	defer that.mu.RUnlock()

	session, ok := that.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", apperror.ErrSessionNotFound, id)
	}

	return session.Clone(), nil
}

func (that *memSession) Update(_ context.Context, session *entity.Session) error {
	that.mu.Lock()
	defer that.mu.Unlock()

	if _, ok := that.sessions[session.ID]; !ok {
		return fmt.Errorf("%w: %s", apperror.ErrSessionNotFound, session.ID)
	}

	that.sessions[session.ID] = session.Clone()

	return nil
}
