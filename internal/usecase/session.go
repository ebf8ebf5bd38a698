package usecase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rocketscienceinc/tictactoe-sessions/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-sessions/internal/entity"
	"github.com/rocketscienceinc/tictactoe-sessions/internal/metrics"
	"github.com/rocketscienceinc/tictactoe-sessions/internal/pkg"
	"github.com/rocketscienceinc/tictactoe-sessions/internal/repository"
	"github.com/rocketscienceinc/tictactoe-sessions/internal/tictactoe"
)

const (
	maxCreateAttempts = 5
	defaultLockTTL    = 10 * time.Second
)

const (
	opCreate = "create"
	opJoin   = "join"
	opMove   = "move"
	opReset  = "reset"
)

var ErrIDSpaceExhausted = errors.New("could not find a free session id")

type sessionRepo interface {
	Create(ctx context.Context, session *entity.Session) error
	GetByID(ctx context.Context, id string) (*entity.Session, error)
	Update(ctx context.Context, session *entity.Session) error
}

type distributedLocker interface {
	Lock(ctx context.Context, key string, ttl time.Duration) (repository.UnlockFunc, error)
}

type Option func(*SessionUseCase)

// WithDistributedLocker also takes a Redis lock around every mutation, so that
// replicas sharing the same Redis serialize with each other.
func WithDistributedLocker(locker distributedLocker, ttl time.Duration) Option {
	return func(that *SessionUseCase) {
		that.locker = locker
		if ttl > 0 {
			that.lockTTL = ttl
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(that *SessionUseCase) {
		that.now = now
	}
}

func WithIDGenerator(newID func() string) Option {
	return func(that *SessionUseCase) {
		that.newID = newID
	}
}

type SessionUseCase struct {
	logger  *slog.Logger
	repo    sessionRepo
	metrics *metrics.Metrics

	locks   *keyedLocks
	locker  distributedLocker
	lockTTL time.Duration

	now   func() time.Time
	newID func() string
}

func NewSessionUseCase(logger *slog.Logger, repo sessionRepo, m *metrics.Metrics, opts ...Option) *SessionUseCase {
	useCase := &SessionUseCase{
		logger:  logger.With("component", "session_usecase"),
		repo:    repo,
		metrics: m,

		locks:   newKeyedLocks(),
		lockTTL: defaultLockTTL,

		now:   time.Now,
		newID: pkg.GenerateSessionID,
	}

	for _, opt := range opts {
		opt(useCase)
	}

	return useCase
}

func (that *SessionUseCase) CreateSession(ctx context.Context) (*entity.Session, error) {
	log := that.logger.With("method", "CreateSession")
	started := time.Now()

	for attempt := 0; attempt < maxCreateAttempts; attempt++ {
		session := entity.NewSession(that.newID(), that.now().UTC())

		err := that.repo.Create(ctx, session)
		if errors.Is(err, apperror.ErrSessionExists) {
			log.Warn("session id collision, retrying", "sessionID", session.ID, "attempt", attempt+1)
			continue
		}

		if err != nil {
			that.metrics.Observe(opCreate, metrics.ResultError, started)
			return nil, fmt.Errorf("failed to create session: %w", err)
		}

		that.metrics.SessionsCreated.Inc()
		that.metrics.Observe(opCreate, metrics.ResultOK, started)
		log.Info("session created", "sessionID", session.ID)

		return session, nil
	}

	that.metrics.Observe(opCreate, metrics.ResultError, started)

	return nil, fmt.Errorf("%w after %d attempts", ErrIDSpaceExhausted, maxCreateAttempts)
}

func (that *SessionUseCase) GetSession(ctx context.Context, id string) (*entity.Session, error) {
	session, err := that.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	return session, nil
}

func (that *SessionUseCase) JoinSession(ctx context.Context, id, name string) (*entity.Session, error) {
	return that.mutate(ctx, opJoin, id, func(session *entity.Session) error {
		return session.Join(name, that.now().UTC())
	})
}

func (that *SessionUseCase) MakeMove(ctx context.Context, id string, row, col int, mark tictactoe.Mark) (*entity.Session, error) {
	session, err := that.mutate(ctx, opMove, id, func(session *entity.Session) error {
		return session.Move(row, col, mark)
	})
	if err != nil {
		return nil, err
	}

	if session.GameState.Outcome.IsDecided() {
		that.metrics.GamesFinished.WithLabelValues(string(session.GameState.Outcome)).Inc()
		that.logger.Info("game finished", "method", "MakeMove", "sessionID", id, "outcome", session.GameState.Outcome)
	}

	return session, nil
}

// ResetSession starts a new game in the session from any state.
func (that *SessionUseCase) ResetSession(ctx context.Context, id string) (*entity.Session, error) {
	return that.mutate(ctx, opReset, id, func(session *entity.Session) error {
		session.Reset(that.now().UTC())
		return nil
	})
}

// mutate runs a read-modify-write of one session under its lock. A failing
// change is never persisted.
func (that *SessionUseCase) mutate(ctx context.Context, operation, id string, change func(*entity.Session) error) (*entity.Session, error) {
	log := that.logger.With("method", operation, "sessionID", id)
	started := time.Now()

	var session *entity.Session

	err := that.withLock(ctx, id, func(ctx context.Context) error {
		var err error

		session, err = that.repo.GetByID(ctx, id)
		if err != nil {
			return fmt.Errorf("failed to get session: %w", err)
		}

		if err = change(session); err != nil {
			return fmt.Errorf("failed to %s: %w", operation, err)
		}

		if err = that.repo.Update(ctx, session); err != nil {
			return fmt.Errorf("failed to update session: %w", err)
		}

		return nil
	})
	if err != nil {
		result := resultOf(err)
		that.metrics.Observe(operation, result, started)

		if result == metrics.ResultError {
			log.Error("session operation failed", "error", err)
		} else {
			log.Debug("session operation rejected", "error", err)
		}

		return nil, err
	}

	that.metrics.Observe(operation, metrics.ResultOK, started)
	log.Debug("session updated", "version", session.Version, "status", session.Status())

	return session, nil
}

func (that *SessionUseCase) withLock(ctx context.Context, id string, fn func(context.Context) error) error {
	unlock, err := that.locks.Lock(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to lock session: %w", err)
	}
	defer unlock()

	if that.locker != nil {
		unlockDistributed, err := that.locker.Lock(ctx, id, that.lockTTL)
		if err != nil {
			return fmt.Errorf("failed to acquire distributed lock: %w", err)
		}

		defer func() {
			// a lost lock expires by its TTL
			if err := unlockDistributed(context.WithoutCancel(ctx)); err != nil {
				that.logger.Warn("failed to release distributed lock", "sessionID", id, "error", err)
			}
		}()
	}

	return fn(ctx)
}

// resultOf tells caller mistakes apart from failures of the service itself.
func resultOf(err error) string {
	switch {
	case errors.Is(err, apperror.ErrSessionNotFound),
		errors.Is(err, apperror.ErrSessionFull),
		errors.Is(err, apperror.ErrInvalidName),
		errors.Is(err, apperror.ErrIllegalMove),
		errors.Is(err, apperror.ErrNotYourTurn),
		errors.Is(err, apperror.ErrGameOver),
		errors.Is(err, apperror.ErrGameNotStarted):
		return metrics.ResultRejected
	default:
		return metrics.ResultError
	}
}
