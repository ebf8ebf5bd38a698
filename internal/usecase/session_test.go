package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/rocketscienceinc/tictactoe-sessions/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-sessions/internal/entity"
	"github.com/rocketscienceinc/tictactoe-sessions/internal/metrics"
	"github.com/rocketscienceinc/tictactoe-sessions/internal/repository"
	"github.com/rocketscienceinc/tictactoe-sessions/internal/tictactoe"
	"github.com/rocketscienceinc/tictactoe-sessions/testing/suite"
)

var (
	testNow      = time.Date(2026, 10, 18, 12, 0, 0, 0, time.UTC)
	errRedisDown = errors.New("redis down")
)

type mockSessionRepo struct {
	mock.Mock
}

func (that *mockSessionRepo) Create(ctx context.Context, session *entity.Session) error {
	return that.Called(ctx, session).Error(0)
}

func (that *mockSessionRepo) GetByID(ctx context.Context, id string) (*entity.Session, error) {
	args := that.Called(ctx, id)
	session, _ := args.Get(0).(*entity.Session)

	return session, args.Error(1)
}

func (that *mockSessionRepo) Update(ctx context.Context, session *entity.Session) error {
	return that.Called(ctx, session).Error(0)
}

func newTestUseCase(t *testing.T, repo sessionRepo, opts ...Option) (*SessionUseCase, *metrics.Metrics) {
	t.Helper()

	m := metrics.New(prometheus.NewRegistry())
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts = append([]Option{WithClock(func() time.Time { return testNow })}, opts...)

	return NewSessionUseCase(logger, repo, m, opts...), m
}

// newStartedSession stores a session where Alice holds X and Bob holds O.
func newStartedSession(ctx context.Context, t *testing.T, useCase *SessionUseCase) string {
	t.Helper()

	session, err := useCase.CreateSession(ctx)
	require.NoError(t, err)

	_, err = useCase.JoinSession(ctx, session.ID, "Alice")
	require.NoError(t, err)
	_, err = useCase.JoinSession(ctx, session.ID, "Bob")
	require.NoError(t, err)

	return session.ID
}

func TestSessionUseCase_CreateSession(t *testing.T) {
	ctx := context.Background()

	t.Run("Creates an empty session with a short id", func(t *testing.T) {
		// Given: an empty store
		useCase, m := newTestUseCase(t, repository.NewMemorySessionRepository())

		// When: a session is created
		session, err := useCase.CreateSession(ctx)

		// Then: it is stored empty with X to move
		require.NoError(t, err)
		assert.Len(t, session.ID, 8)
		assert.Equal(t, entity.StatusEmpty, session.Status())
		assert.Equal(t, testNow, session.CreatedAt)

		stored, err := useCase.GetSession(ctx, session.ID)
		require.NoError(t, err)
		assert.Equal(t, session.ID, stored.ID)
		assert.InDelta(t, 1, testutil.ToFloat64(m.SessionsCreated), 0)
	})

	t.Run("Retries when the generated id is taken", func(t *testing.T) {
		// Given: a store that already has session "aaaaaaaa"
		repo := repository.NewMemorySessionRepository()
		require.NoError(t, repo.Create(ctx, entity.NewSession("aaaaaaaa", testNow)))

		ids := []string{"aaaaaaaa", "bbbbbbbb"}
		useCase, _ := newTestUseCase(t, repo, WithIDGenerator(func() string {
			id := ids[0]
			ids = ids[1:]
			return id
		}))

		// When: a session is created
		session, err := useCase.CreateSession(ctx)

		// Then: the second id is used
		require.NoError(t, err)
		assert.Equal(t, "bbbbbbbb", session.ID)
	})

	t.Run("Gives up after repeated collisions", func(t *testing.T) {
		repo := repository.NewMemorySessionRepository()
		require.NoError(t, repo.Create(ctx, entity.NewSession("aaaaaaaa", testNow)))

		useCase, _ := newTestUseCase(t, repo, WithIDGenerator(func() string { return "aaaaaaaa" }))

		session, err := useCase.CreateSession(ctx)

		require.ErrorIs(t, err, ErrIDSpaceExhausted)
		assert.Nil(t, session)
	})

	t.Run("Returns storage errors", func(t *testing.T) {
		repo := &mockSessionRepo{}
		repo.On("Create", mock.Anything, mock.AnythingOfType("*entity.Session")).Return(errRedisDown).Once()
		useCase, _ := newTestUseCase(t, repo)

		session, err := useCase.CreateSession(ctx)

		require.ErrorIs(t, err, errRedisDown)
		assert.Nil(t, session)
		repo.AssertExpectations(t)
	})
}

func TestSessionUseCase_GetSession(t *testing.T) {
	useCase, _ := newTestUseCase(t, repository.NewMemorySessionRepository())

	session, err := useCase.GetSession(context.Background(), "missing")

	require.ErrorIs(t, err, apperror.ErrSessionNotFound)
	assert.Nil(t, session)
}

func TestSessionUseCase_JoinSession(t *testing.T) {
	ctx := context.Background()

	t.Run("Two players fill both slots and a third is refused", func(t *testing.T) {
		// Given: a new session
		useCase, m := newTestUseCase(t, repository.NewMemorySessionRepository())
		created, err := useCase.CreateSession(ctx)
		require.NoError(t, err)

		// When: Alice and Bob join
		_, err = useCase.JoinSession(ctx, created.ID, "Alice")
		require.NoError(t, err)
		session, err := useCase.JoinSession(ctx, created.ID, "Bob")
		require.NoError(t, err)

		// Then: the game is in progress
		assert.Equal(t, entity.StatusInProgress, session.Status())

		// When: Carol joins
		_, err = useCase.JoinSession(ctx, created.ID, "Carol")

		// Then: she is refused and the stored session still has two players
		require.ErrorIs(t, err, apperror.ErrSessionFull)
		stored, err := useCase.GetSession(ctx, created.ID)
		require.NoError(t, err)
		assert.Len(t, stored.Participants, 2)
		assert.InDelta(t, 1, testutil.ToFloat64(m.Operations.WithLabelValues(opJoin, metrics.ResultRejected)), 0)
	})

	t.Run("Unknown session", func(t *testing.T) {
		useCase, _ := newTestUseCase(t, repository.NewMemorySessionRepository())

		_, err := useCase.JoinSession(ctx, "missing", "Alice")

		require.ErrorIs(t, err, apperror.ErrSessionNotFound)
	})

	t.Run("Failed update is reported and not retried", func(t *testing.T) {
		// Given: a repository that cannot write
		session := entity.NewSession("abc12345", testNow)
		repo := &mockSessionRepo{}
		repo.On("GetByID", mock.Anything, "abc12345").Return(session, nil).Once()
		repo.On("Update", mock.Anything, mock.AnythingOfType("*entity.Session")).Return(errRedisDown).Once()
		useCase, m := newTestUseCase(t, repo)

		// When: Alice joins
		joined, err := useCase.JoinSession(ctx, "abc12345", "Alice")

		// Then: the storage error is returned
		require.ErrorIs(t, err, errRedisDown)
		assert.Nil(t, joined)
		assert.InDelta(t, 1, testutil.ToFloat64(m.Operations.WithLabelValues(opJoin, metrics.ResultError)), 0)
		repo.AssertExpectations(t)
	})

	t.Run("Rejected change is never written", func(t *testing.T) {
		repo := &mockSessionRepo{}
		repo.On("GetByID", mock.Anything, "abc12345").Return(entity.NewSession("abc12345", testNow), nil).Once()
		useCase, _ := newTestUseCase(t, repo)

		_, err := useCase.JoinSession(ctx, "abc12345", "   ")

		require.ErrorIs(t, err, apperror.ErrInvalidName)
		repo.AssertNotCalled(t, "Update", mock.Anything, mock.Anything)
	})
}

func TestSessionUseCase_MakeMove(t *testing.T) {
	ctx := context.Background()

	t.Run("X wins on the top row", func(t *testing.T) {
		// Given: Alice (X) and Bob (O) in a session
		useCase, m := newTestUseCase(t, repository.NewMemorySessionRepository())
		id := newStartedSession(ctx, t, useCase)

		// When: the moves complete the top row for X
		moves := []struct {
			row, col int
			mark     tictactoe.Mark
		}{
			{0, 0, tictactoe.X},
			{1, 1, tictactoe.O},
			{0, 1, tictactoe.X},
			{2, 2, tictactoe.O},
			{0, 2, tictactoe.X},
		}

		var (
			session *entity.Session
			err     error
		)
		for _, move := range moves {
			session, err = useCase.MakeMove(ctx, id, move.row, move.col, move.mark)
			require.NoError(t, err)
		}

		// Then: X wins and the finished game is counted
		assert.Equal(t, tictactoe.XWins, session.GameState.Outcome)
		assert.InDelta(t, 1, testutil.ToFloat64(m.GamesFinished.WithLabelValues(string(tictactoe.XWins))), 0)

		// And: the next move is refused
		_, err = useCase.MakeMove(ctx, id, 2, 0, tictactoe.O)
		require.ErrorIs(t, err, apperror.ErrGameOver)
	})

	t.Run("Illegal move leaves the stored state unchanged", func(t *testing.T) {
		useCase, _ := newTestUseCase(t, repository.NewMemorySessionRepository())
		id := newStartedSession(ctx, t, useCase)
		_, err := useCase.MakeMove(ctx, id, 1, 1, tictactoe.X)
		require.NoError(t, err)
		before, err := useCase.GetSession(ctx, id)
		require.NoError(t, err)

		_, err = useCase.MakeMove(ctx, id, 1, 1, tictactoe.O)

		require.ErrorIs(t, err, apperror.ErrIllegalMove)
		after, err := useCase.GetSession(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, before, after)
	})
}

func TestSessionUseCase_ResetSession(t *testing.T) {
	ctx := context.Background()

	// Given: a session with a move on the board
	useCase, _ := newTestUseCase(t, repository.NewMemorySessionRepository())
	id := newStartedSession(ctx, t, useCase)
	_, err := useCase.MakeMove(ctx, id, 0, 0, tictactoe.X)
	require.NoError(t, err)

	// When: it is reset
	session, err := useCase.ResetSession(ctx, id)

	// Then: the game starts over with the same players
	require.NoError(t, err)
	assert.Equal(t, entity.NewGameState(), session.GameState)
	assert.Len(t, session.Participants, 2)
	require.NotNil(t, session.LastResetAt)
	assert.Equal(t, testNow, *session.LastResetAt)

	_, err = useCase.ResetSession(ctx, "missing")
	require.ErrorIs(t, err, apperror.ErrSessionNotFound)
}

func TestSessionUseCase_ConcurrentMoves(t *testing.T) {
	stores := map[string]func(t *testing.T) (sessionRepo, []Option){
		"memory": func(*testing.T) (sessionRepo, []Option) {
			return repository.NewMemorySessionRepository(), nil
		},
		"redis": func(t *testing.T) (sessionRepo, []Option) {
			_, st := suite.New(t)
			locker := repository.NewLocker(st.Storage, repository.DefaultPrefix)

			return repository.NewSessionRepository(st.Storage), []Option{WithDistributedLocker(locker, time.Second)}
		},
	}

	for name, newStore := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			repo, opts := newStore(t)
			useCase, _ := newTestUseCase(t, repo, opts...)

			for round := 0; round < 20; round++ {
				// Given: a started session where X is to move
				id := newStartedSession(ctx, t, useCase)

				// When: two X moves for different cells race
				var (
					wg   sync.WaitGroup
					errs = make([]error, 2)
				)
				for i, col := range []int{0, 1} {
					wg.Add(1)
					go func() {
						defer wg.Done()
						_, errs[i] = useCase.MakeMove(ctx, id, 0, col, tictactoe.X)
					}()
				}
				wg.Wait()

				// Then: exactly one is applied and the other sees the turn already taken
				failed := 0
				for _, err := range errs {
					if err != nil {
						failed++
						require.ErrorIs(t, err, apperror.ErrNotYourTurn, "round %d", round)
					}
				}
				require.Equal(t, 1, failed, "round %d", round)

				session, err := useCase.GetSession(ctx, id)
				require.NoError(t, err)

				marks := 0
				for _, cell := range session.GameState.Board[0] {
					if cell == tictactoe.X {
						marks++
					}
				}
				assert.Equal(t, 1, marks)
				assert.Equal(t, tictactoe.O, session.GameState.CurrentPlayer)
			}
		})
	}
}

func TestSessionUseCase_DistributedLockFailure(t *testing.T) {
	ctx, st := suite.New(t)
	locker := repository.NewLocker(st.Storage, repository.DefaultPrefix)
	useCase, _ := newTestUseCase(t, repository.NewSessionRepository(st.Storage), WithDistributedLocker(locker, time.Minute))
	id := newStartedSession(ctx, t, useCase)

	// Given: another replica holds the session lock
	unlock, err := locker.Lock(ctx, id, time.Minute)
	require.NoError(t, err)
	defer func() { _ = unlock(ctx) }()

	// When: a move is made with a short deadline
	shortCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	_, err = useCase.MakeMove(shortCtx, id, 0, 0, tictactoe.X)

	// Then: it fails without touching the board
	require.ErrorIs(t, err, context.DeadlineExceeded)
	session, err := useCase.GetSession(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, tictactoe.Board{}, session.GameState.Board)
}

func TestSessionUseCase_QueuedMoveRespectsDeadline(t *testing.T) {
	ctx, st := suite.New(t)
	locker := repository.NewLocker(st.Storage, repository.DefaultPrefix)
	useCase, _ := newTestUseCase(t, repository.NewSessionRepository(st.Storage), WithDistributedLocker(locker, time.Minute))
	id := newStartedSession(ctx, t, useCase)

	// Given: another replica holds the session lock
	unlock, err := locker.Lock(ctx, id, time.Minute)
	require.NoError(t, err)

	// And: a first move from this replica is waiting for it with a long deadline
	holderCtx, cancelHolder := context.WithTimeout(ctx, 5*time.Second)
	defer cancelHolder()

	holderDone := make(chan error, 1)
	go func() {
		_, err := useCase.MakeMove(holderCtx, id, 0, 0, tictactoe.X)
		holderDone <- err
	}()
	require.Eventually(t, func() bool { return useCase.locks.size() == 1 }, time.Second, time.Millisecond)

	// When: a second move queues behind it with a short deadline
	shortCtx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
	defer cancel()

	started := time.Now()
	_, err = useCase.MakeMove(shortCtx, id, 0, 1, tictactoe.X)

	// Then: it gives up at its own deadline instead of the holder's
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(started), 2*time.Second)

	// And: the first move goes through once the other replica lets go
	require.NoError(t, unlock(ctx))
	require.NoError(t, <-holderDone)
}
