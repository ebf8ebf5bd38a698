package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"

	"github.com/rocketscienceinc/tictactoe-sessions/internal/config"
	"github.com/rocketscienceinc/tictactoe-sessions/internal/metrics"
	"github.com/rocketscienceinc/tictactoe-sessions/internal/repository"
	"github.com/rocketscienceinc/tictactoe-sessions/internal/repository/storage"
	"github.com/rocketscienceinc/tictactoe-sessions/internal/usecase"
	"github.com/rocketscienceinc/tictactoe-sessions/transport/rest"
)

const shutdownTimeout = 10 * time.Second

var (
	ErrAddrNotFound   = errors.New("redis address string is empty")
	ErrLockNeedsRedis = errors.New("distributed lock requires redis storage")
)

// RunApp - runs the application until a signal arrives or the HTTP server fails.
func RunApp(logger *slog.Logger, conf *config.Config) error {
	log := logger.With("component", "app")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	sessionRepo, opts, closeStorage, err := newSessionStore(ctx, log, conf)
	if err != nil {
		return err
	}
	defer closeStorage()

	sessionUseCase := usecase.NewSessionUseCase(logger, sessionRepo, metrics.New(registry), opts...)

	restOpts := rest.Options{
		Port:           conf.HTTPPort,
		ClientURL:      conf.ClientURL,
		ReadTimeout:    conf.HTTP.ReadTimeout,
		WriteTimeout:   conf.HTTP.WriteTimeout,
		IdleTimeout:    conf.HTTP.IdleTimeout,
		RequestTimeout: conf.HTTP.RequestTimeout,
	}
	server := rest.NewServer(logger, rest.NewRouter(logger, sessionUseCase, registry, restOpts), restOpts)

	// run HTTP server
	httpErrCh := make(chan error, 1)
	go func() {
		httpErrCh <- server.Start()
	}()

	select {
	case err = <-httpErrCh:
		return fmt.Errorf("HTTP server error: %w", err)
	case <-ctx.Done():
		log.Info("Received signal, shutting down")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err = server.Shutdown(shutdownCtx); err != nil {
		return err
	}

	return <-httpErrCh
}

func newSessionStore(
	ctx context.Context, log *slog.Logger, conf *config.Config,
) (repository.SessionRepository, []usecase.Option, func(), error) {
	if conf.Storage == config.StorageMemory {
		if conf.DistributedLock {
			return nil, nil, nil, ErrLockNeedsRedis
		}

		log.Warn("using in-memory storage, sessions are lost on restart")

		return repository.NewMemorySessionRepository(), nil, func() {}, nil
	}

	redisAddrString := conf.Redis.GetRedisAddr()
	if conf.Redis.Host == "" {
		return nil, nil, nil, ErrAddrNotFound
	}

	redisStorage, err := storage.New(ctx, storage.Options{
		Addr:     redisAddrString,
		Password: conf.Redis.Password,
		DB:       conf.Redis.DB,
	})
	if err != nil {
		return nil, nil, nil, fmt.Errorf("could not connect to redis storage: %w", err)
	}

	closeStorage := func() {
		if err := redisStorage.Close(); err != nil && !errors.Is(err, redis.ErrClosed) {
			log.Error("could not close redis storage", "error", err)
		}
	}

	sessionRepo := repository.NewSessionRepository(redisStorage,
		repository.WithPrefix(conf.Redis.Prefix),
		repository.WithTTL(conf.SessionTTL),
	)

	var opts []usecase.Option
	if conf.DistributedLock {
		opts = append(opts, usecase.WithDistributedLocker(repository.NewLocker(redisStorage, conf.Redis.Prefix), conf.LockTTL))
	}

	log.Info("using redis storage", "addr", redisAddrString, "distributedLock", conf.DistributedLock)

	return sessionRepo, opts, closeStorage, nil
}
