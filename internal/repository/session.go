package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rocketscienceinc/tictactoe-sessions/internal/apperror"
	"github.com/rocketscienceinc/tictactoe-sessions/internal/entity"
	"github.com/rocketscienceinc/tictactoe-sessions/internal/tictactoe"
)

const DefaultPrefix = "tictactoe:"

type SessionRepository interface {
	Create(ctx context.Context, session *entity.Session) error
	GetByID(ctx context.Context, id string) (*entity.Session, error)
	Update(ctx context.Context, session *entity.Session) error
}

type Option func(*dbSession)

// WithTTL expires sessions that were not written for ttl. Zero keeps them forever.
func WithTTL(ttl time.Duration) Option {
	return func(that *dbSession) {
		that.ttl = ttl
	}
}

func WithPrefix(prefix string) Option {
	return func(that *dbSession) {
		that.prefix = prefix
	}
}

type dbSession struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

func NewSessionRepository(client *redis.Client, opts ...Option) SessionRepository {
	repo := &dbSession{
		client: client,
		prefix: DefaultPrefix,
	}

	for _, opt := range opts {
		opt(repo)
	}

	return repo
}

func (that *dbSession) Create(ctx context.Context, session *entity.Session) error {
	sessionJSON, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("could not marshal session: %w", err)
	}

	created, err := that.client.SetNX(ctx, that.key(session.ID), sessionJSON, that.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	if !created {
		return fmt.Errorf("%w: %s", apperror.ErrSessionExists, session.ID)
	}

	return nil
}

func (that *dbSession) GetByID(ctx context.Context, id string) (*entity.Session, error) {
	response, err := that.client.Get(ctx, that.key(id)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", apperror.ErrSessionNotFound, id)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get session by id: %w", err)
	}

	var session entity.Session
	if err = json.Unmarshal([]byte(response), &session); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session: %w", err)
	}

	if err = tictactoe.Validate(session.GameState.Board); err != nil {
		return nil, fmt.Errorf("stored session %s is corrupted: %w", id, err)
	}

	return &session, nil
}

// Update overwrites an existing session. It never recreates an expired one.
func (that *dbSession) Update(ctx context.Context, session *entity.Session) error {
	sessionJSON, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("could not marshal session: %w", err)
	}

	updated, err := that.client.SetXX(ctx, that.key(session.ID), sessionJSON, that.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to update session: %w", err)
	}

	if !updated {
		return fmt.Errorf("%w: %s", apperror.ErrSessionNotFound, session.ID)
	}

	return nil
}

func (that *dbSession) key(id string) string {
	return that.prefix + "session:" + id
}
