package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"portal/internal/session/models"
	id "portal/pkg/domain"
	"portal/pkg/platform/sentinel"
)

const (
	sessionKeyPrefix = "portal:session:"

	defaultMaxRetries = 5
)

// RedisStore keeps session records as JSON strings with a TTL matching the
// record's ExpiresAt. Execute uses WATCH/MULTI so concurrent writers from
// other instances are detected and retried.
type RedisStore struct {
	client     *redis.Client
	now        func() time.Time
	maxRetries int
}

// RedisOption configures a RedisStore.
type RedisOption func(*RedisStore)

// WithMaxRetries bounds how many times Execute retries after a WATCH conflict.
func WithMaxRetries(n int) RedisOption {
	return func(s *RedisStore) {
		if n > 0 {
			s.maxRetries = n
		}
	}
}

// WithRedisClock overrides the clock used to compute key TTLs.
func WithRedisClock(now func() time.Time) RedisOption {
	return func(s *RedisStore) {
		if now != nil {
			s.now = now
		}
	}
}

// NewRedis constructs a Redis-backed session store.
func NewRedis(client *redis.Client, opts ...RedisOption) *RedisStore {
	s := &RedisStore{
		client:     client,
		now:        time.Now,
		maxRetries: defaultMaxRetries,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func sessionKey(sessionID id.SessionID) string {
	return sessionKeyPrefix + sessionID.String()
}

// Create stores a new record with SET NX.
func (s *RedisStore) Create(ctx context.Context, session *models.Session) error {
	data, ttl, err := s.encode(session)
	if err != nil {
		return err
	}
	if ttl <= 0 {
		return nil
	}
	ok, err := s.client.SetNX(ctx, sessionKey(session.ID), data, ttl).Result()
	if err != nil {
		return fmt.Errorf("create session: %w", errors.Join(sentinel.ErrUnavailable, err))
	}
	if !ok {
		return sentinel.ErrConflict
	}
	return nil
}

// FindByID loads a record or returns sentinel.ErrNotFound.
func (s *RedisStore) FindByID(ctx context.Context, sessionID id.SessionID) (*models.Session, error) {
	raw, err := s.client.Get(ctx, sessionKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", errors.Join(sentinel.ErrUnavailable, err))
	}
	return decode(raw)
}

// Execute applies validate and mutate inside a WATCH transaction. A conflict
// with another writer restarts the whole cycle, so validate always sees the
// latest record. After maxRetries conflicts it returns sentinel.ErrConflict.
func (s *RedisStore) Execute(ctx context.Context, sessionID id.SessionID, validate ValidateFunc, mutate MutateFunc) (*models.Session, error) {
	key := sessionKey(sessionID)

	for attempt := 0; attempt < s.maxRetries; attempt++ {
		var updated *models.Session
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			raw, err := tx.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				return sentinel.ErrNotFound
			}
			if err != nil {
				return errors.Join(sentinel.ErrUnavailable, err)
			}
			session, err := decode(raw)
			if err != nil {
				return err
			}
			if validate != nil {
				if err := validate(session); err != nil {
					return err
				}
			}
			if mutate != nil {
				mutate(session)
			}

			data, ttl, err := s.encode(session)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				if ttl <= 0 {
					pipe.Del(ctx, key)
					return nil
				}
				pipe.Set(ctx, key, data, ttl)
				return nil
			})
			if err != nil {
				return err
			}
			updated = session
			return nil
		}, key)

		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return updated, nil
	}
	return nil, sentinel.ErrConflict
}

// Delete removes the record.
func (s *RedisStore) Delete(ctx context.Context, sessionID id.SessionID) error {
	if err := s.client.Del(ctx, sessionKey(sessionID)).Err(); err != nil {
		return fmt.Errorf("delete session: %w", errors.Join(sentinel.ErrUnavailable, err))
	}
	return nil
}

func (s *RedisStore) encode(session *models.Session) ([]byte, time.Duration, error) {
	data, err := json.Marshal(session)
	if err != nil {
		return nil, 0, fmt.Errorf("encode session: %w", err)
	}
	return data, session.ExpiresAt.Sub(s.now()), nil
}

func decode(raw []byte) (*models.Session, error) {
	var session models.Session
	if err := json.Unmarshal(raw, &session); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	return &session, nil
}
