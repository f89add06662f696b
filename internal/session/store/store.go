// Package store persists session records. Every implementation applies
// Execute atomically: validate and mutate see the same snapshot and no other
// writer can interleave between them.
package store

import (
	"context"
	"sync"
	"time"

	"portal/internal/session/models"
	id "portal/pkg/domain"
	"portal/pkg/platform/sentinel"
)

// ValidateFunc inspects the current record and aborts the update by returning
// an error.
type ValidateFunc func(*models.Session) error

// MutateFunc applies the transition to the record.
type MutateFunc func(*models.Session)

// Option configures a store.
type Option func(*options)

type options struct {
	now func() time.Time
}

// WithClock overrides the clock used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	return o
}

// InMemoryStore keeps sessions in a map guarded by a single mutex. Suitable
// for a single instance; use RedisStore when running more than one.
type InMemoryStore struct {
	mu       sync.Mutex
	sessions map[id.SessionID]*models.Session
	now      func() time.Time
}

// New returns an empty in-memory store.
func New(opts ...Option) *InMemoryStore {
	o := buildOptions(opts)
	return &InMemoryStore{
		sessions: make(map[id.SessionID]*models.Session),
		now:      o.now,
	}
}

// Create stores a new record. It fails with sentinel.ErrConflict when a live
// record with the same id exists.
func (s *InMemoryStore) Create(_ context.Context, session *models.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.sessions[session.ID]; ok && !existing.IsExpired(s.now()) {
		return sentinel.ErrConflict
	}
	s.sessions[session.ID] = session.Clone()
	return nil
}

// FindByID returns a copy of the record or sentinel.ErrNotFound.
func (s *InMemoryStore) FindByID(_ context.Context, sessionID id.SessionID) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, err := s.liveLocked(sessionID)
	if err != nil {
		return nil, err
	}
	return session.Clone(), nil
}

// Execute runs validate then mutate under the store lock and returns the
// updated record.
func (s *InMemoryStore) Execute(_ context.Context, sessionID id.SessionID, validate ValidateFunc, mutate MutateFunc) (*models.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, err := s.liveLocked(sessionID)
	if err != nil {
		return nil, err
	}
	working := current.Clone()
	if validate != nil {
		if err := validate(working); err != nil {
			return nil, err
		}
	}
	if mutate != nil {
		mutate(working)
	}
	s.sessions[sessionID] = working
	return working.Clone(), nil
}

// Delete removes the record. Deleting a missing record is not an error.
func (s *InMemoryStore) Delete(_ context.Context, sessionID id.SessionID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

// Len returns the number of live records.
func (s *InMemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	n := 0
	for _, session := range s.sessions {
		if !session.IsExpired(now) {
			n++
		}
	}
	return n
}

// DeleteExpired removes every record that has expired as of now and returns
// how many were dropped.
func (s *InMemoryStore) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	deleted := 0
	for sessionID, session := range s.sessions {
		if session.IsExpired(now) {
			delete(s.sessions, sessionID)
			deleted++
		}
	}
	return deleted, nil
}

// RunCleanup calls DeleteExpired on every tick until ctx is done.
func (s *InMemoryStore) RunCleanup(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if _, err := s.DeleteExpired(ctx, s.now()); err != nil {
				return err
			}
		}
	}
}

// size counts every record, expired or not.
func (s *InMemoryStore) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (s *InMemoryStore) liveLocked(sessionID id.SessionID) (*models.Session, error) {
	session, ok := s.sessions[sessionID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	if session.IsExpired(s.now()) {
		delete(s.sessions, sessionID)
		return nil, sentinel.ErrNotFound
	}
	return session, nil
}
