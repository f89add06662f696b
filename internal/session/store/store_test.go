package store

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"portal/internal/identity"
	"portal/internal/session/models"
	id "portal/pkg/domain"
	dErrors "portal/pkg/domain-errors"
	"portal/pkg/platform/sentinel"
)

// InMemoryStoreSuite covers the atomicity and expiry rules the flow service
// relies on; handler tests use the store only as a fixture.
type InMemoryStoreSuite struct {
	suite.Suite
	now   time.Time
	store *InMemoryStore
}

func TestInMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryStoreSuite))
}

func (s *InMemoryStoreSuite) SetupTest() {
	s.now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	s.store = New(WithClock(func() time.Time { return s.now }))
}

func (s *InMemoryStoreSuite) newSession() *models.Session {
	return models.New(id.NewSessionID(), "Chrome on Linux", s.now, time.Hour)
}

func (s *InMemoryStoreSuite) TestCreateAndFind() {
	ctx := context.Background()

	s.Run("returns stored session when found", func() {
		session := s.newSession()
		s.Require().NoError(s.store.Create(ctx, session))

		found, err := s.store.FindByID(ctx, session.ID)
		s.Require().NoError(err)
		s.Equal(session, found)
	})

	s.Run("returns ErrNotFound when session does not exist", func() {
		_, err := s.store.FindByID(ctx, id.NewSessionID())
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("duplicate create returns ErrConflict", func() {
		session := s.newSession()
		s.Require().NoError(s.store.Create(ctx, session))
		s.ErrorIs(s.store.Create(ctx, session), sentinel.ErrConflict)
	})

	s.Run("returned records are copies", func() {
		session := s.newSession()
		s.Require().NoError(s.store.Create(ctx, session))

		found, err := s.store.FindByID(ctx, session.ID)
		s.Require().NoError(err)
		found.State = models.StateSignedIn

		again, err := s.store.FindByID(ctx, session.ID)
		s.Require().NoError(err)
		s.Equal(models.StateSignedOut, again.State)
	})
}

func (s *InMemoryStoreSuite) TestExpiry() {
	ctx := context.Background()
	session := s.newSession()
	s.Require().NoError(s.store.Create(ctx, session))

	s.now = s.now.Add(time.Hour)

	_, err := s.store.FindByID(ctx, session.ID)
	s.ErrorIs(err, sentinel.ErrNotFound)
	s.Equal(0, s.store.Len())
	s.NoError(s.store.Create(ctx, session), "expired record can be replaced")
}

func (s *InMemoryStoreSuite) TestExecute() {
	ctx := context.Background()

	s.Run("applies mutation and returns updated record", func() {
		session := s.newSession()
		s.Require().NoError(s.store.Create(ctx, session))
		attempt := id.NewAttemptID()

		updated, err := s.store.Execute(ctx, session.ID,
			func(sess *models.Session) error { return sess.CanBegin(s.now) },
			func(sess *models.Session) { sess.ApplyBegin(attempt, "v", s.now, 10*time.Minute) },
		)
		s.Require().NoError(err)
		s.Equal(models.StateVerifying, updated.State)

		found, err := s.store.FindByID(ctx, session.ID)
		s.Require().NoError(err)
		s.Equal(attempt, found.AttemptID)
	})

	s.Run("validation error leaves record untouched", func() {
		session := s.newSession()
		s.Require().NoError(s.store.Create(ctx, session))
		boom := errors.New("no")

		_, err := s.store.Execute(ctx, session.ID,
			func(*models.Session) error { return boom },
			func(sess *models.Session) {
				sess.ApplySignedIn(identity.Identity{Email: "ok@x.com"}, s.now, time.Hour)
			},
		)
		s.ErrorIs(err, boom)

		found, err := s.store.FindByID(ctx, session.ID)
		s.Require().NoError(err)
		s.Equal(models.StateSignedOut, found.State)
	})

	s.Run("missing record returns ErrNotFound", func() {
		_, err := s.store.Execute(ctx, id.NewSessionID(), nil, nil)
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *InMemoryStoreSuite) TestConcurrentBeginIsSingleFlight() {
	ctx := context.Background()
	session := s.newSession()
	s.Require().NoError(s.store.Create(ctx, session))

	const goroutines = 20
	var wg sync.WaitGroup
	var started, rejected atomic.Int32
	now := s.now

	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.store.Execute(ctx, session.ID,
				func(sess *models.Session) error { return sess.CanBegin(now) },
				func(sess *models.Session) { sess.ApplyBegin(id.NewAttemptID(), "v", now, 10*time.Minute) },
			)
			switch {
			case err == nil:
				started.Add(1)
			case dErrors.HasCode(err, dErrors.CodeSignInInProgress):
				rejected.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), started.Load())
	s.Equal(int32(goroutines-1), rejected.Load())
}

func (s *InMemoryStoreSuite) TestDelete() {
	ctx := context.Background()
	session := s.newSession()
	s.Require().NoError(s.store.Create(ctx, session))

	s.Require().NoError(s.store.Delete(ctx, session.ID))
	s.Require().NoError(s.store.Delete(ctx, session.ID))

	_, err := s.store.FindByID(ctx, session.ID)
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *InMemoryStoreSuite) TestDeleteExpiredDropsAbandonedRecords() {
	ctx := context.Background()
	for range 100 {
		s.Require().NoError(s.store.Create(ctx, s.newSession()))
	}
	s.now = s.now.Add(48 * time.Hour)
	fresh := s.newSession()
	s.Require().NoError(s.store.Create(ctx, fresh))

	deleted, err := s.store.DeleteExpired(ctx, s.now)

	s.Require().NoError(err)
	s.Equal(100, deleted)
	s.Equal(1, s.store.size())
	_, err = s.store.FindByID(ctx, fresh.ID)
	s.NoError(err)
}

func (s *InMemoryStoreSuite) TestRunCleanupSweepsUntilCancelled() {
	ctx, cancel := context.WithCancel(context.Background())
	s.Require().NoError(s.store.Create(ctx, s.newSession()))
	s.now = s.now.Add(2 * time.Hour)

	done := make(chan error, 1)
	go func() { done <- s.store.RunCleanup(ctx, time.Millisecond) }()

	s.Eventually(func() bool { return s.store.size() == 0 }, time.Second, 5*time.Millisecond)
	cancel()
	s.NoError(<-done)
}
