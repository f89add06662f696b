//go:build integration

package store_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"portal/internal/session/models"
	"portal/internal/session/store"
	id "portal/pkg/domain"
	dErrors "portal/pkg/domain-errors"
	"portal/pkg/platform/sentinel"
	"portal/pkg/testutil/containers"
)

type RedisStoreSuite struct {
	suite.Suite
	redis *containers.RedisContainer
	store *store.RedisStore
}

func TestRedisStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RedisStoreSuite))
}

func (s *RedisStoreSuite) SetupSuite() {
	s.redis = containers.NewRedisContainer(s.T())
	s.store = store.NewRedis(s.redis.Client, store.WithMaxRetries(50))
}

func (s *RedisStoreSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

// TestWATCHSingleFlight verifies that concurrent Begin transitions against a
// real server let exactly one attempt through.
func (s *RedisStoreSuite) TestWATCHSingleFlight() {
	ctx := context.Background()
	now := time.Now()
	session := models.New(id.NewSessionID(), "", now, time.Hour)
	s.Require().NoError(s.store.Create(ctx, session))

	const goroutines = 20
	var wg sync.WaitGroup
	var started, rejected, otherErrors atomic.Int32

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
			case dErrors.HasCode(err, dErrors.CodeSignInInProgress), err == sentinel.ErrConflict:
				rejected.Add(1)
			default:
				otherErrors.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), started.Load(), "exactly one begin should succeed")
	s.Equal(int32(goroutines-1), rejected.Load())
	s.Equal(int32(0), otherErrors.Load(), "no unexpected errors")
}

// TestTTLFollowsExpiry verifies that the key TTL tracks ExpiresAt.
func (s *RedisStoreSuite) TestTTLFollowsExpiry() {
	ctx := context.Background()
	session := models.New(id.NewSessionID(), "", time.Now(), time.Hour)
	s.Require().NoError(s.store.Create(ctx, session))

	ttl, err := s.redis.Client.TTL(ctx, "portal:session:"+session.ID.String()).Result()
	s.Require().NoError(err)
	s.Greater(ttl, 59*time.Minute)
	s.LessOrEqual(ttl, time.Hour)
}
