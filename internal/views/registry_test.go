package views

//go:generate mockgen -source=registry.go -destination=mocks/mocks.go -package=mocks Upstream,Subscriber

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"portal/internal/session/models"
	"portal/internal/session/notifier"
	"portal/internal/upstream"
	"portal/internal/views/mocks"
	id "portal/pkg/domain"
)

type RegistrySuite struct {
	suite.Suite
	ctrl     *gomock.Controller
	upstream *mocks.MockUpstream
	now      time.Time
	registry *Registry
	ctx      context.Context
}

func TestRegistrySuite(t *testing.T) {
	suite.Run(t, new(RegistrySuite))
}

func (s *RegistrySuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.upstream = mocks.NewMockUpstream(s.ctrl)
	s.now = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	s.ctx = context.Background()

	var err error
	s.registry, err = NewRegistry(s.upstream,
		WithPrefetchWindow(10*time.Second),
		WithIdleTTL(time.Hour),
		WithClock(func() time.Time { return s.now }),
	)
	s.Require().NoError(err)
}

func (s *RegistrySuite) TearDownTest() {
	s.ctrl.Finish()
}

func signedIn(sid id.SessionID, email id.Email) notifier.Event {
	return notifier.Event{SessionID: sid, State: models.StateSignedIn, Email: email, Display: "Jane Doe"}
}

func (s *RegistrySuite) TestRequiresUpstream() {
	_, err := NewRegistry(nil)
	s.Error(err)
}

// =============================================================================
// Transitions
// =============================================================================

func (s *RegistrySuite) TestSignedInPrefetchesDashboardOnce() {
	sid := id.NewSessionID()
	payload := &upstream.Dashboard{CurrentBalance: upstream.Some(1000)}
	s.upstream.EXPECT().UserDashboard(gomock.Any(), id.Email("ok@x.com")).Return(payload, nil).Times(1)

	s.registry.Handle(s.ctx, signedIn(sid, "ok@x.com"))

	// The first mount joins or reuses the prefetch instead of reading again.
	got, err := s.registry.For(sid).Dashboard.Load(s.ctx, "ok@x.com")
	s.Require().NoError(err)
	s.Same(payload, got)
}

func (s *RegistrySuite) TestSignedInWithoutEmailIsIgnored() {
	s.registry.Handle(s.ctx, notifier.Event{SessionID: id.NewSessionID(), State: models.StateSignedIn})
	s.Equal(0, s.registry.Len())
}

func (s *RegistrySuite) TestSignedOutDropsLoaders() {
	sid := id.NewSessionID()
	s.upstream.EXPECT().GroupDetails(gomock.Any(), id.GroupID("G1")).Return(&upstream.GroupDetails{}, nil)
	_, err := s.registry.For(sid).Group.Load(s.ctx, "G1")
	s.Require().NoError(err)
	s.Equal(1, s.registry.Len())

	s.registry.Handle(s.ctx, notifier.Event{SessionID: sid, State: models.StateSignedOut, Outcome: models.OutcomeSignedOut})

	s.Equal(0, s.registry.Len())
	s.Equal(StateIdle, s.registry.For(sid).Group.Snapshot().State)
}

func (s *RegistrySuite) TestSessionsDoNotShareLoaders() {
	a, b := id.NewSessionID(), id.NewSessionID()
	s.upstream.EXPECT().GroupDetails(gomock.Any(), id.GroupID("G1")).Return(&upstream.GroupDetails{GroupName: "one"}, nil)
	s.upstream.EXPECT().GroupDetails(gomock.Any(), id.GroupID("G2")).Return(&upstream.GroupDetails{GroupName: "two"}, nil)

	_, err := s.registry.For(a).Group.Load(s.ctx, "G1")
	s.Require().NoError(err)
	_, err = s.registry.For(b).Group.Load(s.ctx, "G2")
	s.Require().NoError(err)

	s.Equal(id.GroupID("G1"), s.registry.For(a).Group.Snapshot().Key)
	s.Equal(id.GroupID("G2"), s.registry.For(b).Group.Snapshot().Key)
}

// =============================================================================
// Lifecycle
// =============================================================================

func (s *RegistrySuite) TestSweepEvictsIdleSessions() {
	idle, active := id.NewSessionID(), id.NewSessionID()
	s.registry.For(idle)
	s.now = s.now.Add(45 * time.Minute)
	s.registry.For(active)
	s.now = s.now.Add(30 * time.Minute)

	s.Equal(1, s.registry.Sweep())
	s.Equal(1, s.registry.Len())
}

func (s *RegistrySuite) TestRunConsumesBrokerEvents() {
	broker := notifier.New()
	sid := id.NewSessionID()
	var calls atomic.Int32
	s.upstream.EXPECT().UserDashboard(gomock.Any(), id.Email("ok@x.com")).
		DoAndReturn(func(context.Context, id.Email) (*upstream.Dashboard, error) {
			calls.Add(1)
			return &upstream.Dashboard{}, nil
		})

	ctx, cancel := context.WithCancel(s.ctx)
	done := make(chan error, 1)
	go func() { done <- s.registry.Run(ctx, broker) }()
	s.Require().Eventually(func() bool { return broker.Subscribers() == 1 }, time.Second, 5*time.Millisecond)

	broker.Publish(s.ctx, signedIn(sid, "ok@x.com"))
	s.Require().Eventually(func() bool { return calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	cancel()
	s.NoError(<-done)
	s.Equal(0, broker.Subscribers())
}
