package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"portal/internal/upstream"
	"portal/internal/views"
	"portal/internal/views/mocks"
	id "portal/pkg/domain"
	"portal/pkg/testutil"
)

// =============================================================================
// Views Handler Test Suite
// =============================================================================
// The registry and renderer are real; only the upstream read API is mocked
// (or served by httptest when the full client path matters).

type HandlerSuite struct {
	suite.Suite
	ctrl      *gomock.Controller
	upstream  *mocks.MockUpstream
	registry  *views.Registry
	sessionID id.SessionID
	email     string
	router    chi.Router
	logger    *slog.Logger
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.upstream = mocks.NewMockUpstream(s.ctrl)
	s.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	s.sessionID = id.NewSessionID()
	s.email = "ok@x.com"
	s.router = s.newRouter(s.upstream)
}

func (s *HandlerSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *HandlerSuite) newRouter(up views.Upstream) chi.Router {
	var err error
	s.registry, err = views.NewRegistry(up, views.WithLogger(s.logger))
	s.Require().NoError(err)
	agreements, err := views.NewAgreementRenderer("Segula")
	s.Require().NoError(err)

	r := chi.NewRouter()
	New(s.registry, agreements, s.logger).Register(r)
	return r
}

func (s *HandlerSuite) get(path string) *httptest.ResponseRecorder {
	req := testutil.WithSignedIn(httptest.NewRequest(http.MethodGet, path, nil), s.sessionID.String(), s.email, "Jane Doe")
	return testutil.DoRequest(s.router, req)
}

func (s *HandlerSuite) decode(rec *httptest.ResponseRecorder) map[string]any {
	return testutil.DecodeJSON[map[string]any](s.T(), rec)
}

// =============================================================================
// Dashboard
// =============================================================================

func (s *HandlerSuite) TestDashboardRendersForSignedInEmail() {
	s.upstream.EXPECT().UserDashboard(gomock.Any(), id.Email("ok@x.com")).Return(&upstream.Dashboard{
		CurrentBalance:    upstream.Some(1000),
		NextPaymentAmount: upstream.Some(50),
		NextPaymentDate:   "2024-06-01",
		InvestmentGroupID: "G1",
		FullName:          "Jane Doe",
	}, nil)

	rec := s.get("/dashboard")

	s.Require().Equal(http.StatusOK, rec.Code)
	body := s.decode(rec)
	s.Equal("Welcome, Jane", body["greeting"])
	s.Equal("$1,000", body["current_balance"].(map[string]any)["display"])
	s.Equal("$50", body["next_payment"].(map[string]any)["display"])
	s.Equal(false, body["incomplete"])
}

func (s *HandlerSuite) TestDashboardUpstreamErrorFieldShowsNeutralFailure() {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.Equal(upstream.ActionGetUserDashboard, r.URL.Query().Get("action"))
		s.Equal("ok@x.com", r.URL.Query().Get("email"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"error": "no record"}`))
	}))
	defer srv.Close()
	client, err := upstream.New(srv.URL)
	s.Require().NoError(err)
	s.router = s.newRouter(client)

	rec := s.get("/dashboard")

	s.Equal(http.StatusBadGateway, rec.Code)
	s.NotContains(rec.Body.String(), "no record")
	body := s.decode(rec)
	s.Equal("failed", body["state"])
	s.Equal("upstream_data", body["error"])
	s.NotEmpty(body["message"])
	s.NotContains(body, "current_balance")
	s.NotContains(body, "next_payment")
	s.Equal(views.StateFailed, s.registry.For(s.sessionID).Dashboard.Snapshot().State)
}

func (s *HandlerSuite) TestDashboardNonFiniteNumbersAreMarkedMissing() {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"currentBalance": "NaN", "nextPaymentAmount": "Infinity", "fullName": "Jane Doe"}`))
	}))
	defer srv.Close()
	client, err := upstream.New(srv.URL)
	s.Require().NoError(err)
	s.router = s.newRouter(client)

	rec := s.get("/dashboard")

	s.Require().Equal(http.StatusOK, rec.Code)
	body := s.decode(rec)
	s.Equal(true, body["incomplete"])
	s.Equal([]any{"currentBalance", "nextPaymentAmount"}, body["missing_fields"])
	s.Nil(body["current_balance"].(map[string]any)["value"])
	s.Equal("$0", body["current_balance"].(map[string]any)["display"])
}

func (s *HandlerSuite) TestDashboardTimeoutMapsToGatewayTimeout() {
	s.upstream.EXPECT().UserDashboard(gomock.Any(), gomock.Any()).
		Return(nil, &upstream.Error{Category: upstream.CategoryTimeout, Action: upstream.ActionGetUserDashboard})

	rec := s.get("/dashboard")

	s.Equal(http.StatusGatewayTimeout, rec.Code)
	s.Equal("timeout", s.decode(rec)["error"])
}

func (s *HandlerSuite) TestWithoutIdentityRedirectsToLogin() {
	s.email = ""

	for _, path := range []string{"/dashboard", "/group/G1", "/group/G1/agreement"} {
		rec := s.get(path)
		s.Equal(http.StatusFound, rec.Code, path)
		s.Equal("/", rec.Header().Get("Location"), path)
	}
}

// =============================================================================
// Group detail
// =============================================================================

func (s *HandlerSuite) TestGroupRenders() {
	s.upstream.EXPECT().GroupDetails(gomock.Any(), id.GroupID("G1")).Return(&upstream.GroupDetails{
		GroupName:               "Fund A",
		CollateralCoverageRatio: upstream.Some(1.1),
		TotalFunds:              upstream.Some(250000),
		InvestorMix:             []upstream.InvestorMix{{Investor: "Jane Doe", Percentage: upstream.Some(0.4), CurrentBalance: upstream.Some(100000)}},
	}, nil)

	rec := s.get("/group/G1")

	s.Require().Equal(http.StatusOK, rec.Code)
	body := s.decode(rec)
	s.Equal("Fund A", body["group_name"])
	s.Equal("110.00%", body["collateral_coverage_ratio"])
	mix := body["investor_mix"].([]any)
	s.Require().Len(mix, 1)
	s.Equal(true, mix[0].(map[string]any)["is_current_user"])
}

func (s *HandlerSuite) TestGroupMarksInvestorBySheetName() {
	s.upstream.EXPECT().UserDashboard(gomock.Any(), id.Email("ok@x.com")).Return(&upstream.Dashboard{
		CurrentBalance:    upstream.Some(1000),
		NextPaymentAmount: upstream.Some(50),
		FullName:          "Jane Q. Doe",
	}, nil)
	s.upstream.EXPECT().GroupDetails(gomock.Any(), id.GroupID("G1")).Return(&upstream.GroupDetails{
		GroupName: "Fund A",
		InvestorMix: []upstream.InvestorMix{
			{Investor: "Jane Q. Doe", Percentage: upstream.Some(0.4), CurrentBalance: upstream.Some(100000)},
			{Investor: "John Roe", Percentage: upstream.Some(0.6), CurrentBalance: upstream.Some(150000)},
		},
	}, nil)

	s.Require().Equal(http.StatusOK, s.get("/dashboard").Code)
	rec := s.get("/group/G1")

	s.Require().Equal(http.StatusOK, rec.Code)
	mix := s.decode(rec)["investor_mix"].([]any)
	s.Require().Len(mix, 2)
	s.Equal(true, mix[0].(map[string]any)["is_current_user"], "provider name Jane Doe differs, sheet name matches")
	s.Equal(false, mix[1].(map[string]any)["is_current_user"])
}

func (s *HandlerSuite) TestGroupRejectsInvalidID() {
	rec := s.get("/group/G1%20OR%201=1")
	s.Equal(http.StatusBadRequest, rec.Code)
}

func (s *HandlerSuite) TestSwitchingGroupsDiscardsStaleResponse() {
	startedA := make(chan struct{})
	releaseA := make(chan struct{})
	s.upstream.EXPECT().GroupDetails(gomock.Any(), id.GroupID("A")).
		DoAndReturn(func(context.Context, id.GroupID) (*upstream.GroupDetails, error) {
			close(startedA)
			<-releaseA
			return &upstream.GroupDetails{GroupName: "Group A"}, nil
		})
	s.upstream.EXPECT().GroupDetails(gomock.Any(), id.GroupID("B")).
		Return(&upstream.GroupDetails{GroupName: "Group B"}, nil)

	recA := make(chan *httptest.ResponseRecorder, 1)
	go func() { recA <- s.get("/group/A") }()
	select {
	case <-startedA:
	case <-time.After(2 * time.Second):
		s.FailNow("request for A never reached upstream")
	}

	recB := s.get("/group/B")
	s.Require().Equal(http.StatusOK, recB.Code)
	s.Equal("Group B", s.decode(recB)["group_name"])

	close(releaseA)
	stale := <-recA
	s.Equal(http.StatusConflict, stale.Code)
	s.Equal("superseded", s.decode(stale)["error"])

	snap := s.registry.For(s.sessionID).Group.Snapshot()
	s.Equal(id.GroupID("B"), snap.Key)
	s.Equal("Group B", string(snap.Value.GroupName))
}

func (s *HandlerSuite) TestGroupFailureDoesNotTouchDashboard() {
	s.upstream.EXPECT().UserDashboard(gomock.Any(), gomock.Any()).Return(&upstream.Dashboard{
		CurrentBalance:    upstream.Some(1),
		NextPaymentAmount: upstream.Some(1),
	}, nil)
	s.upstream.EXPECT().GroupDetails(gomock.Any(), gomock.Any()).
		Return(nil, &upstream.Error{Category: upstream.CategoryNetwork, Action: upstream.ActionGetGroupDetails})

	s.Require().Equal(http.StatusOK, s.get("/dashboard").Code)
	s.Equal(http.StatusBadGateway, s.get("/group/G1").Code)

	loaders := s.registry.For(s.sessionID)
	s.Equal(views.StateReady, loaders.Dashboard.Snapshot().State)
	s.Equal(views.StateFailed, loaders.Group.Snapshot().State)
}

// =============================================================================
// Agreement
// =============================================================================

func (s *HandlerSuite) TestAgreementRenders() {
	s.upstream.EXPECT().GroupDetails(gomock.Any(), id.GroupID("G1")).
		Return(&upstream.GroupDetails{GroupName: "Fund A"}, nil)

	rec := s.get("/group/G1/agreement")

	s.Require().Equal(http.StatusOK, rec.Code)
	body := s.decode(rec)
	s.Equal("Limited Partnership Agreement", body["title"])
	s.Contains(body["html"], "Fund A")
	s.Equal("/group/G1", body["back_path"])
}
