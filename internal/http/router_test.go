package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"portal/internal/identity"
	"portal/internal/platform/metrics"
	"portal/internal/session/middleware/mocks"
	"portal/internal/session/models"
	"portal/internal/session/token"
	id "portal/pkg/domain"
	"portal/pkg/platform/middleware/ratelimit"
	"portal/pkg/platform/middleware/request"
	"portal/pkg/requestcontext"
)

// routes is a Registrar that mounts one GET endpoint echoing the viewer.
type routes string

func (p routes) Register(r chi.Router) {
	r.Get(string(p), func(w http.ResponseWriter, r *http.Request) {
		email, _ := requestcontext.Email(r.Context())
		w.Header().Set("X-Email", email.String())
		w.WriteHeader(http.StatusOK)
	})
}

// =============================================================================
// Router Test Suite
// =============================================================================

type RouterSuite struct {
	suite.Suite
	ctrl    *gomock.Controller
	loader  *mocks.MockSessionLoader
	cookies *token.Service
	opts    Options
}

func TestRouterSuite(t *testing.T) {
	suite.Run(t, new(RouterSuite))
}

func (s *RouterSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.loader = mocks.NewMockSessionLoader(s.ctrl)
	s.cookies = token.NewService([]byte("0123456789abcdef0123456789abcdef"), "portal", "portal")
	s.opts = Options{
		Logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		Cookies:   s.cookies,
		Sessions:  s.loader,
		CookieTTL: time.Hour,
		Auth:      routes("/auth/login"),
		Views:     routes("/dashboard"),
	}
}

func (s *RouterSuite) TearDownTest() {
	s.ctrl.Finish()
}

func (s *RouterSuite) serve(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	NewRouter(s.opts).ServeHTTP(rec, req)
	return rec
}

func (s *RouterSuite) withSession(req *http.Request, sessionID id.SessionID) *http.Request {
	signed, err := s.cookies.Issue(sessionID, time.Hour)
	s.Require().NoError(err)
	req.AddCookie(&http.Cookie{Name: token.CookieName, Value: signed})
	return req
}

func (s *RouterSuite) expectSession(signedIn bool) id.SessionID {
	sessionID := id.NewSessionID()
	session := models.New(sessionID, "", time.Now(), time.Hour)
	if signedIn {
		session.ApplySignedIn(identity.Identity{Email: "ok@x.com", DisplayName: "Jane"}, time.Now(), time.Hour)
	}
	s.loader.EXPECT().Ensure(gomock.Any(), sessionID).Return(session, nil).AnyTimes()
	return sessionID
}

// =============================================================================
// Guard
// =============================================================================

func (s *RouterSuite) TestSignedOutViewRedirectsToLogin() {
	sessionID := s.expectSession(false)

	rec := s.serve(s.withSession(httptest.NewRequest(http.MethodGet, "/dashboard", nil), sessionID))

	s.Equal(http.StatusFound, rec.Code)
	s.Equal("/", rec.Header().Get("Location"))
}

func (s *RouterSuite) TestSignedInViewIsServed() {
	sessionID := s.expectSession(true)

	rec := s.serve(s.withSession(httptest.NewRequest(http.MethodGet, "/dashboard", nil), sessionID))

	s.Equal(http.StatusOK, rec.Code)
	s.Equal("ok@x.com", rec.Header().Get("X-Email"))
	s.NotEmpty(rec.Header().Get(request.HeaderRequestID))
}

func (s *RouterSuite) TestAuthRoutesDoNotRequireSignIn() {
	sessionID := s.expectSession(false)

	rec := s.serve(s.withSession(httptest.NewRequest(http.MethodGet, "/auth/login", nil), sessionID))

	s.Equal(http.StatusOK, rec.Code)
}

// =============================================================================
// Rate limiting
// =============================================================================

func (s *RouterSuite) TestLimiterGuardsAuthButNotViews() {
	s.opts.Limiter = ratelimit.New(0.001, 1)
	router := NewRouter(s.opts)
	sessionID := s.expectSession(true)

	call := func(path string) int {
		rec := httptest.NewRecorder()
		req := s.withSession(httptest.NewRequest(http.MethodGet, path, nil), sessionID)
		req.RemoteAddr = "203.0.113.5:4444"
		router.ServeHTTP(rec, req)
		return rec.Code
	}

	s.Equal(http.StatusOK, call("/auth/login"))
	s.Equal(http.StatusTooManyRequests, call("/auth/login"))
	s.Equal(http.StatusOK, call("/dashboard"))
	s.Equal(http.StatusOK, call("/dashboard"))
}

// =============================================================================
// Operational endpoints
// =============================================================================

func (s *RouterSuite) TestHealthReportsEachCheck() {
	s.opts.HealthChecks = map[string]HealthCheck{
		"redis": func(context.Context) error { return nil },
		"kafka": func(context.Context) error { return errors.New("dial tcp: refused") },
	}

	rec := s.serve(httptest.NewRequest(http.MethodGet, "/healthz", nil))

	s.Equal(http.StatusServiceUnavailable, rec.Code)
	var body HealthResponse
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &body))
	s.Equal("degraded", body.Status)
	s.Equal(map[string]string{"redis": "ok", "kafka": "unavailable"}, body.Checks)
	s.NotContains(rec.Body.String(), "refused")
}

func (s *RouterSuite) TestHealthWithoutChecksIsOK() {
	rec := s.serve(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	s.Equal(http.StatusOK, rec.Code)
}

func (s *RouterSuite) TestMetricsEndpoint() {
	reg := metrics.NewRegistry()
	s.opts.Registry = reg
	s.opts.HTTPMetrics = metrics.NewHTTP(reg)
	router := NewRouter(s.opts)

	router.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	s.Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Body.String(), `route="/healthz"`)
}

func (s *RouterSuite) TestCORSPreflightForAllowedOrigin() {
	s.opts.AllowedOrigins = []string{"https://portal.example.com"}
	req := httptest.NewRequest(http.MethodOptions, "/auth/login", nil)
	req.Header.Set("Origin", "https://portal.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)

	rec := s.serve(req)

	s.Equal("https://portal.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
	s.Equal("true", rec.Header().Get("Access-Control-Allow-Credentials"))
}

func (s *RouterSuite) TestAccountGateOnlyRouter() {
	s.opts = Options{
		Logger:      s.opts.Logger,
		AccountGate: routes("/hooks/before-create"),
	}

	s.Equal(http.StatusOK, s.serve(httptest.NewRequest(http.MethodGet, "/hooks/before-create", nil)).Code)
	s.Equal(http.StatusNotFound, s.serve(httptest.NewRequest(http.MethodGet, "/dashboard", nil)).Code)
}
