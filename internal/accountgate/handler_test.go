package accountgate

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/suite"

	"portal/internal/allowlist"
	"portal/internal/upstream"
	"portal/pkg/platform/middleware/secret"
	"portal/pkg/testutil"
)

const hookSecret = "hook-secret"

// =============================================================================
// Hook Handler Test Suite
// =============================================================================
// The whole chain is real down to the upstream HTTP call, which is served by
// an httptest allow-list.

type HandlerSuite struct {
	suite.Suite
	allowed  map[string]bool
	fail     bool
	calls    atomic.Int32
	upstream *httptest.Server
	router   chi.Router
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) SetupTest() {
	s.allowed = map[string]bool{"ok@x.com": true}
	s.fail = false
	s.calls.Store(0)
	s.upstream = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.calls.Add(1)
		if s.fail {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		email := r.URL.Query().Get("email")
		_ = json.NewEncoder(w).Encode(map[string]bool{"isAuthorized": s.allowed[email]})
	}))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	client, err := upstream.New(s.upstream.URL)
	s.Require().NoError(err)
	gate, err := allowlist.New(client, allowlist.WithLogger(logger))
	s.Require().NoError(err)
	svc, err := New(gate, WithLogger(logger))
	s.Require().NoError(err)

	s.router = chi.NewRouter()
	NewHandler(svc, hookSecret, logger).Register(s.router)
}

func (s *HandlerSuite) TearDownTest() {
	s.upstream.Close()
}

func (s *HandlerSuite) post(body string, withSecret bool) (*httptest.ResponseRecorder, map[string]any) {
	req := testutil.NewRequestWithBody(s.T(), http.MethodPost, HookPath, body)
	if withSecret {
		req.Header.Set(secret.HeaderHookSecret, hookSecret)
	}
	rec := testutil.DoRequest(s.router, req)
	return rec, testutil.DecodeJSON[map[string]any](s.T(), rec)
}

func hookError(body map[string]any) (string, string) {
	e, _ := body["error"].(map[string]any)
	status, _ := e["status"].(string)
	message, _ := e["message"].(string)
	return status, message
}

func (s *HandlerSuite) TestAllowListedEmailGets200() {
	rec, body := s.post(`{"data":{"uid":"u1","email":"ok@x.com"}}`, true)

	s.Equal(http.StatusOK, rec.Code)
	s.Empty(body)
}

func (s *HandlerSuite) TestDeniedEmailGetsPermissionDenied() {
	rec, body := s.post(`{"data":{"uid":"u2","email":"bad@x.com"}}`, true)

	s.Equal(http.StatusForbidden, rec.Code)
	status, message := hookError(body)
	s.Equal(StatusPermissionDenied, status)
	s.Equal(MessageNotAuthorized, message)
}

func (s *HandlerSuite) TestUnreachableAllowListDenies() {
	s.fail = true

	rec, body := s.post(`{"data":{"uid":"u3","email":"ok@x.com"}}`, true)

	s.Equal(http.StatusForbidden, rec.Code)
	status, _ := hookError(body)
	s.Equal(StatusPermissionDenied, status)
}

func (s *HandlerSuite) TestMissingEmailIsInvalidArgument() {
	for _, body := range []string{`{"data":{"uid":"u4"}}`, `{"data":{"uid":"u4","email":"  "}}`, ``} {
		rec, decoded := s.post(body, true)

		s.Equal(http.StatusBadRequest, rec.Code, body)
		status, message := hookError(decoded)
		s.Equal(StatusInvalidArgument, status)
		s.Equal(MessageEmailRequired, message)
	}
	s.Equal(int32(0), s.calls.Load(), "no allow-list call without an email")
}

func (s *HandlerSuite) TestMalformedBodyIsInvalidArgument() {
	rec, body := s.post(`{"data":`, true)

	s.Equal(http.StatusBadRequest, rec.Code)
	status, _ := hookError(body)
	s.Equal(StatusInvalidArgument, status)
}

func (s *HandlerSuite) TestHookSecretRequired() {
	rec, _ := s.post(`{"data":{"uid":"u1","email":"ok@x.com"}}`, false)

	s.Equal(http.StatusUnauthorized, rec.Code)
	s.Equal(int32(0), s.calls.Load())
}
