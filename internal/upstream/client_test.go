package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "portal/pkg/domain"
)

func newTestClient(t *testing.T, h http.HandlerFunc, opts ...Option) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(srv.URL+"/exec", opts...)
	require.NoError(t, err)
	return c
}

func respond(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}
}

func TestNewRejectsInvalidBaseURL(t *testing.T) {
	_, err := New("not a url")
	assert.Error(t, err)
	_, err = New("")
	assert.Error(t, err)
}

func TestIsAuthorized(t *testing.T) {
	t.Run("sends action and url-encoded email", func(t *testing.T) {
		var gotQuery map[string][]string
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			gotQuery = r.URL.Query()
			_, _ = w.Write([]byte(`{"isAuthorized": true}`))
		})

		ok, err := c.IsAuthorized(context.Background(), id.Email("jane+test@x.com"))
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, []string{"isAuthorized"}, gotQuery["action"])
		assert.Equal(t, []string{"jane+test@x.com"}, gotQuery["email"])
	})

	t.Run("explicit false is a verdict, not an error", func(t *testing.T) {
		c := newTestClient(t, respond(`{"isAuthorized": false}`))
		ok, err := c.IsAuthorized(context.Background(), id.Email("bad@x.com"))
		require.NoError(t, err)
		assert.False(t, ok)
	})

	failures := []struct {
		name     string
		handler  http.HandlerFunc
		category Category
	}{
		{name: "missing field", handler: respond(`{}`), category: CategoryBadData},
		{name: "non-boolean field", handler: respond(`{"isAuthorized": "yes"}`), category: CategoryBadData},
		{name: "malformed JSON", handler: respond(`{isAuthorized`), category: CategoryBadData},
		{name: "non-2xx", handler: func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		}, category: CategoryBadStatus},
		{name: "error field", handler: respond(`{"error": "script exploded"}`), category: CategoryUpstreamData},
	}
	for _, tt := range failures {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, tt.handler)
			ok, err := c.IsAuthorized(context.Background(), id.Email("ok@x.com"))
			require.Error(t, err)
			assert.False(t, ok)
			assert.Equal(t, tt.category, CategoryOf(err))
		})
	}

	t.Run("timeout", func(t *testing.T) {
		release := make(chan struct{})
		defer close(release)
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}, WithTimeout(50*time.Millisecond))

		ok, err := c.IsAuthorized(context.Background(), id.Email("ok@x.com"))
		require.Error(t, err)
		assert.False(t, ok)
		assert.Equal(t, CategoryTimeout, CategoryOf(err))
	})

	t.Run("unreachable", func(t *testing.T) {
		srv := httptest.NewServer(respond(`{}`))
		srv.Close()
		c, err := New(srv.URL)
		require.NoError(t, err)

		ok, err := c.IsAuthorized(context.Background(), id.Email("ok@x.com"))
		require.Error(t, err)
		assert.False(t, ok)
		assert.Equal(t, CategoryNetwork, CategoryOf(err))
	})
}

func TestUserDashboard(t *testing.T) {
	t.Run("decodes payload with optional numerics", func(t *testing.T) {
		var gotAction string
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			gotAction = r.URL.Query().Get("action")
			_, _ = w.Write([]byte(`{
				"currentBalance": 1000,
				"nextPaymentAmount": "50",
				"nextPaymentDate": "2024-06-01",
				"investmentGroupId": "G1",
				"ledgerData": [],
				"fullName": "Jane Doe"
			}`))
		})

		d, err := c.UserDashboard(context.Background(), id.Email("ok@x.com"))
		require.NoError(t, err)
		assert.Equal(t, ActionGetUserDashboard, gotAction)
		assert.Equal(t, Some(1000), d.CurrentBalance)
		assert.Equal(t, Some(50), d.NextPaymentAmount)
		assert.Equal(t, Text("2024-06-01"), d.NextPaymentDate)
		assert.Equal(t, Text("G1"), d.InvestmentGroupID)
		assert.Equal(t, Text("Jane Doe"), d.FullName)
		assert.False(t, d.TotalInvestment.Valid)
	})

	t.Run("error field is upstream data error", func(t *testing.T) {
		c := newTestClient(t, respond(`{"error": "no record"}`))
		d, err := c.UserDashboard(context.Background(), id.Email("ok@x.com"))
		require.Error(t, err)
		assert.Nil(t, d)
		assert.True(t, IsUpstreamData(err))
	})
}

func TestGroupDetails(t *testing.T) {
	var gotGroup string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotGroup = r.URL.Query().Get("groupId")
		_, _ = w.Write([]byte(`{
			"groupName": "Alpha Fund",
			"partnershipAgreementLink": "https://docs.example.com/a",
			"collateralCoverageRatio": "1.25",
			"totalFunds": 250000,
			"investorMix": [{"investor": "Jane Doe", "percentage": 0.4, "currentBalance": 100000}],
			"associatedAssets": [{"property": "1 Main St", "currentUPB": 120000}]
		}`))
	})

	g, err := c.GroupDetails(context.Background(), id.GroupID("G1"))
	require.NoError(t, err)
	assert.Equal(t, "G1", gotGroup)
	assert.Equal(t, Text("Alpha Fund"), g.GroupName)
	assert.Equal(t, Some(1.25), g.CollateralCoverageRatio)
	require.Len(t, g.InvestorMix, 1)
	assert.Equal(t, Some(0.4), g.InvestorMix[0].Percentage)
	require.Len(t, g.AssociatedAssets, 1)
	assert.Equal(t, Some(120000), g.AssociatedAssets[0].CurrentUPB)
}

func TestMetricsRecordOutcome(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	c := newTestClient(t, respond(`{"error":"no record"}`), WithMetrics(m))

	_, _ = c.UserDashboard(context.Background(), id.Email("ok@x.com"))

	count := testutil.CollectAndCount(m.duration, "portal_upstream_request_duration_seconds")
	assert.Equal(t, 1, count)
}
