package tools

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "coyote/backend/pkg/errors"
)

func TestSwarmExecutor_Status(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			writeJSON(w, http.StatusOK, `{"status":"ok","swarms":{"prophet":"running","hydra":"idle"}}`)
		case "/swarms/prophet/stats":
			writeJSON(w, http.StatusOK, `{"leads_today":4,"leads_week":31,"high_quality":9}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	s := NewSwarmExecutor(srv.URL + "/")
	assert.True(t, s.Available(context.Background()))

	out, err := s.Status(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, "ok", out.(map[string]interface{})["status"])

	out, err = s.ProphetStats(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, float64(31), out.(map[string]interface{})["leads_week"])
}

func TestSwarmExecutor_Failures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/health":
			w.WriteHeader(http.StatusBadGateway)
		case "/swarms/prophet/stats":
			writeJSON(w, http.StatusOK, `not json`)
		}
	}))
	defer srv.Close()

	s := NewSwarmExecutor(srv.URL)
	assert.False(t, s.Available(context.Background()))

	_, err := s.Status(context.Background(), nil)
	assert.Equal(t, apperrors.ToolUpstreamUnavailable, toolFailure(t, err).Kind)

	_, err = s.ProphetStats(context.Background(), nil)
	assert.Equal(t, apperrors.ToolUpstreamError, toolFailure(t, err).Kind)
}

func TestSwarmExecutor_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewSwarmExecutor(url).Status(context.Background(), nil)
	failure := toolFailure(t, err)
	assert.Equal(t, apperrors.ToolUpstreamUnavailable, failure.Kind)
	assert.Equal(t, "error: upstream_unavailable: service unavailable", failure.OutcomeText())
}

func TestRevenueExecutor_Summary(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("apikey"))
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		q := r.URL.Query()
		switch {
		case r.URL.Path == "/rest/v1/revenue_events" && q.Get("created_at") == "gte.2025-06-02T00:00:00-05:00":
			writeJSON(w, http.StatusOK, `[{"amount":100},{"amount":25.5},{"amount":null}]`)
		case r.URL.Path == "/rest/v1/revenue_events" && q.Get("created_at") == "gte.2025-06-01T00:00:00-05:00":
			writeJSON(w, http.StatusOK, `[{"amount":100},{"amount":25.5},{"amount":"400"}]`)
		case r.URL.Path == "/rest/v1/subscribers":
			assert.Equal(t, "eq.active", q.Get("status"))
			writeJSON(w, http.StatusOK, `[{"monthly_rate":49},{"monthly_rate":99},{"monthly_rate":null}]`)
		default:
			t.Errorf("unexpected query %s?%s", r.URL.Path, r.URL.RawQuery)
			w.WriteHeader(http.StatusBadRequest)
		}
	}))
	defer srv.Close()

	chicago, err := time.LoadLocation("America/Chicago")
	require.NoError(t, err)

	r := NewRevenueExecutor(srv.URL, "secret", chicago)
	r.now = func() time.Time { return time.Date(2025, 6, 2, 18, 0, 0, 0, time.UTC) }

	out, err := r.Summary(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, &RevenueSummary{Today: 125.5, MTD: 525.5, MRR: 148, Subscribers: 3}, out)
}

func TestRevenueExecutor_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		kind   apperrors.ToolFailureKind
		detail string
	}{
		{name: "unavailable", status: http.StatusServiceUnavailable, kind: apperrors.ToolUpstreamUnavailable},
		{name: "missing table", status: http.StatusNotFound, kind: apperrors.ToolUpstreamError, detail: "HTTP 404: relation does not exist"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tt.status, `{"message":"relation does not exist"}`)
			}))
			defer srv.Close()

			_, err := NewRevenueExecutor(srv.URL, "secret", nil).Summary(context.Background(), nil)
			failure := toolFailure(t, err)
			assert.Equal(t, tt.kind, failure.Kind)
			if tt.detail != "" {
				assert.Equal(t, tt.detail, failure.Detail)
			}
		})
	}
}

func TestRevenueExecutor_Available(t *testing.T) {
	assert.True(t, NewRevenueExecutor("https://x.supabase.co", "k", nil).Available(context.Background()))
	assert.False(t, NewRevenueExecutor("", "k", nil).Available(context.Background()))
}

func TestUpstreamFailure_PassesThroughKnownErrors(t *testing.T) {
	known := apperrors.NewToolInvalidArguments("x", "bad")
	assert.Same(t, known, upstreamFailure("x", known))
	assert.ErrorIs(t, upstreamFailure("x", context.DeadlineExceeded), context.DeadlineExceeded)

	failure := toolFailure(t, upstreamFailure("x", assert.AnError))
	assert.Equal(t, apperrors.ToolUpstreamError, failure.Kind)
	assert.True(t, strings.HasPrefix(failure.OutcomeText(), "error: upstream_error: "))
}
