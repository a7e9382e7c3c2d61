package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunSendsGoalAndNullEmail(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/run", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NotEmpty(t, r.Header.Get("X-Request-ID"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"session_id": "abc123", "handoff": {"research": {}}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL+"/", nil)
	payload, err := c.Run(context.Background(), "Write a report", "")
	require.NoError(t, err)

	assert.Equal(t, "Write a report", got["goal"])
	email, present := got["email"]
	assert.True(t, present)
	assert.Nil(t, email)
	assert.Equal(t, "abc123", payload["session_id"])
}

func TestRunSendsEmail(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, nil).Run(context.Background(), "g", "me@example.com")
	require.NoError(t, err)
	assert.Equal(t, "me@example.com", got["email"])
}

func TestAPIErrorMessage(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{"error field", http.StatusBadRequest, `{"error": "'goal' is required"}`, "'goal' is required"},
		{"error wins over detail", http.StatusInternalServerError, `{"error": "Request failed", "detail": "boom"}`, "Request failed"},
		{"detail only", http.StatusTooManyRequests, `{"detail": "slow down"}`, "slow down"},
		{"no body", http.StatusBadGateway, ``, "request failed with status 502: Bad Gateway"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(tc.body))
			}))
			defer srv.Close()

			_, err := NewClient(srv.URL, nil).Run(context.Background(), "g", "")
			require.Error(t, err)

			var apiErr *APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tc.status, apiErr.StatusCode)
			assert.Equal(t, tc.want, apiErr.Error())
			assert.False(t, IsConnectivity(err))
		})
	}
}

func TestConnectivityError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	addr := srv.URL
	srv.Close()

	_, err := NewClient(addr, nil).Run(context.Background(), "g", "")
	require.Error(t, err)
	assert.True(t, IsConnectivity(err))

	var connErr *ConnectivityError
	require.True(t, errors.As(err, &connErr))
	assert.Equal(t, "run", connErr.Op)

	assert.Error(t, NewClient(addr, nil).Health(context.Background()))
}

func TestCanceledContextIsNotConnectivity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewClient(srv.URL, nil).Run(ctx, "g", "")
	require.Error(t, err)
	assert.False(t, IsConnectivity(err))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		_, _ = w.Write([]byte(`{"status": "ok"}`))
	}))
	defer srv.Close()

	assert.NoError(t, NewClient(srv.URL, nil).Health(context.Background()))
}

func TestGetSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/session/s1" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error": "Session not found: ` + r.URL.Path + `"}`))
			return
		}
		_, _ = w.Write([]byte(`{"session_id": "s1", "final": {"document": "doc"}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)

	payload, err := c.GetSession(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", payload["session_id"])

	_, err = c.GetSession(context.Background(), "missing")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusNotFound, apiErr.StatusCode)
}

func TestGetSessionRejectsNonJSON(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`<html>proxy page</html>`))
	}))
	defer srv.Close()

	_, err := NewClient(srv.URL, nil).GetSession(context.Background(), "s1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "decode response")
}

func TestApprove(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/approve", r.URL.Path)
		_ = json.NewDecoder(r.Body).Decode(&got)
		_, _ = w.Write([]byte(`{"status": "PAUSED"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, nil)

	resp, err := c.Approve(context.Background(), "s1", " Retry_Later ")
	require.NoError(t, err)
	assert.Equal(t, "PAUSED", resp["status"])
	assert.Equal(t, "s1", got["session_id"])
	assert.Equal(t, "retry_later", got["decision"])

	_, err = c.Approve(context.Background(), "s1", "maybe")
	assert.ErrorIs(t, err, ErrInvalidDecision)
}
