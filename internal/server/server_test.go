// ABOUTME: Tests for the HTTP routes of the server package
// ABOUTME: Uses httptest against Handler without opening real listeners

package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/herald/internal/config"
	"github.com/2389/herald/internal/session"
)

type fakeCompleter struct {
	completeErr error
	denyErr     error

	state, code, reason string
}

func (f *fakeCompleter) Complete(ctx context.Context, state, code string) error {
	f.state, f.code = state, code
	return f.completeErr
}

func (f *fakeCompleter) Deny(state, reason string) error {
	f.state, f.reason = state, reason
	return f.denyErr
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestHealth(t *testing.T) {
	s := New(Options{}, nil)
	rec := get(t, s.Handler(), "/health")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK", rec.Body.String())
}

func TestReady(t *testing.T) {
	var ready error = errors.New("matrix sync not started")
	s := New(Options{Ready: func(context.Context) error { return ready }}, nil)

	rec := get(t, s.Handler(), "/health/ready")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "matrix sync not started")

	ready = nil
	rec = get(t, s.Handler(), "/health/ready")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestOAuthCallback_NotMountedWithoutCompleter(t *testing.T) {
	s := New(Options{}, nil)
	rec := get(t, s.Handler(), "/oauth/callback?state=x&code=y")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestOAuthCallback_Complete(t *testing.T) {
	c := &fakeCompleter{}
	s := New(Options{OAuth: c}, nil)

	rec := get(t, s.Handler(), "/oauth/callback?state=signed&code=abc")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "Logged in")
	assert.Equal(t, "signed", c.state)
	assert.Equal(t, "abc", c.code)
}

func TestOAuthCallback_ProviderError(t *testing.T) {
	c := &fakeCompleter{}
	s := New(Options{OAuth: c}, nil)

	rec := get(t, s.Handler(), "/oauth/callback?state=signed&error=user_cancelled_login&error_description=nope")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "cancelled")
	assert.Equal(t, "user_cancelled_login: nope", c.reason)
	assert.Empty(t, c.code)
}

func TestOAuthCallback_Errors(t *testing.T) {
	tests := []struct {
		name   string
		target string
		err    error
		want   int
	}{
		{"missing state", "/oauth/callback?code=abc", nil, http.StatusBadRequest},
		{"invalid state", "/oauth/callback?state=x&code=abc", session.ErrInvalidState, http.StatusBadRequest},
		{"expired state", "/oauth/callback?state=x&code=abc", session.ErrExpiredState, http.StatusBadRequest},
		{"stale link", "/oauth/callback?state=x&code=abc", session.ErrUnknownAttempt, http.StatusGone},
		{"empty code", "/oauth/callback?state=x", fmt.Errorf("%w: empty authorization code", session.ErrLoginFailed), http.StatusBadRequest},
		{"exchange failed", "/oauth/callback?state=x&code=abc", errors.New("exchanging code: 500"), http.StatusBadGateway},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(Options{OAuth: &fakeCompleter{completeErr: tt.err}}, nil)
			rec := get(t, s.Handler(), tt.target)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestOAuthCallback_RejectsPost(t *testing.T) {
	s := New(Options{OAuth: &fakeCompleter{}}, nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/oauth/callback?state=x&code=y", nil))
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestMetricsMounted(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("herald_events_total 1"))
	})

	s := New(Options{
		Metrics:        config.MetricsConfig{Enabled: true, Path: "/metrics"},
		MetricsHandler: metrics,
	}, nil)
	rec := get(t, s.Handler(), "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "herald_events_total")

	disabled := New(Options{MetricsHandler: metrics}, nil)
	assert.Equal(t, http.StatusNotFound, get(t, disabled.Handler(), "/metrics").Code)
}

func TestRun_ServesAndShutsDown(t *testing.T) {
	// Reserve a free port, then hand it to the server.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())

	s := New(Options{Server: config.ServerConfig{HTTPAddr: addr}}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + addr + "/health")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("server did not shut down")
	}
}

func TestResolveTailscaleAuthKey(t *testing.T) {
	t.Setenv("TS_AUTHKEY", "")
	_, err := resolveTailscaleAuthKey("")
	assert.Error(t, err)

	key, err := resolveTailscaleAuthKey("tskey-config")
	require.NoError(t, err)
	assert.Equal(t, "tskey-config", key)

	t.Setenv("TS_AUTHKEY", "tskey-env")
	key, err = resolveTailscaleAuthKey("")
	require.NoError(t, err)
	assert.Equal(t, "tskey-env", key)
}

func TestResolveTailscaleStateDir(t *testing.T) {
	dir, err := resolveTailscaleStateDir("/var/lib/herald/ts")
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/herald/ts", dir)

	dir, err = resolveTailscaleStateDir("")
	require.NoError(t, err)
	assert.Contains(t, dir, "herald")
}
