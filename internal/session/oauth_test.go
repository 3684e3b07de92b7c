// ABOUTME: Tests for the OAuth login flow and signed state tokens
// ABOUTME: Uses an httptest token endpoint in place of the provider

package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTokenServer(t *testing.T, gotCode *string) *httptest.Server {
	t.Helper()
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, r.ParseForm())
		mu.Lock()
		*gotCode = r.PostForm.Get("code")
		mu.Unlock()
		assert.Equal(t, "authorization_code", r.PostForm.Get("grant_type"))
		assert.Equal(t, "client-1", r.PostForm.Get("client_id"))
		assert.Equal(t, "secret-1", r.PostForm.Get("client_secret"))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"access_token": "access-xyz",
			"token_type":   "Bearer",
			"expires_in":   3600,
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func newTestOAuthFlow(t *testing.T, tokenURL string) *OAuthFlow {
	t.Helper()
	f, err := NewOAuthFlow(OAuthConfig{
		ClientID:     "client-1",
		ClientSecret: "secret-1",
		RedirectURL:  "https://herald.example/oauth/callback",
		AuthURL:      "https://provider.example/authorize",
		TokenURL:     tokenURL,
		StateSecret:  []byte("test-state-secret"),
		StateTTL:     time.Minute,
	}, nil)
	require.NoError(t, err)
	return f
}

func stateFrom(t *testing.T, p Pending) string {
	t.Helper()
	op, ok := p.(*oauthPending)
	require.True(t, ok)
	u, err := url.Parse(op.URL())
	require.NoError(t, err)
	return u.Query().Get("state")
}

func TestNewOAuthFlow_Validation(t *testing.T) {
	_, err := NewOAuthFlow(OAuthConfig{StateSecret: []byte("s")}, nil)
	assert.Error(t, err)

	_, err = NewOAuthFlow(OAuthConfig{ClientID: "c"}, nil)
	assert.Error(t, err)
}

func TestOAuthFlow_StartBuildsAuthorizationURL(t *testing.T) {
	f := newTestOAuthFlow(t, "https://provider.example/token")

	p, err := f.Start(context.Background(), "@alice:example.org")
	require.NoError(t, err)

	op := p.(*oauthPending)
	u, err := url.Parse(op.URL())
	require.NoError(t, err)
	assert.Equal(t, "provider.example", u.Host)
	assert.Equal(t, "client-1", u.Query().Get("client_id"))
	assert.Equal(t, "code", u.Query().Get("response_type"))
	assert.Equal(t, "https://herald.example/oauth/callback", u.Query().Get("redirect_uri"))
	assert.Equal(t, "openid profile w_member_social", u.Query().Get("scope"))
	assert.NotEmpty(t, u.Query().Get("state"))
	assert.Contains(t, p.Prompt(), op.URL())

	sess, err := p.Check(context.Background())
	assert.NoError(t, err)
	assert.Nil(t, sess, "no callback yet")
}

func TestOAuthFlow_Complete(t *testing.T) {
	var gotCode string
	srv := newTokenServer(t, &gotCode)
	f := newTestOAuthFlow(t, srv.URL)

	p, err := f.Start(context.Background(), "u1")
	require.NoError(t, err)

	require.NoError(t, f.Complete(context.Background(), stateFrom(t, p), "code-123"))
	assert.Equal(t, "code-123", gotCode)

	sess, err := p.Check(context.Background())
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, "u1", sess.UserID)
	assert.Equal(t, KindOAuth, sess.Kind)
	assert.Equal(t, "access-xyz", sess.AccessToken)
	assert.Equal(t, "Bearer", sess.TokenType)
	assert.False(t, sess.Expiry.IsZero())

	// The attempt is consumed
	assert.ErrorIs(t, f.Complete(context.Background(), stateFrom(t, p), "again"), ErrUnknownAttempt)
}

func TestOAuthFlow_StaleLinkRejected(t *testing.T) {
	f := newTestOAuthFlow(t, "https://provider.example/token")

	first, err := f.Start(context.Background(), "u1")
	require.NoError(t, err)
	_, err = f.Start(context.Background(), "u1")
	require.NoError(t, err)

	assert.ErrorIs(t, f.Complete(context.Background(), stateFrom(t, first), "code"), ErrUnknownAttempt)
}

func TestOAuthFlow_InvalidState(t *testing.T) {
	f := newTestOAuthFlow(t, "https://provider.example/token")
	assert.ErrorIs(t, f.Complete(context.Background(), "not-a-jwt", "code"), ErrInvalidState)

	other := &stateSigner{secret: []byte("other-secret"), now: time.Now}
	forged, err := other.Sign("u1", "attempt", time.Minute)
	require.NoError(t, err)
	assert.ErrorIs(t, f.Complete(context.Background(), forged, "code"), ErrInvalidState)
}

func TestOAuthFlow_Deny(t *testing.T) {
	f := newTestOAuthFlow(t, "https://provider.example/token")

	p, err := f.Start(context.Background(), "u1")
	require.NoError(t, err)
	require.NoError(t, f.Deny(stateFrom(t, p), "user_cancelled_login"))

	sess, err := p.Check(context.Background())
	assert.Nil(t, sess)
	assert.ErrorContains(t, err, "user_cancelled_login")
}

func TestOAuthFlow_WithBroker(t *testing.T) {
	var gotCode string
	srv := newTokenServer(t, &gotCode)
	f := newTestOAuthFlow(t, srv.URL)

	prompts := make(chan string, 1)
	b := newTestBroker(t, f, BrokerConfig{
		OnPrompt: func(userID, prompt string) { prompts <- prompt },
	})

	done := make(chan *Session, 1)
	go func() {
		sess, err := b.Acquire(context.Background(), "u1")
		assert.NoError(t, err)
		done <- sess
	}()

	prompt := <-prompts
	link := prompt[len("Open this link to authorize posting:\n"):]
	u, err := url.Parse(link)
	require.NoError(t, err)
	require.NoError(t, f.Complete(context.Background(), u.Query().Get("state"), "code-9"))

	select {
	case sess := <-done:
		require.NotNil(t, sess)
		assert.Equal(t, "access-xyz", sess.AccessToken)
	case <-time.After(2 * time.Second):
		t.Fatal("broker did not pick up the completed login")
	}
	assert.True(t, b.IsActive("u1"))
}

func TestStateSigner_Expired(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s := &stateSigner{secret: []byte("k"), now: func() time.Time { return now }}

	tok, err := s.Sign("u1", "a1", time.Minute)
	require.NoError(t, err)

	claims, err := s.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "u1", claims.UserID)
	assert.Equal(t, "a1", claims.AttemptID)

	now = now.Add(2 * time.Minute)
	_, err = s.Verify(tok)
	assert.ErrorIs(t, err, ErrExpiredState)
}

func TestStaticFlow_NoToken(t *testing.T) {
	_, err := StaticFlow{}.Start(context.Background(), "u1")
	assert.Error(t, err)
}

func TestProfileName(t *testing.T) {
	assert.Equal(t, "alice-example-org", profileName("@alice:example.org"))
	assert.Equal(t, "default", profileName("@@"))
}
