// ABOUTME: Tests for the browser login helpers that need no running Chrome
// ABOUTME: Covers profile naming, cookie expiry, and flow defaults

package session

import (
	"context"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProfileName(t *testing.T) {
	tests := map[string]string{
		"@alice:example.org": "alice-example-org",
		"@Bob:Matrix.ORG":    "bob-matrix-org",
		"@@@":                "default",
		"":                   "default",
	}
	for in, want := range tests {
		assert.Equal(t, want, profileName(in), in)
	}
}

func TestCookieExpiry(t *testing.T) {
	cookies := []*network.Cookie{
		{Name: "JSESSIONID", Expires: 1_900_000_000},
		{Name: authCookie, Expires: 1_800_000_000.5},
	}
	got := cookieExpiry(cookies, authCookie)
	assert.Equal(t, int64(1_800_000_000), got.Unix())
	assert.Equal(t, 500*time.Millisecond, time.Duration(got.Nanosecond()))

	t.Run("session cookie has no expiry", func(t *testing.T) {
		got := cookieExpiry([]*network.Cookie{{Name: authCookie, Session: true, Expires: -1}}, authCookie)
		assert.True(t, got.IsZero())
	})

	t.Run("missing cookie", func(t *testing.T) {
		assert.True(t, cookieExpiry(nil, authCookie).IsZero())
	})
}

func TestNewBrowserFlowDefaults(t *testing.T) {
	f := NewBrowserFlow(BrowserConfig{}, nil)
	assert.Equal(t, LinkedInLoginURL, f.cfg.LoginURL)
	assert.Equal(t, LinkedInFeedURL, f.cfg.SuccessURL)
}

func TestStaticFlow(t *testing.T) {
	p, err := StaticFlow{Token: "tok"}.Start(context.Background(), "@me:example.org")
	require.NoError(t, err)

	sess, err := p.Check(context.Background())
	require.NoError(t, err)
	require.NotNil(t, sess)
	assert.Equal(t, "@me:example.org", sess.UserID)
	assert.Equal(t, KindStatic, sess.Kind)
	assert.Equal(t, "Bearer", sess.TokenType)
	assert.Empty(t, p.Prompt())

	_, err = StaticFlow{}.Start(context.Background(), "@me:example.org")
	assert.Error(t, err)
}
