// ABOUTME: Tests for the webhook relay submitter
// ABOUTME: Verifies payload shape, auth header, locator pass-through, and error mapping

package publish

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/herald/internal/media"
)

func TestNewWebhook_RequiresURL(t *testing.T) {
	_, err := NewWebhook(WebhookConfig{}, nil)
	assert.Error(t, err)
}

func TestWebhook_Submit(t *testing.T) {
	var got webhookPayload
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(map[string]string{"url": "https://platform/posts/123"})
	}))
	defer srv.Close()

	w, err := NewWebhook(WebhookConfig{URL: srv.URL, Secret: "s3cret"}, nil)
	require.NoError(t, err)

	loc, err := w.Submit(context.Background(), testSession, Post{
		UserID: "u1",
		Text:   "hello",
		Media:  &media.StagedMedia{MimeType: "image/gif"},
		Image:  []byte("GIF89a"),
	})
	require.NoError(t, err)

	assert.Equal(t, "https://platform/posts/123", loc)
	assert.Equal(t, "Bearer s3cret", auth)
	assert.Equal(t, "u1", got.UserID)
	assert.Equal(t, "hello", got.Text)
	assert.Equal(t, "image/gif", got.ImageMime)
	assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("GIF89a")), got.ImageBase64)
}

func TestWebhook_FallsBackToSessionToken(t *testing.T) {
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	w, err := NewWebhook(WebhookConfig{URL: srv.URL}, nil)
	require.NoError(t, err)

	loc, err := w.Submit(context.Background(), testSession, Post{Text: "hello"})
	require.NoError(t, err)
	assert.Empty(t, loc)
	assert.Equal(t, "Bearer tok", auth)
}

func TestWebhook_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad content", http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	w, err := NewWebhook(WebhookConfig{URL: srv.URL}, nil)
	require.NoError(t, err)

	_, err = w.Submit(context.Background(), testSession, Post{Text: "hello"})
	assert.Equal(t, KindRejected, KindOf(err))
	assert.ErrorContains(t, err, "bad content")
}
