// ABOUTME: Tests for the LinkedIn REST submitter against an httptest server
// ABOUTME: Covers text and image shares, author resolution, locators, and status mapping

package publish

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/herald/internal/media"
)

// fakeLinkedIn records requests and serves scripted responses.
type fakeLinkedIn struct {
	mu         sync.Mutex
	posts      []map[string]any
	uploads    [][]byte
	userinfo   int
	postStatus int
	postID     string
	idInBody   bool
	srv        *httptest.Server
}

func newFakeLinkedIn(t *testing.T) *fakeLinkedIn {
	t.Helper()
	f := &fakeLinkedIn{postStatus: http.StatusCreated, postID: "urn:li:share:123"}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v2/userinfo", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.userinfo++
		f.mu.Unlock()
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		_ = json.NewEncoder(w).Encode(map[string]string{"sub": "abc123"})
	})
	mux.HandleFunc("POST /v2/assets", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "registerUpload", r.URL.Query().Get("action"))
		assert.Equal(t, "2.0.0", r.Header.Get("X-Restli-Protocol-Version"))
		resp := map[string]any{
			"value": map[string]any{
				"asset": "urn:li:digitalmediaAsset:img1",
				"uploadMechanism": map[string]any{
					"com.linkedin.digitalmedia.uploading.MediaUploadHttpRequest": map[string]any{
						"uploadUrl": f.srv.URL + "/upload/img1",
					},
				},
			},
		}
		_ = json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("PUT /upload/img1", func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		f.uploads = append(f.uploads, data)
		f.mu.Unlock()
		assert.Equal(t, "image/png", r.Header.Get("Content-Type"))
		w.WriteHeader(http.StatusCreated)
	})
	mux.HandleFunc("POST /v2/ugcPosts", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		assert.Equal(t, "2.0.0", r.Header.Get("X-Restli-Protocol-Version"))

		f.mu.Lock()
		f.posts = append(f.posts, body)
		status, id, inBody := f.postStatus, f.postID, f.idInBody
		f.mu.Unlock()

		if status == http.StatusCreated && !inBody && id != "" {
			w.Header().Set("X-RestLi-Id", id)
		}
		w.WriteHeader(status)
		if inBody {
			_ = json.NewEncoder(w).Encode(map[string]string{"id": id})
		} else if status >= 400 {
			_, _ = io.WriteString(w, `{"message":"nope"}`)
		}
	})

	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func shareContent(t *testing.T, body map[string]any) map[string]any {
	t.Helper()
	specific, ok := body["specificContent"].(map[string]any)
	require.True(t, ok)
	share, ok := specific["com.linkedin.ugc.ShareContent"].(map[string]any)
	require.True(t, ok)
	return share
}

func TestLinkedIn_TextPost(t *testing.T) {
	f := newFakeLinkedIn(t)
	l := NewLinkedIn(LinkedInConfig{BaseURL: f.srv.URL + "/v2", AuthorURN: "urn:li:person:me"}, nil)

	loc, err := l.Submit(context.Background(), testSession, Post{UserID: "u1", Text: "Hello network"})
	require.NoError(t, err)
	assert.Equal(t, "https://www.linkedin.com/feed/update/urn:li:share:123", loc)

	require.Len(t, f.posts, 1)
	body := f.posts[0]
	assert.Equal(t, "urn:li:person:me", body["author"])
	assert.Equal(t, "PUBLISHED", body["lifecycleState"])
	share := shareContent(t, body)
	assert.Equal(t, "NONE", share["shareMediaCategory"])
	assert.Equal(t, "Hello network", share["shareCommentary"].(map[string]any)["text"])
	assert.NotContains(t, share, "media")
	assert.Equal(t, 0, f.userinfo)
}

func TestLinkedIn_ImagePost(t *testing.T) {
	f := newFakeLinkedIn(t)
	l := NewLinkedIn(LinkedInConfig{BaseURL: f.srv.URL + "/v2", AuthorURN: "urn:li:person:me"}, nil)

	post := Post{
		UserID: "u1",
		Text:   "With a picture",
		Media:  &media.StagedMedia{MimeType: "image/png"},
		Image:  []byte("png-bytes"),
	}
	_, err := l.Submit(context.Background(), testSession, post)
	require.NoError(t, err)

	require.Len(t, f.uploads, 1)
	assert.Equal(t, []byte("png-bytes"), f.uploads[0])

	share := shareContent(t, f.posts[0])
	assert.Equal(t, "IMAGE", share["shareMediaCategory"])
	items, ok := share["media"].([]any)
	require.True(t, ok)
	require.Len(t, items, 1)
	assert.Equal(t, "urn:li:digitalmediaAsset:img1", items[0].(map[string]any)["media"])
}

func TestLinkedIn_ResolvesAuthorOnce(t *testing.T) {
	f := newFakeLinkedIn(t)
	l := NewLinkedIn(LinkedInConfig{BaseURL: f.srv.URL + "/v2"}, nil)

	for i := 0; i < 2; i++ {
		_, err := l.Submit(context.Background(), testSession, Post{Text: "x"})
		require.NoError(t, err)
	}

	assert.Equal(t, 1, f.userinfo)
	assert.Equal(t, "urn:li:person:abc123", f.posts[0]["author"])
}

func TestLinkedIn_IDInBody(t *testing.T) {
	f := newFakeLinkedIn(t)
	f.idInBody = true
	f.postID = "urn:li:ugcPost:9"
	l := NewLinkedIn(LinkedInConfig{BaseURL: f.srv.URL + "/v2", AuthorURN: "urn:li:person:me", LocatorBase: "https://platform/posts/"}, nil)

	loc, err := l.Submit(context.Background(), testSession, Post{Text: "x"})
	require.NoError(t, err)
	assert.Equal(t, "https://platform/posts/urn:li:ugcPost:9", loc)
}

func TestLinkedIn_AcceptedWithoutID(t *testing.T) {
	f := newFakeLinkedIn(t)
	f.postID = ""
	l := NewLinkedIn(LinkedInConfig{BaseURL: f.srv.URL + "/v2", AuthorURN: "urn:li:person:me"}, nil)

	loc, err := l.Submit(context.Background(), testSession, Post{Text: "x"})
	require.NoError(t, err)
	assert.Empty(t, loc)
}

func TestLinkedIn_StatusClassification(t *testing.T) {
	tests := []struct {
		status int
		want   ErrorKind
	}{
		{http.StatusUnauthorized, KindAuth},
		{http.StatusForbidden, KindAuth},
		{http.StatusBadRequest, KindRejected},
		{http.StatusUnprocessableEntity, KindRejected},
		{http.StatusTooManyRequests, KindTransient},
		{http.StatusInternalServerError, KindTransient},
		{http.StatusBadGateway, KindTransient},
		{http.StatusServiceUnavailable, KindTransient},
		{http.StatusGatewayTimeout, KindTransient},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			f := newFakeLinkedIn(t)
			f.postStatus = tt.status
			l := NewLinkedIn(LinkedInConfig{BaseURL: f.srv.URL + "/v2", AuthorURN: "urn:li:person:me"}, nil)

			_, err := l.Submit(context.Background(), testSession, Post{Text: "x"})
			require.Error(t, err)
			assert.Equal(t, tt.want, KindOf(err))
		})
	}
}

func TestLinkedIn_TransportErrorIsTransient(t *testing.T) {
	f := newFakeLinkedIn(t)
	url := f.srv.URL
	f.srv.Close()
	l := NewLinkedIn(LinkedInConfig{BaseURL: url + "/v2", AuthorURN: "urn:li:person:me"}, nil)

	_, err := l.Submit(context.Background(), testSession, Post{Text: "x"})
	assert.Equal(t, KindTransient, KindOf(err))
}

func TestLinkedIn_NoToken(t *testing.T) {
	l := NewLinkedIn(LinkedInConfig{}, nil)
	_, err := l.Submit(context.Background(), nil, Post{Text: "x"})
	assert.Equal(t, KindAuth, KindOf(err))
}

func TestLinkedIn_WithClientRetries(t *testing.T) {
	f := newFakeLinkedIn(t)
	f.postStatus = http.StatusServiceUnavailable
	l := NewLinkedIn(LinkedInConfig{BaseURL: f.srv.URL + "/v2", AuthorURN: "urn:li:person:me"}, nil)
	c := NewClient(l, nil, testPolicy(), nil)

	res := c.Publish(context.Background(), testSession, "x", nil)
	assert.False(t, res.Success)
	assert.Equal(t, KindTransient, res.ErrorKind)
	assert.Equal(t, 3, res.Attempts)
	assert.Len(t, f.posts, 3)
}
