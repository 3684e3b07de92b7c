// ABOUTME: Backend-independent behavior tests shared by every Store implementation
// ABOUTME: Each backend's tests call Run with a constructor for a fresh store

// Package storetest checks that a store.Store behaves the same regardless of
// backend.
package storetest

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/herald/internal/conversation"
	"github.com/2389/herald/internal/media"
	"github.com/2389/herald/internal/session"
	"github.com/2389/herald/internal/store"
)

// Run exercises sessions, tokens, and the ledger on stores made by newStore.
func Run(t *testing.T, newStore func(t *testing.T) store.Store) {
	t.Run("SessionRoundTrip", func(t *testing.T) { testSessionRoundTrip(t, newStore(t)) })
	t.Run("SessionSaveReplaces", func(t *testing.T) { testSessionSaveReplaces(t, newStore(t)) })
	t.Run("SessionDelete", func(t *testing.T) { testSessionDelete(t, newStore(t)) })
	t.Run("TokenRoundTrip", func(t *testing.T) { testTokenRoundTrip(t, newStore(t)) })
	t.Run("TokenDelete", func(t *testing.T) { testTokenDelete(t, newStore(t)) })
	t.Run("LedgerNewestFirst", func(t *testing.T) { testLedgerNewestFirst(t, newStore(t)) })
}

func ts(sec int) time.Time {
	return time.Date(2026, 3, 14, 9, 0, sec, 0, time.UTC)
}

func testSessionRoundTrip(t *testing.T, s store.Store) {
	ctx := context.Background()

	_, err := s.Get(ctx, "alice")
	require.ErrorIs(t, err, conversation.ErrSessionNotFound)

	want := &conversation.Session{
		UserID:    "alice",
		State:     conversation.StatePreviewing,
		Topic:     "quarterly earnings growth",
		DraftText: "Revenue is up.\n\nWhat moved your numbers?",
		Media: &media.StagedMedia{
			ID:       "m1",
			UserID:   "alice",
			Path:     "/tmp/staging/alice-m1.png",
			Format:   "png",
			MimeType: "image/png",
			Size:     1024,
			Width:    40,
			Height:   30,
		},
		PublishAttempts: 2,
		OpID:            "op-1",
		CreatedAt:       ts(1),
		UpdatedAt:       ts(2),
	}
	require.NoError(t, s.Save(ctx, want))

	got, err := s.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, want.State, got.State)
	assert.Equal(t, want.Topic, got.Topic)
	assert.Equal(t, want.DraftText, got.DraftText)
	assert.Equal(t, want.PublishAttempts, got.PublishAttempts)
	assert.Equal(t, want.OpID, got.OpID)
	assert.True(t, want.CreatedAt.Equal(got.CreatedAt))
	assert.True(t, want.UpdatedAt.Equal(got.UpdatedAt))
	require.NotNil(t, got.Media)
	assert.Equal(t, *want.Media, *got.Media)
}

func testSessionSaveReplaces(t *testing.T, s store.Store) {
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, &conversation.Session{
		UserID:    "alice",
		State:     conversation.StateAwaitingTopic,
		CreatedAt: ts(1),
		UpdatedAt: ts(1),
	}))
	require.NoError(t, s.Save(ctx, &conversation.Session{
		UserID:    "alice",
		State:     conversation.StateEditing,
		DraftText: "edited",
		CreatedAt: ts(1),
		UpdatedAt: ts(5),
	}))

	got, err := s.Get(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, conversation.StateEditing, got.State)
	assert.Equal(t, "edited", got.DraftText)
	assert.Nil(t, got.Media)
}

func testSessionDelete(t *testing.T, s store.Store) {
	ctx := context.Background()

	require.NoError(t, s.Save(ctx, &conversation.Session{UserID: "alice", State: conversation.StateAwaitingTopic, CreatedAt: ts(1), UpdatedAt: ts(1)}))
	require.NoError(t, s.Save(ctx, &conversation.Session{UserID: "bob", State: conversation.StateAwaitingTopic, CreatedAt: ts(1), UpdatedAt: ts(1)}))

	require.NoError(t, s.Delete(ctx, "alice"))
	require.NoError(t, s.Delete(ctx, "alice"), "deleting a missing session is not an error")

	_, err := s.Get(ctx, "alice")
	assert.ErrorIs(t, err, conversation.ErrSessionNotFound)
	_, err = s.Get(ctx, "bob")
	assert.NoError(t, err)
}

func testTokenRoundTrip(t *testing.T, s store.Store) {
	ctx := context.Background()

	_, err := s.LoadToken(ctx, "alice")
	require.ErrorIs(t, err, session.ErrNoStoredToken)

	// Backends may expire stored tokens, so the expiry must be in the future.
	expiry := time.Now().Add(24 * time.Hour).UTC().Truncate(time.Second)
	want := &session.Session{
		UserID:       "alice",
		Kind:         session.KindOAuth,
		AccessToken:  "access-123",
		RefreshToken: "refresh-456",
		TokenType:    "Bearer",
		Expiry:       expiry,
		CreatedAt:    ts(1),
	}
	require.NoError(t, s.SaveToken(ctx, want))

	got, err := s.LoadToken(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, want.UserID, got.UserID)
	assert.Equal(t, want.Kind, got.Kind)
	assert.Equal(t, want.AccessToken, got.AccessToken)
	assert.Equal(t, want.RefreshToken, got.RefreshToken)
	assert.Equal(t, want.TokenType, got.TokenType)
	assert.True(t, want.Expiry.Equal(got.Expiry))
	assert.Nil(t, got.Browser)

	want.AccessToken = "access-789"
	require.NoError(t, s.SaveToken(ctx, want))
	got, err = s.LoadToken(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "access-789", got.AccessToken)
}

func testTokenDelete(t *testing.T, s store.Store) {
	ctx := context.Background()

	require.NoError(t, s.SaveToken(ctx, &session.Session{UserID: "alice", Kind: session.KindOAuth, AccessToken: "a", CreatedAt: ts(1)}))
	require.NoError(t, s.DeleteToken(ctx, "alice"))

	_, err := s.LoadToken(ctx, "alice")
	assert.ErrorIs(t, err, session.ErrNoStoredToken)
}

func testLedgerNewestFirst(t *testing.T, s store.Store) {
	ctx := context.Background()

	recs, err := s.RecentPublishes(ctx, "alice", 5)
	require.NoError(t, err)
	assert.Empty(t, recs)

	for i := 1; i <= 7; i++ {
		require.NoError(t, s.RecordPublish(ctx, &conversation.PublishRecord{
			ID:        fmt.Sprintf("rec-%d", i),
			UserID:    "alice",
			Topic:     fmt.Sprintf("topic %d", i),
			Text:      "text",
			Success:   i%2 == 1,
			Locator:   fmt.Sprintf("https://platform/posts/%d", i),
			Attempts:  1,
			CreatedAt: ts(i),
		}))
	}
	require.NoError(t, s.RecordPublish(ctx, &conversation.PublishRecord{
		ID:          "rec-bob",
		UserID:      "bob",
		Text:        "text",
		ErrorKind:   "transient",
		ErrorDetail: "gave up after 3 attempts",
		Attempts:    3,
		CreatedAt:   ts(9),
	}))

	recs, err = s.RecentPublishes(ctx, "alice", 5)
	require.NoError(t, err)
	require.Len(t, recs, 5)
	assert.Equal(t, "rec-7", recs[0].ID)
	assert.Equal(t, "rec-3", recs[4].ID)
	assert.True(t, recs[0].Success)
	assert.False(t, recs[1].Success)
	assert.Equal(t, "https://platform/posts/7", recs[0].Locator)

	recs, err = s.RecentPublishes(ctx, "bob", 5)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "transient", recs[0].ErrorKind)
	assert.Equal(t, "gave up after 3 attempts", recs[0].ErrorDetail)
	assert.Equal(t, 3, recs[0].Attempts)
}
