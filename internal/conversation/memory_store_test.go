package conversation

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore_StoresCopies(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	sess := &Session{UserID: "@a:x", State: StatePreviewing, DraftText: "hello"}
	require.NoError(t, s.Save(ctx, sess))
	sess.DraftText = "mutated"

	got, err := s.Get(ctx, "@a:x")
	require.NoError(t, err)
	assert.Equal(t, "hello", got.DraftText)

	got.DraftText = "also mutated"
	again, err := s.Get(ctx, "@a:x")
	require.NoError(t, err)
	assert.Equal(t, "hello", again.DraftText)

	require.NoError(t, s.Delete(ctx, "@a:x"))
	_, err = s.Get(ctx, "@a:x")
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.NoError(t, s.Delete(ctx, "@a:x"))
}

func TestMemoryStore_LedgerNewestFirstAndCapped(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	for i := range memoryLedgerCap + 5 {
		require.NoError(t, s.RecordPublish(ctx, &PublishRecord{ID: fmt.Sprint(i), UserID: "@a:x"}))
	}
	require.NoError(t, s.RecordPublish(ctx, &PublishRecord{ID: "other", UserID: "@b:x"}))

	recent, err := s.RecentPublishes(ctx, "@a:x", 3)
	require.NoError(t, err)
	require.Len(t, recent, 3)
	assert.Equal(t, fmt.Sprint(memoryLedgerCap+4), recent[0].ID)
	assert.Equal(t, fmt.Sprint(memoryLedgerCap+2), recent[2].ID)

	all, err := s.RecentPublishes(ctx, "@a:x", 1000)
	require.NoError(t, err)
	assert.Len(t, all, memoryLedgerCap)
}
