// ABOUTME: In-memory SessionStore and Ledger, used when no database backend is configured
// ABOUTME: Stores copies so callers never share a session value with the store

package conversation

import (
	"context"
	"sync"
)

// memoryLedgerCap bounds the in-memory ledger per user.
const memoryLedgerCap = 100

// MemoryStore keeps sessions and the publish ledger in maps.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	ledger   map[string][]*PublishRecord
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*Session),
		ledger:   make(map[string][]*PublishRecord),
	}
}

func (m *MemoryStore) Get(ctx context.Context, userID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[userID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s.clone(), nil
}

func (m *MemoryStore) Save(ctx context.Context, sess *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sessions[sess.UserID] = sess.clone()
	return nil
}

func (m *MemoryStore) Delete(ctx context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, userID)
	return nil
}

// RecordPublish appends rec, dropping the oldest entry past the cap.
func (m *MemoryStore) RecordPublish(ctx context.Context, rec *PublishRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := *rec
	entries := append(m.ledger[rec.UserID], &c)
	if len(entries) > memoryLedgerCap {
		entries = entries[len(entries)-memoryLedgerCap:]
	}
	m.ledger[rec.UserID] = entries
	return nil
}

// RecentPublishes returns up to limit records, newest first.
func (m *MemoryStore) RecentPublishes(ctx context.Context, userID string, limit int) ([]*PublishRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := m.ledger[userID]
	var out []*PublishRecord
	for i := len(entries) - 1; i >= 0 && len(out) < limit; i-- {
		c := *entries[i]
		out = append(out, &c)
	}
	return out, nil
}
