// ABOUTME: bbolt implementation of store.Store for single-file embedded deployments
// ABOUTME: JSON values in sessions/tokens buckets; ledger entries in a sub-bucket per user

// Package boltstore keeps herald state in a bbolt file.
package boltstore

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/2389/herald/internal/conversation"
	"github.com/2389/herald/internal/session"
	"github.com/2389/herald/internal/store"
)

var (
	bucketSessions = []byte("sessions")
	bucketTokens   = []byte("tokens")
	bucketLedger   = []byte("ledger")
)

// Store implements store.Store.
type Store struct {
	db     *bolt.DB
	sealer *store.Sealer
	logger *slog.Logger
}

var _ store.Store = (*Store)(nil)

// Open opens or creates the database at path.
func Open(path string, sealer *store.Sealer) (*Store, error) {
	if sealer == nil {
		return nil, store.ErrNoSecret
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("opening bolt database: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{bucketSessions, bucketTokens, bucketLedger} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating buckets: %w", err)
	}

	logger := slog.Default().With("component", "store", "backend", "bolt")
	logger.Info("bolt store initialized", "path", path)
	return &Store{db: db, sealer: sealer, logger: logger}, nil
}

// Close closes the database file.
func (s *Store) Close() error {
	s.logger.Info("closing bolt store")
	return s.db.Close()
}

func (s *Store) Get(ctx context.Context, userID string) (*conversation.Session, error) {
	var sess *conversation.Session
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketSessions).Get([]byte(userID))
		if v == nil {
			return conversation.ErrSessionNotFound
		}
		sess = &conversation.Session{}
		return json.Unmarshal(v, sess)
	})
	if err != nil {
		return nil, err
	}
	return sess, nil
}

func (s *Store) Save(ctx context.Context, sess *conversation.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSessions).Put([]byte(sess.UserID), data)
	})
}

func (s *Store) Delete(ctx context.Context, userID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSessions).Delete([]byte(userID))
	})
}

func (s *Store) SaveToken(ctx context.Context, sess *session.Session) error {
	rec, err := store.SealToken(s.sealer, sess)
	if err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding token: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTokens).Put([]byte(sess.UserID), data)
	})
}

func (s *Store) LoadToken(ctx context.Context, userID string) (*session.Session, error) {
	var rec store.TokenRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketTokens).Get([]byte(userID))
		if v == nil {
			return session.ErrNoStoredToken
		}
		return json.Unmarshal(v, &rec)
	})
	if err != nil {
		return nil, err
	}
	return store.OpenToken(s.sealer, &rec)
}

func (s *Store) DeleteToken(ctx context.Context, userID string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketTokens).Delete([]byte(userID))
	})
}

// RecordPublish appends to the user's ledger bucket under the next sequence number.
func (s *Store) RecordPublish(ctx context.Context, rec *conversation.PublishRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding publish record: %w", err)
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.Bucket(bucketLedger).CreateBucketIfNotExists([]byte(rec.UserID))
		if err != nil {
			return err
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		return b.Put(seqKey(seq), data)
	})
}

// RecentPublishes walks the user's ledger bucket backwards.
func (s *Store) RecentPublishes(ctx context.Context, userID string, limit int) ([]*conversation.PublishRecord, error) {
	var out []*conversation.PublishRecord
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketLedger).Bucket([]byte(userID))
		if b == nil {
			return nil
		}
		c := b.Cursor()
		for k, v := c.Last(); k != nil && len(out) < limit; k, v = c.Prev() {
			var rec conversation.PublishRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return fmt.Errorf("decoding publish record %d: %w", binary.BigEndian.Uint64(k), err)
			}
			out = append(out, &rec)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func seqKey(seq uint64) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, seq)
	return k
}
