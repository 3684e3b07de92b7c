// ABOUTME: Redis implementation of store.Store using go-redis
// ABOUTME: Sessions and tokens are JSON values with TTLs; the ledger is a capped list per user

// Package redisstore keeps herald state in Redis.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/2389/herald/internal/conversation"
	"github.com/2389/herald/internal/session"
	"github.com/2389/herald/internal/store"
)

const (
	DefaultPrefix     = "herald"
	DefaultSessionTTL = 7 * 24 * time.Hour
	DefaultLedgerCap  = 500
	dialTimeout       = 5 * time.Second
)

// Options configures the Redis connection and key layout.
type Options struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	// SessionTTL expires abandoned conversations. Zero uses the default.
	SessionTTL time.Duration
	// LedgerCap bounds the ledger entries kept per user.
	LedgerCap int64
}

// Store implements store.Store.
type Store struct {
	client *redis.Client
	sealer *store.Sealer
	opts   Options
	logger *slog.Logger
}

var _ store.Store = (*Store)(nil)

// New connects to Redis and verifies the connection with PING.
func New(ctx context.Context, opts Options, sealer *store.Sealer) (*Store, error) {
	if sealer == nil {
		return nil, store.ErrNoSecret
	}
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	if opts.SessionTTL <= 0 {
		opts.SessionTTL = DefaultSessionTTL
	}
	if opts.LedgerCap <= 0 {
		opts.LedgerCap = DefaultLedgerCap
	}

	client := redis.NewClient(&redis.Options{
		Addr:        opts.Addr,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: dialTimeout,
	})
	pong, err := client.Ping(ctx).Result()
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", opts.Addr, err)
	}
	if pong != "PONG" {
		client.Close()
		return nil, fmt.Errorf("expected PONG, got %s", pong)
	}

	logger := slog.Default().With("component", "store", "backend", "redis")
	logger.Info("Redis store initialized", "addr", opts.Addr, "db", opts.DB, "prefix", opts.Prefix)
	return &Store{client: client, sealer: sealer, opts: opts, logger: logger}, nil
}

func (s *Store) key(kind, userID string) string {
	return fmt.Sprintf("%s:%s:%s", s.opts.Prefix, kind, userID)
}

// Close closes the client.
func (s *Store) Close() error {
	s.logger.Info("closing Redis store")
	return s.client.Close()
}

func (s *Store) Get(ctx context.Context, userID string) (*conversation.Session, error) {
	val, err := s.client.Get(ctx, s.key("session", userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, conversation.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting session: %w", err)
	}
	var sess conversation.Session
	if err := json.Unmarshal(val, &sess); err != nil {
		return nil, fmt.Errorf("decoding session: %w", err)
	}
	return &sess, nil
}

func (s *Store) Save(ctx context.Context, sess *conversation.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("encoding session: %w", err)
	}
	if err := s.client.Set(ctx, s.key("session", sess.UserID), data, s.opts.SessionTTL).Err(); err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, userID string) error {
	if err := s.client.Del(ctx, s.key("session", userID)).Err(); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// SaveToken stores a sealed token that expires with the token itself.
func (s *Store) SaveToken(ctx context.Context, sess *session.Session) error {
	rec, err := store.SealToken(s.sealer, sess)
	if err != nil {
		return err
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding token: %w", err)
	}

	var ttl time.Duration
	if !rec.Expiry.IsZero() {
		ttl = time.Until(rec.Expiry)
		if ttl <= 0 {
			return s.DeleteToken(ctx, sess.UserID)
		}
	}
	if err := s.client.Set(ctx, s.key("token", sess.UserID), data, ttl).Err(); err != nil {
		return fmt.Errorf("saving token: %w", err)
	}
	return nil
}

func (s *Store) LoadToken(ctx context.Context, userID string) (*session.Session, error) {
	val, err := s.client.Get(ctx, s.key("token", userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, session.ErrNoStoredToken
	}
	if err != nil {
		return nil, fmt.Errorf("getting token: %w", err)
	}
	var rec store.TokenRecord
	if err := json.Unmarshal(val, &rec); err != nil {
		return nil, fmt.Errorf("decoding token: %w", err)
	}
	return store.OpenToken(s.sealer, &rec)
}

func (s *Store) DeleteToken(ctx context.Context, userID string) error {
	if err := s.client.Del(ctx, s.key("token", userID)).Err(); err != nil {
		return fmt.Errorf("deleting token: %w", err)
	}
	return nil
}

// RecordPublish pushes the entry to the front of the user's ledger list and
// trims it to LedgerCap in one transaction.
func (s *Store) RecordPublish(ctx context.Context, rec *conversation.PublishRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encoding publish record: %w", err)
	}
	key := s.key("ledger", rec.UserID)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LPush(ctx, key, data)
		pipe.LTrim(ctx, key, 0, s.opts.LedgerCap-1)
		return nil
	})
	if err != nil {
		return fmt.Errorf("recording publish: %w", err)
	}
	return nil
}

func (s *Store) RecentPublishes(ctx context.Context, userID string, limit int) ([]*conversation.PublishRecord, error) {
	if limit <= 0 {
		return nil, nil
	}
	vals, err := s.client.LRange(ctx, s.key("ledger", userID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("reading publish ledger: %w", err)
	}
	out := make([]*conversation.PublishRecord, 0, len(vals))
	for _, v := range vals {
		var rec conversation.PublishRecord
		if err := json.Unmarshal([]byte(v), &rec); err != nil {
			return nil, fmt.Errorf("decoding publish record: %w", err)
		}
		out = append(out, &rec)
	}
	return out, nil
}
