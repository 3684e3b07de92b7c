// ABOUTME: SQLite implementation of Store using modernc.org/sqlite
// ABOUTME: Creates its schema on open and applies idempotent column migrations

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"github.com/2389/herald/internal/conversation"
	"github.com/2389/herald/internal/media"
	"github.com/2389/herald/internal/session"
)

// SQLiteStore implements Store using SQLite
type SQLiteStore struct {
	db     *sql.DB
	sealer *Sealer
	logger *slog.Logger
}

// NewSQLiteStore opens or creates the database at path. Parent directories
// are created if needed.
func NewSQLiteStore(path string, sealer *Sealer) (*SQLiteStore, error) {
	if sealer == nil {
		return nil, ErrNoSecret
	}
	logger := slog.Default().With("component", "store", "backend", "sqlite")

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		sealer: sealer,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}
	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS conversation_sessions (
			user_id          TEXT PRIMARY KEY,
			state            TEXT NOT NULL,
			topic            TEXT NOT NULL DEFAULT '',
			draft_text       TEXT NOT NULL DEFAULT '',
			media_json       TEXT,
			publish_attempts INTEGER NOT NULL DEFAULT 0,
			op_id            TEXT NOT NULL DEFAULT '',
			created_at       TEXT NOT NULL,
			updated_at       TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS auth_tokens (
			user_id      TEXT PRIMARY KEY,
			kind         TEXT NOT NULL,
			secret       BLOB NOT NULL,
			expiry       TEXT,
			created_at   TEXT NOT NULL,
			updated_at   TEXT NOT NULL,
			refreshed_at TEXT
		);

		CREATE TABLE IF NOT EXISTS publish_ledger (
			id           TEXT PRIMARY KEY,
			user_id      TEXT NOT NULL,
			topic        TEXT NOT NULL DEFAULT '',
			text         TEXT NOT NULL,
			had_media    INTEGER NOT NULL DEFAULT 0,
			success      INTEGER NOT NULL,
			locator      TEXT NOT NULL DEFAULT '',
			error_kind   TEXT NOT NULL DEFAULT '',
			error_detail TEXT NOT NULL DEFAULT '',
			attempts     INTEGER NOT NULL DEFAULT 0,
			created_at   TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_publish_ledger_user_created
			ON publish_ledger(user_id, created_at);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations adds columns to databases created before they existed.
// SQLite has no ADD COLUMN IF NOT EXISTS, so each column is checked first.
func (s *SQLiteStore) runMigrations() error {
	migrations := []struct {
		table  string
		column string
		apply  string
	}{
		{
			table:  "publish_ledger",
			column: "error_detail",
			apply:  `ALTER TABLE publish_ledger ADD COLUMN error_detail TEXT NOT NULL DEFAULT ''`,
		},
		{
			table:  "auth_tokens",
			column: "refreshed_at",
			apply:  `ALTER TABLE auth_tokens ADD COLUMN refreshed_at TEXT`,
		},
	}

	for _, m := range migrations {
		var exists int
		err := s.db.QueryRow(`SELECT 1 FROM pragma_table_info(?) WHERE name = ?`, m.table, m.column).Scan(&exists)
		if err == nil {
			continue
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("checking %s.%s: %w", m.table, m.column, err)
		}
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding %s column to %s: %w", m.column, m.table, err)
		}
		s.logger.Info("applied migration", "column", m.column, "table", m.table)
	}
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// Get returns the user's conversation session.
func (s *SQLiteStore) Get(ctx context.Context, userID string) (*conversation.Session, error) {
	query := `
		SELECT user_id, state, topic, draft_text, media_json, publish_attempts, op_id, created_at, updated_at
		FROM conversation_sessions
		WHERE user_id = ?
	`

	var sess conversation.Session
	var mediaJSON sql.NullString
	var createdAt, updatedAt string
	err := s.db.QueryRowContext(ctx, query, userID).Scan(
		&sess.UserID,
		&sess.State,
		&sess.Topic,
		&sess.DraftText,
		&mediaJSON,
		&sess.PublishAttempts,
		&sess.OpID,
		&createdAt,
		&updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, conversation.ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying session: %w", err)
	}

	if mediaJSON.Valid && mediaJSON.String != "" {
		var m media.StagedMedia
		if err := json.Unmarshal([]byte(mediaJSON.String), &m); err != nil {
			return nil, fmt.Errorf("decoding session media: %w", err)
		}
		sess.Media = &m
	}
	if sess.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	if sess.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, fmt.Errorf("parsing updated_at: %w", err)
	}
	return &sess, nil
}

// Save creates or replaces the user's conversation session.
func (s *SQLiteStore) Save(ctx context.Context, sess *conversation.Session) error {
	var mediaJSON sql.NullString
	if sess.Media != nil {
		data, err := json.Marshal(sess.Media)
		if err != nil {
			return fmt.Errorf("encoding session media: %w", err)
		}
		mediaJSON = sql.NullString{String: string(data), Valid: true}
	}

	query := `
		INSERT INTO conversation_sessions
			(user_id, state, topic, draft_text, media_json, publish_attempts, op_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			state = excluded.state,
			topic = excluded.topic,
			draft_text = excluded.draft_text,
			media_json = excluded.media_json,
			publish_attempts = excluded.publish_attempts,
			op_id = excluded.op_id,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at
	`
	_, err := s.db.ExecContext(ctx, query,
		sess.UserID,
		string(sess.State),
		sess.Topic,
		sess.DraftText,
		mediaJSON,
		sess.PublishAttempts,
		sess.OpID,
		formatTime(sess.CreatedAt),
		formatTime(sess.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("saving session: %w", err)
	}
	s.logger.Debug("saved session", "user_id", sess.UserID, "state", sess.State)
	return nil
}

// Delete removes the user's conversation session.
func (s *SQLiteStore) Delete(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM conversation_sessions WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	return nil
}

// SaveToken seals and stores a login token.
func (s *SQLiteStore) SaveToken(ctx context.Context, sess *session.Session) error {
	rec, err := SealToken(s.sealer, sess)
	if err != nil {
		return err
	}

	var expiry sql.NullString
	if !rec.Expiry.IsZero() {
		expiry = sql.NullString{String: formatTime(rec.Expiry), Valid: true}
	}
	now := formatTime(time.Now())
	query := `
		INSERT INTO auth_tokens (user_id, kind, secret, expiry, created_at, updated_at, refreshed_at)
		VALUES (?, ?, ?, ?, ?, ?, NULL)
		ON CONFLICT(user_id) DO UPDATE SET
			kind = excluded.kind,
			secret = excluded.secret,
			expiry = excluded.expiry,
			updated_at = excluded.updated_at,
			refreshed_at = excluded.updated_at
	`
	_, err = s.db.ExecContext(ctx, query,
		rec.UserID,
		string(rec.Kind),
		rec.Secret,
		expiry,
		formatTime(rec.CreatedAt),
		now,
	)
	if err != nil {
		return fmt.Errorf("saving token: %w", err)
	}
	s.logger.Debug("saved token", "user_id", rec.UserID, "kind", rec.Kind)
	return nil
}

// LoadToken returns session.ErrNoStoredToken when nothing is stored.
func (s *SQLiteStore) LoadToken(ctx context.Context, userID string) (*session.Session, error) {
	var rec TokenRecord
	var kind, createdAt string
	var expiry sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, kind, secret, expiry, created_at FROM auth_tokens WHERE user_id = ?`,
		userID,
	).Scan(&rec.UserID, &kind, &rec.Secret, &expiry, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, session.ErrNoStoredToken
	}
	if err != nil {
		return nil, fmt.Errorf("querying token: %w", err)
	}

	rec.Kind = session.Kind(kind)
	if expiry.Valid {
		if rec.Expiry, err = parseTime(expiry.String); err != nil {
			return nil, fmt.Errorf("parsing expiry: %w", err)
		}
	}
	if rec.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return OpenToken(s.sealer, &rec)
}

// DeleteToken removes the user's stored token.
func (s *SQLiteStore) DeleteToken(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM auth_tokens WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("deleting token: %w", err)
	}
	return nil
}

// RecordPublish appends a ledger entry.
func (s *SQLiteStore) RecordPublish(ctx context.Context, rec *conversation.PublishRecord) error {
	query := `
		INSERT INTO publish_ledger
			(id, user_id, topic, text, had_media, success, locator, error_kind, error_detail, attempts, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, query,
		rec.ID,
		rec.UserID,
		rec.Topic,
		rec.Text,
		rec.HadMedia,
		rec.Success,
		rec.Locator,
		rec.ErrorKind,
		rec.ErrorDetail,
		rec.Attempts,
		formatTime(rec.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting publish record: %w", err)
	}
	return nil
}

// RecentPublishes returns up to limit of the user's entries, newest first.
func (s *SQLiteStore) RecentPublishes(ctx context.Context, userID string, limit int) ([]*conversation.PublishRecord, error) {
	query := `
		SELECT id, user_id, topic, text, had_media, success, locator, error_kind, error_detail, attempts, created_at
		FROM publish_ledger
		WHERE user_id = ?
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`
	rows, err := s.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying publish ledger: %w", err)
	}
	defer rows.Close()

	var out []*conversation.PublishRecord
	for rows.Next() {
		var rec conversation.PublishRecord
		var createdAt string
		if err := rows.Scan(
			&rec.ID,
			&rec.UserID,
			&rec.Topic,
			&rec.Text,
			&rec.HadMedia,
			&rec.Success,
			&rec.Locator,
			&rec.ErrorKind,
			&rec.ErrorDetail,
			&rec.Attempts,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("scanning publish record: %w", err)
		}
		if rec.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		out = append(out, &rec)
	}
	return out, rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339, s)
}
