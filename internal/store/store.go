// ABOUTME: Store interface combining session, token, and ledger persistence
// ABOUTME: Shared record encoding used by every backend

package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/2389/herald/internal/conversation"
	"github.com/2389/herald/internal/session"
)

// Store is implemented by every persistence backend.
type Store interface {
	conversation.SessionStore
	conversation.Ledger
	session.TokenStore
	Close() error
}

// tokenSecret is the sealed part of a stored token.
type tokenSecret struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
	TokenType    string `json:"token_type,omitempty"`
}

// TokenRecord is a stored login token. Secret is sealed.
type TokenRecord struct {
	UserID    string       `json:"user_id"`
	Kind      session.Kind `json:"kind"`
	Secret    []byte       `json:"secret"`
	Expiry    time.Time    `json:"expiry"`
	CreatedAt time.Time    `json:"created_at"`
}

// SealToken converts a session into a storable record.
func SealToken(s *Sealer, sess *session.Session) (*TokenRecord, error) {
	plain, err := json.Marshal(tokenSecret{
		AccessToken:  sess.AccessToken,
		RefreshToken: sess.RefreshToken,
		TokenType:    sess.TokenType,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding token: %w", err)
	}
	sealed, err := s.Seal(plain)
	if err != nil {
		return nil, err
	}
	return &TokenRecord{
		UserID:    sess.UserID,
		Kind:      sess.Kind,
		Secret:    sealed,
		Expiry:    sess.Expiry,
		CreatedAt: sess.CreatedAt,
	}, nil
}

// OpenToken converts a stored record back into a session.
func OpenToken(s *Sealer, rec *TokenRecord) (*session.Session, error) {
	plain, err := s.Open(rec.Secret)
	if err != nil {
		return nil, err
	}
	var secret tokenSecret
	if err := json.Unmarshal(plain, &secret); err != nil {
		return nil, fmt.Errorf("decoding token: %w", err)
	}
	return &session.Session{
		UserID:       rec.UserID,
		Kind:         rec.Kind,
		AccessToken:  secret.AccessToken,
		RefreshToken: secret.RefreshToken,
		TokenType:    secret.TokenType,
		Expiry:       rec.Expiry,
		CreatedAt:    rec.CreatedAt,
	}, nil
}
