// ABOUTME: Login flow backed by a pre-issued access token
// ABOUTME: Completes immediately; used for long-lived tokens and webhook relays

package session

import (
	"context"
	"errors"
)

// StaticFlow hands out a configured token without user interaction.
type StaticFlow struct {
	Token     string
	TokenType string
}

// Start returns an attempt that is already complete.
func (f StaticFlow) Start(ctx context.Context, userID string) (Pending, error) {
	if f.Token == "" {
		return nil, errors.New("no access token configured")
	}
	tokenType := f.TokenType
	if tokenType == "" {
		tokenType = "Bearer"
	}
	return staticPending{sess: &Session{
		UserID:      userID,
		Kind:        KindStatic,
		AccessToken: f.Token,
		TokenType:   tokenType,
	}}, nil
}

type staticPending struct {
	sess *Session
}

func (p staticPending) Prompt() string { return "" }

func (p staticPending) Check(ctx context.Context) (*Session, error) {
	return p.sess, nil
}

func (p staticPending) Close() error { return nil }
