// ABOUTME: Authenticated session types, login flow contracts, and sentinel errors
// ABOUTME: Shared by the broker, the login flows, and token persistence

package session

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrLoginTimeout means the user did not finish logging in in time.
	ErrLoginTimeout = errors.New("login timed out")

	// ErrLoginFailed means the login flow reported an error or was cancelled.
	ErrLoginFailed = errors.New("login failed")

	// ErrNoStoredToken is returned by a TokenStore with nothing saved for a user.
	ErrNoStoredToken = errors.New("no stored token")
)

// Kind names how a session was obtained.
type Kind string

const (
	KindOAuth   Kind = "oauth"
	KindBrowser Kind = "browser"
	KindStatic  Kind = "static"
)

// Session is an authenticated context with the publishing platform.
// Token sessions carry an access token; browser sessions carry a live browser.
type Session struct {
	UserID       string
	Kind         Kind
	AccessToken  string
	RefreshToken string
	TokenType    string
	Expiry       time.Time // zero means no known expiry
	Browser      *Browser
	CreatedAt    time.Time
}

// Expired reports whether the session's token has passed its expiry.
func (s *Session) Expired(now time.Time) bool {
	return !s.Expiry.IsZero() && !now.Before(s.Expiry)
}

// close releases resources held by the session.
func (s *Session) close() error {
	if s.Browser != nil {
		return s.Browser.Close()
	}
	return nil
}

// State is the per-user broker state.
type State int

const (
	StateNoSession State = iota
	StateAcquiring
	StateActive
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateNoSession:
		return "no_session"
	case StateAcquiring:
		return "acquiring"
	case StateActive:
		return "active"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// LoginFlow starts logins for one mechanism.
type LoginFlow interface {
	Start(ctx context.Context, userID string) (Pending, error)
}

// Pending is a login in progress.
//
// Check returns a nil session while the user has not finished. On success the
// returned session takes ownership of any resources the attempt holds, so
// Close is only called for attempts that fail or time out.
type Pending interface {
	Prompt() string
	Check(ctx context.Context) (*Session, error)
	Close() error
}

// TokenStore persists token sessions across restarts.
type TokenStore interface {
	SaveToken(ctx context.Context, sess *Session) error
	// LoadToken returns ErrNoStoredToken when nothing is saved.
	LoadToken(ctx context.Context, userID string) (*Session, error)
	DeleteToken(ctx context.Context, userID string) error
}
