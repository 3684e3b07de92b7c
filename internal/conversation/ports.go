// ABOUTME: Interfaces the engine consumes: storage, generation, media, auth, publishing
// ABOUTME: Declared here so each collaborator can be faked in tests

package conversation

import (
	"context"
	"errors"
	"time"

	"github.com/2389/herald/internal/generator"
	"github.com/2389/herald/internal/media"
	"github.com/2389/herald/internal/publish"
	"github.com/2389/herald/internal/session"
)

// ErrSessionNotFound is returned by a SessionStore with no session for a user.
var ErrSessionNotFound = errors.New("conversation session not found")

// SessionStore persists conversation sessions.
type SessionStore interface {
	// Get returns ErrSessionNotFound when the user has no session.
	Get(ctx context.Context, userID string) (*Session, error)
	// Save creates or replaces the user's session.
	Save(ctx context.Context, sess *Session) error
	// Delete removes the session. Deleting a missing session is not an error.
	Delete(ctx context.Context, userID string) error
}

// Generator drafts post text.
type Generator interface {
	Generate(ctx context.Context, topic string, opts generator.Options) (string, error)
}

// Stager owns staged images.
type Stager interface {
	Stage(userID string, data []byte) (*media.StagedMedia, error)
	Release(m *media.StagedMedia) error
}

// Broker owns authenticated sessions with the platform.
type Broker interface {
	IsActive(userID string) bool
	Acquire(ctx context.Context, userID string) (*session.Session, error)
	Invalidate(userID string)
}

// Publisher submits posts.
type Publisher interface {
	Publish(ctx context.Context, sess *session.Session, text string, m *media.StagedMedia) publish.Result
}

// Ledger keeps a history of publish attempts.
type Ledger interface {
	RecordPublish(ctx context.Context, rec *PublishRecord) error
	RecentPublishes(ctx context.Context, userID string, limit int) ([]*PublishRecord, error)
}

// Notifier delivers messages produced outside of HandleEvent, such as async
// generation and publish results.
type Notifier interface {
	Notify(userID string, msgs ...Outbound)
}

// Observer receives workflow measurements.
type Observer interface {
	EventReceived(kind string)
	EventDenied()
	GenerationFinished(err error, elapsed time.Duration)
	PublishFinished(res publish.Result, elapsed time.Duration)
	LoginFinished(err error)
}

type noopObserver struct{}

func (noopObserver) EventReceived(string) {}
func (noopObserver) EventDenied() {}
func (noopObserver) GenerationFinished(error, time.Duration) {}
func (noopObserver) PublishFinished(publish.Result, time.Duration) {}
func (noopObserver) LoginFinished(error) {}
