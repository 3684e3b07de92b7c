// ABOUTME: Session broker that coalesces concurrent logins and caches active sessions
// ABOUTME: Polls a LoginFlow until success, failure, or the login timeout

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/2389/herald/internal/retry"
)

const (
	DefaultLoginTimeout = 5 * time.Minute
	DefaultPollInterval = 5 * time.Second
)

// PromptFunc delivers login instructions to a user.
type PromptFunc func(userID, prompt string)

// BrokerConfig configures a Broker.
type BrokerConfig struct {
	LoginTimeout time.Duration
	PollInterval time.Duration

	// Retry wraps LoginFlow.Start. The zero value uses retry.Default().
	Retry retry.Policy

	// OnPrompt is called once per login attempt with the flow's prompt.
	OnPrompt PromptFunc

	// Tokens is optional.
	Tokens TokenStore

	Now func() time.Time
}

// userEntry is the broker's record for one user.
type userEntry struct {
	state   State
	session *Session
	// gen increments on Invalidate so a racing login cannot resurrect a session
	gen    uint64
	cancel context.CancelFunc
}

// Broker owns authenticated sessions.
type Broker struct {
	flow   LoginFlow
	cfg    BrokerConfig
	logger *slog.Logger

	group singleflight.Group

	base       context.Context
	cancelBase context.CancelFunc

	mu    sync.Mutex
	users map[string]*userEntry
}

// NewBroker creates a broker around flow.
func NewBroker(flow LoginFlow, cfg BrokerConfig, logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.LoginTimeout <= 0 {
		cfg.LoginTimeout = DefaultLoginTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.Retry.MaxAttempts == 0 && cfg.Retry.Backoff == nil {
		cfg.Retry = retry.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	base, cancel := context.WithCancel(context.Background())
	return &Broker{
		flow:       flow,
		cfg:        cfg,
		logger:     logger.With("component", "session"),
		base:       base,
		cancelBase: cancel,
		users:      make(map[string]*userEntry),
	}
}

// entryLocked returns the user's entry, creating it. Must be called with mu held.
func (b *Broker) entryLocked(userID string) *userEntry {
	e, ok := b.users[userID]
	if !ok {
		e = &userEntry{state: StateNoSession}
		b.users[userID] = e
	}
	return e
}

// State reports the user's broker state.
func (b *Broker) State(userID string) State {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.users[userID]
	if !ok {
		return StateNoSession
	}
	if e.state == StateActive && e.session != nil && e.session.Expired(b.cfg.Now()) {
		return StateNoSession
	}
	return e.state
}

// IsActive reports whether the user has a usable session right now.
func (b *Broker) IsActive(userID string) bool {
	return b.State(userID) == StateActive
}

// Acquire returns the user's active session, restoring or logging in as needed.
// It fails with ErrLoginTimeout or ErrLoginFailed, or with ctx's error if the
// caller stops waiting. Abandoning the wait does not abort the login.
func (b *Broker) Acquire(ctx context.Context, userID string) (*Session, error) {
	if sess := b.active(userID); sess != nil {
		return sess, nil
	}

	ch := b.group.DoChan(userID, func() (any, error) {
		sess, err := b.login(userID)
		if err != nil {
			b.settle(userID)
		}
		return sess, err
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		sess, _ := res.Val.(*Session)
		return sess, nil
	}
}

// active returns the cached session if it is still usable.
func (b *Broker) active(userID string) *Session {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.users[userID]
	if !ok || e.state != StateActive || e.session == nil {
		return nil
	}
	if e.session.Expired(b.cfg.Now()) {
		b.logger.Info("session expired", "user_id", userID)
		_ = e.session.close()
		e.session = nil
		e.state = StateNoSession
		return nil
	}
	return e.session
}

// login runs one acquisition attempt. It is only ever called through the
// singleflight group, so at most one runs per user.
func (b *Broker) login(userID string) (*Session, error) {
	ctx, cancel := context.WithTimeout(b.base, b.cfg.LoginTimeout)
	defer cancel()

	b.mu.Lock()
	e := b.entryLocked(userID)
	e.state = StateAcquiring
	e.cancel = cancel
	gen := e.gen
	b.mu.Unlock()

	if sess := b.restore(ctx, userID); sess != nil {
		if b.finish(userID, gen, sess) {
			return sess, nil
		}
		return nil, fmt.Errorf("%w: login cancelled", ErrLoginFailed)
	}

	b.logger.Info("starting login", "user_id", userID)

	var pending Pending
	_, err := b.cfg.Retry.Do(ctx, func(ctx context.Context, attempt int) error {
		p, err := b.flow.Start(ctx, userID)
		if err != nil {
			b.logger.Warn("login start failed", "user_id", userID, "attempt", attempt, "error", err)
			return err
		}
		pending = p
		return nil
	})
	if err != nil {
		return nil, b.fail(ctx, userID, gen, err)
	}

	if prompt := pending.Prompt(); prompt != "" && b.cfg.OnPrompt != nil {
		b.cfg.OnPrompt(userID, prompt)
	}

	ticker := time.NewTicker(b.cfg.PollInterval)
	defer ticker.Stop()

	for {
		sess, err := pending.Check(ctx)
		if err != nil {
			_ = pending.Close()
			return nil, b.fail(ctx, userID, gen, err)
		}
		if sess != nil {
			if sess.UserID == "" {
				sess.UserID = userID
			}
			if sess.CreatedAt.IsZero() {
				sess.CreatedAt = b.cfg.Now()
			}
			if !b.finish(userID, gen, sess) {
				_ = sess.close()
				return nil, fmt.Errorf("%w: login cancelled", ErrLoginFailed)
			}
			b.persist(userID, sess)
			return sess, nil
		}

		select {
		case <-ctx.Done():
			_ = pending.Close()
			return nil, b.fail(ctx, userID, gen, ctx.Err())
		case <-ticker.C:
		}
	}
}

// restore loads a stored token session, if any.
func (b *Broker) restore(ctx context.Context, userID string) *Session {
	if b.cfg.Tokens == nil {
		return nil
	}
	sess, err := b.cfg.Tokens.LoadToken(ctx, userID)
	if err != nil {
		if !errors.Is(err, ErrNoStoredToken) {
			b.logger.Warn("failed to load stored token", "user_id", userID, "error", err)
		}
		return nil
	}
	if sess.Expired(b.cfg.Now()) {
		b.logger.Info("stored token expired", "user_id", userID)
		if err := b.cfg.Tokens.DeleteToken(ctx, userID); err != nil {
			b.logger.Warn("failed to delete expired token", "user_id", userID, "error", err)
		}
		return nil
	}
	b.logger.Info("restored stored session", "user_id", userID)
	return sess
}

func (b *Broker) persist(userID string, sess *Session) {
	if b.cfg.Tokens == nil || sess.Kind != KindOAuth || sess.AccessToken == "" {
		return
	}
	ctx, cancel := context.WithTimeout(b.base, 5*time.Second)
	defer cancel()
	if err := b.cfg.Tokens.SaveToken(ctx, sess); err != nil {
		b.logger.Warn("failed to persist session token", "user_id", userID, "error", err)
	}
}

// finish records a successful login unless the user was invalidated meanwhile.
func (b *Broker) finish(userID string, gen uint64, sess *Session) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	e := b.entryLocked(userID)
	e.cancel = nil
	if e.gen != gen {
		return false
	}
	e.state = StateActive
	e.session = sess
	b.logger.Info("session active", "user_id", userID, "kind", sess.Kind)
	return true
}

// fail records a failed attempt and maps the cause to a broker error.
func (b *Broker) fail(ctx context.Context, userID string, gen uint64, cause error) error {
	b.mu.Lock()
	e := b.entryLocked(userID)
	e.cancel = nil
	if e.gen == gen {
		e.state = StateFailed
	}
	b.mu.Unlock()

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		b.logger.Warn("login timed out", "user_id", userID)
		return fmt.Errorf("%w after %s", ErrLoginTimeout, b.cfg.LoginTimeout)
	}
	b.logger.Warn("login failed", "user_id", userID, "error", cause)
	return fmt.Errorf("%w: %w", ErrLoginFailed, cause)
}

// settle moves a failed user back to NoSession once the attempt is over, so
// Failed is only visible while the failure is being reported.
func (b *Broker) settle(userID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if e, ok := b.users[userID]; ok && e.state == StateFailed {
		e.state = StateNoSession
	}
}

// Invalidate cancels any in-flight login and destroys the user's session.
func (b *Broker) Invalidate(userID string) {
	b.mu.Lock()
	e := b.entryLocked(userID)
	e.gen++
	if e.cancel != nil {
		e.cancel()
		e.cancel = nil
	}
	sess := e.session
	e.session = nil
	e.state = StateNoSession
	b.mu.Unlock()

	b.group.Forget(userID)

	if sess != nil {
		if err := sess.close(); err != nil {
			b.logger.Warn("failed to close session", "user_id", userID, "error", err)
		}
	}

	if b.cfg.Tokens != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := b.cfg.Tokens.DeleteToken(ctx, userID); err != nil && !errors.Is(err, ErrNoStoredToken) {
			b.logger.Warn("failed to delete stored token", "user_id", userID, "error", err)
		}
	}

	b.logger.Info("session invalidated", "user_id", userID)
}

// Close cancels every in-flight login and releases every session.
func (b *Broker) Close() error {
	b.cancelBase()

	b.mu.Lock()
	var sessions []*Session
	for _, e := range b.users {
		if e.session != nil {
			sessions = append(sessions, e.session)
			e.session = nil
		}
		e.state = StateNoSession
	}
	b.mu.Unlock()

	var errs []error
	for _, s := range sessions {
		if err := s.close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
