// ABOUTME: Engine drives the per-user publishing conversation state machine
// ABOUTME: Gates events by user, serializes them per user, and tracks async operations

package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/herald/internal/generator"
)

const (
	// DefaultMinTopicLength is the shortest topic, in runes, sent to the generator.
	DefaultMinTopicLength = 5

	// DefaultHistoryLimit is how many ledger entries /history shows.
	DefaultHistoryLimit = 5

	// completionTimeout bounds store calls made when an async operation finishes.
	completionTimeout = 10 * time.Second
)

// Config holds engine settings.
type Config struct {
	// AuthorizedUser is the only user whose events are processed.
	AuthorizedUser  string
	MinTopicLength  int
	HistoryLimit    int
	GenerateOptions generator.Options
	Now             func() time.Time
}

// Deps are the engine's collaborators. Ledger and Observer are optional.
type Deps struct {
	Store     SessionStore
	Generator Generator
	Stager    Stager
	Broker    Broker
	Publisher Publisher
	Ledger    Ledger
	Notifier  Notifier
	Observer  Observer
}

type opKind string

const (
	opGenerate   opKind = "generate"
	opRegenerate opKind = "regenerate"
	opPublish    opKind = "publish"
)

// operation is an in-flight async step owned by one user's session.
type operation struct {
	id     string
	kind   opKind
	ctx    context.Context
	cancel context.CancelFunc
}

// Engine is the conversation state machine.
type Engine struct {
	cfg       Config
	store     SessionStore
	gen       Generator
	stager    Stager
	broker    Broker
	publisher Publisher
	ledger    Ledger
	notifier  Notifier
	observer  Observer
	logger    *slog.Logger

	locks *userLocks

	mu     sync.Mutex
	ops    map[string]*operation // userID -> in-flight op
	logins map[string]bool       // userID -> background login running

	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates an Engine.
func New(cfg Config, deps Deps, logger *slog.Logger) (*Engine, error) {
	if cfg.AuthorizedUser == "" {
		return nil, errors.New("authorized user is required")
	}
	required := []struct {
		name string
		dep  any
	}{
		{"store", deps.Store},
		{"generator", deps.Generator},
		{"stager", deps.Stager},
		{"broker", deps.Broker},
		{"publisher", deps.Publisher},
		{"notifier", deps.Notifier},
	}
	for _, r := range required {
		if r.dep == nil {
			return nil, fmt.Errorf("%s is required", r.name)
		}
	}

	if cfg.MinTopicLength <= 0 {
		cfg.MinTopicLength = DefaultMinTopicLength
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = DefaultHistoryLimit
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	cfg.GenerateOptions = cfg.GenerateOptions.WithDefaults()
	if deps.Observer == nil {
		deps.Observer = noopObserver{}
	}
	if logger == nil {
		logger = slog.Default()
	}

	base, cancel := context.WithCancel(context.Background())
	return &Engine{
		cfg:       cfg,
		store:     deps.Store,
		gen:       deps.Generator,
		stager:    deps.Stager,
		broker:    deps.Broker,
		publisher: deps.Publisher,
		ledger:    deps.Ledger,
		notifier:  deps.Notifier,
		observer:  deps.Observer,
		logger:    logger.With("component", "conversation"),
		locks:     newUserLocks(),
		ops:       make(map[string]*operation),
		logins:    make(map[string]bool),
		base:      base,
		cancel:    cancel,
	}, nil
}

// HandleEvent processes one inbound event and returns the immediate replies.
// Results of operations it starts arrive later through the Notifier.
func (e *Engine) HandleEvent(ctx context.Context, userID string, ev Event) []Outbound {
	if ev == nil {
		return nil
	}
	if userID != e.cfg.AuthorizedUser {
		e.observer.EventDenied()
		e.logger.Warn("denied event from unauthorized user", "user_id", userID, "kind", ev.eventKind())
		return []Outbound{text(MsgAccessDenied)}
	}
	e.observer.EventReceived(ev.eventKind())

	unlock := e.locks.lock(userID)
	defer unlock()

	sess, out, err := e.load(ctx, userID)
	if err != nil {
		e.logger.Error("failed to load session", "user_id", userID, "error", err)
		return []Outbound{text(MsgInternalError)}
	}

	var replies []Outbound
	switch ev := ev.(type) {
	case Command:
		replies, err = e.handleCommand(ctx, userID, sess, ev)
	case ButtonChoice:
		replies, err = e.handleChoice(ctx, userID, sess, ev.Choice)
	case TextMessage:
		replies, err = e.handleText(ctx, sess, ev)
	case MediaMessage:
		replies, err = e.handleMedia(ctx, userID, sess, ev)
	default:
		err = fmt.Errorf("unhandled event type %T", ev)
	}
	if err != nil {
		e.logger.Error("failed to handle event", "user_id", userID, "kind", ev.eventKind(), "error", err)
		replies = append(replies, text(MsgInternalError))
	}
	return append(out, replies...)
}

// State returns the user's conversation state, StateIdle when there is no session.
func (e *Engine) State(ctx context.Context, userID string) (State, error) {
	sess, err := e.store.Get(ctx, userID)
	if errors.Is(err, ErrSessionNotFound) {
		return StateIdle, nil
	}
	if err != nil {
		return "", err
	}
	return sess.State, nil
}

// Close cancels in-flight operations and waits for their goroutines.
func (e *Engine) Close() {
	e.cancel()
	e.wg.Wait()
}

// load fetches the user's session, repairing one left busy by an operation
// that no longer exists in this process. The returned messages describe any
// repair.
func (e *Engine) load(ctx context.Context, userID string) (*Session, []Outbound, error) {
	sess, err := e.store.Get(ctx, userID)
	if errors.Is(err, ErrSessionNotFound) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, err
	}

	if sess.State.Terminal() {
		return nil, nil, e.store.Delete(ctx, userID)
	}
	if !sess.State.Busy() || e.hasOp(userID, sess.OpID) {
		return sess, nil, nil
	}

	e.logger.Warn("recovering stale session", "user_id", userID, "state", sess.State, "op_id", sess.OpID)
	switch sess.State {
	case StatePublishing:
		sess.State = StatePreviewing
		sess.OpID = ""
		if err := e.save(ctx, sess); err != nil {
			return nil, nil, err
		}
		return sess, []Outbound{text(MsgInterruptedPublish)}, nil
	default:
		if err := e.discard(ctx, sess); err != nil {
			return nil, nil, err
		}
		return nil, []Outbound{text(MsgInterruptedDraft)}, nil
	}
}

func (e *Engine) save(ctx context.Context, sess *Session) error {
	sess.UpdatedAt = e.cfg.Now()
	return e.store.Save(ctx, sess)
}

// discard releases the session's media and deletes it.
func (e *Engine) discard(ctx context.Context, sess *Session) error {
	e.releaseMedia(sess)
	return e.store.Delete(ctx, sess.UserID)
}

func (e *Engine) releaseMedia(sess *Session) {
	if sess.Media == nil {
		return
	}
	if err := e.stager.Release(sess.Media); err != nil {
		e.logger.Warn("failed to release media", "user_id", sess.UserID, "media_id", sess.Media.ID, "error", err)
	}
	sess.Media = nil
}

// begin registers a new operation for the user, aborting any previous one.
func (e *Engine) begin(userID string, kind opKind) *operation {
	ctx, cancel := context.WithCancel(e.base)
	op := &operation{id: uuid.New().String(), kind: kind, ctx: ctx, cancel: cancel}

	e.mu.Lock()
	prev := e.ops[userID]
	e.ops[userID] = op
	e.mu.Unlock()

	if prev != nil {
		prev.cancel()
	}
	return op
}

// abort cancels the user's in-flight operation so its result is discarded.
func (e *Engine) abort(userID string) {
	e.mu.Lock()
	op := e.ops[userID]
	delete(e.ops, userID)
	e.mu.Unlock()

	if op != nil {
		e.logger.Info("aborting operation", "user_id", userID, "op", op.kind, "op_id", op.id)
		op.cancel()
	}
}

// finish removes op if it is still the user's current operation and reports
// whether it was.
func (e *Engine) finish(userID string, op *operation) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.ops[userID] != op {
		return false
	}
	delete(e.ops, userID)
	return true
}

func (e *Engine) hasOp(userID, opID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	op := e.ops[userID]
	return op != nil && op.id == opID
}
