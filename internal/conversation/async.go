// ABOUTME: Background generation, publish, and login operations
// ABOUTME: Completions re-enter under the user's lock and are dropped when stale

package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/2389/herald/internal/generator"
	"github.com/2389/herald/internal/publish"
	"github.com/2389/herald/internal/session"
)

func (e *Engine) startGeneration(ctx context.Context, sess *Session, kind opKind) ([]Outbound, error) {
	op := e.begin(sess.UserID, kind)
	prev := sess.State
	sess.State = StateGenerating
	sess.OpID = op.id
	if err := e.save(ctx, sess); err != nil {
		e.abort(sess.UserID)
		sess.State = prev
		sess.OpID = ""
		return nil, err
	}

	e.logger.Info("generating draft", "user_id", sess.UserID, "op", kind, "op_id", op.id)
	e.wg.Add(1)
	go e.runGeneration(sess.UserID, sess.Topic, op)
	return []Outbound{text(MsgGenerating)}, nil
}

func (e *Engine) runGeneration(userID, topic string, op *operation) {
	defer e.wg.Done()
	defer op.cancel()

	start := e.cfg.Now()
	draft, err := e.gen.Generate(op.ctx, topic, e.cfg.GenerateOptions)
	if err == nil && strings.TrimSpace(draft) == "" {
		err = fmt.Errorf("%w: empty draft", generator.ErrGenerationFailed)
	}
	e.observer.GenerationFinished(err, e.cfg.Now().Sub(start))

	e.complete(userID, op, func(ctx context.Context, sess *Session) ([]Outbound, error) {
		sess.OpID = ""
		if err != nil {
			e.logger.Warn("generation failed", "user_id", userID, "op", op.kind, "error", err)
			if op.kind == opRegenerate {
				sess.State = StatePreviewing
				if err := e.save(ctx, sess); err != nil {
					return nil, err
				}
				return []Outbound{text(MsgRegenerateFailed), preview(sess)}, nil
			}
			if err := e.discard(ctx, sess); err != nil {
				return nil, err
			}
			return []Outbound{text(MsgGenerationFailed)}, nil
		}

		sess.DraftText = draft
		if op.kind == opRegenerate {
			sess.State = StatePreviewing
			if err := e.save(ctx, sess); err != nil {
				return nil, err
			}
			return []Outbound{preview(sess)}, nil
		}
		sess.State = StateAwaitingMediaDecision
		if err := e.save(ctx, sess); err != nil {
			return nil, err
		}
		return []Outbound{text(draft), askMedia()}, nil
	})
}

func (e *Engine) startPublish(ctx context.Context, sess *Session) ([]Outbound, error) {
	op := e.begin(sess.UserID, opPublish)
	sess.State = StatePublishing
	sess.OpID = op.id
	sess.PublishAttempts++
	if err := e.save(ctx, sess); err != nil {
		e.abort(sess.UserID)
		return nil, err
	}

	e.logger.Info("publishing post", "user_id", sess.UserID, "op_id", op.id, "has_media", sess.Media != nil)
	e.wg.Add(1)
	go e.runPublish(sess.clone(), op)
	return []Outbound{text(MsgPublishing)}, nil
}

func (e *Engine) runPublish(snap *Session, op *operation) {
	defer e.wg.Done()
	defer op.cancel()

	userID := snap.UserID
	start := e.cfg.Now()

	auth, loginErr := e.broker.Acquire(op.ctx, userID)
	if loginErr != nil {
		if op.ctx.Err() == nil {
			e.observer.LoginFinished(loginErr)
			e.complete(userID, op, func(ctx context.Context, sess *Session) ([]Outbound, error) {
				return e.loginLost(ctx, sess, loginErr)
			})
		}
		return
	}
	res := e.publisher.Publish(op.ctx, auth, snap.DraftText, snap.Media)
	e.observer.PublishFinished(res, e.cfg.Now().Sub(start))

	e.complete(userID, op, func(ctx context.Context, sess *Session) ([]Outbound, error) {
		e.record(ctx, sess, res)
		if err := e.discard(ctx, sess); err != nil {
			return nil, err
		}

		if res.Success {
			e.logger.Info("post published", "user_id", userID, "locator", res.Locator, "attempts", res.Attempts)
			return []Outbound{published(res.Locator)}, nil
		}

		e.logger.Warn("publish failed",
			"user_id", userID,
			"kind", res.ErrorKind,
			"attempts", res.Attempts,
			"detail", res.ErrorDetail,
		)
		if res.ErrorKind == publish.KindAuth {
			e.broker.Invalidate(userID)
			return []Outbound{text(MsgPublishAuthFailed)}, nil
		}
		return []Outbound{publishFailed(res.ErrorDetail)}, nil
	})
}

// loginLost returns a publishing session to Previewing when the login it
// relied on could not be acquired. Nothing was submitted, so the draft and
// media are kept for the next approve.
func (e *Engine) loginLost(ctx context.Context, sess *Session, err error) ([]Outbound, error) {
	sess.OpID = ""
	sess.State = StatePreviewing
	if err := e.save(ctx, sess); err != nil {
		return nil, err
	}

	msg := MsgLoginFailed
	if errors.Is(err, session.ErrLoginTimeout) {
		msg = MsgLoginTimeout
	}
	e.logger.Warn("login lost before publishing", "user_id", sess.UserID, "error", err)
	return []Outbound{text(msg), preview(sess)}, nil
}

// record writes a ledger entry. Ledger failures are logged, never surfaced.
func (e *Engine) record(ctx context.Context, sess *Session, res publish.Result) {
	if e.ledger == nil {
		return
	}
	rec := &PublishRecord{
		ID:          uuid.New().String(),
		UserID:      sess.UserID,
		Topic:       sess.Topic,
		Text:        sess.DraftText,
		HadMedia:    sess.Media != nil,
		Success:     res.Success,
		Locator:     res.Locator,
		ErrorKind:   string(res.ErrorKind),
		ErrorDetail: res.ErrorDetail,
		Attempts:    res.Attempts,
		CreatedAt:   e.cfg.Now(),
	}
	if err := e.ledger.RecordPublish(ctx, rec); err != nil {
		e.logger.Error("failed to record publish", "user_id", sess.UserID, "error", err)
	}
}

// startLogin runs a background Acquire so the user can log in while the
// session waits in Previewing.
func (e *Engine) startLogin(userID string) []Outbound {
	e.mu.Lock()
	if e.logins[userID] {
		e.mu.Unlock()
		return []Outbound{text(MsgLoginInProgress)}
	}
	e.logins[userID] = true
	e.mu.Unlock()

	e.logger.Info("login required before publishing", "user_id", userID)
	e.wg.Add(1)
	go e.runLogin(userID)
	return []Outbound{text(MsgLoginRequired)}
}

func (e *Engine) runLogin(userID string) {
	defer e.wg.Done()

	_, err := e.broker.Acquire(e.base, userID)
	e.observer.LoginFinished(err)

	e.mu.Lock()
	delete(e.logins, userID)
	e.mu.Unlock()

	if e.base.Err() != nil {
		return
	}

	unlock := e.locks.lock(userID)
	defer unlock()

	switch {
	case err == nil:
		e.logger.Info("login succeeded", "user_id", userID)
		e.notifier.Notify(userID, text(MsgLoginSucceeded))
	case errors.Is(err, session.ErrLoginTimeout):
		e.logger.Warn("login timed out", "user_id", userID)
		e.notifier.Notify(userID, text(MsgLoginTimeout))
	default:
		e.logger.Warn("login failed", "user_id", userID, "error", err)
		e.notifier.Notify(userID, text(MsgLoginFailed))
	}
}

// complete applies an operation's result under the user's lock. Results of
// aborted or superseded operations, and results arriving during shutdown,
// are dropped.
func (e *Engine) complete(userID string, op *operation, apply func(ctx context.Context, sess *Session) ([]Outbound, error)) {
	unlock := e.locks.lock(userID)
	defer unlock()

	if e.base.Err() != nil {
		e.logger.Debug("dropping result during shutdown", "user_id", userID, "op", op.kind)
		return
	}
	if !e.finish(userID, op) {
		e.logger.Info("discarding stale result", "user_id", userID, "op", op.kind, "op_id", op.id)
		return
	}

	ctx, cancel := context.WithTimeout(e.base, completionTimeout)
	defer cancel()

	sess, err := e.store.Get(ctx, userID)
	if errors.Is(err, ErrSessionNotFound) || (err == nil && sess.OpID != op.id) {
		e.logger.Info("discarding result for replaced session", "user_id", userID, "op", op.kind)
		return
	}
	if err != nil {
		e.logger.Error("failed to load session for result", "user_id", userID, "error", err)
		e.notifier.Notify(userID, text(MsgInternalError))
		return
	}

	out, err := apply(ctx, sess)
	if err != nil {
		e.logger.Error("failed to apply result", "user_id", userID, "op", op.kind, "error", err)
		out = append(out, text(MsgInternalError))
	}
	if len(out) > 0 {
		e.notifier.Notify(userID, out...)
	}
}
