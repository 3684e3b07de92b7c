// ABOUTME: Per-event transition handlers for commands, choices, text, and media
// ABOUTME: Each handler runs under the user's lock with the session already loaded

package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/2389/herald/internal/media"
)

func (e *Engine) handleCommand(ctx context.Context, userID string, sess *Session, cmd Command) ([]Outbound, error) {
	switch strings.ToLower(cmd.Name) {
	case "start":
		if sess != nil {
			return []Outbound{text(MsgInProgress), e.prompt(sess)}, nil
		}
		return []Outbound{welcome()}, nil
	case "post":
		return e.startPost(ctx, userID, sess)
	case "cancel":
		return e.cancelSession(ctx, userID, sess)
	case "status":
		return []Outbound{e.status(userID, sess)}, nil
	case "logout":
		if sess != nil && sess.State == StatePublishing {
			return []Outbound{text(MsgLogoutBusy)}, nil
		}
		e.broker.Invalidate(userID)
		return []Outbound{text(MsgLoggedOut)}, nil
	case "history":
		return e.history(ctx, userID)
	case "help":
		return []Outbound{text(helpText)}, nil
	default:
		return []Outbound{text(MsgUnknownCommand)}, nil
	}
}

func (e *Engine) handleChoice(ctx context.Context, userID string, sess *Session, choice Choice) ([]Outbound, error) {
	switch choice {
	case ChoicePost:
		return e.startPost(ctx, userID, sess)
	case ChoiceCancel:
		return e.cancelSession(ctx, userID, sess)
	}

	if sess == nil {
		return []Outbound{text(MsgIdleHint)}, nil
	}

	switch sess.State {
	case StateGenerating, StatePublishing:
		return []Outbound{text(MsgStillWorking)}, nil

	case StateAwaitingMediaDecision, StateAwaitingMedia:
		switch choice {
		case ChoiceAttachMedia:
			return e.transition(ctx, sess, StateAwaitingMedia)
		case ChoiceSkipMedia:
			return e.transition(ctx, sess, StatePreviewing)
		}

	case StatePreviewing:
		switch choice {
		case ChoiceEdit:
			return e.transition(ctx, sess, StateEditing)
		case ChoiceApprove:
			return e.approve(ctx, userID, sess)
		case ChoiceRegenerate:
			return e.startGeneration(ctx, sess, opRegenerate)
		case ChoiceAttachMedia:
			return e.transition(ctx, sess, StateAwaitingMedia)
		}
	}

	return []Outbound{text(MsgChooseOption), e.prompt(sess)}, nil
}

func (e *Engine) handleText(ctx context.Context, sess *Session, msg TextMessage) ([]Outbound, error) {
	if sess == nil {
		return []Outbound{text(MsgIdleHint)}, nil
	}

	switch sess.State {
	case StateAwaitingTopic:
		topic := strings.TrimSpace(msg.Text)
		if utf8.RuneCountInString(topic) < e.cfg.MinTopicLength {
			return []Outbound{text(fmt.Sprintf(MsgTopicTooShort, e.cfg.MinTopicLength))}, nil
		}
		sess.Topic = topic
		return e.startGeneration(ctx, sess, opGenerate)

	case StateEditing:
		if strings.TrimSpace(msg.Text) == "" {
			return []Outbound{text(MsgEditEmpty)}, nil
		}
		sess.DraftText = msg.Text
		return e.transition(ctx, sess, StatePreviewing)

	case StateGenerating, StatePublishing:
		return []Outbound{text(MsgStillWorking)}, nil

	default:
		return []Outbound{text(MsgChooseOption), e.prompt(sess)}, nil
	}
}

func (e *Engine) handleMedia(ctx context.Context, userID string, sess *Session, msg MediaMessage) ([]Outbound, error) {
	if sess == nil || (sess.State != StateAwaitingMedia && sess.State != StateAwaitingMediaDecision) {
		out := []Outbound{text(MsgUnexpectedMedia)}
		if sess != nil {
			out = append(out, e.prompt(sess))
		}
		return out, nil
	}

	staged, err := e.stager.Stage(userID, msg.Data)
	if errors.Is(err, media.ErrInvalidMedia) {
		e.logger.Info("rejected media", "user_id", userID, "filename", msg.Filename, "error", err)
		if sess.State != StateAwaitingMedia {
			sess.State = StateAwaitingMedia
			if err := e.save(ctx, sess); err != nil {
				return nil, err
			}
		}
		return []Outbound{text(MsgInvalidMedia)}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("staging media: %w", err)
	}

	// Staging replaced the user's previous file, if any.
	sess.Media = staged
	out, err := e.transition(ctx, sess, StatePreviewing)
	if err != nil {
		_ = e.stager.Release(staged)
		return nil, err
	}
	return out, nil
}

// transition moves sess to state, persists it, and returns that state's prompt.
func (e *Engine) transition(ctx context.Context, sess *Session, state State) ([]Outbound, error) {
	from := sess.State
	sess.State = state
	if err := e.save(ctx, sess); err != nil {
		return nil, err
	}
	e.logger.Debug("state changed", "user_id", sess.UserID, "from", from, "to", state)
	return []Outbound{e.prompt(sess)}, nil
}

// prompt is what the user is asked in the session's current state.
func (e *Engine) prompt(sess *Session) Outbound {
	switch sess.State {
	case StateAwaitingTopic:
		return text(MsgAskTopic)
	case StateAwaitingMediaDecision:
		return askMedia()
	case StateAwaitingMedia:
		return askImage()
	case StatePreviewing:
		return preview(sess)
	case StateEditing:
		return text(MsgAskEdit)
	case StateGenerating, StatePublishing:
		return text(MsgStillWorking)
	default:
		return text(MsgIdleHint)
	}
}

// startPost begins a fresh session, replacing any unfinished one. A publish
// in flight is never interrupted.
func (e *Engine) startPost(ctx context.Context, userID string, sess *Session) ([]Outbound, error) {
	if sess != nil {
		if sess.State == StatePublishing {
			return []Outbound{text(MsgInProgress)}, nil
		}
		e.abort(userID)
		if err := e.discard(ctx, sess); err != nil {
			return nil, err
		}
	}

	now := e.cfg.Now()
	fresh := &Session{
		UserID:    userID,
		State:     StateAwaitingTopic,
		CreatedAt: now,
	}
	if err := e.save(ctx, fresh); err != nil {
		return nil, err
	}
	e.logger.Info("conversation started", "user_id", userID)
	return []Outbound{text(MsgAskTopic)}, nil
}

func (e *Engine) cancelSession(ctx context.Context, userID string, sess *Session) ([]Outbound, error) {
	if sess == nil {
		return []Outbound{text(MsgNothingToCancel)}, nil
	}

	e.abort(userID)
	if err := e.discard(ctx, sess); err != nil {
		return nil, err
	}
	e.logger.Info("conversation cancelled", "user_id", userID, "state", sess.State)
	return []Outbound{text(MsgCancelled)}, nil
}

func (e *Engine) approve(ctx context.Context, userID string, sess *Session) ([]Outbound, error) {
	if strings.TrimSpace(sess.DraftText) == "" {
		return []Outbound{text(MsgDraftEmpty), e.prompt(sess)}, nil
	}
	if !e.broker.IsActive(userID) {
		return e.startLogin(userID), nil
	}
	return e.startPublish(ctx, sess)
}

func (e *Engine) status(userID string, sess *Session) Outbound {
	state := StateIdle
	if sess != nil {
		state = sess.State
	}
	login := "no"
	if e.broker.IsActive(userID) {
		login = "yes"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "State: %s\nLogged in: %s", state, login)
	if sess != nil && sess.Topic != "" {
		fmt.Fprintf(&b, "\nTopic: %s", truncate(sess.Topic, 80))
	}
	if sess != nil && sess.Media != nil {
		b.WriteString("\nImage: attached")
	}
	return text(b.String())
}

func (e *Engine) history(ctx context.Context, userID string) ([]Outbound, error) {
	if e.ledger == nil {
		return []Outbound{text(MsgNoHistory)}, nil
	}
	recs, err := e.ledger.RecentPublishes(ctx, userID, e.cfg.HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("reading history: %w", err)
	}
	if len(recs) == 0 {
		return []Outbound{text(MsgNoHistory)}, nil
	}

	var b strings.Builder
	b.WriteString("Recent posts:")
	for _, r := range recs {
		mark, detail := "✅", r.Locator
		if !r.Success {
			mark, detail = "❌", r.ErrorKind
		}
		fmt.Fprintf(&b, "\n%s %s · %s", mark, r.CreatedAt.Format("Jan 2 15:04"), truncate(r.Topic, 60))
		if detail != "" {
			fmt.Fprintf(&b, " · %s", detail)
		}
	}
	return []Outbound{text(b.String())}, nil
}
