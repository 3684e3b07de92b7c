// ABOUTME: Publish client that runs a Submitter under the shared retry policy
// ABOUTME: Produces a PublishResult with success, locator, error kind, and attempt count

package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/2389/herald/internal/media"
	"github.com/2389/herald/internal/retry"
	"github.com/2389/herald/internal/session"
)

// Post is the content of one submission.
type Post struct {
	UserID string
	Text   string
	// Media is nil for text-only posts. Image holds its bytes.
	Media *media.StagedMedia
	Image []byte
}

// Submitter performs a single submission attempt on a fresh surface.
type Submitter interface {
	Name() string
	Submit(ctx context.Context, sess *session.Session, post Post) (locator string, err error)
}

// MediaReader loads staged media bytes.
type MediaReader interface {
	Open(m *media.StagedMedia) ([]byte, error)
}

// Result is the outcome of Publish.
type Result struct {
	Success     bool
	Locator     string
	ErrorKind   ErrorKind
	ErrorDetail string
	Attempts    int
}

// Client publishes posts.
type Client struct {
	submitter Submitter
	media     MediaReader
	policy    retry.Policy
	logger    *slog.Logger
}

// NewClient creates a client. A zero policy uses retry.Default().
func NewClient(submitter Submitter, mediaReader MediaReader, policy retry.Policy, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if policy.MaxAttempts == 0 && policy.Backoff == nil {
		policy = retry.Default()
	}
	policy.Retryable = func(err error) bool {
		return KindOf(err) == KindTransient
	}
	return &Client{
		submitter: submitter,
		media:     mediaReader,
		policy:    policy,
		logger:    logger.With("component", "publish", "backend", submitter.Name()),
	}
}

// Publish submits text and optional media, retrying transient failures.
func (c *Client) Publish(ctx context.Context, sess *session.Session, text string, m *media.StagedMedia) Result {
	if sess == nil {
		return Result{ErrorKind: KindAuth, ErrorDetail: "no authenticated session"}
	}

	post := Post{UserID: sess.UserID, Text: text, Media: m}
	if m != nil {
		if c.media == nil {
			return Result{ErrorKind: KindUnknown, ErrorDetail: "media attached but no media reader configured"}
		}
		data, err := c.media.Open(m)
		if err != nil {
			return Result{ErrorKind: KindUnknown, ErrorDetail: err.Error()}
		}
		post.Image = data
	}

	start := time.Now()
	var locator string
	var lastErr error
	attempts, err := c.policy.Do(ctx, func(ctx context.Context, attempt int) error {
		loc, err := c.submitter.Submit(ctx, sess, post)
		if err != nil {
			lastErr = err
			c.logger.Warn("publish attempt failed",
				"user_id", sess.UserID,
				"attempt", attempt,
				"kind", KindOf(err),
				"error", err,
			)
			return err
		}
		locator = loc
		return nil
	})

	if err == nil {
		c.logger.Info("post published",
			"user_id", sess.UserID,
			"attempts", attempts,
			"locator", locator,
			"elapsed", time.Since(start),
		)
		return Result{Success: true, Locator: locator, Attempts: attempts}
	}

	kind := KindOf(err)
	if ctx.Err() != nil {
		kind = KindCanceled
	}
	detail := err.Error()
	if errors.Is(err, retry.ErrExhausted) && lastErr != nil {
		detail = fmt.Sprintf("gave up after %d attempts: %v", attempts, lastErr)
	}

	c.logger.Error("publish failed", "user_id", sess.UserID, "attempts", attempts, "kind", kind, "error", detail)
	return Result{
		ErrorKind:   kind,
		ErrorDetail: detail,
		Attempts:    attempts,
	}
}
