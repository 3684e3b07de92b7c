// ABOUTME: Browser submitter that posts through a logged-in chromedp session
// ABOUTME: Each attempt opens a new tab so a broken page never leaks into a retry

package publish

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/chromedp/chromedp"

	"github.com/2389/herald/internal/session"
)

// BrowserSelectors locate the composer on the feed page.
type BrowserSelectors struct {
	StartPost string
	Editor    string
	FileInput string
	Submit    string
}

// DefaultBrowserSelectors match the LinkedIn feed composer.
var DefaultBrowserSelectors = BrowserSelectors{
	StartPost: "button.share-box-feed-entry__trigger",
	Editor:    "div.ql-editor",
	FileInput: "input[type=file]",
	Submit:    "button.share-actions__primary-action",
}

// BrowserConfig configures the browser submitter.
type BrowserConfig struct {
	FeedURL   string
	Selectors BrowserSelectors
	Timeout   time.Duration
}

// Browser posts through the session's browser.
type Browser struct {
	cfg    BrowserConfig
	logger *slog.Logger
}

// NewBrowser creates the submitter.
func NewBrowser(cfg BrowserConfig, logger *slog.Logger) *Browser {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.FeedURL == "" {
		cfg.FeedURL = session.LinkedInFeedURL
	}
	if cfg.Selectors == (BrowserSelectors{}) {
		cfg.Selectors = DefaultBrowserSelectors
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	return &Browser{cfg: cfg, logger: logger.With("component", "browser-publish")}
}

func (b *Browser) Name() string { return "browser" }

// Submit fills and submits the composer in a new tab.
func (b *Browser) Submit(ctx context.Context, sess *session.Session, post Post) (string, error) {
	if sess == nil || sess.Browser == nil {
		return "", Auth(errors.New("session has no browser"))
	}

	tab, closeTab := sess.Browser.NewTab()
	defer closeTab()

	tctx, cancel := context.WithTimeout(tab, b.cfg.Timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	sel := b.cfg.Selectors

	var location string
	if err := chromedp.Run(tctx,
		chromedp.Navigate(b.cfg.FeedURL),
		chromedp.Location(&location),
	); err != nil {
		return "", b.classify(ctx, sess, fmt.Errorf("opening feed: %w", err))
	}
	if strings.Contains(location, "/login") || strings.Contains(location, "authwall") {
		return "", Auth(fmt.Errorf("redirected to %s", location))
	}

	actions := []chromedp.Action{
		chromedp.WaitVisible(sel.StartPost, chromedp.ByQuery),
		chromedp.Click(sel.StartPost, chromedp.ByQuery),
		chromedp.WaitVisible(sel.Editor, chromedp.ByQuery),
		chromedp.SendKeys(sel.Editor, post.Text, chromedp.ByQuery),
	}
	if post.Media != nil {
		actions = append(actions,
			chromedp.SetUploadFiles(sel.FileInput, []string{post.Media.Path}, chromedp.ByQuery),
		)
	}
	actions = append(actions,
		chromedp.WaitEnabled(sel.Submit, chromedp.ByQuery),
		chromedp.Click(sel.Submit, chromedp.ByQuery),
		chromedp.WaitNotPresent(sel.Editor, chromedp.ByQuery),
	)

	if err := chromedp.Run(tctx, actions...); err != nil {
		return "", b.classify(ctx, sess, fmt.Errorf("submitting composer: %w", err))
	}

	b.logger.Info("post submitted through browser", "user_id", post.UserID)
	// The feed does not expose the new post's URL
	return "", nil
}

// classify maps chromedp failures. A dead browser means the session is gone;
// anything else on the page is treated as transient.
func (b *Browser) classify(ctx context.Context, sess *session.Session, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if !sess.Browser.Alive() {
		return Auth(fmt.Errorf("browser closed: %w", err))
	}
	return Transient(err)
}
