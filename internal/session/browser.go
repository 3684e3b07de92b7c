// ABOUTME: Interactive browser login flow driven by chromedp
// ABOUTME: Keeps the logged-in browser alive inside the resulting session

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
)

// LinkedIn pages used when none are configured.
const (
	LinkedInLoginURL = "https://www.linkedin.com/login"
	LinkedInFeedURL  = "https://www.linkedin.com/feed"
)

// browserCheckTimeout bounds a single URL probe.
const browserCheckTimeout = 10 * time.Second

// authCookie carries the LinkedIn login; its expiry bounds the session.
const authCookie = "li_at"

// Browser is a running Chrome instance shared by a session.
type Browser struct {
	ctx         context.Context
	cancelTab   context.CancelFunc
	cancelAlloc context.CancelFunc
	once        sync.Once
}

// NewTab opens a new tab in the same browser. Cancel the returned func to close it.
func (b *Browser) NewTab() (context.Context, context.CancelFunc) {
	return chromedp.NewContext(b.ctx)
}

// Alive reports whether the browser is still running.
func (b *Browser) Alive() bool {
	return b.ctx.Err() == nil
}

// Close shuts the browser down. Safe to call more than once.
func (b *Browser) Close() error {
	b.once.Do(func() {
		b.cancelTab()
		b.cancelAlloc()
	})
	return nil
}

// BrowserConfig configures a BrowserFlow.
type BrowserConfig struct {
	LoginURL string
	// SuccessURL is the URL prefix that means the user is logged in.
	SuccessURL string
	// ProfileDir holds one Chrome profile per user so cookies survive restarts.
	ProfileDir string
	Headless   bool
	ExecPath   string
}

// BrowserFlow logs in through a real browser window.
type BrowserFlow struct {
	cfg    BrowserConfig
	logger *slog.Logger
}

// NewBrowserFlow creates the flow.
func NewBrowserFlow(cfg BrowserConfig, logger *slog.Logger) *BrowserFlow {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.LoginURL == "" {
		cfg.LoginURL = LinkedInLoginURL
	}
	if cfg.SuccessURL == "" {
		cfg.SuccessURL = LinkedInFeedURL
	}
	return &BrowserFlow{cfg: cfg, logger: logger.With("component", "browser-login")}
}

// Start launches Chrome on the login page.
func (f *BrowserFlow) Start(ctx context.Context, userID string) (Pending, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", f.cfg.Headless),
	)
	if f.cfg.ProfileDir != "" {
		opts = append(opts, chromedp.UserDataDir(filepath.Join(f.cfg.ProfileDir, profileName(userID))))
	}
	if f.cfg.ExecPath != "" {
		opts = append(opts, chromedp.ExecPath(f.cfg.ExecPath))
	}

	// The browser outlives the login attempt, so it hangs off a fresh context
	actx, cancelAlloc := chromedp.NewExecAllocator(context.Background(), opts...)
	bctx, cancelTab := chromedp.NewContext(actx)
	browser := &Browser{ctx: bctx, cancelTab: cancelTab, cancelAlloc: cancelAlloc}

	navCtx, cancel := context.WithTimeout(bctx, 30*time.Second)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	if err := chromedp.Run(navCtx, chromedp.Navigate(f.cfg.LoginURL)); err != nil {
		_ = browser.Close()
		return nil, fmt.Errorf("opening login page: %w", err)
	}

	f.logger.Info("browser login started", "user_id", userID, "url", f.cfg.LoginURL)
	return &browserPending{flow: f, userID: userID, browser: browser}, nil
}

type browserPending struct {
	flow    *BrowserFlow
	userID  string
	browser *Browser
}

func (p *browserPending) Prompt() string {
	return "A browser window has opened on the herald host. Log in there and I will continue automatically."
}

func (p *browserPending) Check(ctx context.Context) (*Session, error) {
	probeCtx, cancel := context.WithTimeout(p.browser.ctx, browserCheckTimeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	var location string
	if err := chromedp.Run(probeCtx, chromedp.Location(&location)); err != nil {
		if ctx.Err() != nil || errors.Is(err, context.DeadlineExceeded) {
			// Not an answer either way; the broker's deadline decides
			return nil, nil
		}
		return nil, fmt.Errorf("reading browser location: %w", err)
	}

	if !strings.HasPrefix(location, p.flow.cfg.SuccessURL) {
		return nil, nil
	}

	var cookies []*network.Cookie
	err := chromedp.Run(probeCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		cookies, err = network.GetCookies().WithURLs([]string{location}).Do(ctx)
		return err
	}))
	if err != nil {
		p.flow.logger.Warn("failed to read login cookies", "user_id", p.userID, "error", err)
	}
	expiry := cookieExpiry(cookies, authCookie)

	p.flow.logger.Info("browser login detected", "user_id", p.userID, "expiry", expiry)
	return &Session{
		UserID:  p.userID,
		Kind:    KindBrowser,
		Expiry:  expiry,
		Browser: p.browser,
	}, nil
}

// cookieExpiry returns the named cookie's expiry, or zero for session cookies.
func cookieExpiry(cookies []*network.Cookie, name string) time.Time {
	for _, c := range cookies {
		if c.Name != name || c.Session || c.Expires <= 0 {
			continue
		}
		sec := int64(c.Expires)
		nsec := int64((c.Expires - float64(sec)) * float64(time.Second))
		return time.Unix(sec, nsec)
	}
	return time.Time{}
}

func (p *browserPending) Close() error {
	return p.browser.Close()
}

// profileName makes a user id safe as a directory name.
func profileName(userID string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(userID) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		} else {
			b.WriteRune('-')
		}
	}
	name := strings.Trim(b.String(), "-")
	if name == "" {
		return "default"
	}
	return name
}
