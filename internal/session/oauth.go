// ABOUTME: OAuth2 authorization-code login flow for token-based publishing
// ABOUTME: The HTTP callback hands the returned code to Complete, which Check then picks up

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/oauth2"
)

// LinkedIn OAuth endpoints, used when none are configured.
const (
	LinkedInAuthURL  = "https://www.linkedin.com/oauth/v2/authorization"
	LinkedInTokenURL = "https://www.linkedin.com/oauth/v2/accessToken"
)

// DefaultScopes allow reading the member id and posting on their behalf.
var DefaultScopes = []string{"openid", "profile", "w_member_social"}

// ErrUnknownAttempt is returned by Complete when no login is waiting for the state.
var ErrUnknownAttempt = errors.New("no login waiting for this state")

// OAuthConfig configures an OAuthFlow.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	AuthURL      string
	TokenURL     string
	Scopes       []string

	// StateSecret signs the state parameter.
	StateSecret []byte
	// StateTTL bounds how long an authorization link stays valid.
	StateTTL time.Duration

	// HTTPClient is used for the code exchange. Defaults to http.DefaultClient.
	HTTPClient *http.Client
}

// OAuthFlow runs the authorization-code flow.
type OAuthFlow struct {
	conf   *oauth2.Config
	signer *stateSigner
	ttl    time.Duration
	client *http.Client
	logger *slog.Logger

	mu      sync.Mutex
	pending map[string]*oauthPending // by user id
}

// NewOAuthFlow creates the flow. StateSecret is required.
func NewOAuthFlow(cfg OAuthConfig, logger *slog.Logger) (*OAuthFlow, error) {
	if cfg.ClientID == "" {
		return nil, errors.New("oauth client id is required")
	}
	if len(cfg.StateSecret) == 0 {
		return nil, errors.New("oauth state secret is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.AuthURL == "" {
		cfg.AuthURL = LinkedInAuthURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = LinkedInTokenURL
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = DefaultScopes
	}
	if cfg.StateTTL <= 0 {
		cfg.StateTTL = DefaultLoginTimeout
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = http.DefaultClient
	}

	return &OAuthFlow{
		conf: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:   cfg.AuthURL,
				TokenURL:  cfg.TokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		signer:  &stateSigner{secret: cfg.StateSecret, now: time.Now},
		ttl:     cfg.StateTTL,
		client:  cfg.HTTPClient,
		logger:  logger.With("component", "oauth"),
		pending: make(map[string]*oauthPending),
	}, nil
}

// Start issues a fresh authorization link for the user. Any older link for
// the same user stops being accepted.
func (f *OAuthFlow) Start(ctx context.Context, userID string) (Pending, error) {
	attemptID := uuid.New().String()
	state, err := f.signer.Sign(userID, attemptID, f.ttl)
	if err != nil {
		return nil, fmt.Errorf("signing oauth state: %w", err)
	}

	p := &oauthPending{
		flow:      f,
		userID:    userID,
		attemptID: attemptID,
		url:       f.conf.AuthCodeURL(state),
	}

	f.mu.Lock()
	f.pending[userID] = p
	f.mu.Unlock()

	return p, nil
}

// Complete finishes the attempt named by state by exchanging code for a token.
func (f *OAuthFlow) Complete(ctx context.Context, state, code string) error {
	claims, err := f.signer.Verify(state)
	if err != nil {
		return err
	}

	f.mu.Lock()
	p, ok := f.pending[claims.UserID]
	f.mu.Unlock()
	if !ok || p.attemptID != claims.AttemptID {
		return ErrUnknownAttempt
	}

	if code == "" {
		p.resolve(nil, errors.New("authorization was denied"))
		return fmt.Errorf("%w: empty authorization code", ErrLoginFailed)
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, f.client)
	tok, err := f.conf.Exchange(ctx, code)
	if err != nil {
		p.resolve(nil, fmt.Errorf("exchanging code: %w", err))
		return fmt.Errorf("exchanging code: %w", err)
	}

	f.logger.Info("authorization code exchanged", "user_id", claims.UserID)
	p.resolve(&Session{
		UserID:       claims.UserID,
		Kind:         KindOAuth,
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		TokenType:    tok.Type(),
		Expiry:       tok.Expiry,
	}, nil)
	return nil
}

// Deny fails the attempt named by state, for callbacks carrying an error.
func (f *OAuthFlow) Deny(state, reason string) error {
	claims, err := f.signer.Verify(state)
	if err != nil {
		return err
	}

	f.mu.Lock()
	p, ok := f.pending[claims.UserID]
	f.mu.Unlock()
	if !ok || p.attemptID != claims.AttemptID {
		return ErrUnknownAttempt
	}

	p.resolve(nil, fmt.Errorf("authorization denied: %s", reason))
	return nil
}

func (f *OAuthFlow) forget(p *oauthPending) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if cur, ok := f.pending[p.userID]; ok && cur == p {
		delete(f.pending, p.userID)
	}
}

// oauthPending waits for the callback.
type oauthPending struct {
	flow      *OAuthFlow
	userID    string
	attemptID string
	url       string

	mu   sync.Mutex
	done bool
	sess *Session
	err  error
}

func (p *oauthPending) Prompt() string {
	return "Open this link to authorize posting:\n" + p.url
}

// URL returns the authorization link.
func (p *oauthPending) URL() string {
	return p.url
}

func (p *oauthPending) resolve(sess *Session, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.done {
		return
	}
	p.done = true
	p.sess = sess
	p.err = err
}

func (p *oauthPending) Check(ctx context.Context) (*Session, error) {
	p.mu.Lock()
	done, sess, err := p.done, p.sess, p.err
	p.mu.Unlock()

	if !done {
		return nil, nil
	}
	p.flow.forget(p)
	return sess, err
}

func (p *oauthPending) Close() error {
	p.flow.forget(p)
	return nil
}
