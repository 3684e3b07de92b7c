// ABOUTME: Builds herald's components from configuration and runs them together
// ABOUTME: Selects the storage, generator, login flow, and publish backends

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/2389/herald/internal/bridge"
	"github.com/2389/herald/internal/config"
	"github.com/2389/herald/internal/conversation"
	"github.com/2389/herald/internal/generator"
	"github.com/2389/herald/internal/media"
	"github.com/2389/herald/internal/metrics"
	"github.com/2389/herald/internal/publish"
	"github.com/2389/herald/internal/retry"
	"github.com/2389/herald/internal/server"
	"github.com/2389/herald/internal/session"
	"github.com/2389/herald/internal/store"
	"github.com/2389/herald/internal/store/boltstore"
	"github.com/2389/herald/internal/store/redisstore"
)

// app holds every long-lived component of a running bot.
type app struct {
	logger *slog.Logger

	store       store.Store // nil for the memory backend
	notes       *conversation.Broadcaster
	broker      *session.Broker
	engine      *conversation.Engine
	bridge      *bridge.Bridge
	server      *server.Server
	matrixLogin func(ctx context.Context) error
}

// storage is what the engine and broker persist through.
type storage struct {
	sessions conversation.SessionStore
	ledger   conversation.Ledger
	tokens   session.TokenStore
	durable  store.Store
}

func openStorage(ctx context.Context, cfg config.StorageConfig, logger *slog.Logger) (*storage, error) {
	if cfg.Backend == "memory" {
		mem := conversation.NewMemoryStore()
		logger.Warn("using in-memory storage; sessions, logins, and history are lost on restart")
		return &storage{sessions: mem, ledger: mem}, nil
	}

	sealer, err := store.NewSealer(cfg.Secret)
	if err != nil {
		return nil, fmt.Errorf("creating token sealer: %w", err)
	}

	var s store.Store
	switch cfg.Backend {
	case "sqlite":
		sq, err := store.NewSQLiteStore(cfg.Path, sealer)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite store: %w", err)
		}
		s = sq
	case "bolt":
		bs, err := boltstore.Open(cfg.Path, sealer)
		if err != nil {
			return nil, fmt.Errorf("opening bolt store: %w", err)
		}
		s = bs
	case "redis":
		rs, err := redisstore.New(ctx, redisstore.Options{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			Prefix:     cfg.Redis.Prefix,
			SessionTTL: cfg.Redis.SessionTTL,
		}, sealer)
		if err != nil {
			return nil, fmt.Errorf("opening redis store: %w", err)
		}
		s = rs
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}

	return &storage{sessions: s, ledger: s, tokens: s, durable: s}, nil
}

func newGenerator(ctx context.Context, cfg config.GeneratorConfig, logger *slog.Logger) (conversation.Generator, error) {
	if cfg.Backend == "static" {
		return generator.Static{Text: cfg.StaticText}, nil
	}
	g, err := generator.NewGemini(ctx, generator.GeminiConfig{
		APIKey:   cfg.APIKey,
		Model:    cfg.Model,
		Vertex:   cfg.Vertex,
		Project:  cfg.Project,
		Location: cfg.Location,
		Timeout:  cfg.Timeout,
	}, logger)
	if err != nil {
		return nil, err
	}
	return g, nil
}

// newLoginFlow returns the configured flow. The OAuth flow is also returned
// on its own so the HTTP callback can complete it.
func newLoginFlow(cfg config.LoginConfig, dataDir string, logger *slog.Logger) (session.LoginFlow, *session.OAuthFlow, error) {
	switch cfg.Flow {
	case "static":
		return session.StaticFlow{Token: cfg.AccessToken}, nil, nil
	case "browser":
		profileDir := cfg.Browser.ProfileDir
		if profileDir == "" {
			profileDir = filepath.Join(dataDir, "browser")
		}
		return session.NewBrowserFlow(session.BrowserConfig{
			LoginURL:   cfg.Browser.LoginURL,
			SuccessURL: cfg.Browser.SuccessURL,
			ProfileDir: profileDir,
			Headless:   cfg.Browser.Headless,
			ExecPath:   cfg.Browser.ExecPath,
		}, logger), nil, nil
	default:
		flow, err := session.NewOAuthFlow(session.OAuthConfig{
			ClientID:     cfg.OAuth.ClientID,
			ClientSecret: cfg.OAuth.ClientSecret,
			RedirectURL:  cfg.OAuth.RedirectURL,
			Scopes:       cfg.OAuth.Scopes,
			StateSecret:  []byte(cfg.OAuth.StateSecret),
			StateTTL:     cfg.Timeout,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		return flow, flow, nil
	}
}

func newSubmitter(cfg config.PublishConfig, logger *slog.Logger) (publish.Submitter, error) {
	switch cfg.Backend {
	case "webhook":
		w, err := publish.NewWebhook(publish.WebhookConfig{
			URL:     cfg.Webhook.URL,
			Secret:  cfg.Webhook.Secret,
			Timeout: cfg.Timeout,
		}, logger)
		if err != nil {
			return nil, err
		}
		return w, nil
	case "browser":
		return publish.NewBrowser(publish.BrowserConfig{
			FeedURL: cfg.Browser.FeedURL,
			Timeout: cfg.Timeout,
		}, logger), nil
	default:
		return publish.NewLinkedIn(publish.LinkedInConfig{
			BaseURL:    cfg.LinkedIn.BaseURL,
			AuthorURN:  cfg.LinkedIn.AuthorURN,
			Visibility: cfg.LinkedIn.Visibility,
			Timeout:    cfg.Timeout,
		}, logger), nil
	}
}

// build wires every component. On error, anything already opened is closed.
func build(ctx context.Context, cfg *config.Config, dataDir string, logger *slog.Logger) (a *app, err error) {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	a = &app{logger: logger}
	defer func() {
		if err != nil {
			a.close()
			a = nil
		}
	}()

	st, err := openStorage(ctx, cfg.Storage, logger)
	if err != nil {
		return a, err
	}
	a.store = st.durable

	mediaDir := cfg.Bot.MediaDir
	if mediaDir == "" {
		mediaDir = filepath.Join(dataDir, "media")
	}
	stager, err := media.NewStager(mediaDir, cfg.Bot.MediaMaxBytes, logger)
	if err != nil {
		return a, fmt.Errorf("creating media stager: %w", err)
	}
	// Durable sessions may still reference staged files from before a restart.
	if st.durable == nil {
		if n, err := stager.Sweep(); err != nil {
			logger.Warn("failed to sweep staged media", "error", err)
		} else if n > 0 {
			logger.Info("removed leftover staged media", "count", n)
		}
	}

	gen, err := newGenerator(ctx, cfg.Generator, logger)
	if err != nil {
		return a, fmt.Errorf("creating generator: %w", err)
	}

	flow, oauthFlow, err := newLoginFlow(cfg.Login, dataDir, logger)
	if err != nil {
		return a, fmt.Errorf("creating login flow: %w", err)
	}

	a.notes = conversation.NewBroadcaster(logger)
	notes := a.notes
	a.broker = session.NewBroker(flow, session.BrokerConfig{
		LoginTimeout: cfg.Login.Timeout,
		PollInterval: cfg.Login.PollInterval,
		OnPrompt: func(userID, prompt string) {
			notes.Notify(userID, conversation.Outbound{Text: prompt})
		},
		Tokens: st.tokens,
	}, logger)

	submitter, err := newSubmitter(cfg.Publish, logger)
	if err != nil {
		return a, fmt.Errorf("creating publisher: %w", err)
	}
	publisher := publish.NewClient(submitter, stager, retry.Policy{
		MaxAttempts: cfg.Publish.MaxAttempts,
		Backoff:     retry.Linear(cfg.Publish.BaseDelay),
	}, logger)

	var observer conversation.Observer
	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New()
		observer = m
	}

	a.engine, err = conversation.New(conversation.Config{
		AuthorizedUser: cfg.Bot.AuthorizedUser,
		MinTopicLength: cfg.Bot.MinTopicLength,
		GenerateOptions: generator.Options{
			Tone:        cfg.Generator.Tone,
			TargetWords: cfg.Generator.TargetWords,
			Format:      generator.OutputFormat(cfg.Generator.Format),
		},
	}, conversation.Deps{
		Store:     st.sessions,
		Generator: gen,
		Stager:    stager,
		Broker:    a.broker,
		Publisher: publisher,
		Ledger:    st.ledger,
		Notifier:  a.notes,
		Observer:  observer,
	}, logger)
	if err != nil {
		return a, fmt.Errorf("creating conversation engine: %w", err)
	}

	a.bridge, err = bridge.New(bridge.Options{
		Matrix:         cfg.Matrix,
		AuthorizedUser: cfg.Bot.AuthorizedUser,
		DataDir:        dataDir,
		MaxDownload:    cfg.Bot.MediaMaxBytes,
	}, bridge.Deps{
		Handler: a.engine,
		Notes:   a.notes,
		Media:   stager,
	}, logger)
	if err != nil {
		return a, err
	}
	a.matrixLogin = a.bridge.Login

	opts := server.Options{
		Server:    cfg.Server,
		Tailscale: cfg.Tailscale,
		Metrics:   cfg.Metrics,
		Ready:     a.bridge.Ready,
	}
	if oauthFlow != nil {
		opts.OAuth = oauthFlow
	}
	if m != nil {
		opts.MetricsHandler = m.Handler()
	}
	a.server = server.New(opts, logger)

	return a, nil
}

// run logs in to Matrix, then runs the bridge and the HTTP server until ctx
// is canceled or either fails.
func (a *app) run(ctx context.Context) error {
	defer a.close()

	if err := a.matrixLogin(ctx); err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.server.Run(gctx) })
	g.Go(func() error { return a.bridge.Run(gctx) })

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// close stops components in dependency order: the engine first so no async
// work outlives the broker and store it uses.
func (a *app) close() {
	if a.engine != nil {
		a.engine.Close()
	}
	if a.broker != nil {
		if err := a.broker.Close(); err != nil {
			a.logger.Warn("failed to close session broker", "error", err)
		}
	}
	if a.notes != nil {
		a.notes.Close()
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Warn("failed to close store", "error", err)
		}
	}
}
