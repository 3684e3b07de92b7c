// ABOUTME: Webhook relay submitter that hands posts to another service over HTTP
// ABOUTME: Sends JSON with base64 image data and reads an optional post URL back

package publish

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/2389/herald/internal/session"
)

// WebhookConfig configures the relay.
type WebhookConfig struct {
	URL        string
	Secret     string
	Timeout    time.Duration
	HTTPClient HTTPDoer
}

// Webhook relays posts to a configured endpoint.
type Webhook struct {
	cfg    WebhookConfig
	client HTTPDoer
	logger *slog.Logger
}

// webhookPayload is the request body.
type webhookPayload struct {
	UserID      string `json:"user_id"`
	Text        string `json:"text"`
	ImageBase64 string `json:"image_base64,omitempty"`
	ImageMime   string `json:"image_mime,omitempty"`
}

// NewWebhook creates the relay submitter.
func NewWebhook(cfg WebhookConfig, logger *slog.Logger) (*Webhook, error) {
	if cfg.URL == "" {
		return nil, errors.New("webhook url is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Webhook{cfg: cfg, client: client, logger: logger.With("component", "webhook")}, nil
}

func (w *Webhook) Name() string { return "webhook" }

// Submit posts the payload once.
func (w *Webhook) Submit(ctx context.Context, sess *session.Session, post Post) (string, error) {
	payload := webhookPayload{UserID: post.UserID, Text: post.Text}
	if len(post.Image) > 0 {
		payload.ImageBase64 = base64.StdEncoding.EncodeToString(post.Image)
		if post.Media != nil {
			payload.ImageMime = post.Media.MimeType
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("encoding webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.cfg.URL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("creating webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case w.cfg.Secret != "":
		req.Header.Set("Authorization", "Bearer "+w.cfg.Secret)
	case sess != nil && sess.AccessToken != "":
		req.Header.Set("Authorization", "Bearer "+sess.AccessToken)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return "", transportError(fmt.Errorf("calling webhook: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", classifyStatus(resp)
	}

	var out struct {
		URL string `json:"url"`
	}
	// Body is optional
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return out.URL, nil
}
