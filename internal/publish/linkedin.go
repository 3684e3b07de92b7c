// ABOUTME: LinkedIn REST submitter using the UGC posts and assets APIs
// ABOUTME: Uploads an optional image, then creates the share and builds its feed URL

package publish

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/2389/herald/internal/session"
)

const (
	DefaultLinkedInBaseURL = "https://api.linkedin.com/v2"
	DefaultLocatorBase     = "https://www.linkedin.com/feed/update/"
)

// LinkedInConfig configures the REST submitter.
type LinkedInConfig struct {
	BaseURL string
	// AuthorURN is the member or organization posting. When empty it is
	// resolved from the userinfo endpoint with the session's token.
	AuthorURN   string
	Visibility  string
	LocatorBase string
	Timeout     time.Duration
	HTTPClient  HTTPDoer
}

// LinkedIn posts through the LinkedIn REST API.
type LinkedIn struct {
	cfg    LinkedInConfig
	client HTTPDoer
	logger *slog.Logger

	mu      sync.Mutex
	authors map[string]string // access token -> author urn
}

// NewLinkedIn creates the submitter.
func NewLinkedIn(cfg LinkedInConfig, logger *slog.Logger) *LinkedIn {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultLinkedInBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Visibility == "" {
		cfg.Visibility = "PUBLIC"
	}
	if cfg.LocatorBase == "" {
		cfg.LocatorBase = DefaultLocatorBase
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &LinkedIn{
		cfg:     cfg,
		client:  client,
		logger:  logger.With("component", "linkedin"),
		authors: make(map[string]string),
	}
}

func (l *LinkedIn) Name() string { return "linkedin" }

// Submit creates one share.
func (l *LinkedIn) Submit(ctx context.Context, sess *session.Session, post Post) (string, error) {
	if sess == nil || sess.AccessToken == "" {
		return "", Auth(errors.New("session has no access token"))
	}

	author, err := l.author(ctx, sess)
	if err != nil {
		return "", err
	}

	category := "NONE"
	var mediaItems []ugcMedia
	if len(post.Image) > 0 {
		asset, err := l.uploadImage(ctx, sess, author, post)
		if err != nil {
			return "", err
		}
		category = "IMAGE"
		mediaItems = []ugcMedia{{Status: "READY", Media: asset}}
	}

	body := ugcPost{
		Author:         author,
		LifecycleState: "PUBLISHED",
		SpecificContent: ugcSpecificContent{
			ShareContent: ugcShareContent{
				ShareCommentary:    ugcText{Text: post.Text},
				ShareMediaCategory: category,
				Media:              mediaItems,
			},
		},
		Visibility: ugcVisibility{MemberNetwork: l.cfg.Visibility},
	}

	resp, err := l.doJSON(ctx, sess, http.MethodPost, l.cfg.BaseURL+"/ugcPosts", body)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if !accepted(resp.StatusCode) {
		return "", classifyStatus(resp)
	}

	urn := resp.Header.Get("X-RestLi-Id")
	if urn == "" {
		var created struct {
			ID string `json:"id"`
		}
		// Best effort: a missing id only costs us the locator
		_ = json.NewDecoder(resp.Body).Decode(&created)
		urn = created.ID
	}

	if urn == "" {
		l.logger.Info("share accepted without id", "user_id", post.UserID)
		return "", nil
	}
	return l.cfg.LocatorBase + urn, nil
}

// author returns the configured author or resolves it from userinfo.
func (l *LinkedIn) author(ctx context.Context, sess *session.Session) (string, error) {
	if l.cfg.AuthorURN != "" {
		return l.cfg.AuthorURN, nil
	}

	l.mu.Lock()
	urn, ok := l.authors[sess.AccessToken]
	l.mu.Unlock()
	if ok {
		return urn, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.cfg.BaseURL+"/userinfo", nil)
	if err != nil {
		return "", fmt.Errorf("creating userinfo request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+sess.AccessToken)

	resp, err := l.client.Do(req)
	if err != nil {
		return "", transportError(fmt.Errorf("fetching userinfo: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", classifyStatus(resp)
	}

	var info struct {
		Sub string `json:"sub"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil || info.Sub == "" {
		return "", &Error{Kind: KindUnknown, Err: errors.New("userinfo response has no member id")}
	}

	urn = "urn:li:person:" + info.Sub
	l.mu.Lock()
	l.authors[sess.AccessToken] = urn
	l.mu.Unlock()
	return urn, nil
}

// uploadImage registers an upload and PUTs the image bytes, returning the asset urn.
func (l *LinkedIn) uploadImage(ctx context.Context, sess *session.Session, author string, post Post) (string, error) {
	reg := registerUploadRequest{
		RegisterUploadRequest: registerUpload{
			Recipes: []string{"urn:li:digitalmediaRecipe:feedshare-image"},
			Owner:   author,
			ServiceRelationships: []serviceRelationship{
				{RelationshipType: "OWNER", Identifier: "urn:li:userGeneratedContent"},
			},
		},
	}

	resp, err := l.doJSON(ctx, sess, http.MethodPost, l.cfg.BaseURL+"/assets?action=registerUpload", reg)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if !accepted(resp.StatusCode) {
		return "", classifyStatus(resp)
	}

	var registered registerUploadResponse
	if err := json.NewDecoder(resp.Body).Decode(&registered); err != nil {
		return "", Transient(fmt.Errorf("decoding registerUpload response: %w", err))
	}
	uploadURL := registered.Value.UploadMechanism.HTTPRequest.UploadURL
	if uploadURL == "" || registered.Value.Asset == "" {
		return "", &Error{Kind: KindUnknown, Err: errors.New("registerUpload response missing upload url or asset")}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, bytes.NewReader(post.Image))
	if err != nil {
		return "", fmt.Errorf("creating upload request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+sess.AccessToken)
	if post.Media != nil && post.Media.MimeType != "" {
		req.Header.Set("Content-Type", post.Media.MimeType)
	} else {
		req.Header.Set("Content-Type", "application/octet-stream")
	}

	upResp, err := l.client.Do(req)
	if err != nil {
		return "", transportError(fmt.Errorf("uploading image: %w", err))
	}
	defer upResp.Body.Close()

	if upResp.StatusCode < 200 || upResp.StatusCode > 299 {
		return "", classifyStatus(upResp)
	}

	l.logger.Debug("image uploaded", "asset", registered.Value.Asset, "size", len(post.Image))
	return registered.Value.Asset, nil
}

func (l *LinkedIn) doJSON(ctx context.Context, sess *session.Session, method, url string, body any) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+sess.AccessToken)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Restli-Protocol-Version", "2.0.0")

	resp, err := l.client.Do(req)
	if err != nil {
		return nil, transportError(fmt.Errorf("%s %s: %w", method, url, err))
	}
	return resp, nil
}

// Wire types for the UGC and assets APIs.

type ugcPost struct {
	Author          string             `json:"author"`
	LifecycleState  string             `json:"lifecycleState"`
	SpecificContent ugcSpecificContent `json:"specificContent"`
	Visibility      ugcVisibility      `json:"visibility"`
}

type ugcSpecificContent struct {
	ShareContent ugcShareContent `json:"com.linkedin.ugc.ShareContent"`
}

type ugcShareContent struct {
	ShareCommentary    ugcText    `json:"shareCommentary"`
	ShareMediaCategory string     `json:"shareMediaCategory"`
	Media              []ugcMedia `json:"media,omitempty"`
}

type ugcText struct {
	Text string `json:"text"`
}

type ugcMedia struct {
	Status string `json:"status"`
	Media  string `json:"media"`
}

type ugcVisibility struct {
	MemberNetwork string `json:"com.linkedin.ugc.MemberNetworkVisibility"`
}

type registerUploadRequest struct {
	RegisterUploadRequest registerUpload `json:"registerUploadRequest"`
}

type registerUpload struct {
	Recipes              []string              `json:"recipes"`
	Owner                string                `json:"owner"`
	ServiceRelationships []serviceRelationship `json:"serviceRelationships"`
}

type serviceRelationship struct {
	RelationshipType string `json:"relationshipType"`
	Identifier       string `json:"identifier"`
}

type registerUploadResponse struct {
	Value struct {
		Asset           string `json:"asset"`
		UploadMechanism struct {
			HTTPRequest struct {
				UploadURL string `json:"uploadUrl"`
			} `json:"com.linkedin.digitalmedia.uploading.MediaUploadHttpRequest"`
		} `json:"uploadMechanism"`
	} `json:"value"`
}
