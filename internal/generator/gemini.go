// ABOUTME: Gemini-backed Generator using the Google Gen AI SDK
// ABOUTME: Supports the Gemini API (API key) and Vertex AI backends

package generator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/genai"
)

// DefaultModel is used when no model name is configured.
const DefaultModel = "gemini-2.5-flash"

// DefaultTimeout bounds a single generation call.
const DefaultTimeout = 60 * time.Second

// GeminiConfig configures the Gemini generator.
type GeminiConfig struct {
	APIKey   string
	Model    string
	Vertex   bool
	Project  string
	Location string
	Timeout  time.Duration
}

// contentModel is the part of genai.Models the generator needs.
type contentModel interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Gemini generates drafts with a Gemini model.
type Gemini struct {
	models  contentModel
	model   string
	timeout time.Duration
	logger  *slog.Logger
}

// NewGemini creates a client for the configured backend.
func NewGemini(ctx context.Context, cfg GeminiConfig, logger *slog.Logger) (*Gemini, error) {
	cc := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.Vertex {
		cc = &genai.ClientConfig{
			Project:  cfg.Project,
			Location: cfg.Location,
			Backend:  genai.BackendVertexAI,
		}
	}

	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("creating genai client: %w", err)
	}

	return newGemini(client.Models, cfg, logger), nil
}

func newGemini(models contentModel, cfg GeminiConfig, logger *slog.Logger) *Gemini {
	if logger == nil {
		logger = slog.Default()
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Gemini{
		models:  models,
		model:   model,
		timeout: timeout,
		logger:  logger.With("component", "generator", "model", model),
	}
}

// Generate asks the model for one draft and applies the output policy.
func (g *Gemini) Generate(ctx context.Context, topic string, opts Options) (string, error) {
	opts = opts.WithDefaults()

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	temp := float32(0.7)
	cfg := &genai.GenerateContentConfig{
		Temperature: &temp,
		// Rough token budget: a few tokens per word plus headroom
		MaxOutputTokens: int32(opts.TargetWords*4 + 256),
	}
	contents := []*genai.Content{
		genai.NewContentFromText(BuildPrompt(topic, opts), genai.RoleUser),
	}

	start := time.Now()
	res, err := g.models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			g.logger.Warn("generation request failed", "error", err, "elapsed", time.Since(start))
		}
		return "", fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}

	if res.PromptFeedback != nil && res.PromptFeedback.BlockReason != "" {
		return "", fmt.Errorf("%w: prompt blocked (%s)", ErrGenerationFailed, res.PromptFeedback.BlockReason)
	}

	draft := Sanitize(res.Text(), opts.Format)
	if draft == "" {
		return "", fmt.Errorf("%w: empty response", ErrGenerationFailed)
	}

	g.logger.Debug("generated draft", "length", len(draft), "elapsed", time.Since(start))
	return draft, nil
}
