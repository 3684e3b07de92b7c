// ABOUTME: Tests for the Gemini generator, prompt building, and static generator
// ABOUTME: Uses a fake content model in place of the Gen AI SDK client

package generator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

// fakeModels implements contentModel.
type fakeModels struct {
	res   *genai.GenerateContentResponse
	err   error
	block chan struct{}

	calls     int
	lastModel string
	lastText  string
}

func (f *fakeModels) GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.calls++
	f.lastModel = model
	if len(contents) > 0 && len(contents[0].Parts) > 0 {
		f.lastText = contents[0].Parts[0].Text
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.res, f.err
}

func textResponse(s string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{
			{Content: genai.NewContentFromText(s, genai.RoleModel)},
		},
	}
}

func TestOptions_WithDefaults(t *testing.T) {
	o := Options{}.WithDefaults()
	assert.Equal(t, DefaultTone, o.Tone)
	assert.Equal(t, DefaultTargetWords, o.TargetWords)
	assert.Equal(t, FormatPlain, o.Format)

	custom := Options{Tone: "playful", TargetWords: 50, Format: FormatMarkdown}.WithDefaults()
	assert.Equal(t, "playful", custom.Tone)
	assert.Equal(t, 50, custom.TargetWords)
	assert.Equal(t, FormatMarkdown, custom.Format)
}

func TestBuildPrompt(t *testing.T) {
	p := BuildPrompt("  quarterly earnings growth ", Options{})
	assert.Contains(t, p, "professional LinkedIn post (max 100 words)")
	assert.Contains(t, p, "'quarterly earnings growth'")
	assert.Contains(t, p, "call to action")
	assert.Contains(t, p, "without Markdown")

	md := BuildPrompt("x", Options{Format: FormatMarkdown, Tone: "casual", TargetWords: 40})
	assert.Contains(t, md, "casual LinkedIn post (max 40 words)")
	assert.NotContains(t, md, "without Markdown")
}

func TestGemini_Generate(t *testing.T) {
	fake := &fakeModels{res: textResponse("**Growth** is here.\n\n#Earnings")}
	g := newGemini(fake, GeminiConfig{}, nil)

	draft, err := g.Generate(context.Background(), "quarterly earnings growth", Options{})
	require.NoError(t, err)

	assert.Equal(t, "Growth is here.\n\n#Earnings", draft)
	assert.Equal(t, 1, fake.calls)
	assert.Equal(t, DefaultModel, fake.lastModel)
	assert.Contains(t, fake.lastText, "quarterly earnings growth")
}

func TestGemini_ConfiguredModel(t *testing.T) {
	fake := &fakeModels{res: textResponse("ok")}
	g := newGemini(fake, GeminiConfig{Model: "gemini-custom"}, nil)

	_, err := g.Generate(context.Background(), "topic here", Options{})
	require.NoError(t, err)
	assert.Equal(t, "gemini-custom", fake.lastModel)
}

func TestGemini_Failures(t *testing.T) {
	tests := []struct {
		name string
		fake *fakeModels
	}{
		{"upstream error", &fakeModels{err: errors.New("quota exceeded")}},
		{"empty text", &fakeModels{res: textResponse("   ")}},
		{"no candidates", &fakeModels{res: &genai.GenerateContentResponse{}}},
		{"blocked prompt", &fakeModels{res: &genai.GenerateContentResponse{
			PromptFeedback: &genai.GenerateContentResponsePromptFeedback{BlockReason: genai.BlockedReasonSafety},
		}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newGemini(tt.fake, GeminiConfig{}, nil)
			draft, err := g.Generate(context.Background(), "topic here", Options{})
			assert.Empty(t, draft)
			assert.ErrorIs(t, err, ErrGenerationFailed)
		})
	}
}

func TestGemini_Timeout(t *testing.T) {
	fake := &fakeModels{block: make(chan struct{})}
	g := newGemini(fake, GeminiConfig{Timeout: 10 * time.Millisecond}, nil)

	_, err := g.Generate(context.Background(), "topic here", Options{})
	assert.ErrorIs(t, err, ErrGenerationFailed)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestStatic_Generate(t *testing.T) {
	draft, err := Static{Text: "*Hello* world"}.Generate(context.Background(), "ignored", Options{})
	require.NoError(t, err)
	assert.Equal(t, "Hello world", draft)

	templated, err := Static{}.Generate(context.Background(), "remote work", Options{})
	require.NoError(t, err)
	assert.Contains(t, templated, "remote work")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = Static{}.Generate(ctx, "x", Options{})
	assert.ErrorIs(t, err, ErrGenerationFailed)
}
