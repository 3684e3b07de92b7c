// ABOUTME: Generator contract, generation options, and prompt construction
// ABOUTME: Defines ErrGenerationFailed which wraps every upstream failure

package generator

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrGenerationFailed wraps every failure to produce a draft.
var ErrGenerationFailed = errors.New("generation failed")

// OutputFormat selects the sanitizing policy applied to a draft.
type OutputFormat string

const (
	FormatPlain    OutputFormat = "plain"
	FormatMarkdown OutputFormat = "markdown"
)

const (
	DefaultTone        = "professional"
	DefaultTargetWords = 100
)

// Options tune a single generation.
type Options struct {
	Tone        string
	TargetWords int
	Format      OutputFormat
}

// WithDefaults fills zero fields.
func (o Options) WithDefaults() Options {
	if o.Tone == "" {
		o.Tone = DefaultTone
	}
	if o.TargetWords <= 0 {
		o.TargetWords = DefaultTargetWords
	}
	if o.Format == "" {
		o.Format = FormatPlain
	}
	return o
}

// Generator produces a draft for a topic.
type Generator interface {
	Generate(ctx context.Context, topic string, opts Options) (string, error)
}

// BuildPrompt renders the instruction sent to the model.
func BuildPrompt(topic string, opts Options) string {
	opts = opts.WithDefaults()

	var b strings.Builder
	fmt.Fprintf(&b, "Write a short, %s LinkedIn post (max %d words) about: '%s', with a call to action.",
		opts.Tone, opts.TargetWords, strings.TrimSpace(topic))
	if opts.Format == FormatPlain {
		b.WriteString(" Reply with the post text only, in plain text without Markdown formatting.")
	}
	return b.String()
}

// Static always returns the same draft. Used for dry runs.
type Static struct {
	Text string
}

// Generate returns the configured text, or a templated draft when Text is empty.
func (s Static) Generate(ctx context.Context, topic string, opts Options) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %w", ErrGenerationFailed, err)
	}
	if s.Text != "" {
		return Sanitize(s.Text, opts.WithDefaults().Format), nil
	}
	return fmt.Sprintf("Thoughts on %s. What is your take? Share it below.", strings.TrimSpace(topic)), nil
}
