// ABOUTME: Maps Matrix message bodies to conversation events and outbound messages to text
// ABOUTME: Choices are plain keywords since Matrix has no portable buttons

package bridge

import (
	"bytes"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"

	"github.com/2389/herald/internal/conversation"
)

// keywords lists the words accepted for each choice. The first is shown to the user.
var keywords = map[conversation.Choice][]string{
	conversation.ChoicePost:        {"post", "new"},
	conversation.ChoiceAttachMedia: {"attach", "attach media", "image", "yes"},
	conversation.ChoiceSkipMedia:   {"skip", "no"},
	conversation.ChoiceEdit:        {"edit"},
	conversation.ChoiceApprove:     {"approve", "publish"},
	conversation.ChoiceRegenerate:  {"regenerate", "regen"},
	conversation.ChoiceCancel:      {"cancel"},
}

// parseText turns a message body into an event. A body matching one of the
// offered choices becomes a ButtonChoice; anything else is free text.
func parseText(body string, offered []conversation.Choice) conversation.Event {
	trimmed := strings.TrimSpace(body)

	if cmd, ok := parseCommand(trimmed); ok {
		return cmd
	}

	word := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(trimmed, "!")))
	for _, c := range offered {
		if word == string(c) {
			return conversation.ButtonChoice{Choice: c}
		}
		for _, k := range keywords[c] {
			if word == k {
				return conversation.ButtonChoice{Choice: c}
			}
		}
	}
	return conversation.TextMessage{Text: body}
}

func parseCommand(s string) (conversation.Command, bool) {
	if len(s) < 2 || s[0] != '/' {
		return conversation.Command{}, false
	}
	name, args, _ := strings.Cut(s[1:], " ")
	if name == "" || strings.ContainsRune(name, '/') {
		return conversation.Command{}, false
	}
	return conversation.Command{Name: strings.ToLower(name), Args: strings.TrimSpace(args)}, true
}

// renderText returns the message body with a keyword line for its choices.
func renderText(msg conversation.Outbound) string {
	if len(msg.Choices) == 0 {
		return msg.Text
	}
	labels := make([]string, 0, len(msg.Choices))
	for _, c := range msg.Choices {
		labels = append(labels, label(c))
	}
	line := "Reply with: " + strings.Join(labels, " · ")
	if msg.Text == "" {
		return line
	}
	return msg.Text + "\n\n" + line
}

func label(c conversation.Choice) string {
	if k := keywords[c]; len(k) > 0 {
		return k[0]
	}
	return string(c)
}

var markdown = goldmark.New(
	goldmark.WithExtensions(extension.Strikethrough, extension.Linkify),
	goldmark.WithRendererOptions(html.WithHardWraps()),
)

// renderHTML converts a Markdown body for formatted_body. Raw HTML in the
// input is escaped. Returns "" if rendering fails.
func renderHTML(body string) string {
	var buf bytes.Buffer
	if err := markdown.Convert([]byte(body), &buf); err != nil {
		return ""
	}
	return strings.TrimSpace(buf.String())
}
