// ABOUTME: Output policy for generated drafts
// ABOUTME: Strips Markdown syntax with a goldmark AST walk for plain-text targets

package generator

import (
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// Sanitize applies the output policy for format to a raw model response.
func Sanitize(raw string, format OutputFormat) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || format == FormatMarkdown {
		return trimmed
	}
	return plainText([]byte(trimmed))
}

var markdown = goldmark.New()

// plainText renders the readable text of a Markdown document: blocks are
// separated by a blank line, list items become bullet lines, and inline
// markup is dropped while its text is kept.
func plainText(src []byte) string {
	doc := markdown.Parser().Parse(text.NewReader(src))

	var blocks []string
	for n := doc.FirstChild(); n != nil; n = n.NextSibling() {
		if s := renderBlock(n, src); s != "" {
			blocks = append(blocks, s)
		}
	}
	return strings.Join(blocks, "\n\n")
}

func renderBlock(n ast.Node, src []byte) string {
	switch n := n.(type) {
	case *ast.List:
		var lines []string
		index := n.Start
		for item := n.FirstChild(); item != nil; item = item.NextSibling() {
			marker := "• "
			if n.IsOrdered() {
				marker = fmt.Sprintf("%d. ", index)
				index++
			}
			var parts []string
			for c := item.FirstChild(); c != nil; c = c.NextSibling() {
				if s := renderBlock(c, src); s != "" {
					parts = append(parts, s)
				}
			}
			lines = append(lines, marker+strings.Join(parts, "\n"))
		}
		return strings.Join(lines, "\n")

	case *ast.Blockquote:
		var parts []string
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			if s := renderBlock(c, src); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "\n\n")

	case *ast.FencedCodeBlock, *ast.CodeBlock:
		var b strings.Builder
		lines := n.Lines()
		for i := 0; i < lines.Len(); i++ {
			seg := lines.At(i)
			b.Write(seg.Value(src))
		}
		return strings.TrimRight(b.String(), "\n")

	case *ast.ThematicBreak, *ast.HTMLBlock:
		return ""

	default:
		var b strings.Builder
		renderInline(n, src, &b)
		return strings.TrimSpace(b.String())
	}
}

func renderInline(n ast.Node, src []byte, b *strings.Builder) {
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		switch c := c.(type) {
		case *ast.Text:
			b.Write(c.Segment.Value(src))
			if c.SoftLineBreak() || c.HardLineBreak() {
				b.WriteByte('\n')
			}
		case *ast.String:
			b.Write(c.Value)
		case *ast.AutoLink:
			b.Write(c.Label(src))
		case *ast.RawHTML:
			// dropped
		default:
			renderInline(c, src, b)
		}
	}
}
