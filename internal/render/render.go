// Package render turns a personalized attachment source into document bytes.
package render

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"html"
	"regexp"
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
)

// ErrEmptyDocument is returned when a source renders to no content.
var ErrEmptyDocument = errors.New("rendered document is empty")

// Renderer kinds accepted by New.
const (
	KindHTML     = "html"
	KindText     = "text"
	KindMarkdown = "markdown"
)

// New returns the renderer registered under kind.
func New(kind string) (*Renderer, error) {
	switch strings.ToLower(kind) {
	case KindHTML, "":
		return &Renderer{kind: KindHTML, contentType: "text/html; charset=UTF-8", ext: "html", fn: renderHTML}, nil
	case KindText:
		return &Renderer{kind: KindText, contentType: "text/plain; charset=UTF-8", ext: "txt", fn: renderText}, nil
	case KindMarkdown:
		return &Renderer{kind: KindMarkdown, contentType: "text/html; charset=UTF-8", ext: "html", fn: renderMarkdown}, nil
	default:
		return nil, fmt.Errorf("unknown attachment renderer %q", kind)
	}
}

// Renderer produces one attachment format.
type Renderer struct {
	kind        string
	contentType string
	ext         string
	fn          func(source string) ([]byte, error)
}

// Render converts source into document bytes.
func (r *Renderer) Render(ctx context.Context, source string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out, err := r.fn(source)
	if err != nil {
		return nil, fmt.Errorf("%s renderer: %w", r.kind, err)
	}
	return out, nil
}

// ContentType returns the MIME type of rendered documents.
func (r *Renderer) ContentType() string { return r.contentType }

// Extension returns the file extension of rendered documents, without the dot.
func (r *Renderer) Extension() string { return r.ext }

const documentShell = "<!DOCTYPE html>\n<html>\n<head><meta charset=\"UTF-8\"></head>\n<body>\n%s\n</body>\n</html>\n"

func renderHTML(source string) ([]byte, error) {
	if strings.TrimSpace(source) == "" {
		return nil, ErrEmptyDocument
	}
	if strings.Contains(strings.ToLower(source), "<html") {
		return []byte(source), nil
	}
	return []byte(fmt.Sprintf(documentShell, source)), nil
}

func renderText(source string) ([]byte, error) {
	text := PlainText(source)
	if text == "" {
		return nil, ErrEmptyDocument
	}
	return []byte(text + "\n"), nil
}

func renderMarkdown(source string) ([]byte, error) {
	if strings.TrimSpace(source) == "" {
		return nil, ErrEmptyDocument
	}
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(source), &buf); err != nil {
		return nil, err
	}
	return []byte(fmt.Sprintf(documentShell, buf.String())), nil
}

var (
	strictPolicy = bluemonday.StrictPolicy()
	blockBreak   = regexp.MustCompile(`(?i)<br\s*/?>|</(p|div|h[1-6]|li|tr)>`)
	blankRuns    = regexp.MustCompile(`\n{3,}`)
)

// PlainText strips markup from an HTML fragment, keeping line breaks at
// block boundaries. It is used for text alternatives and text attachments.
func PlainText(src string) string {
	if src == "" {
		return ""
	}
	withBreaks := blockBreak.ReplaceAllStringFunc(src, func(tag string) string {
		return tag + "\n"
	})
	text := html.UnescapeString(strictPolicy.Sanitize(withBreaks))

	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	text = strings.Join(lines, "\n")
	return strings.TrimSpace(blankRuns.ReplaceAllString(text, "\n\n"))
}
