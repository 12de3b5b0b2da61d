package loader

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/documentloaders"
)

// TextLoader handles the plain_text source type, where the locator holds
// the document text itself.
type TextLoader struct{}

// NewTextLoader creates a loader for the plain_text source type.
func NewTextLoader() *TextLoader {
	return &TextLoader{}
}

// Load treats the locator as raw text. The title is taken from the first
// non-empty line.
func (l *TextLoader) Load(ctx context.Context, locator string) (*Document, error) {
	docs, err := documentloaders.NewText(strings.NewReader(locator)).Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading text source: %w", err)
	}

	var sb strings.Builder
	for _, doc := range docs {
		sb.WriteString(doc.PageContent)
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return nil, ErrEmptyDocument
	}

	title := firstLine(text, 80)
	if title == "" {
		title = "Untitled"
	}

	return &Document{
		Title: title,
		Pages: []Page{{Number: 0, Text: text}},
	}, nil
}
