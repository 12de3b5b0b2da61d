package loader

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tmc/langchaingo/documentloaders"
)

// WebsiteLoader downloads a web page by URL and extracts its visible text.
type WebsiteLoader struct {
	logger *slog.Logger
}

// NewWebsiteLoader creates a loader for the website source type.
func NewWebsiteLoader() *WebsiteLoader {
	return &WebsiteLoader{logger: slog.Default().With("component", "website-loader")}
}

// Load fetches the page at the locator URL and strips the HTML down to
// its text content. Websites have no page structure, so the result is a
// single Page with number 0.
func (l *WebsiteLoader) Load(ctx context.Context, locator string) (*Document, error) {
	l.logger.Debug("downloading web page", "url", locator)

	data, err := fetch(ctx, locator)
	if err != nil {
		return nil, err
	}

	docs, err := documentloaders.NewHTML(bytes.NewReader(data)).Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("parsing HTML from %s: %w", locator, err)
	}

	var sb strings.Builder
	for _, doc := range docs {
		sb.WriteString(doc.PageContent)
		sb.WriteString("\n")
	}
	text := strings.TrimSpace(sb.String())
	if text == "" {
		return nil, ErrEmptyDocument
	}

	return &Document{
		Title:     titleFromURL(locator),
		SourceURL: locator,
		Pages:     []Page{{Number: 0, Text: text}},
	}, nil
}
