// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package loader

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/tmc/langchaingo/documentloaders"
)

// PDFLoader downloads a PDF by URL and extracts per-page text.
type PDFLoader struct {
	logger *slog.Logger
}

// NewPDFLoader creates a loader for the pdf_url source type.
func NewPDFLoader() *PDFLoader {
	return &PDFLoader{logger: slog.Default().With("component", "pdf-loader")}
}

// Load fetches the PDF at the locator URL and extracts one Page per
// PDF page, preserving page numbers for citations.
func (l *PDFLoader) Load(ctx context.Context, locator string) (*Document, error) {
	l.logger.Debug("downloading PDF document", "url", locator)

	data, err := fetch(ctx, locator)
	if err != nil {
		return nil, err
	}

	docs, err := documentloaders.NewPDF(bytes.NewReader(data), int64(len(data))).Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("parsing PDF from %s: %w", locator, err)
	}

	pages := make([]Page, 0, len(docs))
	for i, doc := range docs {
		text := strings.TrimSpace(doc.PageContent)
		if text == "" {
			continue
		}
		number := i + 1
		if p, ok := doc.Metadata["page"].(int); ok && p > 0 {
			number = p
		}
		pages = append(pages, Page{Number: number, Text: text})
	}
	if len(pages) == 0 {
		return nil, ErrEmptyDocument
	}

	l.logger.Debug("extracted PDF pages", "url", locator, "pages", len(pages))
	return &Document{
		Title:     titleFromURL(locator),
		SourceURL: locator,
		Pages:     pages,
	}, nil
}
