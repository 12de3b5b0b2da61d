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
	"context"
	"errors"
	"fmt"

	"github.com/poiesic/ragit/core"
)

// Errors returned by loaders.
var (
	// ErrUnsupportedSource indicates no loader is registered for the source type.
	ErrUnsupportedSource = errors.New("unsupported source type")

	// ErrEmptyDocument indicates the source yielded no extractable text.
	ErrEmptyDocument = errors.New("document contains no text")

	// ErrFetchFailed indicates the locator could not be retrieved.
	ErrFetchFailed = errors.New("failed to fetch document")
)

// Page is one unit of extracted text. Number is 1-based for paged sources
// (PDFs) and 0 for sources without page structure.
type Page struct {
	Number int
	Text   string
}

// Document is the loader output: a title plus page-structured text.
// SourceURL is empty for sources that are not addressable by URL.
type Document struct {
	Title     string
	SourceURL string
	Pages     []Page
}

// Loader extracts a Document from a locator. The meaning of the locator
// depends on the source type: a URL for pdf_url and website, the raw text
// itself for plain_text.
type Loader interface {
	Load(ctx context.Context, locator string) (*Document, error)
}

// Registry resolves loaders by source type.
type Registry struct {
	loaders map[core.SourceType]Loader
}

// NewRegistry creates a registry with the default loaders for all
// supported source types.
func NewRegistry() *Registry {
	r := &Registry{loaders: make(map[core.SourceType]Loader)}
	r.Register(core.SourcePDFURL, NewPDFLoader())
	r.Register(core.SourcePlainText, NewTextLoader())
	r.Register(core.SourceWebsite, NewWebsiteLoader())
	return r
}

// Register adds or replaces the loader for a source type.
func (r *Registry) Register(source core.SourceType, l Loader) {
	r.loaders[source] = l
}

// Load resolves the loader for the source type and runs it.
func (r *Registry) Load(ctx context.Context, source core.SourceType, locator string) (*Document, error) {
	l, ok := r.loaders[source]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedSource, source)
	}
	return l.Load(ctx, locator)
}
