package ingestion

import (
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/textsplitter"

	"github.com/poiesic/ragit/core"
	"github.com/poiesic/ragit/loader"
)

// chunker splits loaded documents into ordered, reproducibly-numbered
// chunks. Given the same document and settings it always produces the same
// chunk texts and ordinals, so chunk IDs and citations stay stable across
// re-processing.
type chunker struct {
	splitter textsplitter.RecursiveCharacter
}

func newChunker(chunkSize, chunkOverlap int) *chunker {
	return &chunker{
		splitter: textsplitter.NewRecursiveCharacter(
			textsplitter.WithChunkSize(chunkSize),
			textsplitter.WithChunkOverlap(chunkOverlap),
		),
	}
}

// chunk splits every page of the document and assigns ordinals in page
// order. Vectors are left nil; embedding happens later.
func (c *chunker) chunk(documentID string, doc *loader.Document) ([]*core.DocumentChunk, error) {
	var chunks []*core.DocumentChunk
	ordinal := 0

	for _, page := range doc.Pages {
		pieces, err := c.splitter.SplitText(page.Text)
		if err != nil {
			return nil, fmt.Errorf("splitting page %d: %w", page.Number, err)
		}
		for _, piece := range pieces {
			text := strings.TrimSpace(piece)
			if text == "" {
				continue
			}
			chunks = append(chunks, &core.DocumentChunk{
				ChunkID:    core.ChunkID(documentID, ordinal),
				DocumentID: documentID,
				Ordinal:    ordinal,
				Text:       text,
				URL:        doc.SourceURL,
				Page:       page.Number,
			})
			ordinal++
		}
	}
	return chunks, nil
}
