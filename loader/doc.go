// Package loader turns ingestion sources into page-structured text.
//
// Each source type (PDF by URL, raw text, website) has its own Loader
// implementation. Loaders are resolved through a Registry keyed by
// core.SourceType, so adding a source type means registering a new
// implementation rather than growing a dispatch conditional.
//
// Loaders fetch and extract only. Chunking, embedding and persistence
// belong to the ingestion pipeline.
package loader
