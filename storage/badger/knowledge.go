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


package badger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/ragit/core"
	"github.com/poiesic/ragit/storage"
)

// chunkWriteBatch bounds the number of chunk writes per transaction.
const chunkWriteBatch = 32

// KnowledgeRepository implements storage.KnowledgeRepository for BadgerDB.
//
// Durability lives in badger; searches run against an immutable in-memory
// snapshot that is republished after every visibility change. Readers load
// the snapshot through an atomic pointer and are never blocked by writers
// or by compaction: the exclusive section is the pointer swap itself.
type KnowledgeRepository struct {
	backend *Backend
	logger  *slog.Logger

	index   atomic.Pointer[searchIndex]
	writeMu sync.Mutex // serializes snapshot publication

	// one mutex per document id, so re-ingestion of the same document
	// serializes with itself while other documents stay independent
	docLocks sync.Map
}

var _ storage.KnowledgeRepository = (*KnowledgeRepository)(nil)

// NewKnowledgeRepository creates a KnowledgeRepository and loads the search
// index from the ready documents already in the store.
func NewKnowledgeRepository(backend *Backend) (*KnowledgeRepository, error) {
	r := &KnowledgeRepository{
		backend: backend,
		logger:  slog.Default().With("component", "knowledge-repository"),
	}

	idx, err := r.rebuildIndex()
	if err != nil {
		return nil, err
	}
	r.index.Store(idx)
	return r, nil
}

// Close implements storage.KnowledgeRepository. The backend is shared and
// closed by its owner.
func (r *KnowledgeRepository) Close() error {
	return nil
}

func (r *KnowledgeRepository) lockDocument(documentID string) func() {
	muAny, _ := r.docLocks.LoadOrStore(documentID, &sync.Mutex{})
	mu := muAny.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// UpsertDocument stages the chunk set under a fresh generation, then flips
// the live record to it. The previous version, if any, stays readable and
// searchable until the flip commits.
func (r *KnowledgeRepository) UpsertDocument(ctx context.Context, doc *core.KnowledgeDocument, chunks []*core.DocumentChunk) error {
	if doc == nil || doc.DocumentID == "" {
		return fmt.Errorf("%w: missing document", storage.ErrInvalidQuery)
	}
	if len(chunks) == 0 {
		return fmt.Errorf("%w: document must have at least one chunk", storage.ErrInvalidQuery)
	}
	for _, chunk := range chunks {
		if err := core.ValidateChunk(chunk); err != nil {
			return err
		}
	}

	unlock := r.lockDocument(doc.DocumentID)
	defer unlock()

	dim, err := r.checkDimension(chunks)
	if err != nil {
		return err
	}

	doc.ChunkCount = len(chunks)
	if doc.IngestedAt.IsZero() {
		doc.IngestedAt = time.Now().UTC()
	}

	// Pick the next generation. The live record keeps naming the previous
	// one until the flip, so everything staged below is invisible to
	// readers and a failure leaves the prior version fully intact.
	prevGen := uint64(0)
	havePrev := false
	if err := r.backend.WithTx(func(tx *badger.Txn) error {
		prev, err := readDocument(tx, doc.DocumentID)
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		prevGen = prev.Generation
		havePrev = true
		return nil
	}, false); err != nil {
		return err
	}
	newGen := prevGen + 1

	for start := 0; start < len(chunks); start += chunkWriteBatch {
		batch := chunks[start:min(start+chunkWriteBatch, len(chunks))]
		if err := r.backend.WithTx(func(tx *badger.Txn) error {
			for _, chunk := range batch {
				if err := tx.Set(makeChunkKey(chunk.DocumentID, newGen, chunk.Ordinal), storage.MarshalChunk(chunk)); err != nil {
					return err
				}
			}
			return tx.Commit()
		}, true); err != nil {
			r.discardGeneration(doc.DocumentID, newGen)
			return err
		}
		if err := ctx.Err(); err != nil {
			r.discardGeneration(doc.DocumentID, newGen)
			return err
		}
	}

	// Flip: a single small transaction replaces the live record, which is
	// the only thing readers consult to resolve chunks.
	ready := *doc
	ready.Visibility = core.VisibilityReady
	ready.Generation = newGen
	if err := r.backend.WithTx(func(tx *badger.Txn) error {
		if err := tx.Set(makeDocKey(doc.DocumentID), storage.MarshalDocument(&ready)); err != nil {
			return err
		}
		return tx.Commit()
	}, true); err != nil {
		r.discardGeneration(doc.DocumentID, newGen)
		return err
	}
	doc.Visibility = core.VisibilityReady
	doc.Generation = newGen

	r.publish(func(idx *searchIndex) *searchIndex {
		return idx.with(doc.DocumentID, chunks, dim)
	})

	if havePrev {
		r.discardGeneration(doc.DocumentID, prevGen)
	}
	return nil
}

// discardGeneration deletes one generation's chunk keys in batches. Failures
// only strand invisible garbage, which Compact sweeps later.
func (r *KnowledgeRepository) discardGeneration(documentID string, generation uint64) {
	for {
		var victims [][]byte
		err := r.backend.WithTx(func(tx *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.Prefix = makeChunkGenPrefix(documentID, generation)
			opts.PrefetchValues = false
			iter := tx.NewIterator(opts)
			defer iter.Close()

			for iter.Rewind(); iter.Valid() && len(victims) < chunkWriteBatch; iter.Next() {
				victims = append(victims, iter.Item().KeyCopy(nil))
			}
			iter.Close()

			for _, key := range victims {
				if err := tx.Delete(key); err != nil {
					return err
				}
			}
			return tx.Commit()
		}, true)
		if err != nil {
			r.logger.Warn("failed to discard chunk generation",
				"document_id", documentID, "generation", generation, "err", err)
			return
		}
		if len(victims) < chunkWriteBatch {
			return
		}
	}
}

// DeleteDocument removes a document and all of its chunk generations from
// both indices.
func (r *KnowledgeRepository) DeleteDocument(ctx context.Context, documentID string) error {
	unlock := r.lockDocument(documentID)
	defer unlock()

	err := r.backend.WithTx(func(tx *badger.Txn) error {
		if _, err := tx.Get(makeDocKey(documentID)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return storage.ErrNotFound
			}
			return err
		}
		if err := deleteAllChunks(tx, documentID); err != nil {
			return err
		}
		if err := tx.Delete(makeDocKey(documentID)); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
	if err != nil {
		return mapConflict(err)
	}

	r.publish(func(idx *searchIndex) *searchIndex {
		return idx.without(documentID)
	})
	return nil
}

// GetDocument retrieves a ready document by ID.
func (r *KnowledgeRepository) GetDocument(ctx context.Context, documentID string) (*core.KnowledgeDocument, error) {
	var doc *core.KnowledgeDocument
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		doc, err = readDocument(tx, documentID)
		return err
	}, false)
	if err != nil {
		return nil, err
	}
	if doc.Visibility != core.VisibilityReady {
		return nil, storage.ErrNotFound
	}
	return doc, nil
}

// ListDocuments retrieves all ready documents, most recently ingested first.
func (r *KnowledgeRepository) ListDocuments(ctx context.Context) ([]*core.KnowledgeDocument, error) {
	var docs []*core.KnowledgeDocument
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(docRecordPrefix + ":")
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			var doc *core.KnowledgeDocument
			if err := iter.Item().Value(func(val []byte) error {
				var err error
				doc, err = storage.UnmarshalDocument(val)
				return err
			}); err != nil {
				return err
			}
			if doc.Visibility == core.VisibilityReady {
				docs = append(docs, doc)
			}
		}
		return nil
	}, false)
	if err != nil {
		return nil, err
	}

	slices.SortFunc(docs, func(a, b *core.KnowledgeDocument) int {
		if a.IngestedAt.After(b.IngestedAt) {
			return -1
		}
		if a.IngestedAt.Before(b.IngestedAt) {
			return 1
		}
		return 0
	})
	return docs, nil
}

// ListChunks retrieves all chunks of a ready document in ordinal order.
func (r *KnowledgeRepository) ListChunks(ctx context.Context, documentID string) ([]*core.DocumentChunk, error) {
	var chunks []*core.DocumentChunk
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		doc, err := readDocument(tx, documentID)
		if err != nil {
			return err
		}
		if doc.Visibility != core.VisibilityReady {
			return storage.ErrNotFound
		}
		chunks, err = readChunks(tx, documentID, doc.Generation)
		return err
	}, false)
	if err != nil {
		return nil, err
	}
	return chunks, nil
}

// SearchVector returns up to k chunks ranked by cosine similarity.
func (r *KnowledgeRepository) SearchVector(ctx context.Context, vector []float32, k int) ([]*core.ScoredChunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.index.Load().searchVector(vector, k), nil
}

// SearchKeyword returns up to k chunks ranked by BM25 relevance.
func (r *KnowledgeRepository) SearchKeyword(ctx context.Context, text string, k int) ([]*core.ScoredChunk, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return r.index.Load().searchKeyword(text, k), nil
}

// Compact reclaims badger value-log space, sweeps stranded chunk
// generations, and rebuilds the search index. Readers are never blocked:
// they resolve the index through the atomic pointer.
func (r *KnowledgeRepository) Compact(ctx context.Context) error {
	for {
		err := r.backend.RunValueLogGC(0.5)
		if err == nil {
			continue
		}
		if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrGCInMemoryMode) {
			break
		}
		return err
	}

	if err := r.sweepStaleChunks(); err != nil {
		return err
	}

	// Hold the write lock across scan and swap so an upsert published
	// between the two cannot be dropped from the new snapshot.
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	idx, err := r.rebuildIndex()
	if err != nil {
		return err
	}
	r.index.Store(idx)
	r.logger.Info("compaction finished", "documents", len(idx.byDoc), "chunks", len(idx.entries))
	return nil
}

// sweepStaleChunks removes chunk generations no live record names:
// leftovers of failed upserts and of interrupted post-flip cleanup.
func (r *KnowledgeRepository) sweepStaleChunks() error {
	seen := make(map[string]struct{})
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(chunkPrefix + ":")
		opts.PrefetchValues = false
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			if documentID, _, ok := parseChunkKey(iter.Item().Key()); ok {
				seen[documentID] = struct{}{}
			}
		}
		return nil
	}, false)
	if err != nil {
		return err
	}

	for documentID := range seen {
		if err := r.sweepDocumentChunks(documentID); err != nil {
			return err
		}
	}
	return nil
}

// sweepDocumentChunks deletes every chunk generation of one document except
// the one its live record names. The document lock excludes in-flight
// staging, so any other generation is garbage.
func (r *KnowledgeRepository) sweepDocumentChunks(documentID string) error {
	unlock := r.lockDocument(documentID)
	defer unlock()

	live := uint64(0)
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		doc, err := readDocument(tx, documentID)
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		live = doc.Generation
		return nil
	}, false)
	if err != nil {
		return err
	}

	for {
		var victims [][]byte
		err := r.backend.WithTx(func(tx *badger.Txn) error {
			opts := badger.DefaultIteratorOptions
			opts.Prefix = makeChunkPrefix(documentID)
			opts.PrefetchValues = false
			iter := tx.NewIterator(opts)
			defer iter.Close()

			for iter.Rewind(); iter.Valid() && len(victims) < chunkWriteBatch; iter.Next() {
				_, generation, ok := parseChunkKey(iter.Item().Key())
				if !ok || generation != live {
					victims = append(victims, iter.Item().KeyCopy(nil))
				}
			}
			iter.Close()

			for _, key := range victims {
				if err := tx.Delete(key); err != nil {
					return err
				}
			}
			return tx.Commit()
		}, true)
		if err != nil {
			return err
		}
		if len(victims) == 0 {
			return nil
		}
	}
}

// publish applies an index transformation under the write lock and swaps in
// the resulting snapshot.
func (r *KnowledgeRepository) publish(transform func(*searchIndex) *searchIndex) {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	r.index.Store(transform(r.index.Load()))
}

// checkDimension verifies chunk vectors against the store's established
// embedding dimension, establishing it on first write.
func (r *KnowledgeRepository) checkDimension(chunks []*core.DocumentChunk) (int, error) {
	dim := 0
	for _, chunk := range chunks {
		if len(chunk.Vector) == 0 {
			return 0, fmt.Errorf("%w: chunk %d has no vector", storage.ErrDimensionMismatch, chunk.Ordinal)
		}
		if dim == 0 {
			dim = len(chunk.Vector)
		} else if len(chunk.Vector) != dim {
			return 0, fmt.Errorf("%w: %d vs %d within one document", storage.ErrDimensionMismatch, len(chunk.Vector), dim)
		}
	}

	var stored int
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		item, err := tx.Get([]byte(dimensionKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			if err := tx.Set([]byte(dimensionKey), storage.MarshalID(core.ID(dim))); err != nil {
				return err
			}
			return tx.Commit()
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			id, err := storage.UnmarshalID(val)
			stored = int(id)
			return err
		})
	}, true)
	if err != nil {
		return 0, err
	}
	if stored != 0 && stored != dim {
		return 0, fmt.Errorf("%w: store has %d, document has %d", storage.ErrDimensionMismatch, stored, dim)
	}
	return dim, nil
}

// rebuildIndex scans the store and constructs a fresh snapshot from all
// ready documents.
func (r *KnowledgeRepository) rebuildIndex() (*searchIndex, error) {
	byDoc := make(map[string][]*core.DocumentChunk)
	dimension := 0

	err := r.backend.WithTx(func(tx *badger.Txn) error {
		if item, err := tx.Get([]byte(dimensionKey)); err == nil {
			if err := item.Value(func(val []byte) error {
				id, err := storage.UnmarshalID(val)
				dimension = int(id)
				return err
			}); err != nil {
				return err
			}
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(docRecordPrefix + ":")
		iter := tx.NewIterator(opts)
		defer iter.Close()

		var ready []*core.KnowledgeDocument
		for iter.Rewind(); iter.Valid(); iter.Next() {
			var doc *core.KnowledgeDocument
			if err := iter.Item().Value(func(val []byte) error {
				var err error
				doc, err = storage.UnmarshalDocument(val)
				return err
			}); err != nil {
				return err
			}
			if doc.Visibility == core.VisibilityReady {
				ready = append(ready, doc)
			}
		}
		iter.Close()

		for _, doc := range ready {
			chunks, err := readChunks(tx, doc.DocumentID, doc.Generation)
			if err != nil {
				return err
			}
			byDoc[doc.DocumentID] = chunks
		}
		return nil
	}, false)
	if err != nil {
		return nil, err
	}

	if len(byDoc) == 0 {
		idx := emptyIndex()
		idx.dimension = dimension
		return idx, nil
	}
	return buildIndex(byDoc, dimension), nil
}

// readDocument reads a document record within a transaction.
func readDocument(tx *badger.Txn, documentID string) (*core.KnowledgeDocument, error) {
	item, err := tx.Get(makeDocKey(documentID))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}

	var doc *core.KnowledgeDocument
	err = item.Value(func(val []byte) error {
		var unmarshalErr error
		doc, unmarshalErr = storage.UnmarshalDocument(val)
		return unmarshalErr
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// readChunks reads one generation of a document's chunks in ordinal order.
func readChunks(tx *badger.Txn, documentID string, generation uint64) ([]*core.DocumentChunk, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = makeChunkGenPrefix(documentID, generation)
	iter := tx.NewIterator(opts)
	defer iter.Close()

	var chunks []*core.DocumentChunk
	for iter.Rewind(); iter.Valid(); iter.Next() {
		var chunk *core.DocumentChunk
		if err := iter.Item().Value(func(val []byte) error {
			var err error
			chunk, err = storage.UnmarshalChunk(val)
			return err
		}); err != nil {
			return nil, err
		}
		chunks = append(chunks, chunk)
	}
	return chunks, nil
}

// deleteAllChunks deletes every chunk key of a document, across generations.
func deleteAllChunks(tx *badger.Txn, documentID string) error {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = makeChunkPrefix(documentID)
	opts.PrefetchValues = false
	iter := tx.NewIterator(opts)
	defer iter.Close()

	var victims [][]byte
	for iter.Rewind(); iter.Valid(); iter.Next() {
		victims = append(victims, iter.Item().KeyCopy(nil))
	}
	iter.Close()

	for _, key := range victims {
		if err := tx.Delete(key); err != nil {
			return err
		}
	}
	return nil
}
