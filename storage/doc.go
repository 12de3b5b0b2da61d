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


// Package storage provides the storage abstraction layer for ragit.
//
// This package defines repository interfaces that decouple storage
// implementation from business logic. It allows for different storage
// backends (BadgerDB, in-memory, etc.) to be used interchangeably.
//
// # Architecture
//
// The storage layer follows the Repository pattern:
//
//   - JobRepository: ingestion job records with conditional (compare-and-swap)
//     status transitions
//   - KnowledgeRepository: dual-indexed (vector + keyword) chunk storage with
//     atomic per-document visibility and background compaction
//   - SessionRepository: per-session ordered conversation turn history
//
// # Ownership
//
// JobRepository owns the IngestionJob lifecycle. KnowledgeRepository owns
// the KnowledgeDocument/DocumentChunk lifecycle and enforces atomic
// visibility. SessionRepository owns session turn history.
//
// # Thread Safety
//
// All repository implementations must be thread-safe and support
// concurrent access from multiple goroutines. Knowledge store reads are
// lock-free relative to concurrent writes on other documents.
//
// # Context Support
//
// All repository methods accept context.Context for cancellation
// and timeout support.
package storage
