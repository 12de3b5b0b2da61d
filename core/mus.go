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


package core

// Hand-maintained MUS serializers for the persisted domain types.
// Field order is part of the on-disk format; append new fields at the end.

import (
	"time"

	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/raw"
	"github.com/mus-format/mus-go/varint"
)

var (
	// IDMUS serializes ID values.
	IDMUS = idMUS{}
	// IngestionJobMUS serializes IngestionJob values.
	IngestionJobMUS = ingestionJobMUS{}
	// KnowledgeDocumentMUS serializes KnowledgeDocument values.
	KnowledgeDocumentMUS = knowledgeDocumentMUS{}
	// DocumentChunkMUS serializes DocumentChunk values.
	DocumentChunkMUS = documentChunkMUS{}
	// ConversationTurnMUS serializes ConversationTurn values.
	ConversationTurnMUS = conversationTurnMUS{}

	vectorMUS = ord.NewSliceSer[float32](raw.Float32)
)

type idMUS struct{}

func (idMUS) Marshal(v ID, bs []byte) int { return varint.Uint64.Marshal(uint64(v), bs) }

func (idMUS) Unmarshal(bs []byte) (ID, int, error) {
	u, n, err := varint.Uint64.Unmarshal(bs)
	return ID(u), n, err
}

func (idMUS) Size(v ID) int { return varint.Uint64.Size(uint64(v)) }

func (idMUS) Skip(bs []byte) (int, error) { return varint.Uint64.Skip(bs) }

// timeMUS encodes timestamps as unix microseconds.
// The zero time is encoded as 0 and decoded back to the zero time.
type timeMUS struct{}

func (timeMUS) Marshal(v time.Time, bs []byte) int {
	if v.IsZero() {
		return varint.Int64.Marshal(0, bs)
	}
	return varint.Int64.Marshal(v.UnixMicro(), bs)
}

func (timeMUS) Unmarshal(bs []byte) (time.Time, int, error) {
	us, n, err := varint.Int64.Unmarshal(bs)
	if err != nil || us == 0 {
		return time.Time{}, n, err
	}
	return time.UnixMicro(us).UTC(), n, nil
}

func (timeMUS) Size(v time.Time) int {
	if v.IsZero() {
		return varint.Int64.Size(0)
	}
	return varint.Int64.Size(v.UnixMicro())
}

func (timeMUS) Skip(bs []byte) (int, error) { return varint.Int64.Skip(bs) }

var timeSer = timeMUS{}

type ingestionJobMUS struct{}

func (ingestionJobMUS) Marshal(v IngestionJob, bs []byte) (n int) {
	n = ord.String.Marshal(v.JobID, bs)
	n += ord.String.Marshal(string(v.Source), bs[n:])
	n += ord.String.Marshal(v.Locator, bs[n:])
	n += varint.Int.Marshal(int(v.Status), bs[n:])
	n += ord.String.Marshal(v.DocumentID, bs[n:])
	n += varint.Int.Marshal(v.ChunkCount, bs[n:])
	n += ord.String.Marshal(v.ErrorMessage, bs[n:])
	n += timeSer.Marshal(v.CreatedAt, bs[n:])
	n += timeSer.Marshal(v.StartedAt, bs[n:])
	n += timeSer.Marshal(v.CompletedAt, bs[n:])
	return n
}

func (ingestionJobMUS) Unmarshal(bs []byte) (v IngestionJob, n int, err error) {
	var n1 int
	if v.JobID, n, err = ord.String.Unmarshal(bs); err != nil {
		return
	}
	var source string
	if source, n1, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return v, n + n1, err
	}
	v.Source = SourceType(source)
	n += n1
	if v.Locator, n1, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return v, n + n1, err
	}
	n += n1
	var status int
	if status, n1, err = varint.Int.Unmarshal(bs[n:]); err != nil {
		return v, n + n1, err
	}
	v.Status = JobStatus(status)
	n += n1
	if v.DocumentID, n1, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return v, n + n1, err
	}
	n += n1
	if v.ChunkCount, n1, err = varint.Int.Unmarshal(bs[n:]); err != nil {
		return v, n + n1, err
	}
	n += n1
	if v.ErrorMessage, n1, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return v, n + n1, err
	}
	n += n1
	if v.CreatedAt, n1, err = timeSer.Unmarshal(bs[n:]); err != nil {
		return v, n + n1, err
	}
	n += n1
	if v.StartedAt, n1, err = timeSer.Unmarshal(bs[n:]); err != nil {
		return v, n + n1, err
	}
	n += n1
	if v.CompletedAt, n1, err = timeSer.Unmarshal(bs[n:]); err != nil {
		return v, n + n1, err
	}
	n += n1
	return v, n, nil
}

func (ingestionJobMUS) Size(v IngestionJob) (size int) {
	size = ord.String.Size(v.JobID)
	size += ord.String.Size(string(v.Source))
	size += ord.String.Size(v.Locator)
	size += varint.Int.Size(int(v.Status))
	size += ord.String.Size(v.DocumentID)
	size += varint.Int.Size(v.ChunkCount)
	size += ord.String.Size(v.ErrorMessage)
	size += timeSer.Size(v.CreatedAt)
	size += timeSer.Size(v.StartedAt)
	size += timeSer.Size(v.CompletedAt)
	return size
}

type knowledgeDocumentMUS struct{}

func (knowledgeDocumentMUS) Marshal(v KnowledgeDocument, bs []byte) (n int) {
	n = ord.String.Marshal(v.DocumentID, bs)
	n += ord.String.Marshal(v.Title, bs[n:])
	n += ord.String.Marshal(v.SourceURL, bs[n:])
	n += varint.Int.Marshal(v.ChunkCount, bs[n:])
	n += timeSer.Marshal(v.IngestedAt, bs[n:])
	n += varint.Int.Marshal(int(v.Visibility), bs[n:])
	n += varint.Uint64.Marshal(v.Generation, bs[n:])
	return n
}

func (knowledgeDocumentMUS) Unmarshal(bs []byte) (v KnowledgeDocument, n int, err error) {
	var n1 int
	if v.DocumentID, n, err = ord.String.Unmarshal(bs); err != nil {
		return
	}
	if v.Title, n1, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return v, n + n1, err
	}
	n += n1
	if v.SourceURL, n1, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return v, n + n1, err
	}
	n += n1
	if v.ChunkCount, n1, err = varint.Int.Unmarshal(bs[n:]); err != nil {
		return v, n + n1, err
	}
	n += n1
	if v.IngestedAt, n1, err = timeSer.Unmarshal(bs[n:]); err != nil {
		return v, n + n1, err
	}
	n += n1
	var vis int
	if vis, n1, err = varint.Int.Unmarshal(bs[n:]); err != nil {
		return v, n + n1, err
	}
	v.Visibility = Visibility(vis)
	n += n1
	if v.Generation, n1, err = varint.Uint64.Unmarshal(bs[n:]); err != nil {
		return v, n + n1, err
	}
	n += n1
	return v, n, nil
}

func (knowledgeDocumentMUS) Size(v KnowledgeDocument) (size int) {
	size = ord.String.Size(v.DocumentID)
	size += ord.String.Size(v.Title)
	size += ord.String.Size(v.SourceURL)
	size += varint.Int.Size(v.ChunkCount)
	size += timeSer.Size(v.IngestedAt)
	size += varint.Int.Size(int(v.Visibility))
	size += varint.Uint64.Size(v.Generation)
	return size
}

type documentChunkMUS struct{}

func (documentChunkMUS) Marshal(v DocumentChunk, bs []byte) (n int) {
	n = IDMUS.Marshal(v.ChunkID, bs)
	n += ord.String.Marshal(v.DocumentID, bs[n:])
	n += varint.Int.Marshal(v.Ordinal, bs[n:])
	n += ord.String.Marshal(v.Text, bs[n:])
	n += vectorMUS.Marshal(v.Vector, bs[n:])
	n += ord.String.Marshal(v.URL, bs[n:])
	n += varint.Int.Marshal(v.Page, bs[n:])
	return n
}

func (documentChunkMUS) Unmarshal(bs []byte) (v DocumentChunk, n int, err error) {
	var n1 int
	if v.ChunkID, n, err = IDMUS.Unmarshal(bs); err != nil {
		return
	}
	if v.DocumentID, n1, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return v, n + n1, err
	}
	n += n1
	if v.Ordinal, n1, err = varint.Int.Unmarshal(bs[n:]); err != nil {
		return v, n + n1, err
	}
	n += n1
	if v.Text, n1, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return v, n + n1, err
	}
	n += n1
	if v.Vector, n1, err = vectorMUS.Unmarshal(bs[n:]); err != nil {
		return v, n + n1, err
	}
	n += n1
	if v.URL, n1, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return v, n + n1, err
	}
	n += n1
	if v.Page, n1, err = varint.Int.Unmarshal(bs[n:]); err != nil {
		return v, n + n1, err
	}
	n += n1
	return v, n, nil
}

func (documentChunkMUS) Size(v DocumentChunk) (size int) {
	size = IDMUS.Size(v.ChunkID)
	size += ord.String.Size(v.DocumentID)
	size += varint.Int.Size(v.Ordinal)
	size += ord.String.Size(v.Text)
	size += vectorMUS.Size(v.Vector)
	size += ord.String.Size(v.URL)
	size += varint.Int.Size(v.Page)
	return size
}

type conversationTurnMUS struct{}

func (conversationTurnMUS) Marshal(v ConversationTurn, bs []byte) (n int) {
	n = varint.Int.Marshal(int(v.Role), bs)
	n += ord.String.Marshal(v.Content, bs[n:])
	n += timeSer.Marshal(v.Timestamp, bs[n:])
	return n
}

func (conversationTurnMUS) Unmarshal(bs []byte) (v ConversationTurn, n int, err error) {
	var n1 int
	var role int
	if role, n, err = varint.Int.Unmarshal(bs); err != nil {
		return
	}
	v.Role = TurnRole(role)
	if v.Content, n1, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return v, n + n1, err
	}
	n += n1
	if v.Timestamp, n1, err = timeSer.Unmarshal(bs[n:]); err != nil {
		return v, n + n1, err
	}
	n += n1
	return v, n, nil
}

func (conversationTurnMUS) Size(v ConversationTurn) (size int) {
	size = varint.Int.Size(int(v.Role))
	size += ord.String.Size(v.Content)
	size += timeSer.Size(v.Timestamp)
	return size
}
