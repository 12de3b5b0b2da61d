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

import (
	"errors"
	"testing"
	"time"
)

func validJob() *IngestionJob {
	return &IngestionJob{
		JobID:     "job-1",
		Source:    SourcePDFURL,
		Locator:   "https://example.com/paper.pdf",
		Status:    JobPending,
		CreatedAt: time.Now().UTC(),
	}
}

func TestValidateJob(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*IngestionJob)
		wantErr error
	}{
		{
			name:   "valid job",
			mutate: func(*IngestionJob) {},
		},
		{
			name:    "empty job id",
			mutate:  func(j *IngestionJob) { j.JobID = "" },
			wantErr: ErrInvalidJob,
		},
		{
			name:    "unknown source type",
			mutate:  func(j *IngestionJob) { j.Source = "csv" },
			wantErr: ErrInvalidSourceType,
		},
		{
			name:    "empty locator",
			mutate:  func(j *IngestionJob) { j.Locator = "" },
			wantErr: ErrEmptyLocator,
		},
		{
			name:    "invalid status",
			mutate:  func(j *IngestionJob) { j.Status = 0 },
			wantErr: ErrInvalidStatus,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			job := validJob()
			tt.mutate(job)
			err := ValidateJob(job)
			if tt.wantErr == nil {
				if err != nil {
					t.Fatalf("ValidateJob() = %v, want nil", err)
				}
				return
			}
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("ValidateJob() = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateJob_Nil(t *testing.T) {
	if err := ValidateJob(nil); !errors.Is(err, ErrInvalidJob) {
		t.Fatalf("ValidateJob(nil) = %v, want ErrInvalidJob", err)
	}
}

func TestValidateTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    JobStatus
		to      JobStatus
		wantErr bool
	}{
		{name: "pending to in progress", from: JobPending, to: JobInProgress},
		{name: "pending to failed", from: JobPending, to: JobFailed},
		{name: "in progress to completed", from: JobInProgress, to: JobCompleted},
		{name: "in progress to failed", from: JobInProgress, to: JobFailed},
		{name: "pending to completed skips in progress", from: JobPending, to: JobCompleted, wantErr: true},
		{name: "completed is immutable", from: JobCompleted, to: JobFailed, wantErr: true},
		{name: "failed is immutable", from: JobFailed, to: JobInProgress, wantErr: true},
		{name: "no self transition", from: JobInProgress, to: JobInProgress, wantErr: true},
		{name: "never back to pending", from: JobInProgress, to: JobPending, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTransition(tt.from, tt.to)
			if tt.wantErr && err == nil {
				t.Fatalf("ValidateTransition(%s, %s) = nil, want error", tt.from, tt.to)
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("ValidateTransition(%s, %s) = %v, want nil", tt.from, tt.to, err)
			}
		})
	}
}

func TestValidateChunk(t *testing.T) {
	chunk := &DocumentChunk{
		ChunkID:    ChunkID("doc-1", 0),
		DocumentID: "doc-1",
		Ordinal:    0,
		Text:       "some chunk text",
	}
	if err := ValidateChunk(chunk); err != nil {
		t.Fatalf("ValidateChunk() = %v, want nil", err)
	}

	t.Run("empty text", func(t *testing.T) {
		c := *chunk
		c.Text = ""
		if err := ValidateChunk(&c); !errors.Is(err, ErrEmptyText) {
			t.Fatalf("ValidateChunk() = %v, want ErrEmptyText", err)
		}
	})

	t.Run("empty document id", func(t *testing.T) {
		c := *chunk
		c.DocumentID = ""
		if err := ValidateChunk(&c); !errors.Is(err, ErrInvalidChunk) {
			t.Fatalf("ValidateChunk() = %v, want ErrInvalidChunk", err)
		}
	})

	t.Run("negative ordinal", func(t *testing.T) {
		c := *chunk
		c.Ordinal = -1
		if err := ValidateChunk(&c); !errors.Is(err, ErrInvalidChunk) {
			t.Fatalf("ValidateChunk() = %v, want ErrInvalidChunk", err)
		}
	})
}

func TestValidateTurn(t *testing.T) {
	turn := &ConversationTurn{
		Role:      TurnRoleUser,
		Content:   "what is the warranty period?",
		Timestamp: time.Now().UTC(),
	}
	if err := ValidateTurn(turn); err != nil {
		t.Fatalf("ValidateTurn() = %v, want nil", err)
	}

	t.Run("empty content", func(t *testing.T) {
		c := *turn
		c.Content = ""
		if err := ValidateTurn(&c); !errors.Is(err, ErrEmptyContent) {
			t.Fatalf("ValidateTurn() = %v, want ErrEmptyContent", err)
		}
	})

	t.Run("invalid role", func(t *testing.T) {
		c := *turn
		c.Role = 0
		if err := ValidateTurn(&c); !errors.Is(err, ErrInvalidTurnRole) {
			t.Fatalf("ValidateTurn() = %v, want ErrInvalidTurnRole", err)
		}
	})
}
