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

import "fmt"

// ValidateJob validates an IngestionJob according to domain rules.
//
// Validation rules:
//   - JobID must not be empty
//   - Source must be a known SourceType
//   - Locator must not be empty
//   - Status must be a valid JobStatus
//
// NOT validated (populated by the worker pipeline):
//   - DocumentID, ChunkCount (set on completion)
//   - StartedAt, CompletedAt (set on transition)
func ValidateJob(job *IngestionJob) error {
	if job == nil {
		return fmt.Errorf("%w: job is nil", ErrInvalidJob)
	}

	if job.JobID == "" {
		return fmt.Errorf("%w: job id is empty", ErrInvalidJob)
	}

	if err := ValidateSourceType(job.Source); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidJob, err)
	}

	if job.Locator == "" {
		return fmt.Errorf("%w: %w", ErrInvalidJob, ErrEmptyLocator)
	}

	if err := ValidateStatus(job.Status); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidJob, err)
	}

	return nil
}

// ValidateTransition validates that a status change is monotonic.
// Terminal states are immutable; a job may only move forward.
func ValidateTransition(from, to JobStatus) error {
	if err := ValidateStatus(from); err != nil {
		return err
	}
	if err := ValidateStatus(to); err != nil {
		return err
	}
	if from.Terminal() {
		return fmt.Errorf("%w: %s is terminal", ErrInvalidTransition, from)
	}
	if to == JobPending || to == from {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	if from == JobPending && to != JobInProgress && to != JobFailed {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}

// ValidateChunk validates a DocumentChunk according to domain rules.
//
// Validation rules:
//   - DocumentID must not be empty
//   - Text must not be empty
//   - Ordinal must not be negative
//
// NOT validated:
//   - Vector (dimension consistency is enforced by the knowledge store)
func ValidateChunk(chunk *DocumentChunk) error {
	if chunk == nil {
		return fmt.Errorf("%w: chunk is nil", ErrInvalidChunk)
	}

	if chunk.DocumentID == "" {
		return fmt.Errorf("%w: document id is empty", ErrInvalidChunk)
	}

	if chunk.Text == "" {
		return fmt.Errorf("%w: %w", ErrInvalidChunk, ErrEmptyText)
	}

	if chunk.Ordinal < 0 {
		return fmt.Errorf("%w: negative ordinal %d", ErrInvalidChunk, chunk.Ordinal)
	}

	return nil
}

// ValidateTurn validates a ConversationTurn according to domain rules.
func ValidateTurn(turn *ConversationTurn) error {
	if turn == nil {
		return fmt.Errorf("%w: turn is nil", ErrInvalidTurn)
	}

	if turn.Content == "" {
		return fmt.Errorf("%w: %w", ErrInvalidTurn, ErrEmptyContent)
	}

	if err := ValidateTurnRole(turn.Role); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidTurn, err)
	}

	return nil
}

// ValidateSourceType validates that a SourceType has a known value.
func ValidateSourceType(source SourceType) error {
	switch source {
	case SourcePDFURL, SourcePlainText, SourceWebsite:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidSourceType, source)
	}
}

// ValidateStatus validates that a JobStatus has a valid value.
func ValidateStatus(status JobStatus) error {
	if status < JobPending || status > JobFailed {
		return fmt.Errorf("%w: value %d", ErrInvalidStatus, status)
	}
	return nil
}

// ValidateTurnRole validates that a TurnRole has a valid value.
func ValidateTurnRole(role TurnRole) error {
	if role != TurnRoleUser && role != TurnRoleAssistant {
		return fmt.Errorf("%w: value %d", ErrInvalidTurnRole, role)
	}
	return nil
}
