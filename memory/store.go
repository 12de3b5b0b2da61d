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


package memory

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/poiesic/ragit/ai"
	"github.com/poiesic/ragit/core"
	"github.com/poiesic/ragit/storage"
)

var (
	// ErrSessionRepositoryRequired is returned when a session repository is not provided.
	ErrSessionRepositoryRequired = errors.New("session repository required")

	// ErrTokenCounterRequired is returned when a token counter is not provided.
	ErrTokenCounterRequired = errors.New("token counter required")
)

// Store applies the conversation memory policy on top of a session
// repository.
type Store struct {
	sessions storage.SessionRepository
	tokens   ai.TokenCounter
	budget   int
	logger   *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithTokenBudget sets the per-session token budget. Default is 2000.
func WithTokenBudget(budget int) Option {
	return func(s *Store) {
		if budget > 0 {
			s.budget = budget
		}
	}
}

// WithLogger sets a custom logger. Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// NewStore creates a conversation memory store.
func NewStore(sessions storage.SessionRepository, tokens ai.TokenCounter, opts ...Option) (*Store, error) {
	if sessions == nil {
		return nil, ErrSessionRepositoryRequired
	}
	if tokens == nil {
		return nil, ErrTokenCounterRequired
	}

	s := &Store{
		sessions: sessions,
		tokens:   tokens,
		budget:   2000,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// History returns the session's turns, oldest first. Unknown sessions
// yield an empty history.
func (s *Store) History(ctx context.Context, sessionID string) ([]*core.ConversationTurn, error) {
	return s.sessions.GetTurns(ctx, sessionID)
}

// RecordExchange appends a question/answer pair to the session and applies
// the truncation policy.
func (s *Store) RecordExchange(ctx context.Context, sessionID, question, answer string) error {
	now := time.Now().UTC()
	err := s.sessions.AppendTurns(ctx, sessionID,
		&core.ConversationTurn{Role: core.TurnRoleUser, Content: question, Timestamp: now},
		&core.ConversationTurn{Role: core.TurnRoleAssistant, Content: answer, Timestamp: now},
	)
	if err != nil {
		return err
	}
	return s.truncate(ctx, sessionID)
}

// DeleteSession removes a session and all of its turns.
func (s *Store) DeleteSession(ctx context.Context, sessionID string) error {
	return s.sessions.DeleteSession(ctx, sessionID)
}

// truncate drops the oldest turns until the retained suffix fits the token
// budget. The most recent two turns are always kept so the latest exchange
// survives even when it alone exceeds the budget.
func (s *Store) truncate(ctx context.Context, sessionID string) error {
	turns, err := s.sessions.GetTurns(ctx, sessionID)
	if err != nil {
		return err
	}

	keep := 0
	total := 0
	for i := len(turns) - 1; i >= 0; i-- {
		cost := s.tokens.Count(turns[i].Content)
		if total+cost > s.budget && keep >= 2 {
			break
		}
		total += cost
		keep++
	}

	if keep >= len(turns) {
		return nil
	}

	s.logger.Debug("truncating session history",
		"sessionID", sessionID, "turns", len(turns), "keep", keep, "tokens", total)
	return s.sessions.TruncateOldest(ctx, sessionID, keep)
}
