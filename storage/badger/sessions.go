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
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/ragit/core"
	"github.com/poiesic/ragit/storage"
)

// SessionRepository implements storage.SessionRepository for BadgerDB.
//
// Turns are stored under monotonically increasing per-session indices so a
// prefix scan yields them in append order. Callers serialize writes per
// session (the query engine holds one logical lock per session id).
type SessionRepository struct {
	backend *Backend
}

var _ storage.SessionRepository = (*SessionRepository)(nil)

// NewSessionRepository creates a new SessionRepository.
func NewSessionRepository(backend *Backend) *SessionRepository {
	return &SessionRepository{backend: backend}
}

// Close implements storage.SessionRepository. The backend is shared and
// closed by its owner.
func (r *SessionRepository) Close() error {
	return nil
}

// AppendTurns appends turns to a session in order.
func (r *SessionRepository) AppendTurns(ctx context.Context, sessionID string, turns ...*core.ConversationTurn) error {
	if sessionID == "" {
		return storage.ErrInvalidQuery
	}
	for _, turn := range turns {
		if err := core.ValidateTurn(turn); err != nil {
			return err
		}
	}

	err := r.backend.WithTx(func(tx *badger.Txn) error {
		next, err := readNextIndex(tx, sessionID)
		if err != nil {
			return err
		}

		for _, turn := range turns {
			if turn.Timestamp.IsZero() {
				turn.Timestamp = time.Now().UTC()
			}
			if err := tx.Set(makeTurnKey(sessionID, next), storage.MarshalTurn(turn)); err != nil {
				return err
			}
			next++
		}

		if err := tx.Set(makeSessionNextKey(sessionID), storage.MarshalID(core.ID(next))); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
	return mapConflict(err)
}

// GetTurns retrieves all turns of a session, oldest first.
func (r *SessionRepository) GetTurns(ctx context.Context, sessionID string) ([]*core.ConversationTurn, error) {
	turns := []*core.ConversationTurn{}
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = makeTurnPrefix(sessionID)
		iter := tx.NewIterator(opts)
		defer iter.Close()

		for iter.Rewind(); iter.Valid(); iter.Next() {
			var turn *core.ConversationTurn
			if err := iter.Item().Value(func(val []byte) error {
				var err error
				turn, err = storage.UnmarshalTurn(val)
				return err
			}); err != nil {
				return err
			}
			turns = append(turns, turn)
		}
		return nil
	}, false)
	if err != nil {
		return nil, err
	}
	return turns, nil
}

// TruncateOldest drops the oldest turns of a session, keeping the most
// recent keep turns.
func (r *SessionRepository) TruncateOldest(ctx context.Context, sessionID string, keep int) error {
	if keep < 0 {
		keep = 0
	}

	err := r.backend.WithTx(func(tx *badger.Txn) error {
		victims, err := oldestTurnKeys(tx, sessionID, keep)
		if err != nil {
			return err
		}
		for _, key := range victims {
			if err := tx.Delete(key); err != nil {
				return err
			}
		}
		return tx.Commit()
	}, true)
	return mapConflict(err)
}

// DeleteSession removes a session and all of its turns.
func (r *SessionRepository) DeleteSession(ctx context.Context, sessionID string) error {
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		victims, err := oldestTurnKeys(tx, sessionID, 0)
		if err != nil {
			return err
		}
		for _, key := range victims {
			if err := tx.Delete(key); err != nil {
				return err
			}
		}
		if err := tx.Delete(makeSessionNextKey(sessionID)); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
	return mapConflict(err)
}

// readNextIndex reads a session's next turn index, 0 for a new session.
func readNextIndex(tx *badger.Txn, sessionID string) (uint64, error) {
	item, err := tx.Get(makeSessionNextKey(sessionID))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	var next uint64
	err = item.Value(func(val []byte) error {
		id, err := storage.UnmarshalID(val)
		next = uint64(id)
		return err
	})
	return next, err
}

// oldestTurnKeys collects the turn keys of a session except the most
// recent keep entries.
func oldestTurnKeys(tx *badger.Txn, sessionID string, keep int) ([][]byte, error) {
	opts := badger.DefaultIteratorOptions
	opts.Prefix = makeTurnPrefix(sessionID)
	opts.PrefetchValues = false
	iter := tx.NewIterator(opts)
	defer iter.Close()

	var keys [][]byte
	for iter.Rewind(); iter.Valid(); iter.Next() {
		keys = append(keys, iter.Item().KeyCopy(nil))
	}

	if keep >= len(keys) {
		return nil, nil
	}
	return keys[:len(keys)-keep], nil
}
