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

// JobRepository implements storage.JobRepository for BadgerDB.
//
// Conditional transitions rely on badger's optimistic concurrency: two
// workers racing on the same job record conflict at commit and the loser
// receives storage.ErrConflict.
type JobRepository struct {
	backend *Backend
}

var _ storage.JobRepository = (*JobRepository)(nil)

// NewJobRepository creates a new JobRepository.
func NewJobRepository(backend *Backend) *JobRepository {
	return &JobRepository{backend: backend}
}

// Close implements storage.JobRepository. The backend is shared and closed
// by its owner.
func (r *JobRepository) Close() error {
	return nil
}

// CreateJob persists a new job record.
func (r *JobRepository) CreateJob(ctx context.Context, job *core.IngestionJob) error {
	if err := core.ValidateJob(job); err != nil {
		return err
	}

	err := r.backend.WithTx(func(tx *badger.Txn) error {
		key := makeJobKey(job.JobID)
		if _, err := tx.Get(key); err == nil {
			return storage.ErrDuplicateKey
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		if job.CreatedAt.IsZero() {
			job.CreatedAt = time.Now().UTC()
		}

		if err := tx.Set(key, storage.MarshalJob(job)); err != nil {
			return err
		}
		// Creation-time index for ListJobs ordering
		if err := tx.Set(makeJobCreatedKey(job.CreatedAt, job.JobID), []byte(job.JobID)); err != nil {
			return err
		}
		return tx.Commit()
	}, true)

	return mapConflict(err)
}

// GetJob retrieves a job by ID.
func (r *JobRepository) GetJob(ctx context.Context, jobID string) (*core.IngestionJob, error) {
	var job *core.IngestionJob
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		job, err = readJob(tx, jobID)
		return err
	}, false)
	if err != nil {
		return nil, err
	}
	return job, nil
}

// ListJobs retrieves all job records, most recently created first.
func (r *JobRepository) ListJobs(ctx context.Context) ([]*core.IngestionJob, error) {
	var jobs []*core.IngestionJob
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(jobCreatedPrefix + ":")
		opts.Reverse = true
		iter := tx.NewIterator(opts)
		defer iter.Close()

		// Reverse iteration needs a seek key past the prefix range.
		seek := append([]byte(jobCreatedPrefix+":"), 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff)
		for iter.Seek(seek); iter.Valid(); iter.Next() {
			var jobID string
			if err := iter.Item().Value(func(val []byte) error {
				jobID = string(val)
				return nil
			}); err != nil {
				return err
			}

			job, err := readJob(tx, jobID)
			if err != nil {
				if errors.Is(err, storage.ErrNotFound) {
					continue // purged record, stale index entry
				}
				return err
			}
			jobs = append(jobs, job)
		}
		return nil
	}, false)
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

// TransitionJob conditionally moves a job from one status to another.
func (r *JobRepository) TransitionJob(ctx context.Context, jobID string, from, to core.JobStatus, mutate func(*core.IngestionJob)) (*core.IngestionJob, error) {
	var job *core.IngestionJob
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		var err error
		job, err = readJob(tx, jobID)
		if err != nil {
			return err
		}

		if job.Status != from {
			return storage.ErrConflict
		}
		if err := core.ValidateTransition(from, to); err != nil {
			return err
		}

		job.Status = to
		now := time.Now().UTC()
		switch {
		case to == core.JobInProgress:
			job.StartedAt = now
		case to.Terminal():
			job.CompletedAt = now
		}
		if mutate != nil {
			mutate(job)
		}

		if err := tx.Set(makeJobKey(jobID), storage.MarshalJob(job)); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
	if err != nil {
		return job, mapConflict(err)
	}
	return job, nil
}

// PurgeJobsBefore deletes terminal job records created before cutoff.
func (r *JobRepository) PurgeJobsBefore(ctx context.Context, cutoff time.Time) (int, error) {
	var purged int
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(jobRecordPrefix + ":")
		iter := tx.NewIterator(opts)

		type victim struct {
			jobID     string
			createdAt time.Time
		}
		var victims []victim
		for iter.Rewind(); iter.Valid(); iter.Next() {
			var job *core.IngestionJob
			if err := iter.Item().Value(func(val []byte) error {
				var err error
				job, err = storage.UnmarshalJob(val)
				return err
			}); err != nil {
				iter.Close()
				return err
			}
			if job.Status.Terminal() && job.CreatedAt.Before(cutoff) {
				victims = append(victims, victim{jobID: job.JobID, createdAt: job.CreatedAt})
			}
		}
		// Close before Commit: Badger panics if the txn still has open iterators.
		iter.Close()

		for _, v := range victims {
			if err := tx.Delete(makeJobKey(v.jobID)); err != nil {
				return err
			}
			if err := tx.Delete(makeJobCreatedKey(v.createdAt, v.jobID)); err != nil {
				return err
			}
			purged++
		}
		return tx.Commit()
	}, true)
	if err != nil {
		return 0, mapConflict(err)
	}
	return purged, nil
}

// readJob reads a job record within a transaction.
func readJob(tx *badger.Txn, jobID string) (*core.IngestionJob, error) {
	item, err := tx.Get(makeJobKey(jobID))
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, storage.ErrNotFound
		}
		return nil, err
	}

	var job *core.IngestionJob
	err = item.Value(func(val []byte) error {
		var unmarshalErr error
		job, unmarshalErr = storage.UnmarshalJob(val)
		return unmarshalErr
	})
	if err != nil {
		return nil, err
	}
	return job, nil
}

// mapConflict translates badger's optimistic-transaction conflict into the
// storage-level sentinel.
func mapConflict(err error) error {
	if errors.Is(err, badger.ErrConflict) {
		return storage.ErrConflict
	}
	return err
}
