package badger

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/poiesic/ragit/core"
	"github.com/poiesic/ragit/storage"
)

func newJobFixture(t *testing.T) (storage.JobRepository, func()) {
	t.Helper()

	jobRepo, knowledgeRepo, sessionRepo, backend, err := NewMemoryRepositories()
	if err != nil {
		t.Fatalf("Failed to create repositories: %v", err)
	}
	cleanup := func() {
		sessionRepo.Close()
		knowledgeRepo.Close()
		jobRepo.Close()
		backend.Close()
	}
	return jobRepo, cleanup
}

func pendingJob(jobID string, createdAt time.Time) *core.IngestionJob {
	return &core.IngestionJob{
		JobID:     jobID,
		Source:    core.SourcePlainText,
		Locator:   "some text to ingest",
		Status:    core.JobPending,
		CreatedAt: createdAt,
	}
}

func TestJobCreateAndGet(t *testing.T) {
	repo, cleanup := newJobFixture(t)
	defer cleanup()

	ctx := context.Background()

	job := pendingJob("job-1", time.Now().UTC())
	if err := repo.CreateJob(ctx, job); err != nil {
		t.Fatalf("Failed to create job: %v", err)
	}

	got, err := repo.GetJob(ctx, "job-1")
	if err != nil {
		t.Fatalf("Failed to get job: %v", err)
	}
	if got.Status != core.JobPending {
		t.Fatalf("Expected pending status, got %s", got.Status)
	}
	if got.Locator != job.Locator {
		t.Fatalf("Expected locator %q, got %q", job.Locator, got.Locator)
	}

	if err := repo.CreateJob(ctx, pendingJob("job-1", time.Now().UTC())); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Fatalf("Expected ErrDuplicateKey, got %v", err)
	}

	if _, err := repo.GetJob(ctx, "no-such-job"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Expected ErrNotFound, got %v", err)
	}
}

func TestJobListOrder(t *testing.T) {
	repo, cleanup := newJobFixture(t)
	defer cleanup()

	ctx := context.Background()
	now := time.Now().UTC()

	for i, jobID := range []string{"oldest", "middle", "newest"} {
		job := pendingJob(jobID, now.Add(time.Duration(i)*time.Minute))
		if err := repo.CreateJob(ctx, job); err != nil {
			t.Fatalf("Failed to create job %s: %v", jobID, err)
		}
	}

	jobs, err := repo.ListJobs(ctx)
	if err != nil {
		t.Fatalf("Failed to list jobs: %v", err)
	}
	if len(jobs) != 3 {
		t.Fatalf("Expected 3 jobs, got %d", len(jobs))
	}
	if jobs[0].JobID != "newest" || jobs[2].JobID != "oldest" {
		t.Fatalf("Expected newest-first order, got %s..%s", jobs[0].JobID, jobs[2].JobID)
	}
}

func TestJobTransition(t *testing.T) {
	repo, cleanup := newJobFixture(t)
	defer cleanup()

	ctx := context.Background()

	if err := repo.CreateJob(ctx, pendingJob("job-1", time.Now().UTC())); err != nil {
		t.Fatalf("Failed to create job: %v", err)
	}

	job, err := repo.TransitionJob(ctx, "job-1", core.JobPending, core.JobInProgress, nil)
	if err != nil {
		t.Fatalf("Failed to transition job: %v", err)
	}
	if job.Status != core.JobInProgress {
		t.Fatalf("Expected in_progress, got %s", job.Status)
	}
	if job.StartedAt.IsZero() {
		t.Fatal("Expected StartedAt to be set")
	}

	// A second claim from pending must observe the lost race.
	if _, err := repo.TransitionJob(ctx, "job-1", core.JobPending, core.JobInProgress, nil); !errors.Is(err, storage.ErrConflict) {
		t.Fatalf("Expected ErrConflict, got %v", err)
	}

	job, err = repo.TransitionJob(ctx, "job-1", core.JobInProgress, core.JobCompleted, func(j *core.IngestionJob) {
		j.DocumentID = "job-1"
		j.ChunkCount = 7
	})
	if err != nil {
		t.Fatalf("Failed to complete job: %v", err)
	}
	if job.DocumentID != "job-1" || job.ChunkCount != 7 {
		t.Fatalf("Mutation not applied: %+v", job)
	}
	if job.CompletedAt.IsZero() {
		t.Fatal("Expected CompletedAt to be set")
	}

	// Terminal states are final.
	if _, err := repo.TransitionJob(ctx, "job-1", core.JobCompleted, core.JobFailed, nil); !errors.Is(err, core.ErrInvalidTransition) {
		t.Fatalf("Expected ErrInvalidTransition, got %v", err)
	}
}

func TestJobTransitionConcurrentClaims(t *testing.T) {
	repo, cleanup := newJobFixture(t)
	defer cleanup()

	ctx := context.Background()

	if err := repo.CreateJob(ctx, pendingJob("job-1", time.Now().UTC())); err != nil {
		t.Fatalf("Failed to create job: %v", err)
	}

	const claimers = 8
	var wg sync.WaitGroup
	results := make(chan error, claimers)
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.TransitionJob(ctx, "job-1", core.JobPending, core.JobInProgress, nil)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var won, lost int
	for err := range results {
		switch {
		case err == nil:
			won++
		case errors.Is(err, storage.ErrConflict):
			lost++
		default:
			t.Fatalf("Unexpected error: %v", err)
		}
	}
	if won != 1 {
		t.Fatalf("Expected exactly one winning claim, got %d (lost %d)", won, lost)
	}
}

func TestPurgeJobsBefore(t *testing.T) {
	repo, cleanup := newJobFixture(t)
	defer cleanup()

	ctx := context.Background()
	now := time.Now().UTC()

	old := pendingJob("old-done", now.Add(-48*time.Hour))
	if err := repo.CreateJob(ctx, old); err != nil {
		t.Fatalf("Failed to create job: %v", err)
	}
	if _, err := repo.TransitionJob(ctx, "old-done", core.JobPending, core.JobFailed, nil); err != nil {
		t.Fatalf("Failed to fail job: %v", err)
	}

	// Still pending: must survive the purge regardless of age.
	if err := repo.CreateJob(ctx, pendingJob("old-pending", now.Add(-48*time.Hour))); err != nil {
		t.Fatalf("Failed to create job: %v", err)
	}
	if err := repo.CreateJob(ctx, pendingJob("fresh", now)); err != nil {
		t.Fatalf("Failed to create job: %v", err)
	}

	purged, err := repo.PurgeJobsBefore(ctx, now.Add(-24*time.Hour))
	if err != nil {
		t.Fatalf("Failed to purge jobs: %v", err)
	}
	if purged != 1 {
		t.Fatalf("Expected 1 purged job, got %d", purged)
	}

	if _, err := repo.GetJob(ctx, "old-done"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("Expected old-done to be gone, got %v", err)
	}
	jobs, err := repo.ListJobs(ctx)
	if err != nil {
		t.Fatalf("Failed to list jobs: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("Expected 2 surviving jobs, got %d", len(jobs))
	}
}
