package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"dripflow/models"
	"dripflow/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func newJobStore(t *testing.T) *JobStore {
	return NewJobStore(newTestDB(t), JobStoreConfig{
		LeaseTTL:     5 * time.Minute,
		MaxAttempts:  3,
		RetryBackoff: time.Minute,
	})
}

func insertJob(t *testing.T, s *JobStore, recipient string, at time.Time) models.EmailJob {
	t.Helper()
	job := models.EmailJob{
		Recipient:    recipient,
		Subject:      "Welcome",
		Body:         "<p>Hi</p>",
		ScheduledFor: at,
	}
	require.NoError(t, s.Insert(context.Background(), &job))
	return job
}

func TestInsertStartsScheduled(t *testing.T) {
	s := newJobStore(t)
	ctx := context.Background()

	job := insertJob(t, s, "lead@example.com", t0.Add(time.Minute))
	require.NotZero(t, job.ID)

	stored, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusScheduled, stored.Status)
	assert.False(t, stored.Sent)
	assert.Nil(t, stored.SentAt)
	assert.Equal(t, 0, stored.Attempts)
	assert.Equal(t, 3, stored.MaxAttempts)
	assert.WithinDuration(t, t0.Add(time.Minute), stored.ScheduledFor, time.Millisecond)
	assert.WithinDuration(t, stored.ScheduledFor, stored.NextAttemptAt, time.Millisecond)
}

func TestFindDueUnsentClaimsOnlyDueJobs(t *testing.T) {
	s := newJobStore(t)
	ctx := context.Background()

	past := insertJob(t, s, "past@example.com", t0.Add(-time.Hour))
	now := insertJob(t, s, "now@example.com", t0)
	insertJob(t, s, "future@example.com", t0.Add(time.Second))

	claimed, err := s.FindDueUnsent(ctx, "worker-a", t0, 10)
	require.NoError(t, err)
	require.Len(t, claimed, 2)
	assert.Equal(t, past.ID, claimed[0].ID)
	assert.Equal(t, now.ID, claimed[1].ID)

	for _, job := range claimed {
		assert.Equal(t, models.JobStatusSending, job.Status)
		assert.Equal(t, 1, job.Attempts)
		require.NotNil(t, job.LockedBy)
		assert.Equal(t, "worker-a", *job.LockedBy)

		stored, err := s.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, models.JobStatusSending, stored.Status)
		assert.Equal(t, 1, stored.Attempts)
		require.NotNil(t, stored.LockedUntil)
		assert.WithinDuration(t, t0.Add(5*time.Minute), *stored.LockedUntil, time.Millisecond)
	}

	again, err := s.FindDueUnsent(ctx, "worker-b", t0, 10)
	require.NoError(t, err)
	assert.Empty(t, again)
}

func TestFindDueUnsentRespectsLimit(t *testing.T) {
	s := newJobStore(t)
	for i := 0; i < 5; i++ {
		insertJob(t, s, "lead@example.com", t0.Add(-time.Duration(i)*time.Minute))
	}

	claimed, err := s.FindDueUnsent(context.Background(), "worker-a", t0, 2)
	require.NoError(t, err)
	assert.Len(t, claimed, 2)
}

func TestConcurrentClaimHasOneWinner(t *testing.T) {
	s := newJobStore(t)
	job := insertJob(t, s, "lead@example.com", t0)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []string
	)
	for _, worker := range []string{"worker-a", "worker-b", "worker-c", "worker-d"} {
		wg.Add(1)
		go func(worker string) {
			defer wg.Done()
			claimed, err := s.FindDueUnsent(context.Background(), worker, t0, 10)
			assert.NoError(t, err)
			for _, c := range claimed {
				assert.Equal(t, job.ID, c.ID)
				mu.Lock()
				winners = append(winners, worker)
				mu.Unlock()
			}
		}(worker)
	}
	wg.Wait()

	require.Len(t, winners, 1)
	stored, err := s.Get(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, winners[0], *stored.LockedBy)
	assert.Equal(t, 1, stored.Attempts)
}

func TestExpiredLeaseIsReclaimed(t *testing.T) {
	s := newJobStore(t)
	ctx := context.Background()
	job := insertJob(t, s, "lead@example.com", t0)

	_, err := s.FindDueUnsent(ctx, "crashed", t0, 10)
	require.NoError(t, err)

	// still leased
	claimed, err := s.FindDueUnsent(ctx, "worker-b", t0.Add(4*time.Minute), 10)
	require.NoError(t, err)
	assert.Empty(t, claimed)

	claimed, err = s.FindDueUnsent(ctx, "worker-b", t0.Add(6*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	assert.Equal(t, job.ID, claimed[0].ID)
	assert.Equal(t, 2, claimed[0].Attempts)

	// the crashed worker can no longer record an outcome
	_, err = s.MarkFailed(ctx, job.ID, "crashed", errors.New("late"), false, t0.Add(7*time.Minute))
	assert.ErrorIs(t, err, ErrLeaseLost)
}

func TestMarkSentIsIdempotent(t *testing.T) {
	s := newJobStore(t)
	ctx := context.Background()
	job := insertJob(t, s, "lead@example.com", t0)

	_, err := s.FindDueUnsent(ctx, "worker-a", t0, 10)
	require.NoError(t, err)

	first := t0.Add(2 * time.Second)
	require.NoError(t, s.MarkSent(ctx, job.ID, first))
	require.NoError(t, s.MarkSent(ctx, job.ID, first.Add(time.Hour)))

	stored, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.True(t, stored.Sent)
	assert.Equal(t, models.JobStatusSent, stored.Status)
	require.NotNil(t, stored.SentAt)
	assert.WithinDuration(t, first, *stored.SentAt, time.Millisecond)
	assert.Nil(t, stored.LockedBy)

	// sent jobs are never handed out again
	claimed, err := s.FindDueUnsent(ctx, "worker-a", t0.Add(24*time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, claimed)

	err = s.MarkSent(ctx, 9999, first)
	assert.True(t, errors.Is(err, utils.ErrNotFound))
}

func TestMarkFailedRetriesWithBackoff(t *testing.T) {
	s := newJobStore(t)
	ctx := context.Background()
	job := insertJob(t, s, "lead@example.com", t0)
	cause := errors.New("421 try again later")

	// attempt 1
	_, err := s.FindDueUnsent(ctx, "worker-a", t0, 10)
	require.NoError(t, err)
	status, err := s.MarkFailed(ctx, job.ID, "worker-a", cause, false, t0)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusScheduled, status)

	stored, err := s.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "421 try again later", stored.LastError)
	assert.Nil(t, stored.LockedBy)
	assert.WithinDuration(t, t0.Add(time.Minute), stored.NextAttemptAt, time.Millisecond)

	// not due before the backoff has passed
	claimed, err := s.FindDueUnsent(ctx, "worker-a", t0.Add(30*time.Second), 10)
	require.NoError(t, err)
	assert.Empty(t, claimed)

	// attempt 2, backoff grows with attempts
	claimed, err = s.FindDueUnsent(ctx, "worker-a", t0.Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	status, err = s.MarkFailed(ctx, job.ID, "worker-a", cause, false, t0.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusScheduled, status)
	stored, err = s.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.WithinDuration(t, t0.Add(5*time.Minute), stored.NextAttemptAt, time.Millisecond)

	// attempt 3 exhausts MaxAttempts
	claimed, err = s.FindDueUnsent(ctx, "worker-a", t0.Add(5*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	status, err = s.MarkFailed(ctx, job.ID, "worker-a", cause, false, t0.Add(5*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, status)

	claimed, err = s.FindDueUnsent(ctx, "worker-a", t0.Add(24*time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, claimed)

	stored, err = s.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, stored.Attempts)
	assert.False(t, stored.Sent)
}

func TestMarkFailedPermanent(t *testing.T) {
	s := newJobStore(t)
	ctx := context.Background()
	job := insertJob(t, s, "nobody@example.com", t0)

	_, err := s.FindDueUnsent(ctx, "worker-a", t0, 10)
	require.NoError(t, err)

	status, err := s.MarkFailed(ctx, job.ID, "worker-a", errors.New("550 no such user"), true, t0)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, status)

	// only the lease owner may transition a job
	_, err = s.MarkFailed(ctx, job.ID, "worker-a", errors.New("again"), false, t0)
	assert.ErrorIs(t, err, ErrLeaseLost)

	_, err = s.MarkFailed(ctx, 9999, "worker-a", errors.New("x"), false, t0)
	assert.True(t, errors.Is(err, utils.ErrNotFound))
}

func TestBackoff(t *testing.T) {
	s := NewJobStore(nil, JobStoreConfig{RetryBackoff: 30 * time.Second})
	assert.Equal(t, 30*time.Second, s.Backoff(0))
	assert.Equal(t, 30*time.Second, s.Backoff(1))
	assert.Equal(t, 2*time.Minute, s.Backoff(2))
	assert.Equal(t, 270*time.Second, s.Backoff(3))
}

func TestListAndGet(t *testing.T) {
	s := newJobStore(t)
	ctx := context.Background()

	later := insertJob(t, s, "b@example.com", t0.Add(time.Hour))
	sooner := insertJob(t, s, "a@example.com", t0)

	jobs, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, sooner.ID, jobs[0].ID)
	assert.Equal(t, later.ID, jobs[1].ID)

	_, err = s.Get(ctx, 12345)
	assert.True(t, errors.Is(err, utils.ErrNotFound))
}
