package worker

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"dripflow/config"
	"dripflow/models"
	"dripflow/store"
	"dripflow/utils"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := config.OpenDatabase("sqlite", filepath.Join(t.TempDir(), "worker.db"))
	require.NoError(t, err)
	require.NoError(t, config.MigrateDB(db))

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

// fakeMailer records messages and fails with the queued errors first.
type fakeMailer struct {
	mu   sync.Mutex
	sent []utils.Message
	errs []error
}

func (m *fakeMailer) Send(ctx context.Context, msg utils.Message) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		return "", err
	}
	m.sent = append(m.sent, msg)
	return "<test@example.com>", nil
}

func (m *fakeMailer) messages() []utils.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]utils.Message(nil), m.sent...)
}

type testEnv struct {
	jobs     *store.JobStore
	leads    *store.LeadStore
	mailer   *fakeMailer
	executor *DeliveryExecutor
	clock    *testClock
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func newTestEnv(t *testing.T) *testEnv {
	db := newTestDB(t)
	clock := &testClock{now: t0}
	jobs := store.NewJobStore(db, store.JobStoreConfig{
		LeaseTTL:     5 * time.Minute,
		MaxAttempts:  3,
		RetryBackoff: time.Minute,
	})
	leads := store.NewLeadStore(db)
	mailer := &fakeMailer{}

	return &testEnv{
		jobs:     jobs,
		leads:    leads,
		mailer:   mailer,
		executor: NewDeliveryExecutor(jobs, leads, mailer, time.Second, nil).WithClock(clock.Now),
		clock:    clock,
	}
}

func (e *testEnv) insert(t *testing.T, recipient string, at time.Time) models.EmailJob {
	t.Helper()
	job := models.EmailJob{
		Recipient:    recipient,
		Subject:      "Welcome",
		Body:         "<p>Hi</p>",
		ScheduledFor: at,
	}
	require.NoError(t, e.jobs.Insert(context.Background(), &job))
	return job
}

func (e *testEnv) claim(t *testing.T) models.EmailJob {
	t.Helper()
	claimed, err := e.jobs.FindDueUnsent(context.Background(), "test-worker", e.clock.Now(), 1)
	require.NoError(t, err)
	require.Len(t, claimed, 1)
	return claimed[0]
}
