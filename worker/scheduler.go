package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"dripflow/models"
	"dripflow/utils"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Scheduler errors.
var (
	ErrSchedulerRunning    = errors.New("scheduler already running")
	ErrSchedulerNotRunning = errors.New("scheduler not running")
)

// SchedulerConfig contains scheduler configuration.
type SchedulerConfig struct {
	// PollInterval is how often the scheduler looks for due jobs.
	PollInterval time.Duration

	// BatchSize caps the jobs claimed per tick.
	BatchSize int

	// Concurrency limits how many sends run at once.
	Concurrency int
}

func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		PollInterval: 10 * time.Second,
		BatchSize:    50,
		Concurrency:  10,
	}
}

// JobSource hands out due jobs leased to a worker.
type JobSource interface {
	FindDueUnsent(ctx context.Context, workerID string, now time.Time, limit int) ([]models.EmailJob, error)
}

// Deliverer sends one claimed job.
type Deliverer interface {
	Deliver(ctx context.Context, job models.EmailJob) error
}

// Scheduler polls the job store and dispatches due jobs. Any number of
// schedulers may share one store.
type Scheduler struct {
	jobs      JobSource
	deliverer Deliverer
	config    SchedulerConfig
	logger    *logrus.Entry
	workerID  string
	now       func() time.Time

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewScheduler(jobs JobSource, deliverer Deliverer, config SchedulerConfig, logger *logrus.Entry) *Scheduler {
	defaults := DefaultSchedulerConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.Concurrency <= 0 {
		config.Concurrency = defaults.Concurrency
	}
	if logger == nil {
		logger = utils.Component("scheduler")
	}

	workerID := uuid.New().String()
	return &Scheduler{
		jobs:      jobs,
		deliverer: deliverer,
		config:    config,
		logger:    logger.WithField("worker_id", workerID),
		workerID:  workerID,
		now:       time.Now,
	}
}

// WithClock replaces the clock used to decide which jobs are due.
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// WorkerID is the lease owner recorded on jobs this scheduler claims.
func (s *Scheduler) WorkerID() string {
	return s.workerID
}

// Start runs the polling loop in the background until ctx is cancelled or
// Stop is called. The first tick happens immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrSchedulerRunning
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true

	s.logger.WithFields(logrus.Fields{
		"poll_interval": s.config.PollInterval.String(),
		"batch_size":    s.config.BatchSize,
		"concurrency":   s.config.Concurrency,
	}).Info("Scheduler started")

	s.wg.Add(1)
	go s.runLoop(loopCtx)
	return nil
}

// Stop ends the loop and waits for in-flight sends to finish.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrSchedulerNotRunning
	}
	s.cancel()
	s.running = false
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("Scheduler stopped")
	return nil
}

func (s *Scheduler) runLoop(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	for {
		s.drain(ctx)

		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler shutting down...")
			return
		case <-ticker.C:
		}
	}
}

// drain ticks until a tick claims less than a full batch.
func (s *Scheduler) drain(ctx context.Context) {
	for ctx.Err() == nil {
		claimed, err := s.Tick(ctx)
		if err != nil || claimed < s.config.BatchSize {
			return
		}
	}
}

// Tick claims one batch of due jobs, delivers them concurrently and waits
// for every send to finish. It returns the number of jobs claimed.
func (s *Scheduler) Tick(ctx context.Context) (int, error) {
	jobs, err := s.jobs.FindDueUnsent(ctx, s.workerID, s.now(), s.config.BatchSize)
	if err != nil {
		utils.LogError("scheduler_claim_failed", err, map[string]interface{}{
			"worker_id": s.workerID,
			"claimed":   len(jobs),
		})
	}
	if len(jobs) == 0 {
		return 0, err
	}

	s.logger.WithField("count", len(jobs)).Debug("Dispatching due emails")

	// claimed jobs are sent even if the loop is stopping
	sendCtx := context.WithoutCancel(ctx)

	g := new(errgroup.Group)
	g.SetLimit(s.config.Concurrency)
	for _, job := range jobs {
		job := job
		g.Go(func() error {
			if err := s.deliverer.Deliver(sendCtx, job); err != nil {
				s.logger.WithFields(logrus.Fields{
					"job_id":    job.ID,
					"recipient": job.Recipient,
				}).WithError(err).Debug("Delivery did not complete")
			}
			return nil
		})
	}
	_ = g.Wait()

	return len(jobs), err
}
