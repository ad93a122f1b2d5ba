package store

import (
	"context"
	"errors"
	"time"

	"dripflow/models"
	"dripflow/utils"

	"gorm.io/gorm"
)

// ErrLeaseLost is returned when a job is transitioned by a worker that no
// longer holds its lease.
var ErrLeaseLost = errors.New("job lease lost")

const duePredicate = "((status = ? AND next_attempt_at <= ?) OR (status = ? AND locked_until < ?))"

type JobStoreConfig struct {
	LeaseTTL     time.Duration
	MaxAttempts  int
	RetryBackoff time.Duration
}

func DefaultJobStoreConfig() JobStoreConfig {
	return JobStoreConfig{
		LeaseTTL:     5 * time.Minute,
		MaxAttempts:  5,
		RetryBackoff: time.Minute,
	}
}

// JobStore owns every EmailJob state transition.
type JobStore struct {
	db  *gorm.DB
	cfg JobStoreConfig
}

func NewJobStore(db *gorm.DB, cfg JobStoreConfig) *JobStore {
	defaults := DefaultJobStoreConfig()
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = defaults.LeaseTTL
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaults.MaxAttempts
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = defaults.RetryBackoff
	}
	return &JobStore{db: db, cfg: cfg}
}

// Insert persists a new job in the scheduled state.
func (s *JobStore) Insert(ctx context.Context, job *models.EmailJob) error {
	job.ScheduledFor = dbTime(job.ScheduledFor)
	job.NextAttemptAt = job.ScheduledFor
	job.Status = models.JobStatusScheduled
	job.Sent = false
	job.SentAt = nil
	job.Attempts = 0
	job.LockedBy = nil
	job.LockedUntil = nil
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = s.cfg.MaxAttempts
	}

	if err := s.db.WithContext(ctx).Create(job).Error; err != nil {
		return utils.NewStorageError("insert email job", err)
	}
	return nil
}

// FindDueUnsent claims up to limit due jobs for workerID. A job is due when
// it is scheduled and its next attempt time has passed, or when another
// worker's lease on it has expired. Each candidate is claimed with a
// conditional update, so concurrent callers never receive the same job.
func (s *JobStore) FindDueUnsent(ctx context.Context, workerID string, now time.Time, limit int) ([]models.EmailJob, error) {
	now = dbTime(now)
	db := s.db.WithContext(ctx)

	var candidates []models.EmailJob
	err := db.
		Where(duePredicate, models.JobStatusScheduled, now, models.JobStatusSending, now).
		Order("next_attempt_at asc, id asc").
		Limit(limit).
		Find(&candidates).Error
	if err != nil {
		return nil, utils.NewStorageError("find due email jobs", err)
	}

	lockedUntil := now.Add(s.cfg.LeaseTTL)
	claimed := make([]models.EmailJob, 0, len(candidates))
	for _, job := range candidates {
		result := db.Model(&models.EmailJob{}).
			Where("id = ?", job.ID).
			Where(duePredicate, models.JobStatusScheduled, now, models.JobStatusSending, now).
			Updates(map[string]interface{}{
				"status":       models.JobStatusSending,
				"locked_by":    workerID,
				"locked_until": lockedUntil,
				"attempts":     gorm.Expr("attempts + 1"),
			})
		if result.Error != nil {
			return claimed, utils.NewStorageError("claim email job", result.Error)
		}
		if result.RowsAffected != 1 {
			// another worker got there first
			continue
		}

		job.Status = models.JobStatusSending
		job.LockedBy = utils.Pointer(workerID)
		job.LockedUntil = utils.Pointer(lockedUntil)
		job.Attempts++
		claimed = append(claimed, job)
	}

	return claimed, nil
}

// MarkSent records a successful delivery. Only the first call sets SentAt;
// later calls for an already sent job are no-ops.
func (s *JobStore) MarkSent(ctx context.Context, id uint, sentAt time.Time) error {
	sentAt = dbTime(sentAt)
	db := s.db.WithContext(ctx)

	result := db.Model(&models.EmailJob{}).
		Where("id = ? AND sent = ?", id, false).
		Updates(map[string]interface{}{
			"sent":         true,
			"sent_at":      sentAt,
			"status":       models.JobStatusSent,
			"locked_by":    nil,
			"locked_until": nil,
			"last_error":   "",
		})
	if result.Error != nil {
		return utils.NewStorageError("mark email job sent", result.Error)
	}
	if result.RowsAffected == 1 {
		return nil
	}

	var count int64
	if err := db.Model(&models.EmailJob{}).Where("id = ?", id).Count(&count).Error; err != nil {
		return utils.NewStorageError("mark email job sent", err)
	}
	if count == 0 {
		return utils.NewNotFoundError("email", id)
	}
	return nil
}

// MarkFailed records a failed attempt by the lease owner. Permanent failures
// and jobs out of attempts become failed; the rest are rescheduled after a
// quadratic backoff. It returns the status the job was moved to.
func (s *JobStore) MarkFailed(ctx context.Context, id uint, workerID string, cause error, permanent bool, now time.Time) (models.JobStatus, error) {
	now = dbTime(now)
	lastError := ""
	if cause != nil {
		lastError = cause.Error()
	}

	var status models.JobStatus
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var job models.EmailJob
		err := tx.Where("id = ?", id).First(&job).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return utils.NewNotFoundError("email", id)
		}
		if err != nil {
			return utils.NewStorageError("load email job", err)
		}
		if job.Status != models.JobStatusSending || job.LockedBy == nil || *job.LockedBy != workerID {
			return ErrLeaseLost
		}

		updates := map[string]interface{}{
			"locked_by":    nil,
			"locked_until": nil,
			"last_error":   lastError,
		}
		if permanent || job.Attempts >= job.MaxAttempts {
			status = models.JobStatusFailed
		} else {
			status = models.JobStatusScheduled
			updates["next_attempt_at"] = now.Add(s.Backoff(job.Attempts))
		}
		updates["status"] = status

		result := tx.Model(&models.EmailJob{}).
			Where("id = ? AND status = ? AND locked_by = ?", id, models.JobStatusSending, workerID).
			Updates(updates)
		if result.Error != nil {
			return utils.NewStorageError("mark email job failed", result.Error)
		}
		if result.RowsAffected != 1 {
			return ErrLeaseLost
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return status, nil
}

// Backoff is the wait before retrying a job that has failed attempts times.
func (s *JobStore) Backoff(attempts int) time.Duration {
	if attempts < 1 {
		attempts = 1
	}
	return time.Duration(attempts*attempts) * s.cfg.RetryBackoff
}

func (s *JobStore) Get(ctx context.Context, id uint) (*models.EmailJob, error) {
	var job models.EmailJob
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.NewNotFoundError("email", id)
	}
	if err != nil {
		return nil, utils.NewStorageError("get email job", err)
	}
	return &job, nil
}

// List returns every job, earliest scheduled first.
func (s *JobStore) List(ctx context.Context) ([]models.EmailJob, error) {
	var jobs []models.EmailJob
	err := s.db.WithContext(ctx).Order("scheduled_for asc, id asc").Find(&jobs).Error
	if err != nil {
		return nil, utils.NewStorageError("list email jobs", err)
	}
	return jobs, nil
}

// dbTime normalises timestamps so they compare the same in postgres and
// sqlite.
func dbTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Microsecond)
}
