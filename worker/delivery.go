package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"dripflow/models"
	"dripflow/utils"

	"github.com/sirupsen/logrus"
)

// ErrRecipientSuppressed is recorded on jobs whose lead unsubscribed or bounced.
var ErrRecipientSuppressed = errors.New("recipient is suppressed")

// JobLedger records the outcome of a delivery attempt.
type JobLedger interface {
	MarkSent(ctx context.Context, id uint, sentAt time.Time) error
	MarkFailed(ctx context.Context, id uint, workerID string, cause error, permanent bool, now time.Time) (models.JobStatus, error)
}

// Recipients looks up and updates the lead behind a job's recipient.
type Recipients interface {
	FindByEmail(ctx context.Context, email string) (*models.Lead, error)
	MarkBounced(ctx context.Context, email string) error
}

type DeliveryExecutor struct {
	jobs        JobLedger
	leads       Recipients
	mailer      utils.Mailer
	sendTimeout time.Duration
	logger      *logrus.Entry
	now         func() time.Time
}

func NewDeliveryExecutor(jobs JobLedger, leads Recipients, mailer utils.Mailer, sendTimeout time.Duration, logger *logrus.Entry) *DeliveryExecutor {
	if sendTimeout <= 0 {
		sendTimeout = 30 * time.Second
	}
	if logger == nil {
		logger = utils.Component("delivery")
	}
	return &DeliveryExecutor{
		jobs:        jobs,
		leads:       leads,
		mailer:      mailer,
		sendTimeout: sendTimeout,
		logger:      logger,
		now:         time.Now,
	}
}

// WithClock replaces the clock used for sent and retry times.
func (d *DeliveryExecutor) WithClock(now func() time.Time) *DeliveryExecutor {
	d.now = now
	return d
}

// Deliver sends a claimed job once and records the outcome. The job must be
// leased; the lease owner is taken from job.LockedBy. A failed send returns
// the TransportError after the job has been rescheduled or failed.
func (d *DeliveryExecutor) Deliver(ctx context.Context, job models.EmailJob) error {
	if job.LockedBy == nil {
		return fmt.Errorf("email job %d is not claimed", job.ID)
	}
	workerID := *job.LockedBy

	log := d.logger.WithFields(logrus.Fields{
		"job_id":    job.ID,
		"recipient": job.Recipient,
		"attempt":   job.Attempts,
		"worker_id": workerID,
	})

	lead, err := d.leads.FindByEmail(ctx, job.Recipient)
	if err != nil {
		d.fail(ctx, log, job, workerID, err, false)
		return err
	}
	if lead != nil && lead.IsSuppressed() {
		cause := fmt.Errorf("%w: lead is %s", ErrRecipientSuppressed, lead.Status)
		log.WithField("lead_status", lead.Status).Info("Skipping email to suppressed recipient")
		d.fail(ctx, log, job, workerID, cause, true)
		return cause
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.sendTimeout)
	defer cancel()

	messageID, err := d.mailer.Send(sendCtx, utils.Message{
		To:       job.Recipient,
		Subject:  job.Subject,
		HTMLBody: job.Body,
	})
	if err != nil {
		transportErr := utils.ClassifyTransportError(err)
		d.fail(ctx, log, job, workerID, transportErr, !transportErr.Temporary)

		if !transportErr.Temporary && transportErr.RecipientRejected() {
			if err := d.leads.MarkBounced(ctx, job.Recipient); err != nil {
				log.WithError(err).Warn("Failed to mark lead bounced")
			}
		}
		return transportErr
	}

	if err := d.jobs.MarkSent(ctx, job.ID, d.now()); err != nil {
		// the lease expires and the job is sent again
		utils.LogError("mark_sent_failed", err, map[string]interface{}{
			"job_id":     job.ID,
			"message_id": messageID,
		})
		return err
	}

	utils.LogEvent("email_sent", map[string]interface{}{
		"job_id":     job.ID,
		"recipient":  job.Recipient,
		"message_id": messageID,
		"attempt":    job.Attempts,
	})
	return nil
}

func (d *DeliveryExecutor) fail(ctx context.Context, log *logrus.Entry, job models.EmailJob, workerID string, cause error, permanent bool) {
	status, err := d.jobs.MarkFailed(ctx, job.ID, workerID, cause, permanent, d.now())
	if err != nil {
		log.WithError(err).Error("Failed to record delivery failure")
		return
	}

	if status == models.JobStatusFailed {
		utils.LogError("delivery_failed", cause, map[string]interface{}{
			"job_id":    job.ID,
			"recipient": job.Recipient,
			"attempts":  job.Attempts,
			"permanent": permanent,
		})
		return
	}
	log.WithError(cause).Warn("Delivery attempt failed, will retry")
}
