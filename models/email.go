package models

import "time"

// JobStatus is the delivery state of an EmailJob.
//
//	scheduled -> sending -> sent
//	               |-> scheduled (retry after backoff)
//	               |-> failed    (permanent error or attempts exhausted)
type JobStatus string

const (
	JobStatusScheduled JobStatus = "scheduled"
	JobStatusSending   JobStatus = "sending"
	JobStatusSent      JobStatus = "sent"
	JobStatusFailed    JobStatus = "failed"
)

// EmailJob is one scheduled email send. Jobs are created by sequence runs or
// one-off scheduling and only ever transitioned by the job store.
type EmailJob struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	Recipient    string     `gorm:"not null;index" json:"recipient"`
	Subject      string     `gorm:"not null" json:"subject"`
	Body         string     `gorm:"type:text;not null" json:"body"`
	ScheduledFor time.Time  `gorm:"not null;index" json:"scheduledFor"`
	Sent         bool       `gorm:"not null;default:false" json:"sent"`
	SentAt       *time.Time `json:"sentAt,omitempty"`

	// Origin
	SequenceID *uint  `gorm:"index" json:"sequenceId,omitempty"`
	LeadID     *uint  `gorm:"index" json:"leadId,omitempty"`
	NodeID     string `json:"nodeId,omitempty"`

	// Delivery state
	Status        JobStatus  `gorm:"not null;index:idx_email_jobs_due,priority:1" json:"status"`
	Attempts      int        `gorm:"not null;default:0" json:"attempts"`
	MaxAttempts   int        `gorm:"not null" json:"maxAttempts"`
	NextAttemptAt time.Time  `gorm:"not null;index:idx_email_jobs_due,priority:2" json:"nextAttemptAt"`
	LockedBy      *string    `json:"-"`
	LockedUntil   *time.Time `json:"-"`
	LastError     string     `gorm:"type:text" json:"lastError,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
