package models

import (
	"strings"
	"time"
)

// LeadStatus tracks whether a lead may still be emailed.
type LeadStatus string

const (
	LeadStatusActive       LeadStatus = "active"
	LeadStatusUnsubscribed LeadStatus = "unsubscribed"
	LeadStatusBounced      LeadStatus = "bounced"
)

// Lead represents a single recipient enrolled in sequences
type Lead struct {
	ID     uint   `gorm:"primaryKey" json:"id"`
	Email  string `gorm:"not null;uniqueIndex" json:"email"` // stored lowercased
	Name   string `json:"name,omitempty"`
	Source string `json:"source,omitempty"`

	// Last sequence run for this lead
	SequenceID *uint `gorm:"index" json:"sequenceId,omitempty"`

	Status   LeadStatus             `gorm:"not null;default:'active'" json:"status"`
	Metadata map[string]interface{} `gorm:"type:jsonb;serializer:json" json:"metadata,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// IsSuppressed reports whether sends to this lead must be skipped.
func (l *Lead) IsSuppressed() bool {
	return l.Status == LeadStatusUnsubscribed || l.Status == LeadStatusBounced
}

// NormalizeEmail is the canonical form used for lead lookups.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
