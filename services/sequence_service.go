package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"dripflow/models"
	"dripflow/store"
	"dripflow/utils"

	"github.com/sirupsen/logrus"
)

type CreateSequenceInput struct {
	Name        string                `json:"name" validate:"required"`
	Description string                `json:"description"`
	Nodes       []models.SequenceNode `json:"nodes" validate:"required"`
	Edges       []models.SequenceEdge `json:"edges" validate:"required"`
	IsActive    *bool                 `json:"isActive"`
}

// UpdateSequenceInput is a partial update; nil fields are left unchanged and
// supplied nodes or edges replace the stored lists.
type UpdateSequenceInput struct {
	Name        *string                `json:"name"`
	Description *string                `json:"description"`
	Nodes       *[]models.SequenceNode `json:"nodes"`
	Edges       *[]models.SequenceEdge `json:"edges"`
	IsActive    *bool                  `json:"isActive"`
}

type RunSequenceInput struct {
	LeadEmail string `json:"leadEmail" validate:"required"`
	LeadName  string `json:"leadName"`
	Source    string `json:"source"`
}

type RunResult struct {
	Lead *models.Lead      `json:"lead"`
	Jobs []models.EmailJob `json:"emails"`
}

// OneOffEmailInput schedules a single email. The delay cap matches
// models.MaxDelaySeconds.
type OneOffEmailInput struct {
	Recipient    string `json:"recipient" validate:"required"`
	Subject      string `json:"subject" validate:"required"`
	Body         string `json:"body" validate:"required"`
	DelaySeconds *int64 `json:"delay" validate:"required,min=0,max=315360000"`
}

// SequenceService runs sequences for leads and exposes sequence and email
// records to the HTTP layer.
type SequenceService struct {
	sequences *store.SequenceStore
	leads     *store.LeadStore
	jobs      *store.JobStore
	logger    *logrus.Entry
	now       func() time.Time
}

func NewSequenceService(sequences *store.SequenceStore, leads *store.LeadStore, jobs *store.JobStore, logger *logrus.Entry) *SequenceService {
	if logger == nil {
		logger = utils.Component("sequences")
	}
	return &SequenceService{
		sequences: sequences,
		leads:     leads,
		jobs:      jobs,
		logger:    logger,
		now:       time.Now,
	}
}

// WithClock replaces the clock used to compute send times.
func (s *SequenceService) WithClock(now func() time.Time) *SequenceService {
	s.now = now
	return s
}

func (s *SequenceService) CreateSequence(ctx context.Context, in CreateSequenceInput) (*models.Sequence, error) {
	if err := utils.ValidateStruct(in); err != nil {
		return nil, err
	}

	sequence := &models.Sequence{
		Name:        strings.TrimSpace(in.Name),
		Description: in.Description,
		Nodes:       in.Nodes,
		Edges:       in.Edges,
		IsActive:    true,
	}
	if in.IsActive != nil {
		sequence.IsActive = *in.IsActive
	}
	if err := sequence.Validate(); err != nil {
		return nil, err
	}

	if err := s.sequences.Create(ctx, sequence); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"sequence_id": sequence.ID,
		"nodes":       len(sequence.Nodes),
	}).Info("Sequence created")
	return sequence, nil
}

func (s *SequenceService) GetSequence(ctx context.Context, id uint) (*models.Sequence, error) {
	return s.sequences.Get(ctx, id)
}

func (s *SequenceService) ListSequences(ctx context.Context) ([]models.Sequence, error) {
	return s.sequences.List(ctx)
}

func (s *SequenceService) UpdateSequence(ctx context.Context, id uint, patch UpdateSequenceInput) (*models.Sequence, error) {
	sequence, err := s.sequences.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if patch.Name != nil {
		sequence.Name = strings.TrimSpace(*patch.Name)
	}
	if patch.Description != nil {
		sequence.Description = *patch.Description
	}
	if patch.Nodes != nil {
		sequence.Nodes = *patch.Nodes
	}
	if patch.Edges != nil {
		sequence.Edges = *patch.Edges
	}
	if patch.IsActive != nil {
		sequence.IsActive = *patch.IsActive
	}

	if err := sequence.Validate(); err != nil {
		return nil, err
	}
	if err := s.sequences.Save(ctx, sequence); err != nil {
		return nil, err
	}
	return sequence, nil
}

// DeleteSequence removes the sequence. Emails already scheduled from it are
// still delivered.
func (s *SequenceService) DeleteSequence(ctx context.Context, id uint) error {
	return s.sequences.Delete(ctx, id)
}

// RunSequence enrolls a lead in the sequence and schedules one email job per
// email node, relative to now.
func (s *SequenceService) RunSequence(ctx context.Context, id uint, in RunSequenceInput) (*RunResult, error) {
	if err := utils.ValidateStruct(in); err != nil {
		return nil, err
	}
	if err := utils.ValidateEmailAddress(in.LeadEmail); err != nil {
		return nil, err
	}

	sequence, err := s.sequences.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !sequence.IsActive {
		return nil, utils.NewValidationError("sequence is not active")
	}

	lead, err := s.leads.Upsert(ctx, store.LeadUpsert{
		Email:      in.LeadEmail,
		Name:       strings.TrimSpace(in.LeadName),
		Source:     strings.TrimSpace(in.Source),
		SequenceID: utils.Pointer(sequence.ID),
	})
	if err != nil {
		return nil, err
	}

	timeline := sequence.Timeline()
	startedAt := s.now()
	jobs := make([]models.EmailJob, 0, len(timeline))

	for _, entry := range timeline {
		job := models.EmailJob{
			Recipient:    lead.Email,
			Subject:      entry.Email.Subject,
			Body:         entry.Email.Body,
			ScheduledFor: startedAt.Add(time.Duration(entry.DelaySeconds) * time.Second),
			SequenceID:   utils.Pointer(sequence.ID),
			LeadID:       utils.Pointer(lead.ID),
			NodeID:       entry.NodeID,
		}
		if err := s.jobs.Insert(ctx, &job); err != nil {
			return &RunResult{Lead: lead, Jobs: jobs}, utils.NewStorageError(
				fmt.Sprintf("scheduled %d of %d emails", len(jobs), len(timeline)), err)
		}
		jobs = append(jobs, job)
	}

	utils.LogEvent("sequence_run", map[string]interface{}{
		"sequence_id": sequence.ID,
		"lead_id":     lead.ID,
		"recipient":   lead.Email,
		"emails":      len(jobs),
	})
	return &RunResult{Lead: lead, Jobs: jobs}, nil
}

// ScheduleOneOffEmail schedules a single email delay seconds from now. A zero
// delay makes it due on the next scheduler tick.
func (s *SequenceService) ScheduleOneOffEmail(ctx context.Context, in OneOffEmailInput) (*models.EmailJob, error) {
	if err := utils.ValidateStruct(in); err != nil {
		return nil, err
	}
	if err := utils.ValidateEmailAddress(in.Recipient); err != nil {
		return nil, err
	}

	job := &models.EmailJob{
		Recipient:    models.NormalizeEmail(in.Recipient),
		Subject:      in.Subject,
		Body:         in.Body,
		ScheduledFor: s.now().Add(time.Duration(*in.DelaySeconds) * time.Second),
	}
	if err := s.jobs.Insert(ctx, job); err != nil {
		return nil, err
	}

	s.logger.WithFields(logrus.Fields{
		"job_id":        job.ID,
		"recipient":     job.Recipient,
		"scheduled_for": job.ScheduledFor,
	}).Info("Email scheduled")
	return job, nil
}

func (s *SequenceService) ListEmails(ctx context.Context) ([]models.EmailJob, error) {
	return s.jobs.List(ctx)
}

func (s *SequenceService) GetEmail(ctx context.Context, id uint) (*models.EmailJob, error) {
	return s.jobs.Get(ctx, id)
}

// UnsubscribeLead stops every pending email to the lead.
func (s *SequenceService) UnsubscribeLead(ctx context.Context, id uint) (*models.Lead, error) {
	if err := s.leads.SetStatus(ctx, id, models.LeadStatusUnsubscribed); err != nil {
		return nil, err
	}
	return s.leads.Get(ctx, id)
}
