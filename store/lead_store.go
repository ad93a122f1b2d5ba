package store

import (
	"context"
	"errors"

	"dripflow/models"
	"dripflow/utils"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// LeadUpsert carries the fields merged into a lead when a sequence runs.
type LeadUpsert struct {
	Email      string
	Name       string
	Source     string
	SequenceID *uint
}

type LeadStore struct {
	db *gorm.DB
}

func NewLeadStore(db *gorm.DB) *LeadStore {
	return &LeadStore{db: db}
}

// FindByEmail returns nil without an error when no lead has the address.
func (s *LeadStore) FindByEmail(ctx context.Context, email string) (*models.Lead, error) {
	var lead models.Lead
	err := s.db.WithContext(ctx).Where("email = ?", models.NormalizeEmail(email)).First(&lead).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, utils.NewStorageError("find lead", err)
	}
	return &lead, nil
}

func (s *LeadStore) Get(ctx context.Context, id uint) (*models.Lead, error) {
	var lead models.Lead
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&lead).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.NewNotFoundError("lead", id)
	}
	if err != nil {
		return nil, utils.NewStorageError("get lead", err)
	}
	return &lead, nil
}

// Upsert creates the lead when the address is new. Otherwise non-empty name
// and source overwrite the stored values and the lead is attached to the
// sequence; its status is left alone. The insert resolves conflicts on the
// email index, so concurrent runs for a new address all succeed.
func (s *LeadStore) Upsert(ctx context.Context, in LeadUpsert) (*models.Lead, error) {
	email := models.NormalizeEmail(in.Email)

	var lead models.Lead
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		candidate := models.Lead{
			Email:      email,
			Name:       in.Name,
			Source:     in.Source,
			SequenceID: in.SequenceID,
			Status:     models.LeadStatusActive,
		}
		err := tx.Clauses(clause.OnConflict{
			Columns: []clause.Column{{Name: "email"}},
			DoUpdates: clause.Assignments(map[string]interface{}{
				"name":        gorm.Expr("CASE WHEN excluded.name <> '' THEN excluded.name ELSE leads.name END"),
				"source":      gorm.Expr("CASE WHEN excluded.source <> '' THEN excluded.source ELSE leads.source END"),
				"sequence_id": gorm.Expr("COALESCE(excluded.sequence_id, leads.sequence_id)"),
				"updated_at":  gorm.Expr("excluded.updated_at"),
			}),
		}).Create(&candidate).Error
		if err != nil {
			return err
		}
		return tx.Where("email = ?", email).First(&lead).Error
	})
	if err != nil {
		return nil, utils.NewStorageError("upsert lead", err)
	}
	return &lead, nil
}

// MarkBounced stops all further sends to the address.
func (s *LeadStore) MarkBounced(ctx context.Context, email string) error {
	err := s.db.WithContext(ctx).Model(&models.Lead{}).
		Where("email = ?", models.NormalizeEmail(email)).
		Update("status", models.LeadStatusBounced).Error
	if err != nil {
		return utils.NewStorageError("mark lead bounced", err)
	}
	return nil
}

// SetStatus changes the status of a lead, e.g. after an unsubscribe.
func (s *LeadStore) SetStatus(ctx context.Context, id uint, status models.LeadStatus) error {
	result := s.db.WithContext(ctx).Model(&models.Lead{}).Where("id = ?", id).Update("status", status)
	if result.Error != nil {
		return utils.NewStorageError("set lead status", result.Error)
	}
	if result.RowsAffected == 0 {
		return utils.NewNotFoundError("lead", id)
	}
	return nil
}
