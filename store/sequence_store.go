package store

import (
	"context"
	"errors"

	"dripflow/models"
	"dripflow/utils"

	"gorm.io/gorm"
)

type SequenceStore struct {
	db *gorm.DB
}

func NewSequenceStore(db *gorm.DB) *SequenceStore {
	return &SequenceStore{db: db}
}

func (s *SequenceStore) Create(ctx context.Context, sequence *models.Sequence) error {
	if err := s.db.WithContext(ctx).Create(sequence).Error; err != nil {
		return utils.NewStorageError("create sequence", err)
	}
	return nil
}

func (s *SequenceStore) Get(ctx context.Context, id uint) (*models.Sequence, error) {
	var sequence models.Sequence
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&sequence).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, utils.NewNotFoundError("sequence", id)
	}
	if err != nil {
		return nil, utils.NewStorageError("get sequence", err)
	}
	return &sequence, nil
}

// List returns all sequences, newest first.
func (s *SequenceStore) List(ctx context.Context) ([]models.Sequence, error) {
	var sequences []models.Sequence
	err := s.db.WithContext(ctx).Order("created_at desc, id desc").Find(&sequences).Error
	if err != nil {
		return nil, utils.NewStorageError("list sequences", err)
	}
	return sequences, nil
}

// Save writes every field of an existing sequence.
func (s *SequenceStore) Save(ctx context.Context, sequence *models.Sequence) error {
	if err := s.db.WithContext(ctx).Save(sequence).Error; err != nil {
		return utils.NewStorageError("update sequence", err)
	}
	return nil
}

// Delete soft-deletes a sequence. Jobs already scheduled from it are kept.
func (s *SequenceStore) Delete(ctx context.Context, id uint) error {
	result := s.db.WithContext(ctx).Delete(&models.Sequence{}, id)
	if result.Error != nil {
		return utils.NewStorageError("delete sequence", result.Error)
	}
	if result.RowsAffected == 0 {
		return utils.NewNotFoundError("sequence", id)
	}
	return nil
}
