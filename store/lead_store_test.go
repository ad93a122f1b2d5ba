package store

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"dripflow/models"
	"dripflow/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

func TestLeadUpsertCreatesAndMerges(t *testing.T) {
	s := NewLeadStore(newTestDB(t))
	ctx := context.Background()

	lead, err := s.Upsert(ctx, LeadUpsert{
		Email:      "Jane@Example.com",
		Name:       "Jane",
		Source:     "webinar",
		SequenceID: utils.Pointer(uint(1)),
	})
	require.NoError(t, err)
	require.NotZero(t, lead.ID)
	assert.Equal(t, "jane@example.com", lead.Email)
	assert.Equal(t, models.LeadStatusActive, lead.Status)

	merged, err := s.Upsert(ctx, LeadUpsert{
		Email:      "jane@example.com",
		Source:     "import",
		SequenceID: utils.Pointer(uint(2)),
	})
	require.NoError(t, err)
	assert.Equal(t, lead.ID, merged.ID)
	assert.Equal(t, "Jane", merged.Name)
	assert.Equal(t, "import", merged.Source)
	require.NotNil(t, merged.SequenceID)
	assert.Equal(t, uint(2), *merged.SequenceID)

	found, err := s.FindByEmail(ctx, " JANE@example.com ")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, lead.ID, found.ID)
}

func TestLeadUpsertOnExistingRow(t *testing.T) {
	db := newTestDB(t)
	s := NewLeadStore(db)
	ctx := context.Background()

	stored := models.Lead{Email: "b@example.com", Name: "Stored", Source: "csv", Status: models.LeadStatusActive}
	require.NoError(t, db.Create(&stored).Error)

	lead, err := s.Upsert(ctx, LeadUpsert{Email: "B@example.com"})
	require.NoError(t, err)
	assert.Equal(t, stored.ID, lead.ID)
	assert.Equal(t, "Stored", lead.Name)
	assert.Equal(t, "csv", lead.Source)
	assert.Nil(t, lead.SequenceID)

	lead, err = s.Upsert(ctx, LeadUpsert{Email: "b@example.com", SequenceID: utils.Pointer(uint(7))})
	require.NoError(t, err)
	require.NotNil(t, lead.SequenceID)
	assert.Equal(t, uint(7), *lead.SequenceID)

	// a later run without a sequence keeps the last one
	lead, err = s.Upsert(ctx, LeadUpsert{Email: "b@example.com", Name: "New"})
	require.NoError(t, err)
	assert.Equal(t, "New", lead.Name)
	require.NotNil(t, lead.SequenceID)
	assert.Equal(t, uint(7), *lead.SequenceID)
}

func TestLeadUpsertConcurrentNewAddress(t *testing.T) {
	db := newTestDB(t)
	s := NewLeadStore(db)
	ctx := context.Background()

	const runs = 8
	ids := make([]uint, runs)
	var g errgroup.Group
	for i := 0; i < runs; i++ {
		i := i
		g.Go(func() error {
			lead, err := s.Upsert(ctx, LeadUpsert{Email: "race@example.com", Name: fmt.Sprintf("Lead %d", i)})
			if err != nil {
				return err
			}
			ids[i] = lead.ID
			return nil
		})
	}
	require.NoError(t, g.Wait())

	var count int64
	require.NoError(t, db.Model(&models.Lead{}).Where("email = ?", "race@example.com").Count(&count).Error)
	assert.Equal(t, int64(1), count)
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
}

func TestLeadUpsertKeepsStatus(t *testing.T) {
	s := NewLeadStore(newTestDB(t))
	ctx := context.Background()

	lead, err := s.Upsert(ctx, LeadUpsert{Email: "a@example.com"})
	require.NoError(t, err)
	require.NoError(t, s.SetStatus(ctx, lead.ID, models.LeadStatusUnsubscribed))

	again, err := s.Upsert(ctx, LeadUpsert{Email: "a@example.com", Name: "A"})
	require.NoError(t, err)
	assert.Equal(t, models.LeadStatusUnsubscribed, again.Status)
	assert.True(t, again.IsSuppressed())
}

func TestLeadMarkBounced(t *testing.T) {
	s := NewLeadStore(newTestDB(t))
	ctx := context.Background()

	lead, err := s.Upsert(ctx, LeadUpsert{Email: "gone@example.com"})
	require.NoError(t, err)
	require.NoError(t, s.MarkBounced(ctx, "GONE@example.com"))

	stored, err := s.Get(ctx, lead.ID)
	require.NoError(t, err)
	assert.Equal(t, models.LeadStatusBounced, stored.Status)
}

func TestLeadLookupsWhenMissing(t *testing.T) {
	s := NewLeadStore(newTestDB(t))
	ctx := context.Background()

	lead, err := s.FindByEmail(ctx, "nobody@example.com")
	require.NoError(t, err)
	assert.Nil(t, lead)

	_, err = s.Get(ctx, 42)
	assert.True(t, errors.Is(err, utils.ErrNotFound))

	err = s.SetStatus(ctx, 42, models.LeadStatusUnsubscribed)
	assert.True(t, errors.Is(err, utils.ErrNotFound))
}
