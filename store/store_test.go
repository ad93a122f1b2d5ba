package store

import (
	"path/filepath"
	"testing"

	"dripflow/config"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := config.OpenDatabase("sqlite", filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	require.NoError(t, config.MigrateDB(db))

	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}
