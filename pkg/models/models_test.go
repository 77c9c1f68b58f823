package models

import (
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)

	err = db.AutoMigrate(ModelsToAutoMigrate()...)
	require.NoError(t, err)

	return db
}

func createTestSpace(t *testing.T, db *gorm.DB) *SearchSpace {
	t.Helper()

	sp := &SearchSpace{Name: "test space", UserID: "user-1", CitationsEnabled: true}
	require.NoError(t, sp.Create(db))
	return sp
}
