package database

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/threatflux/pluginsentinel/internal/config"
	"gorm.io/gorm"
)

func sqliteConfig(path string) *config.Config {
	cfg := &config.Config{}
	cfg.Database.Type = "sqlite"
	cfg.Database.SQLite.Path = path
	return cfg
}

func TestNewSQLiteDB(t *testing.T) {
	db, err := NewSQLiteDB(sqliteConfig("test.db"), testLogger())
	require.NoError(t, err)
	require.NotNil(t, db)

	// Not connected yet.
	assert.Nil(t, db.DB())
	assert.Error(t, db.Ping())
	assert.Error(t, db.Migrate())
	assert.Error(t, db.Transaction(func(tx *gorm.DB) error { return nil }))
}

func TestSQLiteDBConnect(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	db, err := NewSQLiteDB(sqliteConfig(dbPath), testLogger())
	require.NoError(t, err)

	require.NoError(t, db.Connect())
	defer db.Close()

	assert.NotNil(t, db.DB())
	assert.NoError(t, db.Ping())
	assert.FileExists(t, dbPath)
}

func TestSQLiteDBConnectCreatesDirectory(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "nested", "dir", "test.db")

	db, err := NewSQLiteDB(sqliteConfig(dbPath), testLogger())
	require.NoError(t, err)

	require.NoError(t, db.Connect())
	defer db.Close()

	assert.DirExists(t, filepath.Dir(dbPath))
}

func TestSQLiteDBTransaction(t *testing.T) {
	db, err := NewSQLiteDB(sqliteConfig(filepath.Join(t.TempDir(), "tx.db")), testLogger())
	require.NoError(t, err)
	require.NoError(t, db.Connect())
	defer db.Close()

	type row struct {
		ID   uint `gorm:"primaryKey"`
		Name string
	}
	require.NoError(t, db.Migrate(&row{}))

	// Committed transaction persists.
	err = db.Transaction(func(tx *gorm.DB) error {
		return tx.Create(&row{Name: "kept"}).Error
	})
	require.NoError(t, err)

	// Returned error rolls back.
	rollbackErr := errors.New("rollback")
	err = db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&row{Name: "dropped"}).Error; err != nil {
			return err
		}
		return rollbackErr
	})
	assert.ErrorIs(t, err, rollbackErr)

	var count int64
	require.NoError(t, db.DB().Model(&row{}).Count(&count).Error)
	assert.Equal(t, int64(1), count)
}

func TestEnsureDirectoryExists(t *testing.T) {
	// Bare filename needs no directory.
	assert.NoError(t, ensureDirectoryExists("test.db"))

	dir := filepath.Join(t.TempDir(), "a", "b")
	require.NoError(t, ensureDirectoryExists(filepath.Join(dir, "test.db")))
	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestSetPragmas(t *testing.T) {
	db, err := NewSQLiteDB(sqliteConfig(filepath.Join(t.TempDir(), "pragma.db")), testLogger())
	require.NoError(t, err)
	require.NoError(t, db.Connect())
	defer db.Close()

	var fk int
	require.NoError(t, db.DB().Raw("PRAGMA foreign_keys").Scan(&fk).Error)
	assert.Equal(t, 1, fk)
}
