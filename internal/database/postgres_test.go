package database

import (
	"database/sql"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/threatflux/pluginsentinel/internal/config"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func setupPostgresMock(t *testing.T) (*PostgresDB, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()

	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)

	dialector := postgres.New(postgres.Config{
		Conn:       db,
		DriverName: "postgres",
	})
	gormDB, err := gorm.Open(dialector, &gorm.Config{
		Logger:               gormlogger.Discard,
		DisableAutomaticPing: true,
	})
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.Database.Type = "postgres"
	cfg.Database.Host = "localhost"
	cfg.Database.Port = 5432
	cfg.Database.User = "testuser"
	cfg.Database.Name = "testdb"
	cfg.Database.SSLMode = "disable"

	return &PostgresDB{config: cfg, db: gormDB, sqlDB: db}, mock, db
}

func TestNewPostgresDB(t *testing.T) {
	cfg := &config.Config{}
	cfg.Database.Type = "postgres"
	cfg.Database.Host = "localhost"
	cfg.Database.Port = 5432
	cfg.Database.User = "testuser"
	cfg.Database.Name = "testdb"

	db, err := NewPostgresDB(cfg, testLogger())
	require.NoError(t, err)
	require.NotNil(t, db)
	assert.Equal(t, cfg, db.config)

	// Not connected yet.
	assert.Nil(t, db.DB())
	assert.Error(t, db.Ping())
	assert.Error(t, db.Migrate())
}

func TestPostgresDBPing(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		db, mock, _ := setupPostgresMock(t)
		mock.ExpectPing()

		assert.NoError(t, db.Ping())
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("failure", func(t *testing.T) {
		db, mock, _ := setupPostgresMock(t)
		mock.ExpectPing().WillReturnError(errors.New("ping error"))

		assert.Error(t, db.Ping())
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresDBClose(t *testing.T) {
	db, mock, sqlDB := setupPostgresMock(t)
	mock.ExpectClose()

	assert.NoError(t, db.Close())
	assert.Error(t, sqlDB.Ping())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresDBTransaction(t *testing.T) {
	t.Run("commit", func(t *testing.T) {
		db, mock, _ := setupPostgresMock(t)
		mock.ExpectBegin()
		mock.ExpectCommit()

		err := db.Transaction(func(tx *gorm.DB) error { return nil })
		assert.NoError(t, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("rollback", func(t *testing.T) {
		db, mock, _ := setupPostgresMock(t)
		mock.ExpectBegin()
		mock.ExpectRollback()

		txErr := errors.New("transaction error")
		err := db.Transaction(func(tx *gorm.DB) error { return txErr })
		assert.Equal(t, txErr, err)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestGetSslMode(t *testing.T) {
	testCases := []struct {
		input    string
		expected string
	}{
		{"disable", "disable"},
		{"require", "require"},
		{"verify-ca", "verify-ca"},
		{"verify-full", "verify-full"},
		{"invalid", "disable"},
		{"", "disable"},
	}

	for _, tc := range testCases {
		assert.Equal(t, tc.expected, getSslMode(tc.input), "input %q", tc.input)
	}
}

func TestGetLogLevel(t *testing.T) {
	testCases := []struct {
		input    string
		expected gormlogger.LogLevel
	}{
		{"debug", gormlogger.Info},
		{"info", gormlogger.Info},
		{"warn", gormlogger.Warn},
		{"error", gormlogger.Error},
		{"invalid", gormlogger.Silent},
		{"", gormlogger.Silent},
	}

	for _, tc := range testCases {
		assert.Equal(t, tc.expected, getLogLevel(tc.input), "input %q", tc.input)
	}
}

func TestLogrusAdapter(t *testing.T) {
	adapter := NewLogrusAdapter(testLogger())
	require.NotNil(t, adapter)

	// The adapter must not panic on any message shape.
	adapter.Printf("regular message")
	adapter.Printf("value %d and %s", 42, "text")
}
