package database

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func setupMigrationTest(t *testing.T) *gorm.DB {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	return db
}

func testMigrations() []*Migration {
	type widget struct {
		ID   uint `gorm:"primaryKey"`
		Name string
	}
	type gadget struct {
		ID    uint `gorm:"primaryKey"`
		Label string
	}

	return []*Migration{
		{
			Version: 1,
			Name:    "create_widgets",
			Up:      func(tx *gorm.DB) error { return tx.AutoMigrate(&widget{}) },
			Down:    func(tx *gorm.DB) error { return tx.Migrator().DropTable(&widget{}) },
		},
		{
			Version: 2,
			Name:    "create_gadgets",
			Up:      func(tx *gorm.DB) error { return tx.AutoMigrate(&gadget{}) },
			Down:    func(tx *gorm.DB) error { return tx.Migrator().DropTable(&gadget{}) },
		},
	}
}

func TestMigratorUp(t *testing.T) {
	db := setupMigrationTest(t)
	migrator := NewMigrator(db)
	migrator.AddMigrations(testMigrations()...)

	require.NoError(t, migrator.Up())

	assert.True(t, db.Migrator().HasTable("widgets"))
	assert.True(t, db.Migrator().HasTable("gadgets"))

	var records []MigrationRecord
	require.NoError(t, db.Order("version").Find(&records).Error)
	require.Len(t, records, 2)
	assert.Equal(t, 1, records[0].Version)
	assert.Equal(t, "create_widgets", records[0].Name)
	assert.Equal(t, 2, records[1].Version)
}

func TestMigratorUpIsIdempotent(t *testing.T) {
	db := setupMigrationTest(t)
	migrator := NewMigrator(db)
	migrator.AddMigrations(testMigrations()...)

	require.NoError(t, migrator.Up())
	require.NoError(t, migrator.Up())

	var count int64
	require.NoError(t, db.Model(&MigrationRecord{}).Count(&count).Error)
	assert.Equal(t, int64(2), count)
}

func TestMigratorUpOrdersByVersion(t *testing.T) {
	db := setupMigrationTest(t)
	migrator := NewMigrator(db)

	// Register out of order; version 2 depends on the table from 1.
	migrations := testMigrations()
	migrator.AddMigration(migrations[1])
	migrator.AddMigration(migrations[0])

	require.NoError(t, migrator.Up())
	assert.True(t, db.Migrator().HasTable("widgets"))
	assert.True(t, db.Migrator().HasTable("gadgets"))
}

func TestMigratorUpFailureRollsBack(t *testing.T) {
	db := setupMigrationTest(t)
	migrator := NewMigrator(db)
	migrator.AddMigration(&Migration{
		Version: 1,
		Name:    "broken",
		Up:      func(tx *gorm.DB) error { return errors.New("boom") },
	})

	err := migrator.Up()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken")

	// The failed migration must not be recorded.
	var count int64
	require.NoError(t, db.Model(&MigrationRecord{}).Count(&count).Error)
	assert.Zero(t, count)
}

func TestMigratorDown(t *testing.T) {
	db := setupMigrationTest(t)
	migrator := NewMigrator(db)
	migrator.AddMigrations(testMigrations()...)
	require.NoError(t, migrator.Up())

	// Rolls back the most recent migration only.
	require.NoError(t, migrator.Down())
	assert.True(t, db.Migrator().HasTable("widgets"))
	assert.False(t, db.Migrator().HasTable("gadgets"))

	var records []MigrationRecord
	require.NoError(t, db.Find(&records).Error)
	require.Len(t, records, 1)
	assert.Equal(t, 1, records[0].Version)
}

func TestMigratorDownWithoutMigrations(t *testing.T) {
	db := setupMigrationTest(t)
	migrator := NewMigrator(db)
	require.NoError(t, db.AutoMigrate(&MigrationRecord{}))

	assert.Error(t, migrator.Down())
}

func TestRunMigrations(t *testing.T) {
	db := setupMigrationTest(t)

	require.NoError(t, RunMigrations(db))

	assert.True(t, db.Migrator().HasTable("security_events"))
	assert.True(t, db.Migrator().HasTable("security_incidents"))
	assert.True(t, db.Migrator().HasTable("plugin_security_profiles"))

	// Applying the schema twice is safe.
	assert.NoError(t, RunMigrations(db))
}
