package database

import (
	"fmt"
	"sort"
	"time"

	"github.com/threatflux/pluginsentinel/internal/models"
	"gorm.io/gorm"
)

// Migration represents a database migration
type Migration struct {
	// Version is the migration version (e.g., 1, 2, 3, ...)
	Version int

	// Name is a descriptive name for the migration
	Name string

	// Up performs the migration
	Up func(tx *gorm.DB) error

	// Down rolls back the migration
	Down func(tx *gorm.DB) error
}

// MigrationRecord represents a record of a migration in the database
type MigrationRecord struct {
	ID        uint   `gorm:"primaryKey"`
	Version   int    `gorm:"uniqueIndex"`
	Name      string `gorm:"size:255"`
	AppliedAt time.Time
}

// Migrator manages database migrations
type Migrator struct {
	db         *gorm.DB
	migrations []*Migration
}

// NewMigrator creates a new migrator
func NewMigrator(db *gorm.DB) *Migrator {
	return &Migrator{db: db}
}

// AddMigration adds a migration to the migrator
func (m *Migrator) AddMigration(migration *Migration) {
	m.migrations = append(m.migrations, migration)
}

// AddMigrations adds multiple migrations to the migrator
func (m *Migrator) AddMigrations(migrations ...*Migration) {
	m.migrations = append(m.migrations, migrations...)
}

// Up applies all pending migrations in version order
func (m *Migrator) Up() error {
	if err := m.db.AutoMigrate(&MigrationRecord{}); err != nil {
		return fmt.Errorf("failed to create migration table: %w", err)
	}

	applied, err := m.appliedVersions()
	if err != nil {
		return err
	}

	sort.Slice(m.migrations, func(i, j int) bool {
		return m.migrations[i].Version < m.migrations[j].Version
	})

	for _, migration := range m.migrations {
		if applied[migration.Version] {
			continue
		}
		err := m.db.Transaction(func(tx *gorm.DB) error {
			if err := migration.Up(tx); err != nil {
				return err
			}
			return tx.Create(&MigrationRecord{
				Version:   migration.Version,
				Name:      migration.Name,
				AppliedAt: time.Now(),
			}).Error
		})
		if err != nil {
			return fmt.Errorf("migration %d (%s) failed: %w", migration.Version, migration.Name, err)
		}
	}
	return nil
}

// Down rolls back the most recently applied migration
func (m *Migrator) Down() error {
	var record MigrationRecord
	if err := m.db.Order("version desc").First(&record).Error; err != nil {
		return fmt.Errorf("no applied migrations: %w", err)
	}

	var target *Migration
	for _, migration := range m.migrations {
		if migration.Version == record.Version {
			target = migration
			break
		}
	}
	if target == nil || target.Down == nil {
		return fmt.Errorf("migration %d has no rollback", record.Version)
	}

	return m.db.Transaction(func(tx *gorm.DB) error {
		if err := target.Down(tx); err != nil {
			return err
		}
		return tx.Delete(&record).Error
	})
}

func (m *Migrator) appliedVersions() (map[int]bool, error) {
	var records []MigrationRecord
	if err := m.db.Find(&records).Error; err != nil {
		return nil, fmt.Errorf("failed to read migration records: %w", err)
	}
	applied := make(map[int]bool, len(records))
	for _, record := range records {
		applied[record.Version] = true
	}
	return applied, nil
}

// defaultMigrations is the full migration set for the application schema.
func defaultMigrations() []*Migration {
	return []*Migration{
		{
			Version: 1,
			Name:    "create_security_tables",
			Up: func(tx *gorm.DB) error {
				return tx.AutoMigrate(
					&models.SecurityEvent{},
					&models.SecurityIncident{},
					&models.PluginSecurityProfile{},
				)
			},
			Down: func(tx *gorm.DB) error {
				return tx.Migrator().DropTable(
					&models.PluginSecurityProfile{},
					&models.SecurityIncident{},
					&models.SecurityEvent{},
				)
			},
		},
	}
}

// RunMigrations applies the application schema to the given database.
func RunMigrations(db *gorm.DB) error {
	migrator := NewMigrator(db)
	migrator.AddMigrations(defaultMigrations()...)
	return migrator.Up()
}
