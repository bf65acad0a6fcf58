// Package repositories contains gorm-backed persistence helpers for the
// application models.
package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/threatflux/pluginsentinel/internal/models"
	"gorm.io/gorm"
)

// Common repository errors
var (
	// ErrNotFound is returned when a record does not exist
	ErrNotFound = errors.New("record not found")

	// ErrDatabaseOperation is returned when a database operation fails
	ErrDatabaseOperation = errors.New("database operation failed")

	// ErrVersionConflict is returned when a compare-and-swap update loses
	ErrVersionConflict = errors.New("profile version conflict")
)

// ProfileRepository handles database operations for plugin security
// profiles.
type ProfileRepository struct {
	db *gorm.DB
}

// NewProfileRepository creates a new profile repository
func NewProfileRepository(db *gorm.DB) *ProfileRepository {
	return &ProfileRepository{
		db: db,
	}
}

// GetByPluginID retrieves a profile by plugin id
func (r *ProfileRepository) GetByPluginID(ctx context.Context, pluginID string) (*models.PluginSecurityProfile, error) {
	var profile models.PluginSecurityProfile
	result := r.db.WithContext(ctx).
		Where("plugin_id = ?", pluginID).
		First(&profile)

	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrDatabaseOperation, result.Error)
	}

	return &profile, nil
}

// List retrieves all profiles, optionally excluding retired ones
func (r *ProfileRepository) List(ctx context.Context, includeRetired bool) ([]models.PluginSecurityProfile, error) {
	var profiles []models.PluginSecurityProfile
	query := r.db.WithContext(ctx)
	if !includeRetired {
		query = query.Where("retired = ?", false)
	}
	if err := query.Find(&profiles).Error; err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDatabaseOperation, err)
	}
	return profiles, nil
}

// Create inserts a new profile
func (r *ProfileRepository) Create(ctx context.Context, profile *models.PluginSecurityProfile) error {
	now := time.Now()
	if profile.CreatedAt.IsZero() {
		profile.CreatedAt = now
	}
	profile.UpdatedAt = now
	if err := r.db.WithContext(ctx).Create(profile).Error; err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseOperation, err)
	}
	return nil
}

// Update persists profile changes guarded by the version column. The
// expected version is the one the caller read; the stored row must still
// carry it or ErrVersionConflict is returned.
func (r *ProfileRepository) Update(ctx context.Context, profile *models.PluginSecurityProfile, expectedVersion int64) error {
	profile.UpdatedAt = time.Now()
	result := r.db.WithContext(ctx).
		Model(&models.PluginSecurityProfile{}).
		Where("plugin_id = ? AND version = ?", profile.PluginID, expectedVersion).
		Updates(profile)

	if result.Error != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseOperation, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrVersionConflict
	}
	return nil
}

// Save unconditionally upserts a profile snapshot.
func (r *ProfileRepository) Save(ctx context.Context, profile *models.PluginSecurityProfile) error {
	profile.UpdatedAt = time.Now()
	if err := r.db.WithContext(ctx).Save(profile).Error; err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseOperation, err)
	}
	return nil
}

// Retire marks a profile as retired without deleting its history
func (r *ProfileRepository) Retire(ctx context.Context, pluginID string) error {
	result := r.db.WithContext(ctx).
		Model(&models.PluginSecurityProfile{}).
		Where("plugin_id = ?", pluginID).
		Updates(map[string]interface{}{
			"retired":    true,
			"updated_at": time.Now(),
		})

	if result.Error != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseOperation, result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
