package repositories

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/threatflux/pluginsentinel/internal/models"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func setupProfileRepo(t *testing.T) *ProfileRepository {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.PluginSecurityProfile{}))

	return NewProfileRepository(db)
}

func testProfile(pluginID string) *models.PluginSecurityProfile {
	return &models.PluginSecurityProfile{
		PluginID:   pluginID,
		Version:    1,
		Score:      80,
		RiskLevel:  models.RiskLow,
		TrustLevel: models.TrustMedium,
		Allowed:    true,
		Compliance: models.CompliancePass,
		Restrictions: []models.Restriction{
			{Type: models.RestrictionNetworkDenyAll, Reason: "no network permission"},
		},
	}
}

func TestProfileRepositoryCreateAndGet(t *testing.T) {
	repo := setupProfileRepo(t)
	ctx := context.Background()

	profile := testProfile("example.plugin")
	require.NoError(t, repo.Create(ctx, profile))
	assert.False(t, profile.CreatedAt.IsZero())

	got, err := repo.GetByPluginID(ctx, "example.plugin")
	require.NoError(t, err)
	assert.Equal(t, 80, got.Score)
	assert.Equal(t, models.RiskLow, got.RiskLevel)
	require.Len(t, got.Restrictions, 1)
	assert.Equal(t, models.RestrictionNetworkDenyAll, got.Restrictions[0].Type)
}

func TestProfileRepositoryGetNotFound(t *testing.T) {
	repo := setupProfileRepo(t)

	_, err := repo.GetByPluginID(context.Background(), "ghost.plugin")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestProfileRepositoryList(t *testing.T) {
	repo := setupProfileRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, testProfile("active.plugin")))
	retired := testProfile("retired.plugin")
	retired.Retired = true
	require.NoError(t, repo.Create(ctx, retired))

	active, err := repo.List(ctx, false)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "active.plugin", active[0].PluginID)

	all, err := repo.List(ctx, true)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestProfileRepositoryUpdateVersionGuard(t *testing.T) {
	repo := setupProfileRepo(t)
	ctx := context.Background()

	profile := testProfile("example.plugin")
	require.NoError(t, repo.Create(ctx, profile))

	// Successful compare-and-swap.
	profile.Version = 2
	profile.Score = 65
	require.NoError(t, repo.Update(ctx, profile, 1))

	got, err := repo.GetByPluginID(ctx, "example.plugin")
	require.NoError(t, err)
	assert.Equal(t, int64(2), got.Version)
	assert.Equal(t, 65, got.Score)

	// Stale version loses.
	profile.Version = 3
	err = repo.Update(ctx, profile, 1)
	assert.ErrorIs(t, err, ErrVersionConflict)
}

func TestProfileRepositorySave(t *testing.T) {
	repo := setupProfileRepo(t)
	ctx := context.Background()

	profile := testProfile("example.plugin")
	require.NoError(t, repo.Save(ctx, profile))

	profile.Score = 42
	require.NoError(t, repo.Save(ctx, profile))

	got, err := repo.GetByPluginID(ctx, "example.plugin")
	require.NoError(t, err)
	assert.Equal(t, 42, got.Score)
}

func TestProfileRepositoryRetire(t *testing.T) {
	repo := setupProfileRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, testProfile("example.plugin")))
	require.NoError(t, repo.Retire(ctx, "example.plugin"))

	got, err := repo.GetByPluginID(ctx, "example.plugin")
	require.NoError(t, err)
	assert.True(t, got.Retired)

	assert.ErrorIs(t, repo.Retire(ctx, "ghost.plugin"), ErrNotFound)
}
