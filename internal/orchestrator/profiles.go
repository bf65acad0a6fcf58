package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/threatflux/pluginsentinel/internal/database/repositories"
	"github.com/threatflux/pluginsentinel/internal/models"
)

// ErrProfileNotFound indicates no profile exists for the plugin.
var ErrProfileNotFound = errors.New("security profile not found")

// profileStore is the authoritative in-memory profile view with optional
// gorm write-through. Updates for the same plugin are serialized and
// versioned so concurrent re-assessments cannot lose writes.
type profileStore struct {
	mu       sync.RWMutex
	profiles map[string]*models.PluginSecurityProfile
	repo     *repositories.ProfileRepository
	logger   *logrus.Logger
}

func newProfileStore(repo *repositories.ProfileRepository, logger *logrus.Logger) *profileStore {
	return &profileStore{
		profiles: make(map[string]*models.PluginSecurityProfile),
		repo:     repo,
		logger:   logger,
	}
}

// load restores persisted profiles into memory at startup.
func (ps *profileStore) load(ctx context.Context) error {
	if ps.repo == nil {
		return nil
	}
	persisted, err := ps.repo.List(ctx, true)
	if err != nil {
		return err
	}

	ps.mu.Lock()
	defer ps.mu.Unlock()
	for i := range persisted {
		profile := persisted[i]
		ps.profiles[profile.PluginID] = &profile
	}
	return nil
}

// get returns a copy of the plugin's profile.
func (ps *profileStore) get(pluginID string) (*models.PluginSecurityProfile, error) {
	ps.mu.RLock()
	defer ps.mu.RUnlock()
	profile, ok := ps.profiles[pluginID]
	if !ok {
		return nil, ErrProfileNotFound
	}
	return profile.Clone(), nil
}

// list returns copies of all profiles.
func (ps *profileStore) list(includeRetired bool) []*models.PluginSecurityProfile {
	ps.mu.RLock()
	defer ps.mu.RUnlock()

	out := make([]*models.PluginSecurityProfile, 0, len(ps.profiles))
	for _, profile := range ps.profiles {
		if profile.Retired && !includeRetired {
			continue
		}
		out = append(out, profile.Clone())
	}
	return out
}

// update applies mutate to the plugin's profile under the store lock,
// bumping the version. A missing profile is created first. The stored
// assessment history is append-only; mutate must not truncate it.
func (ps *profileStore) update(ctx context.Context, pluginID string, mutate func(*models.PluginSecurityProfile)) (*models.PluginSecurityProfile, error) {
	ps.mu.Lock()

	profile, ok := ps.profiles[pluginID]
	created := false
	if !ok {
		created = true
		profile = &models.PluginSecurityProfile{
			PluginID:   pluginID,
			Compliance: models.ComplianceUnknown,
			CreatedAt:  time.Now(),
		}
		ps.profiles[pluginID] = profile
	}

	prevVersion := profile.Version
	mutate(profile)
	profile.Version = prevVersion + 1
	profile.UpdatedAt = time.Now()
	snapshot := profile.Clone()
	ps.mu.Unlock()

	if ps.repo != nil {
		var err error
		if created {
			err = ps.repo.Create(ctx, snapshot)
		} else {
			err = ps.repo.Update(ctx, snapshot, prevVersion)
			if errors.Is(err, repositories.ErrVersionConflict) {
				// Memory is authoritative; force the row to the current view.
				err = ps.repo.Save(ctx, snapshot)
			}
		}
		if err != nil {
			ps.logger.WithError(err).WithField("plugin_id", pluginID).
				Warn("Failed to persist security profile")
		}
	}

	return snapshot, nil
}
