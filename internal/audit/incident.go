package audit

import (
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/threatflux/pluginsentinel/internal/models"
)

// CreateIncident opens a new incident in OPEN status with a seeded
// timeline. Critical incidents are escalated immediately.
func (s *Service) CreateIncident(title, description string, severity models.Severity, pluginID string, eventIDs []string) *models.SecurityIncident {
	now := time.Now()
	incident := &models.SecurityIncident{
		ID:          uuid.New().String(),
		Title:       title,
		Description: description,
		Severity:    severity,
		Status:      models.IncidentOpen,
		PluginID:    pluginID,
		EventIDs:    append([]string(nil), eventIDs...),
		Timeline: []models.TimelineEntry{{
			Timestamp: now,
			Actor:     "system",
			Action:    "created",
			Notes:     description,
		}},
		CreatedAt: now,
	}

	if pluginID != "" {
		incident.Impact.AffectedPlugins = []string{pluginID}
	}

	s.mu.Lock()
	s.incidents[incident.ID] = incident
	s.incidentsByStatus[incident.Status]++
	s.accountDetectionLocked(incident)
	s.mu.Unlock()

	s.persistIncident(incident)

	s.logger.WithFields(logrus.Fields{
		"incident_id": incident.ID,
		"severity":    severity,
		"plugin_id":   pluginID,
	}).Warn("Security incident created")

	if severity == models.SeverityCritical {
		if err := s.UpdateIncidentStatus(incident.ID, models.IncidentEscalated, "system", "auto-escalated critical incident"); err != nil {
			s.logger.WithError(err).Error("Failed to auto-escalate incident")
		}
	}
	return incident
}

// openIncidentFromEvents is the trigger entry point used by event
// evaluation, and additionally records an INCIDENT_UPDATE event.
func (s *Service) openIncidentFromEvents(title, description string, severity models.Severity, pluginID string, eventIDs []string) {
	s.logIncidentTrigger(title, severity, eventIDs)
	incident := s.CreateIncident(title, description, severity, pluginID, eventIDs)
	s.RecordEvent(models.SecurityEvent{
		Type:     models.EventIncidentUpdate,
		Severity: severity,
		PluginID: pluginID,
		Message:  "incident opened: " + title,
		Details:  map[string]string{"incident_id": incident.ID},
	})
}

// UpdateIncidentStatus advances an incident through the guarded state
// machine, appending to the timeline. Resolution records MTTR.
func (s *Service) UpdateIncidentStatus(id string, next models.IncidentStatus, actor, notes string) error {
	s.mu.Lock()
	incident, ok := s.incidents[id]
	if !ok {
		s.mu.Unlock()
		return ErrIncidentNotFound
	}
	if !incident.Status.CanTransitionTo(next) {
		from := incident.Status
		s.mu.Unlock()
		return models.ErrInvalidTransition(from, next)
	}

	now := time.Now()
	s.incidentsByStatus[incident.Status]--
	incident.Status = next
	s.incidentsByStatus[next]++
	incident.Timeline = append(incident.Timeline, models.TimelineEntry{
		Timestamp: now,
		Actor:     actor,
		Action:    "status:" + string(next),
		Notes:     notes,
	})

	switch next {
	case models.IncidentResolved:
		incident.ResolvedAt = &now
		s.resolvedCount++
		elapsed := now.Sub(incident.CreatedAt)
		s.mttr += (elapsed - s.mttr) / time.Duration(s.resolvedCount)
	case models.IncidentClosed:
		incident.ClosedAt = &now
	}

	snapshot := *incident
	s.mu.Unlock()

	s.persistIncident(&snapshot)

	s.logger.WithFields(logrus.Fields{
		"incident_id": id,
		"status":      next,
		"actor":       actor,
	}).Info("Incident status updated")
	return nil
}

// AssignIncident sets the incident owner and appends a timeline entry.
func (s *Service) AssignIncident(id, assignee, actor string) error {
	s.mu.Lock()
	incident, ok := s.incidents[id]
	if !ok {
		s.mu.Unlock()
		return ErrIncidentNotFound
	}
	incident.AssignedTo = assignee
	incident.Timeline = append(incident.Timeline, models.TimelineEntry{
		Timestamp: time.Now(),
		Actor:     actor,
		Action:    "assigned",
		Notes:     assignee,
	})
	snapshot := *incident
	s.mu.Unlock()

	s.persistIncident(&snapshot)
	return nil
}

// GetIncident returns a copy of the incident.
func (s *Service) GetIncident(id string) (*models.SecurityIncident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	incident, ok := s.incidents[id]
	if !ok {
		return nil, ErrIncidentNotFound
	}
	snapshot := *incident
	return &snapshot, nil
}

// ListIncidents returns copies of all incidents, optionally filtered by
// status.
func (s *Service) ListIncidents(status models.IncidentStatus) []models.SecurityIncident {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.SecurityIncident, 0, len(s.incidents))
	for _, incident := range s.incidents {
		if status != "" && incident.Status != status {
			continue
		}
		out = append(out, *incident)
	}
	return out
}

// accountDetectionLocked folds the detection latency of a new incident
// into the running mean. Latency is measured from the earliest
// referenced event to incident creation. Caller holds s.mu.
func (s *Service) accountDetectionLocked(incident *models.SecurityIncident) {
	var earliest time.Time
	for _, id := range incident.EventIDs {
		idx, ok := s.eventByID[id]
		if !ok {
			continue
		}
		at := s.events[idx].RecordedAt
		if earliest.IsZero() || at.Before(earliest) {
			earliest = at
		}
	}
	if earliest.IsZero() {
		return
	}
	s.detectedCount++
	elapsed := incident.CreatedAt.Sub(earliest)
	if elapsed < 0 {
		elapsed = 0
	}
	s.mttd += (elapsed - s.mttd) / time.Duration(s.detectedCount)
}

func (s *Service) persistIncident(incident *models.SecurityIncident) {
	if s.db == nil {
		return
	}
	if err := s.db.Save(incident).Error; err != nil {
		s.logger.WithError(err).Warn("Failed to persist incident")
	}
}
