package audit

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/threatflux/pluginsentinel/internal/models"
)

// ThreatIndicator is one threat intelligence entry matched against
// incoming events.
type ThreatIndicator struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	// SourceIP matches the event context source address exactly.
	SourceIP string `json:"source_ip,omitempty"`
	// Substring matches anywhere in the event message or detail values.
	Substring string `json:"substring,omitempty"`
}

// matches reports whether the indicator applies to the event.
func (ti ThreatIndicator) matches(event *models.SecurityEvent) bool {
	if ti.SourceIP != "" && event.Context.SourceIP == ti.SourceIP {
		return true
	}
	if ti.Substring == "" {
		return false
	}
	if strings.Contains(event.Message, ti.Substring) {
		return true
	}
	for _, v := range event.Details {
		if strings.Contains(v, ti.Substring) {
			return true
		}
	}
	return false
}

// evaluateEvent runs every incident trigger against a freshly recorded
// event: direct severity, threat intelligence, correlation grouping and
// anomaly scoring. At most one incident is opened per call.
func (s *Service) evaluateEvent(event *models.SecurityEvent) {
	// Synthetic anomaly markers already carry their own incident and must
	// not feed back into detection. Sandbox violations are excluded too:
	// the containment path opens the incident for those, and a second one
	// here would double every escalation.
	if event.Type == models.EventAnomaly || event.Type == models.EventIncidentUpdate ||
		event.Type == models.EventSandboxViolation {
		return
	}

	if event.Severity == models.SeverityCritical {
		s.openIncidentFromEvents(
			fmt.Sprintf("Critical event: %s", event.Type),
			event.Message,
			models.SeverityCritical,
			event.PluginID,
			[]string{event.ID},
		)
		return
	}

	if event.Type == models.EventPolicyViolation && event.Severity.AtLeast(models.SeverityHigh) {
		s.openIncidentFromEvents(
			"Policy violation",
			event.Message,
			event.Severity,
			event.PluginID,
			[]string{event.ID},
		)
		return
	}

	for _, indicator := range s.indicators {
		if indicator.matches(event) {
			s.mu.Lock()
			s.threatIntelMatches++
			s.mu.Unlock()
			s.openIncidentFromEvents(
				fmt.Sprintf("Threat intelligence match: %s", indicator.ID),
				indicator.Description,
				models.SeverityHigh,
				event.PluginID,
				[]string{event.ID},
			)
			return
		}
	}

	if ids := s.correlatedGroup(event); len(ids) >= correlatedEventThreshold {
		s.openIncidentFromEvents(
			fmt.Sprintf("Correlated activity: %s", event.CorrelationID),
			fmt.Sprintf("%d related events within %s", len(ids), s.correlationWindow),
			models.SeverityHigh,
			event.PluginID,
			ids,
		)
		return
	}

	if score := s.anomalyScore(event); score > anomalyThreshold {
		s.mu.Lock()
		s.anomalies++
		s.mu.Unlock()
		s.RecordEvent(models.SecurityEvent{
			Type:     models.EventAnomaly,
			Severity: models.SeverityHigh,
			PluginID: event.PluginID,
			Message:  fmt.Sprintf("anomalous rate of %s events (score %.2f)", event.Type, score),
			Details:  map[string]string{"anomaly_score": fmt.Sprintf("%.2f", score)},
		})
		s.openIncidentFromEvents(
			fmt.Sprintf("Anomalous activity: %s", event.Type),
			fmt.Sprintf("event rate anomaly score %.2f exceeds threshold", score),
			models.SeverityHigh,
			event.PluginID,
			[]string{event.ID},
		)
	}
}

// correlatedGroup returns the ids of events sharing the correlation key
// within the window, including the current event. A group that already
// produced an incident is consumed and returns nil, so a burst opens
// exactly one incident.
func (s *Service) correlatedGroup(event *models.SecurityEvent) []string {
	if event.CorrelationID == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.consumedGroups[event.CorrelationID] {
		return nil
	}

	cutoff := event.RecordedAt.Add(-s.correlationWindow)
	var ids []string
	for i := range s.events {
		e := &s.events[i]
		if e.CorrelationID != event.CorrelationID {
			continue
		}
		if e.RecordedAt.Before(cutoff) {
			continue
		}
		ids = append(ids, e.ID)
	}
	if len(ids) >= correlatedEventThreshold {
		s.consumedGroups[event.CorrelationID] = true
		return ids
	}
	return nil
}

// anomalyScore measures how unusual the event's type frequency is over
// the last window compared to the long-run per-window average. Scores
// saturate at 1.0; a type needs history before it can score at all.
func (s *Service) anomalyScore(event *models.SecurityEvent) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.events) < 10 {
		return 0
	}

	first := s.events[0].RecordedAt
	span := event.RecordedAt.Sub(first)
	if span < 2*s.correlationWindow {
		return 0
	}

	cutoff := event.RecordedAt.Add(-s.correlationWindow)
	var recent int64
	for i := range s.events {
		e := &s.events[i]
		if e.Type == event.Type && !e.RecordedAt.Before(cutoff) {
			recent++
		}
	}

	total := s.eventsByType[event.Type]
	windows := float64(span) / float64(s.correlationWindow)
	expected := float64(total) / windows
	if expected < 1 {
		expected = 1
	}

	ratio := float64(recent) / (expected * 5)
	if ratio > 1 {
		ratio = 1
	}
	return ratio
}

// logIncidentTrigger is shared by all trigger paths.
func (s *Service) logIncidentTrigger(title string, severity models.Severity, eventIDs []string) {
	s.logger.WithFields(logrus.Fields{
		"title":    title,
		"severity": severity,
		"events":   len(eventIDs),
	}).Warn("Opening security incident")
}
