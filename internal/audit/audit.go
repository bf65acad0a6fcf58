// Package audit implements the security event and incident store: event
// recording with aggregate counters, correlation and anomaly detection,
// incident lifecycle management, compliance reporting and data export.
package audit

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/threatflux/pluginsentinel/internal/models"
	"gorm.io/gorm"
)

// Common errors
var (
	// ErrIncidentNotFound indicates an unknown incident id
	ErrIncidentNotFound = errors.New("incident not found")

	// ErrEventNotFound indicates an unknown event id
	ErrEventNotFound = errors.New("event not found")
)

// anomalyThreshold is the score above which an anomaly opens an incident.
const anomalyThreshold = 0.8

// correlatedEventThreshold is the correlated-event count that opens an
// incident.
const correlatedEventThreshold = 3

// Metrics is a snapshot of the aggregate audit counters.
type Metrics struct {
	EventsByType       map[models.EventType]int64      `json:"events_by_type"`
	EventsBySeverity   map[models.Severity]int64       `json:"events_by_severity"`
	IncidentsByStatus  map[models.IncidentStatus]int64 `json:"incidents_by_status"`
	TotalEvents        int64                           `json:"total_events"`
	TotalIncidents     int64                           `json:"total_incidents"`
	MeanTimeToDetect   time.Duration                   `json:"mean_time_to_detect"`
	MeanTimeToResolve  time.Duration                   `json:"mean_time_to_resolve"`
	ResolvedIncidents  int64                           `json:"resolved_incidents"`
	AnomaliesDetected  int64                           `json:"anomalies_detected"`
	ThreatIntelMatches int64                           `json:"threat_intel_matches"`
}

// subscriber is one bounded event feed.
type subscriber struct {
	ch chan models.SecurityEvent
}

// Service is the audit system. Events are totally ordered by record time
// within the process; all reads observe prior writes. An optional gorm
// handle persists events and incidents write-through.
type Service struct {
	mu        sync.RWMutex
	events    []models.SecurityEvent
	eventByID map[string]int
	incidents map[string]*models.SecurityIncident

	eventsByType      map[models.EventType]int64
	eventsBySeverity  map[models.Severity]int64
	incidentsByStatus map[models.IncidentStatus]int64

	mttd          time.Duration
	mttr          time.Duration
	detectedCount int64
	resolvedCount int64

	anomalies          int64
	threatIntelMatches int64
	indicators         []ThreatIndicator
	correlationWindow  time.Duration
	consumedGroups     map[string]bool

	subscribers []*subscriber

	db     *gorm.DB
	logger *logrus.Logger
}

// NewService creates the audit service. db may be nil for pure in-memory
// operation.
func NewService(db *gorm.DB, options ...func(*Service)) *Service {
	s := &Service{
		eventByID:         make(map[string]int),
		incidents:         make(map[string]*models.SecurityIncident),
		eventsByType:      make(map[models.EventType]int64),
		eventsBySeverity:  make(map[models.Severity]int64),
		incidentsByStatus: make(map[models.IncidentStatus]int64),
		consumedGroups:    make(map[string]bool),
		correlationWindow: 5 * time.Minute,
		db:                db,
		logger:            logrus.New(),
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// WithLogger sets the logger
func WithLogger(logger *logrus.Logger) func(*Service) {
	return func(s *Service) {
		s.logger = logger
	}
}

// WithCorrelationWindow overrides the correlation window
func WithCorrelationWindow(window time.Duration) func(*Service) {
	return func(s *Service) {
		if window > 0 {
			s.correlationWindow = window
		}
	}
}

// WithThreatIndicators seeds the threat intelligence indicator set
func WithThreatIndicators(indicators []ThreatIndicator) func(*Service) {
	return func(s *Service) {
		s.indicators = indicators
	}
}

// RecordEvent fills defaults, stores the event, updates aggregate
// counters, feeds correlation and anomaly detection, and conditionally
// opens an incident. It returns the stored event.
func (s *Service) RecordEvent(partial models.SecurityEvent) *models.SecurityEvent {
	if partial.ID == "" {
		partial.ID = uuid.New().String()
	}
	if partial.Severity == "" {
		partial.Severity = models.SeverityInfo
	}
	if partial.RecordedAt.IsZero() {
		partial.RecordedAt = time.Now()
	}
	if partial.CorrelationID == "" && partial.PluginID != "" {
		partial.CorrelationID = "plugin:" + partial.PluginID
	}

	s.mu.Lock()
	s.eventByID[partial.ID] = len(s.events)
	s.events = append(s.events, partial)
	s.eventsByType[partial.Type]++
	s.eventsBySeverity[partial.Severity]++
	subs := make([]*subscriber, len(s.subscribers))
	copy(subs, s.subscribers)
	s.mu.Unlock()

	if s.db != nil {
		if err := s.db.Create(&partial).Error; err != nil {
			s.logger.WithError(err).Warn("Failed to persist security event")
		}
	}

	// Delivery to subscribers is in record order, best-effort: a full
	// buffer drops the event for that subscriber rather than blocking.
	for _, sub := range subs {
		select {
		case sub.ch <- partial:
		default:
		}
	}

	s.evaluateEvent(&partial)
	return &partial
}

// Subscribe returns a bounded event feed and its cancel function. Events
// are delivered in record order; a slow consumer loses events rather than
// blocking the recorder.
func (s *Service) Subscribe(buffer int) (<-chan models.SecurityEvent, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	sub := &subscriber{ch: make(chan models.SecurityEvent, buffer)}

	s.mu.Lock()
	s.subscribers = append(s.subscribers, sub)
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		for i, existing := range s.subscribers {
			if existing == sub {
				s.subscribers = append(s.subscribers[:i], s.subscribers[i+1:]...)
				break
			}
		}
		s.mu.Unlock()
		close(sub.ch)
	}
	return sub.ch, cancel
}

// GetEvent returns a stored event by id.
func (s *Service) GetEvent(id string) (*models.SecurityEvent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	idx, ok := s.eventByID[id]
	if !ok {
		return nil, ErrEventNotFound
	}
	event := s.events[idx]
	return &event, nil
}

// EventFilter selects events for listing and export.
type EventFilter struct {
	From        time.Time
	To          time.Time
	Type        models.EventType
	MinSeverity models.Severity
	PluginID    string
	Limit       int
}

// ListEvents returns events matching the filter in record order.
func (s *Service) ListEvents(filter EventFilter) []models.SecurityEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.SecurityEvent
	for _, e := range s.events {
		if !filter.From.IsZero() && e.RecordedAt.Before(filter.From) {
			continue
		}
		if !filter.To.IsZero() && e.RecordedAt.After(filter.To) {
			continue
		}
		if filter.Type != "" && e.Type != filter.Type {
			continue
		}
		if filter.MinSeverity != "" && !e.Severity.AtLeast(filter.MinSeverity) {
			continue
		}
		if filter.PluginID != "" && e.PluginID != filter.PluginID {
			continue
		}
		out = append(out, e)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out
}

// GetMetrics returns a snapshot of the aggregate counters.
func (s *Service) GetMetrics() Metrics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m := Metrics{
		EventsByType:       make(map[models.EventType]int64, len(s.eventsByType)),
		EventsBySeverity:   make(map[models.Severity]int64, len(s.eventsBySeverity)),
		IncidentsByStatus:  make(map[models.IncidentStatus]int64, len(s.incidentsByStatus)),
		TotalEvents:        int64(len(s.events)),
		TotalIncidents:     int64(len(s.incidents)),
		MeanTimeToDetect:   s.mttd,
		MeanTimeToResolve:  s.mttr,
		ResolvedIncidents:  s.resolvedCount,
		AnomaliesDetected:  s.anomalies,
		ThreatIntelMatches: s.threatIntelMatches,
	}
	for k, v := range s.eventsByType {
		m.EventsByType[k] = v
	}
	for k, v := range s.eventsBySeverity {
		m.EventsBySeverity[k] = v
	}
	for k, v := range s.incidentsByStatus {
		m.IncidentsByStatus[k] = v
	}
	return m
}
