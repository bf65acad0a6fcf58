package audit

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"strconv"
	"time"

	"github.com/threatflux/pluginsentinel/internal/models"
)

// ExportFormat selects the serialization of exported audit data.
type ExportFormat string

const (
	FormatJSON ExportFormat = "json"
	FormatCSV  ExportFormat = "csv"
	FormatXML  ExportFormat = "xml"
)

// ExportRequest describes one export run.
type ExportRequest struct {
	Format           ExportFormat `json:"format"`
	Filter           EventFilter  `json:"filter"`
	IncludeIncidents bool         `json:"include_incidents"`
}

// exportDocument is the JSON envelope.
type exportDocument struct {
	GeneratedAt time.Time                 `json:"generated_at"`
	Events      []models.SecurityEvent    `json:"events"`
	Incidents   []models.SecurityIncident `json:"incidents,omitempty"`
}

// encoding/xml cannot marshal maps, so the XML export uses flattened
// record shapes.
type xmlEvent struct {
	ID            string `xml:"id"`
	Type          string `xml:"type"`
	Severity      string `xml:"severity"`
	PluginID      string `xml:"plugin_id,omitempty"`
	SandboxID     string `xml:"sandbox_id,omitempty"`
	CorrelationID string `xml:"correlation_id,omitempty"`
	Message       string `xml:"message"`
	Resolved      bool   `xml:"resolved"`
	RecordedAt    string `xml:"recorded_at"`
}

type xmlIncident struct {
	ID        string `xml:"id"`
	Title     string `xml:"title"`
	Severity  string `xml:"severity"`
	Status    string `xml:"status"`
	PluginID  string `xml:"plugin_id,omitempty"`
	CreatedAt string `xml:"created_at"`
}

type xmlDocument struct {
	XMLName     xml.Name      `xml:"audit_export"`
	GeneratedAt string        `xml:"generated_at,attr"`
	Events      []xmlEvent    `xml:"events>event"`
	Incidents   []xmlIncident `xml:"incidents>incident,omitempty"`
}

// ExportData serializes events, and optionally incidents, in the
// requested format. JSON handles every record shape; CSV flattens
// events only and skips incidents.
func (s *Service) ExportData(req ExportRequest) ([]byte, error) {
	doc := exportDocument{
		GeneratedAt: time.Now(),
		Events:      s.ListEvents(req.Filter),
	}
	if req.IncludeIncidents {
		doc.Incidents = s.ListIncidents("")
	}

	switch req.Format {
	case FormatJSON, "":
		return json.MarshalIndent(doc, "", "  ")
	case FormatCSV:
		return exportCSV(doc.Events)
	case FormatXML:
		return exportXML(doc)
	default:
		return nil, fmt.Errorf("unsupported export format %q", req.Format)
	}
}

func exportXML(doc exportDocument) ([]byte, error) {
	xdoc := xmlDocument{GeneratedAt: doc.GeneratedAt.Format(time.RFC3339)}
	for _, e := range doc.Events {
		xdoc.Events = append(xdoc.Events, xmlEvent{
			ID:            e.ID,
			Type:          string(e.Type),
			Severity:      string(e.Severity),
			PluginID:      e.PluginID,
			SandboxID:     e.SandboxID,
			CorrelationID: e.CorrelationID,
			Message:       e.Message,
			Resolved:      e.Resolved,
			RecordedAt:    e.RecordedAt.Format(time.RFC3339),
		})
	}
	for _, incident := range doc.Incidents {
		xdoc.Incidents = append(xdoc.Incidents, xmlIncident{
			ID:        incident.ID,
			Title:     incident.Title,
			Severity:  string(incident.Severity),
			Status:    string(incident.Status),
			PluginID:  incident.PluginID,
			CreatedAt: incident.CreatedAt.Format(time.RFC3339),
		})
	}
	out, err := xml.MarshalIndent(xdoc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("xml export: %w", err)
	}
	return append([]byte(xml.Header), out...), nil
}

func exportCSV(events []models.SecurityEvent) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	header := []string{"id", "type", "severity", "plugin_id", "sandbox_id", "correlation_id", "message", "resolved", "recorded_at"}
	if err := w.Write(header); err != nil {
		return nil, fmt.Errorf("csv export: %w", err)
	}
	for _, e := range events {
		row := []string{
			e.ID,
			string(e.Type),
			string(e.Severity),
			e.PluginID,
			e.SandboxID,
			e.CorrelationID,
			e.Message,
			strconv.FormatBool(e.Resolved),
			e.RecordedAt.Format(time.RFC3339),
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("csv export: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("csv export: %w", err)
	}
	return buf.Bytes(), nil
}
