package audit

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/threatflux/pluginsentinel/internal/models"
)

func seedExportData(t *testing.T) *Service {
	t.Helper()
	svc := newTestService()
	svc.RecordEvent(models.SecurityEvent{Type: models.EventLogin, Message: "operator logged in"})
	svc.RecordEvent(models.SecurityEvent{Type: models.EventPermissionDenied, Severity: models.SeverityMedium, PluginID: "demo", Message: "denied"})
	svc.CreateIncident("Probe", "noise", models.SeverityLow, "demo", nil)
	return svc
}

func TestExportDataJSON(t *testing.T) {
	svc := seedExportData(t)

	out, err := svc.ExportData(ExportRequest{Format: FormatJSON, IncludeIncidents: true})
	require.NoError(t, err)

	var doc struct {
		Events    []models.SecurityEvent    `json:"events"`
		Incidents []models.SecurityIncident `json:"incidents"`
	}
	require.NoError(t, json.Unmarshal(out, &doc))
	assert.Len(t, doc.Events, 2)
	require.Len(t, doc.Incidents, 1)
	assert.Equal(t, "Probe", doc.Incidents[0].Title)
}

func TestExportDataDefaultsToJSON(t *testing.T) {
	svc := seedExportData(t)
	out, err := svc.ExportData(ExportRequest{})
	require.NoError(t, err)
	assert.True(t, json.Valid(out))
}

func TestExportDataCSV(t *testing.T) {
	svc := seedExportData(t)

	out, err := svc.ExportData(ExportRequest{Format: FormatCSV})
	require.NoError(t, err)

	records, err := csv.NewReader(bytes.NewReader(out)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3, "header plus two event rows")
	assert.Equal(t, "id", records[0][0])
	assert.Equal(t, string(models.EventLogin), records[1][1])
	assert.Equal(t, "demo", records[2][3])
}

func TestExportDataXML(t *testing.T) {
	svc := seedExportData(t)

	out, err := svc.ExportData(ExportRequest{Format: FormatXML, IncludeIncidents: true})
	require.NoError(t, err)

	body := string(out)
	assert.Contains(t, body, "<audit_export")
	assert.Contains(t, body, "<message>operator logged in</message>")
	assert.Contains(t, body, "<title>Probe</title>")
}

func TestExportDataRespectsFilter(t *testing.T) {
	svc := seedExportData(t)

	out, err := svc.ExportData(ExportRequest{
		Format: FormatJSON,
		Filter: EventFilter{Type: models.EventPermissionDenied},
	})
	require.NoError(t, err)

	var doc struct {
		Events []models.SecurityEvent `json:"events"`
	}
	require.NoError(t, json.Unmarshal(out, &doc))
	require.Len(t, doc.Events, 1)
	assert.Equal(t, models.EventPermissionDenied, doc.Events[0].Type)
}

func TestExportDataUnsupportedFormat(t *testing.T) {
	svc := newTestService()
	_, err := svc.ExportData(ExportRequest{Format: "yaml"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported export format")
}
