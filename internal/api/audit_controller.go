package api

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/threatflux/pluginsentinel/internal/audit"
	"github.com/threatflux/pluginsentinel/internal/middleware"
	"github.com/threatflux/pluginsentinel/internal/models"
	"github.com/threatflux/pluginsentinel/internal/utils"
)

// AuditController handles audit event, incident and export endpoints
type AuditController struct {
	audit  *audit.Service
	logger *logrus.Logger
}

// NewAuditController creates a new audit controller
func NewAuditController(svc *audit.Service, logger *logrus.Logger) *AuditController {
	return &AuditController{
		audit:  svc,
		logger: logger,
	}
}

// eventFilterFromQuery builds an event filter from query parameters.
// Timestamps are RFC 3339.
func eventFilterFromQuery(c *gin.Context) (audit.EventFilter, error) {
	var filter audit.EventFilter

	if from := c.Query("from"); from != "" {
		t, err := time.Parse(time.RFC3339, from)
		if err != nil {
			return filter, fmt.Errorf("invalid 'from' timestamp: %w", err)
		}
		filter.From = t
	}
	if to := c.Query("to"); to != "" {
		t, err := time.Parse(time.RFC3339, to)
		if err != nil {
			return filter, fmt.Errorf("invalid 'to' timestamp: %w", err)
		}
		filter.To = t
	}
	if typ := c.Query("type"); typ != "" {
		filter.Type = models.EventType(strings.ToUpper(typ))
	}
	if sev := c.Query("min_severity"); sev != "" {
		severity := models.Severity(strings.ToUpper(sev))
		if severity.Rank() < 0 {
			return filter, fmt.Errorf("unknown severity %q", sev)
		}
		filter.MinSeverity = severity
	}
	filter.PluginID = c.Query("plugin_id")

	return filter, nil
}

// ListEvents returns audit events matching the query filters
func (ctrl *AuditController) ListEvents(c *gin.Context) {
	filter, err := eventFilterFromQuery(c)
	if err != nil {
		utils.BadRequest(c, err.Error())
		return
	}

	events := ctrl.audit.ListEvents(filter)

	page, perPage := utils.GetPaginationParams(c)
	total := len(events)
	start := (page - 1) * perPage
	if start > total {
		start = total
	}
	end := start + perPage
	if end > total {
		end = total
	}

	utils.PaginatedResponse(c, events[start:end], page, perPage, total)
}

// GetEvent returns a single audit event by ID
func (ctrl *AuditController) GetEvent(c *gin.Context) {
	event, err := ctrl.audit.GetEvent(c.Param("id"))
	if err != nil {
		if errors.Is(err, audit.ErrEventNotFound) {
			utils.NotFound(c, "Event not found")
			return
		}
		utils.InternalServerError(c, "Failed to load event")
		return
	}

	utils.SuccessResponse(c, event)
}

// ListIncidents returns incidents, optionally filtered by status
func (ctrl *AuditController) ListIncidents(c *gin.Context) {
	status := models.IncidentStatus(strings.ToUpper(c.Query("status")))

	incidents := ctrl.audit.ListIncidents(status)

	page, perPage := utils.GetPaginationParams(c)
	total := len(incidents)
	start := (page - 1) * perPage
	if start > total {
		start = total
	}
	end := start + perPage
	if end > total {
		end = total
	}

	utils.PaginatedResponse(c, incidents[start:end], page, perPage, total)
}

// GetIncident returns a single incident by ID
func (ctrl *AuditController) GetIncident(c *gin.Context) {
	incident, err := ctrl.audit.GetIncident(c.Param("id"))
	if err != nil {
		if errors.Is(err, audit.ErrIncidentNotFound) {
			utils.NotFound(c, "Incident not found")
			return
		}
		utils.InternalServerError(c, "Failed to load incident")
		return
	}

	utils.SuccessResponse(c, incident)
}

// IncidentStatusRequest is the payload for an incident status change
type IncidentStatusRequest struct {
	Status string `json:"status" binding:"required"`
	Notes  string `json:"notes"`
}

// UpdateIncidentStatus advances an incident through its lifecycle.
// Invalid transitions are rejected with a conflict.
func (ctrl *AuditController) UpdateIncidentStatus(c *gin.Context) {
	var req IncidentStatusRequest
	if !utils.BindJSON(c, &req) {
		return
	}

	actor, _ := middleware.GetSubject(c)
	next := models.IncidentStatus(strings.ToUpper(req.Status))

	err := ctrl.audit.UpdateIncidentStatus(c.Param("id"), next, actor, req.Notes)
	if err != nil {
		if errors.Is(err, audit.ErrIncidentNotFound) {
			utils.NotFound(c, "Incident not found")
			return
		}
		utils.Conflict(c, err.Error())
		return
	}

	incident, err := ctrl.audit.GetIncident(c.Param("id"))
	if err != nil {
		utils.InternalServerError(c, "Failed to load incident")
		return
	}

	utils.SuccessResponse(c, incident)
}

// IncidentAssignRequest is the payload for an incident assignment
type IncidentAssignRequest struct {
	Assignee string `json:"assignee" binding:"required"`
}

// AssignIncident assigns an incident to a responder
func (ctrl *AuditController) AssignIncident(c *gin.Context) {
	var req IncidentAssignRequest
	if !utils.BindJSON(c, &req) {
		return
	}

	actor, _ := middleware.GetSubject(c)

	if err := ctrl.audit.AssignIncident(c.Param("id"), req.Assignee, actor); err != nil {
		if errors.Is(err, audit.ErrIncidentNotFound) {
			utils.NotFound(c, "Incident not found")
			return
		}
		utils.InternalServerError(c, "Failed to assign incident")
		return
	}

	incident, err := ctrl.audit.GetIncident(c.Param("id"))
	if err != nil {
		utils.InternalServerError(c, "Failed to load incident")
		return
	}

	utils.SuccessResponse(c, incident)
}

// GetMetrics returns aggregated audit metrics
func (ctrl *AuditController) GetMetrics(c *gin.Context) {
	utils.SuccessResponse(c, ctrl.audit.GetMetrics())
}

// ListComplianceFrameworks returns the compliance frameworks the audit
// service can report against
func (ctrl *AuditController) ListComplianceFrameworks(c *gin.Context) {
	utils.SuccessResponse(c, gin.H{
		"frameworks": audit.SupportedFrameworks(),
	})
}

// Export streams filtered audit data as a downloadable file
func (ctrl *AuditController) Export(c *gin.Context) {
	filter, err := eventFilterFromQuery(c)
	if err != nil {
		utils.BadRequest(c, err.Error())
		return
	}

	format := audit.ExportFormat(strings.ToLower(c.DefaultQuery("format", "json")))
	req := audit.ExportRequest{
		Format:           format,
		Filter:           filter,
		IncludeIncidents: c.Query("include_incidents") == "true",
	}

	data, err := ctrl.audit.ExportData(req)
	if err != nil {
		utils.BadRequest(c, err.Error())
		return
	}

	ctrl.logger.WithFields(logrus.Fields{
		"format": format,
		"bytes":  len(data),
	}).Info("Audit data exported")

	filename := fmt.Sprintf("audit-export-%s.%s", time.Now().UTC().Format("20060102T150405Z"), format)
	switch format {
	case audit.FormatCSV:
		utils.CSVResponse(c, data, filename)
	case audit.FormatXML:
		utils.XMLResponse(c, data, filename)
	default:
		utils.JSONResponse(c, data, filename)
	}
}
