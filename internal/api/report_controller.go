package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/threatflux/pluginsentinel/internal/orchestrator"
	"github.com/threatflux/pluginsentinel/internal/utils"
)

// ReportController handles security report generation endpoints
type ReportController struct {
	orchestrator *orchestrator.Orchestrator
	logger       *logrus.Logger
}

// NewReportController creates a new report controller
func NewReportController(orch *orchestrator.Orchestrator, logger *logrus.Logger) *ReportController {
	return &ReportController{
		orchestrator: orch,
		logger:       logger,
	}
}

// Get generates a security report. The report type comes from the URL;
// compliance reports take the framework name in the "framework" query
// parameter. The period defaults to the last seven days.
func (ctrl *ReportController) Get(c *gin.Context) {
	reportType := c.Param("type")
	argument := c.Query("framework")

	var from, to time.Time
	if q := c.Query("from"); q != "" {
		t, err := time.Parse(time.RFC3339, q)
		if err != nil {
			utils.BadRequest(c, "invalid 'from' timestamp: "+err.Error())
			return
		}
		from = t
	}
	if q := c.Query("to"); q != "" {
		t, err := time.Parse(time.RFC3339, q)
		if err != nil {
			utils.BadRequest(c, "invalid 'to' timestamp: "+err.Error())
			return
		}
		to = t
	}

	report, err := ctrl.orchestrator.GenerateSecurityReport(reportType, argument, from, to)
	if err != nil {
		utils.BadRequest(c, err.Error())
		return
	}

	ctrl.logger.WithFields(logrus.Fields{
		"report_id":   report.ID,
		"report_type": report.Type,
	}).Info("Security report generated")

	utils.SuccessResponse(c, report)
}
