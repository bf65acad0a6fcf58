package api

import (
	"errors"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/threatflux/pluginsentinel/internal/middleware"
	"github.com/threatflux/pluginsentinel/internal/models"
	"github.com/threatflux/pluginsentinel/internal/orchestrator"
	"github.com/threatflux/pluginsentinel/internal/utils"
)

// PluginController handles plugin lifecycle API endpoints
type PluginController struct {
	orchestrator *orchestrator.Orchestrator
	logger       *logrus.Logger
}

// NewPluginController creates a new plugin controller
func NewPluginController(orch *orchestrator.Orchestrator, logger *logrus.Logger) *PluginController {
	return &PluginController{
		orchestrator: orch,
		logger:       logger,
	}
}

// InstallRequest is the payload for plugin installation
type InstallRequest struct {
	PluginID string `json:"plugin_id" binding:"required"`
	Path     string `json:"path" binding:"required"`
}

// OperationRequest is the payload for a runtime operation check
type OperationRequest struct {
	Operation string `json:"operation" binding:"required"`
}

// securityContext builds the audit context for the current request.
func securityContext(c *gin.Context) models.SecurityContext {
	subject, _ := middleware.GetSubject(c)
	return models.SecurityContext{
		RequestID: utils.GetRequestID(c),
		UserID:    subject,
		Timestamp: time.Now().UTC(),
		SourceIP:  utils.GetClientIP(c),
		UserAgent: c.Request.UserAgent(),
	}
}

// Install runs the full installation pipeline for a plugin and returns
// the security decision. A denied plugin still yields a 200 response;
// the decision is in the body.
func (ctrl *PluginController) Install(c *gin.Context) {
	var req InstallRequest
	if !utils.BindJSON(c, &req) {
		return
	}

	if err := utils.ValidatePluginID(req.PluginID); err != nil {
		utils.BadRequest(c, err.Error())
		return
	}
	if err := utils.ValidatePath(req.Path, utils.ValidationOptions{Required: true, MaxLength: 1024}); err != nil {
		utils.BadRequest(c, err.Error())
		return
	}

	result := ctrl.orchestrator.ProcessPluginInstallation(
		c.Request.Context(),
		req.PluginID,
		req.Path,
		securityContext(c),
	)

	ctrl.logger.WithFields(logrus.Fields{
		"plugin_id":  result.PluginID,
		"allowed":    result.Allowed,
		"score":      result.Score,
		"risk_level": result.RiskLevel,
	}).Info("Plugin installation processed")

	utils.SuccessResponse(c, result)
}

// List returns security profiles for known plugins
func (ctrl *PluginController) List(c *gin.Context) {
	includeRetired := c.Query("include_retired") == "true"

	profiles := ctrl.orchestrator.ListSecurityProfiles(includeRetired)

	page, perPage := utils.GetPaginationParams(c)
	total := len(profiles)
	start := (page - 1) * perPage
	if start > total {
		start = total
	}
	end := start + perPage
	if end > total {
		end = total
	}

	utils.PaginatedResponse(c, profiles[start:end], page, perPage, total)
}

// Get returns the security profile for one plugin
func (ctrl *PluginController) Get(c *gin.Context) {
	pluginID := c.Param("id")

	profile, err := ctrl.orchestrator.GetSecurityProfile(pluginID)
	if err != nil {
		if errors.Is(err, orchestrator.ErrProfileNotFound) {
			utils.NotFound(c, "Plugin not found")
			return
		}
		utils.InternalServerError(c, "Failed to load security profile")
		return
	}

	utils.SuccessResponse(c, profile)
}

// Uninstall stops the plugin's sandbox and retires its profile
func (ctrl *PluginController) Uninstall(c *gin.Context) {
	pluginID := c.Param("id")

	if err := ctrl.orchestrator.UninstallPlugin(c.Request.Context(), pluginID, securityContext(c)); err != nil {
		if errors.Is(err, orchestrator.ErrProfileNotFound) {
			utils.NotFound(c, "Plugin not found")
			return
		}
		ctrl.logger.WithError(err).WithField("plugin_id", pluginID).Error("Failed to uninstall plugin")
		utils.InternalServerError(c, "Failed to uninstall plugin")
		return
	}

	utils.NoContentResponse(c)
}

// CheckOperation runs the runtime policy and resource check for one
// plugin operation
func (ctrl *PluginController) CheckOperation(c *gin.Context) {
	pluginID := c.Param("id")

	var req OperationRequest
	if !utils.BindJSON(c, &req) {
		return
	}

	check := ctrl.orchestrator.MonitorPluginExecution(
		c.Request.Context(),
		pluginID,
		req.Operation,
		securityContext(c),
	)

	utils.SuccessResponse(c, check)
}
