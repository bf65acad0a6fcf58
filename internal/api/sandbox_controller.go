package api

import (
	"errors"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/threatflux/pluginsentinel/internal/models"
	"github.com/threatflux/pluginsentinel/internal/sandbox"
	"github.com/threatflux/pluginsentinel/internal/security"
	"github.com/threatflux/pluginsentinel/internal/utils"
)

// SandboxController handles sandbox inspection and control endpoints
type SandboxController struct {
	framework *security.Framework
	logger    *logrus.Logger
}

// NewSandboxController creates a new sandbox controller
func NewSandboxController(framework *security.Framework, logger *logrus.Logger) *SandboxController {
	return &SandboxController{
		framework: framework,
		logger:    logger,
	}
}

// SandboxView is the API representation of a live sandbox
type SandboxView struct {
	ID         string                     `json:"id"`
	PluginID   string                     `json:"plugin_id"`
	PolicyID   string                     `json:"policy_id"`
	State      models.SandboxState        `json:"state"`
	Metrics    models.SandboxMetrics      `json:"metrics"`
	Violations []models.SecurityViolation `json:"violations,omitempty"`
}

func sandboxView(sb *sandbox.Sandbox) SandboxView {
	return SandboxView{
		ID:         sb.ID(),
		PluginID:   sb.PluginID(),
		PolicyID:   sb.PolicyID(),
		State:      sb.State(),
		Metrics:    sb.Metrics(),
		Violations: sb.Violations(),
	}
}

// List returns all live sandboxes
func (ctrl *SandboxController) List(c *gin.Context) {
	sandboxes := ctrl.framework.ListSandboxes()

	views := make([]SandboxView, 0, len(sandboxes))
	for _, sb := range sandboxes {
		views = append(views, sandboxView(sb))
	}

	utils.SuccessResponse(c, views)
}

// Get returns the live sandbox for a plugin
func (ctrl *SandboxController) Get(c *gin.Context) {
	pluginID := c.Param("plugin_id")

	sb, err := ctrl.framework.GetSandbox(pluginID)
	if err != nil {
		if errors.Is(err, security.ErrSandboxNotFound) {
			utils.NotFound(c, "No sandbox for plugin")
			return
		}
		utils.InternalServerError(c, "Failed to load sandbox")
		return
	}

	utils.SuccessResponse(c, sandboxView(sb))
}

// Stop terminates a plugin's sandbox
func (ctrl *SandboxController) Stop(c *gin.Context) {
	pluginID := c.Param("plugin_id")

	if err := ctrl.framework.StopSandbox(c.Request.Context(), pluginID); err != nil {
		if errors.Is(err, security.ErrSandboxNotFound) {
			utils.NotFound(c, "No sandbox for plugin")
			return
		}
		ctrl.logger.WithError(err).WithField("plugin_id", pluginID).Error("Failed to stop sandbox")
		utils.InternalServerError(c, "Failed to stop sandbox")
		return
	}

	utils.NoContentResponse(c)
}
