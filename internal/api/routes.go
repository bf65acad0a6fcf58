package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// RegisterRoutes registers all API routes
func (s *Server) RegisterRoutes() error {
	router := s.router
	authMW := s.authMW

	s.logger.Info("Registering API routes...")

	apiV1 := router.Group("/api/v1")

	// Health check - no auth required
	apiV1.GET("/health", s.healthCheck)
	apiV1.HEAD("/health", s.healthCheck)

	// Plugin lifecycle routes - authenticated
	plugins := apiV1.Group("/plugins", authMW.RequireAuthentication())
	{
		plugins.POST("", s.pluginController.Install)
		plugins.GET("", s.pluginController.List)
		plugins.GET("/:id", s.pluginController.Get)
		plugins.DELETE("/:id", authMW.RequireAdmin(), s.pluginController.Uninstall)
		plugins.POST("/:id/operations", s.pluginController.CheckOperation)
	}

	// Sandbox routes - authenticated, stop is admin-only
	sandboxes := apiV1.Group("/sandboxes", authMW.RequireAuthentication())
	{
		sandboxes.GET("", s.sandboxController.List)
		sandboxes.GET("/:plugin_id", s.sandboxController.Get)
		sandboxes.DELETE("/:plugin_id", authMW.RequireAdmin(), s.sandboxController.Stop)
	}

	// Audit routes - authenticated
	events := apiV1.Group("/events", authMW.RequireAuthentication())
	{
		events.GET("", s.auditController.ListEvents)
		events.GET("/stream", s.streamController.Stream)
		events.GET("/:id", s.auditController.GetEvent)
	}

	incidents := apiV1.Group("/incidents", authMW.RequireAuthentication())
	{
		incidents.GET("", s.auditController.ListIncidents)
		incidents.GET("/:id", s.auditController.GetIncident)
		incidents.PUT("/:id/status", s.auditController.UpdateIncidentStatus)
		incidents.PUT("/:id/assign", s.auditController.AssignIncident)
	}

	audit := apiV1.Group("/audit", authMW.RequireAuthentication())
	{
		audit.GET("/metrics", s.auditController.GetMetrics)
		audit.GET("/export", authMW.RequireAdmin(), s.auditController.Export)
	}

	// Report routes - authenticated
	reports := apiV1.Group("/reports", authMW.RequireAuthentication())
	{
		reports.GET("/compliance/frameworks", s.auditController.ListComplianceFrameworks)
		reports.GET("/:type", s.reportController.Get)
	}

	// Trust management routes - admin only
	trust := apiV1.Group("/trust", authMW.RequireAuthentication(), authMW.RequireAdmin())
	{
		trust.GET("/anchors", s.trustController.ListAnchors)
		trust.POST("/anchors", s.trustController.AddAnchor)
		trust.DELETE("/anchors/:fingerprint", s.trustController.RemoveAnchor)
		trust.GET("/revocations", s.trustController.ListRevocations)
		trust.POST("/revocations", s.trustController.Revoke)
		trust.POST("/verify", s.trustController.Verify)
	}

	s.logger.Info("API routes registered")
	return nil
}

// healthCheck reports service liveness and database reachability.
func (s *Server) healthCheck(c *gin.Context) {
	status := "ok"
	code := http.StatusOK

	if err := s.db.Ping(); err != nil {
		s.logger.WithError(err).Warn("Health check database ping failed")
		status = "degraded"
		code = http.StatusServiceUnavailable
	}

	c.JSON(code, gin.H{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
