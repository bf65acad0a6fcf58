package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/threatflux/pluginsentinel/internal/audit"
	"github.com/threatflux/pluginsentinel/internal/auth"
	"github.com/threatflux/pluginsentinel/internal/config"
	"github.com/threatflux/pluginsentinel/internal/database"
	"github.com/threatflux/pluginsentinel/internal/middleware"
	"github.com/threatflux/pluginsentinel/internal/orchestrator"
	"github.com/threatflux/pluginsentinel/internal/security"
	"github.com/threatflux/pluginsentinel/internal/signing"
)

// Server represents the API server
type Server struct {
	router      *gin.Engine
	httpServer  *http.Server
	config      *config.Config
	logger      *logrus.Logger
	db          database.Database
	authService auth.Service
	authMW      *middleware.AuthMiddleware
	rateLimitMW *middleware.RateLimitMiddleware
	shutdownWg  sync.WaitGroup
	shutdownCh  chan os.Signal

	// API Controllers
	pluginController  *PluginController
	auditController   *AuditController
	trustController   *TrustController
	sandboxController *SandboxController
	reportController  *ReportController
	streamController  *EventStreamController
}

// ServerConfig contains the configuration for the API server
type ServerConfig struct {
	Config       *config.Config
	Logger       *logrus.Logger
	DB           database.Database
	AuthService  auth.Service
	Orchestrator *orchestrator.Orchestrator
	Audit        *audit.Service
	Framework    *security.Framework
	Anchors      *signing.AnchorStore
	CRL          *signing.CRLCache
	Verifier     *signing.Verifier
}

// NewServer creates a new API server
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg.Config == nil {
		return nil, errors.New("config is required")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if cfg.DB == nil {
		return nil, errors.New("database is required")
	}
	if cfg.AuthService == nil {
		return nil, errors.New("auth service is required")
	}
	if cfg.Orchestrator == nil {
		return nil, errors.New("orchestrator is required")
	}
	if cfg.Audit == nil {
		return nil, errors.New("audit service is required")
	}
	if cfg.Framework == nil {
		return nil, errors.New("security framework is required")
	}
	if cfg.Anchors == nil || cfg.CRL == nil || cfg.Verifier == nil {
		return nil, errors.New("signature verification services are required")
	}

	server := &Server{
		config:      cfg.Config,
		logger:      cfg.Logger,
		db:          cfg.DB,
		authService: cfg.AuthService,
		authMW:      middleware.NewAuthMiddleware(cfg.AuthService),
		shutdownCh:  make(chan os.Signal, 1),
	}

	// Initialize Controllers
	server.pluginController = NewPluginController(cfg.Orchestrator, cfg.Logger)
	server.auditController = NewAuditController(cfg.Audit, cfg.Logger)
	server.trustController = NewTrustController(cfg.Anchors, cfg.CRL, cfg.Verifier, cfg.Logger)
	server.sandboxController = NewSandboxController(cfg.Framework, cfg.Logger)
	server.reportController = NewReportController(cfg.Orchestrator, cfg.Logger)
	server.streamController = NewEventStreamController(cfg.Audit, cfg.Logger)

	// Set Gin mode based on environment
	switch server.config.Server.Mode {
	case "release":
		gin.SetMode(gin.ReleaseMode)
	case "test":
		gin.SetMode(gin.TestMode)
	default:
		gin.SetMode(gin.DebugMode)
	}

	router := gin.New()

	// Apply middlewares
	router.Use(middleware.RequestIDMiddleware())
	router.Use(middleware.CORS())

	loggingMW := middleware.NewLoggingMiddleware(server.logger)
	recoveryMW := middleware.NewRecoveryMiddleware(server.logger)

	router.Use(loggingMW.Logger())
	router.Use(recoveryMW.Recovery())

	if server.config.RateLimit.Enabled {
		server.rateLimitMW = middleware.NewRateLimitMiddleware(
			int(server.config.RateLimit.PerSec),
			server.config.RateLimit.Burst,
			server.logger,
		)
		router.Use(server.rateLimitMW.Limit())
	}

	if len(server.config.Server.TrustedProxies) > 0 {
		if err := router.SetTrustedProxies(server.config.Server.TrustedProxies); err != nil {
			return nil, fmt.Errorf("failed to set trusted proxies: %w", err)
		}
	}

	server.router = router

	server.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", server.config.Server.Host, server.config.Server.Port),
		Handler:      server.router,
		ReadTimeout:  server.config.Server.ReadTimeout,
		WriteTimeout: server.config.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	return server, nil
}

// Start starts the API server
func (s *Server) Start() error {
	if err := s.RegisterRoutes(); err != nil {
		return fmt.Errorf("failed to register routes: %w", err)
	}

	// Capture shutdown signals
	signal.Notify(s.shutdownCh, os.Interrupt, syscall.SIGTERM)

	go func() {
		s.logger.WithField("address", s.httpServer.Addr).Info("Starting API server")
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.WithError(err).Error("API server error")
		}
	}()

	go func() {
		<-s.shutdownCh
		s.logger.Info("Shutdown signal received")
		s.Shutdown()
	}()

	return nil
}

// Shutdown gracefully shuts down the API server
func (s *Server) Shutdown() {
	s.logger.Info("Shutting down API server...")

	timeout := s.config.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.WithError(err).Error("Error during server shutdown")
	}

	if err := s.db.Close(); err != nil {
		s.logger.WithError(err).Error("Error closing database connection")
	}

	// Wait for any ongoing operations to complete
	s.shutdownWg.Wait()

	s.logger.Info("API server shutdown complete")
}

// Router returns the Gin router instance
func (s *Server) Router() *gin.Engine {
	return s.router
}

// IncrementWaitGroup increments the shutdown wait group
// Used to track ongoing operations during shutdown
func (s *Server) IncrementWaitGroup() {
	s.shutdownWg.Add(1)
}

// DecrementWaitGroup decrements the shutdown wait group
// Called when an operation is complete
func (s *Server) DecrementWaitGroup() {
	s.shutdownWg.Done()
}

// GetAuthMiddleware returns the authentication middleware
func (s *Server) GetAuthMiddleware() *middleware.AuthMiddleware {
	return s.authMW
}

// GetDB returns the database instance
func (s *Server) GetDB() database.Database {
	return s.db
}

// GetAuthService returns the authentication service
func (s *Server) GetAuthService() auth.Service {
	return s.authService
}

// GetLogger returns the logger instance
func (s *Server) GetLogger() *logrus.Logger {
	return s.logger
}

// GetConfig returns the configuration
func (s *Server) GetConfig() *config.Config {
	return s.config
}
