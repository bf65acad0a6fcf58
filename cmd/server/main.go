package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/docker/docker/client"
	"github.com/sirupsen/logrus"
	"github.com/threatflux/pluginsentinel/internal/analysis"
	"github.com/threatflux/pluginsentinel/internal/api"
	"github.com/threatflux/pluginsentinel/internal/audit"
	"github.com/threatflux/pluginsentinel/internal/auth"
	"github.com/threatflux/pluginsentinel/internal/config"
	"github.com/threatflux/pluginsentinel/internal/database"
	"github.com/threatflux/pluginsentinel/internal/database/repositories"
	"github.com/threatflux/pluginsentinel/internal/models"
	"github.com/threatflux/pluginsentinel/internal/orchestrator"
	"github.com/threatflux/pluginsentinel/internal/sandbox/runtime"
	"github.com/threatflux/pluginsentinel/internal/security"
	"github.com/threatflux/pluginsentinel/internal/signing"
)

// Version information (will be set during build)
var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

// detectionInterval is the period of the suspicious-activity sweep.
const detectionInterval = 30 * time.Second

func main() {
	logger := initLogger()
	logger.WithFields(logrus.Fields{
		"version":    Version,
		"commit":     Commit,
		"build_date": BuildDate,
	}).Info("Starting PluginSentinel")

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	applyLogConfig(logger, cfg)

	db, err := database.InitDatabase(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize database")
	}

	// Signature verification services.
	anchors := signing.NewAnchorStore(logger)
	crl := signing.NewCRLCache(logger)
	if cfg.Security.KeystorePath != "" {
		if err := loadTrustAnchors(cfg.Security.KeystorePath, anchors); err != nil {
			logger.WithError(err).Fatal("Failed to load trust anchors")
		}
	}
	verifier := signing.NewVerifier(anchors, crl,
		signing.WithVerifierLogger(logger),
		signing.WithCacheTTL(cfg.Security.VerifyCacheTTL),
	)

	auditSvc := audit.NewService(db.DB(),
		audit.WithLogger(logger),
		audit.WithCorrelationWindow(cfg.Security.CorrelationWindow),
	)

	isolator, err := initIsolator(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize sandbox runtime")
	}

	framework := security.NewFramework(auditSvc, isolator, security.Settings{
		WorkspaceRoot:   cfg.Sandbox.WorkspaceRoot,
		SandboxImage:    cfg.Docker.Image,
		MetricsInterval: cfg.Sandbox.MetricsInterval,
		StopGracePeriod: cfg.Sandbox.StopGracePeriod,
		MaxCodeSize:     cfg.Sandbox.MaxCodeSize,
	}, security.WithLogger(logger))

	detectCtx, cancelDetect := context.WithCancel(context.Background())
	defer cancelDetect()
	framework.StartDetection(detectCtx, detectionInterval)

	analyzer := analysis.NewAnalyzer(
		analysis.WithLogger(logger),
		analysis.WithDefaultTimeout(cfg.Analysis.Timeout),
	)

	var profileRepo *repositories.ProfileRepository
	if db.DB() != nil {
		profileRepo = repositories.NewProfileRepository(db.DB())
	}

	orch := orchestrator.New(analyzer, verifier, framework, auditSvc, profileRepo, orchestrator.Settings{
		StrictMode:        cfg.Security.StrictMode,
		RequireSignatures: cfg.Security.RequireSignatures,
		RuntimeProtection: cfg.Security.RuntimeProtection,
		PolicyName:        security.DefaultPolicyName,
	}, orchestrator.WithLogger(logger))

	restoreCtx, cancelRestore := context.WithTimeout(context.Background(), 30*time.Second)
	if err := orch.Restore(restoreCtx); err != nil {
		logger.WithError(err).Warn("Failed to restore security profiles")
	}
	cancelRestore()

	authService := auth.NewJWTService(auth.JWTConfig{
		Secret:   cfg.Auth.Secret,
		TokenTTL: cfg.Auth.AccessTokenTTL,
		Issuer:   cfg.Auth.TokenIssuer,
		Audience: []string{cfg.Auth.TokenAudience},
	}, logger)

	server, err := api.NewServer(&api.ServerConfig{
		Config:       cfg,
		Logger:       logger,
		DB:           db,
		AuthService:  authService,
		Orchestrator: orch,
		Audit:        auditSvc,
		Framework:    framework,
		Anchors:      anchors,
		CRL:          crl,
		Verifier:     verifier,
	})
	if err != nil {
		logger.WithError(err).Fatal("Failed to create API server")
	}

	if err := server.Start(); err != nil {
		logger.WithError(err).Fatal("Failed to start API server")
	}

	// Setup graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	sig := <-quit
	logger.WithField("signal", sig.String()).Info("Shutdown signal received")

	framework.StopDetection()
	server.Shutdown()
	logger.Info("Server shutdown complete")
}

// initLogger initializes and configures the logger
func initLogger() *logrus.Logger {
	logger := logrus.New()

	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
		DisableSorting:  false,
	})

	// Set log level based on environment
	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel != "" {
		level, err := logrus.ParseLevel(logLevel)
		if err != nil {
			logger.WithError(err).Warn("Invalid log level, defaulting to info")
			logger.SetLevel(logrus.InfoLevel)
		} else {
			logger.SetLevel(level)
		}
	} else {
		logger.SetLevel(logrus.InfoLevel)
	}

	return logger
}

// applyLogConfig reconfigures the logger from the loaded config file.
func applyLogConfig(logger *logrus.Logger, cfg *config.Config) {
	if cfg.Logging.Level != "" {
		if level, err := logrus.ParseLevel(cfg.Logging.Level); err == nil {
			logger.SetLevel(level)
		}
	}
	if cfg.Logging.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	if cfg.Logging.File != "" {
		file, err := os.OpenFile(cfg.Logging.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			logger.WithError(err).Warn("Failed to open log file, logging to stderr")
			return
		}
		logger.SetOutput(file)
	}
}

// initIsolator builds the Docker-backed sandbox runtime from config.
func initIsolator(cfg *config.Config, logger *logrus.Logger) (runtime.Isolator, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if cfg.Docker.Host != "" {
		opts = append(opts, client.WithHost(cfg.Docker.Host))
	}
	if cfg.Docker.APIVersion != "" {
		opts = append(opts, client.WithVersion(cfg.Docker.APIVersion))
	}
	apiClient, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Docker client: %w", err)
	}

	isoOpts := []func(*runtime.DockerIsolator){runtime.WithDockerLogger(logger)}
	if cfg.Docker.Image != "" {
		isoOpts = append(isoOpts, runtime.WithDefaultImage(cfg.Docker.Image))
	}
	return runtime.NewDockerIsolator(apiClient, isoOpts...)
}

// anchorEntry is one record in the trust-anchor keystore file.
type anchorEntry struct {
	Certificate models.PluginCertificate `json:"certificate"`
	TrustLevel  models.TrustLevel        `json:"trust_level"`
}

// loadTrustAnchors seeds the anchor store from a JSON keystore file.
func loadTrustAnchors(path string, anchors *signing.AnchorStore) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read keystore: %w", err)
	}

	var entries []anchorEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("failed to parse keystore: %w", err)
	}

	for _, entry := range entries {
		if err := anchors.Add(entry.Certificate, entry.TrustLevel, "keystore"); err != nil {
			return fmt.Errorf("failed to add anchor %s: %w", entry.Certificate.Fingerprint, err)
		}
	}
	return nil
}
