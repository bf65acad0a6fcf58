// Package config loads and validates application configuration from a
// YAML file and environment variables via viper.
package config

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Version  string `mapstructure:"version"`
	ServerID string `mapstructure:"server_id"`

	// Server configuration
	Server struct {
		Host            string        `mapstructure:"host"`
		Port            int           `mapstructure:"port"`
		ReadTimeout     time.Duration `mapstructure:"read_timeout"`
		WriteTimeout    time.Duration `mapstructure:"write_timeout"`
		ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
		TrustedProxies  []string      `mapstructure:"trusted_proxies"`
		Mode            string        `mapstructure:"mode"`
	} `mapstructure:"server"`

	// Database configuration
	Database struct {
		Type     string `mapstructure:"type"`
		Host     string `mapstructure:"host"`
		Port     int    `mapstructure:"port"`
		User     string `mapstructure:"user"`
		Password string `mapstructure:"password"` // Sensitive
		Name     string `mapstructure:"name"`
		SSLMode  string `mapstructure:"ssl_mode"`
		SQLite   struct {
			Path string `mapstructure:"path"`
		} `mapstructure:"sqlite"`
		MaxOpenConns    int           `mapstructure:"max_open_conns"`
		MaxIdleConns    int           `mapstructure:"max_idle_conns"`
		ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
		ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	} `mapstructure:"database"`

	// JWT authentication configuration
	Auth struct {
		Secret         string        `mapstructure:"secret"` // Sensitive
		AccessTokenTTL time.Duration `mapstructure:"access_token_ttl"`
		TokenIssuer    string        `mapstructure:"token_issuer"`
		TokenAudience  string        `mapstructure:"token_audience"`
		Algorithm      string        `mapstructure:"algorithm"`
	} `mapstructure:"auth"`

	// Docker runtime configuration for sandbox isolation
	Docker struct {
		Host       string `mapstructure:"host"`
		APIVersion string `mapstructure:"api_version"`
		Image      string `mapstructure:"image"`
	} `mapstructure:"docker"`

	// Security pipeline configuration
	Security struct {
		StrictMode         bool          `mapstructure:"strict_mode"`
		RequireSignatures  bool          `mapstructure:"require_signatures"`
		RuntimeProtection  bool          `mapstructure:"runtime_protection"`
		VerifyCacheTTL     time.Duration `mapstructure:"verify_cache_ttl"`
		CorrelationWindow  time.Duration `mapstructure:"correlation_window"`
		KeystorePath       string        `mapstructure:"keystore_path"`
	} `mapstructure:"security"`

	// Analysis configuration
	Analysis struct {
		Timeout      time.Duration `mapstructure:"timeout"`
		MaxDepth     int           `mapstructure:"max_depth"`
		MaxFileSize  int64         `mapstructure:"max_file_size"`
		IncludeTests bool          `mapstructure:"include_tests"`
	} `mapstructure:"analysis"`

	// Sandbox defaults applied when a policy leaves values unset
	Sandbox struct {
		WorkspaceRoot   string        `mapstructure:"workspace_root"`
		MaxMemory       int64         `mapstructure:"max_memory"`
		MaxCPUPct       float64       `mapstructure:"max_cpu_pct"`
		MaxProcesses    int           `mapstructure:"max_processes"`
		MaxExecution    time.Duration `mapstructure:"max_execution"`
		MetricsInterval time.Duration `mapstructure:"metrics_interval"`
		MaxCodeSize     int64         `mapstructure:"max_code_size"`
		StopGracePeriod time.Duration `mapstructure:"stop_grace_period"`
	} `mapstructure:"sandbox"`

	// Rate limiting for the HTTP API
	RateLimit struct {
		Enabled bool    `mapstructure:"enabled"`
		PerSec  float64 `mapstructure:"per_sec"`
		Burst   int     `mapstructure:"burst"`
	} `mapstructure:"rate_limit"`

	// Logging configuration
	Logging struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
		File   string `mapstructure:"file"`
	} `mapstructure:"logging"`
}

type configManager struct {
	config *Config
	mu     sync.RWMutex
	log    *logrus.Logger
}

var (
	manager *configManager
	once    sync.Once
)

// GetConfigManager returns the singleton config manager instance
func GetConfigManager() *configManager {
	once.Do(func() {
		manager = &configManager{
			log: logrus.New(),
		}
	})
	return manager
}

// LoadConfig loads the configuration from environment variables and/or config file
func LoadConfig() (*Config, error) {
	return GetConfigManager().Load()
}

// Load loads the configuration from environment variables and/or config file
func (cm *configManager) Load() (*Config, error) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	var config Config

	setDefaults()

	if err := loadConfigFile(); err != nil {
		cm.log.WithError(err).Warning("Failed to load config file, using environment variables only")
	}

	loadEnvVars()

	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	cm.config = &config
	return cm.config, nil
}

// Get returns the last loaded configuration, loading it on first use.
func (cm *configManager) Get() (*Config, error) {
	cm.mu.RLock()
	if cm.config != nil {
		defer cm.mu.RUnlock()
		return cm.config, nil
	}
	cm.mu.RUnlock()
	return cm.Load()
}

func setDefaults() {
	viper.SetDefault("version", "dev")

	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.read_timeout", 30*time.Second)
	viper.SetDefault("server.write_timeout", 30*time.Second)
	viper.SetDefault("server.shutdown_timeout", 10*time.Second)
	viper.SetDefault("server.mode", "release")

	viper.SetDefault("database.type", "sqlite")
	viper.SetDefault("database.sqlite.path", "pluginsentinel.db")
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.user", "")
	viper.SetDefault("database.password", "")
	viper.SetDefault("database.name", "")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_open_conns", 10)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", time.Hour)

	viper.SetDefault("auth.secret", "")
	viper.SetDefault("auth.access_token_ttl", 15*time.Minute)
	viper.SetDefault("auth.token_issuer", "pluginsentinel")
	viper.SetDefault("auth.token_audience", "pluginsentinel-api")
	viper.SetDefault("auth.algorithm", "HS256")

	viper.SetDefault("docker.host", "")
	viper.SetDefault("docker.image", "node:20-alpine")

	viper.SetDefault("security.strict_mode", true)
	viper.SetDefault("security.require_signatures", true)
	viper.SetDefault("security.runtime_protection", true)
	viper.SetDefault("security.verify_cache_ttl", 5*time.Minute)
	viper.SetDefault("security.correlation_window", 5*time.Minute)

	viper.SetDefault("analysis.timeout", 30*time.Second)
	viper.SetDefault("analysis.max_depth", 10)
	viper.SetDefault("analysis.max_file_size", int64(1<<20))

	viper.SetDefault("sandbox.workspace_root", "/var/lib/pluginsentinel/sandboxes")
	viper.SetDefault("sandbox.max_memory", int64(128<<20))
	viper.SetDefault("sandbox.max_cpu_pct", 50.0)
	viper.SetDefault("sandbox.max_processes", 16)
	viper.SetDefault("sandbox.max_execution", 30*time.Second)
	viper.SetDefault("sandbox.metrics_interval", 5*time.Second)
	viper.SetDefault("sandbox.max_code_size", int64(256<<10))
	viper.SetDefault("sandbox.stop_grace_period", 10*time.Second)

	viper.SetDefault("rate_limit.enabled", true)
	viper.SetDefault("rate_limit.per_sec", 20.0)
	viper.SetDefault("rate_limit.burst", 40)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
}

func loadConfigFile() error {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./configs")
	viper.AddConfigPath("/etc/pluginsentinel")

	if path := viper.GetString("config_file"); path != "" {
		viper.SetConfigFile(path)
	}

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if errors.As(err, &notFound) {
			return nil
		}
		return err
	}
	return nil
}

func loadEnvVars() {
	viper.SetEnvPrefix("PLUGINSENTINEL")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}

func validateConfig(config *Config) error {
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	switch config.Database.Type {
	case "sqlite":
		if config.Database.SQLite.Path == "" {
			return fmt.Errorf("sqlite database path is required")
		}
	case "postgres":
		if config.Database.Host == "" || config.Database.Name == "" {
			return fmt.Errorf("postgres host and database name are required")
		}
	default:
		return fmt.Errorf("unsupported database type: %s", config.Database.Type)
	}

	if config.Server.Mode != "debug" && config.Server.Mode != "release" && config.Server.Mode != "test" {
		return fmt.Errorf("invalid server mode: %s", config.Server.Mode)
	}

	if config.Sandbox.MaxMemory <= 0 {
		return fmt.Errorf("sandbox max_memory must be positive")
	}
	if config.Sandbox.MaxCPUPct <= 0 || config.Sandbox.MaxCPUPct > 100 {
		return fmt.Errorf("sandbox max_cpu_pct must be in (0, 100]")
	}

	if _, err := logrus.ParseLevel(config.Logging.Level); err != nil {
		return fmt.Errorf("invalid log level %q: %w", config.Logging.Level, err)
	}

	return nil
}
