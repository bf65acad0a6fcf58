package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	// ErrEnvVarEmpty is returned when a required environment variable is not set
	ErrEnvVarEmpty = errors.New("required environment variable is not set")

	// ErrEnvVarInvalid is returned when an environment variable has an invalid value
	ErrEnvVarInvalid = errors.New("environment variable has an invalid value")
)

// Environment types
const (
	EnvProduction  = "production"
	EnvDevelopment = "development"
	EnvTest        = "test"
)

// EnvProvider reads environment variables with a common prefix and safe
// handling of secrets.
type EnvProvider struct {
	log *logrus.Logger

	// SecretMask is the mask used for secret values in logs
	SecretMask string

	// Prefix is the prefix for environment variables
	Prefix string
}

// NewEnvProvider creates a new environment provider
func NewEnvProvider(prefix string) *EnvProvider {
	return &EnvProvider{
		log:        logrus.New(),
		SecretMask: "********",
		Prefix:     prefix,
	}
}

// DefaultEnvProvider returns the provider for the application prefix
func DefaultEnvProvider() *EnvProvider {
	return NewEnvProvider("PLUGINSENTINEL")
}

// Get gets an environment variable or returns a default value if not present
func (p *EnvProvider) Get(key, defaultValue string) string {
	fullKey := p.getFullKey(key)
	value, exists := os.LookupEnv(fullKey)
	if !exists {
		return defaultValue
	}
	return value
}

// Require gets an environment variable or returns an error if not present
func (p *EnvProvider) Require(key string) (string, error) {
	fullKey := p.getFullKey(key)
	value, exists := os.LookupEnv(fullKey)
	if !exists {
		return "", fmt.Errorf("%w: %s", ErrEnvVarEmpty, fullKey)
	}
	return value, nil
}

// GetSecret gets a sensitive environment variable or returns a default.
// It logs the key but never the value.
func (p *EnvProvider) GetSecret(key, defaultValue string) string {
	fullKey := p.getFullKey(key)
	value, exists := os.LookupEnv(fullKey)
	if !exists {
		return defaultValue
	}
	p.log.Debugf("Secret environment variable %s set to %s", fullKey, p.SecretMask)
	return value
}

// GetBool gets a boolean environment variable or returns a default
func (p *EnvProvider) GetBool(key string, defaultValue bool) bool {
	raw := p.Get(key, "")
	if raw == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(raw)
	if err != nil {
		p.log.WithError(err).Warnf("Invalid boolean for %s, using default", p.getFullKey(key))
		return defaultValue
	}
	return value
}

// GetInt gets an integer environment variable or returns a default
func (p *EnvProvider) GetInt(key string, defaultValue int) int {
	raw := p.Get(key, "")
	if raw == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		p.log.WithError(err).Warnf("Invalid integer for %s, using default", p.getFullKey(key))
		return defaultValue
	}
	return value
}

// GetDuration gets a duration environment variable or returns a default
func (p *EnvProvider) GetDuration(key string, defaultValue time.Duration) time.Duration {
	raw := p.Get(key, "")
	if raw == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(raw)
	if err != nil {
		p.log.WithError(err).Warnf("Invalid duration for %s, using default", p.getFullKey(key))
		return defaultValue
	}
	return value
}

// GetStringSlice gets a comma separated environment variable
func (p *EnvProvider) GetStringSlice(key string, defaultValue []string) []string {
	raw := p.Get(key, "")
	if raw == "" {
		return defaultValue
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// Environment returns the current environment name
func (p *EnvProvider) Environment() string {
	return p.Get("ENV", EnvDevelopment)
}

// IsProduction reports whether the current environment is production
func (p *EnvProvider) IsProduction() bool {
	return p.Environment() == EnvProduction
}

func (p *EnvProvider) getFullKey(key string) string {
	if p.Prefix == "" {
		return key
	}
	return p.Prefix + "_" + strings.ToUpper(key)
}
