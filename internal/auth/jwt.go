// Package auth provides JWT token issuance and validation for the admin
// API.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Token errors
var (
	ErrMissingKey       = errors.New("signing key is not configured")
	ErrInvalidToken     = errors.New("token is invalid")
	ErrExpiredToken     = errors.New("token has expired")
	ErrUnexpectedMethod = errors.New("unexpected token signing method")
	ErrInvalidRoles     = errors.New("invalid roles in token")
)

// JWTConfig contains configuration for JWT token generation and validation
type JWTConfig struct {
	// Secret key used for signing tokens
	Secret string

	// TokenTTL defines the lifetime of an access token
	TokenTTL time.Duration

	// Issuer identifies the principal that issued the JWT
	Issuer string

	// Audience identifies the recipients that the JWT is intended for
	Audience []string
}

// DefaultJWTConfig returns the default JWT configuration
func DefaultJWTConfig() JWTConfig {
	return JWTConfig{
		TokenTTL: 15 * time.Minute,
		Issuer:   "pluginsentinel",
		Audience: []string{"pluginsentinel-api"},
	}
}

// CustomClaims defines the custom claims for JWT tokens
type CustomClaims struct {
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// TokenDetails is the validated identity extracted from a token.
type TokenDetails struct {
	Subject   string
	Roles     []string
	TokenID   string
	ExpiresAt time.Time
}

// HasRole reports whether the token carries the role.
func (d *TokenDetails) HasRole(role string) bool {
	for _, r := range d.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// Service validates bearer tokens for the API layer.
type Service interface {
	GenerateToken(subject string, roles []string) (string, time.Time, error)
	ValidateToken(tokenString string) (*TokenDetails, error)
}

// JWTService implements Service with HMAC-signed JWTs.
type JWTService struct {
	Config JWTConfig
	log    *logrus.Logger
}

// NewJWTService creates a new JWT service with the provided configuration
func NewJWTService(config JWTConfig, log *logrus.Logger) *JWTService {
	if log == nil {
		log = logrus.New()
	}
	if config.Secret == "" {
		log.Warn("JWT secret is empty in config; token validation will fail")
	}
	if config.TokenTTL <= 0 {
		config.TokenTTL = DefaultJWTConfig().TokenTTL
	}
	return &JWTService{
		Config: config,
		log:    log,
	}
}

// GenerateToken creates a signed token for the subject with the given
// roles.
func (s *JWTService) GenerateToken(subject string, roles []string) (string, time.Time, error) {
	if s.Config.Secret == "" {
		return "", time.Time{}, ErrMissingKey
	}

	tokenID := uuid.New().String()
	now := time.Now()
	expiresAt := now.Add(s.Config.TokenTTL)

	claims := CustomClaims{
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    s.Config.Issuer,
			Audience:  s.Config.Audience,
			ID:        tokenID,
			Subject:   subject,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.Config.Secret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// ValidateToken parses and validates a token string.
func (s *JWTService) ValidateToken(tokenString string) (*TokenDetails, error) {
	if s.Config.Secret == "" {
		return nil, ErrMissingKey
	}

	token, err := jwt.ParseWithClaims(tokenString, &CustomClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("%w: %v", ErrUnexpectedMethod, token.Header["alg"])
		}
		return []byte(s.Config.Secret), nil
	},
		jwt.WithIssuer(s.Config.Issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*CustomClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}

	var expiresAt time.Time
	if claims.ExpiresAt != nil {
		expiresAt = claims.ExpiresAt.Time
	}

	return &TokenDetails{
		Subject:   claims.Subject,
		Roles:     claims.Roles,
		TokenID:   claims.ID,
		ExpiresAt: expiresAt,
	}, nil
}
