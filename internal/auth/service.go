// Package auth issues and validates the bearer tokens the API accepts. A
// token's subject is the principal it acts for; the marketplace itself keeps
// no user accounts.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/Aidin1998/assetex/internal/config"
)

// ErrInvalidToken is returned for expired, malformed or mis-signed tokens
var ErrInvalidToken = errors.New("invalid token")

// Service signs and verifies HS256 tokens
type Service struct {
	logger     *zap.Logger
	secret     []byte
	expiration time.Duration
}

// NewService creates a new token service
func NewService(logger *zap.Logger, cfg config.JWTConfig) (*Service, error) {
	if cfg.Secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	hours := cfg.ExpirationHours
	if hours <= 0 {
		hours = 24
	}

	return &Service{
		logger:     logger,
		secret:     []byte(cfg.Secret),
		expiration: time.Duration(hours) * time.Hour,
	}, nil
}

// GenerateToken signs a token for the given principal
func (s *Service) GenerateToken(principal string) (string, error) {
	if principal == "" {
		return "", errors.New("principal is required")
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": principal,
		"exp": time.Now().Add(s.expiration).Unix(),
		"iat": time.Now().Unix(),
	})

	tokenString, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}

	return tokenString, nil
}

// ValidateToken verifies the token and returns its principal
func (s *Service) ValidateToken(tokenString string) (string, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		// Validate signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return "", ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", ErrInvalidToken
	}

	principal, ok := claims["sub"].(string)
	if !ok || principal == "" {
		return "", fmt.Errorf("%w: missing subject", ErrInvalidToken)
	}

	return principal, nil
}
