// Package auth guards the operator API: a single configured credential pair
// checked against a bcrypt hash, and HS256 session tokens.
package auth

import (
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/overland-tools/overlandd/internal/config"
)

// ErrInvalidCredentials covers both unknown usernames and wrong passwords so
// responses cannot distinguish them.
var ErrInvalidCredentials = errors.New("invalid credentials")

const issuer = "overlandd"

// Claims are the operator session claims.
type Claims struct {
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Service issues and validates operator session tokens.
type Service struct {
	cfg config.AdminConfig
}

// New constructs the auth service. With an incomplete AdminConfig the service
// exists but refuses every login.
func New(cfg config.AdminConfig) *Service {
	return &Service{cfg: cfg}
}

// Enabled reports whether operator credentials are configured.
func (s *Service) Enabled() bool { return s.cfg.Enabled() }

// Login verifies the credential pair and returns a signed session token plus
// its expiry. The bcrypt comparison runs regardless of the username outcome.
func (s *Service) Login(username, password string) (string, time.Time, error) {
	if !s.Enabled() {
		return "", time.Time{}, fmt.Errorf("admin auth not configured")
	}

	usernameOK := subtle.ConstantTimeCompare([]byte(username), []byte(s.cfg.Username)) == 1
	passwordErr := bcrypt.CompareHashAndPassword([]byte(s.cfg.PasswordHash), []byte(password))
	if !usernameOK || passwordErr != nil {
		return "", time.Time{}, ErrInvalidCredentials
	}

	ttl := s.cfg.TokenTTL
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	now := time.Now()
	expires := now.Add(ttl)

	claims := &Claims{
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expires),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.cfg.JWTSecret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign session token: %w", err)
	}
	return signed, expires, nil
}

// Validate parses a session token and returns the operator username.
func (s *Service) Validate(tokenString string) (string, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method")
		}
		return []byte(s.cfg.JWTSecret), nil
	})
	if err != nil {
		return "", err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims.Username, nil
	}
	return "", fmt.Errorf("invalid token")
}

// HashPassword produces a bcrypt hash suitable for ADMIN_PASSWORD_HASH.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
