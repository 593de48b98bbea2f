package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const defaultTokenTTL = 12 * time.Hour

// Claims carried by admin-API tokens.
type Claims struct {
	Permissions []string `json:"perms"`
	jwt.RegisteredClaims
}

// Principal is an authenticated caller.
type Principal struct {
	Subject     string
	Permissions []string
}

// HasPermission reports whether the principal carries the permission.
func (p Principal) HasPermission(perm string) bool {
	for _, have := range p.Permissions {
		if have == perm || have == PermAll {
			return true
		}
	}
	return false
}

// Service issues and validates HMAC-signed bearer tokens for the admin API.
type Service struct {
	secret []byte
	issuer string
}

// NewService builds a token service. An empty secret yields a disabled
// service: SupportsTokens reports false and the HTTP layer skips authn
// (development mode).
func NewService(secret, issuer string) *Service {
	return &Service{secret: []byte(secret), issuer: issuer}
}

// SupportsTokens reports whether the service can validate tokens.
func (s *Service) SupportsTokens() bool { return s != nil && len(s.secret) > 0 }

// GenerateToken mints a token for the subject with the given permissions.
// ttl <= 0 uses the default.
func (s *Service) GenerateToken(subject string, permissions []string, ttl time.Duration) (string, time.Time, error) {
	if !s.SupportsTokens() {
		return "", time.Time{}, errors.New("auth: token signing is not configured")
	}
	if strings.TrimSpace(subject) == "" {
		return "", time.Time{}, errors.New("auth: subject is required")
	}
	if ttl <= 0 {
		ttl = defaultTokenTTL
	}

	now := time.Now().UTC()
	expiresAt := now.Add(ttl)
	claims := Claims{
		Permissions: normalizePermissions(permissions),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// AuthenticateToken validates the token and returns its principal.
func (s *Service) AuthenticateToken(ctx context.Context, raw string) (Principal, error) {
	if !s.SupportsTokens() {
		return Principal{}, errors.New("auth: token validation is not configured")
	}

	var claims Claims
	token, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithExpirationRequired())
	if err != nil || !token.Valid {
		return Principal{}, ErrInvalidToken
	}
	if s.issuer != "" && claims.Issuer != s.issuer {
		return Principal{}, ErrInvalidToken
	}

	return Principal{Subject: claims.Subject, Permissions: claims.Permissions}, nil
}

func normalizePermissions(perms []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, p := range perms {
		p = strings.ToLower(strings.TrimSpace(p))
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		out = append(out, p)
	}
	return out
}
