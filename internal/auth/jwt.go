package auth

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/golang-jwt/jwt/v5"

	"threatmesh/internal/domain"
	"threatmesh/internal/support"
)

const (
	DefaultTokenTTL = 24 * time.Hour
	issuer          = "threatmesh"
)

var (
	secretMu sync.RWMutex
	secret   []byte

	ErrInvalidToken = errors.New("auth: invalid token")
)

// Claims identify a reporter or governance member.
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// SetSecret overrides the HMAC key. An empty value falls back to JWT_SECRET.
func SetSecret(value string) {
	secretMu.Lock()
	defer secretMu.Unlock()
	secret = []byte(value)
}

func signingKey() []byte {
	secretMu.RLock()
	key := secret
	secretMu.RUnlock()
	if len(key) > 0 {
		return key
	}

	secretMu.Lock()
	defer secretMu.Unlock()
	if len(secret) > 0 {
		return secret
	}
	if env := support.GetEnv("JWT_SECRET", ""); env != "" {
		secret = []byte(env)
		return secret
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		panic(fmt.Sprintf("auth: generate jwt secret: %v", err))
	}
	secret = []byte(hex.EncodeToString(buf))
	log.Warn("JWT_SECRET is not set; using a random secret, tokens will not survive a restart")
	return secret
}

func GenerateJWT(subject string, role domain.Role, ttl time.Duration) (string, error) {
	if strings.TrimSpace(subject) == "" {
		return "", errors.New("auth: empty subject")
	}
	if role != domain.RoleReporter && role != domain.RoleGovernance {
		return "", fmt.Errorf("auth: unknown role %q", role)
	}
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}

	now := time.Now()
	claims := Claims{
		Role: string(role),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(signingKey())
}

func ValidateJWT(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return signingKey(), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(issuer))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Caller converts validated claims into the engine's caller identity.
func (c *Claims) Caller() domain.Caller {
	return domain.Caller{ID: c.Subject, Role: domain.Role(c.Role)}
}
