package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrAdminAuthDisabled is returned when no admin JWT secret is configured.
var ErrAdminAuthDisabled = errors.New("config: admin jwt auth disabled")

// ErrInvalidAdminToken is returned for any structurally or cryptographically
// invalid bearer token.
var ErrInvalidAdminToken = errors.New("config: invalid admin token")

// AdminClaims identifies the chat_id an admin bearer token was issued for.
// The admin check for commands such as `重载`/`热重载` consults only the
// admin chat_id allow-list; it does not accept these tokens.
type AdminClaims struct {
	ChatID string `json:"chat_id"`
	jwt.RegisteredClaims
}

// AdminTokenService signs and verifies the single shared admin bearer
// credential described in SPEC_FULL.md §3. It is not a multi-tenant
// identity system: every token it issues carries the same signing
// secret and only a chat_id claim.
type AdminTokenService struct {
	secret []byte
	expiry time.Duration
}

// NewAdminTokenService builds a token service from the config store's
// admin_jwt_secret. An empty secret disables signing and verification.
func NewAdminTokenService(secret string, expiry time.Duration) *AdminTokenService {
	if expiry <= 0 {
		expiry = 24 * time.Hour
	}
	return &AdminTokenService{secret: []byte(secret), expiry: expiry}
}

// Issue signs a bearer token for chatID.
func (s *AdminTokenService) Issue(chatID string) (string, error) {
	if len(s.secret) == 0 {
		return "", ErrAdminAuthDisabled
	}
	chatID = strings.TrimSpace(chatID)
	if chatID == "" {
		return "", fmt.Errorf("config: chat_id is required")
	}

	claims := AdminClaims{
		ChatID: chatID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   chatID,
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.expiry)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// Verify parses and validates token, returning the chat_id it was issued
// for.
func (s *AdminTokenService) Verify(token string) (string, error) {
	if len(s.secret) == 0 {
		return "", ErrAdminAuthDisabled
	}

	parsed, err := jwt.ParseWithClaims(token, &AdminClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return "", ErrInvalidAdminToken
	}

	claims, ok := parsed.Claims.(*AdminClaims)
	if !ok || !parsed.Valid || strings.TrimSpace(claims.ChatID) == "" {
		return "", ErrInvalidAdminToken
	}
	return claims.ChatID, nil
}
