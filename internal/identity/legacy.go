package identity

import (
	"context"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pianoemotion/crmgate/internal/config"
)

// LegacyVerifier accepts the HS256 tokens minted by the previous stack. The
// token may arrive as a session cookie or as an Authorization bearer token;
// the cookie is checked first.
type LegacyVerifier struct {
	cookieName string
	secret     []byte
}

func NewLegacyVerifier(cfg config.LegacyAuthConfig) *LegacyVerifier {
	return &LegacyVerifier{
		cookieName: cfg.CookieName,
		secret:     []byte(cfg.JWTSecret),
	}
}

func (l *LegacyVerifier) Name() string { return "legacy" }

func (l *LegacyVerifier) Verify(ctx context.Context, creds Credentials) (Identity, error) {
	raw := creds.Cookie(l.cookieName)
	if raw == "" {
		raw = creds.Bearer
	}
	if raw == "" {
		return Identity{}, ErrUnauthenticated
	}

	parsed, err := jwt.Parse(raw, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return l.secret, nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return Identity{}, fmt.Errorf("parse legacy token: %w", err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return Identity{}, fmt.Errorf("legacy token has unexpected claims type")
	}

	subject, _ := claims["sub"].(string)
	if strings.TrimSpace(subject) == "" {
		return Identity{}, fmt.Errorf("legacy token missing subject")
	}
	email, _ := claims["email"].(string)
	name, _ := claims["name"].(string)

	return Identity{Subject: subject, Email: email, Name: name}, nil
}
