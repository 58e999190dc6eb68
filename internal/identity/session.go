package identity

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	oidc "github.com/coreos/go-oidc/v3/oidc"

	"github.com/pianoemotion/crmgate/internal/config"
)

// SessionVerifier validates the OIDC session cookie issued by the identity
// provider. The cookie holds a raw ID token; signature, issuer, audience and
// expiry checks are delegated to the provider's published keys.
type SessionVerifier struct {
	cfg      config.SessionProviderConfig
	verifier idTokenVerifier
}

type idTokenVerifier interface {
	Verify(ctx context.Context, rawIDToken string) (*oidc.IDToken, error)
}

func NewSessionVerifier(ctx context.Context, cfg config.SessionProviderConfig) (*SessionVerifier, error) {
	provider, err := oidc.NewProvider(ctx, cfg.Issuer)
	if err != nil {
		return nil, fmt.Errorf("discover oidc provider: %w", err)
	}
	return &SessionVerifier{
		cfg:      cfg,
		verifier: provider.Verifier(&oidc.Config{ClientID: cfg.ClientID}),
	}, nil
}

func (s *SessionVerifier) Name() string { return "session" }

func (s *SessionVerifier) Verify(ctx context.Context, creds Credentials) (Identity, error) {
	raw := creds.Cookie(s.cfg.CookieName)
	if raw == "" {
		return Identity{}, ErrUnauthenticated
	}

	timeout := s.cfg.HTTPTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	verifyCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	token, err := s.verifier.Verify(verifyCtx, raw)
	if err != nil {
		if isProviderOutage(err) {
			return Identity{}, fmt.Errorf("%w: verify session token: %v", ErrUpstreamUnavailable, err)
		}
		return Identity{}, fmt.Errorf("verify session token: %w", err)
	}

	var claims struct {
		Email string `json:"email"`
		Name  string `json:"name"`
	}
	if err := token.Claims(&claims); err != nil {
		return Identity{}, fmt.Errorf("parse session claims: %w", err)
	}
	if strings.TrimSpace(token.Subject) == "" {
		return Identity{}, fmt.Errorf("session token missing subject")
	}

	return Identity{
		Subject: token.Subject,
		Email:   claims.Email,
		Name:    claims.Name,
	}, nil
}

// isProviderOutage separates unreachable-provider failures from credential
// rejections. Verification fetches the provider's keys on demand, so a
// timeout or transport error here means the credential was never checked.
func isProviderOutage(err error) bool {
	var urlErr *url.Error
	return errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, context.Canceled) ||
		errors.As(err, &urlErr)
}
