package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/pianoemotion/crmgate/internal/config"
)

type stubVerifier struct {
	name string
	id   Identity
	err  error
}

func (s stubVerifier) Name() string { return s.name }

func (s stubVerifier) Verify(ctx context.Context, creds Credentials) (Identity, error) {
	return s.id, s.err
}

type recordingProvisioner struct {
	subjects []string
	roles    []string
	err      error
}

func (p *recordingProvisioner) EnsureUser(ctx context.Context, id Identity, role string) error {
	p.subjects = append(p.subjects, id.Subject)
	p.roles = append(p.roles, role)
	return p.err
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestResolveFirstVerifierWins(t *testing.T) {
	prov := &recordingProvisioner{}
	r := NewResolver([]Verifier{
		stubVerifier{name: "session", id: Identity{Subject: "user-1", Email: "a@b.test"}},
		stubVerifier{name: "legacy", id: Identity{Subject: "user-2"}},
	}, prov, "", discardLogger())

	id, err := r.Resolve(context.Background(), Credentials{})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if id.Subject != "user-1" || id.Method != "session" {
		t.Fatalf("unexpected identity %+v", id)
	}
	if len(prov.subjects) != 1 || prov.subjects[0] != "user-1" {
		t.Fatalf("provisioned %v", prov.subjects)
	}
	if prov.roles[0] != RoleTechnician {
		t.Fatalf("default role = %q", prov.roles[0])
	}
}

func TestResolveFallsThroughOnMiss(t *testing.T) {
	r := NewResolver([]Verifier{
		stubVerifier{name: "session", err: ErrUnauthenticated},
		stubVerifier{name: "legacy", id: Identity{Subject: "user-2"}},
	}, &recordingProvisioner{}, "", discardLogger())

	id, err := r.Resolve(context.Background(), Credentials{})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if id.Method != "legacy" {
		t.Fatalf("expected legacy fallthrough, got %q", id.Method)
	}
}

func TestResolveVerifierErrorCountsAsMiss(t *testing.T) {
	r := NewResolver([]Verifier{
		stubVerifier{name: "session", err: errors.New("jwks fetch failed")},
		stubVerifier{name: "legacy", id: Identity{Subject: "user-2"}},
	}, &recordingProvisioner{}, "", discardLogger())

	id, err := r.Resolve(context.Background(), Credentials{})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if id.Subject != "user-2" {
		t.Fatalf("expected fallthrough identity, got %+v", id)
	}
}

func TestResolveSurfacesProviderOutage(t *testing.T) {
	prov := &recordingProvisioner{}
	outage := fmt.Errorf("%w: verify session token: dial tcp: connection refused", ErrUpstreamUnavailable)
	r := NewResolver([]Verifier{
		stubVerifier{name: "session", err: outage},
		stubVerifier{name: "legacy", err: ErrUnauthenticated},
	}, prov, "", discardLogger())

	_, err := r.Resolve(context.Background(), Credentials{})
	if !errors.Is(err, ErrUpstreamUnavailable) {
		t.Fatalf("want upstream error, got %v", err)
	}
	if len(prov.subjects) != 0 {
		t.Fatalf("no user must be provisioned on outage, got %v", prov.subjects)
	}
}

func TestResolveLaterVerifierWinsOverOutage(t *testing.T) {
	outage := fmt.Errorf("%w: verify session token: i/o timeout", ErrUpstreamUnavailable)
	r := NewResolver([]Verifier{
		stubVerifier{name: "session", err: outage},
		stubVerifier{name: "legacy", id: Identity{Subject: "user-2"}},
	}, &recordingProvisioner{}, "", discardLogger())

	id, err := r.Resolve(context.Background(), Credentials{})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if id.Subject != "user-2" || id.Method != "legacy" {
		t.Fatalf("expected legacy identity, got %+v", id)
	}
}

func TestResolveAllMiss(t *testing.T) {
	prov := &recordingProvisioner{}
	r := NewResolver([]Verifier{
		stubVerifier{name: "session", err: ErrUnauthenticated},
		stubVerifier{name: "legacy", err: ErrUnauthenticated},
	}, prov, "", discardLogger())

	if _, err := r.Resolve(context.Background(), Credentials{}); !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("want ErrUnauthenticated, got %v", err)
	}
	if len(prov.subjects) != 0 {
		t.Fatal("nothing should be provisioned on failure")
	}
}

func TestResolveOwnerGetsAdminRole(t *testing.T) {
	prov := &recordingProvisioner{}
	r := NewResolver([]Verifier{
		stubVerifier{name: "session", id: Identity{Subject: "owner-1"}},
	}, prov, "owner-1", discardLogger())

	if _, err := r.Resolve(context.Background(), Credentials{}); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if prov.roles[0] != RoleAdmin {
		t.Fatalf("owner role = %q, want admin", prov.roles[0])
	}
}

func TestResolveProvisionFailureDoesNotBlockAuth(t *testing.T) {
	prov := &recordingProvisioner{err: errors.New("db down")}
	r := NewResolver([]Verifier{
		stubVerifier{name: "session", id: Identity{Subject: "user-1"}},
	}, prov, "", discardLogger())

	id, err := r.Resolve(context.Background(), Credentials{})
	if err != nil || id.Subject != "user-1" {
		t.Fatalf("auth must survive provisioning failure: id=%+v err=%v", id, err)
	}
}

func signLegacyToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestLegacyVerifier(t *testing.T) {
	cfg := config.LegacyAuthConfig{Enabled: true, JWTSecret: "test-secret", CookieName: "session"}
	v := NewLegacyVerifier(cfg)
	ctx := context.Background()

	valid := signLegacyToken(t, "test-secret", jwt.MapClaims{
		"sub":   "u_8f2",
		"email": "tech@pianoemotion.test",
		"exp":   time.Now().Add(time.Hour).Unix(),
	})

	t.Run("cookie", func(t *testing.T) {
		id, err := v.Verify(ctx, Credentials{Cookies: map[string]string{"session": valid}})
		if err != nil {
			t.Fatalf("verify: %v", err)
		}
		if id.Subject != "u_8f2" || id.Email != "tech@pianoemotion.test" {
			t.Fatalf("unexpected identity %+v", id)
		}
	})

	t.Run("bearer", func(t *testing.T) {
		id, err := v.Verify(ctx, Credentials{Bearer: valid})
		if err != nil {
			t.Fatalf("verify: %v", err)
		}
		if id.Subject != "u_8f2" {
			t.Fatalf("unexpected identity %+v", id)
		}
	})

	t.Run("no credential", func(t *testing.T) {
		if _, err := v.Verify(ctx, Credentials{}); !errors.Is(err, ErrUnauthenticated) {
			t.Fatalf("want ErrUnauthenticated, got %v", err)
		}
	})

	t.Run("wrong secret", func(t *testing.T) {
		forged := signLegacyToken(t, "other-secret", jwt.MapClaims{
			"sub": "u_8f2",
			"exp": time.Now().Add(time.Hour).Unix(),
		})
		if _, err := v.Verify(ctx, Credentials{Bearer: forged}); err == nil {
			t.Fatal("forged token must be rejected")
		}
	})

	t.Run("expired", func(t *testing.T) {
		expired := signLegacyToken(t, "test-secret", jwt.MapClaims{
			"sub": "u_8f2",
			"exp": time.Now().Add(-time.Hour).Unix(),
		})
		if _, err := v.Verify(ctx, Credentials{Bearer: expired}); err == nil {
			t.Fatal("expired token must be rejected")
		}
	})

	t.Run("missing subject", func(t *testing.T) {
		anonymous := signLegacyToken(t, "test-secret", jwt.MapClaims{
			"exp": time.Now().Add(time.Hour).Unix(),
		})
		if _, err := v.Verify(ctx, Credentials{Bearer: anonymous}); err == nil {
			t.Fatal("token without sub must be rejected")
		}
	})
}
