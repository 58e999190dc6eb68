// Package identity resolves the caller behind an HTTP request. Verifiers
// are consulted in registration order and the first one that produces an
// identity wins; the resolver then makes sure a matching user row exists so
// first logins are provisioned before any tenant lookup runs.
package identity

import (
	"context"
	"errors"
	"log/slog"
)

// ErrUnauthenticated is returned when no verifier could establish an
// identity for the request.
var ErrUnauthenticated = errors.New("not authenticated")

// ErrUpstreamUnavailable is returned when a presented credential could not
// be checked because the verifier's backing provider was unreachable. The
// caller should retry, not re-authenticate.
var ErrUpstreamUnavailable = errors.New("identity provider unavailable")

// Identity is a verified caller. Subject is the stable external id used as
// the user key everywhere downstream.
type Identity struct {
	Subject string
	Email   string
	Name    string
	// Method names the verifier that produced this identity.
	Method string
}

// Credentials carries the raw material a verifier may inspect. Cookies maps
// cookie names to values; Bearer is the Authorization bearer token, if any.
type Credentials struct {
	Cookies map[string]string
	Bearer  string
}

func (c Credentials) Cookie(name string) string {
	if c.Cookies == nil {
		return ""
	}
	return c.Cookies[name]
}

// Verifier attempts to authenticate a request from its credentials. A
// verifier that finds no credential of its kind returns ErrUnauthenticated
// so the resolver can fall through to the next strategy.
type Verifier interface {
	Name() string
	Verify(ctx context.Context, creds Credentials) (Identity, error)
}

// Provisioner persists a user record for a verified identity. Implementations
// must be idempotent across repeated logins for the same subject.
type Provisioner interface {
	EnsureUser(ctx context.Context, id Identity, role string) error
}

const (
	RoleAdmin      = "admin"
	RoleTechnician = "technician"
)

type Resolver struct {
	verifiers    []Verifier
	provisioner  Provisioner
	ownerSubject string
	logger       *slog.Logger
}

func NewResolver(verifiers []Verifier, provisioner Provisioner, ownerSubject string, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{
		verifiers:    verifiers,
		provisioner:  provisioner,
		ownerSubject: ownerSubject,
		logger:       logger,
	}
}

// Resolve runs the verifier chain and provisions the user row on success.
// Verifier errors other than ErrUnauthenticated are logged and treated as a
// miss so a broken strategy never locks out callers the next one can serve.
// When a provider outage swallowed a credential and no later verifier
// produced an identity, the outage is surfaced instead of a 401-shaped miss:
// the caller's credential may well be valid.
func (r *Resolver) Resolve(ctx context.Context, creds Credentials) (Identity, error) {
	var upstream error
	for _, v := range r.verifiers {
		id, err := v.Verify(ctx, creds)
		if err != nil {
			switch {
			case errors.Is(err, ErrUnauthenticated):
			case errors.Is(err, ErrUpstreamUnavailable):
				r.logger.Warn("identity verifier unavailable", "verifier", v.Name(), "error", err)
				upstream = err
			default:
				r.logger.Warn("identity verifier failed", "verifier", v.Name(), "error", err)
			}
			continue
		}
		id.Method = v.Name()
		r.provision(ctx, id)
		return id, nil
	}
	if upstream != nil {
		return Identity{}, upstream
	}
	return Identity{}, ErrUnauthenticated
}

func (r *Resolver) provision(ctx context.Context, id Identity) {
	if r.provisioner == nil {
		return
	}
	role := RoleTechnician
	if r.ownerSubject != "" && id.Subject == r.ownerSubject {
		role = RoleAdmin
	}
	// Provisioning failures do not block authentication. The tenant
	// builder fails closed on the missing row, so nothing leaks.
	if err := r.provisioner.EnsureUser(ctx, id, role); err != nil {
		r.logger.Error("provision user", "subject", id.Subject, "error", err)
	}
}
