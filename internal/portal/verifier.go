package portal

import (
	"context"
	"errors"
	"time"
)

// ErrInvalidToken covers every rejection reason a caller is allowed to see.
// Unknown prefix, bad secret, expiry and revocation all collapse into it so
// responses do not reveal which check failed.
var ErrInvalidToken = errors.New("invalid portal token")

// TokenRecord is the stored shape of an issued portal token.
type TokenRecord struct {
	ID         string
	TenantID   int64
	ClientID   string
	SecretHash string
	ExpiresAt  time.Time
	RevokedAt  *time.Time
}

// Principal is the read-only identity a valid token resolves to. It is
// scoped to a single client within a single tenant.
type Principal struct {
	TokenID  string
	TenantID int64
	ClientID string
}

// TokenSource looks up issued tokens by their random prefix.
type TokenSource interface {
	LookupByPrefix(ctx context.Context, prefix string) (TokenRecord, bool, error)
}

type Verifier struct {
	source TokenSource
	now    func() time.Time
}

func NewVerifier(source TokenSource) *Verifier {
	return &Verifier{source: source, now: time.Now}
}

// Verify resolves an encoded token to its principal.
func (v *Verifier) Verify(ctx context.Context, token string) (Principal, error) {
	prefix, secret, err := SplitToken(token)
	if err != nil {
		return Principal{}, ErrInvalidToken
	}

	record, found, err := v.source.LookupByPrefix(ctx, prefix)
	if err != nil {
		return Principal{}, err
	}
	if !found {
		return Principal{}, ErrInvalidToken
	}
	if record.RevokedAt != nil {
		return Principal{}, ErrInvalidToken
	}
	if !record.ExpiresAt.IsZero() && !v.now().Before(record.ExpiresAt) {
		return Principal{}, ErrInvalidToken
	}

	ok, err := VerifySecret(secret, record.SecretHash)
	if err != nil || !ok {
		return Principal{}, ErrInvalidToken
	}

	return Principal{
		TokenID:  record.ID,
		TenantID: record.TenantID,
		ClientID: record.ClientID,
	}, nil
}
