package store

import (
	"regexp"
	"strings"
	"testing"
)

// The first-login upsert must be one atomic statement; a read-then-write
// would race between concurrent logins for the same subject.
func TestEnsureUserIsSingleUpsertStatement(t *testing.T) {
	if !strings.Contains(ensureUserSQL, "ON CONFLICT (subject) DO UPDATE") {
		t.Fatalf("upsert must resolve conflicts in-statement:\n%s", ensureUserSQL)
	}
	if strings.Contains(ensureUserSQL, ";") {
		t.Fatalf("upsert must be a single statement:\n%s", ensureUserSQL)
	}
}

func TestEnsureUserConflictPromotesOwnerRoleOnly(t *testing.T) {
	// A repeat login by the owner subject carries role=admin and must win
	// the conflict; everyone else keeps whatever role the row already has.
	promotion := regexp.MustCompile(`role\s*=\s*CASE WHEN EXCLUDED\.role = 'admin' THEN 'admin' ELSE users\.role END`)
	if !promotion.MatchString(ensureUserSQL) {
		t.Fatalf("conflict update must promote admin and never downgrade:\n%s", ensureUserSQL)
	}
}

func TestEnsureUserConflictRefreshesSignIn(t *testing.T) {
	conflictSet := ensureUserSQL[strings.Index(ensureUserSQL, "DO UPDATE SET"):]
	if !strings.Contains(conflictSet, "last_signed_in = NOW()") {
		t.Fatalf("repeat login must refresh last_signed_in:\n%s", conflictSet)
	}
	for _, col := range []string{"partner_id", "subject ="} {
		if strings.Contains(conflictSet, col) {
			t.Fatalf("conflict update must not touch %s:\n%s", col, conflictSet)
		}
	}
}
