package cache

import "testing"

func TestRequestKeyShape(t *testing.T) {
	tests := []struct {
		name   string
		prefix string
		path   string
		scope  string
		input  any
		want   string
	}{
		{
			name:   "no scope no input",
			prefix: "trpc",
			path:   "clients.list",
			want:   "trpc:clients.list",
		},
		{
			name:   "scope without input",
			prefix: "trpc",
			path:   "clients.list",
			scope:  "user-42",
			want:   "trpc:clients.list:user-42",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := RequestKey(tc.prefix, tc.path, tc.scope, tc.input)
			if got != tc.want {
				t.Fatalf("RequestKey = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestRequestKeyInputOrderIndependent(t *testing.T) {
	type filter struct {
		Status string `json:"status"`
		Limit  int    `json:"limit"`
	}

	a := RequestKey("trpc", "clients.list", "user-42", map[string]any{"status": "active", "limit": 20})
	b := RequestKey("trpc", "clients.list", "user-42", map[string]any{"limit": 20, "status": "active"})
	if a != b {
		t.Fatalf("map order changed key: %q vs %q", a, b)
	}

	// A struct and the equivalent map hash the same once canonicalised.
	c := RequestKey("trpc", "clients.list", "user-42", filter{Status: "active", Limit: 20})
	if a != c {
		t.Fatalf("struct vs map mismatch: %q vs %q", a, c)
	}
}

func TestRequestKeyDistinguishesInputs(t *testing.T) {
	a := RequestKey("trpc", "clients.get", "user-42", map[string]any{"id": 1})
	b := RequestKey("trpc", "clients.get", "user-42", map[string]any{"id": 2})
	if a == b {
		t.Fatalf("different inputs collided on %q", a)
	}
}
