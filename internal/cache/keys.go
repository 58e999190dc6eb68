package cache

import (
	"encoding/json"
	"hash/fnv"
	"strconv"
	"strings"
)

// RequestKey builds the deterministic cache key for a request-scoped read:
// prefix:path[:scope][:inputHash]. Two calls with the same logical input
// collide on the same key regardless of map key ordering in the input.
func RequestKey(prefix, path, scope string, input any) string {
	parts := []string{prefix, path}
	if scope != "" {
		parts = append(parts, scope)
	}
	if hash, ok := hashInput(input); ok {
		parts = append(parts, hash)
	}
	return strings.Join(parts, ":")
}

func hashInput(input any) (string, bool) {
	if input == nil {
		return "", false
	}
	canonical, err := canonicalJSON(input)
	if err != nil || string(canonical) == "{}" || string(canonical) == "null" {
		return "", false
	}
	h := fnv.New64a()
	h.Write(canonical)
	return strconv.FormatUint(h.Sum64(), 36), true
}

// canonicalJSON re-marshals through any so that object keys are emitted in
// sorted order no matter what concrete type the input carried.
func canonicalJSON(input any) ([]byte, error) {
	raw, err := json.Marshal(input)
	if err != nil {
		return nil, err
	}
	var normalized any
	if err := json.Unmarshal(raw, &normalized); err != nil {
		return nil, err
	}
	return json.Marshal(normalized)
}
