package authz

import (
	"encoding/json"
	"sort"
	"strings"
)

// PermissionSet is a deduplicated set of permission keys. Order is never
// significant; Slice sorts purely for stable output.
type PermissionSet map[string]struct{}

// NewPermissionSet builds a set from the given keys, trimming blanks.
func NewPermissionSet(keys ...string) PermissionSet {
	set := make(PermissionSet, len(keys))
	for _, k := range keys {
		set.Add(k)
	}
	return set
}

// Add inserts one key; empty keys are ignored.
func (s PermissionSet) Add(key string) {
	key = strings.TrimSpace(key)
	if key == "" {
		return
	}
	s[key] = struct{}{}
}

// Has reports membership.
func (s PermissionSet) Has(key string) bool {
	_, ok := s[key]
	return ok
}

// Union merges other into s.
func (s PermissionSet) Union(other PermissionSet) {
	for k := range other {
		s[k] = struct{}{}
	}
}

// Clone returns an independent copy.
func (s PermissionSet) Clone() PermissionSet {
	out := make(PermissionSet, len(s))
	for k := range s {
		out[k] = struct{}{}
	}
	return out
}

// Equal reports whether both sets hold exactly the same keys.
func (s PermissionSet) Equal(other PermissionSet) bool {
	if len(s) != len(other) {
		return false
	}
	for k := range s {
		if _, ok := other[k]; !ok {
			return false
		}
	}
	return true
}

// Slice returns the keys sorted ascending.
func (s PermissionSet) Slice() []string {
	out := make([]string, 0, len(s))
	for k := range s {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// MarshalJSON encodes the set as a sorted JSON array.
func (s PermissionSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Slice())
}

// UnmarshalJSON accepts the tagged variants seen in stored role rows: a JSON
// array of keys, a JSON string wrapping an encoded array (legacy rows were
// double-encoded), or a bare string. A string that fails to decode as an
// array degrades to a single permission token instead of dropping the role's
// contribution.
func (s *PermissionSet) UnmarshalJSON(data []byte) error {
	set, err := DecodePermissions(data)
	if err != nil {
		return err
	}
	*s = set
	return nil
}

// DecodePermissions normalizes a stored permissions payload into a set. The
// normalization happens once at the store boundary; aggregation never
// inspects raw payloads.
func DecodePermissions(raw []byte) (PermissionSet, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return NewPermissionSet(), nil
	}

	var keys []string
	if err := json.Unmarshal([]byte(trimmed), &keys); err == nil {
		return NewPermissionSet(keys...), nil
	}

	var inner string
	if err := json.Unmarshal([]byte(trimmed), &inner); err == nil {
		inner = strings.TrimSpace(inner)
		if inner == "" {
			return NewPermissionSet(), nil
		}
		if err := json.Unmarshal([]byte(inner), &keys); err == nil {
			return NewPermissionSet(keys...), nil
		}
		// Legacy rows sometimes hold a bare permission key.
		return NewPermissionSet(inner), nil
	}

	// Not valid JSON at all: treat the raw payload as one token.
	return NewPermissionSet(trimmed), nil
}
