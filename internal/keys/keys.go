// Package keys derives the identity of items and results.
//
// A value that is a structured record (a JSON object once encoded) containing
// the configured key field is identified by that field's value. Any other value
// is identified by its own canonical form. Derivation goes through the JSON
// encoding so a key computed from a live Go value equals the key computed from
// the same value after it was persisted and read back.
package keys

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"strconv"
	"sync"
)

// DefaultField is the record field used as key when none is configured.
const DefaultField = "id"

// Key is the canonical identity of an item or result.
// String values map to themselves; every other value maps to its compact JSON form.
type Key string

// Of derives the key of v. Values that cannot be JSON encoded fall back to their
// fmt representation so that admission checks never fail.
func Of(v any, field string) Key {
	switch x := v.(type) {
	case string:
		return Key(x)
	case int:
		return Key(strconv.Itoa(x))
	case int64:
		return Key(strconv.FormatInt(x, 10))
	case map[string]any:
		if fv, ok := x[field]; ok {
			if k, err := canonical(fv); err == nil {
				return k
			}
		}
	}

	k, err := Extract(v, field)
	if err != nil {
		return Key(fmt.Sprintf("%v", v))
	}
	return k
}

// Extract derives the key of v and reports values that cannot be encoded.
func Extract(v any, field string) (Key, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode value for key: %w", err)
	}
	return FromJSON(raw, field)
}

// FromJSON derives the key of an already encoded JSON document.
func FromJSON(raw []byte, field string) (Key, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return "", fmt.Errorf("decode value for key: %w", err)
	}

	if m, ok := v.(map[string]any); ok {
		if fv, ok := m[field]; ok {
			return canonical(fv)
		}
	}
	return canonical(v)
}

func canonical(v any) (Key, error) {
	if s, ok := v.(string); ok {
		return Key(s), nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode key: %w", err)
	}
	return Key(b), nil
}

// Set is a concurrency-safe set of keys.
type Set struct {
	mu sync.RWMutex
	m  map[Key]struct{}
}

// NewSet returns a set holding the given keys.
func NewSet(ks ...Key) *Set {
	s := &Set{m: make(map[Key]struct{}, len(ks))}
	for _, k := range ks {
		s.m[k] = struct{}{}
	}
	return s
}

// Add inserts k and reports whether it was absent.
func (s *Set) Add(k Key) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.m[k]; ok {
		return false
	}
	s.m[k] = struct{}{}
	return true
}

// Has reports whether k is in the set.
func (s *Set) Has(k Key) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.m[k]
	return ok
}

// Len returns the number of keys.
func (s *Set) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.m)
}

// Keys returns the keys in sorted order.
func (s *Set) Keys() []Key {
	s.mu.RLock()
	out := make([]Key, 0, len(s.m))
	for k := range s.m {
		out = append(out, k)
	}
	s.mu.RUnlock()

	slices.Sort(out)
	return out
}
