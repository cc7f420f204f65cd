// Package setutil provides small insertion-ordered set helpers.
package setutil

import "strings"

// Ordered is a set that remembers the order values were first added in. The
// zero value is ready to use.
type Ordered[T comparable] struct {
	items []T
	index map[T]struct{}
}

// Add inserts v and reports whether it was new.
func (s *Ordered[T]) Add(v T) bool {
	if s.index == nil {
		s.index = make(map[T]struct{})
	}
	if _, ok := s.index[v]; ok {
		return false
	}
	s.index[v] = struct{}{}
	s.items = append(s.items, v)
	return true
}

// Values returns a copy of the values in insertion order. It never returns nil.
func (s *Ordered[T]) Values() []T {
	return append(make([]T, 0, len(s.items)), s.items...)
}

// DedupeFold removes values that repeat case-insensitively, keeping the first
// spelling. Blank values are dropped.
func DedupeFold(values []string) []string {
	var seen Ordered[string]
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if seen.Add(strings.ToLower(v)) {
			out = append(out, v)
		}
	}
	return out
}
