// Package order keeps the display order of layers: the pure merge policies
// that combine a stored order with the live layer names, and a Store that
// persists the order through a pluggable backend.
package order

import (
	"slices"
)

// Reconcile keeps the names of stored that are present, in their stored
// relative order and without duplicates, then appends the remaining present
// names in lexicographic order. Every read path goes through it.
func Reconcile(stored, present []string) []string {
	live := make(map[string]struct{}, len(present))
	for _, n := range present {
		live[n] = struct{}{}
	}
	out := make([]string, 0, len(live))
	seen := make(map[string]struct{}, len(live))
	for _, n := range stored {
		if _, ok := live[n]; !ok {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}

	var rest []string
	for n := range live {
		if _, ok := seen[n]; !ok {
			rest = append(rest, n)
		}
	}
	slices.Sort(rest)
	return append(out, rest...)
}

// SetOrder filters a caller supplied order down to present names, dropping
// non-string entries and repeats, then appends the present names it missed
// in present's own order (the registry's insertion order, not sorted).
func SetOrder(requested []any, present []string) []string {
	live := make(map[string]struct{}, len(present))
	for _, n := range present {
		live[n] = struct{}{}
	}
	out := make([]string, 0, len(live))
	seen := make(map[string]struct{}, len(live))
	add := func(n string) {
		if _, ok := live[n]; !ok {
			return
		}
		if _, dup := seen[n]; dup {
			return
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	for _, v := range requested {
		if s, ok := v.(string); ok {
			add(s)
		}
	}
	for _, n := range present {
		add(n)
	}
	return out
}

// AppendMissing returns stored followed by every name of present that is not
// already in it, in present's order. Used after uploads and bootstrap so new
// layers land at the end of the stack.
func AppendMissing(stored, present []string) []string {
	out := slices.Clone(stored)
	have := make(map[string]struct{}, len(out))
	for _, n := range out {
		have[n] = struct{}{}
	}
	for _, n := range present {
		if _, ok := have[n]; ok {
			continue
		}
		have[n] = struct{}{}
		out = append(out, n)
	}
	return out
}

// Without returns stored with every occurrence of name removed.
func Without(stored []string, name string) []string {
	out := make([]string, 0, len(stored))
	for _, n := range stored {
		if n != name {
			out = append(out, n)
		}
	}
	return out
}
