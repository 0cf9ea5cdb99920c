// Package nestedset provides an append-structured collection with structural
// sharing. A set holds its own direct elements plus references to previously
// built sets; union is a pointer append, never a copy. Flattening walks the
// lineage once per set, visiting each shared sub-set exactly once, and the
// result is memoized so repeated reads across many dependents stay cheap.
package nestedset

import "sync"

// Set is an immutable collection of direct elements and transitive sub-sets.
// A Set is safe for concurrent reads once built.
type Set[T any] struct {
	direct     []T
	transitive []*Set[T]

	flattenOnce sync.Once
	flat        []T
}

// Empty returns a set with no elements. Callers may share the result freely.
func Empty[T any]() *Set[T] {
	return &Set[T]{}
}

// Of returns a set holding exactly the given direct elements.
func Of[T any](items ...T) *Set[T] {
	return &Set[T]{direct: items}
}

// Builder accumulates direct elements and transitive sub-sets for one Set.
// The zero value is not usable; obtain one from NewBuilder.
type Builder[T any] struct {
	direct     []T
	transitive []*Set[T]
}

// NewBuilder returns an empty builder.
func NewBuilder[T any]() *Builder[T] {
	return &Builder[T]{}
}

// Add appends a direct element.
func (b *Builder[T]) Add(item T) *Builder[T] {
	b.direct = append(b.direct, item)
	return b
}

// AddAll appends each item as a direct element.
func (b *Builder[T]) AddAll(items []T) *Builder[T] {
	b.direct = append(b.direct, items...)
	return b
}

// AddTransitive unions a previously built set by reference. Nil and empty sets
// are skipped.
func (b *Builder[T]) AddTransitive(s *Set[T]) *Builder[T] {
	if s != nil && !s.IsEmpty() {
		b.transitive = append(b.transitive, s)
	}
	return b
}

// Build finalizes the builder into an immutable Set.
func (b *Builder[T]) Build() *Set[T] {
	return &Set[T]{direct: b.direct, transitive: b.transitive}
}

// IsEmpty reports whether the set contains no elements at all.
func (s *Set[T]) IsEmpty() bool {
	if len(s.direct) > 0 {
		return false
	}
	for _, t := range s.transitive {
		if !t.IsEmpty() {
			return false
		}
	}
	return true
}

// ToList materializes the set into a flat slice: direct elements first, then
// each transitive sub-set in insertion order. A sub-set reachable through more
// than one path contributes its elements once. The returned slice is shared;
// callers must not mutate it.
func (s *Set[T]) ToList() []T {
	s.flattenOnce.Do(func() {
		seen := make(map[*Set[T]]struct{})
		s.flat = s.appendTo(nil, seen)
	})
	return s.flat
}

func (s *Set[T]) appendTo(out []T, seen map[*Set[T]]struct{}) []T {
	if _, ok := seen[s]; ok {
		return out
	}
	seen[s] = struct{}{}
	out = append(out, s.direct...)
	for _, t := range s.transitive {
		out = t.appendTo(out, seen)
	}
	return out
}
