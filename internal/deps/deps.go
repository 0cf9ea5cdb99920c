// Package deps models resolved dependency edges as they arrive from the graph
// engine: an insertion-ordered multimap keyed by dependency kind and
// attribute, plus the reclassifier that re-keys edges by attribute for rule
// bodies.
package deps

import "github.com/vk/buildgrid/internal/target"

// Kind classifies a dependency edge.
type Kind int

const (
	// AttributeDependency is an ordinary edge from a label-valued attribute.
	AttributeDependency Kind = iota
	// OutputFileRuleDependency links an output file to its generating rule.
	OutputFileRuleDependency
	// VisibilityDependency points at a package group referenced by a
	// visibility declaration.
	VisibilityDependency
	// ToolchainDependency is resolved toolchain machinery, surfaced to rule
	// bodies through the toolchain context rather than attributes.
	ToolchainDependency
)

// Key identifies one group of edges: the kind plus, for attribute edges, the
// attribute name.
type Key struct {
	Kind      Kind
	Attribute string
}

// Multimap is an insertion-ordered mapping from Key to the ordered sequence
// of resolved dependency results under that key. Keys are unique; a repeated
// key appends to its existing sequence without moving it.
type Multimap struct {
	keys   []Key
	values map[Key][]*target.Configured
}

// NewMultimap returns an empty multimap.
func NewMultimap() *Multimap {
	return &Multimap{values: make(map[Key][]*target.Configured)}
}

// Put appends a result under the given key. The exact same result appearing
// twice under one key is kept once.
func (m *Multimap) Put(k Key, ct *target.Configured) {
	existing, ok := m.values[k]
	if !ok {
		m.keys = append(m.keys, k)
	}
	for _, present := range existing {
		if present == ct {
			return
		}
	}
	m.values[k] = append(existing, ct)
}

// Get returns the ordered results under a key.
func (m *Multimap) Get(k Key) []*target.Configured {
	return m.values[k]
}

// ByKind returns every result whose key has the given kind, in insertion
// order across keys.
func (m *Multimap) ByKind(kind Kind) []*target.Configured {
	var out []*target.Configured
	for _, k := range m.keys {
		if k.Kind == kind {
			out = append(out, m.values[k]...)
		}
	}
	return out
}

// Keys returns the keys in insertion order.
func (m *Multimap) Keys() []Key {
	return m.keys
}

// Values returns every result in insertion order across all keys.
func (m *Multimap) Values() []*target.Configured {
	var out []*target.Configured
	for _, k := range m.keys {
		out = append(out, m.values[k]...)
	}
	return out
}

// ByAttribute is the reclassified view rule bodies consume: attribute name to
// ordered prerequisite results.
type ByAttribute struct {
	names  []string
	values map[string][]*target.Configured
}

// Get returns the prerequisites of one attribute.
func (b *ByAttribute) Get(attribute string) []*target.Configured {
	return b.values[attribute]
}

// Attributes returns the attribute names in first-seen order.
func (b *ByAttribute) Attributes() []string {
	return b.names
}

// All returns every prerequisite in attribute order.
func (b *ByAttribute) All() []*target.Configured {
	var out []*target.Configured
	for _, name := range b.names {
		out = append(out, b.values[name]...)
	}
	return out
}

// Reclassify re-keys a kind-keyed multimap by attribute name, preserving
// per-attribute insertion order. Toolchain edges are dropped here; they reach
// rule bodies through a separate channel.
func Reclassify(m *Multimap) *ByAttribute {
	out := &ByAttribute{values: make(map[string][]*target.Configured)}
	for _, k := range m.keys {
		if k.Kind == ToolchainDependency {
			continue
		}
		if _, ok := out.values[k.Attribute]; !ok {
			out.names = append(out.names, k.Attribute)
		}
		out.values[k.Attribute] = append(out.values[k.Attribute], m.values[k]...)
	}
	return out
}
