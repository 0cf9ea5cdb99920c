// Package buildconfig models the immutable configuration a node is analyzed
// under: a bundle of named option groups ("fragments") with a checksum
// identity, plus the build-wide analysis toggles.
package buildconfig

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"

	"github.com/zclconf/go-cty/cty"
)

// FragmentMode selects how much required-fragment information an analysis run
// records per node.
type FragmentMode int

const (
	// FragmentsOff disables required-fragment reporting entirely.
	FragmentsOff FragmentMode = iota
	// FragmentsDirect reports only a node's own requirements.
	FragmentsDirect
	// FragmentsTransitive reports a node's own requirements plus everything
	// inherited from its dependencies.
	FragmentsTransitive
)

// ParseFragmentMode converts the CLI spelling of a fragment mode.
func ParseFragmentMode(s string) (FragmentMode, error) {
	switch s {
	case "off":
		return FragmentsOff, nil
	case "direct":
		return FragmentsDirect, nil
	case "transitive":
		return FragmentsTransitive, nil
	default:
		return FragmentsOff, fmt.Errorf("unknown fragment mode %q (want off, direct, or transitive)", s)
	}
}

func (m FragmentMode) String() string {
	switch m {
	case FragmentsOff:
		return "off"
	case FragmentsDirect:
		return "direct"
	case FragmentsTransitive:
		return "transitive"
	default:
		return fmt.Sprintf("FragmentMode(%d)", int(m))
	}
}

// Options are the build-wide toggles the evaluator reads at the start of each
// evaluation. They are passed explicitly, never looked up from globals.
type Options struct {
	// AllowAnalysisFailures converts node-level analysis errors into errored
	// stub results instead of hard failures.
	AllowAnalysisFailures bool
	// FragmentMode controls required-fragment reporting.
	FragmentMode FragmentMode
}

// Configuration is an immutable bundle of fragments keyed by canonical name.
// The same Configuration value is shared across many concurrent evaluations.
type Configuration struct {
	fragments map[string]cty.Value
	// extensionNames maps extension-API fragment aliases to canonical names.
	extensionNames map[string]string
	checksum       string
	options        Options
}

// New builds a Configuration from fragment values keyed by canonical name and
// extension-name aliases. The checksum is derived from the fragment contents
// so configurations with equal options share an identity.
func New(fragments map[string]cty.Value, extensionNames map[string]string, options Options) *Configuration {
	c := &Configuration{
		fragments:      make(map[string]cty.Value, len(fragments)),
		extensionNames: make(map[string]string, len(extensionNames)),
		options:        options,
	}
	for name, v := range fragments {
		c.fragments[name] = v
	}
	for alias, canonical := range extensionNames {
		c.extensionNames[alias] = canonical
	}
	c.checksum = checksumFragments(c.fragments)
	return c
}

func checksumFragments(fragments map[string]cty.Value) string {
	names := make([]string, 0, len(fragments))
	for name := range fragments {
		names = append(names, name)
	}
	sort.Strings(names)

	h := sha256.New()
	for _, name := range names {
		fmt.Fprintf(h, "%s=%s;", name, fragments[name].GoString())
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}

// Checksum returns the short identity string of this configuration.
func (c *Configuration) Checksum() string {
	return c.checksum
}

// Options returns the build-wide toggles carried by this configuration.
func (c *Configuration) Options() Options {
	return c.options
}

// HasFragment reports whether a fragment with the given canonical name exists.
func (c *Configuration) HasFragment(name string) bool {
	_, ok := c.fragments[name]
	return ok
}

// Fragment looks up a fragment's option group by canonical name.
func (c *Configuration) Fragment(name string) (cty.Value, bool) {
	v, ok := c.fragments[name]
	return v, ok
}

// HasAllFragments reports whether every named fragment is present.
func (c *Configuration) HasAllFragments(names []string) bool {
	for _, name := range names {
		if !c.HasFragment(name) {
			return false
		}
	}
	return true
}

// MissingFragments returns the subset of names absent from the configuration,
// preserving the given order.
func (c *Configuration) MissingFragments(names []string) []string {
	var missing []string
	for _, name := range names {
		if !c.HasFragment(name) {
			missing = append(missing, name)
		}
	}
	return missing
}

// ExtensionFragmentName resolves an extension-API fragment alias to its
// canonical name. Unknown aliases resolve to themselves so diagnostics still
// name what the rule asked for.
func (c *Configuration) ExtensionFragmentName(alias string) string {
	if canonical, ok := c.extensionNames[alias]; ok {
		return canonical
	}
	return alias
}

// Equal reports whether two configurations share an identity. Nil receivers
// compare equal only to nil, mirroring the null package-group configuration
// used on visibility edges.
func Equal(a, b *Configuration) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.checksum == b.checksum
}
