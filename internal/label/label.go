// Package label defines the canonical identifiers of the build graph: target
// labels of the form //path/to/pkg:name, and package specifications used by
// visibility declarations.
package label

import (
	"fmt"
	"strings"
)

// Label identifies one target: a package path plus a target name within that
// package. The zero value is not a valid label.
type Label struct {
	// Package is the slash-separated package path, without the leading "//".
	Package string
	// Name is the target name within the package.
	Name string
}

// Parse converts a canonical label string into a Label. The accepted forms are
// "//pkg/path:name" and "//pkg/path", the latter implying the name of the last
// path segment.
func Parse(s string) (Label, error) {
	if !strings.HasPrefix(s, "//") {
		return Label{}, fmt.Errorf("label %q must start with //", s)
	}
	rest := s[2:]
	pkg, name, hasName := strings.Cut(rest, ":")
	if strings.Contains(name, ":") {
		return Label{}, fmt.Errorf("label %q contains more than one ':'", s)
	}
	if !hasName {
		if pkg == "" {
			return Label{}, fmt.Errorf("label %q names no package and no target", s)
		}
		segments := strings.Split(pkg, "/")
		name = segments[len(segments)-1]
	}
	if name == "" {
		return Label{}, fmt.Errorf("label %q has an empty target name", s)
	}
	return Label{Package: pkg, Name: name}, nil
}

// MustParse is Parse for trusted, compile-time constant labels. It panics on
// malformed input.
func MustParse(s string) Label {
	l, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return l
}

// String serializes the label into its canonical form.
func (l Label) String() string {
	return "//" + l.Package + ":" + l.Name
}

// Equal reports whether two labels identify the same target.
func (l Label) Equal(other Label) bool {
	return l.Package == other.Package && l.Name == other.Name
}

// Compare orders labels lexicographically by package, then by name.
func (l Label) Compare(other Label) int {
	if c := strings.Compare(l.Package, other.Package); c != 0 {
		return c
	}
	return strings.Compare(l.Name, other.Name)
}
