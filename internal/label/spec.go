package label

import (
	"fmt"
	"strings"
)

// PackageSpecification is a pattern matching a set of packages. Three forms
// exist: a single package ("//foo/bar"), a subtree ("//foo/..."), and the
// universal pattern ("//...") that matches every package.
type PackageSpecification struct {
	pkg     string
	subtree bool
	all     bool
}

// Everything returns the specification matching any package.
func Everything() PackageSpecification {
	return PackageSpecification{all: true}
}

// Single returns the specification matching exactly pkg.
func Single(pkg string) PackageSpecification {
	return PackageSpecification{pkg: pkg}
}

// Subtree returns the specification matching pkg and every package below it.
func Subtree(pkg string) PackageSpecification {
	return PackageSpecification{pkg: pkg, subtree: true}
}

// ParseSpecification converts a package pattern string into a
// PackageSpecification.
func ParseSpecification(s string) (PackageSpecification, error) {
	if !strings.HasPrefix(s, "//") {
		return PackageSpecification{}, fmt.Errorf("package specification %q must start with //", s)
	}
	rest := s[2:]
	if rest == "..." {
		return Everything(), nil
	}
	if pkg, ok := strings.CutSuffix(rest, "/..."); ok {
		if pkg == "" {
			return PackageSpecification{}, fmt.Errorf("package specification %q has an empty package path", s)
		}
		return Subtree(pkg), nil
	}
	if strings.Contains(rest, ":") {
		return PackageSpecification{}, fmt.Errorf("package specification %q must not name a target", s)
	}
	return Single(rest), nil
}

// Contains reports whether the specification matches the given package path.
func (p PackageSpecification) Contains(pkg string) bool {
	switch {
	case p.all:
		return true
	case p.subtree:
		return pkg == p.pkg || strings.HasPrefix(pkg, p.pkg+"/")
	default:
		return pkg == p.pkg
	}
}

// String serializes the specification into its canonical pattern form.
func (p PackageSpecification) String() string {
	switch {
	case p.all:
		return "//..."
	case p.subtree:
		return "//" + p.pkg + "/..."
	default:
		return "//" + p.pkg
	}
}

// PackageGroupContents is the ordered list of specifications exposed by one
// package group.
type PackageGroupContents struct {
	Specifications []PackageSpecification
}

// Matches reports whether any specification in the contents matches pkg.
func (c PackageGroupContents) Matches(pkg string) bool {
	for _, spec := range c.Specifications {
		if spec.Contains(pkg) {
			return true
		}
	}
	return false
}
