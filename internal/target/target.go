// Package target models the nodes of the build graph before analysis: rules,
// files, package groups, and environment groups, each with a label, a
// declaration location, and a visibility declaration. A Target is immutable
// once the loader hands it over.
package target

import (
	"fmt"

	"github.com/hashicorp/hcl/v2"

	"github.com/vk/buildgrid/internal/buildconfig"
	"github.com/vk/buildgrid/internal/label"
	"github.com/vk/buildgrid/internal/nestedset"
	"github.com/vk/buildgrid/internal/provider"
	"github.com/vk/buildgrid/internal/ruleclass"
)

// Kind distinguishes the closed set of node variants. Every dispatch over a
// Target must switch exhaustively on Kind; adding a kind is meant to break
// every switch that does not handle it.
type Kind int

const (
	// KindRule is a build rule instantiated from a rule class.
	KindRule Kind = iota
	// KindOutputFile is a file generated by a rule in the same package.
	KindOutputFile
	// KindInputFile is a source file checked into the workspace.
	KindInputFile
	// KindPackageGroup is a named set of package specifications.
	KindPackageGroup
	// KindEnvironmentGroup declares a constraint environment set.
	KindEnvironmentGroup
)

func (k Kind) String() string {
	switch k {
	case KindRule:
		return "rule"
	case KindOutputFile:
		return "output file"
	case KindInputFile:
		return "input file"
	case KindPackageGroup:
		return "package group"
	case KindEnvironmentGroup:
		return "environment group"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Target is one node of the build graph. Exactly one of the per-kind fields
// matching Kind is non-nil.
type Target struct {
	Label      label.Label
	Kind       Kind
	Visibility Visibility
	// Location is where the target was declared, for diagnostics.
	Location hcl.Range

	Rule             *Rule
	OutputFile       *OutputFile
	InputFile        *InputFile
	PackageGroup     *PackageGroup
	EnvironmentGroup *EnvironmentGroup
}

// Rule is the rule variant: a class reference plus concrete attribute values
// and declared outputs.
type Rule struct {
	Class *ruleclass.RuleClass
	// Attrs holds the evaluated attribute values keyed by attribute name.
	Attrs map[string]AttrValue
	// Outputs are the labels of the files this rule declares it produces.
	Outputs []label.Label
}

// AttrValue is one evaluated attribute: its value plus the labels it
// references, in declaration order, for dependency edges.
type AttrValue struct {
	Value  ValueOrSelect
	Labels []label.Label
}

// OutputFile is the generated-file variant.
type OutputFile struct {
	// GeneratingRule is the label of the rule that produces this file.
	GeneratingRule label.Label
}

// InputFile is the source-file variant.
type InputFile struct {
	// Path is the workspace-relative path of the file.
	Path string
}

// PackageGroup is the package-group variant: directly listed specifications
// plus references to included groups.
type PackageGroup struct {
	Specs    label.PackageGroupContents
	Includes []label.Label
}

// EnvironmentGroup is the environment-group variant.
type EnvironmentGroup struct {
	Environments []label.Label
	Defaults     []label.Label
}

// Configured pairs an already-analyzed target with the configuration it was
// analyzed under and the providers it produced. This is the shape dependency
// results arrive in.
type Configured struct {
	Target        *Target
	Configuration *buildconfig.Configuration
	Providers     *provider.Collection
	// Visibility is the resolved set of package specifications permitted to
	// depend on this node.
	Visibility *nestedset.Set[label.PackageGroupContents]
}

// Provider looks up a provider on the configured result by name.
func (c *Configured) Provider(name string) (provider.Provider, bool) {
	return c.Providers.Get(name)
}
