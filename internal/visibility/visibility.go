// Package visibility resolves a target's declared visibility into the
// lineage-shared set of package specifications that may depend on it.
package visibility

import (
	"context"
	"fmt"

	"github.com/vk/buildgrid/internal/buildconfig"
	"github.com/vk/buildgrid/internal/deps"
	"github.com/vk/buildgrid/internal/events"
	"github.com/vk/buildgrid/internal/label"
	"github.com/vk/buildgrid/internal/nestedset"
	"github.com/vk/buildgrid/internal/provider"
	"github.com/vk/buildgrid/internal/target"
)

// Resolved is the materializable set of package specifications granted access
// to one target.
type Resolved = nestedset.Set[label.PackageGroupContents]

// Resolve computes a target's visibility from its declaration and its
// visibility-kind dependency edges. Package groups live outside any
// configuration, so groupConfig is nil for every caller today; it is threaded
// through so the matching rule stays in one place.
//
// A referenced group with no matching edge can only come from a default or
// inherited visibility: a first-class reference that fails to resolve is
// caught by the graph layer before evaluation starts. It is reported and the
// remaining references still contribute. Resolution only reads prerequisite
// collections, never mutates them.
func Resolve(
	ctx context.Context,
	t *target.Target,
	prerequisites *deps.Multimap,
	groupConfig *buildconfig.Configuration,
	reporter events.Reporter,
) *Resolved {
	vis := t.Visibility
	switch vis.Kind {
	case target.VisibilityPublic:
		return nestedset.Of(label.PackageGroupContents{
			Specifications: []label.PackageSpecification{label.Everything()},
		})
	case target.VisibilityPrivate:
		return nestedset.Empty[label.PackageGroupContents]()
	case target.VisibilityGroups:
		b := nestedset.NewBuilder[label.PackageGroupContents]()
		for _, groupLabel := range vis.Groups {
			group := findPrerequisite(prerequisites, groupLabel, groupConfig)
			var specs *nestedset.Set[label.PackageGroupContents]
			if group != nil {
				if p, ok := group.Provider(provider.PackageSpecificationsName); ok {
					specs = p.(provider.PackageSpecifications).Contents
				}
			}
			if specs == nil {
				reporter.Report(ctx, events.Errorf(&t.Location,
					"label '%s' does not refer to a package group", groupLabel))
				continue
			}
			b.AddTransitive(specs)
		}
		if len(vis.Direct.Specifications) > 0 {
			b.Add(vis.Direct)
		}
		return b.Build()
	default:
		panic(fmt.Sprintf("visibility: unknown visibility kind %d", vis.Kind))
	}
}

// findPrerequisite locates the visibility-kind edge whose label and
// configuration match.
func findPrerequisite(
	prerequisites *deps.Multimap,
	l label.Label,
	config *buildconfig.Configuration,
) *target.Configured {
	for _, ct := range prerequisites.ByKind(deps.VisibilityDependency) {
		if ct.Target.Label.Equal(l) && buildconfig.Equal(ct.Configuration, config) {
			return ct
		}
	}
	return nil
}
