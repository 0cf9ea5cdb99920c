package target

import "github.com/vk/buildgrid/internal/label"

// VisibilityKind distinguishes the visibility declaration forms.
type VisibilityKind int

const (
	// VisibilityPublic grants every package access.
	VisibilityPublic VisibilityKind = iota
	// VisibilityPrivate grants no package access.
	VisibilityPrivate
	// VisibilityGroups grants access to the union of referenced package
	// groups and directly listed package patterns.
	VisibilityGroups
)

// Visibility is a target's declared visibility, before resolution.
type Visibility struct {
	Kind VisibilityKind
	// Groups are package-group labels, meaningful only for VisibilityGroups.
	Groups []label.Label
	// Direct are package patterns listed inline, meaningful only for
	// VisibilityGroups.
	Direct label.PackageGroupContents
}

// Public returns the fully public visibility declaration.
func Public() Visibility {
	return Visibility{Kind: VisibilityPublic}
}

// Private returns the fully private visibility declaration.
func Private() Visibility {
	return Visibility{Kind: VisibilityPrivate}
}

// GroupVisibility returns a visibility declaration naming package groups and
// inline package patterns.
func GroupVisibility(groups []label.Label, direct label.PackageGroupContents) Visibility {
	return Visibility{Kind: VisibilityGroups, Groups: groups, Direct: direct}
}
