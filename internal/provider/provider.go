// Package provider defines the capabilities a configured node exposes to its
// dependents, and the ordered collection they travel in.
package provider

import (
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/buildgrid/internal/label"
	"github.com/vk/buildgrid/internal/nestedset"
)

// Provider is one named capability attached to a configured result. The name
// is the lookup key inside a Collection and must be unique per result.
type Provider interface {
	ProviderName() string
}

// Collection is an ordered, name-keyed set of providers. It is immutable once
// built and safe for concurrent reads.
type Collection struct {
	names []string
	byKey map[string]Provider
}

// NewCollection builds a collection from providers in declaration order. A
// duplicate name panics: a rule body producing the same provider twice is a
// programmer error, not user input.
func NewCollection(providers ...Provider) *Collection {
	c := &Collection{byKey: make(map[string]Provider, len(providers))}
	for _, p := range providers {
		c.add(p)
	}
	return c
}

func (c *Collection) add(p Provider) {
	name := p.ProviderName()
	if _, exists := c.byKey[name]; exists {
		panic("provider: duplicate provider " + name)
	}
	c.names = append(c.names, name)
	c.byKey[name] = p
}

// Get looks up a provider by name.
func (c *Collection) Get(name string) (Provider, bool) {
	if c == nil {
		return nil, false
	}
	p, ok := c.byKey[name]
	return p, ok
}

// Has reports whether a provider with the given name is present.
func (c *Collection) Has(name string) bool {
	_, ok := c.Get(name)
	return ok
}

// Names returns the provider names in declaration order.
func (c *Collection) Names() []string {
	if c == nil {
		return nil
	}
	return c.names
}

// Len returns the number of providers in the collection.
func (c *Collection) Len() int {
	if c == nil {
		return 0
	}
	return len(c.names)
}

// Well-known provider names.
const (
	RunfilesName              = "RunfilesInfo"
	AnalysisFailureName       = "AnalysisFailureInfo"
	RequiredFragmentsName     = "RequiredFragmentsInfo"
	BuildSettingName          = "BuildSettingInfo"
	PackageSpecificationsName = "PackageSpecificationInfo"
	ConfigMatchingName        = "ConfigMatchingInfo"
	FilesName                 = "FileInfo"
)

// Artifact is a declared build output: a file a registered step claims to
// produce, identified by its owning label and workspace-relative path.
type Artifact struct {
	Owner label.Label
	Path  string
}

// Runfiles lists the files a node contributes to the runtime file tree of
// anything that executes it.
type Runfiles struct {
	Files []Artifact
}

func (Runfiles) ProviderName() string { return RunfilesName }

// EmptyRunfiles is the runfiles provider attached to errored stubs and
// fail-target results.
func EmptyRunfiles() Runfiles { return Runfiles{} }

// AnalysisFailure is one tolerated node-level failure: the label it happened
// on and its message.
type AnalysisFailure struct {
	Label   label.Label
	Message string
}

// AnalysisFailureInfo aggregates tolerated failures in a lineage-shared set so
// a failure flowing through many dependents is stored once.
type AnalysisFailureInfo struct {
	Causes *nestedset.Set[AnalysisFailure]
}

func (AnalysisFailureInfo) ProviderName() string { return AnalysisFailureName }

// ForAnalysisFailures wraps directly observed failures.
func ForAnalysisFailures(failures ...AnalysisFailure) AnalysisFailureInfo {
	return AnalysisFailureInfo{Causes: nestedset.Of(failures...)}
}

// ForAnalysisFailureSets re-wraps failure sets propagated from dependencies,
// preserving their encounter order.
func ForAnalysisFailureSets(sets []*nestedset.Set[AnalysisFailure]) AnalysisFailureInfo {
	b := nestedset.NewBuilder[AnalysisFailure]()
	for _, s := range sets {
		b.AddTransitive(s)
	}
	return AnalysisFailureInfo{Causes: b.Build()}
}

// RequiredFragments names the configuration state a node's analysis depended
// on, sorted alphabetically.
type RequiredFragments struct {
	Fragments []string
}

func (RequiredFragments) ProviderName() string { return RequiredFragmentsName }

// BuildSetting marks a node that is itself a user-defined piece of
// configuration. Dependents count its label among their required fragments.
type BuildSetting struct {
	Label   label.Label
	Default cty.Value
}

func (BuildSetting) ProviderName() string { return BuildSettingName }

// PackageSpecifications is the capability a package group exposes: the
// lineage-shared collection of package patterns it grants visibility to.
type PackageSpecifications struct {
	Contents *nestedset.Set[label.PackageGroupContents]
}

func (PackageSpecifications) ProviderName() string { return PackageSpecificationsName }

// ConfigMatching records the outcome of matching one select() condition
// against the configuration, along with the option names the match read.
type ConfigMatching struct {
	Label           label.Label
	Matches         bool
	RequiredOptions []string
}

func (ConfigMatching) ProviderName() string { return ConfigMatchingName }

// Files lists the artifacts a node makes available to dependents: a rule's
// declared outputs, a generated file, or a source file.
type Files struct {
	Artifacts []Artifact
}

func (Files) ProviderName() string { return FilesName }

// ForLabel finds the artifact registered under an output label.
func (f Files) ForLabel(l label.Label) (Artifact, bool) {
	for _, a := range f.Artifacts {
		if a.Owner.Equal(l) {
			return a, true
		}
	}
	return Artifact{}, false
}

// Extension is a dynamically named provider produced by an interpreted rule
// body. Its payload is an arbitrary cty value.
type Extension struct {
	Name  string
	Value cty.Value
}

func (e Extension) ProviderName() string { return e.Name }
