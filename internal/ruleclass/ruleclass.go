// Package ruleclass holds the definition layer of the rule system: attribute
// schemas, configuration-fragment policies, advertised providers, and the
// binding to exactly one rule-body evaluator per class. Definitions come from
// native registration or from HCL manifests; both produce the same RuleClass.
package ruleclass

import (
	"github.com/hashicorp/hcl/v2"
	"github.com/zclconf/go-cty/cty"
)

// Attribute is the schema of one rule or aspect attribute.
type Attribute struct {
	Name string
	// Type constrains the attribute's value.
	Type cty.Type
	// Mandatory attributes must be set by every instance.
	Mandatory bool
	// Default applies when an optional attribute is unset. cty.NilVal means
	// no default.
	Default cty.Value
	// IsDep marks label-valued attributes whose referenced targets become
	// ordinary dependency edges.
	IsDep bool
}

// MissingFragmentPolicy decides what happens when a rule's declared fragments
// are absent from the configuration.
type MissingFragmentPolicy int

const (
	// IgnoreMissingFragments analyzes the rule anyway.
	IgnoreMissingFragments MissingFragmentPolicy = iota
	// FailAnalysis reports a rule error and fails the node outright.
	FailAnalysis
	// CreateFailSteps defers the failure: the node analyzes into a result
	// whose outputs are claimed by a deliberately failing step.
	CreateFailSteps
)

// FragmentPolicy declares which configuration fragments a rule class reads.
type FragmentPolicy struct {
	// RequiredNative are canonical fragment names from the native API.
	RequiredNative []string
	// RequiredExtension are fragment names from the extension API, resolved
	// to canonical names through the configuration at analysis time.
	RequiredExtension []string
	// Missing is the policy applied when a required native fragment is
	// absent.
	Missing MissingFragmentPolicy
}

// AdvertisedProviders is the provider set a rule or aspect class promises to
// produce.
type AdvertisedProviders struct {
	// CanHaveAny disables advertisement checking entirely.
	CanHaveAny bool
	// Native names advertised built-in providers.
	Native []string
	// Extension names advertised dynamically defined providers.
	Extension []string
}

// RuleClass is the reusable definition a rule target instantiates. Exactly
// one of FactoryName and Body is set: FactoryName binds the class to a
// registered native body evaluator, Body carries an interpreted one.
type RuleClass struct {
	Name       string
	Attributes map[string]Attribute
	Fragments  FragmentPolicy
	Advertised AdvertisedProviders
	// IsBuildSetting marks classes whose instances are themselves pieces of
	// configuration; they count among their dependents' required fragments.
	IsBuildSetting bool
	// IsConfigCondition marks classes whose instances are select() branches.
	IsConfigCondition bool

	FactoryName string
	Body        *BodySpec
}

// Interpreted reports whether the class carries an interpreted body.
func (c *RuleClass) Interpreted() bool {
	return c.Body != nil
}

// BodySpec is an interpreted rule body from an HCL manifest: provider
// declarations whose expressions are evaluated against the rule's attributes
// and fragments, plus an optional build step.
type BodySpec struct {
	Providers []ProviderSpec
	Step      *StepSpec
}

// ProviderSpec declares one extension provider an interpreted body produces.
type ProviderSpec struct {
	Name string
	Expr hcl.Expression
}

// StepSpec declares the single build step an interpreted body registers over
// the rule's declared outputs.
type StepSpec struct {
	Mnemonic string
	Message  string
}

// AspectClass is the definition of an aspect: the same surface as a rule
// class minus build-setting semantics, evaluated over an existing node.
type AspectClass struct {
	Name       string
	Attributes map[string]Attribute
	Fragments  FragmentPolicy
	Advertised AdvertisedProviders

	FactoryName string
	Body        *BodySpec
}

// Interpreted reports whether the aspect class carries an interpreted body.
func (c *AspectClass) Interpreted() bool {
	return c.Body != nil
}

// Aspect is one application of an aspect class, with its instantiation
// parameters.
type Aspect struct {
	Class  *AspectClass
	Params map[string]cty.Value
}
