package analysis

import (
	"context"
	"fmt"
	"sort"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"

	"github.com/vk/buildgrid/internal/buildconfig"
	"github.com/vk/buildgrid/internal/deps"
	"github.com/vk/buildgrid/internal/events"
	"github.com/vk/buildgrid/internal/label"
	"github.com/vk/buildgrid/internal/provider"
	"github.com/vk/buildgrid/internal/ruleclass"
	"github.com/vk/buildgrid/internal/target"
	"github.com/vk/buildgrid/internal/visibility"
)

// RuleContext is the working context of one rule or aspect evaluation. It is
// created fresh per evaluation, owned exclusively by it, and discarded when
// the result is handed back; an abandoned evaluation leaks nothing into the
// next attempt.
type RuleContext struct {
	// ctx is the evaluation's context, held for diagnostic reporting. The
	// RuleContext is request-scoped and never outlives it.
	ctx           context.Context
	env           Environment
	target        *target.Target
	configuration *buildconfig.Configuration
	prerequisites *deps.ByAttribute
	toolchains    []*target.Configured
	visibility    *visibility.Resolved

	// attributes is the schema in effect: the rule class's attributes, or
	// the merged attribute map of an aspect path.
	attributes map[string]ruleclass.Attribute
	fragments  ruleclass.FragmentPolicy

	configConditions  []provider.ConfigMatching
	requiredFragments []string

	attrs   map[string]cty.Value
	outputs []provider.Artifact

	errors []string
	steps  []Step
}

// contextParams collects the inputs for building a RuleContext.
type contextParams struct {
	env              Environment
	target           *target.Target
	configuration    *buildconfig.Configuration
	prerequisites    *deps.Multimap
	visibility       *visibility.Resolved
	attributes       map[string]ruleclass.Attribute
	fragments        ruleclass.FragmentPolicy
	configConditions []provider.ConfigMatching
	// attrValues are the declared attribute values to resolve; nil for
	// aspects, whose attributes carry their values as defaults.
	attrValues map[string]target.AttrValue
	// outputs are the declared output labels, rules only.
	outputs []label.Label
	// requiredFragments is the precomputed aggregation for this node.
	requiredFragments []string
}

// newRuleContext builds the working context: reclassified prerequisites,
// resolved attribute values, declared output artifacts. Attribute problems
// are accumulated as context errors, not returned; the evaluator decides how
// they surface.
func newRuleContext(ctx context.Context, p contextParams) *RuleContext {
	rc := &RuleContext{
		ctx:               ctx,
		env:               p.env,
		target:            p.target,
		configuration:     p.configuration,
		prerequisites:     deps.Reclassify(p.prerequisites),
		toolchains:        p.prerequisites.ByKind(deps.ToolchainDependency),
		visibility:        p.visibility,
		attributes:        p.attributes,
		fragments:         p.fragments,
		configConditions:  p.configConditions,
		requiredFragments: p.requiredFragments,
		attrs:             make(map[string]cty.Value, len(p.attributes)),
	}

	rc.resolveAttributes(p.attrValues)

	for _, out := range p.outputs {
		rc.outputs = append(rc.outputs, provider.Artifact{
			Owner: out,
			Path:  out.Package + "/" + out.Name,
		})
	}
	return rc
}

// resolveAttributes evaluates every declared attribute against the schema:
// select() branches are resolved through matched configuration conditions,
// defaults fill unset optional attributes, and values are converted to the
// declared type.
func (rc *RuleContext) resolveAttributes(values map[string]target.AttrValue) {
	names := make([]string, 0, len(rc.attributes))
	for name := range rc.attributes {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		attr := rc.attributes[name]
		declared, set := values[name]
		if !set {
			if attr.Mandatory {
				rc.AttributeError(name, "mandatory attribute is not set")
				continue
			}
			if attr.Default != cty.NilVal {
				rc.attrs[name] = attr.Default
			}
			continue
		}

		raw, ok := rc.resolveValue(name, declared.Value)
		if !ok {
			continue
		}
		converted, err := convert.Convert(raw, attr.Type)
		if err != nil {
			rc.AttributeError(name, fmt.Sprintf("expected %s: %v", attr.Type.FriendlyName(), err))
			continue
		}
		// Conversion lets null through as null of any type; a null reaching a
		// rule body is a rule error, not a crash.
		if converted.IsNull() {
			rc.AttributeError(name, "attribute value must not be null")
			continue
		}
		rc.attrs[name] = converted
	}
}

// resolveValue collapses a select() to the value of its first matched branch,
// falling back to the default branch.
func (rc *RuleContext) resolveValue(name string, v target.ValueOrSelect) (cty.Value, bool) {
	if !v.IsSelect() {
		return v.Plain, true
	}
	var fallback *target.SelectBranch
	for i, branch := range v.Select {
		if branch.Condition.Equal(target.DefaultCondition) {
			fallback = &v.Select[i]
			continue
		}
		if rc.conditionMatches(branch.Condition) {
			return branch.Value, true
		}
	}
	if fallback != nil {
		return fallback.Value, true
	}
	rc.AttributeError(name, "no matching conditions and no default branch in select()")
	return cty.NilVal, false
}

func (rc *RuleContext) conditionMatches(l label.Label) bool {
	for _, condition := range rc.configConditions {
		if condition.Label.Equal(l) {
			return condition.Matches
		}
	}
	return false
}

// Label returns the label of the node under evaluation.
func (rc *RuleContext) Label() label.Label {
	return rc.target.Label
}

// Configuration returns the configuration the node is analyzed under.
func (rc *RuleContext) Configuration() *buildconfig.Configuration {
	return rc.configuration
}

// Attr returns a resolved attribute value. Unset optional attributes without
// a default yield cty.NilVal.
func (rc *RuleContext) Attr(name string) cty.Value {
	return rc.attrs[name]
}

// Attrs returns all resolved attribute values.
func (rc *RuleContext) Attrs() map[string]cty.Value {
	return rc.attrs
}

// Prerequisites returns the prerequisite results of one attribute, in
// declaration order.
func (rc *RuleContext) Prerequisites(attribute string) []*target.Configured {
	return rc.prerequisites.Get(attribute)
}

// AllPrerequisites returns every non-toolchain prerequisite.
func (rc *RuleContext) AllPrerequisites() []*target.Configured {
	return rc.prerequisites.All()
}

// Toolchains returns the resolved toolchain results, surfaced separately from
// attributes.
func (rc *RuleContext) Toolchains() []*target.Configured {
	return rc.toolchains
}

// Visibility returns the resolved visibility of the node.
func (rc *RuleContext) Visibility() *visibility.Resolved {
	return rc.visibility
}

// RequiredFragments returns the aggregated required-fragment names.
func (rc *RuleContext) RequiredFragments() []string {
	return rc.requiredFragments
}

// Outputs returns the node's declared output artifacts.
func (rc *RuleContext) Outputs() []provider.Artifact {
	return rc.outputs
}

// RuleError records an error against the whole rule.
func (rc *RuleContext) RuleError(message string) {
	rc.errors = append(rc.errors, message)
	rc.env.Reporter().Report(rc.ctx, events.Errorf(&rc.target.Location,
		"in %s rule %s: %s", rc.ruleKindName(), rc.target.Label, message))
}

// AttributeError records an error against one attribute.
func (rc *RuleContext) AttributeError(attribute, message string) {
	rc.RuleError(fmt.Sprintf("attribute %q: %s", attribute, message))
}

// HasErrors reports whether any error was recorded on this context.
func (rc *RuleContext) HasErrors() bool {
	return len(rc.errors) > 0
}

// Errors returns the recorded error messages in encounter order.
func (rc *RuleContext) Errors() []string {
	return rc.errors
}

// RegisterStep records one build-step declaration. Steps are committed only
// if the evaluation reaches a success-shaped result.
func (rc *RuleContext) RegisterStep(step Step) {
	step.Owner = rc.target.Label
	rc.steps = append(rc.steps, step)
}

func (rc *RuleContext) ruleKindName() string {
	if rc.target.Kind == target.KindRule && rc.target.Rule != nil {
		return rc.target.Rule.Class.Name
	}
	return rc.target.Kind.String()
}
