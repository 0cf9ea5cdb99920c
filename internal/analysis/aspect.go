package analysis

import (
	"context"
	"fmt"

	"github.com/vk/buildgrid/internal/deps"
	"github.com/vk/buildgrid/internal/events"
	"github.com/vk/buildgrid/internal/fragments"
	"github.com/vk/buildgrid/internal/provider"
	"github.com/vk/buildgrid/internal/ruleclass"
	"github.com/vk/buildgrid/internal/target"
	"github.com/vk/buildgrid/internal/visibility"
)

// AspectRequest carries one aspect evaluation's inputs. The aspect under
// evaluation is the last element of Path; the preceding elements are the
// aspects already layered under it on the same node.
type AspectRequest struct {
	Env  Environment
	Base *target.Configured
	Path []*ruleclass.Aspect
	// Prerequisites are the aspect's own resolved dependencies, in the same
	// shape rule prerequisites arrive in.
	Prerequisites *deps.Multimap
}

// EvaluateAspect layers an aspect onto an already-configured base node. It
// shares the rule evaluator's context machinery, with aspect-path attribute
// merging instead of a rule attribute schema and with advertised-provider
// validation after a successful evaluation. Aspects never carry config
// conditions.
func (e *Evaluator) EvaluateAspect(ctx context.Context, req AspectRequest) Result {
	if len(req.Path) == 0 {
		panic("analysis: empty aspect path")
	}
	aspect := req.Path[len(req.Path)-1]
	baseTarget := req.Base.Target
	configuration := req.Base.Configuration
	options := configuration.Options()

	var visibilityErrors events.Recorder
	vis := visibility.Resolve(ctx, baseTarget, req.Prerequisites, nil, &visibilityErrors)

	required := fragments.Compute(options.FragmentMode, fragments.Inputs{
		Configuration:     configuration,
		NativeRequired:    aspect.Class.Fragments.RequiredNative,
		ExtensionRequired: aspect.Class.Fragments.RequiredExtension,
		Universal:         e.universalFragments,
		Prerequisites:     req.Prerequisites.Values(),
	})

	rc := newRuleContext(ctx, contextParams{
		env:               req.Env,
		target:            baseTarget,
		configuration:     configuration,
		prerequisites:     req.Prerequisites,
		visibility:        vis,
		attributes:        MergeAspectAttributes(req.Path),
		fragments:         aspect.Class.Fragments,
		requiredFragments: required,
	})

	for _, ev := range visibilityErrors.Events() {
		if ev.Severity == events.Error {
			rc.RuleError(ev.Message)
		} else {
			req.Env.Reporter().Report(ctx, ev)
		}
	}

	if req.Env.MissingInputs() {
		return incompleteResult()
	}

	// When analysis failures are tolerated the aspect is evaluated as
	// normally as possible; context errors surface through the base node's
	// own failure provider, not here.
	if rc.HasErrors() && !options.AllowAnalysisFailures {
		return hardFailure()
	}

	collection, err := e.dispatchAspectBody(ctx, aspect, req.Base, rc)
	if err != nil {
		rc.RuleError(err.Error())
		return hardFailure()
	}
	if collection == nil {
		return hardFailure()
	}

	e.validateAdvertisedProviders(ctx, req.Env, aspect, baseTarget, collection)

	ct := &target.Configured{
		Target:        baseTarget,
		Configuration: configuration,
		Providers:     rc.finishCollection(collection),
		Visibility:    rc.visibility,
	}
	return successResult(ct, rc.steps)
}

func (e *Evaluator) dispatchAspectBody(ctx context.Context, aspect *ruleclass.Aspect, base *target.Configured, rc *RuleContext) (*provider.Collection, error) {
	if aspect.Class.Interpreted() {
		return evaluateInterpretedBody(ctx, aspect.Class.Body, rc)
	}
	body, ok := e.bodies.AspectBody(aspect.Class.FactoryName)
	if !ok {
		panic(fmt.Sprintf("analysis: aspect class %q names unregistered body evaluator %q",
			aspect.Class.Name, aspect.Class.FactoryName))
	}
	return body(ctx, base, rc, aspect.Params)
}

// MergeAspectAttributes flattens an aspect path's declared attributes into
// one name-keyed mapping. The first aspect in the path wins on a name
// collision; later same-named attributes are silently shadowed.
func MergeAspectAttributes(path []*ruleclass.Aspect) map[string]ruleclass.Attribute {
	if len(path) == 1 {
		return path[0].Class.Attributes
	}
	merged := make(map[string]ruleclass.Attribute)
	for _, aspect := range path {
		for name, attr := range aspect.Class.Attributes {
			if _, exists := merged[name]; !exists {
				merged[name] = attr
			}
		}
	}
	return merged
}

// validateAdvertisedProviders checks a fixed advertised-provider set against
// what the aspect actually produced. Each missing provider is one error at
// the base target's location; the result itself stands. Advisory only.
func (e *Evaluator) validateAdvertisedProviders(
	ctx context.Context,
	env Environment,
	aspect *ruleclass.Aspect,
	base *target.Target,
	collection *provider.Collection,
) {
	advertised := aspect.Class.Advertised
	if advertised.CanHaveAny {
		return
	}
	report := func(name string) {
		env.Reporter().Report(ctx, events.Errorf(&base.Location,
			"aspect '%s', applied to '%s', does not provide advertised provider '%s'",
			aspect.Class.Name, base.Label, name))
	}
	for _, name := range advertised.Native {
		if !collection.Has(name) {
			report(name)
		}
	}
	for _, name := range advertised.Extension {
		if !collection.Has(name) {
			report(name)
		}
	}
}
