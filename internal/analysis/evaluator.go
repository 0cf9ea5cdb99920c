package analysis

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/vk/buildgrid/internal/buildconfig"
	"github.com/vk/buildgrid/internal/ctxlog"
	"github.com/vk/buildgrid/internal/deps"
	"github.com/vk/buildgrid/internal/events"
	"github.com/vk/buildgrid/internal/fragments"
	"github.com/vk/buildgrid/internal/label"
	"github.com/vk/buildgrid/internal/nestedset"
	"github.com/vk/buildgrid/internal/provider"
	"github.com/vk/buildgrid/internal/ruleclass"
	"github.com/vk/buildgrid/internal/target"
	"github.com/vk/buildgrid/internal/visibility"
)

// Evaluator turns one graph node plus its resolved dependencies into a
// configured result. It is stateless across evaluations and safe for
// concurrent use.
type Evaluator struct {
	bodies BodyRegistry
	// universalFragments are required by every node regardless of class
	// declarations.
	universalFragments []string
}

// New builds an Evaluator over the given native-body registry.
func New(bodies BodyRegistry, universalFragments []string) *Evaluator {
	return &Evaluator{bodies: bodies, universalFragments: universalFragments}
}

// Request carries one node evaluation's inputs, supplied by the graph engine.
type Request struct {
	Env           Environment
	Target        *target.Target
	Configuration *buildconfig.Configuration
	// Prerequisites maps dependency kind and attribute to already-evaluated
	// results, in declaration order.
	Prerequisites *deps.Multimap
	// ConfigConditions are the select() conditions this node names, with
	// their match outcomes, in declaration order.
	ConfigConditions []provider.ConfigMatching
}

// EvaluateTarget dispatches on the node kind and produces its configured
// result. Only rules (and aspects, via EvaluateAspect) run the full state
// machine; file and group nodes assemble their results directly.
func (e *Evaluator) EvaluateTarget(ctx context.Context, req Request) Result {
	t := req.Target
	logger := ctxlog.FromContext(ctx).With("label", t.Label.String(), "kind", t.Kind.String())
	logger.Debug("Evaluating node.")

	if t.Kind == target.KindRule {
		return e.evaluateRule(ctx, req)
	}

	// Package groups, like everything they contain, have no configuration.
	vis := visibility.Resolve(ctx, t, req.Prerequisites, nil, req.Env.Reporter())
	if req.Env.MissingInputs() {
		logger.Debug("Prerequisite values missing, abandoning evaluation.")
		return incompleteResult()
	}

	switch t.Kind {
	case target.KindOutputFile:
		return e.evaluateOutputFile(ctx, req, vis)
	case target.KindInputFile:
		return e.evaluateInputFile(req, vis)
	case target.KindPackageGroup:
		return e.evaluatePackageGroup(ctx, req, vis)
	case target.KindEnvironmentGroup:
		return successResult(&target.Configured{
			Target:        t,
			Configuration: req.Configuration,
			Providers:     provider.NewCollection(),
			Visibility:    vis,
		}, nil)
	default:
		panic(fmt.Sprintf("analysis: unexpected target kind %s", t.Kind))
	}
}

// evaluateRule runs the rule state machine: build context, check propagated
// and local failures, check fragment availability, dispatch to the rule-body
// evaluator, and normalize the exit.
func (e *Evaluator) evaluateRule(ctx context.Context, req Request) Result {
	t := req.Target
	rule := t.Rule
	class := rule.Class
	options := req.Configuration.Options()

	var settingLabel *label.Label
	if class.IsBuildSetting {
		settingLabel = &t.Label
	}

	// Visibility problems are local errors of this node: capture them here
	// and replay them onto the context once it exists.
	var visibilityErrors events.Recorder
	vis := visibility.Resolve(ctx, t, req.Prerequisites, nil, &visibilityErrors)

	required := fragments.Compute(options.FragmentMode, fragments.Inputs{
		Configuration:     req.Configuration,
		BuildSettingLabel: settingLabel,
		NativeRequired:    class.Fragments.RequiredNative,
		ExtensionRequired: class.Fragments.RequiredExtension,
		Universal:         e.universalFragments,
		ConfigConditions:  req.ConfigConditions,
		Prerequisites:     req.Prerequisites.Values(),
	})

	rc := newRuleContext(ctx, contextParams{
		env:               req.Env,
		target:            t,
		configuration:     req.Configuration,
		prerequisites:     req.Prerequisites,
		visibility:        vis,
		attributes:        class.Attributes,
		fragments:         class.Fragments,
		attrValues:        rule.Attrs,
		outputs:           rule.Outputs,
		configConditions:  req.ConfigConditions,
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

	// A node downstream of a tolerated failure must not attempt real work
	// and must not re-derive a fresh error; it re-wraps what it saw.
	if options.AllowAnalysisFailures {
		if propagated := depAnalysisFailures(req.Prerequisites); len(propagated) > 0 {
			return erroredStubWithFailures(rc, propagated)
		}
	}

	if rc.HasErrors() {
		return e.erroredResult(rc)
	}

	if missing := req.Configuration.MissingFragments(class.Fragments.RequiredNative); len(missing) > 0 &&
		class.Fragments.Missing != ruleclass.IgnoreMissingFragments {
		if class.Fragments.Missing == ruleclass.FailAnalysis {
			rc.RuleError(missingFragmentError(class, missing, req.Configuration.Checksum()))
			return hardFailure()
		}
		// CreateFailSteps: the failure is deferred to whoever tries to
		// build this node's outputs.
		return failTarget(rc)
	}

	collection, err := e.dispatchRuleBody(ctx, class, rc)
	if err != nil {
		rc.RuleError(err.Error())
		return e.erroredResult(rc)
	}
	if collection == nil || rc.HasErrors() {
		return e.erroredResult(rc)
	}

	ct := &target.Configured{
		Target:        t,
		Configuration: req.Configuration,
		Providers:     rc.finishCollection(collection),
		Visibility:    rc.visibility,
	}
	return successResult(ct, rc.steps)
}

// dispatchRuleBody invokes the body evaluator the rule class was declared
// with. A missing native registration is a definition-layer bug, not user
// input.
func (e *Evaluator) dispatchRuleBody(ctx context.Context, class *ruleclass.RuleClass, rc *RuleContext) (*provider.Collection, error) {
	if class.Interpreted() {
		return evaluateInterpretedBody(ctx, class.Body, rc)
	}
	body, ok := e.bodies.RuleBody(class.FactoryName)
	if !ok {
		panic(fmt.Sprintf("analysis: rule class %q names unregistered body evaluator %q", class.Name, class.FactoryName))
	}
	return body(ctx, rc)
}

// depAnalysisFailures collects the analysis-failure sets attached to
// prerequisite results, preserving encounter order.
func depAnalysisFailures(prerequisites *deps.Multimap) []*nestedset.Set[provider.AnalysisFailure] {
	var sets []*nestedset.Set[provider.AnalysisFailure]
	for _, prereq := range prerequisites.Values() {
		if p, ok := prereq.Provider(provider.AnalysisFailureName); ok {
			sets = append(sets, p.(provider.AnalysisFailureInfo).Causes)
		}
	}
	return sets
}

// erroredResult converts accumulated context errors into the tolerated stub
// or a hard failure, per the build-wide toggle.
func (e *Evaluator) erroredResult(rc *RuleContext) Result {
	if !rc.configuration.Options().AllowAnalysisFailures {
		return hardFailure()
	}
	failures := make([]provider.AnalysisFailure, 0, len(rc.errors))
	for _, message := range rc.errors {
		failures = append(failures, provider.AnalysisFailure{Label: rc.target.Label, Message: message})
	}
	return stubResult(rc, provider.ForAnalysisFailures(failures...))
}

// erroredStubWithFailures re-wraps failure sets propagated from dependencies.
func erroredStubWithFailures(rc *RuleContext, sets []*nestedset.Set[provider.AnalysisFailure]) Result {
	return stubResult(rc, provider.ForAnalysisFailureSets(sets))
}

// stubResult is the errored-stub shape: the analysis-failures provider plus
// an empty runnable-files provider, and nothing else. No steps are ever
// attached to a stub.
func stubResult(rc *RuleContext, info provider.AnalysisFailureInfo) Result {
	ct := &target.Configured{
		Target:        rc.target,
		Configuration: rc.configuration,
		Providers:     provider.NewCollection(info, provider.EmptyRunfiles()),
		Visibility:    rc.visibility,
	}
	return Result{Kind: ErroredStub, Target: ct}
}

// missingFragmentError names every missing fragment, sorted alphabetically
// for deterministic output.
func missingFragmentError(class *ruleclass.RuleClass, missing []string, configChecksum string) string {
	sorted := make([]string, len(missing))
	copy(sorted, missing)
	sort.Strings(sorted)
	return fmt.Sprintf(
		"all rules of type %s require the presence of all of [%s], but these were all disabled in configuration %s",
		class.Name, strings.Join(sorted, ","), configChecksum)
}

// finishCollection completes a body evaluator's provider collection with the
// ambient providers a successful rule result carries: registered output
// files, and the required-fragments report when the mode calls for one.
// Body-produced providers stay untouched and keep their order; a body that
// produced everything itself passes through unchanged.
func (rc *RuleContext) finishCollection(body *provider.Collection) *provider.Collection {
	extra := make([]provider.Provider, 0, 2)
	if len(rc.steps) > 0 && !body.Has(provider.FilesName) {
		var artifacts []provider.Artifact
		for _, step := range rc.steps {
			artifacts = append(artifacts, step.Outputs...)
		}
		extra = append(extra, provider.Files{Artifacts: artifacts})
	}
	if len(rc.requiredFragments) > 0 && !body.Has(provider.RequiredFragmentsName) {
		extra = append(extra, provider.RequiredFragments{Fragments: rc.requiredFragments})
	}
	if len(extra) == 0 {
		return body
	}

	all := make([]provider.Provider, 0, body.Len()+len(extra))
	for _, name := range body.Names() {
		p, _ := body.Get(name)
		all = append(all, p)
	}
	return provider.NewCollection(append(all, extra...)...)
}
