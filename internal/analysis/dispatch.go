package analysis

import (
	"context"
	"fmt"

	"github.com/vk/buildgrid/internal/deps"
	"github.com/vk/buildgrid/internal/events"
	"github.com/vk/buildgrid/internal/label"
	"github.com/vk/buildgrid/internal/nestedset"
	"github.com/vk/buildgrid/internal/provider"
	"github.com/vk/buildgrid/internal/target"
	"github.com/vk/buildgrid/internal/visibility"
)

// evaluateOutputFile wraps a generated file around its generating rule's
// result. The generating rule is always present in a well-formed graph; its
// absence is a graph-engine bug, not user input, and panics.
func (e *Evaluator) evaluateOutputFile(ctx context.Context, req Request, vis *visibility.Resolved) Result {
	t := req.Target
	generatingLabel := t.OutputFile.GeneratingRule

	// The generating rule's configuration is irrelevant: there can only be
	// one actual dependency here, the rule that generates this file.
	rule := findByLabel(req.Prerequisites.ByKind(deps.OutputFileRuleDependency), generatingLabel)
	if rule == nil {
		panic(fmt.Sprintf("analysis: output file %s has no generating-rule prerequisite %s",
			t.Label, generatingLabel))
	}

	// A generating rule that was tolerated into a stub has no files to hand
	// out; the output file re-wraps the failures instead of inventing some.
	if req.Configuration.Options().AllowAnalysisFailures {
		if p, ok := rule.Provider(provider.AnalysisFailureName); ok {
			ct := &target.Configured{
				Target:        t,
				Configuration: req.Configuration,
				Providers: provider.NewCollection(
					p.(provider.AnalysisFailureInfo), provider.EmptyRunfiles()),
				Visibility: vis,
			}
			return Result{Kind: ErroredStub, Target: ct}
		}
	}

	artifact, ok := artifactByOutputLabel(rule, t.Label)
	if !ok {
		req.Env.Reporter().Report(ctx, events.Errorf(&t.Location,
			"rule '%s' does not produce '%s'", generatingLabel, t.Label))
		return hardFailure()
	}

	ct := &target.Configured{
		Target:        t,
		Configuration: req.Configuration,
		Providers:     provider.NewCollection(provider.Files{Artifacts: []provider.Artifact{artifact}}),
		Visibility:    vis,
	}
	return successResult(ct, nil)
}

// evaluateInputFile mints the source artifact for a checked-in file.
func (e *Evaluator) evaluateInputFile(req Request, vis *visibility.Resolved) Result {
	t := req.Target
	artifact := provider.Artifact{Owner: t.Label, Path: t.InputFile.Path}
	ct := &target.Configured{
		Target:        t,
		Configuration: req.Configuration,
		Providers:     provider.NewCollection(provider.Files{Artifacts: []provider.Artifact{artifact}}),
		Visibility:    vis,
	}
	return successResult(ct, nil)
}

// evaluatePackageGroup exposes the group's package specifications: its own
// list plus, transitively, every included group's. A missing include is
// reported and skipped, matching the visibility resolver's partial-success
// contract.
func (e *Evaluator) evaluatePackageGroup(ctx context.Context, req Request, vis *visibility.Resolved) Result {
	t := req.Target
	group := t.PackageGroup

	b := nestedset.NewBuilder[label.PackageGroupContents]()
	b.Add(group.Specs)
	for _, include := range group.Includes {
		included := findByLabel(req.Prerequisites.ByKind(deps.VisibilityDependency), include)
		var contents *nestedset.Set[label.PackageGroupContents]
		if included != nil {
			if p, ok := included.Provider(provider.PackageSpecificationsName); ok {
				contents = p.(provider.PackageSpecifications).Contents
			}
		}
		if contents == nil {
			req.Env.Reporter().Report(ctx, events.Errorf(&t.Location,
				"label '%s' does not refer to a package group", include))
			continue
		}
		b.AddTransitive(contents)
	}

	ct := &target.Configured{
		Target:        t,
		Configuration: req.Configuration,
		Providers:     provider.NewCollection(provider.PackageSpecifications{Contents: b.Build()}),
		Visibility:    vis,
	}
	return successResult(ct, nil)
}

// findByLabel returns the first result with the given label, any
// configuration.
func findByLabel(results []*target.Configured, l label.Label) *target.Configured {
	for _, ct := range results {
		if ct.Target.Label.Equal(l) {
			return ct
		}
	}
	return nil
}

// artifactByOutputLabel pulls the artifact a rule registered under one of its
// declared output labels.
func artifactByOutputLabel(rule *target.Configured, l label.Label) (provider.Artifact, bool) {
	p, ok := rule.Provider(provider.FilesName)
	if !ok {
		return provider.Artifact{}, false
	}
	return p.(provider.Files).ForLabel(l)
}
