package analysis

import (
	"context"
	"io"
	"log/slog"

	"github.com/zclconf/go-cty/cty"

	"github.com/vk/buildgrid/internal/buildconfig"
	"github.com/vk/buildgrid/internal/ctxlog"
	"github.com/vk/buildgrid/internal/events"
	"github.com/vk/buildgrid/internal/label"
	"github.com/vk/buildgrid/internal/provider"
	"github.com/vk/buildgrid/internal/ruleclass"
	"github.com/vk/buildgrid/internal/target"
)

func testContext() context.Context {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return ctxlog.WithLogger(context.Background(), logger)
}

// testEnv is the graph-engine stand-in for evaluator tests.
type testEnv struct {
	missing  bool
	recorder events.Recorder
}

func (e *testEnv) MissingInputs() bool         { return e.missing }
func (e *testEnv) Reporter() events.Reporter   { return &e.recorder }
func (e *testEnv) errorMessages() (out []string) {
	for _, ev := range e.recorder.Errors() {
		out = append(out, ev.Message)
	}
	return out
}

type testBodies struct {
	rules   map[string]NativeRuleBody
	aspects map[string]NativeAspectBody
}

func (b testBodies) RuleBody(name string) (NativeRuleBody, bool) {
	f, ok := b.rules[name]
	return f, ok
}

func (b testBodies) AspectBody(name string) (NativeAspectBody, bool) {
	f, ok := b.aspects[name]
	return f, ok
}

func ruleBodies(name string, body NativeRuleBody) testBodies {
	return testBodies{rules: map[string]NativeRuleBody{name: body}}
}

func testConfig(options buildconfig.Options, fragments map[string]cty.Value) *buildconfig.Configuration {
	return buildconfig.New(fragments, nil, options)
}

func testClass(name string) *ruleclass.RuleClass {
	return &ruleclass.RuleClass{
		Name:        name,
		Attributes:  map[string]ruleclass.Attribute{},
		Advertised:  ruleclass.AdvertisedProviders{CanHaveAny: true},
		FactoryName: name + "_body",
	}
}

func ruleTarget(l string, class *ruleclass.RuleClass) *target.Target {
	return &target.Target{
		Label:      label.MustParse(l),
		Kind:       target.KindRule,
		Visibility: target.Public(),
		Rule:       &target.Rule{Class: class, Attrs: map[string]target.AttrValue{}},
	}
}

func stubConfigured(l string, cfg *buildconfig.Configuration, message string) *target.Configured {
	lab := label.MustParse(l)
	return &target.Configured{
		Target:        &target.Target{Label: lab, Kind: target.KindRule},
		Configuration: cfg,
		Providers: provider.NewCollection(
			provider.ForAnalysisFailures(provider.AnalysisFailure{Label: lab, Message: message}),
			provider.EmptyRunfiles(),
		),
	}
}

func emptyBody(_ context.Context, _ *RuleContext) (*provider.Collection, error) {
	return provider.NewCollection(provider.EmptyRunfiles()), nil
}
