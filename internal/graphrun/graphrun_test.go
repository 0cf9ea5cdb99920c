package graphrun

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/buildgrid/internal/analysis"
	"github.com/vk/buildgrid/internal/buildconfig"
	"github.com/vk/buildgrid/internal/ctxlog"
	"github.com/vk/buildgrid/internal/events"
	"github.com/vk/buildgrid/internal/label"
	"github.com/vk/buildgrid/internal/loader"
	"github.com/vk/buildgrid/internal/provider"
	"github.com/vk/buildgrid/internal/registry"
	"github.com/vk/buildgrid/internal/ruleclass"
	"github.com/vk/buildgrid/internal/target"
)

func testContext() context.Context {
	return ctxlog.WithLogger(context.Background(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func writerClass() *ruleclass.RuleClass {
	return &ruleclass.RuleClass{
		Name: "writer",
		Attributes: map[string]ruleclass.Attribute{
			"srcs": {Name: "srcs", Type: cty.List(cty.String), IsDep: true},
			"mode": {Name: "mode", Type: cty.String},
		},
		Advertised:  ruleclass.AdvertisedProviders{CanHaveAny: true},
		FactoryName: "writer_body",
	}
}

func sourceTarget(l, path string) *target.Target {
	return &target.Target{
		Label:      label.MustParse(l),
		Kind:       target.KindInputFile,
		Visibility: target.Public(),
		InputFile:  &target.InputFile{Path: path},
	}
}

func TestBuildAndRun_EndToEnd(t *testing.T) {
	t.Parallel()

	class := writerClass()
	ruleLabel := label.MustParse("//app:hello")
	outLabel := label.MustParse("//app:hello.txt")

	rule := &target.Target{
		Label:      ruleLabel,
		Kind:       target.KindRule,
		Visibility: target.Public(),
		Rule: &target.Rule{
			Class: class,
			Attrs: map[string]target.AttrValue{
				"srcs": {
					Value:  target.PlainValue(cty.ListVal([]cty.Value{cty.StringVal(":data")})),
					Labels: []label.Label{label.MustParse("//app:data")},
				},
			},
			Outputs: []label.Label{outLabel},
		},
	}
	out := &target.Target{
		Label:      outLabel,
		Kind:       target.KindOutputFile,
		Visibility: target.Public(),
		OutputFile: &target.OutputFile{GeneratingRule: ruleLabel},
	}
	ws := &loader.Workspace{Targets: []*target.Target{
		sourceTarget("//app:data", "app/data.csv"),
		rule,
		out,
	}}

	graph, err := Build(testContext(), ws)
	require.NoError(t, err)
	require.Len(t, graph.Nodes, 3)

	reg := registry.New()
	reg.RegisterRuleBody("writer_body", func(_ context.Context, rc *analysis.RuleContext) (*provider.Collection, error) {
		// The source prerequisite must already be resolved.
		if len(rc.Prerequisites("srcs")) != 1 {
			return nil, errors.New("expected one srcs prerequisite")
		}
		rc.RegisterStep(analysis.Step{Mnemonic: "Write", Outputs: rc.Outputs()})
		return provider.NewCollection(provider.EmptyRunfiles()), nil
	})

	cfg := buildconfig.New(nil, nil, buildconfig.Options{})
	runner := NewRunner(analysis.New(reg, nil), cfg, events.LogReporter{}, 4)
	require.NoError(t, runner.Run(testContext(), graph))

	ruleResult := graph.Nodes[ruleLabel.String()].Result
	require.Equal(t, analysis.Success, ruleResult.Kind)
	require.Len(t, ruleResult.Steps, 1)

	outResult := graph.Nodes[outLabel.String()].Result
	require.Equal(t, analysis.Success, outResult.Kind)
	p, ok := outResult.Target.Provider(provider.FilesName)
	require.True(t, ok)
	artifact, ok := p.(provider.Files).ForLabel(outLabel)
	require.True(t, ok)
	assert.Equal(t, "app/hello.txt", artifact.Path)
}

func TestBuildAndRun_SelectConditions(t *testing.T) {
	t.Parallel()

	reg := registry.New()
	registry.RegisterBuiltins(reg)

	settingClass, ok := reg.RuleClass("config_setting")
	require.True(t, ok)

	fast := label.MustParse("//cfg:fast")
	setting := &target.Target{
		Label:      fast,
		Kind:       target.KindRule,
		Visibility: target.Public(),
		Rule: &target.Rule{
			Class: settingClass,
			Attrs: map[string]target.AttrValue{
				"fragment": {Value: target.PlainValue(cty.StringVal("cpp"))},
				"option":   {Value: target.PlainValue(cty.StringVal("opt"))},
				"expected": {Value: target.PlainValue(cty.StringVal("fast"))},
			},
		},
	}

	class := writerClass()
	var seenMode cty.Value
	reg.RegisterRuleBody("writer_body", func(_ context.Context, rc *analysis.RuleContext) (*provider.Collection, error) {
		seenMode = rc.Attr("mode")
		return provider.NewCollection(provider.EmptyRunfiles()), nil
	})

	rule := &target.Target{
		Label:      label.MustParse("//app:hello"),
		Kind:       target.KindRule,
		Visibility: target.Public(),
		Rule: &target.Rule{
			Class: class,
			Attrs: map[string]target.AttrValue{
				"mode": {Value: target.ValueOrSelect{Select: []target.SelectBranch{
					{Condition: fast, Value: cty.StringVal("O2")},
					{Condition: target.DefaultCondition, Value: cty.StringVal("O0")},
				}}},
			},
		},
	}

	ws := &loader.Workspace{Targets: []*target.Target{setting, rule}}
	graph, err := Build(testContext(), ws)
	require.NoError(t, err)

	cfg := buildconfig.New(map[string]cty.Value{
		"cpp": cty.ObjectVal(map[string]cty.Value{"opt": cty.StringVal("fast")}),
	}, nil, buildconfig.Options{})

	runner := NewRunner(analysis.New(reg, nil), cfg, events.LogReporter{}, 2)
	require.NoError(t, runner.Run(testContext(), graph))
	assert.Equal(t, cty.StringVal("O2"), seenMode)
}

func TestBuild_DetectsCycles(t *testing.T) {
	t.Parallel()

	class := writerClass()
	mk := func(name, dep string) *target.Target {
		return &target.Target{
			Label:      label.MustParse(name),
			Kind:       target.KindRule,
			Visibility: target.Public(),
			Rule: &target.Rule{
				Class: class,
				Attrs: map[string]target.AttrValue{
					"srcs": {
						Value:  target.PlainValue(cty.ListVal([]cty.Value{cty.StringVal(dep)})),
						Labels: []label.Label{label.MustParse(dep)},
					},
				},
			},
		}
	}

	ws := &loader.Workspace{Targets: []*target.Target{
		mk("//app:a", "//app:b"),
		mk("//app:b", "//app:a"),
	}}
	_, err := Build(testContext(), ws)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cycle detected")
}

func TestBuild_UndeclaredDependencyFails(t *testing.T) {
	t.Parallel()

	class := writerClass()
	rule := &target.Target{
		Label:      label.MustParse("//app:a"),
		Kind:       target.KindRule,
		Visibility: target.Public(),
		Rule: &target.Rule{
			Class: class,
			Attrs: map[string]target.AttrValue{
				"srcs": {
					Value:  target.PlainValue(cty.ListVal([]cty.Value{cty.StringVal("//app:ghost")})),
					Labels: []label.Label{label.MustParse("//app:ghost")},
				},
			},
		},
	}
	_, err := Build(testContext(), &loader.Workspace{Targets: []*target.Target{rule}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "undeclared target")
}

func TestRun_UpstreamFailureSkipsDependents(t *testing.T) {
	t.Parallel()

	class := writerClass()
	mk := func(name string, deps ...string) *target.Target {
		av := target.AttrValue{Value: target.PlainValue(cty.ListValEmpty(cty.String))}
		for _, dep := range deps {
			av.Labels = append(av.Labels, label.MustParse(dep))
		}
		return &target.Target{
			Label:      label.MustParse(name),
			Kind:       target.KindRule,
			Visibility: target.Public(),
			Rule: &target.Rule{
				Class: class,
				Attrs: map[string]target.AttrValue{"srcs": av},
			},
		}
	}

	ws := &loader.Workspace{Targets: []*target.Target{
		mk("//app:broken"),
		mk("//app:consumer", "//app:broken"),
	}}
	graph, err := Build(testContext(), ws)
	require.NoError(t, err)

	reg := registry.New()
	reg.RegisterRuleBody("writer_body", func(_ context.Context, rc *analysis.RuleContext) (*provider.Collection, error) {
		if rc.Label().Name == "broken" {
			return nil, errors.New("no good")
		}
		return provider.NewCollection(provider.EmptyRunfiles()), nil
	})

	cfg := buildconfig.New(nil, nil, buildconfig.Options{})
	runner := NewRunner(analysis.New(reg, nil), cfg, events.LogReporter{}, 2)
	err = runner.Run(testContext(), graph)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "//app:broken")

	consumer := graph.Nodes["//app:consumer"]
	require.Error(t, consumer.Err)
	assert.Contains(t, consumer.Err.Error(), "skipped due to upstream failure")
}
