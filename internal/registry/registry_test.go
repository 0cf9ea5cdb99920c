package registry

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/buildgrid/internal/analysis"
	"github.com/vk/buildgrid/internal/buildconfig"
	"github.com/vk/buildgrid/internal/ctxlog"
	"github.com/vk/buildgrid/internal/deps"
	"github.com/vk/buildgrid/internal/events"
	"github.com/vk/buildgrid/internal/label"
	"github.com/vk/buildgrid/internal/provider"
	"github.com/vk/buildgrid/internal/ruleclass"
	"github.com/vk/buildgrid/internal/target"
)

func testContext() context.Context {
	return ctxlog.WithLogger(context.Background(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func noopBody(_ context.Context, _ *analysis.RuleContext) (*provider.Collection, error) {
	return provider.NewCollection(), nil
}

func TestRegisterRuleBody_DuplicatePanics(t *testing.T) {
	t.Parallel()

	r := New()
	r.RegisterRuleBody("writer", noopBody)
	assert.Panics(t, func() {
		r.RegisterRuleBody("writer", noopBody)
	})
}

func TestValidate_NativeClassNeedsRegisteredBody(t *testing.T) {
	t.Parallel()

	r := New()
	r.RegisterRuleClass(&ruleclass.RuleClass{Name: "writer", FactoryName: "writer_body"})

	err := r.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unregistered body evaluator")

	r.RegisterRuleBody("writer_body", noopBody)
	require.NoError(t, r.Validate())
}

func TestValidate_ClassNeedsExactlyOneBody(t *testing.T) {
	t.Parallel()

	r := New()
	r.RegisterRuleClass(&ruleclass.RuleClass{Name: "nobody"})
	err := r.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "declares no body evaluator")

	r = New()
	r.RegisterRuleBody("writer_body", noopBody)
	r.RegisterRuleClass(&ruleclass.RuleClass{
		Name:        "both",
		FactoryName: "writer_body",
		Body:        &ruleclass.BodySpec{},
	})
	err = r.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "both a native factory and an interpreted body")
}

func TestRegisterBuiltins_Validates(t *testing.T) {
	t.Parallel()

	r := New()
	RegisterBuiltins(r)
	require.NoError(t, r.Validate())

	for _, name := range []string{"config_setting", "build_setting", "filegroup"} {
		_, ok := r.RuleClass(name)
		assert.True(t, ok, "builtin class %s missing", name)
	}

	setting, _ := r.RuleClass("config_setting")
	assert.True(t, setting.IsConfigCondition)
	assert.ElementsMatch(t, []string{provider.ConfigMatchingName}, setting.Advertised.Native)
}

// recordingEnv feeds evaluator tests that exercise the builtin bodies.
type recordingEnv struct {
	recorder events.Recorder
}

func (*recordingEnv) MissingInputs() bool { return false }

func (e *recordingEnv) Reporter() events.Reporter { return &e.recorder }

func TestConfigSetting_NullAttributeIsRuleError(t *testing.T) {
	t.Parallel()

	r := New()
	RegisterBuiltins(r)
	class, ok := r.RuleClass("config_setting")
	require.True(t, ok)

	plain := func(v cty.Value) target.AttrValue {
		return target.AttrValue{Value: target.ValueOrSelect{Plain: v}}
	}
	tt := &target.Target{
		Label:      label.MustParse("//cfg:fast"),
		Kind:       target.KindRule,
		Visibility: target.Public(),
		Rule: &target.Rule{
			Class: class,
			Attrs: map[string]target.AttrValue{
				"fragment": plain(cty.StringVal("cpp")),
				"option":   plain(cty.StringVal("compiler")),
				"expected": plain(cty.NullVal(cty.String)),
			},
		},
	}

	env := &recordingEnv{}
	e := analysis.New(r, nil)
	var result analysis.Result
	require.NotPanics(t, func() {
		result = e.EvaluateTarget(testContext(), analysis.Request{
			Env:           env,
			Target:        tt,
			Configuration: buildconfig.New(nil, nil, buildconfig.Options{}),
			Prerequisites: deps.NewMultimap(),
		})
	})

	assert.Equal(t, analysis.HardFailure, result.Kind)
	errs := env.recorder.Errors()
	require.NotEmpty(t, errs)
	assert.Contains(t, errs[0].Message, `attribute "expected"`)
	assert.Contains(t, errs[0].Message, "must not be null")
}

func TestLoadManifests(t *testing.T) {
	t.Parallel()

	manifest := `
rule_class "writer" {
  missing_fragment_policy = "fail_analysis"
  required_fragments      = ["cpp"]

  advertises {
    extension = ["WriterInfo"]
  }

  attribute "content" {
    type      = string
    mandatory = true
  }

  attribute "deps" {
    type = list(string)
    dep  = true
  }

  body {
    provider "WriterInfo" {
      value = attr.content
    }
    step {
      mnemonic = "Write"
      message  = "Writing output"
    }
  }
}

aspect_class "collector" {
  factory = "collector_body"

  attribute "depth" {
    type    = number
    default = 2
  }
}
`
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "writer.hcl"), []byte(manifest), 0600))

	r := New()
	require.NoError(t, r.LoadManifests(testContext(), dir))

	writer, ok := r.RuleClass("writer")
	require.True(t, ok)
	assert.True(t, writer.Interpreted())
	assert.Equal(t, ruleclass.FailAnalysis, writer.Fragments.Missing)
	assert.Equal(t, []string{"cpp"}, writer.Fragments.RequiredNative)
	assert.False(t, writer.Advertised.CanHaveAny)
	assert.Equal(t, []string{"WriterInfo"}, writer.Advertised.Extension)

	content := writer.Attributes["content"]
	assert.Equal(t, cty.String, content.Type)
	assert.True(t, content.Mandatory)
	assert.True(t, writer.Attributes["deps"].IsDep)

	require.Len(t, writer.Body.Providers, 1)
	assert.Equal(t, "WriterInfo", writer.Body.Providers[0].Name)
	require.NotNil(t, writer.Body.Step)
	assert.Equal(t, "Write", writer.Body.Step.Mnemonic)

	collector, ok := r.AspectClass("collector")
	require.True(t, ok)
	assert.Equal(t, "collector_body", collector.FactoryName)
	depth := collector.Attributes["depth"]
	assert.Equal(t, cty.Number, depth.Type)
	assert.True(t, cty.NumberIntVal(2).RawEquals(depth.Default))
}

func TestLoadManifests_BadPolicyFails(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	manifest := `
rule_class "writer" {
  factory                 = "writer_body"
  missing_fragment_policy = "explode"
}
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "writer.hcl"), []byte(manifest), 0600))

	r := New()
	err := r.LoadManifests(testContext(), dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "missing_fragment_policy")
}
