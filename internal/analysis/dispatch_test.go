package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vk/buildgrid/internal/buildconfig"
	"github.com/vk/buildgrid/internal/deps"
	"github.com/vk/buildgrid/internal/label"
	"github.com/vk/buildgrid/internal/nestedset"
	"github.com/vk/buildgrid/internal/provider"
	"github.com/vk/buildgrid/internal/target"
)

func outputFileTarget(l, generating string) *target.Target {
	return &target.Target{
		Label:      label.MustParse(l),
		Kind:       target.KindOutputFile,
		Visibility: target.Public(),
		OutputFile: &target.OutputFile{GeneratingRule: label.MustParse(generating)},
	}
}

func generatingRule(l string, cfg *buildconfig.Configuration, outputs ...provider.Artifact) *target.Configured {
	return &target.Configured{
		Target:        &target.Target{Label: label.MustParse(l), Kind: target.KindRule},
		Configuration: cfg,
		Providers:     provider.NewCollection(provider.Files{Artifacts: outputs}),
	}
}

func TestEvaluateOutputFile_WrapsGeneratedArtifact(t *testing.T) {
	t.Parallel()

	cfg := testConfig(buildconfig.Options{}, nil)
	out := label.MustParse("//app:hello.txt")

	prerequisites := deps.NewMultimap()
	prerequisites.Put(deps.Key{Kind: deps.OutputFileRuleDependency},
		generatingRule("//app:hello", cfg, provider.Artifact{Owner: out, Path: "app/hello.txt"}))

	e := New(testBodies{}, nil)
	result := e.EvaluateTarget(testContext(), Request{
		Env:           &testEnv{},
		Target:        outputFileTarget("//app:hello.txt", "//app:hello"),
		Configuration: cfg,
		Prerequisites: prerequisites,
	})

	require.Equal(t, Success, result.Kind)
	p, ok := result.Target.Provider(provider.FilesName)
	require.True(t, ok)
	artifact, ok := p.(provider.Files).ForLabel(out)
	require.True(t, ok)
	assert.Equal(t, "app/hello.txt", artifact.Path)
}

func TestEvaluateOutputFile_MissingGeneratingRulePanics(t *testing.T) {
	t.Parallel()

	e := New(testBodies{}, nil)
	assert.Panics(t, func() {
		e.EvaluateTarget(testContext(), Request{
			Env:           &testEnv{},
			Target:        outputFileTarget("//app:hello.txt", "//app:hello"),
			Configuration: testConfig(buildconfig.Options{}, nil),
			Prerequisites: deps.NewMultimap(),
		})
	})
}

func TestEvaluateOutputFile_UnclaimedOutputIsHardFailure(t *testing.T) {
	t.Parallel()

	cfg := testConfig(buildconfig.Options{}, nil)
	prerequisites := deps.NewMultimap()
	prerequisites.Put(deps.Key{Kind: deps.OutputFileRuleDependency}, generatingRule("//app:hello", cfg))

	env := &testEnv{}
	e := New(testBodies{}, nil)
	result := e.EvaluateTarget(testContext(), Request{
		Env:           env,
		Target:        outputFileTarget("//app:hello.txt", "//app:hello"),
		Configuration: cfg,
		Prerequisites: prerequisites,
	})

	assert.Equal(t, HardFailure, result.Kind)
	require.Len(t, env.errorMessages(), 1)
	assert.Contains(t, env.errorMessages()[0], "does not produce")
}

func TestEvaluateOutputFile_RewrapsToleratedGeneratingFailure(t *testing.T) {
	t.Parallel()

	cfg := testConfig(buildconfig.Options{AllowAnalysisFailures: true}, nil)
	prerequisites := deps.NewMultimap()
	prerequisites.Put(deps.Key{Kind: deps.OutputFileRuleDependency},
		stubConfigured("//app:hello", cfg, "body exploded"))

	e := New(testBodies{}, nil)
	result := e.EvaluateTarget(testContext(), Request{
		Env:           &testEnv{},
		Target:        outputFileTarget("//app:hello.txt", "//app:hello"),
		Configuration: cfg,
		Prerequisites: prerequisites,
	})

	require.Equal(t, ErroredStub, result.Kind)
	p, ok := result.Target.Provider(provider.AnalysisFailureName)
	require.True(t, ok)
	causes := p.(provider.AnalysisFailureInfo).Causes.ToList()
	require.Len(t, causes, 1)
	assert.Equal(t, "body exploded", causes[0].Message)
}

func TestEvaluateInputFile_MintsSourceArtifact(t *testing.T) {
	t.Parallel()

	tt := &target.Target{
		Label:      label.MustParse("//app:data.csv"),
		Kind:       target.KindInputFile,
		Visibility: target.Public(),
		InputFile:  &target.InputFile{Path: "app/data.csv"},
	}

	e := New(testBodies{}, nil)
	result := e.EvaluateTarget(testContext(), Request{
		Env:           &testEnv{},
		Target:        tt,
		Prerequisites: deps.NewMultimap(),
	})

	require.Equal(t, Success, result.Kind)
	p, ok := result.Target.Provider(provider.FilesName)
	require.True(t, ok)
	artifact, ok := p.(provider.Files).ForLabel(tt.Label)
	require.True(t, ok)
	assert.Equal(t, "app/data.csv", artifact.Path)
}

func TestEvaluatePackageGroup_UnionsIncludes(t *testing.T) {
	t.Parallel()

	included := &target.Configured{
		Target: &target.Target{Label: label.MustParse("//vis:extra"), Kind: target.KindPackageGroup},
		Providers: provider.NewCollection(provider.PackageSpecifications{
			Contents: nestedset.Of(label.PackageGroupContents{
				Specifications: []label.PackageSpecification{label.Subtree("tools")},
			}),
		}),
	}
	prerequisites := deps.NewMultimap()
	prerequisites.Put(deps.Key{Kind: deps.VisibilityDependency}, included)

	tt := &target.Target{
		Label:      label.MustParse("//vis:clients"),
		Kind:       target.KindPackageGroup,
		Visibility: target.Private(),
		PackageGroup: &target.PackageGroup{
			Specs: label.PackageGroupContents{
				Specifications: []label.PackageSpecification{label.Single("app")},
			},
			Includes: []label.Label{label.MustParse("//vis:extra")},
		},
	}

	e := New(testBodies{}, nil)
	result := e.EvaluateTarget(testContext(), Request{
		Env:           &testEnv{},
		Target:        tt,
		Prerequisites: prerequisites,
	})

	require.Equal(t, Success, result.Kind)
	p, ok := result.Target.Provider(provider.PackageSpecificationsName)
	require.True(t, ok)
	contents := p.(provider.PackageSpecifications).Contents.ToList()

	matched := func(pkg string) bool {
		for _, c := range contents {
			if c.Matches(pkg) {
				return true
			}
		}
		return false
	}
	assert.True(t, matched("app"))
	assert.True(t, matched("tools/gen"))
	assert.False(t, matched("lib"))
}

func TestEvaluatePackageGroup_MissingIncludeReportedAndSkipped(t *testing.T) {
	t.Parallel()

	tt := &target.Target{
		Label:      label.MustParse("//vis:clients"),
		Kind:       target.KindPackageGroup,
		Visibility: target.Private(),
		PackageGroup: &target.PackageGroup{
			Specs: label.PackageGroupContents{
				Specifications: []label.PackageSpecification{label.Single("app")},
			},
			Includes: []label.Label{label.MustParse("//vis:ghost")},
		},
	}

	env := &testEnv{}
	e := New(testBodies{}, nil)
	result := e.EvaluateTarget(testContext(), Request{
		Env:           env,
		Target:        tt,
		Prerequisites: deps.NewMultimap(),
	})

	require.Equal(t, Success, result.Kind)
	require.Len(t, env.errorMessages(), 1)
	assert.Contains(t, env.errorMessages()[0], "does not refer to a package group")

	p, ok := result.Target.Provider(provider.PackageSpecificationsName)
	require.True(t, ok)
	contents := p.(provider.PackageSpecifications).Contents.ToList()
	require.Len(t, contents, 1)
	assert.True(t, contents[0].Matches("app"))
}
