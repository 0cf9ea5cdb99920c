package fragments

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/buildgrid/internal/buildconfig"
	"github.com/vk/buildgrid/internal/label"
	"github.com/vk/buildgrid/internal/provider"
	"github.com/vk/buildgrid/internal/target"
)

func emptyConfig() *buildconfig.Configuration {
	return buildconfig.New(nil, map[string]string{"go_sdk": "go"}, buildconfig.Options{})
}

func withProviders(l string, providers ...provider.Provider) *target.Configured {
	return &target.Configured{
		Target:    &target.Target{Label: label.MustParse(l)},
		Providers: provider.NewCollection(providers...),
	}
}

func TestCompute_OffModeShortCircuits(t *testing.T) {
	t.Parallel()

	got := Compute(buildconfig.FragmentsOff, Inputs{
		// Configuration deliberately nil: off mode must not touch it.
		NativeRequired: []string{"cpp"},
	})
	assert.Nil(t, got)
}

func TestCompute_DirectRequirements(t *testing.T) {
	t.Parallel()

	settingLabel := label.MustParse("//flags:opt")
	got := Compute(buildconfig.FragmentsDirect, Inputs{
		Configuration:     emptyConfig(),
		BuildSettingLabel: &settingLabel,
		NativeRequired:    []string{"java", "cpp"},
		ExtensionRequired: []string{"go_sdk"},
		Universal:         []string{"platform"},
		ConfigConditions: []provider.ConfigMatching{
			{Label: label.MustParse("//cfg:fast"), Matches: true, RequiredOptions: []string{"cpp.opt"}},
		},
	})

	// Sorted, deduplicated, with the extension alias canonicalized.
	assert.Equal(t, []string{"//flags:opt", "cpp", "cpp.opt", "go", "java", "platform"}, got)
}

func TestCompute_BuildSettingDepsCountInEveryEnabledMode(t *testing.T) {
	t.Parallel()

	setting := withProviders("//flags:opt", provider.BuildSetting{
		Label:   label.MustParse("//flags:opt"),
		Default: cty.BoolVal(true),
	})

	for _, mode := range []buildconfig.FragmentMode{buildconfig.FragmentsDirect, buildconfig.FragmentsTransitive} {
		got := Compute(mode, Inputs{
			Configuration: emptyConfig(),
			Prerequisites: []*target.Configured{setting},
		})
		assert.Equal(t, []string{"//flags:opt"}, got, "mode %s", mode)
	}
}

func TestCompute_TransitiveSupersetOfDirect(t *testing.T) {
	t.Parallel()

	dep := withProviders("//lib:a", provider.RequiredFragments{Fragments: []string{"java"}})
	in := Inputs{
		Configuration:  emptyConfig(),
		NativeRequired: []string{"cpp"},
		Prerequisites:  []*target.Configured{dep},
	}

	direct := Compute(buildconfig.FragmentsDirect, in)
	transitive := Compute(buildconfig.FragmentsTransitive, in)

	assert.Equal(t, []string{"cpp"}, direct)
	assert.Equal(t, []string{"cpp", "java"}, transitive)
	assert.Subset(t, transitive, direct)
}
