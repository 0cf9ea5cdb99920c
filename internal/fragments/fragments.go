// Package fragments computes which configuration fragments, option groups,
// and user-defined configuration labels a node's analysis depended on. The
// result feeds cache-invalidation bookkeeping and the diff-stable
// required-fragments report.
package fragments

import (
	"sort"

	"github.com/vk/buildgrid/internal/buildconfig"
	"github.com/vk/buildgrid/internal/label"
	"github.com/vk/buildgrid/internal/provider"
	"github.com/vk/buildgrid/internal/target"
)

// Inputs carries everything the aggregator reads for one node.
type Inputs struct {
	// Configuration canonicalizes extension fragment names.
	Configuration *buildconfig.Configuration
	// BuildSettingLabel is the node's own label when the node is itself a
	// build setting, nil otherwise.
	BuildSettingLabel *label.Label
	// NativeRequired are fragments declared through the native API.
	NativeRequired []string
	// ExtensionRequired are fragments declared through the extension API,
	// by alias.
	ExtensionRequired []string
	// Universal are fragments every node implicitly requires.
	Universal []string
	// ConfigConditions are the matched select() conditions; each contributes
	// the options the match read. Empty for aspects.
	ConfigConditions []provider.ConfigMatching
	// Prerequisites are all resolved dependency results of the node.
	Prerequisites []*target.Configured
}

// Compute returns the alphabetically sorted, deduplicated set of requirement
// names for one node under the given reporting mode. ModeOff short-circuits
// to nil before touching any other input; this runs on every node.
//
// Build-setting prerequisites count as direct requirements in every enabled
// mode; provider-carried requirements from dependencies are unioned only in
// transitive mode.
func Compute(mode buildconfig.FragmentMode, in Inputs) []string {
	if mode == buildconfig.FragmentsOff {
		return nil
	}

	required := make(map[string]struct{})
	add := func(name string) { required[name] = struct{}{} }

	for _, name := range in.NativeRequired {
		add(name)
	}
	for _, alias := range in.ExtensionRequired {
		add(in.Configuration.ExtensionFragmentName(alias))
	}
	for _, name := range in.Universal {
		add(name)
	}
	for _, condition := range in.ConfigConditions {
		for _, option := range condition.RequiredOptions {
			add(option)
		}
	}
	if in.BuildSettingLabel != nil {
		add(in.BuildSettingLabel.String())
	}

	for _, prereq := range in.Prerequisites {
		// Depending on a build setting conceptually means requiring that
		// option directly, whatever the reporting mode.
		if p, ok := prereq.Provider(provider.BuildSettingName); ok {
			add(p.(provider.BuildSetting).Label.String())
		}
		if mode == buildconfig.FragmentsTransitive {
			if p, ok := prereq.Provider(provider.RequiredFragmentsName); ok {
				for _, name := range p.(provider.RequiredFragments).Fragments {
					add(name)
				}
			}
		}
	}

	out := make([]string, 0, len(required))
	for name := range required {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
