package registry

import (
	"context"
	"fmt"

	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"

	"github.com/vk/buildgrid/internal/analysis"
	"github.com/vk/buildgrid/internal/provider"
	"github.com/vk/buildgrid/internal/ruleclass"
)

// RegisterBuiltins installs the native rule classes every workspace gets:
// config settings for select() branches, build settings, and filegroups.
func RegisterBuiltins(r *Registry) {
	r.RegisterRuleBody("config_setting", configSettingBody)
	r.RegisterRuleClass(&ruleclass.RuleClass{
		Name: "config_setting",
		Attributes: map[string]ruleclass.Attribute{
			"fragment": {Name: "fragment", Type: cty.String, Mandatory: true},
			"option":   {Name: "option", Type: cty.String, Mandatory: true},
			"expected": {Name: "expected", Type: cty.String, Mandatory: true},
		},
		Advertised:        ruleclass.AdvertisedProviders{Native: []string{provider.ConfigMatchingName}},
		IsConfigCondition: true,
		FactoryName:       "config_setting",
	})

	r.RegisterRuleBody("build_setting", buildSettingBody)
	r.RegisterRuleClass(&ruleclass.RuleClass{
		Name: "build_setting",
		Attributes: map[string]ruleclass.Attribute{
			"default": {Name: "default", Type: cty.String, Mandatory: true},
		},
		Advertised:     ruleclass.AdvertisedProviders{Native: []string{provider.BuildSettingName}},
		IsBuildSetting: true,
		FactoryName:    "build_setting",
	})

	r.RegisterRuleBody("filegroup", filegroupBody)
	r.RegisterRuleClass(&ruleclass.RuleClass{
		Name: "filegroup",
		Attributes: map[string]ruleclass.Attribute{
			"srcs": {Name: "srcs", Type: cty.List(cty.String), IsDep: true},
		},
		Advertised:  ruleclass.AdvertisedProviders{Native: []string{provider.FilesName}},
		FactoryName: "filegroup",
	})
}

// configSettingBody matches one configuration option against an expected
// value and exposes the outcome for select() resolution.
func configSettingBody(_ context.Context, rc *analysis.RuleContext) (*provider.Collection, error) {
	fragmentName := rc.Attr("fragment").AsString()
	optionName := rc.Attr("option").AsString()
	expected := rc.Attr("expected").AsString()

	matches := false
	fragment, ok := rc.Configuration().Fragment(fragmentName)
	if ok {
		if !fragment.Type().IsObjectType() || !fragment.Type().HasAttribute(optionName) {
			return nil, fmt.Errorf("fragment %q has no option %q", fragmentName, optionName)
		}
		actual, err := convert.Convert(fragment.GetAttr(optionName), cty.String)
		if err != nil {
			return nil, fmt.Errorf("option %s.%s is not comparable to a string: %w", fragmentName, optionName, err)
		}
		matches = actual.AsString() == expected
	}

	return provider.NewCollection(provider.ConfigMatching{
		Label:           rc.Label(),
		Matches:         matches,
		RequiredOptions: []string{fragmentName + "." + optionName},
	}), nil
}

// buildSettingBody exposes a user-defined configuration value.
func buildSettingBody(_ context.Context, rc *analysis.RuleContext) (*provider.Collection, error) {
	return provider.NewCollection(provider.BuildSetting{
		Label:   rc.Label(),
		Default: rc.Attr("default"),
	}), nil
}

// filegroupBody forwards the files of every src.
func filegroupBody(_ context.Context, rc *analysis.RuleContext) (*provider.Collection, error) {
	var artifacts []provider.Artifact
	for _, src := range rc.Prerequisites("srcs") {
		if p, ok := src.Provider(provider.FilesName); ok {
			artifacts = append(artifacts, p.(provider.Files).Artifacts...)
		}
	}
	return provider.NewCollection(provider.Files{Artifacts: artifacts}), nil
}
