package registry

import (
	"context"
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/ext/typeexpr"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"

	"github.com/vk/buildgrid/internal/ctxlog"
	"github.com/vk/buildgrid/internal/fsutil"
	"github.com/vk/buildgrid/internal/ruleclass"
)

// manifestFile is the top-level schema of a rule-definition manifest.
type manifestFile struct {
	RuleClasses   []*ruleClassBlock   `hcl:"rule_class,block"`
	AspectClasses []*aspectClassBlock `hcl:"aspect_class,block"`
}

type ruleClassBlock struct {
	Name                       string            `hcl:"name,label"`
	Factory                    string            `hcl:"factory,optional"`
	BuildSetting               bool              `hcl:"build_setting,optional"`
	ConfigCondition            bool              `hcl:"config_condition,optional"`
	RequiredFragments          []string          `hcl:"required_fragments,optional"`
	RequiredExtensionFragments []string          `hcl:"required_extension_fragments,optional"`
	MissingFragmentPolicy      string            `hcl:"missing_fragment_policy,optional"`
	Advertises                 *advertisesBlock  `hcl:"advertises,block"`
	Attributes                 []*attributeBlock `hcl:"attribute,block"`
	Body                       *bodyBlock        `hcl:"body,block"`
}

type aspectClassBlock struct {
	Name                       string            `hcl:"name,label"`
	Factory                    string            `hcl:"factory,optional"`
	RequiredFragments          []string          `hcl:"required_fragments,optional"`
	RequiredExtensionFragments []string          `hcl:"required_extension_fragments,optional"`
	Advertises                 *advertisesBlock  `hcl:"advertises,block"`
	Attributes                 []*attributeBlock `hcl:"attribute,block"`
	Body                       *bodyBlock        `hcl:"body,block"`
}

type advertisesBlock struct {
	Any       bool     `hcl:"any,optional"`
	Native    []string `hcl:"native,optional"`
	Extension []string `hcl:"extension,optional"`
}

type attributeBlock struct {
	Name      string         `hcl:"name,label"`
	Type      hcl.Expression `hcl:"type"`
	Mandatory bool           `hcl:"mandatory,optional"`
	Dep       bool           `hcl:"dep,optional"`
	Default   hcl.Expression `hcl:"default,optional"`
}

type bodyBlock struct {
	Providers []*providerBlock `hcl:"provider,block"`
	Step      *stepBlock       `hcl:"step,block"`
}

type providerBlock struct {
	Name  string         `hcl:"name,label"`
	Value hcl.Expression `hcl:"value"`
}

type stepBlock struct {
	Mnemonic string `hcl:"mnemonic"`
	Message  string `hcl:"message,optional"`
}

// LoadManifests recursively parses every .hcl manifest under path and
// registers the rule and aspect classes it finds.
func (r *Registry) LoadManifests(ctx context.Context, path string) error {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Registry loading class definitions.", "path", path)

	filePaths, err := fsutil.FindFilesByExtension(path, ".hcl")
	if err != nil {
		return fmt.Errorf("walking manifest directory %s: %w", path, err)
	}
	if len(filePaths) == 0 {
		logger.Warn("No .hcl manifest files found in path.", "path", path)
		return nil
	}

	parser := hclparse.NewParser()
	for _, filePath := range filePaths {
		hclFile, diags := parser.ParseHCLFile(filePath)
		if diags.HasErrors() {
			return fmt.Errorf("parsing manifest %s: %w", filePath, diags)
		}
		var manifest manifestFile
		if diags := gohcl.DecodeBody(hclFile.Body, nil, &manifest); diags.HasErrors() {
			return fmt.Errorf("decoding manifest %s: %w", filePath, diags)
		}
		for _, block := range manifest.RuleClasses {
			c, err := block.toRuleClass()
			if err != nil {
				return fmt.Errorf("manifest %s: %w", filePath, err)
			}
			r.RegisterRuleClass(c)
		}
		for _, block := range manifest.AspectClasses {
			c, err := block.toAspectClass()
			if err != nil {
				return fmt.Errorf("manifest %s: %w", filePath, err)
			}
			r.RegisterAspectClass(c)
		}
		logger.Debug("Loaded class definitions from manifest.", "file", filePath)
	}

	logger.Info("Registry loaded.",
		"rule_classes", len(r.ruleClasses), "aspect_classes", len(r.aspectClasses))
	return nil
}

func (b *ruleClassBlock) toRuleClass() (*ruleclass.RuleClass, error) {
	attributes, err := decodeAttributes(b.Name, b.Attributes)
	if err != nil {
		return nil, err
	}
	missing, err := parseMissingFragmentPolicy(b.MissingFragmentPolicy)
	if err != nil {
		return nil, fmt.Errorf("rule class '%s': %w", b.Name, err)
	}
	return &ruleclass.RuleClass{
		Name:       b.Name,
		Attributes: attributes,
		Fragments: ruleclass.FragmentPolicy{
			RequiredNative:    b.RequiredFragments,
			RequiredExtension: b.RequiredExtensionFragments,
			Missing:           missing,
		},
		Advertised:        decodeAdvertises(b.Advertises),
		IsBuildSetting:    b.BuildSetting,
		IsConfigCondition: b.ConfigCondition,
		FactoryName:       b.Factory,
		Body:              b.Body.toBodySpec(),
	}, nil
}

func (b *aspectClassBlock) toAspectClass() (*ruleclass.AspectClass, error) {
	attributes, err := decodeAttributes(b.Name, b.Attributes)
	if err != nil {
		return nil, err
	}
	return &ruleclass.AspectClass{
		Name:       b.Name,
		Attributes: attributes,
		Fragments: ruleclass.FragmentPolicy{
			RequiredNative:    b.RequiredFragments,
			RequiredExtension: b.RequiredExtensionFragments,
		},
		Advertised:  decodeAdvertises(b.Advertises),
		FactoryName: b.Factory,
		Body:        b.Body.toBodySpec(),
	}, nil
}

func (b *bodyBlock) toBodySpec() *ruleclass.BodySpec {
	if b == nil {
		return nil
	}
	spec := &ruleclass.BodySpec{}
	for _, p := range b.Providers {
		spec.Providers = append(spec.Providers, ruleclass.ProviderSpec{Name: p.Name, Expr: p.Value})
	}
	if b.Step != nil {
		spec.Step = &ruleclass.StepSpec{Mnemonic: b.Step.Mnemonic, Message: b.Step.Message}
	}
	return spec
}

func decodeAdvertises(b *advertisesBlock) ruleclass.AdvertisedProviders {
	if b == nil {
		return ruleclass.AdvertisedProviders{CanHaveAny: true}
	}
	return ruleclass.AdvertisedProviders{
		CanHaveAny: b.Any,
		Native:     b.Native,
		Extension:  b.Extension,
	}
}

func decodeAttributes(className string, blocks []*attributeBlock) (map[string]ruleclass.Attribute, error) {
	attributes := make(map[string]ruleclass.Attribute, len(blocks))
	for _, block := range blocks {
		if _, exists := attributes[block.Name]; exists {
			return nil, fmt.Errorf("class '%s' declares attribute '%s' twice", className, block.Name)
		}
		ty, diags := typeexpr.TypeConstraint(block.Type)
		if diags.HasErrors() {
			return nil, fmt.Errorf("class '%s' attribute '%s': invalid type: %w", className, block.Name, diags)
		}
		attr := ruleclass.Attribute{
			Name:      block.Name,
			Type:      ty,
			Mandatory: block.Mandatory,
			IsDep:     block.Dep,
		}
		if block.Default != nil {
			v, diags := block.Default.Value(nil)
			if diags.HasErrors() {
				return nil, fmt.Errorf("class '%s' attribute '%s': invalid default: %w", className, block.Name, diags)
			}
			converted, err := convert.Convert(v, ty)
			if err != nil {
				return nil, fmt.Errorf("class '%s' attribute '%s': default does not fit type: %w", className, block.Name, err)
			}
			attr.Default = converted
		} else {
			attr.Default = cty.NilVal
		}
		attributes[block.Name] = attr
	}
	return attributes, nil
}

func parseMissingFragmentPolicy(s string) (ruleclass.MissingFragmentPolicy, error) {
	switch s {
	case "", "ignore":
		return ruleclass.IgnoreMissingFragments, nil
	case "fail_analysis":
		return ruleclass.FailAnalysis, nil
	case "create_fail_steps":
		return ruleclass.CreateFailSteps, nil
	default:
		return ruleclass.IgnoreMissingFragments,
			fmt.Errorf("unknown missing_fragment_policy %q (want ignore, fail_analysis, or create_fail_steps)", s)
	}
}
