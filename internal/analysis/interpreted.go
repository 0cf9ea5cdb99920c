package analysis

import (
	"context"
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/buildgrid/internal/provider"
	"github.com/vk/buildgrid/internal/ruleclass"
)

// evaluateInterpretedBody runs an HCL-defined rule body: each declared
// provider expression is evaluated against the rule's attributes, fragments,
// and dependencies, and becomes a dynamically named extension provider. A
// failed expression is a recoverable rule error.
func evaluateInterpretedBody(_ context.Context, body *ruleclass.BodySpec, rc *RuleContext) (*provider.Collection, error) {
	evalCtx := rc.bodyEvalContext()

	providers := make([]provider.Provider, 0, len(body.Providers))
	for _, spec := range body.Providers {
		v, diags := spec.Expr.Value(evalCtx)
		if diags.HasErrors() {
			for _, diag := range diags.Errs() {
				if hclDiag, ok := diag.(*hcl.Diagnostic); ok {
					rc.RuleError(fmt.Sprintf("provider %q: %s", spec.Name, hclDiag.Detail))
				}
			}
			return nil, fmt.Errorf("evaluating provider %q: %w", spec.Name, diags)
		}
		providers = append(providers, provider.Extension{Name: spec.Name, Value: v})
	}

	if body.Step != nil && len(rc.Outputs()) > 0 {
		rc.RegisterStep(Step{
			Mnemonic: body.Step.Mnemonic,
			Outputs:  rc.Outputs(),
			Message:  body.Step.Message,
		})
	}

	return provider.NewCollection(providers...), nil
}

// bodyEvalContext exposes the working context to interpreted bodies:
//
//	attr.<name>              resolved attribute values
//	fragment.<name>          option groups the class declared
//	deps.<attr>[i].label     prerequisite labels per attribute
//	deps.<attr>[i].providers extension providers of each prerequisite
//	label                    the node's own label
func (rc *RuleContext) bodyEvalContext() *hcl.EvalContext {
	attrs := make(map[string]cty.Value, len(rc.attrs))
	for name, v := range rc.attrs {
		if v != cty.NilVal {
			attrs[name] = v
		}
	}

	fragmentNames := append([]string{}, rc.fragments.RequiredNative...)
	for _, alias := range rc.fragments.RequiredExtension {
		fragmentNames = append(fragmentNames, rc.configuration.ExtensionFragmentName(alias))
	}
	fragmentVals := make(map[string]cty.Value)
	for _, name := range fragmentNames {
		if v, ok := rc.configuration.Fragment(name); ok {
			fragmentVals[name] = v
		}
	}

	depVals := make(map[string]cty.Value)
	for _, attrName := range rc.prerequisites.Attributes() {
		if attrName == "" {
			continue
		}
		prereqs := rc.prerequisites.Get(attrName)
		items := make([]cty.Value, 0, len(prereqs))
		for _, prereq := range prereqs {
			extensions := make(map[string]cty.Value)
			for _, name := range prereq.Providers.Names() {
				if p, _ := prereq.Provider(name); p != nil {
					if ext, ok := p.(provider.Extension); ok {
						extensions[ext.Name] = ext.Value
					}
				}
			}
			item := map[string]cty.Value{
				"label": cty.StringVal(prereq.Target.Label.String()),
			}
			if len(extensions) > 0 {
				item["providers"] = cty.ObjectVal(extensions)
			} else {
				item["providers"] = cty.EmptyObjectVal
			}
			items = append(items, cty.ObjectVal(item))
		}
		if len(items) > 0 {
			depVals[attrName] = cty.TupleVal(items)
		} else {
			depVals[attrName] = cty.EmptyTupleVal
		}
	}

	vars := map[string]cty.Value{
		"label": cty.StringVal(rc.target.Label.String()),
	}
	if len(attrs) > 0 {
		vars["attr"] = cty.ObjectVal(attrs)
	} else {
		vars["attr"] = cty.EmptyObjectVal
	}
	if len(fragmentVals) > 0 {
		vars["fragment"] = cty.ObjectVal(fragmentVals)
	} else {
		vars["fragment"] = cty.EmptyObjectVal
	}
	if len(depVals) > 0 {
		vars["deps"] = cty.ObjectVal(depVals)
	} else {
		vars["deps"] = cty.EmptyObjectVal
	}

	return &hcl.EvalContext{Variables: vars}
}
