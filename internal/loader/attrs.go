package loader

import (
	"fmt"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/buildgrid/internal/label"
	"github.com/vk/buildgrid/internal/ruleclass"
	"github.com/vk/buildgrid/internal/target"
)

// decodeAttrValues turns a rule block's attrs body and select blocks into the
// per-attribute values the analysis layer consumes. Values are evaluated
// statically; condition resolution for selects happens during analysis.
func decodeAttrValues(pkg string, block *ruleBlock, class *ruleclass.RuleClass) (map[string]target.AttrValue, error) {
	plain := map[string]hcl.Expression{}
	if block.Attrs != nil {
		bodyAttrs, diags := block.Attrs.Body.JustAttributes()
		if diags.HasErrors() {
			return nil, fmt.Errorf("decoding attrs: %w", diags)
		}
		for name, attr := range bodyAttrs {
			plain[name] = attr.Expr
		}
	}

	selects := map[string]*selectBlock{}
	for _, sel := range block.Selects {
		if _, dup := selects[sel.Attribute]; dup {
			return nil, fmt.Errorf("attribute '%s' has more than one select block", sel.Attribute)
		}
		selects[sel.Attribute] = sel
	}

	attrs := map[string]target.AttrValue{}
	for name, expr := range plain {
		def, known := class.Attributes[name]
		if !known {
			return nil, fmt.Errorf("rule class '%s' has no attribute '%s'", class.Name, name)
		}
		if _, alsoSelected := selects[name]; alsoSelected {
			return nil, fmt.Errorf("attribute '%s' is set both directly and via select", name)
		}
		value, err := evalAttrExpr(expr)
		if err != nil {
			return nil, fmt.Errorf("attribute '%s': %w", name, err)
		}
		av := target.AttrValue{Value: target.PlainValue(value)}
		if def.IsDep {
			labels, err := depLabels(pkg, value)
			if err != nil {
				return nil, fmt.Errorf("attribute '%s': %w", name, err)
			}
			av.Labels = labels
		}
		attrs[name] = av
	}

	for name, sel := range selects {
		def, known := class.Attributes[name]
		if !known {
			return nil, fmt.Errorf("rule class '%s' has no attribute '%s'", class.Name, name)
		}
		av, err := decodeSelect(pkg, sel, def)
		if err != nil {
			return nil, fmt.Errorf("attribute '%s': %w", name, err)
		}
		attrs[name] = av
	}
	return attrs, nil
}

func decodeSelect(pkg string, sel *selectBlock, def ruleclass.Attribute) (target.AttrValue, error) {
	var av target.AttrValue
	for _, branch := range sel.Branches {
		condition, err := parseLabelIn(pkg, branch.Condition)
		if err != nil {
			return av, fmt.Errorf("condition %q: %w", branch.Condition, err)
		}
		value, err := evalAttrExpr(branch.Value)
		if err != nil {
			return av, fmt.Errorf("branch %q: %w", branch.Condition, err)
		}
		av.Value.Select = append(av.Value.Select, target.SelectBranch{Condition: condition, Value: value})
		if def.IsDep {
			labels, err := depLabels(pkg, value)
			if err != nil {
				return av, fmt.Errorf("branch %q: %w", branch.Condition, err)
			}
			av.Labels = append(av.Labels, labels...)
		}
	}
	if sel.Default != nil {
		value, err := evalAttrExpr(sel.Default.Value)
		if err != nil {
			return av, fmt.Errorf("default branch: %w", err)
		}
		av.Value.Select = append(av.Value.Select, target.SelectBranch{Condition: target.DefaultCondition, Value: value})
		if def.IsDep {
			labels, err := depLabels(pkg, value)
			if err != nil {
				return av, fmt.Errorf("default branch: %w", err)
			}
			av.Labels = append(av.Labels, labels...)
		}
	}
	if len(av.Value.Select) == 0 {
		return av, fmt.Errorf("select has no branches")
	}
	return av, nil
}

// evalAttrExpr evaluates a BUILD attribute expression. BUILD files carry plain
// literals only, so no evaluation context is offered.
func evalAttrExpr(expr hcl.Expression) (cty.Value, error) {
	value, diags := expr.Value(nil)
	if diags.HasErrors() {
		return cty.NilVal, fmt.Errorf("evaluating expression: %w", diags)
	}
	return value, nil
}

// depLabels extracts the labels referenced by a dependency attribute value,
// which is either a single label string or a list of them.
func depLabels(pkg string, value cty.Value) ([]label.Label, error) {
	if value.IsNull() {
		return nil, nil
	}
	if value.Type() == cty.String {
		l, err := parseLabelIn(pkg, value.AsString())
		if err != nil {
			return nil, err
		}
		return []label.Label{l}, nil
	}
	if !value.CanIterateElements() {
		return nil, fmt.Errorf("dependency attribute must be a label string or list, got %s", value.Type().FriendlyName())
	}
	var labels []label.Label
	for it := value.ElementIterator(); it.Next(); {
		_, elem := it.Element()
		if elem.Type() != cty.String {
			return nil, fmt.Errorf("dependency list element must be a label string, got %s", elem.Type().FriendlyName())
		}
		l, err := parseLabelIn(pkg, elem.AsString())
		if err != nil {
			return nil, err
		}
		labels = append(labels, l)
	}
	return labels, nil
}

// parseVisibility interprets a visibility attribute. "//visibility:public"
// and "//visibility:private" are exclusive shorthands. Other entries either
// name a package group (they contain a colon) or give a package pattern
// matched directly.
func parseVisibility(pkg string, entries []string) (target.Visibility, error) {
	if len(entries) == 0 {
		return target.Private(), nil
	}
	var groups []label.Label
	var direct []label.PackageSpecification
	for _, entry := range entries {
		switch entry {
		case "//visibility:public":
			if len(entries) != 1 {
				return target.Visibility{}, fmt.Errorf("//visibility:public cannot be combined with other entries")
			}
			return target.Public(), nil
		case "//visibility:private":
			if len(entries) != 1 {
				return target.Visibility{}, fmt.Errorf("//visibility:private cannot be combined with other entries")
			}
			return target.Private(), nil
		}
		if strings.Contains(entry, ":") {
			l, err := parseLabelIn(pkg, entry)
			if err != nil {
				return target.Visibility{}, fmt.Errorf("visibility entry %q: %w", entry, err)
			}
			groups = append(groups, l)
			continue
		}
		spec, err := label.ParseSpecification(entry)
		if err != nil {
			return target.Visibility{}, fmt.Errorf("visibility entry %q: %w", entry, err)
		}
		direct = append(direct, spec)
	}
	return target.GroupVisibility(groups, label.PackageGroupContents{Specifications: direct}), nil
}
