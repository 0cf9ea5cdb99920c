package target

import (
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/buildgrid/internal/label"
)

// ValueOrSelect is an attribute value that is either a plain value or a
// select() over configuration conditions, resolved at analysis time.
type ValueOrSelect struct {
	// Plain is the value when Select is nil.
	Plain cty.Value
	// Select holds the condition branches, in declaration order, when the
	// attribute was written as a select().
	Select []SelectBranch
}

// SelectBranch is one arm of a select(): the config-condition label guarding
// it and the value it yields.
type SelectBranch struct {
	// Condition is the label of the config-setting target. DefaultCondition
	// marks the fallback arm.
	Condition label.Label
	Value     cty.Value
}

// DefaultCondition is the label of the fallback select() arm.
var DefaultCondition = label.Label{Package: "conditions", Name: "default"}

// PlainValue wraps a non-select attribute value.
func PlainValue(v cty.Value) ValueOrSelect {
	return ValueOrSelect{Plain: v}
}

// IsSelect reports whether the value must be resolved against matched
// configuration conditions.
func (v ValueOrSelect) IsSelect() bool {
	return len(v.Select) > 0
}
