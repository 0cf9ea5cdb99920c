package analysis

import (
	"context"

	"github.com/zclconf/go-cty/cty"

	"github.com/vk/buildgrid/internal/events"
	"github.com/vk/buildgrid/internal/provider"
	"github.com/vk/buildgrid/internal/target"
)

// Environment is what the graph engine exposes to one evaluation.
type Environment interface {
	// MissingInputs reports whether prerequisite values the engine promised
	// are still outstanding. The evaluator checks this immediately after
	// building the working context and, if set, abandons the evaluation
	// without side effects.
	MissingInputs() bool
	// Reporter receives human-facing diagnostics.
	Reporter() events.Reporter
}

// NativeRuleBody is a natively compiled rule-body evaluator. It returns the
// rule's providers, or an error for a recoverable rule failure; the evaluator
// converts the error into the appropriate result variant.
type NativeRuleBody func(ctx context.Context, rc *RuleContext) (*provider.Collection, error)

// NativeAspectBody is a natively compiled aspect-body evaluator, applied to
// an already-configured base target.
type NativeAspectBody func(ctx context.Context, base *target.Configured, rc *RuleContext, params map[string]cty.Value) (*provider.Collection, error)

// BodyRegistry resolves the native body evaluators rule and aspect classes
// were declared with.
type BodyRegistry interface {
	RuleBody(name string) (NativeRuleBody, bool)
	AspectBody(name string) (NativeAspectBody, bool)
}
