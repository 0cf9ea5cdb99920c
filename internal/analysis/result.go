package analysis

import (
	"fmt"

	"github.com/vk/buildgrid/internal/label"
	"github.com/vk/buildgrid/internal/provider"
	"github.com/vk/buildgrid/internal/target"
)

// ResultKind is the closed set of evaluation outcomes.
type ResultKind int

const (
	// Incomplete signals that prerequisite values were still missing. No
	// side effects were committed; the graph engine restarts the evaluation
	// once the missing inputs resolve.
	Incomplete ResultKind = iota
	// HardFailure means the node failed and has no usable result. The graph
	// engine propagates the failure according to its keep-going policy.
	HardFailure
	// ErroredStub is a tolerated analysis failure: the result carries only
	// an analysis-failures provider and an empty runfiles provider.
	ErroredStub
	// Success carries the node's providers and registered build steps.
	Success
)

func (k ResultKind) String() string {
	switch k {
	case Incomplete:
		return "incomplete"
	case HardFailure:
		return "hard failure"
	case ErroredStub:
		return "errored stub"
	case Success:
		return "success"
	default:
		return fmt.Sprintf("ResultKind(%d)", int(k))
	}
}

// Result is the outcome of evaluating one node.
type Result struct {
	Kind ResultKind
	// Target is the configured result; set for Success and ErroredStub.
	Target *target.Configured
	// Steps are the build-step declarations registered on the success path,
	// consumed later by the execution subsystem. Always empty for stubs and
	// failures: the three failure tracks are mutually exclusive.
	Steps []Step
}

// incompleteResult is returned when the graph engine signaled missing inputs.
func incompleteResult() Result {
	return Result{Kind: Incomplete}
}

// hardFailure tells the caller the node failed outright.
func hardFailure() Result {
	return Result{Kind: HardFailure}
}

// successResult wraps a finished configured target and its steps.
func successResult(ct *target.Configured, steps []Step) Result {
	return Result{Kind: Success, Target: ct, Steps: steps}
}

// Step is one registered build-step declaration: what the action-execution
// subsystem will eventually run.
type Step struct {
	// Owner is the label of the node that registered the step.
	Owner    label.Label
	Mnemonic string
	Inputs   []provider.Artifact
	Outputs  []provider.Artifact
	// Message is the human-readable description, or the failure message for
	// failing steps.
	Message string
	// Failing marks a deliberately failing step: building any of its outputs
	// reports Message and fails.
	Failing bool
}
