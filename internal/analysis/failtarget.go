package analysis

import (
	"github.com/vk/buildgrid/internal/provider"
	"github.com/vk/buildgrid/internal/target"
)

// failStepMessage is the fixed message a deferred failure surfaces when
// something finally tries to build the node's outputs.
const failStepMessage = "Can't build this"

// failTarget synthesizes the deferred-failure result: a success-shaped stand-
// in whose declared outputs are claimed by exactly one deliberately failing
// step. With no declared outputs there is nothing to wire a failing step to,
// so the result carries only the empty runnable-files provider.
func failTarget(rc *RuleContext) Result {
	if outputs := rc.Outputs(); len(outputs) > 0 {
		rc.RegisterStep(Step{
			Mnemonic: "Fail",
			Outputs:  outputs,
			Message:  failStepMessage,
			Failing:  true,
		})
	}
	ct := &target.Configured{
		Target:        rc.target,
		Configuration: rc.configuration,
		Providers:     provider.NewCollection(provider.EmptyRunfiles()),
		Visibility:    rc.visibility,
	}
	return successResult(ct, rc.steps)
}
