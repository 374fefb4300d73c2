package router

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/operandhq/operand/core"
)

// Routing is total: whatever bytes arrive, the result is well formed and
// the confidence stays inside [0,1].
func TestRoutePropertyTotalAndClamped(t *testing.T) {
	r := New(&core.NoOpLogger{})

	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500

	properties := gopter.NewProperties(parameters)

	properties.Property("confidence is clamped to [0,1]", prop.ForAll(
		func(input string) bool {
			routed := r.Route(input)
			return routed.Confidence >= 0 && routed.Confidence <= 1
		},
		gen.AnyString(),
	))

	properties.Property("intent is never empty", prop.ForAll(
		func(input string) bool {
			return r.Route(input).Intent != ""
		},
		gen.AnyString(),
	))

	properties.Property("routing is deterministic", prop.ForAll(
		func(input string) bool {
			first := r.Route(input)
			second := r.Route(input)
			return first.Intent == second.Intent &&
				first.Confidence == second.Confidence &&
				first.SuggestedSkill == second.SuggestedSkill
		},
		gen.AnyString(),
	))

	properties.Property("direct commands always route at full confidence", prop.ForAll(
		func(args string) bool {
			routed := r.Route("/ai " + args)
			return routed.Intent == "direct_command" && routed.Confidence == 1.0
		},
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}
