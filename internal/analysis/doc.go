// Package analysis is the per-node evaluator of the build graph: given one
// target, its configuration, and its already-resolved dependency results, it
// produces the node's configured result or a well-defined failure marker.
//
// The evaluator normalizes every exit path into one of four result variants:
//
//   - Success: the node's providers, plus any build steps it registered.
//   - ErroredStub: a tolerated analysis failure, carrying an aggregated,
//     re-surfaceable failure list instead of aborting the build.
//   - HardFailure: the node failed; callers must not use its result.
//   - Incomplete: prerequisite values were missing; the evaluation committed
//     no side effects and must be restarted by the graph engine.
//
// A working context is built fresh for every evaluation and owned exclusively
// by it; nothing in this package shares mutable state across evaluations.
package analysis
