package graphrun

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/vk/buildgrid/internal/analysis"
	"github.com/vk/buildgrid/internal/buildconfig"
	"github.com/vk/buildgrid/internal/ctxlog"
	"github.com/vk/buildgrid/internal/deps"
	"github.com/vk/buildgrid/internal/events"
	"github.com/vk/buildgrid/internal/provider"
	"github.com/vk/buildgrid/internal/target"
)

// environment adapts the running engine to what the evaluator expects. Every
// prerequisite is fully resolved before a node is scheduled, so inputs are
// never missing here.
type environment struct {
	reporter events.Reporter
}

func (environment) MissingInputs() bool { return false }

func (e environment) Reporter() events.Reporter { return e.reporter }

// Runner evaluates a built graph with a fixed-size worker pool.
type Runner struct {
	evaluator     *analysis.Evaluator
	configuration *buildconfig.Configuration
	reporter      events.Reporter
	numWorkers    int

	wg sync.WaitGroup
}

// NewRunner wires an evaluator and the single top-level configuration to a
// graph run. numWorkers must be at least 1.
func NewRunner(evaluator *analysis.Evaluator, configuration *buildconfig.Configuration, reporter events.Reporter, numWorkers int) *Runner {
	if numWorkers < 1 {
		numWorkers = 1
	}
	return &Runner{
		evaluator:     evaluator,
		configuration: configuration,
		reporter:      reporter,
		numWorkers:    numWorkers,
	}
}

// Run evaluates every node in dependency order and returns an error if any
// node failed. Node results stay on the graph either way.
func (r *Runner) Run(ctx context.Context, graph *Graph) error {
	logger := ctxlog.FromContext(ctx)

	readyChan := make(chan *Node, len(graph.Nodes))
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	rootCount := 0
	for _, node := range graph.Nodes {
		if node.pending.Load() == 0 {
			readyChan <- node
			rootCount++
		}
	}
	logger.Debug("Found all root nodes.", "count", rootCount)

	r.wg.Add(len(graph.Nodes))

	logger.Debug("Starting worker pool.", "workers", r.numWorkers)
	for i := 0; i < r.numWorkers; i++ {
		go r.worker(runCtx, readyChan, cancel, i)
	}

	r.wg.Wait()
	close(readyChan)
	logger.Debug("All nodes completed.")

	var failed []string
	var rootCause error
	for _, node := range graph.Nodes {
		if node.state.Load() != stateFailed {
			continue
		}
		if node.Err != nil && !strings.HasPrefix(node.Err.Error(), "skipped") && !errors.Is(node.Err, context.Canceled) {
			failed = append(failed, node.ID)
			if rootCause == nil {
				rootCause = node.Err
			}
		}
	}
	if rootCause != nil {
		sort.Strings(failed)
		return fmt.Errorf("analysis failed for %s: %w", strings.Join(failed, ", "), rootCause)
	}
	return nil
}

// worker is the processing loop of one concurrent worker.
func (r *Runner) worker(ctx context.Context, readyChan chan *Node, cancel context.CancelFunc, workerID int) {
	logger := ctxlog.FromContext(ctx).With("workerID", workerID)

	for node := range readyChan {
		nodeLogger := logger.With("nodeID", node.ID)

		if ctx.Err() != nil {
			node.skipOnce.Do(func() {
				nodeLogger.Warn("Context canceled, skipping node evaluation.")
				node.state.Store(stateFailed)
				node.Err = ctx.Err()
				r.wg.Done()
			})
			continue
		}

		nodeLogger.Debug("Worker picked up node.")
		node.state.Store(stateRunning)
		err := r.evaluateNode(ctx, node)

		if err != nil {
			nodeLogger.Error("Node evaluation failed.", "error", err)
			node.state.Store(stateFailed)
			node.Err = err
			cancel()
			r.skipDependents(ctx, node)
			r.wg.Done()
			continue
		}

		node.state.Store(stateDone)
		for _, dependent := range node.dependents {
			if dependent.pending.Add(-1) == 0 {
				readyChan <- dependent
			}
		}
		r.wg.Done()
	}
}

// skipDependents marks all downstream nodes failed once an upstream node is.
func (r *Runner) skipDependents(ctx context.Context, node *Node) {
	logger := ctxlog.FromContext(ctx)
	for _, dependent := range node.dependents {
		dependent.skipOnce.Do(func() {
			logger.Warn("Skipping node due to upstream failure.", "nodeID", dependent.ID, "dependency", node.ID)
			dependent.state.Store(stateFailed)
			dependent.Err = fmt.Errorf("skipped due to upstream failure of '%s'", node.ID)
			r.wg.Done()
			r.skipDependents(ctx, dependent)
		})
	}
}

// evaluateNode assembles the evaluator request from finished prerequisites
// and interprets the result.
func (r *Runner) evaluateNode(ctx context.Context, node *Node) error {
	prerequisites := deps.NewMultimap()
	for _, e := range node.edges {
		dep := e.to
		if dep.Result.Target == nil {
			return fmt.Errorf("prerequisite '%s' produced no usable result", dep.ID)
		}
		prerequisites.Put(e.key, dep.Result.Target)
	}

	var conditions []provider.ConfigMatching
	for _, c := range node.conditions {
		ct := c.Result.Target
		if ct == nil {
			return fmt.Errorf("condition '%s' produced no usable result", c.ID)
		}
		p, ok := ct.Provider(provider.ConfigMatchingName)
		if !ok {
			return fmt.Errorf("select condition '%s' is not a configuration condition", c.ID)
		}
		conditions = append(conditions, p.(provider.ConfigMatching))
	}

	result := r.evaluator.EvaluateTarget(ctx, analysis.Request{
		Env:              environment{reporter: r.reporter},
		Target:           node.Target,
		Configuration:    r.configurationFor(node.Target),
		Prerequisites:    prerequisites,
		ConfigConditions: conditions,
	})

	switch result.Kind {
	case analysis.HardFailure:
		return fmt.Errorf("analysis of target '%s' failed", node.ID)
	case analysis.Incomplete:
		return fmt.Errorf("evaluation of '%s' reported missing inputs outside a restart", node.ID)
	}
	node.Result = result
	return nil
}

// configurationFor picks the node's configuration. Package groups, input
// files, and environment groups are unconfigured.
func (r *Runner) configurationFor(t *target.Target) *buildconfig.Configuration {
	switch t.Kind {
	case target.KindRule, target.KindOutputFile:
		return r.configuration
	default:
		return nil
	}
}
