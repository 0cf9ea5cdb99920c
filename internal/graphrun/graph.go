// Package graphrun drives the per-node evaluator over a whole workspace. It
// builds the dependency graph from loaded targets, validates it, and runs the
// evaluations concurrently in dependency order.
package graphrun

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/vk/buildgrid/internal/analysis"
	"github.com/vk/buildgrid/internal/ctxlog"
	"github.com/vk/buildgrid/internal/deps"
	"github.com/vk/buildgrid/internal/label"
	"github.com/vk/buildgrid/internal/loader"
	"github.com/vk/buildgrid/internal/target"
)

// Node state values, stored atomically.
const (
	statePending int32 = iota
	stateRunning
	stateDone
	stateFailed
)

// Node is one target in the evaluation graph.
type Node struct {
	ID     string
	Target *target.Target

	// edges are this node's dependency edges in declaration order, keyed the
	// way the evaluator expects to receive them.
	edges []edge
	// conditions are the select() condition nodes this target names.
	conditions []*Node
	// dependents are the distinct nodes waiting on this one.
	dependents []*Node

	pending  atomic.Int32
	state    atomic.Int32
	skipOnce sync.Once

	// Result is valid once state is stateDone.
	Result analysis.Result
	// Err is set when state is stateFailed.
	Err error
}

type edge struct {
	key deps.Key
	to  *Node
}

// Graph is the full evaluation graph over one workspace.
type Graph struct {
	// Nodes is keyed by target label.
	Nodes map[string]*Node
}

// Build constructs and validates the evaluation graph for a workspace.
func Build(ctx context.Context, ws *loader.Workspace) (*Graph, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Starting graph construction.")

	graph := &Graph{Nodes: make(map[string]*Node, len(ws.Targets))}
	for _, t := range ws.Targets {
		graph.Nodes[t.Label.String()] = &Node{ID: t.Label.String(), Target: t}
	}
	logger.Debug("Node creation complete.", "node_count", len(graph.Nodes))

	for _, t := range ws.Targets {
		if err := linkNode(graph, graph.Nodes[t.Label.String()]); err != nil {
			return nil, err
		}
	}
	logger.Debug("Node linking complete.")

	for _, node := range graph.Nodes {
		seen := map[*Node]struct{}{}
		for _, e := range node.edges {
			seen[e.to] = struct{}{}
		}
		for _, c := range node.conditions {
			seen[c] = struct{}{}
		}
		node.pending.Store(int32(len(seen)))
		for dep := range seen {
			dep.dependents = append(dep.dependents, node)
		}
	}

	if err := graph.detectCycles(); err != nil {
		return nil, fmt.Errorf("validating dependency graph: %w", err)
	}
	logger.Debug("Cycle detection passed.")

	return graph, nil
}

// linkNode establishes one target's outgoing dependency edges.
func linkNode(graph *Graph, node *Node) error {
	t := node.Target

	addEdge := func(key deps.Key, dep label.Label) error {
		to, ok := graph.Nodes[dep.String()]
		if !ok {
			return fmt.Errorf("target '%s' depends on undeclared target '%s'", t.Label, dep)
		}
		node.edges = append(node.edges, edge{key: key, to: to})
		return nil
	}

	if t.Kind == target.KindRule {
		names := make([]string, 0, len(t.Rule.Attrs))
		for name := range t.Rule.Attrs {
			names = append(names, name)
		}
		sort.Strings(names)
		conditionSeen := map[string]struct{}{}
		for _, name := range names {
			av := t.Rule.Attrs[name]
			for _, dep := range av.Labels {
				if err := addEdge(deps.Key{Kind: deps.AttributeDependency, Attribute: name}, dep); err != nil {
					return err
				}
			}
			for _, branch := range av.Value.Select {
				if branch.Condition.Equal(target.DefaultCondition) {
					continue
				}
				if _, dup := conditionSeen[branch.Condition.String()]; dup {
					continue
				}
				conditionSeen[branch.Condition.String()] = struct{}{}
				to, ok := graph.Nodes[branch.Condition.String()]
				if !ok {
					return fmt.Errorf("target '%s' selects on undeclared condition '%s'", t.Label, branch.Condition)
				}
				node.conditions = append(node.conditions, to)
			}
		}
	}

	if t.Kind == target.KindOutputFile {
		if err := addEdge(deps.Key{Kind: deps.OutputFileRuleDependency}, t.OutputFile.GeneratingRule); err != nil {
			return err
		}
	}

	if t.Kind == target.KindPackageGroup {
		for _, include := range t.PackageGroup.Includes {
			if err := addEdge(deps.Key{Kind: deps.VisibilityDependency}, include); err != nil {
				return err
			}
		}
	}

	if t.Visibility.Kind == target.VisibilityGroups {
		for _, group := range t.Visibility.Groups {
			if err := addEdge(deps.Key{Kind: deps.VisibilityDependency}, group); err != nil {
				return err
			}
		}
	}
	return nil
}

// detectCycles runs a depth-first search over the dependent edges, with the
// usual permanent and temporary marker sets.
func (g *Graph) detectCycles() error {
	permanent := make(map[string]bool)
	temporary := make(map[string]bool)

	var visit func(n *Node) error
	visit = func(n *Node) error {
		if permanent[n.ID] {
			return nil
		}
		if temporary[n.ID] {
			return fmt.Errorf("cycle detected involving target '%s'", n.ID)
		}
		temporary[n.ID] = true
		for _, dependent := range n.dependents {
			if err := visit(dependent); err != nil {
				return err
			}
		}
		delete(temporary, n.ID)
		permanent[n.ID] = true
		return nil
	}

	for _, n := range g.Nodes {
		if !permanent[n.ID] {
			if err := visit(n); err != nil {
				return err
			}
		}
	}
	return nil
}
