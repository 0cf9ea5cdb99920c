package app

import (
	"context"
	"fmt"
	"sort"

	"github.com/vk/buildgrid/internal/analysis"
	"github.com/vk/buildgrid/internal/ctxlog"
	"github.com/vk/buildgrid/internal/events"
	"github.com/vk/buildgrid/internal/graphrun"
	"github.com/vk/buildgrid/internal/label"
)

// Run builds the dependency graph and evaluates it.
func (a *App) Run(ctx context.Context, cfg *Config) error {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	a.logger.Debug("App.Run method started.")

	requested, err := requestedLabels(cfg.Targets)
	if err != nil {
		return err
	}

	graph, err := graphrun.Build(ctx, a.workspace)
	if err != nil {
		return fmt.Errorf("failed to build dependency graph: %w", err)
	}
	a.logger.Debug("Dependency graph built.", "node_count", len(graph.Nodes))

	for _, l := range requested {
		if _, ok := graph.Nodes[l.String()]; !ok {
			return fmt.Errorf("requested target '%s' is not declared in the workspace", l)
		}
	}

	evaluator := analysis.New(a.registry, nil)
	runner := graphrun.NewRunner(evaluator, a.configuration, events.LogReporter{}, cfg.WorkerCount)
	a.logger.Info("Starting concurrent analysis.", "workers", cfg.WorkerCount)
	runErr := runner.Run(ctx, graph)

	a.report(graph, requested)
	if runErr != nil {
		return fmt.Errorf("analysis failed: %w", runErr)
	}
	a.logger.Info("Analysis finished.")
	return nil
}

func requestedLabels(targets []string) ([]label.Label, error) {
	var out []label.Label
	for _, s := range targets {
		l, err := label.Parse(s)
		if err != nil {
			return nil, fmt.Errorf("requested target %q: %w", s, err)
		}
		out = append(out, l)
	}
	return out, nil
}

// report summarizes the outcome of each requested target, or of every node
// when no explicit targets were given.
func (a *App) report(graph *graphrun.Graph, requested []label.Label) {
	var ids []string
	if len(requested) > 0 {
		for _, l := range requested {
			ids = append(ids, l.String())
		}
	} else {
		for id := range graph.Nodes {
			ids = append(ids, id)
		}
		sort.Strings(ids)
	}

	for _, id := range ids {
		node, ok := graph.Nodes[id]
		if !ok {
			continue
		}
		logger := a.logger.With("label", id)
		if node.Err != nil {
			logger.Error("Target failed.", "error", node.Err)
			continue
		}
		result := node.Result
		switch result.Kind {
		case analysis.Success:
			logger.Info("Target analyzed.",
				"providers", result.Target.Providers.Names(),
				"steps", len(result.Steps))
		case analysis.ErroredStub:
			logger.Warn("Target analyzed with tolerated failures.",
				"providers", result.Target.Providers.Names())
		default:
			logger.Error("Target has no result.", "kind", result.Kind.String())
		}
	}
}
