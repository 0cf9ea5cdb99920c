// Package registry is the glue of the rule-definition layer. It stores the
// mappings between the class names used in BUILD files and manifests and the
// compiled Go body evaluators that implement them, alongside the parsed class
// definitions themselves. After startup the registry is validated so the Go
// code and the manifests are in sync before any analysis begins.
package registry

import (
	"fmt"
	"log/slog"
	"sort"

	"github.com/vk/buildgrid/internal/analysis"
	"github.com/vk/buildgrid/internal/ruleclass"
)

// Registry holds every known rule and aspect class plus the native body
// evaluators they bind to. Populate during startup, then treat as read-only.
type Registry struct {
	ruleBodies    map[string]analysis.NativeRuleBody
	aspectBodies  map[string]analysis.NativeAspectBody
	ruleClasses   map[string]*ruleclass.RuleClass
	aspectClasses map[string]*ruleclass.AspectClass
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		ruleBodies:    make(map[string]analysis.NativeRuleBody),
		aspectBodies:  make(map[string]analysis.NativeAspectBody),
		ruleClasses:   make(map[string]*ruleclass.RuleClass),
		aspectClasses: make(map[string]*ruleclass.AspectClass),
	}
}

// RegisterRuleBody registers a native rule-body evaluator under a name.
func (r *Registry) RegisterRuleBody(name string, body analysis.NativeRuleBody) {
	if _, exists := r.ruleBodies[name]; exists {
		panic(fmt.Sprintf("rule body evaluator with name '%s' already registered", name))
	}
	slog.Debug("Registering rule body evaluator.", "name", name)
	r.ruleBodies[name] = body
}

// RegisterAspectBody registers a native aspect-body evaluator under a name.
func (r *Registry) RegisterAspectBody(name string, body analysis.NativeAspectBody) {
	if _, exists := r.aspectBodies[name]; exists {
		panic(fmt.Sprintf("aspect body evaluator with name '%s' already registered", name))
	}
	slog.Debug("Registering aspect body evaluator.", "name", name)
	r.aspectBodies[name] = body
}

// RegisterRuleClass adds a rule class definition.
func (r *Registry) RegisterRuleClass(c *ruleclass.RuleClass) {
	if _, exists := r.ruleClasses[c.Name]; exists {
		panic(fmt.Sprintf("rule class '%s' already registered", c.Name))
	}
	r.ruleClasses[c.Name] = c
}

// RegisterAspectClass adds an aspect class definition.
func (r *Registry) RegisterAspectClass(c *ruleclass.AspectClass) {
	if _, exists := r.aspectClasses[c.Name]; exists {
		panic(fmt.Sprintf("aspect class '%s' already registered", c.Name))
	}
	r.aspectClasses[c.Name] = c
}

// RuleBody implements analysis.BodyRegistry.
func (r *Registry) RuleBody(name string) (analysis.NativeRuleBody, bool) {
	body, ok := r.ruleBodies[name]
	return body, ok
}

// AspectBody implements analysis.BodyRegistry.
func (r *Registry) AspectBody(name string) (analysis.NativeAspectBody, bool) {
	body, ok := r.aspectBodies[name]
	return body, ok
}

// RuleClass looks up a rule class by name.
func (r *Registry) RuleClass(name string) (*ruleclass.RuleClass, bool) {
	c, ok := r.ruleClasses[name]
	return c, ok
}

// AspectClass looks up an aspect class by name.
func (r *Registry) AspectClass(name string) (*ruleclass.AspectClass, bool) {
	c, ok := r.aspectClasses[name]
	return c, ok
}

// Validate checks that every class binds to exactly one body evaluator and
// that every named native evaluator actually exists.
func (r *Registry) Validate() error {
	names := make([]string, 0, len(r.ruleClasses))
	for name := range r.ruleClasses {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		c := r.ruleClasses[name]
		if c.Interpreted() && c.FactoryName != "" {
			return fmt.Errorf("rule class '%s' declares both a native factory and an interpreted body", name)
		}
		if !c.Interpreted() {
			if c.FactoryName == "" {
				return fmt.Errorf("rule class '%s' declares no body evaluator", name)
			}
			if _, ok := r.ruleBodies[c.FactoryName]; !ok {
				return fmt.Errorf("rule class '%s' names unregistered body evaluator '%s'", name, c.FactoryName)
			}
		}
	}

	aspectNames := make([]string, 0, len(r.aspectClasses))
	for name := range r.aspectClasses {
		aspectNames = append(aspectNames, name)
	}
	sort.Strings(aspectNames)

	for _, name := range aspectNames {
		c := r.aspectClasses[name]
		if c.Interpreted() && c.FactoryName != "" {
			return fmt.Errorf("aspect class '%s' declares both a native factory and an interpreted body", name)
		}
		if !c.Interpreted() {
			if c.FactoryName == "" {
				return fmt.Errorf("aspect class '%s' declares no body evaluator", name)
			}
			if _, ok := r.aspectBodies[c.FactoryName]; !ok {
				return fmt.Errorf("aspect class '%s' names unregistered body evaluator '%s'", name, c.FactoryName)
			}
		}
	}
	return nil
}
