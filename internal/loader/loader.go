// Package loader parses BUILD.hcl files into build-graph targets. Each BUILD
// file defines the targets of one package; the package path is the file's
// directory relative to the workspace root.
package loader

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"

	"github.com/vk/buildgrid/internal/ctxlog"
	"github.com/vk/buildgrid/internal/fsutil"
	"github.com/vk/buildgrid/internal/label"
	"github.com/vk/buildgrid/internal/ruleclass"
	"github.com/vk/buildgrid/internal/target"
)

// buildFileName is the file each package declares its targets in.
const buildFileName = "BUILD.hcl"

// ClassResolver supplies rule class definitions while BUILD files load.
type ClassResolver interface {
	RuleClass(name string) (*ruleclass.RuleClass, bool)
}

// Workspace is the loaded target universe.
type Workspace struct {
	// Targets holds every target in declaration order, including the
	// output-file targets implied by rule outs.
	Targets []*target.Target

	byLabel map[string]*target.Target
}

// Target looks up a target by label.
func (w *Workspace) Target(l label.Label) (*target.Target, bool) {
	t, ok := w.byLabel[l.String()]
	return t, ok
}

func (w *Workspace) add(t *target.Target) error {
	key := t.Label.String()
	if _, exists := w.byLabel[key]; exists {
		return fmt.Errorf("duplicate target %s", key)
	}
	w.byLabel[key] = t
	w.Targets = append(w.Targets, t)
	return nil
}

// Load walks rootPath for BUILD.hcl files and parses every target they
// declare.
func Load(ctx context.Context, rootPath string, classes ClassResolver) (*Workspace, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("Loading BUILD files.", "path", rootPath)

	filePaths, err := fsutil.FindFilesByName(rootPath, buildFileName)
	if err != nil {
		return nil, fmt.Errorf("walking workspace %s: %w", rootPath, err)
	}
	if len(filePaths) == 0 {
		return nil, fmt.Errorf("no %s files found under %s", buildFileName, rootPath)
	}

	ws := &Workspace{byLabel: make(map[string]*target.Target)}
	parser := hclparse.NewParser()
	for _, filePath := range filePaths {
		pkg, err := packagePath(rootPath, filePath)
		if err != nil {
			return nil, err
		}
		hclFile, diags := parser.ParseHCLFile(filePath)
		if diags.HasErrors() {
			return nil, fmt.Errorf("parsing %s: %w", filePath, diags)
		}
		if err := loadFile(ws, pkg, filePath, hclFile, classes); err != nil {
			return nil, fmt.Errorf("%s: %w", filePath, err)
		}
	}

	logger.Info("Workspace loaded.", "build_files", len(filePaths), "targets", len(ws.Targets))
	return ws, nil
}

func packagePath(rootPath, filePath string) (string, error) {
	rel, err := filepath.Rel(rootPath, filepath.Dir(filePath))
	if err != nil {
		return "", err
	}
	if rel == "." {
		return "", nil
	}
	return filepath.ToSlash(rel), nil
}

// buildFile is the top-level schema of a BUILD.hcl file.
type buildFile struct {
	Rules             []*ruleBlock             `hcl:"rule,block"`
	PackageGroups     []*packageGroupBlock     `hcl:"package_group,block"`
	EnvironmentGroups []*environmentGroupBlock `hcl:"environment_group,block"`
	SourceFiles       []*sourceFileBlock       `hcl:"source_file,block"`
}

type ruleBlock struct {
	Class      string         `hcl:"class,label"`
	Name       string         `hcl:"name,label"`
	Attrs      *attrsBlock    `hcl:"attrs,block"`
	Selects    []*selectBlock `hcl:"select,block"`
	Outs       []string       `hcl:"outs,optional"`
	Visibility []string       `hcl:"visibility,optional"`
}

type attrsBlock struct {
	Body hcl.Body `hcl:",remain"`
}

type selectBlock struct {
	Attribute string        `hcl:"attribute,label"`
	Branches  []*onBlock    `hcl:"on,block"`
	Default   *defaultBlock `hcl:"default,block"`
}

type onBlock struct {
	Condition string         `hcl:"condition,label"`
	Value     hcl.Expression `hcl:"value"`
}

type defaultBlock struct {
	Value hcl.Expression `hcl:"value"`
}

type packageGroupBlock struct {
	Name       string   `hcl:"name,label"`
	Packages   []string `hcl:"packages,optional"`
	Includes   []string `hcl:"includes,optional"`
	Visibility []string `hcl:"visibility,optional"`
}

type environmentGroupBlock struct {
	Name         string   `hcl:"name,label"`
	Environments []string `hcl:"environments"`
	Defaults     []string `hcl:"defaults,optional"`
}

type sourceFileBlock struct {
	Name       string   `hcl:"name,label"`
	Path       string   `hcl:"path"`
	Visibility []string `hcl:"visibility,optional"`
}

func loadFile(ws *Workspace, pkg, filePath string, file *hcl.File, classes ClassResolver) error {
	var bf buildFile
	if diags := gohcl.DecodeBody(file.Body, nil, &bf); diags.HasErrors() {
		return fmt.Errorf("decoding: %w", diags)
	}
	location := hcl.Range{Filename: filePath}

	for _, block := range bf.Rules {
		if err := loadRule(ws, pkg, location, block, classes); err != nil {
			return err
		}
	}
	for _, block := range bf.PackageGroups {
		if err := loadPackageGroup(ws, pkg, location, block); err != nil {
			return err
		}
	}
	for _, block := range bf.EnvironmentGroups {
		if err := loadEnvironmentGroup(ws, pkg, location, block); err != nil {
			return err
		}
	}
	for _, block := range bf.SourceFiles {
		vis, err := parseVisibility(pkg, block.Visibility)
		if err != nil {
			return fmt.Errorf("source file '%s': %w", block.Name, err)
		}
		if err := ws.add(&target.Target{
			Label:      label.Label{Package: pkg, Name: block.Name},
			Kind:       target.KindInputFile,
			Visibility: vis,
			Location:   location,
			InputFile:  &target.InputFile{Path: block.Path},
		}); err != nil {
			return err
		}
	}
	return nil
}

func loadRule(ws *Workspace, pkg string, location hcl.Range, block *ruleBlock, classes ClassResolver) error {
	class, ok := classes.RuleClass(block.Class)
	if !ok {
		return fmt.Errorf("rule '%s': unknown rule class '%s'", block.Name, block.Class)
	}
	ruleLabel := label.Label{Package: pkg, Name: block.Name}

	attrs, err := decodeAttrValues(pkg, block, class)
	if err != nil {
		return fmt.Errorf("rule '%s': %w", block.Name, err)
	}

	var outs []label.Label
	for _, out := range block.Outs {
		outs = append(outs, label.Label{Package: pkg, Name: out})
	}

	vis, err := parseVisibility(pkg, block.Visibility)
	if err != nil {
		return fmt.Errorf("rule '%s': %w", block.Name, err)
	}

	if err := ws.add(&target.Target{
		Label:      ruleLabel,
		Kind:       target.KindRule,
		Visibility: vis,
		Location:   location,
		Rule:       &target.Rule{Class: class, Attrs: attrs, Outputs: outs},
	}); err != nil {
		return err
	}

	// Each declared out becomes its own output-file target, visible wherever
	// the generating rule is.
	for _, out := range outs {
		if err := ws.add(&target.Target{
			Label:      out,
			Kind:       target.KindOutputFile,
			Visibility: vis,
			Location:   location,
			OutputFile: &target.OutputFile{GeneratingRule: ruleLabel},
		}); err != nil {
			return err
		}
	}
	return nil
}

func loadPackageGroup(ws *Workspace, pkg string, location hcl.Range, block *packageGroupBlock) error {
	var specs []label.PackageSpecification
	for _, pattern := range block.Packages {
		spec, err := label.ParseSpecification(pattern)
		if err != nil {
			return fmt.Errorf("package group '%s': %w", block.Name, err)
		}
		specs = append(specs, spec)
	}
	var includes []label.Label
	for _, include := range block.Includes {
		l, err := parseLabelIn(pkg, include)
		if err != nil {
			return fmt.Errorf("package group '%s': %w", block.Name, err)
		}
		includes = append(includes, l)
	}
	vis, err := parseVisibility(pkg, block.Visibility)
	if err != nil {
		return fmt.Errorf("package group '%s': %w", block.Name, err)
	}
	return ws.add(&target.Target{
		Label:      label.Label{Package: pkg, Name: block.Name},
		Kind:       target.KindPackageGroup,
		Visibility: vis,
		Location:   location,
		PackageGroup: &target.PackageGroup{
			Specs:    label.PackageGroupContents{Specifications: specs},
			Includes: includes,
		},
	})
}

func loadEnvironmentGroup(ws *Workspace, pkg string, location hcl.Range, block *environmentGroupBlock) error {
	environments, err := parseLabelsIn(pkg, block.Environments)
	if err != nil {
		return fmt.Errorf("environment group '%s': %w", block.Name, err)
	}
	defaults, err := parseLabelsIn(pkg, block.Defaults)
	if err != nil {
		return fmt.Errorf("environment group '%s': %w", block.Name, err)
	}
	return ws.add(&target.Target{
		Label: label.Label{Package: pkg, Name: block.Name},
		Kind:  target.KindEnvironmentGroup,
		// Environment groups are package-internal machinery.
		Visibility:       target.Private(),
		Location:         location,
		EnvironmentGroup: &target.EnvironmentGroup{Environments: environments, Defaults: defaults},
	})
}

// parseLabelIn resolves a label string relative to the declaring package:
// ":name" is package-local, "//pkg:name" is absolute.
func parseLabelIn(pkg, s string) (label.Label, error) {
	if strings.HasPrefix(s, ":") {
		if len(s) == 1 {
			return label.Label{}, fmt.Errorf("label %q has an empty target name", s)
		}
		return label.Label{Package: pkg, Name: s[1:]}, nil
	}
	return label.Parse(s)
}

func parseLabelsIn(pkg string, in []string) ([]label.Label, error) {
	var out []label.Label
	for _, s := range in {
		l, err := parseLabelIn(pkg, s)
		if err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, nil
}
