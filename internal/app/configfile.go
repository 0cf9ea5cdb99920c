package app

import (
	"context"
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/buildgrid/internal/buildconfig"
	"github.com/vk/buildgrid/internal/ctxlog"
)

// configFile is the schema of the optional configuration file: fragment
// blocks carrying option values, plus extension-alias declarations.
type configFile struct {
	Fragments []*fragmentBlock `hcl:"fragment,block"`
	Aliases   []*aliasBlock    `hcl:"alias,block"`
}

type fragmentBlock struct {
	Name string   `hcl:"name,label"`
	Body hcl.Body `hcl:",remain"`
}

type aliasBlock struct {
	Name     string `hcl:"name,label"`
	Fragment string `hcl:"fragment"`
}

// loadConfiguration parses the fragment file, if any, and builds the single
// top-level configuration for this run.
func loadConfiguration(ctx context.Context, path string, options buildconfig.Options) (*buildconfig.Configuration, error) {
	logger := ctxlog.FromContext(ctx)
	if path == "" {
		logger.Debug("No configuration file given, using an empty configuration.")
		return buildconfig.New(nil, nil, options), nil
	}

	parser := hclparse.NewParser()
	hclFile, diags := parser.ParseHCLFile(path)
	if diags.HasErrors() {
		return nil, fmt.Errorf("parsing configuration %s: %w", path, diags)
	}
	var cf configFile
	if diags := gohcl.DecodeBody(hclFile.Body, nil, &cf); diags.HasErrors() {
		return nil, fmt.Errorf("decoding configuration %s: %w", path, diags)
	}

	fragments := make(map[string]cty.Value, len(cf.Fragments))
	for _, block := range cf.Fragments {
		if _, dup := fragments[block.Name]; dup {
			return nil, fmt.Errorf("fragment '%s' declared twice in %s", block.Name, path)
		}
		attrs, diags := block.Body.JustAttributes()
		if diags.HasErrors() {
			return nil, fmt.Errorf("fragment '%s': %w", block.Name, diags)
		}
		values := map[string]cty.Value{}
		for name, attr := range attrs {
			value, diags := attr.Expr.Value(nil)
			if diags.HasErrors() {
				return nil, fmt.Errorf("fragment '%s', option '%s': %w", block.Name, name, diags)
			}
			values[name] = value
		}
		if len(values) == 0 {
			fragments[block.Name] = cty.EmptyObjectVal
		} else {
			fragments[block.Name] = cty.ObjectVal(values)
		}
	}

	aliases := make(map[string]string, len(cf.Aliases))
	for _, block := range cf.Aliases {
		aliases[block.Name] = block.Fragment
	}

	logger.Debug("Configuration loaded.", "fragments", len(fragments), "aliases", len(aliases))
	return buildconfig.New(fragments, aliases, options), nil
}
