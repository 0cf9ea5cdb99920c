package loader

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zclconf/go-cty/cty"

	"github.com/vk/buildgrid/internal/ctxlog"
	"github.com/vk/buildgrid/internal/label"
	"github.com/vk/buildgrid/internal/ruleclass"
	"github.com/vk/buildgrid/internal/target"
)

func testContext() context.Context {
	return ctxlog.WithLogger(context.Background(), slog.New(slog.NewTextHandler(io.Discard, nil)))
}

// staticClasses resolves rule classes from a fixed map.
type staticClasses map[string]*ruleclass.RuleClass

func (c staticClasses) RuleClass(name string) (*ruleclass.RuleClass, bool) {
	class, ok := c[name]
	return class, ok
}

func writerClasses() staticClasses {
	return staticClasses{
		"writer": {
			Name: "writer",
			Attributes: map[string]ruleclass.Attribute{
				"content": {Name: "content", Type: cty.String},
				"deps":    {Name: "deps", Type: cty.List(cty.String), IsDep: true},
				"mode":    {Name: "mode", Type: cty.String},
			},
			FactoryName: "writer_body",
		},
	}
}

func writeWorkspace(t *testing.T, files map[string]string) string {
	t.Helper()
	root := t.TempDir()
	for rel, content := range files {
		path := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0750))
		require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	}
	return root
}

func TestLoad_RuleWithOutputsAndVisibility(t *testing.T) {
	t.Parallel()

	root := writeWorkspace(t, map[string]string{
		"app/BUILD.hcl": `
rule "writer" "hello" {
  attrs {
    content = "hi"
    deps    = [":data", "//lib:util"]
  }
  outs       = ["hello.txt"]
  visibility = ["//visibility:public"]
}

source_file "data" {
  path = "app/data.csv"
}
`,
	})

	ws, err := Load(testContext(), root, writerClasses())
	require.NoError(t, err)

	rule, ok := ws.Target(label.MustParse("//app:hello"))
	require.True(t, ok)
	require.Equal(t, target.KindRule, rule.Kind)
	assert.Equal(t, target.VisibilityPublic, rule.Visibility.Kind)
	assert.Equal(t, "writer", rule.Rule.Class.Name)

	// Dependency labels resolve relative to the declaring package.
	deps := rule.Rule.Attrs["deps"]
	assert.Equal(t, []label.Label{
		label.MustParse("//app:data"),
		label.MustParse("//lib:util"),
	}, deps.Labels)

	// The declared out became its own target.
	out, ok := ws.Target(label.MustParse("//app:hello.txt"))
	require.True(t, ok)
	require.Equal(t, target.KindOutputFile, out.Kind)
	assert.Equal(t, label.MustParse("//app:hello"), out.OutputFile.GeneratingRule)

	src, ok := ws.Target(label.MustParse("//app:data"))
	require.True(t, ok)
	require.Equal(t, target.KindInputFile, src.Kind)
	assert.Equal(t, "app/data.csv", src.InputFile.Path)
	// No visibility declared means private.
	assert.Equal(t, target.VisibilityPrivate, src.Visibility.Kind)
}

func TestLoad_SelectBlocks(t *testing.T) {
	t.Parallel()

	root := writeWorkspace(t, map[string]string{
		"app/BUILD.hcl": `
rule "writer" "hello" {
  attrs {
    content = "hi"
  }
  select "mode" {
    on "//cfg:fast" {
      value = "O2"
    }
    default {
      value = "O0"
    }
  }
}
`,
	})

	ws, err := Load(testContext(), root, writerClasses())
	require.NoError(t, err)

	rule, ok := ws.Target(label.MustParse("//app:hello"))
	require.True(t, ok)
	mode := rule.Rule.Attrs["mode"]
	require.True(t, mode.Value.IsSelect())
	require.Len(t, mode.Value.Select, 2)
	assert.Equal(t, label.MustParse("//cfg:fast"), mode.Value.Select[0].Condition)
	assert.Equal(t, cty.StringVal("O2"), mode.Value.Select[0].Value)
	assert.Equal(t, target.DefaultCondition, mode.Value.Select[1].Condition)
}

func TestLoad_PackageGroupAndVisibilityEntries(t *testing.T) {
	t.Parallel()

	root := writeWorkspace(t, map[string]string{
		"vis/BUILD.hcl": `
package_group "clients" {
  packages = ["//app/...", "//tools"]
  includes = ["//vis:extra", ":local"]
}

package_group "extra" {
  packages = ["//lib"]
}

package_group "local" {
  packages = ["//misc"]
}
`,
		"lib/BUILD.hcl": `
rule "writer" "util" {
  attrs {
    content = "x"
  }
  visibility = ["//vis:clients", "//app/..."]
}
`,
	})

	ws, err := Load(testContext(), root, writerClasses())
	require.NoError(t, err)

	group, ok := ws.Target(label.MustParse("//vis:clients"))
	require.True(t, ok)
	require.Equal(t, target.KindPackageGroup, group.Kind)
	assert.True(t, group.PackageGroup.Specs.Matches("app/server"))
	assert.True(t, group.PackageGroup.Specs.Matches("tools"))
	assert.False(t, group.PackageGroup.Specs.Matches("lib"))
	assert.Equal(t, []label.Label{
		label.MustParse("//vis:extra"),
		label.MustParse("//vis:local"),
	}, group.PackageGroup.Includes)

	util, ok := ws.Target(label.MustParse("//lib:util"))
	require.True(t, ok)
	require.Equal(t, target.VisibilityGroups, util.Visibility.Kind)
	assert.Equal(t, []label.Label{label.MustParse("//vis:clients")}, util.Visibility.Groups)
	assert.True(t, util.Visibility.Direct.Matches("app/x"))
}

func TestLoad_RejectsUnknownClassAndDuplicates(t *testing.T) {
	t.Parallel()

	root := writeWorkspace(t, map[string]string{
		"app/BUILD.hcl": `
rule "mystery" "x" {
}
`,
	})
	_, err := Load(testContext(), root, writerClasses())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown rule class")

	root = writeWorkspace(t, map[string]string{
		"app/BUILD.hcl": `
source_file "data" {
  path = "a"
}

source_file "data" {
  path = "b"
}
`,
	})
	_, err = Load(testContext(), root, writerClasses())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate target")
}

func TestLoad_NoBuildFilesIsAnError(t *testing.T) {
	t.Parallel()

	_, err := Load(testContext(), t.TempDir(), writerClasses())
	require.Error(t, err)
}
