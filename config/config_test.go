package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docforge-build/docforge/target"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "build.star")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func testVars() target.Vars {
	return target.Vars{
		"flavor":    "stable",
		"version":   "2.100",
		"gen":       "generated",
		"outdir":    "generated/stable",
		"timestamp": "now",
	}
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
target(
    name = "assets",
    inputs = ["css/*.css"],
    outputs = ["{outdir}/style.min.css"],
    shell = "cat css/*.css > {outdir}/style.min.css",
)

target(
    name = "docs",
    deps = ["assets"],
    phony = True,
)

repo(
    name = "stdlib",
    url = "https://example.org/stdlib.git",
    rev = "v{version}",
    dir = "{gen}/stdlib",
)

rule(
    target = "{outdir}/%.html",
    source = "spec/%.dd",
    cmd = ["ddoc", "-o", "{target}", "{source}"],
)
`)

	cfg, err := Load(path, testVars())
	require.NoError(t, err)

	assets, ok := cfg.Targets.Get("assets")
	require.True(t, ok)
	assert.Equal(t, []string{"generated/stable/style.min.css"}, assets.Outputs)
	assert.Equal(t, "cat css/*.css > generated/stable/style.min.css", assets.Action.Shell)

	docs, ok := cfg.Targets.Get("docs")
	require.True(t, ok)
	assert.True(t, docs.Phony)
	assert.Nil(t, docs.Action)

	stdlib, ok := cfg.Targets.Get("stdlib")
	require.True(t, ok)
	require.NotNil(t, stdlib.Fetch)
	assert.Equal(t, "v2.100", stdlib.Fetch.Rev)
	assert.Equal(t, "generated/stdlib", stdlib.Fetch.Dir)

	require.Equal(t, 1, cfg.Rules.Len())
	syn, ok, err := cfg.Rules.Synthesize("generated/stable/intro.html")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"ddoc", "-o", "generated/stable/intro.html", "spec/intro.dd"}, syn.Action.Argv)
}

func TestLoadVarsVisibleToStarlark(t *testing.T) {
	path := writeConfig(t, `
target(
    name = "versioned-" + vars["version"],
    phony = True,
)
`)
	cfg, err := Load(path, testVars())
	require.NoError(t, err)
	_, ok := cfg.Targets.Get("versioned-2.100")
	assert.True(t, ok)
}

func TestLoadDuplicateTarget(t *testing.T) {
	path := writeConfig(t, `
target(name = "docs", phony = True)
target(name = "docs", phony = True)
`)
	_, err := Load(path, testVars())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestLoadUnknownVariable(t *testing.T) {
	path := writeConfig(t, `
target(name = "docs", outputs = ["{nope}/index.html"], cmd = ["true"])
`)
	_, err := Load(path, testVars())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "{nope}")
}

func TestLoadEmptyConfig(t *testing.T) {
	path := writeConfig(t, `x = 1`)
	_, err := Load(path, testVars())
	require.Error(t, err)
}

func TestLoadModules(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "pages.star"), []byte(`
def page(name):
    target(name = name, phony = True)
`), 0o644))
	path := filepath.Join(dir, "build.star")
	require.NoError(t, os.WriteFile(path, []byte(`
load("pages.star", "page")
page("index")
page("download")
`), 0o644))

	cfg, err := Load(path, testVars())
	require.NoError(t, err)
	_, ok := cfg.Targets.Get("index")
	assert.True(t, ok)
	_, ok = cfg.Targets.Get("download")
	assert.True(t, ok)
}
