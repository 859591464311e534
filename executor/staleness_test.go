package executor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docforge-build/docforge/fs/mock"
	"github.com/docforge-build/docforge/target"
)

var base = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func TestStaleMissingOutput(t *testing.T) {
	fsys := mock.NewMockFileSystem()
	c := &stalenessChecker{fs: fsys}

	tgt := &target.Target{
		Name:    "page",
		Outputs: []string{"site/page.html"},
		Action:  &target.Action{Argv: []string{"ddoc"}},
	}
	stale, err := c.stale(tgt, nil)
	require.NoError(t, err)
	assert.True(t, stale)
}

func TestStaleOlderThanInput(t *testing.T) {
	fsys := mock.NewMockFileSystem()
	fsys.WriteFileAt("spec/page.dd", []byte("src"), base.Add(time.Hour))
	fsys.WriteFileAt("site/page.html", []byte("out"), base)
	c := &stalenessChecker{fs: fsys}

	tgt := &target.Target{
		Name:     "page",
		FileDeps: []string{"spec/page.dd"},
		Outputs:  []string{"site/page.html"},
		Action:   &target.Action{Argv: []string{"ddoc"}},
	}
	stale, err := c.stale(tgt, nil)
	require.NoError(t, err)
	assert.True(t, stale)
}

func TestFreshNewerThanInput(t *testing.T) {
	fsys := mock.NewMockFileSystem()
	fsys.WriteFileAt("spec/page.dd", []byte("src"), base)
	fsys.WriteFileAt("site/page.html", []byte("out"), base.Add(time.Hour))
	c := &stalenessChecker{fs: fsys}

	tgt := &target.Target{
		Name:     "page",
		FileDeps: []string{"spec/page.dd"},
		Outputs:  []string{"site/page.html"},
		Action:   &target.Action{Argv: []string{"ddoc"}},
	}
	stale, err := c.stale(tgt, nil)
	require.NoError(t, err)
	assert.False(t, stale)
}

// Equal timestamps are fresh: a dependency must be strictly newer to force a
// rebuild.
func TestEqualTimestampsFresh(t *testing.T) {
	fsys := mock.NewMockFileSystem()
	fsys.WriteFileAt("spec/page.dd", []byte("src"), base)
	fsys.WriteFileAt("site/page.html", []byte("out"), base)
	c := &stalenessChecker{fs: fsys}

	tgt := &target.Target{
		Name:     "page",
		FileDeps: []string{"spec/page.dd"},
		Outputs:  []string{"site/page.html"},
		Action:   &target.Action{Argv: []string{"ddoc"}},
	}
	stale, err := c.stale(tgt, nil)
	require.NoError(t, err)
	assert.False(t, stale)
}

func TestPhonyAlwaysStale(t *testing.T) {
	c := &stalenessChecker{fs: mock.NewMockFileSystem()}
	stale, err := c.stale(&target.Target{Name: "test", Phony: true}, nil)
	require.NoError(t, err)
	assert.True(t, stale)
}

func TestStaleAgainstDependencyTargetOutputs(t *testing.T) {
	fsys := mock.NewMockFileSystem()
	fsys.WriteFileAt("gen/api.json", []byte("db"), base.Add(time.Hour))
	fsys.WriteFileAt("site/api.html", []byte("out"), base)
	c := &stalenessChecker{fs: fsys}

	dep := &target.Target{Name: "api-db", Outputs: []string{"gen/api.json"}}
	tgt := &target.Target{
		Name:       "api-docs",
		TargetDeps: []string{"api-db"},
		Outputs:    []string{"site/api.html"},
		Action:     &target.Action{Argv: []string{"apidoc"}},
	}
	stale, err := c.stale(tgt, []*target.Target{dep})
	require.NoError(t, err)
	assert.True(t, stale)
}

// Phony dependencies do not propagate staleness by themselves.
func TestPhonyDependencyDoesNotForceRebuild(t *testing.T) {
	fsys := mock.NewMockFileSystem()
	fsys.WriteFileAt("site/page.html", []byte("out"), base)
	c := &stalenessChecker{fs: fsys}

	dep := &target.Target{Name: "group", Phony: true}
	tgt := &target.Target{
		Name:       "page",
		TargetDeps: []string{"group"},
		Outputs:    []string{"site/page.html"},
		Action:     &target.Action{Argv: []string{"ddoc"}},
	}
	stale, err := c.stale(tgt, []*target.Target{dep})
	require.NoError(t, err)
	assert.False(t, stale)
}

// A directory dependency is stale if any contained file is newer.
func TestDirectoryDependency(t *testing.T) {
	fsys := mock.NewMockFileSystem()
	fsys.WriteFileAt("repos/stdlib/a.d", []byte("a"), base)
	fsys.WriteFileAt("repos/stdlib/deep/b.d", []byte("b"), base.Add(2*time.Hour))
	fsys.WriteFileAt("gen/api.json", []byte("db"), base.Add(time.Hour))
	c := &stalenessChecker{fs: fsys}

	tgt := &target.Target{
		Name:     "api-db",
		FileDeps: []string{"repos/stdlib"},
		Outputs:  []string{"gen/api.json"},
		Action:   &target.Action{Argv: []string{"apidoc"}},
	}
	stale, err := c.stale(tgt, nil)
	require.NoError(t, err)
	assert.True(t, stale)
}

func TestFetchTargetStaleOnlyWhenMissing(t *testing.T) {
	fsys := mock.NewMockFileSystem()
	c := &stalenessChecker{fs: fsys}
	tgt := &target.Target{
		Name:  "stdlib",
		Fetch: &target.FetchSpec{URL: "u", Dir: "repos/stdlib"},
	}

	stale, err := c.stale(tgt, nil)
	require.NoError(t, err)
	assert.True(t, stale)

	fsys.WriteFileAt("repos/stdlib/readme", []byte("x"), base)
	stale, err = c.stale(tgt, nil)
	require.NoError(t, err)
	assert.False(t, stale)
}

// Scenario from the staleness contract: B older than A rebuilds only B;
// missing C rebuilds B's fresh sibling chain in order.
func TestStaleScenario(t *testing.T) {
	fsys := mock.NewMockFileSystem()
	fsys.WriteFileAt("a.out", []byte("a"), base.Add(time.Hour))
	fsys.WriteFileAt("b.out", []byte("b"), base)
	c := &stalenessChecker{fs: fsys}

	a := &target.Target{Name: "a", Outputs: []string{"a.out"}, Action: &target.Action{Argv: []string{"gen-a"}}}
	b := &target.Target{Name: "b", TargetDeps: []string{"a"}, Outputs: []string{"b.out"}, Action: &target.Action{Argv: []string{"gen-b"}}}
	cTgt := &target.Target{Name: "c", TargetDeps: []string{"b"}, Outputs: []string{"c.out"}, Action: &target.Action{Argv: []string{"gen-c"}}}

	stale, err := c.stale(a, nil)
	require.NoError(t, err)
	assert.False(t, stale, "a is fresh")

	stale, err = c.stale(b, []*target.Target{a})
	require.NoError(t, err)
	assert.True(t, stale, "b is older than a")

	stale, err = c.stale(cTgt, []*target.Target{b})
	require.NoError(t, err)
	assert.True(t, stale, "c is missing")
}
