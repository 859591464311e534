package executor

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/docforge-build/docforge/target"
)

// mkTable builds a table from name -> target deps; every target is phony so
// structural tests need no filesystem.
func mkTable(t *testing.T, deps map[string][]string) *target.Table {
	t.Helper()
	tb := target.NewTable()
	for name, d := range deps {
		require.NoError(t, tb.Add(&target.Target{Name: name, TargetDeps: d, Phony: true}))
	}
	return tb
}

func indexOf(order []*target.Target, name string) int {
	for i, t := range order {
		if t.Name == name {
			return i
		}
	}
	return -1
}

func TestPlanTopologicalOrder(t *testing.T) {
	deps := map[string][]string{
		"all":     {"docs", "pdf"},
		"docs":    {"api", "assets"},
		"pdf":     {"assets"},
		"api":     {"stdlib"},
		"assets":  {},
		"stdlib":  {},
		"unasked": {},
	}
	g := NewGraph(mkTable(t, deps), nil)

	plan, err := g.Plan([]string{"all"})
	require.NoError(t, err)

	// Every dependency appears strictly before its dependent.
	for name, d := range deps {
		if name == "unasked" {
			continue
		}
		for _, dep := range d {
			assert.Less(t, indexOf(plan.Order, dep), indexOf(plan.Order, name),
				"%s must precede %s", dep, name)
		}
	}
	// Unrequested targets are not part of the plan.
	assert.Equal(t, -1, indexOf(plan.Order, "unasked"))
	assert.Len(t, plan.Order, 6)
}

func TestPlanSharedDependencyDeduplicated(t *testing.T) {
	g := NewGraph(mkTable(t, map[string][]string{
		"a":      {"shared"},
		"b":      {"shared"},
		"shared": {},
	}), nil)

	plan, err := g.Plan([]string{"a", "b"})
	require.NoError(t, err)
	assert.Len(t, plan.Order, 3)
}

func TestPlanUnknownTarget(t *testing.T) {
	g := NewGraph(mkTable(t, map[string][]string{"docs": {}}), nil)

	_, err := g.Plan([]string{"nope"})
	var unknown *UnknownTargetError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "nope", unknown.Name)
}

func TestPlanUnknownDependency(t *testing.T) {
	g := NewGraph(mkTable(t, map[string][]string{"docs": {"missing"}}), nil)

	_, err := g.Plan([]string{"docs"})
	var unknown *UnknownTargetError
	require.ErrorAs(t, err, &unknown)
	assert.Equal(t, "missing", unknown.Name)
	assert.Equal(t, "docs", unknown.Via)
}

func TestPlanCycle(t *testing.T) {
	g := NewGraph(mkTable(t, map[string][]string{
		"a": {"b"},
		"b": {"a"},
	}), nil)

	_, err := g.Plan([]string{"a"})
	var cycle *CycleError
	require.ErrorAs(t, err, &cycle)
	require.Len(t, cycle.Chain, 3)
	assert.Equal(t, cycle.Chain[0], cycle.Chain[2])
	assert.Contains(t, err.Error(), "dependency cycle")
}

func TestPlanSelfCycle(t *testing.T) {
	g := NewGraph(mkTable(t, map[string][]string{"a": {"a"}}), nil)

	_, err := g.Plan([]string{"a"})
	var cycle *CycleError
	require.ErrorAs(t, err, &cycle)
}

func TestPlanSynthesizesFromRules(t *testing.T) {
	rules := target.NewRuleSet()
	require.NoError(t, rules.Add(&target.Rule{
		TargetPattern: "site/%.html",
		SourcePattern: "spec/%.dd",
		Action:        &target.Action{Argv: []string{"ddoc", "{source}"}},
	}))
	g := NewGraph(target.NewTable(), rules)

	plan, err := g.Plan([]string{"site/intro.html"})
	require.NoError(t, err)
	require.Len(t, plan.Order, 1)
	assert.True(t, plan.Order[0].Synthesized)
}

func TestWriteDot(t *testing.T) {
	g := NewGraph(mkTable(t, map[string][]string{
		"all":  {"docs"},
		"docs": {},
	}), nil)

	var buf bytes.Buffer
	require.NoError(t, g.WriteDot(&buf))
	out := buf.String()
	assert.Contains(t, out, `"all" -> "docs";`)
	assert.Contains(t, out, "digraph targets {")
}
