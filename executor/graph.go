package executor

import (
	"fmt"
	"io"

	"github.com/pkg/errors"

	"github.com/docforge-build/docforge/target"
)

// Graph resolves requested names against the declared target table plus the
// registered pattern rules. Both are read-only after construction; everything
// mutable about a build run lives in the Executor.
type Graph struct {
	table *target.Table
	rules *target.RuleSet
}

func NewGraph(table *target.Table, rules *target.RuleSet) *Graph {
	if rules == nil {
		rules = target.NewRuleSet()
	}
	return &Graph{table: table, rules: rules}
}

// Table exposes the declared targets (for listing and the DOT dump).
func (g *Graph) Table() *target.Table { return g.table }

// Lookup finds a declared target or synthesizes one from a pattern rule.
func (g *Graph) Lookup(name, via string) (*target.Target, error) {
	if t, ok := g.table.Get(name); ok {
		return t, nil
	}
	t, ok, err := g.rules.Synthesize(name)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &UnknownTargetError{Name: name, Via: via}
	}
	return t, nil
}

// Plan is the resolved build order for one request set: every transitively
// reachable target, dependencies strictly before dependents.
type Plan struct {
	Order   []*target.Target
	Targets map[string]*target.Target
}

// Plan resolves the requests, walks the transitive closure depth-first and
// returns a topological order. Cycles are rejected before any action runs,
// reporting the offending chain.
func (g *Graph) Plan(requests []string) (*Plan, error) {
	p := &Plan{Targets: make(map[string]*target.Target)}

	const (
		white = iota // unvisited
		grey         // on the current DFS stack
		black        // done
	)
	color := make(map[string]int)
	var stack []string

	var visit func(name, via string) error
	visit = func(name, via string) error {
		switch color[name] {
		case black:
			return nil
		case grey:
			// Slice the stack from the first occurrence to surface the cycle
			// members in dependency order.
			for i, n := range stack {
				if n == name {
					return &CycleError{Chain: append(append([]string(nil), stack[i:]...), name)}
				}
			}
			return &CycleError{Chain: []string{name, name}}
		}

		t, err := g.Lookup(name, via)
		if err != nil {
			return err
		}
		color[name] = grey
		stack = append(stack, name)
		for _, dep := range t.TargetDeps {
			if err := visit(dep, name); err != nil {
				return err
			}
		}
		stack = stack[:len(stack)-1]
		color[name] = black
		p.Targets[name] = t
		p.Order = append(p.Order, t)
		return nil
	}

	for _, name := range requests {
		if err := visit(name, ""); err != nil {
			return nil, err
		}
	}
	if len(p.Order) == 0 {
		return nil, errors.New("no targets requested")
	}
	return p, nil
}

// WriteDot emits the declared target table as a DOT digraph.
func (g *Graph) WriteDot(w io.Writer) error {
	if _, err := fmt.Fprintln(w, "digraph targets {"); err != nil {
		return err
	}
	for _, name := range g.table.Names() {
		t, _ := g.table.Get(name)
		shape := "box"
		if t.Phony {
			shape = "ellipse"
		}
		fmt.Fprintf(w, "  %q [shape=%s];\n", name, shape)
		for _, dep := range t.TargetDeps {
			fmt.Fprintf(w, "  %q -> %q;\n", name, dep)
		}
	}
	_, err := fmt.Fprintln(w, "}")
	return err
}
