package executor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/docforge-build/docforge/fs"
	"github.com/docforge-build/docforge/target"
)

// Options tune one build invocation.
type Options struct {
	// Jobs bounds how many actions run concurrently. Default 1 (sequential).
	Jobs int

	// FailFast stops starting new actions after the first failure. Actions
	// already running are allowed to finish either way.
	FailFast bool
}

// Executor runs build requests against an immutable graph. Everything mutable
// about a run (statuses, failures) is scoped to one Execute call.
type Executor struct {
	graph    *Graph
	checker  *stalenessChecker
	runner   Runner
	board    *StatusBoard
	log      zerolog.Logger
	jobs     int64
	failFast bool
}

func New(graph *Graph, fsys fs.FileSystem, runner Runner, board *StatusBoard, log zerolog.Logger, opts Options) *Executor {
	jobs := opts.Jobs
	if jobs < 1 {
		jobs = 1
	}
	if board == nil {
		board = NewStatusBoard()
	}
	return &Executor{
		graph:    graph,
		checker:  &stalenessChecker{fs: fsys},
		runner:   runner,
		board:    board,
		log:      log,
		jobs:     int64(jobs),
		failFast: opts.FailFast,
	}
}

// Board exposes the live status board for the UI.
func (e *Executor) Board() *StatusBoard { return e.board }

type node struct {
	t     *target.Target
	entry *Entry
	done  chan struct{}
}

// Execute resolves the requested targets, rebuilds the stale ones in
// dependency order and returns the structured report. Unknown targets and
// cycles fail before any action starts. The returned error is non-nil iff
// resolution failed or any action failed.
func (e *Executor) Execute(ctx context.Context, requests []string) (*Report, error) {
	plan, err := e.graph.Plan(requests)
	if err != nil {
		return nil, err
	}

	nodes := make(map[string]*node, len(plan.Order))
	for _, t := range plan.Order {
		nodes[t.Name] = &node{
			t:     t,
			entry: &Entry{Name: t.Name, Status: StatusPending},
			done:  make(chan struct{}),
		}
		e.board.register(t.Name)
	}

	sem := semaphore.NewWeighted(e.jobs)
	var stop atomic.Bool
	var wg sync.WaitGroup

	for _, t := range plan.Order {
		wg.Add(1)
		go func(n *node) {
			defer wg.Done()
			defer close(n.done)
			e.runNode(ctx, n, nodes, sem, &stop)
			e.board.setStatus(n.t.Name, n.entry.Status)
		}(nodes[t.Name])
	}
	wg.Wait()

	report := newReport()
	for _, t := range plan.Order {
		report.add(nodes[t.Name].entry)
	}
	return report, report.Err()
}

func (e *Executor) runNode(ctx context.Context, n *node, nodes map[string]*node, sem *semaphore.Weighted, stop *atomic.Bool) {
	// A target never starts before all its dependencies completed.
	deps := make([]*target.Target, 0, len(n.t.TargetDeps))
	for _, depName := range n.t.TargetDeps {
		dep := nodes[depName]
		select {
		case <-dep.done:
		case <-ctx.Done():
			n.entry.Status = StatusSkipped
			n.entry.Cause = "canceled"
			return
		}
		switch dep.entry.Status {
		case StatusFailed:
			n.entry.Status = StatusSkipped
			n.entry.Cause = dep.entry.Name
			return
		case StatusSkipped:
			n.entry.Status = StatusSkipped
			n.entry.Cause = dep.entry.Cause
			return
		}
		deps = append(deps, dep.t)
	}

	stale, err := e.checker.stale(n.t, deps)
	if err != nil {
		n.entry.Status = StatusFailed
		n.entry.Err = err
		e.recordFailure(n, stop)
		return
	}
	if !stale || (n.t.Action == nil && n.t.Fetch == nil) {
		e.log.Debug().Str("target", n.t.Name).Msg("up to date")
		n.entry.Status = StatusFresh
		return
	}

	if err := sem.Acquire(ctx, 1); err != nil {
		n.entry.Status = StatusSkipped
		n.entry.Cause = "canceled"
		return
	}
	defer sem.Release(1)

	if e.failFast && stop.Load() {
		n.entry.Status = StatusSkipped
		n.entry.Cause = "fail-fast"
		return
	}

	e.board.setStatus(n.t.Name, StatusRunning)
	n.entry.Start = time.Now()
	err = e.runner.Run(ctx, n.t)
	n.entry.End = time.Now()

	if err != nil {
		n.entry.Status = StatusFailed
		n.entry.Err = err
		e.recordFailure(n, stop)
		return
	}
	e.log.Info().Str("target", n.t.Name).Dur("took", n.entry.End.Sub(n.entry.Start)).Msg("built")
	n.entry.Status = StatusBuilt
}

func (e *Executor) recordFailure(n *node, stop *atomic.Bool) {
	e.log.Error().Str("target", n.t.Name).Err(n.entry.Err).Msg("target failed")
	if e.failFast {
		stop.Store(true)
	}
}
