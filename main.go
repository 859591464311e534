// docforge is the build orchestrator for a documentation website: it fetches
// pinned component repositories, runs the documentation toolchain over them
// through a declarative incremental target graph, and assembles the
// publishable artifacts.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/docforge-build/docforge/config"
	"github.com/docforge-build/docforge/executor"
	"github.com/docforge-build/docforge/fetch"
	"github.com/docforge-build/docforge/fs"
	"github.com/docforge-build/docforge/target"
	"github.com/docforge-build/docforge/ui"
)

// errBuildFailed distinguishes action failures (exit 1) from configuration
// and usage errors (exit 2).
var errBuildFailed = errors.New("build failed")

type Globals struct {
	Config   string   `short:"c" default:"build.star" help:"Target declaration file."`
	Flavor   string   `default:"prerelease" help:"Docs flavor: stable, prerelease or release."`
	Version  string   `help:"Version string substituted into targets (default: VERSION file or dev)."`
	Gen      string   `default:"generated" help:"Generated-artifacts directory."`
	Var      []string `help:"Extra variable overrides as key=value." placeholder:"KEY=VALUE"`
	Diffable bool     `help:"Suppress non-deterministic output so repeated builds are byte-identical."`
	Verbose  bool     `short:"v" help:"Enable debug logging."`

	log zerolog.Logger
}

var cli struct {
	Globals

	Build buildCmd `cmd:"" default:"withargs" help:"Build the requested targets (default: all)."`
	List  listCmd  `cmd:"" help:"List declared targets."`
	Graph graphCmd `cmd:"" help:"Dump the target table as a DOT digraph."`
	Clean cleanCmd `cmd:"" help:"Remove the generated-artifacts directory."`
	Fetch fetchCmd `cmd:"" help:"Fetch all pinned component repositories."`
	Watch watchCmd `cmd:"" help:"Rebuild the requested targets whenever an input changes."`
}

func (g *Globals) vars() (target.Vars, error) {
	flavor, err := config.ParseFlavor(g.Flavor)
	if err != nil {
		return nil, err
	}
	version := config.ResolveVersion(g.Version, g.Config)
	vars := config.BaseVars(flavor, version, g.Gen, g.Diffable)
	for _, kv := range g.Var {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, errors.Errorf("malformed --var %q (want key=value)", kv)
		}
		vars[k] = v
	}
	return vars, nil
}

func (g *Globals) load() (*executor.Graph, error) {
	vars, err := g.vars()
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(g.Config, vars)
	if err != nil {
		return nil, err
	}
	return executor.NewGraph(cfg.Targets, cfg.Rules), nil
}

type buildCmd struct {
	Targets  []string `arg:"" optional:"" help:"Targets to build." default:"all"`
	Jobs     int      `short:"j" default:"1" help:"Concurrent action limit."`
	FailFast bool     `help:"Stop starting new actions after the first failure."`
	DryRun   bool     `short:"n" help:"Report what would run without executing."`
	TUI      bool     `name:"tui" help:"Show the live status view instead of plain output."`
}

func (b *buildCmd) Run(g *Globals) error {
	graph, err := g.load()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := runBuild(ctx, g, graph, b.Targets, b.Jobs, b.FailFast, b.DryRun, b.TUI)
	if report != nil {
		report.Summary(os.Stdout)
	}
	if err != nil {
		if report != nil {
			return errors.Wrap(errBuildFailed, err.Error())
		}
		return err
	}
	return nil
}

// runBuild wires one executor invocation. With the TUI enabled, plain action
// output is routed into the status board only.
func runBuild(ctx context.Context, g *Globals, graph *executor.Graph, targets []string, jobs int, failFast, dryRun, tui bool) (*executor.Report, error) {
	board := executor.NewStatusBoard()

	var runner executor.Runner
	if dryRun {
		runner = executor.NewDryRunner(os.Stdout)
	} else {
		cr := &executor.CommandRunner{
			Out:      os.Stdout,
			Board:    board,
			Fetcher:  fetch.NewClient(g.log),
			Diffable: g.Diffable,
			Log:      g.log,
		}
		if tui {
			cr.Out = nil
		}
		runner = cr
	}

	exec := executor.New(graph, fs.RealFileSystem{}, runner, board, g.log, executor.Options{
		Jobs:     jobs,
		FailFast: failFast,
	})

	if !tui {
		return exec.Execute(ctx, targets)
	}

	done := make(chan struct{})
	var report *executor.Report
	var execErr error
	go func() {
		defer close(done)
		report, execErr = exec.Execute(ctx, targets)
	}()
	if err := ui.Run(board, done); err != nil {
		g.log.Warn().Err(err).Msg("status view failed")
	}
	<-done
	return report, execErr
}

type listCmd struct{}

func (l *listCmd) Run(g *Globals) error {
	graph, err := g.load()
	if err != nil {
		return err
	}
	table := graph.Table()
	for _, name := range table.Names() {
		t, _ := table.Get(name)
		kind := ""
		switch {
		case t.Phony:
			kind = " (phony)"
		case t.Fetch != nil:
			kind = fmt.Sprintf(" (repo %s@%s)", t.Fetch.URL, t.Fetch.Rev)
		}
		fmt.Printf("%s%s\n", name, kind)
	}
	return nil
}

type graphCmd struct{}

func (gc *graphCmd) Run(g *Globals) error {
	graph, err := g.load()
	if err != nil {
		return err
	}
	return graph.WriteDot(os.Stdout)
}

type cleanCmd struct{}

func (c *cleanCmd) Run(g *Globals) error {
	// Everything under the generated dir is re-derivable by rerunning the
	// graph, so removal only forces a full rebuild.
	g.log.Info().Str("dir", g.Gen).Msg("removing generated artifacts")
	return os.RemoveAll(g.Gen)
}

type fetchCmd struct{}

func (f *fetchCmd) Run(g *Globals) error {
	graph, err := g.load()
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := fetch.NewClient(g.log)
	table := graph.Table()
	var failed int
	for _, name := range table.Names() {
		t, _ := table.Get(name)
		if t.Fetch == nil {
			continue
		}
		if err := client.Fetch(ctx, *t.Fetch); err != nil {
			g.log.Error().Str("target", name).Err(err).Msg("fetch failed")
			failed++
		}
	}
	if failed > 0 {
		return errors.Wrapf(errBuildFailed, "%d repositories failed to fetch", failed)
	}
	return nil
}

type watchCmd struct {
	Targets []string `arg:"" optional:"" help:"Targets to rebuild on change." default:"all"`
	Jobs    int      `short:"j" default:"1" help:"Concurrent action limit."`
}

// Run rebuilds the requested targets whenever a watched input changes,
// debouncing bursts of filesystem events.
func (w *watchCmd) Run(g *Globals) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "creating watcher")
	}
	defer watcher.Close()

	rebuild := func() {
		graph, err := g.load()
		if err != nil {
			g.log.Error().Err(err).Msg("config load failed")
			return
		}
		if err := w.updateWatches(watcher, g.Config, graph); err != nil {
			g.log.Warn().Err(err).Msg("updating watches failed")
		}
		report, err := runBuild(ctx, g, graph, w.Targets, w.Jobs, false, false, false)
		if report != nil {
			report.Summary(os.Stdout)
		}
		if err != nil {
			g.log.Error().Err(err).Msg("build failed, watching for changes")
		}
	}
	rebuild()

	const debounce = 500 * time.Millisecond
	var timer *time.Timer
	pending := make(chan struct{}, 1)
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, func() {
				select {
				case pending <- struct{}{}:
				default:
				}
			})
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			g.log.Warn().Err(err).Msg("watch error")
		case <-pending:
			rebuild()
		}
	}
}

// updateWatches points the watcher at the config file and at every directory
// containing a file dependency of the declared targets.
func (w *watchCmd) updateWatches(watcher *fsnotify.Watcher, cfgPath string, graph *executor.Graph) error {
	dirs := map[string]bool{filepath.Dir(cfgPath): true}
	table := graph.Table()
	for _, name := range table.Names() {
		t, _ := table.Get(name)
		for _, pattern := range t.FileDeps {
			dirs[globBase(pattern)] = true
		}
	}
	for dir := range dirs {
		if _, err := os.Stat(dir); err != nil {
			continue
		}
		if err := watcher.Add(dir); err != nil {
			return err
		}
	}
	return nil
}

// globBase returns the longest directory prefix of a glob pattern with no
// meta characters.
func globBase(pattern string) string {
	if i := strings.IndexAny(pattern, "*?["); i >= 0 {
		pattern = pattern[:i]
	}
	dir := filepath.Dir(pattern)
	if dir == "" {
		return "."
	}
	return dir
}

func main() {
	ctx := kong.Parse(&cli,
		kong.Name("docforge"),
		kong.Description("Incremental build orchestrator for the documentation website."),
		kong.UsageOnError(),
	)

	level := zerolog.InfoLevel
	if cli.Verbose {
		level = zerolog.DebugLevel
	}
	cli.log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().Timestamp().Logger()

	if err := ctx.Run(&cli.Globals); err != nil {
		fmt.Fprintf(os.Stderr, "docforge: %v\n", err)
		if errors.Is(err, errBuildFailed) {
			os.Exit(1)
		}
		os.Exit(2)
	}
}
