package executor

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"mvdan.cc/sh/v3/expand"
	"mvdan.cc/sh/v3/interp"
	"mvdan.cc/sh/v3/syntax"

	"github.com/docforge-build/docforge/target"
)

// Runner executes a single stale target's action. The executor blocks on it;
// the subprocess wait is the scheduling suspension point.
type Runner interface {
	Run(ctx context.Context, t *target.Target) error
}

// Fetcher satisfies fetch targets. Implemented by fetch.Client.
type Fetcher interface {
	Fetch(ctx context.Context, spec target.FetchSpec) error
}

// CommandRunner runs argv actions directly and shell actions through the
// embedded POSIX shell interpreter, so action behavior does not depend on the
// host /bin/sh.
type CommandRunner struct {
	Out      io.Writer
	Board    *StatusBoard
	Fetcher  Fetcher
	Diffable bool
	Log      zerolog.Logger
}

func (r *CommandRunner) Run(ctx context.Context, t *target.Target) error {
	if t.Fetch != nil {
		if r.Fetcher == nil {
			return errors.Errorf("target %s needs a fetcher", t.Name)
		}
		return r.Fetcher.Fetch(ctx, *t.Fetch)
	}
	a := t.Action
	if a == nil {
		return nil
	}
	if len(a.Argv) > 0 {
		return r.runArgv(ctx, t.Name, a)
	}
	return r.runShell(ctx, t.Name, a)
}

// actionEnv builds the subprocess environment: the parent environment, the
// action's own entries, and the diffable marker external tools key off to
// suppress embedded timestamps.
func (r *CommandRunner) actionEnv(a *target.Action) []string {
	env := os.Environ()
	for k, v := range a.Env {
		env = append(env, k+"="+v)
	}
	if r.Diffable {
		env = append(env, "DIFFABLE=1")
	}
	return env
}

func (r *CommandRunner) runArgv(ctx context.Context, name string, a *target.Action) error {
	cmd := exec.CommandContext(ctx, a.Argv[0], a.Argv[1:]...)
	cmd.Dir = a.Dir
	cmd.Env = r.actionEnv(a)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return errors.Wrapf(err, "stdout pipe for %s", name)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return errors.Wrapf(err, "stderr pipe for %s", name)
	}

	r.Log.Debug().Str("target", name).Strs("argv", a.Argv).Msg("running command")
	if err := cmd.Start(); err != nil {
		return errors.Wrapf(err, "starting %s for %s", a.Argv[0], name)
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); r.readAndLogOutput(name, stdout) }()
	go func() { defer wg.Done(); r.readAndLogOutput(name, stderr) }()
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		return errors.Wrapf(err, "%s", strings.Join(a.Argv, " "))
	}
	return nil
}

func (r *CommandRunner) runShell(ctx context.Context, name string, a *target.Action) error {
	file, err := syntax.NewParser().Parse(strings.NewReader(a.Shell), name)
	if err != nil {
		return errors.Wrapf(err, "parsing shell action of %s", name)
	}

	pr, pw := io.Pipe()
	var wg sync.WaitGroup
	wg.Add(1)
	go func() { defer wg.Done(); r.readAndLogOutput(name, pr) }()

	runner, err := interp.New(
		interp.Dir(a.Dir),
		interp.Env(expand.ListEnviron(r.actionEnv(a)...)),
		interp.StdIO(nil, pw, pw),
	)
	if err != nil {
		pw.Close()
		wg.Wait()
		return errors.Wrapf(err, "shell interpreter for %s", name)
	}

	r.Log.Debug().Str("target", name).Msg("running shell action")
	runErr := runner.Run(ctx, file)
	pw.Close()
	wg.Wait()

	if runErr != nil {
		return errors.Wrapf(runErr, "shell action of %s", name)
	}
	return nil
}

// readAndLogOutput streams action output line by line, prefixed with the
// target name, and mirrors it into the status board's log tail.
func (r *CommandRunner) readAndLogOutput(name string, pipe io.Reader) {
	scanner := bufio.NewScanner(pipe)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if r.Out != nil {
			fmt.Fprintf(r.Out, "[%s] %s\n", name, line)
		}
		if r.Board != nil {
			r.Board.AppendLog(name, line)
		}
	}
}

// recordingRunner is used by dry runs: it prints what would execute.
type recordingRunner struct {
	Out io.Writer
}

func (r *recordingRunner) Run(_ context.Context, t *target.Target) error {
	var b bytes.Buffer
	switch {
	case t.Fetch != nil:
		fmt.Fprintf(&b, "fetch %s@%s -> %s", t.Fetch.URL, t.Fetch.Rev, t.Fetch.Dir)
	case t.Action == nil:
	case len(t.Action.Argv) > 0:
		b.WriteString(strings.Join(t.Action.Argv, " "))
	default:
		b.WriteString(t.Action.Shell)
	}
	fmt.Fprintf(r.Out, "[%s] would run: %s\n", t.Name, b.String())
	return nil
}

// NewDryRunner returns a runner that only reports what would execute.
func NewDryRunner(out io.Writer) Runner {
	return &recordingRunner{Out: out}
}
