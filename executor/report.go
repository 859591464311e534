package executor

import (
	"fmt"
	"io"
	"time"

	"github.com/pkg/errors"
)

// Status is the per-target outcome of one build invocation.
type Status string

const (
	StatusPending Status = "pending"
	StatusRunning Status = "running"
	StatusBuilt   Status = "built"
	StatusFresh   Status = "fresh"
	StatusFailed  Status = "failed"
	StatusSkipped Status = "skipped" // upstream failure or fail-fast stop
)

// Entry records what happened to a single target.
type Entry struct {
	Name   string
	Status Status
	Err    error  // first error, set for failed targets
	Cause  string // failed upstream target, set for skipped targets
	Start  time.Time
	End    time.Time
}

// Report is the structured result of one build invocation, so the invoker can
// distinguish "nothing to do", "succeeded" and "N targets failed".
type Report struct {
	Entries []*Entry
	byName  map[string]*Entry
}

func newReport() *Report {
	return &Report{byName: make(map[string]*Entry)}
}

func (r *Report) add(e *Entry) {
	r.Entries = append(r.Entries, e)
	r.byName[e.Name] = e
}

// Get returns the entry for a target name.
func (r *Report) Get(name string) (*Entry, bool) {
	e, ok := r.byName[name]
	return e, ok
}

// Counts tallies the entries by status.
func (r *Report) Counts() (built, fresh, failed, skipped int) {
	for _, e := range r.Entries {
		switch e.Status {
		case StatusBuilt:
			built++
		case StatusFresh:
			fresh++
		case StatusFailed:
			failed++
		case StatusSkipped:
			skipped++
		}
	}
	return
}

// Failed returns the entries for every failed target.
func (r *Report) Failed() []*Entry {
	var out []*Entry
	for _, e := range r.Entries {
		if e.Status == StatusFailed {
			out = append(out, e)
		}
	}
	return out
}

// Outcome summarizes the run in one line.
func (r *Report) Outcome() string {
	built, _, failed, skipped := r.Counts()
	switch {
	case failed > 0:
		return fmt.Sprintf("%d target(s) failed, %d skipped", failed, skipped)
	case built == 0:
		return "nothing to do"
	default:
		return fmt.Sprintf("built %d target(s)", built)
	}
}

// Err returns a non-nil error iff any target failed, naming every failure.
func (r *Report) Err() error {
	failed := r.Failed()
	if len(failed) == 0 {
		return nil
	}
	err := errors.Errorf("execution failed for %d target(s)", len(failed))
	for _, e := range failed {
		err = errors.Wrapf(err, "%s: %v", e.Name, e.Err)
	}
	return err
}

// Summary writes a human-readable per-target breakdown.
func (r *Report) Summary(w io.Writer) {
	for _, e := range r.Entries {
		switch e.Status {
		case StatusBuilt:
			fmt.Fprintf(w, "  built   %-30s %s\n", e.Name, e.End.Sub(e.Start).Round(time.Millisecond))
		case StatusFresh:
			fmt.Fprintf(w, "  fresh   %s\n", e.Name)
		case StatusFailed:
			fmt.Fprintf(w, "  FAILED  %-30s %v\n", e.Name, e.Err)
		case StatusSkipped:
			fmt.Fprintf(w, "  skipped %-30s (upstream: %s)\n", e.Name, e.Cause)
		}
	}
	fmt.Fprintf(w, "%s\n", r.Outcome())
}
