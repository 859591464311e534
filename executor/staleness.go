package executor

import (
	"os"
	"time"

	iofs "io/fs"

	"github.com/pkg/errors"

	"github.com/docforge-build/docforge/fs"
	"github.com/docforge-build/docforge/target"
)

// stalenessChecker decides whether a target must rebuild by comparing the
// modification times of its outputs against its inputs. A dependency must be
// strictly newer to force a rebuild; equal timestamps count as fresh.
type stalenessChecker struct {
	fs fs.FileSystem
}

// stale reports whether t needs its action run. deps are the already-resolved
// dependency targets, consulted for their outputs (a dependency may itself
// have just rebuilt, so this runs at execution time, not at plan time).
func (c *stalenessChecker) stale(t *target.Target, deps []*target.Target) (bool, error) {
	if t.Phony {
		return true, nil
	}
	if t.Fetch != nil {
		// A pinned checkout counts as fresh once it exists; `docforge fetch`
		// re-runs it explicitly.
		if _, err := c.fs.Stat(t.Fetch.Dir); err != nil {
			if os.IsNotExist(err) {
				return true, nil
			}
			return false, errors.Wrapf(err, "stat fetch dir for %s", t.Name)
		}
		return false, nil
	}
	if len(t.Outputs) == 0 {
		// No recorded file: stale whenever it has something to run, otherwise
		// it is a grouping node that only forces dependency evaluation.
		return t.Action != nil, nil
	}

	oldest, missing, err := c.oldestOutput(t)
	if err != nil {
		return false, err
	}
	if missing {
		return true, nil
	}

	newest, err := c.newestInput(t, deps)
	if err != nil {
		return false, err
	}
	return newest.After(oldest), nil
}

// oldestOutput returns the oldest output mtime, or missing=true if any output
// does not exist yet.
func (c *stalenessChecker) oldestOutput(t *target.Target) (time.Time, bool, error) {
	var oldest time.Time
	for i, out := range t.Outputs {
		info, err := c.fs.Stat(out)
		if err != nil {
			if os.IsNotExist(err) {
				return time.Time{}, true, nil
			}
			return time.Time{}, false, errors.Wrapf(err, "stat output %s of %s", out, t.Name)
		}
		if i == 0 || info.ModTime().Before(oldest) {
			oldest = info.ModTime()
		}
	}
	return oldest, false, nil
}

// newestInput returns the newest mtime among the target's file dependencies
// and the outputs of its dependency targets.
func (c *stalenessChecker) newestInput(t *target.Target, deps []*target.Target) (time.Time, error) {
	var newest time.Time

	track := func(ts time.Time) {
		if ts.After(newest) {
			newest = ts
		}
	}

	for _, pattern := range t.FileDeps {
		matches, err := c.fs.DoublestarGlob(pattern)
		if err != nil {
			return time.Time{}, errors.Wrapf(err, "expanding input pattern %s of %s", pattern, t.Name)
		}
		for _, match := range matches {
			ts, err := c.pathMTime(match)
			if err != nil {
				return time.Time{}, err
			}
			track(ts)
		}
	}

	for _, dep := range deps {
		// Phony dependencies contribute nothing: they only propagate
		// staleness through files their actions actually touch.
		if dep.Phony {
			continue
		}
		paths := dep.Outputs
		if dep.Fetch != nil {
			paths = []string{dep.Fetch.Dir}
		}
		for _, out := range paths {
			ts, err := c.pathMTime(out)
			if err != nil {
				return time.Time{}, err
			}
			track(ts)
		}
	}
	return newest, nil
}

// pathMTime returns the mtime of a file, or for a directory the newest mtime
// of any contained file. Missing paths contribute the zero time.
func (c *stalenessChecker) pathMTime(path string) (time.Time, error) {
	info, err := c.fs.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return time.Time{}, nil
		}
		return time.Time{}, errors.Wrapf(err, "stat %s", path)
	}
	if !info.IsDir() {
		return info.ModTime(), nil
	}
	var newest time.Time
	err = c.fs.WalkDir(path, func(p string, d iofs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		if fi.ModTime().After(newest) {
			newest = fi.ModTime()
		}
		return nil
	})
	if err != nil {
		return time.Time{}, errors.Wrapf(err, "walking %s", path)
	}
	return newest, nil
}
