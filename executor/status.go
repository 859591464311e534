package executor

import (
	"sort"
	"sync"
	"time"
)

const maxLogLines = 100

// TargetStatus is the live state of one target, read by the status UI while
// the build runs.
type TargetStatus struct {
	Name     string
	Status   Status
	Start    time.Time
	End      time.Time
	LogLines []string
}

// StatusBoard tracks per-target state and the tail of each target's output.
// All access is guarded by one mutex; writers are the build goroutines,
// readers are the UI ticker and the final report.
type StatusBoard struct {
	mu       sync.Mutex
	statuses map[string]*TargetStatus
}

func NewStatusBoard() *StatusBoard {
	return &StatusBoard{statuses: make(map[string]*TargetStatus)}
}

func (sb *StatusBoard) register(name string) {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	sb.statuses[name] = &TargetStatus{Name: name, Status: StatusPending}
}

func (sb *StatusBoard) setStatus(name string, status Status) {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	ts, ok := sb.statuses[name]
	if !ok {
		return
	}
	ts.Status = status
	switch status {
	case StatusRunning:
		ts.Start = time.Now()
	case StatusBuilt, StatusFresh, StatusFailed, StatusSkipped:
		ts.End = time.Now()
	}
}

// AppendLog records one line of a target's output, keeping a bounded tail.
func (sb *StatusBoard) AppendLog(name, line string) {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	ts, ok := sb.statuses[name]
	if !ok {
		return
	}
	ts.LogLines = append(ts.LogLines, line)
	if len(ts.LogLines) > maxLogLines {
		ts.LogLines = ts.LogLines[len(ts.LogLines)-maxLogLines:]
	}
}

// Snapshot returns a copy of every target's status, sorted by name.
func (sb *StatusBoard) Snapshot() []TargetStatus {
	sb.mu.Lock()
	defer sb.mu.Unlock()
	out := make([]TargetStatus, 0, len(sb.statuses))
	for _, ts := range sb.statuses {
		c := *ts
		c.LogLines = append([]string(nil), ts.LogLines...)
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
