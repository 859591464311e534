package executor

import (
	"fmt"
	"strings"
)

// UnknownTargetError reports a requested or referenced name absent from the
// target table and not coverable by any pattern rule.
type UnknownTargetError struct {
	Name string
	Via  string
}

func (e *UnknownTargetError) Error() string {
	if e.Via != "" {
		return fmt.Sprintf("unknown target %s (required by %s)", e.Name, e.Via)
	}
	return fmt.Sprintf("unknown target %s", e.Name)
}

// CycleError reports a dependency cycle with its member chain in order.
type CycleError struct {
	Chain []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle: %s", strings.Join(e.Chain, " -> "))
}
