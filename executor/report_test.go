package executor

import (
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReportOutcome(t *testing.T) {
	r := newReport()
	r.add(&Entry{Name: "a", Status: StatusFresh})
	assert.Equal(t, "nothing to do", r.Outcome())
	assert.NoError(t, r.Err())

	r.add(&Entry{Name: "b", Status: StatusBuilt})
	assert.Equal(t, "built 1 target(s)", r.Outcome())

	r.add(&Entry{Name: "c", Status: StatusFailed, Err: errors.New("boom")})
	r.add(&Entry{Name: "d", Status: StatusSkipped, Cause: "c"})
	assert.Equal(t, "1 target(s) failed, 1 skipped", r.Outcome())
}

func TestReportErrNamesFailures(t *testing.T) {
	r := newReport()
	r.add(&Entry{Name: "pdf", Status: StatusFailed, Err: errors.New("pdflatex exited 1")})
	r.add(&Entry{Name: "html", Status: StatusFailed, Err: errors.New("ddoc crashed")})

	err := r.Err()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pdf: pdflatex exited 1")
	assert.Contains(t, err.Error(), "html: ddoc crashed")
	assert.Contains(t, err.Error(), "2 target(s)")
}

func TestReportSummary(t *testing.T) {
	r := newReport()
	r.add(&Entry{Name: "a", Status: StatusBuilt})
	r.add(&Entry{Name: "b", Status: StatusFresh})
	r.add(&Entry{Name: "c", Status: StatusFailed, Err: errors.New("boom")})
	r.add(&Entry{Name: "d", Status: StatusSkipped, Cause: "c"})

	var sb strings.Builder
	r.Summary(&sb)
	out := sb.String()
	assert.Contains(t, out, "built   a")
	assert.Contains(t, out, "fresh   b")
	assert.Contains(t, out, "FAILED  c")
	assert.Contains(t, out, "(upstream: c)")
	assert.Contains(t, out, "1 target(s) failed, 1 skipped")
}
