package trace_test

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rv-ooo/rvcore/trace"
)

func TestCommitWritesOneJSONLinePerRecord(t *testing.T) {
	var buf bytes.Buffer
	s := trace.New(&buf, true, false)

	s.Commit(trace.Record{Cycle: 7, Valid: true, IAddr: 0x1000})
	s.Commit(trace.Record{Cycle: 8, Valid: true, IAddr: 0x1004, Exception: true, Cause: 2, Tval: 0x1004})

	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 2)

	var rec map[string]any
	require.NoError(t, json.Unmarshal(lines[1], &rec))
	assert.Equal(t, "commit", rec["message"])
	assert.Equal(t, true, rec["exception"])
	assert.Equal(t, float64(2), rec["cause"])
}

func TestCommitSuppressedWhenCommitLogDisabled(t *testing.T) {
	var buf bytes.Buffer
	s := trace.New(&buf, false, true)
	s.Commit(trace.Record{Cycle: 1, Valid: true})
	assert.Empty(t, buf.Bytes())
}

func TestBranchOmitsTargetWhenPredicted(t *testing.T) {
	var buf bytes.Buffer
	s := trace.New(&buf, false, true)
	s.Branch(trace.BranchEvent{Cycle: 3, PC: 0x2000, BrTag: 1, Taken: true, Mispredict: false})

	var rec map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &rec))
	assert.Equal(t, "branch_resolve", rec["message"])
	_, hasTarget := rec["target"]
	assert.False(t, hasTarget)
}

func TestDisabledSinkEmitsNothing(t *testing.T) {
	s := trace.Disabled()
	s.Commit(trace.Record{Cycle: 1, Valid: true})
	s.Branch(trace.BranchEvent{Cycle: 1})
}

func TestNilSinkIsSafeNoOp(t *testing.T) {
	var s *trace.Sink
	s.Commit(trace.Record{Cycle: 1})
	s.Branch(trace.BranchEvent{Cycle: 1})
}
