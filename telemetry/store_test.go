package telemetry

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenStore(":memory:")
	require.NoError(t, err)
	return s
}

func TestStore_SaveRunUpsert(t *testing.T) {
	s := newStore(t)

	run := &ScanRun{ScanID: "abc", Target: "https://example.com", TargetType: "url", StartedAt: time.Now()}
	require.NoError(t, s.SaveRun(run))

	run.Success = true
	run.Iterations = 30
	require.NoError(t, s.SaveRun(run))

	got, err := s.GetRun("abc")
	require.NoError(t, err)
	assert.True(t, got.Success)
	assert.Equal(t, 30, got.Iterations)
}

func TestStore_FindingsOrderedBySeverity(t *testing.T) {
	s := newStore(t)

	require.NoError(t, s.SaveFinding(&FindingRecord{ScanID: "abc", Title: "low one", Severity: "low"}))
	require.NoError(t, s.SaveFinding(&FindingRecord{ScanID: "abc", Title: "crit one", Severity: "critical"}))
	require.NoError(t, s.SaveFinding(&FindingRecord{ScanID: "other", Title: "elsewhere", Severity: "high"}))

	findings, err := s.ListFindings("abc")
	require.NoError(t, err)
	require.Len(t, findings, 2)
	assert.Equal(t, "crit one", findings[0].Title)
	assert.Equal(t, "low one", findings[1].Title)
}

func TestStore_ToolRecords(t *testing.T) {
	s := newStore(t)

	require.NoError(t, s.SaveToolRecord(&ToolRecord{ScanID: "abc", Tool: "terminal_execute", Status: "ok"}))
	require.NoError(t, s.SaveToolRecord(&ToolRecord{ScanID: "abc", Tool: "web_search", Status: "error"}))

	recs, err := s.ListToolRecords("abc")
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "terminal_execute", recs[0].Tool)
	assert.Equal(t, "web_search", recs[1].Tool)
}
