package registry

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestInsertRejectsDuplicateRunningLabel(t *testing.T) {
	r := New()
	require.NoError(t, r.Insert(&Entry{Pid: 1, Label: "a", Status: StatusRunning}))
	err := r.Insert(&Entry{Pid: 2, Label: "a", Status: StatusRunning})
	require.ErrorIs(t, err, ErrDuplicateLabel)
}

func TestInsertAllowsSameLabelWhenPriorNotRunning(t *testing.T) {
	r := New()
	require.NoError(t, r.Insert(&Entry{Pid: 1, Label: "a", Status: StatusTerminated}))
	require.NoError(t, r.Insert(&Entry{Pid: 2, Label: "a", Status: StatusRunning}))
}

func TestMarkExitedSetsFieldsAtomically(t *testing.T) {
	r := New()
	require.NoError(t, r.Insert(&Entry{Pid: 1, Status: StatusRunning}))
	ok := r.MarkExited(1, StatusExited, 0, "2026-01-01T00:00:00.000Z")
	require.True(t, ok)
	e, found := r.Get(1)
	require.True(t, found)
	require.Equal(t, StatusExited, e.Status)
	require.True(t, e.HasExitCode)
	require.Equal(t, 0, e.ExitCode)
	require.Equal(t, "2026-01-01T00:00:00.000Z", e.ExitTime)
}

func TestMarkExitedIsANoOpOnceNonRunning(t *testing.T) {
	r := New()
	require.NoError(t, r.Insert(&Entry{Pid: 1, Status: StatusRunning}))
	r.MarkExited(1, StatusTerminated, 0, "t1")
	r.MarkExited(1, StatusExited, 7, "t2")
	e, _ := r.Get(1)
	require.Equal(t, StatusTerminated, e.Status)
	require.Equal(t, 0, e.ExitCode)
}

func TestFindRunningByLabel(t *testing.T) {
	r := New()
	require.NoError(t, r.Insert(&Entry{Pid: 1, Label: "x", Status: StatusRunning}))
	e, ok := r.FindRunningByLabel("x")
	require.True(t, ok)
	require.Equal(t, 1, e.Pid)

	_, ok = r.FindRunningByLabel("missing")
	require.False(t, ok)
}

func TestFindRunningByCommand(t *testing.T) {
	r := New()
	require.NoError(t, r.Insert(&Entry{
		Pid: 1, Command: []string{"sleep", "30"}, WorkingDirectory: "/tmp", Status: StatusRunning,
	}))
	e, ok := r.FindRunningByCommand([]string{"sleep", "30"}, "/tmp")
	require.True(t, ok)
	require.Equal(t, 1, e.Pid)

	_, ok = r.FindRunningByCommand([]string{"sleep", "30"}, "/other")
	require.False(t, ok)
}

func TestFindNewerRunning(t *testing.T) {
	r := New()
	require.NoError(t, r.Insert(&Entry{
		Pid: 1, Command: []string{"sleep", "30"}, WorkingDirectory: "/tmp",
		Status: StatusRunning, StartTime: "2026-01-01T00:00:00.000Z",
	}))
	require.NoError(t, r.Insert(&Entry{
		Pid: 2, Command: []string{"sleep", "30"}, WorkingDirectory: "/tmp",
		Status: StatusRunning, StartTime: "2026-01-01T00:00:05.000Z",
	}))
	e, ok := r.FindNewerRunning([]string{"sleep", "30"}, "/tmp", "2026-01-01T00:00:00.000Z")
	require.True(t, ok)
	require.Equal(t, 2, e.Pid)
}

func TestSnapshotIsIndependentCopy(t *testing.T) {
	r := New()
	require.NoError(t, r.Insert(&Entry{Pid: 1, Command: []string{"a"}, Status: StatusRunning}))
	snaps := r.Snapshot()
	require.Len(t, snaps, 1)
	snaps[0].Command[0] = "mutated"

	e, _ := r.Get(1)
	require.Equal(t, "a", e.Command[0])
}
