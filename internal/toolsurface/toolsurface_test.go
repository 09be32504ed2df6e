package toolsurface

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/irskep/persistproc/internal/apperr"
	"github.com/irskep/persistproc/internal/clock"
	"github.com/irskep/persistproc/internal/logging"
	"github.com/irskep/persistproc/internal/logstore"
	"github.com/irskep/persistproc/internal/registry"
	"github.com/irskep/persistproc/internal/supervisor"
)

func testSurface(t *testing.T) *Surface {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("process-group based tests target POSIX shells")
	}
	reg := registry.New()
	store, err := logstore.New(t.TempDir())
	require.NoError(t, err)
	log, err := logging.New(logging.Config{Level: "error", OutputPath: "stderr"})
	require.NoError(t, err)
	sup := supervisor.New(reg, store, clock.New(), log, supervisor.Options{})
	reader := logstore.NewReader(store, reg, func() string { return "" })
	return New(sup, reader)
}

func TestStartProducesLogPaths(t *testing.T) {
	s := testSurface(t)
	res, err := s.Start(StartArgs{Command: "sleep 5"})
	require.NoError(t, err)
	require.Greater(t, res.Pid, 0)
	require.NotEmpty(t, res.LogStdout)
	require.NotEmpty(t, res.LogStderr)
	require.NotEmpty(t, res.LogCombined)

	pid := res.Pid
	_, err = s.Stop(StopArgs{Pid: &pid, Force: true})
	require.NoError(t, err)
}

func TestStartRejectsEmptyCommand(t *testing.T) {
	s := testSurface(t)
	_, err := s.Start(StartArgs{Command: ""})
	kind, ok := apperr.KindOf(err)
	require.True(t, ok)
	require.Equal(t, apperr.SpawnFailed, kind)
}

func TestListReflectsStartedProcess(t *testing.T) {
	s := testSurface(t)
	res, err := s.Start(StartArgs{Command: "sleep 5"})
	require.NoError(t, err)
	defer func() {
		pid := res.Pid
		s.Stop(StopArgs{Pid: &pid, Force: true})
	}()

	list := s.List()
	require.Len(t, list.Processes, 1)
	require.Equal(t, res.Pid, list.Processes[0].Pid)
	require.Equal(t, "running", list.Processes[0].Status)
}

func TestGetOutputBadStream(t *testing.T) {
	s := testSurface(t)
	res, err := s.Start(StartArgs{Command: "sleep 5"})
	require.NoError(t, err)
	defer func() {
		pid := res.Pid
		s.Stop(StopArgs{Pid: &pid, Force: true})
	}()

	_, err = s.GetOutput(GetOutputArgs{Pid: res.Pid, Stream: "bogus"})
	kind, ok := apperr.KindOf(err)
	require.True(t, ok)
	require.Equal(t, apperr.BadStream, kind)
}

func TestGetLogPathsOmitsCombined(t *testing.T) {
	s := testSurface(t)
	res, err := s.Start(StartArgs{Command: "sleep 5"})
	require.NoError(t, err)
	defer func() {
		pid := res.Pid
		s.Stop(StopArgs{Pid: &pid, Force: true})
	}()

	paths, err := s.GetLogPaths(GetLogPathsArgs{Pid: res.Pid})
	require.NoError(t, err)
	require.NotEmpty(t, paths.Stdout)
	require.NotEmpty(t, paths.Stderr)
}

func TestKillPersistprocReturnsOwnPid(t *testing.T) {
	s := testSurface(t)
	res := s.KillPersistproc()
	require.Greater(t, res.Pid, 0)
}
