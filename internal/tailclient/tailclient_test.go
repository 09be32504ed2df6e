package tailclient

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/irskep/persistproc/internal/apiserver"
	"github.com/irskep/persistproc/internal/clock"
	"github.com/irskep/persistproc/internal/logging"
	"github.com/irskep/persistproc/internal/logstore"
	"github.com/irskep/persistproc/internal/registry"
	"github.com/irskep/persistproc/internal/rpcclient"
	"github.com/irskep/persistproc/internal/supervisor"
	"github.com/irskep/persistproc/internal/toolsurface"
)

func testBackend(t *testing.T) (*httptest.Server, *supervisor.Supervisor) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("process-group based tests target POSIX shells")
	}
	reg := registry.New()
	store, err := logstore.New(t.TempDir())
	require.NoError(t, err)
	log, err := logging.New(logging.Config{Level: "error", OutputPath: "stderr"})
	require.NoError(t, err)
	sup := supervisor.New(reg, store, clock.New(), log, supervisor.Options{PollInterval: 20 * time.Millisecond})
	sup.StartMonitor(context.Background())
	reader := logstore.NewReader(store, reg, func() string { return "" })
	surface := toolsurface.New(sup, reader)
	srv := apiserver.NewServer(surface, log)
	return httptest.NewServer(srv.Router()), sup
}

func TestRunTailsAndExitsAfterNaturalCompletion(t *testing.T) {
	backend, _ := testBackend(t)
	defer backend.Close()

	log, err := logging.New(logging.Config{Level: "error", OutputPath: "stderr"})
	require.NoError(t, err)

	var out bytes.Buffer
	tc := New(rpcclient.New(backend.URL), &out, nil, log)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	// The tailer seeks to end-of-file when it opens the combined log, so the
	// child waits before printing to let the tailer attach first.
	code := tc.Run(ctx, Options{Program: "sh", Args: []string{"-c", "sleep 0.5; echo hello-from-child; sleep 1"}})
	require.Equal(t, 0, code)
	require.Contains(t, out.String(), "hello-from-child")
	require.NotContains(t, out.String(), "[SYSTEM]")
}

func TestRunAdoptsExistingRunningProcess(t *testing.T) {
	backend, sup := testBackend(t)
	defer backend.Close()

	log, err := logging.New(logging.Config{Level: "error", OutputPath: "stderr"})
	require.NoError(t, err)

	cwd, err := os.Getwd()
	require.NoError(t, err)
	snap, err := sup.Start("sleep 5", cwd, nil, nil)
	require.NoError(t, err)
	defer sup.Stop(supervisor.Selector{Pid: &snap.Pid}, true)

	var out bytes.Buffer
	tc := New(rpcclient.New(backend.URL), &out, nil, log)
	ctx, cancel := context.WithCancel(context.Background())
	cancel() // cancel immediately: we only care that ensureRunning adopted, not that Run blocked

	summary, err := tc.ensureRunning(context.Background(), []string{"sleep", "5"}, cwd, Options{})
	require.NoError(t, err)
	require.Equal(t, snap.Pid, summary.Pid)
	_ = ctx
}

func TestStripTimestampFiltersSystemLines(t *testing.T) {
	tr := newTailer("", false, &bytes.Buffer{})
	rendered, ok := tr.render("2026-07-31T00:00:00.000Z [SYSTEM] Process started\n")
	require.False(t, ok)
	require.Empty(t, rendered)

	rendered, ok = tr.render("2026-07-31T00:00:00.000Z hello\n")
	require.True(t, ok)
	require.Equal(t, "hello\n", rendered)
}

// TestTailerSkipsPreExistingContent guards the "adopt an already-running
// process" path: the tailer must seek to end-of-file before polling, so
// lines already on disk when it starts are never printed, only lines
// appended afterward.
func TestTailerSkipsPreExistingContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "combined.log")
	require.NoError(t, os.WriteFile(path, []byte("2026-07-31T00:00:00.000Z old-line-1\n2026-07-31T00:00:00.000Z old-line-2\n"), 0o644))

	var out bytes.Buffer
	tr := newTailer(path, false, &out)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	tr.Start(ctx)

	time.Sleep(150 * time.Millisecond)
	require.Empty(t, out.String(), "pre-existing lines must not be emitted")

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("2026-07-31T00:00:01.000Z new-line\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.Eventually(t, func() bool {
		return strings.Contains(out.String(), "new-line")
	}, 2*time.Second, 50*time.Millisecond)
	require.NotContains(t, out.String(), "old-line")
}

func TestSameCommandMatchesJoinedTokens(t *testing.T) {
	require.True(t, sameCommand("sleep 5", []string{"sleep", "5"}))
	require.False(t, sameCommand("sleep 6", []string{"sleep", "5"}))
}

func TestIsTTYFalseForNilOrPipe(t *testing.T) {
	require.False(t, isTTY(nil))
	r, w, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()
	defer w.Close()
	require.False(t, isTTY(r))
}

func TestExitPolicyDefaultsToAsk(t *testing.T) {
	require.Equal(t, ExitPolicy(""), Options{}.OnExit)
	require.True(t, strings.HasPrefix(string(ExitAsk), "a"))
}
