package apiserver

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/irskep/persistproc/internal/clock"
	"github.com/irskep/persistproc/internal/logging"
	"github.com/irskep/persistproc/internal/logstore"
	"github.com/irskep/persistproc/internal/registry"
	"github.com/irskep/persistproc/internal/supervisor"
	"github.com/irskep/persistproc/internal/toolsurface"
)

func testServer(t *testing.T) *Server {
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
	surface := toolsurface.New(sup, reader)
	return NewServer(surface, log)
}

func postJSON(t *testing.T, s *Server, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, json.NewEncoder(&buf).Encode(body))
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	return rec
}

func TestHealthReturnsOK(t *testing.T) {
	s := testServer(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestStartThenListOverHTTP(t *testing.T) {
	s := testServer(t)
	rec := postJSON(t, s, "/tools/start", toolsurface.StartArgs{Command: "sleep 5"})
	require.Equal(t, http.StatusOK, rec.Code)

	var started toolsurface.StartResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &started))
	require.Greater(t, started.Pid, 0)

	req := httptest.NewRequest(http.MethodGet, "/tools/list", nil)
	listRec := httptest.NewRecorder()
	s.Router().ServeHTTP(listRec, req)
	require.Equal(t, http.StatusOK, listRec.Code)

	var list toolsurface.ListResult
	require.NoError(t, json.Unmarshal(listRec.Body.Bytes(), &list))
	require.Len(t, list.Processes, 1)

	pid := started.Pid
	postJSON(t, s, "/tools/stop", toolsurface.StopArgs{Pid: &pid, Force: true})
}

func TestStopUnknownPidReturnsNotFound(t *testing.T) {
	s := testServer(t)
	pid := 999999999
	rec := postJSON(t, s, "/tools/stop", toolsurface.StopArgs{Pid: &pid})
	require.Equal(t, http.StatusNotFound, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotEmpty(t, body["error"])
}

func TestStartEmptyCommandReturnsBadRequest(t *testing.T) {
	s := testServer(t)
	rec := postJSON(t, s, "/tools/start", toolsurface.StartArgs{Command: ""})
	require.Equal(t, http.StatusBadRequest, rec.Code)
}
