package logstore

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/irskep/persistproc/internal/apperr"
	"github.com/irskep/persistproc/internal/registry"
)

func TestSanitizeCollapsesAndStrips(t *testing.T) {
	require.Equal(t, "python_-c_importtime", Sanitize("python  -c  import!!time"))
}

func TestSanitizeTruncates(t *testing.T) {
	long := ""
	for i := 0; i < 80; i++ {
		long += "a"
	}
	require.Len(t, Sanitize(long), maxSanitizedLen)
}

func TestLogPrefixIncludesPid(t *testing.T) {
	require.Equal(t, "123.sleep_30", LogPrefix(123, "sleep 30"))
}

func TestCombinedFromStdout(t *testing.T) {
	require.Equal(t, "/x/1.sleep.combined", CombinedFromStdout("/x/1.sleep.stdout"))
}

type fakeResolver struct {
	entries map[int]registry.Snapshot
}

func (f *fakeResolver) Get(pid int) (registry.Snapshot, bool) {
	e, ok := f.entries[pid]
	return e, ok
}

func TestGetOutputLinesFilter(t *testing.T) {
	dir := t.TempDir()
	store, err := New(dir)
	require.NoError(t, err)

	prefix := "1.sleep"
	paths := store.PathsFor(prefix)
	content := "2026-01-01T00:00:00.000Z one\n" +
		"2026-01-01T00:00:01.000Z two\n" +
		"2026-01-01T00:00:02.000Z three\n"
	require.NoError(t, os.WriteFile(paths.Stdout, []byte(content), 0o644))

	resolver := &fakeResolver{entries: map[int]registry.Snapshot{
		1: {Pid: 1, LogPrefix: prefix},
	}}
	reader := NewReader(store, resolver, func() string { return "" })

	n := 2
	out, err := reader.GetOutput(1, "stdout", &n, nil, nil)
	require.NoError(t, err)
	require.Equal(t, []string{
		"2026-01-01T00:00:01.000Z two",
		"2026-01-01T00:00:02.000Z three",
	}, out)
}

func TestGetOutputSinceEqualsBeforeIsEmpty(t *testing.T) {
	dir := t.TempDir()
	store, err := New(dir)
	require.NoError(t, err)
	prefix := "1.sleep"
	paths := store.PathsFor(prefix)
	content := "2026-01-01T00:00:00.000Z one\n"
	require.NoError(t, os.WriteFile(paths.Stdout, []byte(content), 0o644))

	resolver := &fakeResolver{entries: map[int]registry.Snapshot{1: {Pid: 1, LogPrefix: prefix}}}
	reader := NewReader(store, resolver, func() string { return "" })

	same := "2026-01-01T00:00:00.000Z"
	out, err := reader.GetOutput(1, "stdout", nil, &same, &same)
	require.NoError(t, err)
	require.Empty(t, out)
}

func TestGetOutputBadStream(t *testing.T) {
	dir := t.TempDir()
	store, _ := New(dir)
	resolver := &fakeResolver{entries: map[int]registry.Snapshot{1: {Pid: 1, LogPrefix: "1.sleep"}}}
	reader := NewReader(store, resolver, func() string { return "" })

	_, err := reader.GetOutput(1, "bogus", nil, nil, nil)
	kind, ok := apperr.KindOf(err)
	require.True(t, ok)
	require.Equal(t, apperr.BadStream, kind)
}

func TestGetOutputBadTimestamp(t *testing.T) {
	dir := t.TempDir()
	store, _ := New(dir)
	prefix := "1.sleep"
	require.NoError(t, os.WriteFile(store.PathsFor(prefix).Stdout, []byte("x\n"), 0o644))
	resolver := &fakeResolver{entries: map[int]registry.Snapshot{1: {Pid: 1, LogPrefix: prefix}}}
	reader := NewReader(store, resolver, func() string { return "" })

	bad := "not-a-time"
	_, err := reader.GetOutput(1, "stdout", nil, &bad, nil)
	kind, ok := apperr.KindOf(err)
	require.True(t, ok)
	require.Equal(t, apperr.BadTimestamp, kind)
}

func TestGetOutputNotFound(t *testing.T) {
	dir := t.TempDir()
	store, _ := New(dir)
	resolver := &fakeResolver{entries: map[int]registry.Snapshot{}}
	reader := NewReader(store, resolver, func() string { return "" })

	_, err := reader.GetOutput(99, "stdout", nil, nil, nil)
	kind, ok := apperr.KindOf(err)
	require.True(t, ok)
	require.Equal(t, apperr.NotFound, kind)
}

func TestGetLogPaths(t *testing.T) {
	dir := t.TempDir()
	store, _ := New(dir)
	resolver := &fakeResolver{entries: map[int]registry.Snapshot{1: {Pid: 1, LogPrefix: "1.sleep"}}}
	reader := NewReader(store, resolver, func() string { return "" })

	paths, err := reader.GetLogPaths(1)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "1.sleep.stdout"), paths.Stdout)
}
