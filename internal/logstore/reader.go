package logstore

import (
	"bufio"
	"os"
	"time"

	"github.com/irskep/persistproc/internal/apperr"
	"github.com/irskep/persistproc/internal/registry"
)

// EntryResolver is the subset of Registry that Reader needs; satisfied
// by *registry.Registry.
type EntryResolver interface {
	Get(pid int) (registry.Snapshot, bool)
}

// Reader implements spec §4.6 LogReader.
type Reader struct {
	store         *Store
	registry      EntryResolver
	serverLogPath func() string
}

// NewReader builds a Reader. serverLogPath returns the path of the
// server's own operational log, answering get_output for pid=0.
func NewReader(store *Store, reg EntryResolver, serverLogPath func() string) *Reader {
	return &Reader{store: store, registry: reg, serverLogPath: serverLogPath}
}

// GetOutput implements spec §4.6 GetOutput.
func (r *Reader) GetOutput(pid int, stream string, lines *int, sinceTime, beforeTime *string) ([]string, error) {
	var path string
	if pid == 0 {
		path = r.serverLogPath()
	} else {
		entry, ok := r.registry.Get(pid)
		if !ok {
			return nil, apperr.New(apperr.NotFound, "no such process: %d", pid)
		}
		switch stream {
		case "stdout":
			path = r.store.PathsFor(entry.LogPrefix).Stdout
		case "stderr":
			path = r.store.PathsFor(entry.LogPrefix).Stderr
		case "combined":
			path = r.store.PathsFor(entry.LogPrefix).Combined
		default:
			return nil, apperr.New(apperr.BadStream, "stream must be stdout, stderr, or combined, got %q", stream)
		}
	}

	var since, before time.Time
	var haveSince, haveBefore bool
	if sinceTime != nil {
		t, err := time.Parse(time.RFC3339Nano, *sinceTime)
		if err != nil {
			return nil, apperr.New(apperr.BadTimestamp, "unparseable since_time: %v", err)
		}
		since, haveSince = t, true
	}
	if beforeTime != nil {
		t, err := time.Parse(time.RFC3339Nano, *beforeTime)
		if err != nil {
			return nil, apperr.New(apperr.BadTimestamp, "unparseable before_time: %v", err)
		}
		before, haveBefore = t, true
	}

	all, err := readAllLines(path)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, err
	}

	var filtered []string
	for _, line := range all {
		ts, ok := parseLeadingTimestamp(line)
		if haveSince || haveBefore {
			if !ok {
				continue
			}
			if haveSince && ts.Before(since) {
				continue
			}
			if haveBefore && !ts.Before(before) {
				continue
			}
		}
		filtered = append(filtered, line)
	}
	if filtered == nil {
		filtered = []string{}
	}

	if lines != nil {
		n := *lines
		if n < 0 {
			n = 0
		}
		if n < len(filtered) {
			filtered = filtered[len(filtered)-n:]
		}
	}
	return filtered, nil
}

// GetLogPaths implements spec §4.6 GetLogPaths.
func (r *Reader) GetLogPaths(pid int) (Paths, error) {
	entry, ok := r.registry.Get(pid)
	if !ok {
		return Paths{}, apperr.New(apperr.NotFound, "no such process: %d", pid)
	}
	return r.store.PathsFor(entry.LogPrefix), nil
}

func readAllLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var out []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		out = append(out, scanner.Text())
	}
	return out, scanner.Err()
}

// parseLeadingTimestamp extracts the ISO-8601 timestamp prefixing a log
// line ("<ts> rest of line"), if present.
func parseLeadingTimestamp(line string) (time.Time, bool) {
	if len(line) < 24 {
		return time.Time{}, false
	}
	spaceIdx := -1
	for i, r := range line {
		if r == ' ' {
			spaceIdx = i
			break
		}
	}
	if spaceIdx < 0 {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339Nano, line[:spaceIdx])
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
