// Package serverlog tracks the server's own operational log file.
//
// Grounded on spec §9 REDESIGN FLAG "From filesystem-scanning 'latest
// log' to an explicit registry key": rather than having get_output
// pid=0 scan the data directory for the newest
// persistproc.run.*.log file (the original Python implementation's
// approach), the active path is recorded once at startup.
package serverlog

import (
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// ServerLog is the rotated-per-invocation operational log file named in
// spec §6 ("persistproc.run.<yyyymmdd_hhmmss>.log").
type ServerLog struct {
	path string
}

// New creates (or truncates-on-create) the log file for this server
// invocation under dataDir.
func New(dataDir string, startedAt time.Time) (*ServerLog, error) {
	name := fmt.Sprintf("persistproc.run.%s.log", startedAt.UTC().Format("20060102_150405"))
	path := filepath.Join(dataDir, name)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	f.Close()
	return &ServerLog{path: path}, nil
}

// Path returns the absolute path of the server's own log file, the
// answer to get_output pid=0 (spec §4.6).
func (s *ServerLog) Path() string { return s.path }
