// Package toolsurface implements spec §4.7: the named tool operations,
// their argument/result shapes, and argument validation. Business logic
// is delegated to Supervisor and LogReader; this package never touches
// a process directly.
//
// Grounded on the teacher's api/server.go handler shape (validate →
// delegate → typed JSON response), generalized from one REST route per
// verb to one Surface method per tool, since spec §6
// defines the wire protocol as "one request/response per tool
// invocation" rather than a REST-per-verb transport.
package toolsurface

import (
	"github.com/irskep/persistproc/internal/apperr"
	"github.com/irskep/persistproc/internal/logstore"
	"github.com/irskep/persistproc/internal/registry"
	"github.com/irskep/persistproc/internal/shellsplit"
	"github.com/irskep/persistproc/internal/supervisor"
)

// Surface implements every tool in spec §4.7's table.
type Surface struct {
	sup    *supervisor.Supervisor
	reader *logstore.Reader
}

// New builds a Surface.
func New(sup *supervisor.Supervisor, reader *logstore.Reader) *Surface {
	return &Surface{sup: sup, reader: reader}
}

// StartArgs is the `start` tool's argument shape.
type StartArgs struct {
	Command          string            `json:"command"`
	WorkingDirectory string            `json:"working_directory"`
	Environment      map[string]string `json:"environment"`
	Label            *string           `json:"label,omitempty"`
}

// StartResult is the `start` tool's success shape.
type StartResult struct {
	Pid         int    `json:"pid"`
	LogStdout   string `json:"log_stdout"`
	LogStderr   string `json:"log_stderr"`
	LogCombined string `json:"log_combined"`
	Label       string `json:"label"`
}

// Start implements the `start` tool.
func (s *Surface) Start(args StartArgs) (*StartResult, error) {
	if args.Command == "" {
		return nil, apperr.New(apperr.SpawnFailed, "command must not be empty")
	}
	snap, err := s.sup.Start(args.Command, args.WorkingDirectory, args.Environment, args.Label)
	if err != nil {
		return nil, err
	}
	paths, err := s.reader.GetLogPaths(snap.Pid)
	if err != nil {
		return nil, err
	}
	return &StartResult{
		Pid:         snap.Pid,
		LogStdout:   paths.Stdout,
		LogStderr:   paths.Stderr,
		LogCombined: paths.Combined,
		Label:       snap.Label,
	}, nil
}

// StopArgs is the `stop` tool's argument shape.
type StopArgs struct {
	Pid              *int    `json:"pid,omitempty"`
	CommandOrLabel   *string `json:"command_or_label,omitempty"`
	WorkingDirectory *string `json:"working_directory,omitempty"`
	Label            *string `json:"label,omitempty"`
	Force            bool    `json:"force"`
}

// StopResult is the `stop` tool's success shape.
type StopResult struct {
	ExitCode int `json:"exit_code"`
}

// Stop implements the `stop` tool.
func (s *Surface) Stop(args StopArgs) (*StopResult, error) {
	code, err := s.sup.Stop(selectorOf(args.Pid, args.Label, args.CommandOrLabel, args.WorkingDirectory), args.Force)
	if err != nil {
		return nil, err
	}
	return &StopResult{ExitCode: code}, nil
}

// RestartArgs is the `restart` tool's argument shape.
type RestartArgs struct {
	Pid              *int    `json:"pid,omitempty"`
	CommandOrLabel   *string `json:"command_or_label,omitempty"`
	WorkingDirectory *string `json:"working_directory,omitempty"`
	Label            *string `json:"label,omitempty"`
}

// RestartResult is the `restart` tool's success shape.
type RestartResult struct {
	Pid int `json:"pid"`
}

// Restart implements the `restart` tool.
func (s *Surface) Restart(args RestartArgs) (*RestartResult, error) {
	snap, err := s.sup.Restart(selectorOf(args.Pid, args.Label, args.CommandOrLabel, args.WorkingDirectory))
	if err != nil {
		return nil, err
	}
	return &RestartResult{Pid: snap.Pid}, nil
}

// ProcessSummary is the entry shape shared by `list` and `get_status`.
// start_time is carried in addition to the literal table in spec §4.7:
// TailClient's restart-follow comparison (spec §4.8 step 8) requires it,
// and get_status/list are the only operations that can supply it.
type ProcessSummary struct {
	Pid              int    `json:"pid"`
	Command          string `json:"command"`
	WorkingDirectory string `json:"working_directory"`
	Status           string `json:"status"`
	Label            string `json:"label"`
	StartTime        string `json:"start_time"`
}

func summaryOf(e registry.Snapshot) ProcessSummary {
	return ProcessSummary{
		Pid:              e.Pid,
		Command:          shellsplit.Join(e.Command),
		WorkingDirectory: e.WorkingDirectory,
		Status:           string(e.Status),
		Label:            e.Label,
		StartTime:        e.StartTime,
	}
}

// ListResult is the `list` tool's success shape.
type ListResult struct {
	Processes []ProcessSummary `json:"processes"`
}

// List implements the `list` tool.
func (s *Surface) List() *ListResult {
	snaps := s.sup.List()
	out := make([]ProcessSummary, 0, len(snaps))
	for _, e := range snaps {
		out = append(out, summaryOf(e))
	}
	return &ListResult{Processes: out}
}

// GetStatusArgs is the `get_status` tool's argument shape.
type GetStatusArgs struct {
	Pid              *int    `json:"pid,omitempty"`
	CommandOrLabel   *string `json:"command_or_label,omitempty"`
	WorkingDirectory *string `json:"working_directory,omitempty"`
}

// GetStatus implements the `get_status` tool.
func (s *Surface) GetStatus(args GetStatusArgs) (*ProcessSummary, error) {
	snap, err := s.sup.GetStatus(selectorOf(args.Pid, nil, args.CommandOrLabel, args.WorkingDirectory))
	if err != nil {
		return nil, err
	}
	summary := summaryOf(snap)
	return &summary, nil
}

// GetOutputArgs is the `get_output` tool's argument shape.
type GetOutputArgs struct {
	Pid        int     `json:"pid"`
	Stream     string  `json:"stream"`
	Lines      *int    `json:"lines,omitempty"`
	BeforeTime *string `json:"before_time,omitempty"`
	SinceTime  *string `json:"since_time,omitempty"`
}

// GetOutputResult is the `get_output` tool's success shape.
type GetOutputResult struct {
	Output []string `json:"output"`
}

// GetOutput implements the `get_output` tool.
func (s *Surface) GetOutput(args GetOutputArgs) (*GetOutputResult, error) {
	lines, err := s.reader.GetOutput(args.Pid, args.Stream, args.Lines, args.SinceTime, args.BeforeTime)
	if err != nil {
		return nil, err
	}
	return &GetOutputResult{Output: lines}, nil
}

// GetLogPathsArgs is the `get_log_paths` tool's argument shape.
type GetLogPathsArgs struct {
	Pid int `json:"pid"`
}

// GetLogPathsResult is the `get_log_paths` tool's success shape. Per
// spec §4.7's table this tool's wire result carries only stdout and
// stderr, unlike LogReader.GetLogPaths which also returns the combined
// path for internal callers (e.g. Start's response). TailClient derives
// the combined path from the stdout path via CombinedFromStdout.
type GetLogPathsResult struct {
	Stdout string `json:"stdout"`
	Stderr string `json:"stderr"`
}

// GetLogPaths implements the `get_log_paths` tool.
func (s *Surface) GetLogPaths(args GetLogPathsArgs) (*GetLogPathsResult, error) {
	paths, err := s.reader.GetLogPaths(args.Pid)
	if err != nil {
		return nil, err
	}
	return &GetLogPathsResult{Stdout: paths.Stdout, Stderr: paths.Stderr}, nil
}

// KillPersistprocResult is the `kill_persistproc` tool's success shape.
type KillPersistprocResult struct {
	Pid int `json:"pid"`
}

// KillPersistproc implements the `kill_persistproc` tool.
func (s *Surface) KillPersistproc() *KillPersistprocResult {
	return &KillPersistprocResult{Pid: s.sup.KillAll()}
}

func selectorOf(pid *int, label, commandOrLabel, workingDirectory *string) supervisor.Selector {
	return supervisor.Selector{
		Pid:              pid,
		Label:            label,
		CommandOrLabel:   commandOrLabel,
		WorkingDirectory: workingDirectory,
	}
}
