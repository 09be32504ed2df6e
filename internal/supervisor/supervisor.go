// Package supervisor implements spec §4.5: process lifecycle
// operations, signal escalation, and the background Monitor.
//
// Grounded on the teacher's ProcessRunner.Start/Stop
// (apps/backend/internal/agentctl/server/process/runner.go) for the
// two-phase SIGTERM→SIGKILL shutdown shape and process-group spawn, and
// on its server/process/manager.go waitForExit for exit-code extraction.
// The registry-deletion-on-exit behavior of ProcessRunner.wait is
// deliberately NOT carried over: spec §3 requires entries to persist
// forever.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/irskep/persistproc/internal/apperr"
	"github.com/irskep/persistproc/internal/clock"
	"github.com/irskep/persistproc/internal/logging"
	"github.com/irskep/persistproc/internal/logstore"
	"github.com/irskep/persistproc/internal/registry"
	"github.com/irskep/persistproc/internal/shellsplit"
)

// Selector is the union of ways a caller may name a target entry
// (spec Glossary "Selector").
type Selector struct {
	Pid              *int
	Label            *string
	CommandOrLabel   *string
	WorkingDirectory *string
}

// Options configures a Supervisor's timeouts and polling.
type Options struct {
	GracefulTimeout time.Duration // default 8s
	KillTimeout     time.Duration // default 2s
	PollInterval    time.Duration // default 1.0s, env-overridable by caller
}

func (o Options) withDefaults() Options {
	if o.GracefulTimeout <= 0 {
		o.GracefulTimeout = 8 * time.Second
	}
	if o.KillTimeout <= 0 {
		o.KillTimeout = 2 * time.Second
	}
	if o.PollInterval <= 0 {
		o.PollInterval = time.Second
	}
	return o
}

type procBookkeeping struct {
	handle  *processHandle
	pump    *logstore.Pump
	drained <-chan struct{}
}

// Supervisor implements spec §4.5.
type Supervisor struct {
	reg   *registry.Registry
	store *logstore.Store
	clock *clock.Clock
	log   *logging.Logger
	opts  Options

	mu    sync.Mutex
	procs map[int]*procBookkeeping

	monitorOnce sync.Once
}

// New builds a Supervisor.
func New(reg *registry.Registry, store *logstore.Store, clk *clock.Clock, log *logging.Logger, opts Options) *Supervisor {
	return &Supervisor{
		reg:   reg,
		store: store,
		clock: clk,
		log:   log,
		opts:  opts.withDefaults(),
		procs: make(map[int]*procBookkeeping),
	}
}

// Start implements spec §4.5 Start.
func (s *Supervisor) Start(commandString, workingDirectory string, environment map[string]string, label *string) (*registry.Snapshot, error) {
	tokens, err := shellsplit.Split(commandString)
	if err != nil || len(tokens) == 0 {
		return nil, apperr.New(apperr.SpawnFailed, "empty or unparseable command: %q", commandString)
	}

	lbl := defaultLabel(commandString, workingDirectory)
	if label != nil && *label != "" {
		lbl = *label
	}

	if _, found := s.reg.FindRunningByLabel(lbl); found {
		return nil, apperr.New(apperr.Duplicate, "a process labeled %q is already running", lbl)
	}

	if workingDirectory != "" {
		info, statErr := os.Stat(workingDirectory)
		if statErr != nil || !info.IsDir() {
			return nil, apperr.New(apperr.BadWorkingDir, "working directory does not exist: %s", workingDirectory)
		}
	}

	cmd := exec.Command(tokens[0], tokens[1:]...)
	if workingDirectory != "" {
		cmd.Dir = workingDirectory
	}
	cmd.Env = mergeEnv(environment)
	setProcGroup(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, apperr.New(apperr.SpawnFailed, "failed to open stdout pipe: %v", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, apperr.New(apperr.SpawnFailed, "failed to open stderr pipe: %v", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, mapSpawnError(err)
	}
	pid := cmd.Process.Pid

	logPrefix := logstore.LogPrefix(pid, commandString)
	pump, err := logstore.NewPump(s.store.PathsFor(logPrefix), s.clock, s.log)
	if err != nil {
		_ = cmd.Process.Kill()
		_, _ = cmd.Process.Wait()
		return nil, apperr.New(apperr.SpawnFailed, "failed to open log files: %v", err)
	}

	handle := &processHandle{pid: pid, cmd: cmd, doneCh: make(chan struct{})}
	go handle.wait()
	drained := pump.Start(stdout, stderr)
	pump.WriteSystemLine("Process started")

	entry := &registry.Entry{
		Pid:              pid,
		Command:          tokens,
		WorkingDirectory: workingDirectory,
		Environment:      environment,
		Label:            lbl,
		StartTime:        s.clock.Now(),
		Status:           registry.StatusRunning,
		LogPrefix:        logPrefix,
		Handle:           handle,
	}
	if err := s.reg.Insert(entry); err != nil {
		_ = handle.Signal(registry.SignalKill)
		return nil, apperr.New(apperr.Duplicate, "a process labeled %q is already running", lbl)
	}

	s.mu.Lock()
	s.procs[pid] = &procBookkeeping{handle: handle, pump: pump, drained: drained}
	s.mu.Unlock()

	snap, _ := s.reg.Get(pid)
	return &snap, nil
}

// Stop implements spec §4.5 Stop.
func (s *Supervisor) Stop(sel Selector, force bool) (int, error) {
	snap, err := s.resolveSelector(sel)
	if err != nil {
		return 0, err
	}
	if snap.Status != registry.StatusRunning {
		return snap.ExitCode, nil
	}

	s.mu.Lock()
	pb := s.procs[snap.Pid]
	s.mu.Unlock()
	if pb == nil {
		return 0, nil
	}

	initial := registry.SignalTerm
	if force {
		initial = registry.SignalKill
	}
	if sigErr := pb.handle.Signal(initial); sigErr != nil && isProcessGone(sigErr) {
		return s.finalizeTerminated(snap.Pid, pb, 0, "Process already exited")
	}
	pb.pump.WriteSystemLine("Sent signal " + signalName(initial))

	if exited := s.waitForExit(pb.handle, s.opts.GracefulTimeout); exited {
		return s.finalizeTerminated(snap.Pid, pb, pb.handle.exitCode, "Process exited")
	}

	if !force {
		if sigErr := pb.handle.Signal(registry.SignalKill); sigErr != nil && isProcessGone(sigErr) {
			return s.finalizeTerminated(snap.Pid, pb, 0, "Process already exited")
		}
		pb.pump.WriteSystemLine("Sent signal " + signalName(registry.SignalKill))
		if exited := s.waitForExit(pb.handle, s.opts.KillTimeout); exited {
			return s.finalizeTerminated(snap.Pid, pb, pb.handle.exitCode, "Process exited")
		}
	}

	return 0, apperr.New(apperr.Timeout, "process %d did not exit within the timeout", snap.Pid)
}

// finalizeTerminated marks pid terminated if this caller wins the race
// against Monitor (spec §4.5 concurrency rules); otherwise it returns
// whatever exit code the winner recorded.
func (s *Supervisor) finalizeTerminated(pid int, pb *procBookkeeping, code int, systemMsg string) (int, error) {
	transitioned := s.reg.MarkExited(pid, registry.StatusTerminated, code, s.clock.Now())
	if transitioned {
		pb.pump.WriteSystemLine(systemMsg)
		go s.finishProcess(pid)
		return code, nil
	}
	current, _ := s.reg.Get(pid)
	return current.ExitCode, nil
}

// Restart implements spec §4.5 Restart.
func (s *Supervisor) Restart(sel Selector) (*registry.Snapshot, error) {
	snap, err := s.resolveSelector(sel)
	if err != nil {
		return nil, err
	}
	commandString := shellsplit.Join(snap.Command)
	wd := snap.WorkingDirectory
	env := snap.Environment
	label := snap.Label
	pid := snap.Pid

	if _, err := s.Stop(Selector{Pid: &pid}, false); err != nil {
		return nil, err
	}
	return s.Start(commandString, wd, env, &label)
}

// KillAll implements spec §4.5 KillAll.
func (s *Supervisor) KillAll() int {
	for _, snap := range s.reg.Snapshot() {
		if snap.Status != registry.StatusRunning {
			continue
		}
		pid := snap.Pid
		_, _ = s.Stop(Selector{Pid: &pid}, true)
	}
	go func() {
		time.Sleep(150 * time.Millisecond)
		if err := selfTerminateSignal(); err != nil {
			s.log.Error("failed to deliver self-termination signal", zap.Error(err))
		}
	}()
	return os.Getpid()
}

// StartMonitor launches the background Monitor goroutine exactly once.
func (s *Supervisor) StartMonitor(ctx context.Context) {
	s.monitorOnce.Do(func() {
		go func() {
			ticker := time.NewTicker(s.opts.PollInterval)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					s.monitorTick()
				}
			}
		}()
	})
}

func (s *Supervisor) monitorTick() {
	for _, snap := range s.reg.Snapshot() {
		if snap.Status != registry.StatusRunning {
			continue
		}
		h := s.reg.Handle(snap.Pid)
		if h == nil {
			continue
		}
		code, exited := h.Poll()
		if !exited {
			continue
		}
		status := registry.StatusExited
		if code != 0 {
			status = registry.StatusFailed
		}
		transitioned := s.reg.MarkExited(snap.Pid, status, code, s.clock.Now())
		if !transitioned {
			continue
		}
		s.mu.Lock()
		pb := s.procs[snap.Pid]
		s.mu.Unlock()
		if pb != nil {
			pb.pump.WriteSystemLine(fmt.Sprintf("Process exited with code %d", code))
			go s.finishProcess(snap.Pid)
		}
	}
}

// Shutdown force-stops every running entry, for server SIGTERM/SIGINT
// handling (spec §5 "Shutdown").
func (s *Supervisor) Shutdown() {
	for _, snap := range s.reg.Snapshot() {
		if snap.Status != registry.StatusRunning {
			continue
		}
		pid := snap.Pid
		_, _ = s.Stop(Selector{Pid: &pid}, true)
	}
}

// List returns a snapshot of every entry, for the `list` tool.
func (s *Supervisor) List() []registry.Snapshot {
	return s.reg.Snapshot()
}

// GetStatus resolves sel to its entry snapshot, for `get_status`.
func (s *Supervisor) GetStatus(sel Selector) (registry.Snapshot, error) {
	return s.resolveSelector(sel)
}

func (s *Supervisor) finishProcess(pid int) {
	s.mu.Lock()
	pb := s.procs[pid]
	delete(s.procs, pid)
	s.mu.Unlock()
	if pb == nil {
		return
	}
	<-pb.drained
	pb.pump.Close()
}

func (s *Supervisor) waitForExit(h *processHandle, timeout time.Duration) bool {
	if timeout <= 0 {
		select {
		case <-h.doneCh:
			return true
		default:
			return false
		}
	}
	select {
	case <-h.doneCh:
		return true
	case <-time.After(timeout):
		return false
	}
}

func (s *Supervisor) resolveSelector(sel Selector) (registry.Snapshot, error) {
	if sel.Pid != nil {
		snap, ok := s.reg.Get(*sel.Pid)
		if !ok {
			return registry.Snapshot{}, apperr.New(apperr.NotFound, "no such process: %d", *sel.Pid)
		}
		return snap, nil
	}
	if sel.Label != nil {
		snap, ok := s.reg.FindRunningByLabel(*sel.Label)
		if !ok {
			return registry.Snapshot{}, apperr.New(apperr.NotFound, "no running process labeled %q", *sel.Label)
		}
		return snap, nil
	}
	if sel.CommandOrLabel != nil {
		if snap, ok := s.reg.FindRunningByLabel(*sel.CommandOrLabel); ok {
			return snap, nil
		}
		tokens, splitErr := shellsplit.Split(*sel.CommandOrLabel)
		if splitErr != nil || len(tokens) == 0 {
			return registry.Snapshot{}, apperr.New(apperr.NotFound, "no running process matches %q", *sel.CommandOrLabel)
		}
		wd := ""
		if sel.WorkingDirectory != nil {
			wd = *sel.WorkingDirectory
		}
		matches := s.reg.FindAllRunningByCommand(tokens, wd)
		switch len(matches) {
		case 0:
			return registry.Snapshot{}, apperr.New(apperr.NotFound, "no running process matches %q", *sel.CommandOrLabel)
		case 1:
			return matches[0], nil
		default:
			return registry.Snapshot{}, apperr.New(apperr.Ambiguous, "multiple running processes match %q; narrow with working_directory", *sel.CommandOrLabel)
		}
	}
	return registry.Snapshot{}, apperr.New(apperr.NotFound, "no selector provided")
}

func defaultLabel(commandString, workingDirectory string) string {
	return fmt.Sprintf("%s in %s", commandString, workingDirectory)
}

func signalName(sig registry.Signal) string {
	if sig == registry.SignalKill {
		return "SIGKILL"
	}
	return "SIGTERM"
}

// mergeEnv merges the inherited environment with overrides; explicit
// keys win (spec §4.5 "env = inherited env merged with environment").
func mergeEnv(overrides map[string]string) []string {
	base := os.Environ()
	index := make(map[string]int, len(base))
	for i, kv := range base {
		if eq := strings.IndexByte(kv, '='); eq >= 0 {
			index[kv[:eq]] = i
		}
	}
	for k, v := range overrides {
		entry := k + "=" + v
		if i, ok := index[k]; ok {
			base[i] = entry
		} else {
			base = append(base, entry)
			index[k] = len(base) - 1
		}
	}
	return base
}

// mapSpawnError maps OS spawn failures to spec §7's stable error kinds.
func mapSpawnError(err error) error {
	if errors.Is(err, exec.ErrNotFound) {
		return apperr.New(apperr.CommandNotFound, "command not found: %v", err)
	}
	var pathErr *fs.PathError
	if errors.As(err, &pathErr) {
		if os.IsPermission(pathErr.Err) {
			return apperr.New(apperr.PermissionDenied, "permission denied: %v", err)
		}
		if os.IsNotExist(pathErr.Err) {
			return apperr.New(apperr.CommandNotFound, "command not found: %v", err)
		}
	}
	return apperr.New(apperr.SpawnFailed, "failed to start process: %v", err)
}
