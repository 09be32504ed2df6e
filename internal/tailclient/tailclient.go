// Package tailclient implements spec §4.8: the client-side algorithm
// behind `persistproc run`.
//
// Grounded on the original's run_and_tail_async / handle_existing_process
// / tail_and_monitor_process_async for the algorithm shape, re-expressed
// with goroutines, channels, and context.Context cancellation instead of
// asyncio tasks, threading.Event, and KeyboardInterrupt. The RPC leg
// reuses rpcclient (itself grounded on the teacher's client.Client).
package tailclient

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"github.com/irskep/persistproc/internal/logging"
	"github.com/irskep/persistproc/internal/logstore"
	"github.com/irskep/persistproc/internal/rpcclient"
	"github.com/irskep/persistproc/internal/shellsplit"
	"github.com/irskep/persistproc/internal/toolsurface"
)

// ExitPolicy is the `--on-exit` flag's value (spec §4.8 step 9).
type ExitPolicy string

const (
	ExitAsk    ExitPolicy = "ask"
	ExitStop   ExitPolicy = "stop"
	ExitDetach ExitPolicy = "detach"
)

// Options configures one `run` invocation.
type Options struct {
	Program          string
	Args             []string
	WorkingDirectory string
	Fresh            bool
	OnExit           ExitPolicy
	Raw              bool
	Label            *string

	// AskDuplicate is the SPEC_FULL.md supplemented flag restoring the
	// original's interactive "[T]ail existing, [R]estart" prompt.
	AskDuplicate bool
}

const (
	connectRetryWindow = 10 * time.Second
	logAppearTimeout   = 5 * time.Second
	statusPollInterval = time.Second
	stopConfirmTimeout = 6 * time.Second
)

// TailClient drives the `run` UX against a remote server.
type TailClient struct {
	client *rpcclient.Client
	stdout io.Writer
	stdin  *os.File
	log    *logging.Logger
}

// New builds a TailClient. stdin is used only for interactive prompts
// (duplicate-handling, on-exit=ask); it must be an *os.File so TTY-ness
// can be checked.
func New(client *rpcclient.Client, stdout io.Writer, stdin *os.File, log *logging.Logger) *TailClient {
	return &TailClient{client: client, stdout: stdout, stdin: stdin, log: log}
}

// Run executes the full TailClient algorithm and returns a CLI exit
// code: 1 if the server was unreachable, the process could not be
// started or adopted, its combined log never appeared, or a stop
// requested on interrupt failed; 0 otherwise (including when a restarted
// successor's combined log cannot be found).
func (t *TailClient) Run(ctx context.Context, opts Options) int {
	tokens := append([]string{opts.Program}, opts.Args...)
	cwd := opts.WorkingDirectory
	if cwd == "" {
		if wd, err := os.Getwd(); err == nil {
			cwd = wd
		}
	}

	if !t.waitForServer(ctx) {
		fmt.Fprintln(t.stdout, "Could not reach the server.")
		fmt.Fprintln(t.stdout, "Start the server with: persistproc serve --port <N>")
		return 1
	}

	summary, err := t.ensureRunning(ctx, tokens, cwd, opts)
	if err != nil {
		fmt.Fprintf(t.stdout, "error: %v\n", err)
		return 1
	}

	combinedPath, ok := t.combinedLogPath(ctx, summary.Pid)
	if !ok {
		return 1
	}
	if !waitForFile(ctx, combinedPath, logAppearTimeout) {
		fmt.Fprintf(t.stdout, "error: log file never appeared: %s\n", combinedPath)
		return 1
	}

	tailCtx, cancelTail := context.WithCancel(ctx)
	defer cancelTail()
	active := newTailer(combinedPath, opts.Raw, t.stdout)
	active.Start(tailCtx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT)
	defer signal.Stop(sigCh)

	pid := summary.Pid
	lastStart := summary.StartTime
	ticker := time.NewTicker(statusPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			cancelTail()
			return 0
		case <-sigCh:
			active.SetBuffering(true)
			cancelTail()
			return t.handleInterrupt(ctx, sigCh, pid, tokens, cwd, opts)
		case <-ticker.C:
			status, err := t.client.GetStatus(ctx, toolsurface.GetStatusArgs{Pid: &pid})
			if err != nil {
				cancelTail()
				return 0
			}
			if status.Status == "running" {
				continue
			}
			next, found := t.findNewerRunning(ctx, tokens, cwd, lastStart)
			if !found {
				cancelTail()
				return 0
			}
			cancelTail()
			nextCombined, ok := t.combinedLogPath(ctx, next.Pid)
			if !ok || !waitForFile(ctx, nextCombined, logAppearTimeout) {
				return 0
			}
			pid = next.Pid
			lastStart = next.StartTime
			tailCtx, cancelTail = context.WithCancel(ctx)
			active = newTailer(nextCombined, opts.Raw, t.stdout)
			active.Start(tailCtx)
		}
	}
}

// ensureRunning implements spec §4.8 steps 1-2.
func (t *TailClient) ensureRunning(ctx context.Context, tokens []string, cwd string, opts Options) (*toolsurface.ProcessSummary, error) {
	list, err := t.client.List(ctx)
	if err != nil {
		return nil, err
	}
	existing := findRunning(list.Processes, tokens, cwd)

	if existing != nil && opts.Fresh {
		pid := existing.Pid
		if _, err := t.client.Stop(ctx, toolsurface.StopArgs{Pid: &pid, Force: true}); err != nil {
			return nil, err
		}
		existing = nil
	}

	if existing != nil && opts.AskDuplicate && isTTY(t.stdin) {
		return t.promptDuplicate(ctx, existing)
	}

	if existing != nil {
		return existing, nil
	}

	commandString := shellsplit.Join(tokens)
	started, err := t.client.Start(ctx, toolsurface.StartArgs{
		Command:          commandString,
		WorkingDirectory: cwd,
		Environment:      environMap(),
		Label:            opts.Label,
	})
	if err != nil {
		return nil, err
	}
	return t.client.GetStatus(ctx, toolsurface.GetStatusArgs{Pid: &started.Pid})
}

// promptDuplicate restores the original's interactive choice between
// tailing the already-running entry and restarting it.
func (t *TailClient) promptDuplicate(ctx context.Context, existing *toolsurface.ProcessSummary) (*toolsurface.ProcessSummary, error) {
	reader := bufio.NewReader(t.stdin)
	for {
		fmt.Fprintf(t.stdout, "\nProcess '%s' is already running with PID %d.\n", existing.Command, existing.Pid)
		fmt.Fprint(t.stdout, "Choose an action: [T]ail existing, [R]estart\n> ")
		line, err := reader.ReadString('\n')
		if err != nil {
			return existing, nil
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "t", "tail":
			return t.client.GetStatus(ctx, toolsurface.GetStatusArgs{Pid: &existing.Pid})
		case "r", "restart":
			pid := existing.Pid
			restarted, err := t.client.Restart(ctx, toolsurface.RestartArgs{Pid: &pid})
			if err != nil {
				return nil, err
			}
			return t.client.GetStatus(ctx, toolsurface.GetStatusArgs{Pid: &restarted.Pid})
		default:
			fmt.Fprintln(t.stdout, "Invalid choice. Please try again.")
		}
	}
}

func (t *TailClient) combinedLogPath(ctx context.Context, pid int) (string, bool) {
	paths, err := t.client.GetLogPaths(ctx, toolsurface.GetLogPathsArgs{Pid: pid})
	if err != nil {
		fmt.Fprintf(t.stdout, "error: %v\n", err)
		return "", false
	}
	return logstore.CombinedFromStdout(paths.Stdout), true
}

// handleInterrupt implements spec §4.8 step 9.
func (t *TailClient) handleInterrupt(ctx context.Context, sigCh chan os.Signal, pid int, tokens []string, cwd string, opts Options) int {
	policy := opts.OnExit
	if policy == "" {
		policy = ExitAsk
	}
	fmt.Fprintln(t.stdout)

	switch policy {
	case ExitStop:
		return t.stopAndWait(ctx, pid)
	case ExitDetach:
		return 0
	default:
		if !isTTY(t.stdin) {
			return 0
		}
		commandString := shellsplit.Join(tokens)
		fmt.Fprintf(t.stdout, "Stop running process '%s' in '%s' (PID %d)? [y/N] ", commandString, cwd, pid)

		answerCh := make(chan string, 1)
		go func() {
			reader := bufio.NewReader(t.stdin)
			line, _ := reader.ReadString('\n')
			answerCh <- strings.ToLower(strings.TrimSpace(line))
		}()

		select {
		case <-sigCh:
			fmt.Fprintln(t.stdout, "\n(detaching)")
			return 0
		case answer := <-answerCh:
			if answer == "y" || answer == "yes" {
				return t.stopAndWait(ctx, pid)
			}
			return 0
		}
	}
}

func (t *TailClient) stopAndWait(ctx context.Context, pid int) int {
	if _, err := t.client.Stop(ctx, toolsurface.StopArgs{Pid: &pid}); err != nil {
		fmt.Fprintf(t.stdout, "error stopping process: %v\n", err)
		return 1
	}
	deadline := time.Now().Add(stopConfirmTimeout)
	for time.Now().Before(deadline) {
		status, err := t.client.GetStatus(ctx, toolsurface.GetStatusArgs{Pid: &pid})
		if err != nil || status.Status != "running" {
			return 0
		}
		time.Sleep(200 * time.Millisecond)
	}
	return 0
}

func (t *TailClient) waitForServer(ctx context.Context) bool {
	deadline := time.Now().Add(connectRetryWindow)
	for {
		if err := t.client.Health(ctx); err == nil {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(250 * time.Millisecond):
		}
	}
}

func (t *TailClient) findNewerRunning(ctx context.Context, tokens []string, cwd, after string) (*toolsurface.ProcessSummary, bool) {
	list, err := t.client.List(ctx)
	if err != nil {
		return nil, false
	}
	for i := range list.Processes {
		p := list.Processes[i]
		if p.Status != "running" || p.WorkingDirectory != cwd || p.StartTime <= after {
			continue
		}
		if sameCommand(p.Command, tokens) {
			return &p, true
		}
	}
	return nil, false
}

func findRunning(procs []toolsurface.ProcessSummary, tokens []string, cwd string) *toolsurface.ProcessSummary {
	for i := range procs {
		p := procs[i]
		if p.Status != "running" || p.WorkingDirectory != cwd {
			continue
		}
		if sameCommand(p.Command, tokens) {
			return &p
		}
	}
	return nil
}

func sameCommand(commandString string, tokens []string) bool {
	got, err := shellsplit.Split(commandString)
	if err != nil || len(got) != len(tokens) {
		return false
	}
	for i := range got {
		if got[i] != tokens[i] {
			return false
		}
	}
	return true
}

func waitForFile(ctx context.Context, path string, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		if _, err := os.Stat(path); err == nil {
			return true
		}
		if time.Now().After(deadline) {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(100 * time.Millisecond):
		}
	}
}

func environMap() map[string]string {
	out := make(map[string]string)
	for _, kv := range os.Environ() {
		if eq := strings.IndexByte(kv, '='); eq >= 0 {
			out[kv[:eq]] = kv[eq+1:]
		}
	}
	return out
}

func isTTY(f *os.File) bool {
	if f == nil {
		return false
	}
	return term.IsTerminal(int(f.Fd()))
}
