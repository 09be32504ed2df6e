// Command persistproc is a persistent process supervisor daemon: it
// decouples a child process's lifetime from the lifetime of whichever
// client started it.
//
// Grounded on the teacher's cmd/agentctl/main.go for the serve
// subcommand's wiring order (config → logger → business object → API
// server → http.Server → signal-driven graceful shutdown), hand-rolled
// flag-package dispatch in place of the teacher's single-purpose
// binary since this CLI fans out to several subcommands.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/irskep/persistproc/internal/apiserver"
	"github.com/irskep/persistproc/internal/clock"
	"github.com/irskep/persistproc/internal/config"
	"github.com/irskep/persistproc/internal/logging"
	"github.com/irskep/persistproc/internal/logstore"
	"github.com/irskep/persistproc/internal/registry"
	"github.com/irskep/persistproc/internal/rpcclient"
	"github.com/irskep/persistproc/internal/serverlog"
	"github.com/irskep/persistproc/internal/shellsplit"
	"github.com/irskep/persistproc/internal/supervisor"
	"github.com/irskep/persistproc/internal/tailclient"
	"github.com/irskep/persistproc/internal/toolsurface"
)

var directTools = map[string]bool{
	"start": true, "stop": true, "restart": true, "list": true,
	"get_status": true, "get_output": true, "get_log_paths": true,
	"kill_persistproc": true,
}

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return 1
	}

	cmd, rest := args[0], args[1:]
	switch {
	case cmd == "serve":
		return runServe(rest)
	case cmd == "run":
		return runRunCommand(rest)
	case directTools[cmd]:
		return runDirectTool(cmd, rest)
	default:
		// Implicit `run`: a bare positional argument that isn't a known
		// sub-command is itself the program to tail (spec §6).
		return runRunCommand(args)
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "usage: persistproc <serve|run|start|stop|restart|list|get_status|get_output|get_log_paths|kill_persistproc> ...")
}

// runServe implements the `serve` sub-command: run the supervisor
// daemon until SIGINT/SIGTERM.
func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	port := fs.Int("port", 0, "port to bind (overrides PERSISTPROC_PORT)")
	dataDir := fs.String("data-dir", "", "data directory (overrides PERSISTPROC_DATA_DIR)")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg := config.Load()
	if *port != 0 {
		cfg.Port = *port
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "failed to create data directory: %v\n", err)
		return 1
	}

	srvLog, err := serverlog.New(cfg.DataDir, time.Now())
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open server log: %v\n", err)
		return 1
	}

	srvLogFile, err := os.OpenFile(srvLog.Path(), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open server log: %v\n", err)
		return 1
	}
	log, err := logging.NewTee(
		logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format, OutputPath: "stdout"},
		zapcore.AddSync(srvLogFile),
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		return 1
	}
	defer log.Sync()

	log.Info("starting persistproc",
		zap.Int("port", cfg.Port),
		zap.String("data_dir", cfg.DataDir),
	)

	reg := registry.New()
	store, err := logstore.New(filepath.Join(cfg.DataDir, "process_logs"))
	if err != nil {
		log.Error("failed to open log store", zap.Error(err))
		return 1
	}

	sup := supervisor.New(reg, store, clock.New(), log, supervisor.Options{PollInterval: cfg.PollIntervalDuration()})
	reader := logstore.NewReader(store, reg, srvLog.Path)
	surface := toolsurface.New(sup, reader)
	api := apiserver.NewServer(surface, log)

	monitorCtx, cancelMonitor := context.WithCancel(context.Background())
	defer cancelMonitor()
	sup.StartMonitor(monitorCtx)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf("127.0.0.1:%d", cfg.Port),
		Handler:      api.Router(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		log.Info("HTTP server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down persistproc")
	cancelMonitor()
	sup.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	}

	log.Info("persistproc stopped")
	return 0
}

// runRunCommand implements the `run` sub-command: the TailClient entry
// point.
func runRunCommand(args []string) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fresh := fs.Bool("fresh", false, "stop any existing matching process before starting")
	onExit := fs.String("on-exit", string(tailclient.ExitAsk), "ask|stop|detach")
	raw := fs.Bool("raw", false, "print raw log lines, including [SYSTEM] lines and timestamps")
	label := fs.String("label", "", "explicit label for the started process")
	askDuplicate := fs.Bool("ask-duplicate", false, "prompt to tail or restart an already-running duplicate")
	port := fs.Int("port", 0, "server port (overrides PERSISTPROC_PORT)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	positional := fs.Args()
	if len(positional) == 0 {
		fmt.Fprintln(os.Stderr, "usage: persistproc run <program> [args...] [--fresh] [--on-exit ask|stop|detach] [--raw] [--label L]")
		return 1
	}

	cfg := config.Load()
	if *port != 0 {
		cfg.Port = *port
	}

	log, err := logging.New(logging.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format, OutputPath: "stderr"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		return 1
	}
	defer log.Sync()

	var labelPtr *string
	if *label != "" {
		labelPtr = label
	}

	client := rpcclient.New(fmt.Sprintf("http://127.0.0.1:%d", cfg.Port))
	tc := tailclient.New(client, os.Stdout, os.Stdin, log)
	return tc.Run(context.Background(), tailclient.Options{
		Program:      positional[0],
		Args:         positional[1:],
		Fresh:        *fresh,
		OnExit:       tailclient.ExitPolicy(*onExit),
		Raw:          *raw,
		Label:        labelPtr,
		AskDuplicate: *askDuplicate,
	})
}

// runDirectTool implements the direct tool sub-commands (spec §6).
func runDirectTool(name string, args []string) int {
	cfg := config.Load()
	client := rpcclient.New(fmt.Sprintf("http://127.0.0.1:%d", cfg.Port))
	ctx := context.Background()

	switch name {
	case "start":
		return runStart(ctx, client, args)
	case "stop":
		return runStop(ctx, client, args)
	case "restart":
		return runRestart(ctx, client, args)
	case "list":
		res, err := client.List(ctx)
		return printResult(res, err)
	case "get_status":
		return runGetStatus(ctx, client, args)
	case "get_output":
		return runGetOutput(ctx, client, args)
	case "get_log_paths":
		return runGetLogPaths(ctx, client, args)
	case "kill_persistproc":
		res, err := client.KillPersistproc(ctx)
		return printResult(res, err)
	default:
		printUsage()
		return 1
	}
}

func runStart(ctx context.Context, client *rpcclient.Client, args []string) int {
	fs := flag.NewFlagSet("start", flag.ContinueOnError)
	wd := fs.String("wd", "", "working directory")
	label := fs.String("label", "", "explicit label")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	positional := fs.Args()
	if len(positional) == 0 {
		fmt.Fprintln(os.Stderr, "usage: persistproc start <command...> [--wd DIR] [--label L]")
		return 1
	}
	var labelPtr *string
	if *label != "" {
		labelPtr = label
	}
	res, err := client.Start(ctx, toolsurface.StartArgs{
		Command:          shellsplit.Join(positional),
		WorkingDirectory: *wd,
		Environment:      environMap(),
		Label:            labelPtr,
	})
	return printResult(res, err)
}

func runStop(ctx context.Context, client *rpcclient.Client, args []string) int {
	fs := flag.NewFlagSet("stop", flag.ContinueOnError)
	force := fs.Bool("force", false, "skip the graceful SIGTERM phase")
	wd := fs.String("wd", "", "working directory (disambiguates command_or_label)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	sel := parseSelector(fs.Args())
	if sel.Pid == nil && sel.CommandOrLabel == nil {
		fmt.Fprintln(os.Stderr, "usage: persistproc stop <pid|label|command...> [--force]")
		return 1
	}
	res, err := client.Stop(ctx, toolsurface.StopArgs{
		Pid:              sel.Pid,
		CommandOrLabel:   sel.CommandOrLabel,
		WorkingDirectory: stringPtrOrNil(*wd),
		Force:            *force,
	})
	return printResult(res, err)
}

func runRestart(ctx context.Context, client *rpcclient.Client, args []string) int {
	fs := flag.NewFlagSet("restart", flag.ContinueOnError)
	wd := fs.String("wd", "", "working directory (disambiguates command_or_label)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	sel := parseSelector(fs.Args())
	if sel.Pid == nil && sel.CommandOrLabel == nil {
		fmt.Fprintln(os.Stderr, "usage: persistproc restart <pid|label|command...>")
		return 1
	}
	res, err := client.Restart(ctx, toolsurface.RestartArgs{
		Pid:              sel.Pid,
		CommandOrLabel:   sel.CommandOrLabel,
		WorkingDirectory: stringPtrOrNil(*wd),
	})
	return printResult(res, err)
}

func runGetStatus(ctx context.Context, client *rpcclient.Client, args []string) int {
	fs := flag.NewFlagSet("get_status", flag.ContinueOnError)
	wd := fs.String("wd", "", "working directory (disambiguates command_or_label)")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	sel := parseSelector(fs.Args())
	if sel.Pid == nil && sel.CommandOrLabel == nil {
		fmt.Fprintln(os.Stderr, "usage: persistproc get_status <pid|label|command...>")
		return 1
	}
	res, err := client.GetStatus(ctx, toolsurface.GetStatusArgs{
		Pid:              sel.Pid,
		CommandOrLabel:   sel.CommandOrLabel,
		WorkingDirectory: stringPtrOrNil(*wd),
	})
	return printResult(res, err)
}

func runGetOutput(ctx context.Context, client *rpcclient.Client, args []string) int {
	fs := flag.NewFlagSet("get_output", flag.ContinueOnError)
	stream := fs.String("stream", "combined", "stdout|stderr|combined")
	lines := fs.Int("lines", -1, "number of trailing lines (default: all)")
	since := fs.String("since-time", "", "ISO-8601 lower bound, inclusive")
	before := fs.String("before-time", "", "ISO-8601 upper bound, exclusive")
	if err := fs.Parse(args); err != nil {
		return 1
	}
	positional := fs.Args()
	if len(positional) != 1 {
		fmt.Fprintln(os.Stderr, "usage: persistproc get_output <pid> [--stream s] [--lines n] [--since-time t] [--before-time t]")
		return 1
	}
	pid, err := strconv.Atoi(positional[0])
	if err != nil {
		fmt.Fprintln(os.Stderr, "pid must be an integer (use 0 for the server's own log)")
		return 1
	}
	var linesPtr *int
	if *lines >= 0 {
		linesPtr = lines
	}
	res, err := client.GetOutput(ctx, toolsurface.GetOutputArgs{
		Pid:        pid,
		Stream:     *stream,
		Lines:      linesPtr,
		SinceTime:  stringPtrOrNil(*since),
		BeforeTime: stringPtrOrNil(*before),
	})
	return printResult(res, err)
}

func runGetLogPaths(ctx context.Context, client *rpcclient.Client, args []string) int {
	if len(args) != 1 {
		fmt.Fprintln(os.Stderr, "usage: persistproc get_log_paths <pid>")
		return 1
	}
	pid, err := strconv.Atoi(args[0])
	if err != nil {
		fmt.Fprintln(os.Stderr, "pid must be an integer")
		return 1
	}
	res, err := client.GetLogPaths(ctx, toolsurface.GetLogPathsArgs{Pid: pid})
	return printResult(res, err)
}

type selector struct {
	Pid            *int
	CommandOrLabel *string
}

// parseSelector implements spec §6's "selectors accept a bare integer
// (pid) or a string (label, or command when followed by further args)".
func parseSelector(tokens []string) selector {
	if len(tokens) == 0 {
		return selector{}
	}
	if len(tokens) == 1 {
		if pid, err := strconv.Atoi(tokens[0]); err == nil {
			return selector{Pid: &pid}
		}
		single := tokens[0]
		return selector{CommandOrLabel: &single}
	}
	joined := shellsplit.Join(tokens)
	return selector{CommandOrLabel: &joined}
}

func stringPtrOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
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

func printResult(result interface{}, err error) int {
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	encoded, jsonErr := json.MarshalIndent(result, "", "  ")
	if jsonErr != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", jsonErr)
		return 1
	}
	fmt.Println(string(encoded))
	return 0
}
