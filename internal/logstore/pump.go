package logstore

import (
	"bufio"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/irskep/persistproc/internal/clock"
	"github.com/irskep/persistproc/internal/logging"
)

// Pump owns the three open log files for one child and the goroutines
// that fan child stdout/stderr into them.
//
// Grounded on the bufio.Scanner reader pattern in the teacher's
// apps/backend/internal/agentctl/process/manager.go readStderr, adapted
// to fan out to a per-stream file AND a combined file per spec §4.3,
// rather than the teacher's single ring buffer.
type Pump struct {
	clock *clock.Clock
	log   *logging.Logger

	stdoutFile   *os.File
	stderrFile   *os.File
	combinedFile *os.File
	combinedMu   sync.Mutex
}

// NewPump opens the three destination files in append mode.
func NewPump(paths Paths, clk *clock.Clock, log *logging.Logger) (*Pump, error) {
	stdoutFile, err := openAppend(paths.Stdout)
	if err != nil {
		return nil, err
	}
	stderrFile, err := openAppend(paths.Stderr)
	if err != nil {
		stdoutFile.Close()
		return nil, err
	}
	combinedFile, err := openAppend(paths.Combined)
	if err != nil {
		stdoutFile.Close()
		stderrFile.Close()
		return nil, err
	}
	return &Pump{
		clock:        clk,
		log:          log,
		stdoutFile:   stdoutFile,
		stderrFile:   stderrFile,
		combinedFile: combinedFile,
	}, nil
}

func openAppend(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
}

// WriteSystemLine appends a [SYSTEM]-tagged line to the combined file
// only, used by the Supervisor for lifecycle events (started, signal
// sent, exited).
func (p *Pump) WriteSystemLine(msg string) {
	line := p.clock.Now() + " [SYSTEM] " + msg + "\n"
	p.combinedMu.Lock()
	defer p.combinedMu.Unlock()
	if _, err := p.combinedFile.WriteString(line); err != nil {
		p.log.Error("failed writing system line", zap.Error(err))
	}
}

// Start launches the stdout and stderr readers. The returned channel
// closes once both have drained (seen EOF on their pipe) — the caller
// (Supervisor) is responsible for writing any final [SYSTEM] line and
// then calling Close, so the "exited" line lands before the files shut.
func (p *Pump) Start(stdout, stderr io.Reader) <-chan struct{} {
	var wg sync.WaitGroup
	wg.Add(2)
	go p.pumpStream(stdout, p.stdoutFile, "stdout", &wg)
	go p.pumpStream(stderr, p.stderrFile, "stderr", &wg)

	drained := make(chan struct{})
	go func() {
		wg.Wait()
		close(drained)
	}()
	return drained
}

// Close closes all three files. Call only after the drained channel
// from Start has fired and any trailing [SYSTEM] line has been written.
func (p *Pump) Close() {
	p.stdoutFile.Close()
	p.stderrFile.Close()
	p.combinedFile.Close()
}

func (p *Pump) pumpStream(r io.Reader, streamFile *os.File, label string, wg *sync.WaitGroup) {
	defer wg.Done()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)

	for scanner.Scan() {
		line := p.clock.Now() + " " + sanitizeUTF8(scanner.Text()) + "\n"

		if _, err := streamFile.WriteString(line); err != nil {
			p.log.Error("log pump write failed, stream terminated", zap.String("stream", label), zap.Error(err))
			return
		}

		p.combinedMu.Lock()
		_, cErr := p.combinedFile.WriteString(line)
		p.combinedMu.Unlock()
		if cErr != nil {
			p.log.Error("combined log write failed, stream terminated", zap.String("stream", label), zap.Error(cErr))
			return
		}
	}
	if err := scanner.Err(); err != nil {
		p.log.Error("log pump read failed", zap.String("stream", label), zap.Error(err))
	}
}

// sanitizeUTF8 replaces invalid byte sequences with the UTF-8
// replacement character, per spec §4.3 ("decodes UTF-8, invalid bytes
// replaced"). Ranging over a string already performs this substitution.
func sanitizeUTF8(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		out = append(out, r)
	}
	return string(out)
}
