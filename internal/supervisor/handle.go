package supervisor

import (
	"os/exec"

	"github.com/irskep/persistproc/internal/registry"
)

// processHandle implements registry.Handle over an *exec.Cmd whose
// Wait() is pumped by a single background goroutine (wait, below),
// following the teacher's "goroutine owns Wait(), callers poll a done
// channel" structure (server/process/manager.go waitForExit).
type processHandle struct {
	pid      int
	cmd      *exec.Cmd
	doneCh   chan struct{}
	exitCode int
}

func (h *processHandle) Pid() int { return h.pid }

// Poll is the non-blocking check used by the Monitor loop (spec §4.5).
func (h *processHandle) Poll() (exitCode int, exited bool) {
	select {
	case <-h.doneCh:
		return h.exitCode, true
	default:
		return 0, false
	}
}

func (h *processHandle) Signal(sig registry.Signal) error {
	switch sig {
	case registry.SignalTerm:
		return terminateProcessGroup(h.pid)
	case registry.SignalKill:
		return killProcessGroup(h.pid)
	default:
		return nil
	}
}

// wait runs in its own goroutine, started right after the child spawns,
// and is the only reader of cmd.Wait()'s result.
func (h *processHandle) wait() {
	err := h.cmd.Wait()
	code, _ := exitInfo(err)
	h.exitCode = code
	close(h.doneCh)
}
