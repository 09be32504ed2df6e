//go:build linux

package supervisor

import (
	"errors"
	"os/exec"
	"syscall"
)

// setProcGroup places cmd in a new process group so a single Stop call
// can signal the whole subtree (spec §4.5). On Linux, Pdeathsig also
// kills the child if the supervisor itself dies unexpectedly.
func setProcGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGTERM,
	}
}

func terminateProcessGroup(pid int) error {
	return syscall.Kill(-pid, syscall.SIGTERM)
}

func killProcessGroup(pid int) error {
	return syscall.Kill(-pid, syscall.SIGKILL)
}

// isProcessGone reports whether err indicates the target process no
// longer exists (spec §4.5: "a ProcessLookupError during signal
// delivery is treated as already gone").
func isProcessGone(err error) bool {
	return errors.Is(err, syscall.ESRCH)
}
