//go:build unix && !linux

package supervisor

import (
	"errors"
	"os/exec"
	"syscall"
)

// setProcGroup places cmd in a new process group (BSD/Darwin variant:
// no Pdeathsig, which is Linux-only).
func setProcGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func terminateProcessGroup(pid int) error {
	return syscall.Kill(-pid, syscall.SIGTERM)
}

func killProcessGroup(pid int) error {
	return syscall.Kill(-pid, syscall.SIGKILL)
}

func isProcessGone(err error) bool {
	return errors.Is(err, syscall.ESRCH)
}
