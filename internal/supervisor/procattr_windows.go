//go:build windows

package supervisor

import (
	"fmt"
	"os/exec"
	"strings"
	"syscall"
)

// setProcGroup starts cmd in a new process group, the closest Windows
// equivalent of a POSIX process group (spec §9 "From 'process group'
// POSIX-ism to portable signalling").
func setProcGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP}
}

func terminateProcessGroup(pid int) error {
	return killProcessGroup(pid)
}

func killProcessGroup(pid int) error {
	kill := exec.Command("taskkill", "/F", "/T", "/PID", fmt.Sprintf("%d", pid))
	return kill.Run()
}

func isProcessGone(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(strings.ToLower(err.Error()), "not found")
}
