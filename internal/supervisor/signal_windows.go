//go:build windows

package supervisor

import (
	"os"
	"os/exec"
)

// exitInfo extracts the exit code from the error returned by cmd.Wait()
// on Windows, where there is no signal-derived exit status.
func exitInfo(err error) (code int, ok bool) {
	if err == nil {
		return 0, true
	}
	exitErr, isExit := err.(*exec.ExitError)
	if !isExit {
		return 1, false
	}
	return exitErr.ExitCode(), true
}

// selfTerminateSignal delivers a termination signal to the server's own
// process. Windows has no SIGTERM equivalent, so this requests an
// immediate exit.
func selfTerminateSignal() error {
	proc, err := os.FindProcess(os.Getpid())
	if err != nil {
		return err
	}
	return proc.Kill()
}
