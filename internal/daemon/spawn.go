package daemon

import (
	"os"
	"os/exec"
	"syscall"

	"gitlab.com/tozd/go/errors"
)

// Spawn starts a daemon as a detached subprocess running the same binary
// with the "daemon" subcommand followed by args.
func Spawn(args ...string) error {
	exe, err := os.Executable()
	if err != nil {
		return errors.Errorf("finding executable path: %w", err)
	}

	cmd := exec.Command(exe, append([]string{"daemon"}, args...)...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.Stdin = nil

	if err := cmd.Start(); err != nil {
		return errors.Errorf("starting daemon: %w", err)
	}

	// Detach; the daemon outlives this process.
	cmd.Process.Release()
	return nil
}
