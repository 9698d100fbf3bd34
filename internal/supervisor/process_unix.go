// SPDX-License-Identifier: MPL-2.0

//go:build !windows

package supervisor

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"slices"
	"syscall"

	"github.com/shirou/gopsutil/v4/process"
	"golang.org/x/sys/unix"
)

// configureProcess starts the shell as leader of its own process group so the
// whole tree can be signalled through the group id.
func configureProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func defaultShell() string {
	if shell := os.Getenv("SHELL"); shell != "" {
		return shell
	}
	return "sh"
}

func signalTree(pgid int, pids []int, kill bool) error {
	sig := unix.SIGTERM
	if kill {
		sig = unix.SIGKILL
	}
	if err := unix.Kill(-pgid, sig); err != nil && !errors.Is(err, unix.ESRCH) {
		return err
	}
	// Descendants that already exited may have had their pid reused by a
	// process we cannot signal.
	for _, pid := range pids {
		if err := unix.Kill(pid, sig); err != nil &&
			!errors.Is(err, unix.ESRCH) && !errors.Is(err, unix.EPERM) {
			return err
		}
	}
	return nil
}

// treeAlive reports whether the group or any enumerated descendant lives.
// Group members that are only unreaped zombies count as gone.
func treeAlive(ctx context.Context, pgid int, pids []int) bool {
	if err := unix.Kill(-pgid, 0); errors.Is(err, unix.ESRCH) {
		return false
	}
	for _, pid := range pids {
		if alive(ctx, pid) {
			return true
		}
	}
	return false
}

func alive(ctx context.Context, pid int) bool {
	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return false
	}
	status, err := p.StatusWithContext(ctx)
	if err != nil {
		return false
	}
	return !slices.Contains(status, process.Zombie)
}

func waitStatusCode(exitErr *exec.ExitError) int {
	if ws, ok := exitErr.Sys().(syscall.WaitStatus); ok && ws.Signaled() {
		return 128 + int(ws.Signal())
	}
	return exitErr.ExitCode()
}
