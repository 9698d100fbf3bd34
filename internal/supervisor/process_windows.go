// SPDX-License-Identifier: MPL-2.0

//go:build windows

package supervisor

import (
	"context"
	"os"
	"os/exec"
	"syscall"

	"github.com/shirou/gopsutil/v4/process"
)

func configureProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP}
}

func defaultShell() string {
	if comspec := os.Getenv("COMSPEC"); comspec != "" {
		return comspec
	}
	return "cmd"
}

// signalTree has no graceful form on Windows; both phases terminate.
func signalTree(pid int, pids []int, _ bool) error {
	for _, id := range append([]int{pid}, pids...) {
		p, err := process.NewProcess(int32(id))
		if err != nil {
			continue
		}
		_ = p.Kill() //nolint:errcheck // the process may already be gone
	}
	return nil
}

func treeAlive(ctx context.Context, pid int, pids []int) bool {
	for _, id := range append([]int{pid}, pids...) {
		if ok, err := process.PidExistsWithContext(ctx, int32(id)); err == nil && ok {
			return true
		}
	}
	return false
}

func waitStatusCode(exitErr *exec.ExitError) int {
	return exitErr.ExitCode()
}
