//go:build !windows

package main

import (
	"os/exec"
	"syscall"
)

// detachProcess starts the child in its own session so it outlives the
// terminal that launched it.
func detachProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
