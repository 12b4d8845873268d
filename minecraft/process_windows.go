//go:build windows

package minecraft

import (
	"os"
	"os/exec"
)

func setProcessGroup(cmd *exec.Cmd) {}

func killProcessGroup(proc *os.Process) error {
	return proc.Kill()
}
