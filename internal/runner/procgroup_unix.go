//go:build unix

package runner

import (
	"os/exec"
	"syscall"
)

func setProcGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killProcGroup terminates the job and everything it spawned. SIGKILL to
// the negative pid reaches the whole group because of Setpgid above.
func killProcGroup(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	if err := syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL); err != nil {
		// Group already gone or never formed; fall back to the leader.
		_ = cmd.Process.Kill()
	}
}
