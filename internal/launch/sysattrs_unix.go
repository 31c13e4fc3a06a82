//go:build !windows

package launch

import (
	"os/exec"
	"syscall"
)

// configureSysProcAttr places the backend in its own process group so
// termination signals reach any children it spawns.
func configureSysProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}
