//go:build !windows

package launch

import "syscall"

// terminate sends SIGTERM to the child's process group so helpers spawned
// by the backend stop with it.
func terminate(pid int) error {
	return syscall.Kill(-pid, syscall.SIGTERM)
}

// kill sends SIGKILL to the process group.
func kill(pid int) error {
	return syscall.Kill(-pid, syscall.SIGKILL)
}
