//go:build windows

package launch

import "syscall"

var (
	kernel32             = syscall.NewLazyDLL("kernel32.dll")
	procOpenProcess      = kernel32.NewProc("OpenProcess")
	procTerminateProcess = kernel32.NewProc("TerminateProcess")
	procCloseHandle      = kernel32.NewProc("CloseHandle")
)

const processTerminate = 0x0001

// terminate has no SIGTERM equivalent on Windows; both paths call
// TerminateProcess.
func terminate(pid int) error { return kill(pid) }

func kill(pid int) error {
	if pid <= 0 {
		return nil
	}
	ret, _, err := procOpenProcess.Call(uintptr(processTerminate), 0, uintptr(uint32(pid)))
	if ret == 0 {
		// Process already gone; common during rapid termination.
		return nil
	}
	handle := syscall.Handle(ret)
	defer func() { _, _, _ = procCloseHandle.Call(uintptr(handle)) }()

	ret, _, err = procTerminateProcess.Call(uintptr(handle), uintptr(1))
	if ret == 0 {
		return err
	}
	return nil
}
