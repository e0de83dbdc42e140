//go:build windows

package proc

import "syscall"

var (
	kernel32             = syscall.NewLazyDLL("kernel32.dll")
	procOpenProcess      = kernel32.NewProc("OpenProcess")
	procTerminateProcess = kernel32.NewProc("TerminateProcess")
	procCloseHandle      = kernel32.NewProc("CloseHandle")
)

const (
	processTerminate        = 0x0001
	processQueryInformation = 0x0400
)

// killGroup terminates a Windows process by PID. Process groups are not
// signalable the Unix way; the dev server's children are left to the OS.
func killGroup(pid int, sig syscall.Signal) error {
	return killPID(pid, sig)
}

// killPID terminates a Windows process by PID.
func killPID(pid int, sig syscall.Signal) error {
	if pid <= 0 {
		return nil
	}
	if sig == 0 {
		return checkProcessExists(pid)
	}
	handle, err := openProcess(processTerminate, false, uint32(pid))
	if err != nil {
		// Process likely gone already; treat as terminated.
		return nil
	}
	defer func() { _ = closeHandle(handle) }()
	ret, _, callErr := procTerminateProcess.Call(uintptr(handle), uintptr(1))
	if ret == 0 {
		return callErr
	}
	return nil
}

func checkProcessExists(pid int) error {
	handle, err := openProcess(processQueryInformation, false, uint32(pid))
	if err != nil {
		return err
	}
	defer func() { _ = closeHandle(handle) }()
	return nil
}

func openProcess(access uint32, inheritHandle bool, processID uint32) (syscall.Handle, error) {
	inherit := 0
	if inheritHandle {
		inherit = 1
	}
	ret, _, err := procOpenProcess.Call(
		uintptr(access),
		uintptr(inherit),
		uintptr(processID),
	)
	if ret == 0 {
		return 0, err
	}
	return syscall.Handle(ret), nil
}

func closeHandle(handle syscall.Handle) error {
	ret, _, err := procCloseHandle.Call(uintptr(handle))
	if ret == 0 {
		return err
	}
	return nil
}

// processExists checks if a process exists.
func processExists(pid int) bool {
	return checkProcessExists(pid) == nil
}
