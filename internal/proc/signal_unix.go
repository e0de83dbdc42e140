//go:build !windows

package proc

import "syscall"

// killGroup signals the whole process group so shell wrappers and the
// dev server's own children die together.
func killGroup(pid int, sig syscall.Signal) error {
	return syscall.Kill(-pid, sig)
}

// killPID signals a single process by PID.
func killPID(pid int, sig syscall.Signal) error {
	return syscall.Kill(pid, sig)
}

// processExists checks if a process exists.
func processExists(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}
