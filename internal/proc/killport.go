package proc

import (
	"fmt"
	"syscall"
	"time"

	gopsnet "github.com/shirou/gopsutil/v4/net"
)

// PIDOnPort returns the PID of the process listening on the given TCP
// port, or 0 when nothing is bound. Discovery is OS-level and independent
// of anything the orchestrator tracks, which is what makes it usable for
// zombie reclamation.
func PIDOnPort(port int) (int, error) {
	conns, err := gopsnet.Connections("tcp")
	if err != nil {
		return 0, fmt.Errorf("list tcp connections: %w", err)
	}
	for _, c := range conns {
		if c.Status != "LISTEN" {
			continue
		}
		if int(c.Laddr.Port) == port && c.Pid > 0 {
			return int(c.Pid), nil
		}
	}
	return 0, nil
}

// ListenersInRange maps every TCP port in [minPort, maxPort] with a
// live listener to the owning PID. One enumeration pass serves a whole
// range sweep; probing ports one by one would rescan the table each time.
func ListenersInRange(minPort, maxPort int) (map[int]int, error) {
	conns, err := gopsnet.Connections("tcp")
	if err != nil {
		return nil, fmt.Errorf("list tcp connections: %w", err)
	}
	out := make(map[int]int)
	for _, c := range conns {
		if c.Status != "LISTEN" || c.Pid <= 0 {
			continue
		}
		p := int(c.Laddr.Port)
		if p >= minPort && p <= maxPort {
			out[p] = int(c.Pid)
		}
	}
	return out, nil
}

// KillOnPort terminates whatever process is bound to the TCP port.
// With force it sends SIGKILL immediately; otherwise SIGTERM first with
// a short grace window. Returns true when a process was found and signaled.
func KillOnPort(port int, force bool) (bool, error) {
	pid, err := PIDOnPort(port)
	if err != nil {
		return false, err
	}
	if pid == 0 {
		return false, nil
	}
	if force {
		if err := killGroup(pid, syscall.SIGKILL); err != nil {
			// The group may be gone already; fall back to the single PID.
			_ = killPID(pid, syscall.SIGKILL)
		}
		return true, nil
	}
	if err := killGroup(pid, syscall.SIGTERM); err != nil {
		_ = killPID(pid, syscall.SIGTERM)
	}
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if !processExists(pid) {
			return true, nil
		}
		time.Sleep(50 * time.Millisecond)
	}
	if err := killGroup(pid, syscall.SIGKILL); err != nil {
		_ = killPID(pid, syscall.SIGKILL)
	}
	return true, nil
}

// ForceKillPID sends SIGKILL to the process group, falling back to the
// single PID when the group is already gone.
func ForceKillPID(pid int) {
	if pid <= 0 {
		return
	}
	if err := killGroup(pid, syscall.SIGKILL); err != nil {
		_ = killPID(pid, syscall.SIGKILL)
	}
}
