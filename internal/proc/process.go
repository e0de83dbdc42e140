package proc

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/loykin/previewd/internal/env"
)

// readyMarkers are log fragments dev servers print once they accept
// connections. Matching one is a heuristic substitute for a readiness
// protocol; WaitForURL remains the authoritative check.
var readyMarkers = []string{
	"Ready in",
	"ready in",
	"started server",
	"Local:",
	"Listening on",
	"listening on",
	"Accepting connections",
}

// Process is a spawned preview server owned by the launcher until handed
// to the orchestrator registry.
type Process struct {
	mu        sync.Mutex
	spec      Spec
	cmd       *exec.Cmd
	status    Status
	stopping  bool
	readyOnce sync.Once
	outCloser io.WriteCloser
	errCloser io.WriteCloser
	waitDone  chan struct{} // closed after cmd.Wait returns and streams drain
}

// Start spawns the process described by spec and begins streaming its
// output. It returns as soon as the child is running; readiness is
// observed asynchronously via spec.OnReady and WaitForURL.
func Start(spec Spec) (*Process, error) {
	p := &Process{spec: spec}

	cmd := spec.BuildCommand()
	if spec.Dir != "" {
		cmd.Dir = spec.Dir
	}
	cmd.Env = p.buildEnv()
	configureSysProcAttr(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("stderr pipe: %w", err)
	}

	if spec.Log.Dir != "" || spec.Log.StdoutPath != "" || spec.Log.StderrPath != "" {
		if spec.Log.Dir != "" {
			_ = os.MkdirAll(spec.Log.Dir, 0o750)
		}
		outW, errW, _ := spec.Log.Writers(spec.Build)
		p.outCloser = outW
		p.errCloser = errW
	}

	if err := cmd.Start(); err != nil {
		p.closeWriters()
		return nil, err
	}

	p.mu.Lock()
	p.cmd = cmd
	p.waitDone = make(chan struct{})
	p.status = Status{
		Build:     spec.Build,
		Running:   true,
		PID:       cmd.Process.Pid,
		Port:      spec.Port,
		StartedAt: time.Now(),
	}
	p.mu.Unlock()

	var streams sync.WaitGroup
	streams.Add(2)
	go func() {
		defer streams.Done()
		p.scanLines(stdout, p.outCloser, spec.OnOutput, true)
	}()
	go func() {
		defer streams.Done()
		p.scanLines(stderr, p.errCloser, spec.OnError, true)
	}()

	go func() {
		streams.Wait()
		err := cmd.Wait()
		p.mu.Lock()
		p.status.Running = false
		p.status.StoppedAt = time.Now()
		p.status.ExitErr = err
		wd := p.waitDone
		p.waitDone = nil
		p.mu.Unlock()
		p.closeWriters()
		if wd != nil {
			close(wd)
		}
	}()

	return p, nil
}

func (p *Process) buildEnv() []string {
	base := p.spec.Environ
	if base == nil {
		base = env.New()
	}
	extra := append([]string(nil), p.spec.Env...)
	if p.spec.Port > 0 {
		extra = append(extra, "PORT="+strconv.Itoa(p.spec.Port))
	}
	if opts := p.spec.Limits.NodeOptions(); opts != "" {
		extra = append(extra, "NODE_OPTIONS="+opts)
	}
	return base.Merge(extra)
}

// scanLines delivers child output line-wise to the rotating log writer and
// the configured callback. Readiness markers are checked on both streams;
// some toolchains print the ready banner on stderr.
func (p *Process) scanLines(r io.Reader, w io.Writer, cb func(string), checkReady bool) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if w != nil {
			_, _ = io.WriteString(w, line+"\n")
		}
		if cb != nil {
			cb(line)
		}
		if checkReady && p.spec.OnReady != nil && matchesReadyMarker(line) {
			p.readyOnce.Do(func() {
				p.mu.Lock()
				p.status.Ready = true
				p.mu.Unlock()
				p.spec.OnReady()
			})
		}
	}
}

func matchesReadyMarker(line string) bool {
	for _, m := range readyMarkers {
		if strings.Contains(line, m) {
			return true
		}
	}
	return false
}

func (p *Process) closeWriters() {
	p.mu.Lock()
	out, errw := p.outCloser, p.errCloser
	p.outCloser, p.errCloser = nil, nil
	p.mu.Unlock()
	if out != nil {
		_ = out.Close()
	}
	if errw != nil {
		_ = errw.Close()
	}
}

// PID returns the child's PID, or 0 before Start.
func (p *Process) PID() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status.PID
}

// Snapshot returns a copy of the current status.
func (p *Process) Snapshot() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// MarkReady records readiness observed by an external probe (WaitForURL).
func (p *Process) MarkReady() {
	p.mu.Lock()
	p.status.Ready = true
	p.mu.Unlock()
}

// StopRequested reports whether Stop or Kill was called.
func (p *Process) StopRequested() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopping
}

func (p *Process) waitDoneChan() chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waitDone
}

// Alive probes liveness without racing os/exec internals.
func (p *Process) Alive() bool {
	p.mu.Lock()
	cmd := p.cmd
	running := p.status.Running
	p.mu.Unlock()
	if cmd == nil || cmd.Process == nil || !running {
		return false
	}
	pid := cmd.Process.Pid
	// A quickly-exiting child can linger as a zombie; treat that as dead.
	if isZombie(pid) {
		return false
	}
	return processExists(pid)
}

// Stop terminates the process group gracefully, escalating to SIGKILL
// after wait. It is safe to call on an already-dead process.
func (p *Process) Stop(wait time.Duration) error {
	p.mu.Lock()
	p.stopping = true
	cmd := p.cmd
	p.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	if !p.Alive() {
		return nil
	}
	pid := cmd.Process.Pid
	_ = killGroup(pid, syscall.SIGTERM)
	wd := p.waitDoneChan()
	if wd == nil {
		return nil // already reaped
	}
	select {
	case <-wd:
	case <-time.After(wait):
		_ = killGroup(pid, syscall.SIGKILL)
		select {
		case <-wd:
		case <-time.After(200 * time.Millisecond):
			// best-effort
		}
	}
	rs := p.Snapshot()
	return rs.ExitErr
}

// Kill sends SIGKILL to the process group and waits briefly for the reap.
func (p *Process) Kill() error {
	p.mu.Lock()
	p.stopping = true
	cmd := p.cmd
	p.mu.Unlock()
	if cmd == nil || cmd.Process == nil {
		return nil
	}
	pid := cmd.Process.Pid
	_ = killGroup(pid, syscall.SIGKILL)
	if wd := p.waitDoneChan(); wd != nil {
		select {
		case <-wd:
		case <-time.After(200 * time.Millisecond):
			// best-effort
		}
	}
	rs := p.Snapshot()
	return rs.ExitErr
}

// isZombie reports a defunct child on Linux; false elsewhere.
func isZombie(pid int) bool {
	b, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/status")
	if err != nil {
		return false
	}
	return bytes.Contains(b, []byte("State:\tZ"))
}
