package proc

import (
	"fmt"
	"os/exec"
	"strings"

	"github.com/loykin/previewd/internal/env"
	"github.com/loykin/previewd/internal/logger"
)

// Limits bounds the memory of a spawned dev server. Values are passed to the
// Node runtime via NODE_OPTIONS so a runaway preview cannot take the host down.
type Limits struct {
	MaxHeapMB     int `json:"max_heap_mb" mapstructure:"max_heap_mb"`
	MaxYoungGenMB int `json:"max_young_gen_mb" mapstructure:"max_young_gen_mb"`
}

// NodeOptions renders the limits as NODE_OPTIONS flags, or "" when unset.
func (l Limits) NodeOptions() string {
	var parts []string
	if l.MaxHeapMB > 0 {
		parts = append(parts, fmt.Sprintf("--max-old-space-size=%d", l.MaxHeapMB))
	}
	if l.MaxYoungGenMB > 0 {
		parts = append(parts, fmt.Sprintf("--max-semi-space-size=%d", l.MaxYoungGenMB))
	}
	return strings.Join(parts, " ")
}

// Spec describes a preview server process to be spawned.
type Spec struct {
	Build   string        // build id, used for log file naming
	Command string        // command line to start the server (shell-aware)
	Dir     string        // working directory (project path)
	Environ *env.Env      // base environment with global overrides; nil means OS env
	Env     []string      // extra per-process env in KEY=VALUE form
	Port    int           // port the server is expected to bind
	Limits  Limits        // memory caps injected via NODE_OPTIONS
	Log     logger.Config // rotating file destinations for child output

	// OnOutput/OnError receive child stdout/stderr one line at a time.
	// OnReady fires at most once, on the first line matching a readiness
	// marker. All callbacks run on the streaming goroutines.
	OnOutput func(line string)
	OnError  func(line string)
	OnReady  func()
}

// BuildCommand constructs an *exec.Cmd for the spec's command string.
// It avoids invoking a shell when not necessary, and it also respects
// an explicit shell invocation already present in the command string
// (e.g., "sh -c 'npm run dev'"), avoiding double-wrapping with another shell.
func (s *Spec) BuildCommand() *exec.Cmd {
	cmdStr := strings.TrimSpace(s.Command)
	if cmdStr == "" {
		// #nosec G204
		return exec.Command("/bin/true")
	}
	if _, afterC, ok := parseExplicitShell(cmdStr); ok {
		// Always use absolute shell path to avoid PATH dependency when Env is overridden.
		// #nosec G204
		return exec.Command("/bin/sh", "-c", afterC)
	}
	if strings.ContainsAny(cmdStr, "|&;<>*?`$\"'(){}[]~") {
		// #nosec G204
		return exec.Command("/bin/sh", "-c", cmdStr)
	}
	parts := strings.Fields(cmdStr)
	name := parts[0]
	var args []string
	if len(parts) > 1 {
		args = parts[1:]
	}
	// #nosec G204
	return exec.Command(name, args...)
}

// parseExplicitShell detects patterns like "sh -c <ARG>" or "/bin/sh -c <ARG>" at the
// beginning of cmdStr. It returns (shellPath, afterCArg, true) when matched.
// It preserves the substring after "-c " verbatim to avoid breaking quoting.
func parseExplicitShell(cmdStr string) (string, string, bool) {
	trim := strings.TrimLeft(cmdStr, " \t")
	candidates := []string{"sh -c ", "/bin/sh -c ", "/usr/bin/sh -c "}
	for _, p := range candidates {
		if strings.HasPrefix(trim, p) {
			after := trim[len(p):]
			if n := len(after); n >= 2 {
				if (after[0] == '\'' && after[n-1] == '\'') || (after[0] == '"' && after[n-1] == '"') {
					after = after[1 : n-1]
				}
			}
			return strings.Fields(p)[0], after, true
		}
	}
	return "", "", false
}
