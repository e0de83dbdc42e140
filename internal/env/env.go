// Package env composes the environment handed to preview server
// processes: the daemon's own environment, global overrides from the
// config file, then per-process entries, with ${VAR} expansion against
// the composed set.
package env

import (
	"os"
	"strings"
)

type Env struct {
	overrides map[string]string
	base      map[string]string // cached OS environment
}

func New() *Env {
	return &Env{overrides: make(map[string]string)}
}

// FromMap builds an Env whose global overrides come from m.
func FromMap(m map[string]string) *Env {
	e := New()
	for k, v := range m {
		e.Set(k, v)
	}
	return e
}

// FromOS caches the daemon's current environment as the base. Merge
// calls it lazily when the base was never captured.
func (e *Env) FromOS() {
	base := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := splitPair(kv); ok {
			base[k] = v
		}
	}
	e.base = base
}

func (e *Env) Set(k, v string) {
	if k == "" {
		return
	}
	if e.overrides == nil {
		e.overrides = make(map[string]string)
	}
	e.overrides[k] = v
}

func (e *Env) Unset(k string) {
	delete(e.overrides, k)
}

// Merge returns the final "K=V" slice: base environment, then global
// overrides, then extra entries, later wins. Values are expanded with
// $VAR / ${VAR} against the composed map; unknown references expand to
// the empty string. Expansion is single-pass.
func (e *Env) Merge(extra []string) []string {
	if e.base == nil {
		e.FromOS()
	}
	m := make(map[string]string, len(e.base)+len(e.overrides)+len(extra))
	for k, v := range e.base {
		m[k] = v
	}
	for k, v := range e.overrides {
		if k != "" {
			m[k] = v
		}
	}
	for _, kv := range extra {
		if k, v, ok := splitPair(kv); ok {
			m[k] = v
		}
	}

	lookup := func(name string) string { return m[name] }
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+os.Expand(v, lookup))
	}
	return out
}

func splitPair(kv string) (k, v string, ok bool) {
	i := strings.IndexByte(kv, '=')
	if i <= 0 {
		return "", "", false
	}
	return kv[:i], kv[i+1:], true
}
