package env

import (
	"strings"
	"testing"
)

// FuzzMerge feeds Merge random global and per-process entries to ensure
// it never panics and keeps basic output invariants.
func FuzzMerge(f *testing.F) {
	f.Add([]byte("A=1\nB=${A}-x"), []byte("C=${B}-y"))
	f.Add([]byte("FOO=bar"), []byte("FOO=${FOO}"))
	f.Add([]byte("X=$Y"), []byte("Y=${X}"))

	f.Fuzz(func(t *testing.T, globalB, perB []byte) {
		global := lines(string(globalB))
		per := lines(string(perB))
		if len(global) > 20 {
			global = global[:20]
		}
		if len(per) > 20 {
			per = per[:20]
		}

		e := New()
		e.base = map[string]string{}
		for _, kv := range global {
			if k, v, ok := splitPair(kv); ok {
				e.Set(k, v)
			}
		}
		out := e.Merge(per)

		for _, kv := range out {
			if !strings.Contains(kv, "=") {
				t.Fatalf("bad pair: %q", kv)
			}
			if strings.HasPrefix(kv, "=") {
				t.Fatalf("empty key: %q", kv)
			}
		}
	})
}

func lines(s string) []string {
	var out []string
	for _, ln := range strings.Split(s, "\n") {
		ln = strings.TrimSpace(ln)
		if ln != "" {
			out = append(out, ln)
		}
	}
	return out
}
