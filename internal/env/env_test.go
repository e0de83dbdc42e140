package env

import (
	"strings"
	"testing"
)

func lookupPair(t *testing.T, out []string, key string) (string, bool) {
	t.Helper()
	for _, kv := range out {
		if v, ok := strings.CutPrefix(kv, key+"="); ok {
			return v, true
		}
	}
	return "", false
}

func TestMergePrecedence(t *testing.T) {
	e := New()
	e.base = map[string]string{"HOME": "/root", "SHARED": "base"}
	e.Set("SHARED", "global")
	e.Set("EXTRA", "g")

	out := e.Merge([]string{"SHARED=per-proc", "PORT=4120"})

	if v, _ := lookupPair(t, out, "SHARED"); v != "per-proc" {
		t.Fatalf("SHARED = %q, want per-proc", v)
	}
	if v, _ := lookupPair(t, out, "HOME"); v != "/root" {
		t.Fatalf("HOME = %q", v)
	}
	if v, _ := lookupPair(t, out, "PORT"); v != "4120" {
		t.Fatalf("PORT = %q", v)
	}
	if v, _ := lookupPair(t, out, "EXTRA"); v != "g" {
		t.Fatalf("EXTRA = %q", v)
	}
}

func TestMergeExpansion(t *testing.T) {
	e := New()
	e.base = map[string]string{"ROOT": "/srv"}
	e.Set("CACHE", "${ROOT}/cache")

	out := e.Merge([]string{"DATA=$ROOT/data", "MISSING=${NOPE}x"})

	if v, _ := lookupPair(t, out, "CACHE"); v != "/srv/cache" {
		t.Fatalf("CACHE = %q", v)
	}
	if v, _ := lookupPair(t, out, "DATA"); v != "/srv/data" {
		t.Fatalf("DATA = %q", v)
	}
	if v, _ := lookupPair(t, out, "MISSING"); v != "x" {
		t.Fatalf("MISSING = %q", v)
	}
}

func TestMergeSkipsMalformed(t *testing.T) {
	e := New()
	e.base = map[string]string{}
	out := e.Merge([]string{"=broken", "novalue", "OK=1"})
	if len(out) != 1 {
		t.Fatalf("out = %v, want only OK", out)
	}
	if v, ok := lookupPair(t, out, "OK"); !ok || v != "1" {
		t.Fatalf("OK = %q, %v", v, ok)
	}
}

func TestUnset(t *testing.T) {
	e := New()
	e.base = map[string]string{}
	e.Set("K", "v")
	e.Unset("K")
	if _, ok := lookupPair(t, e.Merge(nil), "K"); ok {
		t.Fatal("K should be gone after Unset")
	}
}

func TestFromMap(t *testing.T) {
	e := FromMap(map[string]string{"NODE_ENV": "development"})
	e.base = map[string]string{}
	if v, _ := lookupPair(t, e.Merge(nil), "NODE_ENV"); v != "development" {
		t.Fatalf("NODE_ENV = %q", v)
	}
}
