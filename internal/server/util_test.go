package server

import "testing"

func TestSanitizeBase(t *testing.T) {
	cases := map[string]string{
		"":       "",
		"/":      "",
		"api":    "/api",
		"/api":   "/api",
		"/api/":  "/api",
		" /api ": "/api",
	}
	for in, want := range cases {
		if got := sanitizeBase(in); got != want {
			t.Fatalf("sanitizeBase(%q)=%q want %q", in, got, want)
		}
	}
}

func TestIsSafeName(t *testing.T) {
	good := []string{"b1", "build-42", "user_7", "v1.2.3", "A-Z.x"}
	for _, s := range good {
		if !isSafeName(s) {
			t.Fatalf("isSafeName(%q)=false", s)
		}
	}
	bad := []string{"", "a b", "a/b", `a\b`, "..", "a..b", "a$b", "büild"}
	for _, s := range bad {
		if isSafeName(s) {
			t.Fatalf("isSafeName(%q)=true", s)
		}
	}
}

func TestIsSafeAbsPath(t *testing.T) {
	if !isSafeAbsPath("") {
		t.Fatalf("empty path must pass (treated as unset)")
	}
	if !isSafeAbsPath("/srv/previews/b1") {
		t.Fatalf("clean absolute path rejected")
	}
	bad := []string{"relative/p", "./x", "/srv/../etc", "/srv/./x"}
	for _, p := range bad {
		if isSafeAbsPath(p) {
			t.Fatalf("isSafeAbsPath(%q)=true", p)
		}
	}
}
