package launcher

import (
	"context"
	"errors"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/loykin/previewd/internal/store"
)

func requireUnix(t *testing.T) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("unix-only test")
	}
}

// freePort grabs an ephemeral port and releases it so nothing answers
// the readiness probe.
func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()
	return port
}

// readyProject lays out a directory that sails through preparation
// without invoking the package manager.
func readyProject(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "package.json"), []byte(`{"name":"p","scripts":{"dev":"true","build":"true","start":"true"}}`), 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}
	nm := filepath.Join(dir, "node_modules")
	if err := os.MkdirAll(nm, 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	fresh := time.Now().Add(time.Hour)
	if err := os.Chtimes(nm, fresh, fresh); err != nil {
		t.Fatalf("chtimes: %v", err)
	}
	return dir
}

func TestLaunchExhaustsRetries(t *testing.T) {
	requireUnix(t)
	l := New(Config{
		ReadyTimeout: 300 * time.Millisecond,
		RetryDelay:   10 * time.Millisecond,
		PollInterval: 50 * time.Millisecond,
	})
	port := freePort(t)
	res := l.Launch(t.Context(), Request{
		BuildID:     "b-timeout",
		ProjectPath: readyProject(t),
		Port:        port,
	})
	if res.Status != store.StatusError {
		t.Fatalf("status=%s want %s", res.Status, store.StatusError)
	}
	if res.RetryCount != MaxRetries {
		t.Fatalf("retryCount=%d want %d", res.RetryCount, MaxRetries)
	}
	if res.Err == nil {
		t.Fatalf("expected terminal error")
	}
	if res.Process != nil {
		t.Fatalf("failed launch leaked a process")
	}
}

func TestLaunchCanceledBeforeStart(t *testing.T) {
	l := New(Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res := l.Launch(ctx, Request{BuildID: "b-cancel", ProjectPath: t.TempDir(), Port: 4110})
	if res.Status != store.StatusError {
		t.Fatalf("status=%s", res.Status)
	}
	if !errors.Is(res.Err, context.Canceled) {
		t.Fatalf("err=%v want context.Canceled", res.Err)
	}
	if res.RetryCount != 0 {
		t.Fatalf("retryCount=%d want 0", res.RetryCount)
	}
}

func TestLaunchCanceledDuringReadinessWait(t *testing.T) {
	requireUnix(t)
	l := New(Config{
		ReadyTimeout: 10 * time.Second,
		PollInterval: 50 * time.Millisecond,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	start := time.Now()
	res := l.Launch(ctx, Request{
		BuildID:     "b-cancel-wait",
		ProjectPath: readyProject(t),
		Port:        freePort(t),
	})
	if res.Status != store.StatusError {
		t.Fatalf("status=%s", res.Status)
	}
	if !errors.Is(res.Err, context.DeadlineExceeded) {
		t.Fatalf("err=%v want deadline exceeded", res.Err)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Fatalf("cancellation did not cut the readiness wait short: %s", elapsed)
	}
}

func TestServerCommand(t *testing.T) {
	if got := serverCommand(ModeDevelopment, 4123); got != "npm run dev -- -p 4123" {
		t.Fatalf("dev command=%q", got)
	}
	if got := serverCommand(ModeProduction, 4123); got != "npm run start -- -p 4123" {
		t.Fatalf("start command=%q", got)
	}
}

func TestConfigDefaults(t *testing.T) {
	var c Config
	c.applyDefaults()
	if c.ReadyTimeout != DefaultReadyTimeout || c.InstallTimeout != DefaultInstallTimeout ||
		c.BuildTimeout != DefaultBuildTimeout || c.RetryDelay != DefaultRetryDelay {
		t.Fatalf("defaults not applied: %+v", c)
	}
	if c.Logger == nil {
		t.Fatalf("nil logger after defaults")
	}
}

func TestInstallErrorUnwrap(t *testing.T) {
	inner := errors.New("exit status 1")
	err := &InstallError{Stderr: "npm ERR! boom", Err: inner}
	if !errors.Is(err, inner) {
		t.Fatalf("Unwrap lost the cause")
	}
	if msg := err.Error(); msg == "" || msg == inner.Error() {
		t.Fatalf("unhelpful message: %q", msg)
	}
}
