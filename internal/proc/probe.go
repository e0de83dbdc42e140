package proc

import (
	"context"
	"net/http"
	"time"
)

const (
	// DefaultHealthTimeout bounds a single health probe.
	DefaultHealthTimeout = 3 * time.Second
	// DefaultPollInterval is the delay between readiness probes.
	DefaultPollInterval = 500 * time.Millisecond
)

// WaitForURL polls url with GET until any HTTP response arrives or the
// timeout elapses. Any status code counts: a dev server returning 500
// while compiling is still accepting connections. Returns false on
// timeout or context cancellation.
func WaitForURL(ctx context.Context, url string, timeout, poll time.Duration) bool {
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	// The client carries no timeout of its own. Each request is bounded
	// by the overall deadline through its context, so a server that has
	// accepted the connection and is answering slowly (a dev server
	// compiling its first page can block for seconds) still counts as
	// ready. poll only paces retries after a failed attempt.
	client := &http.Client{}
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		attemptCtx, cancel := context.WithDeadline(ctx, deadline)
		req, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, url, nil)
		if err != nil {
			cancel()
			return false
		}
		resp, err := client.Do(req)
		cancel()
		if err == nil {
			_ = resp.Body.Close()
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(poll):
		}
	}
	return false
}

// CheckURL reports whether a previously-ready server still looks healthy.
// 2xx and 404 both count: a fresh dev server may not serve the root route
// yet, and that is not a reason to tear it down.
func CheckURL(url string, timeout time.Duration) bool {
	if timeout <= 0 {
		timeout = DefaultHealthTimeout
	}
	client := &http.Client{Timeout: timeout}
	resp, err := client.Get(url)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return true
	}
	return resp.StatusCode == http.StatusNotFound
}
