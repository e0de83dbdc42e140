package client

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"time"
)

// Client talks to a previewd daemon over its HTTP API.
type Client struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// Config holds client configuration.
type Config struct {
	BaseURL string
	// Timeout bounds a single API call. Start and restart sit through
	// dependency installs and launch retries; the default allows for it.
	Timeout  time.Duration
	Logger   *slog.Logger
	TLS      *TLSClientConfig
	Insecure bool // skip TLS verification
}

// TLSClientConfig configures TLS for talking to an HTTPS daemon.
type TLSClientConfig struct {
	Enabled    bool
	CACert     string // CA certificate file, e.g. the daemon's previewd_ca.crt
	ClientCert string
	ClientKey  string
	ServerName string
	SkipVerify bool
}

// DefaultConfig returns the configuration matching a locally running daemon.
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://localhost:8600/api",
		Timeout: 15 * time.Minute,
	}
}

// DefaultTLSConfig returns the configuration for a local HTTPS daemon.
func DefaultTLSConfig() Config {
	c := DefaultConfig()
	c.BaseURL = "https://localhost:8600/api"
	c.TLS = &TLSClientConfig{Enabled: true}
	return c
}

// InsecureConfig returns an HTTPS configuration that skips certificate
// verification. For local development against auto-generated certs.
func InsecureConfig() Config {
	c := DefaultTLSConfig()
	c.Insecure = true
	return c
}

// New creates a previewd API client.
func New(config Config) *Client {
	if config.BaseURL == "" {
		config.BaseURL = DefaultConfig().BaseURL
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultConfig().Timeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	transport := &http.Transport{}
	if (config.TLS != nil && config.TLS.Enabled) || config.Insecure {
		tlsConf, err := clientTLS(config)
		if err != nil {
			config.Logger.Error("client TLS setup failed", "error", err)
		} else {
			transport.TLSClientConfig = tlsConf
		}
	}
	return &Client{
		baseURL: config.BaseURL,
		logger:  config.Logger,
		client:  &http.Client{Timeout: config.Timeout, Transport: transport},
	}
}

func clientTLS(config Config) (*tls.Config, error) {
	tlsConf := &tls.Config{MinVersion: tls.VersionTLS12}
	if config.Insecure {
		// #nosec G402 explicit opt-in for local development
		tlsConf.InsecureSkipVerify = true
		return tlsConf, nil
	}
	t := config.TLS
	if t == nil {
		return tlsConf, nil
	}
	if t.SkipVerify {
		// #nosec G402 explicit opt-in
		tlsConf.InsecureSkipVerify = true
	}
	if t.ServerName != "" {
		tlsConf.ServerName = t.ServerName
	}
	if t.CACert != "" {
		pem, err := os.ReadFile(t.CACert) // #nosec G304 path comes from client config
		if err != nil {
			return nil, fmt.Errorf("read CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("parse CA certificate %s", t.CACert)
		}
		tlsConf.RootCAs = pool
	}
	if t.ClientCert != "" && t.ClientKey != "" {
		cert, err := tls.LoadX509KeyPair(t.ClientCert, t.ClientKey)
		if err != nil {
			return nil, fmt.Errorf("load client certificate: %w", err)
		}
		tlsConf.Certificates = []tls.Certificate{cert}
	}
	return tlsConf, nil
}

// IsReachable checks if the daemon is running and answering.
func (c *Client) IsReachable(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/ports", nil)
	if err != nil {
		return false
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("daemon unreachable", "error", err)
		return false
	}
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode == http.StatusOK
}

// StartPreview launches a preview and blocks until it is ready or the
// daemon gives up.
func (c *Client) StartPreview(ctx context.Context, req StartRequest) (Preview, error) {
	c.logger.Debug("starting preview", "build", req.BuildID, "user", req.UserID)
	var out Preview
	body, err := json.Marshal(req)
	if err != nil {
		return out, fmt.Errorf("marshal request: %w", err)
	}
	err = c.doJSON(ctx, http.MethodPost, c.baseURL+"/previews/start", body, &out)
	return out, err
}

// StopPreview tears a preview down. The returned bool reports whether
// anything was actually tracked under the build id.
func (c *Client) StopPreview(ctx context.Context, buildID string) (bool, error) {
	var out struct {
		OK      bool `json:"ok"`
		Stopped bool `json:"stopped"`
	}
	u := fmt.Sprintf("%s/previews/stop?build=%s", c.baseURL, url.QueryEscape(buildID))
	if err := c.doJSON(ctx, http.MethodPost, u, nil, &out); err != nil {
		return false, err
	}
	return out.Stopped, nil
}

// RestartPreview stops and relaunches a tracked preview.
func (c *Client) RestartPreview(ctx context.Context, buildID, userID string) (Preview, error) {
	var out Preview
	u := fmt.Sprintf("%s/previews/restart?build=%s&user=%s",
		c.baseURL, url.QueryEscape(buildID), url.QueryEscape(userID))
	err := c.doJSON(ctx, http.MethodPost, u, nil, &out)
	return out, err
}

// ExtendTimeout re-arms the preview's idle timer.
func (c *Client) ExtendTimeout(ctx context.Context, buildID string) error {
	u := fmt.Sprintf("%s/previews/extend?build=%s", c.baseURL, url.QueryEscape(buildID))
	return c.doJSON(ctx, http.MethodPost, u, nil, nil)
}

// Status fetches the state of one preview.
func (c *Client) Status(ctx context.Context, buildID string) (Preview, error) {
	var out Preview
	u := fmt.Sprintf("%s/previews/status?build=%s", c.baseURL, url.QueryEscape(buildID))
	err := c.doJSON(ctx, http.MethodGet, u, nil, &out)
	return out, err
}

// Statuses fetches every tracked preview.
func (c *Client) Statuses(ctx context.Context) ([]Preview, error) {
	var out []Preview
	err := c.doJSON(ctx, http.MethodGet, c.baseURL+"/previews/status", nil, &out)
	return out, err
}

// Ports fetches allocator diagnostics.
func (c *Client) Ports(ctx context.Context) (PortsReport, error) {
	var out PortsReport
	err := c.doJSON(ctx, http.MethodGet, c.baseURL+"/ports", nil, &out)
	return out, err
}

// doJSON performs a request and decodes the response into out when it
// is non-nil. API errors are surfaced as plain errors carrying the
// daemon's message.
func (c *Client) doJSON(ctx context.Context, method, url string, body []byte, out any) error {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rd)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var apiErr ErrorResponse
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("daemon returned %d: %s", resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("daemon returned %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
