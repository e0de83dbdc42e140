package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/previewd/internal/launcher"
	"github.com/loykin/previewd/internal/logger"
	"github.com/loykin/previewd/internal/orchestrator"
	"github.com/loykin/previewd/internal/ports"
	"github.com/loykin/previewd/internal/proc"
)

// Config is the top-level TOML structure for the daemon.
type Config struct {
	Workspace string        `toml:"workspace" mapstructure:"workspace"`
	Ports     PortsConfig   `toml:"ports" mapstructure:"ports"`
	Lifecycle Lifecycle     `toml:"lifecycle" mapstructure:"lifecycle"`
	Launch    LaunchConfig  `toml:"launch" mapstructure:"launch"`
	Server    ServerConfig  `toml:"server" mapstructure:"server"`
	Metrics   MetricsConfig `toml:"metrics" mapstructure:"metrics"`
	Store     StoreConfig   `toml:"store" mapstructure:"store"`
	History   []HistorySink `toml:"history" mapstructure:"history"`
	Log       LogConfig     `toml:"log" mapstructure:"log"`
}

type PortsConfig struct {
	Min int `toml:"min" mapstructure:"min"`
	Max int `toml:"max" mapstructure:"max"`
}

type Lifecycle struct {
	IdleTimeout    time.Duration `toml:"idle_timeout" mapstructure:"idle_timeout"`
	SettleDelay    time.Duration `toml:"settle_delay" mapstructure:"settle_delay"`
	HealthInterval time.Duration `toml:"health_interval" mapstructure:"health_interval"`
	HealthTimeout  time.Duration `toml:"health_timeout" mapstructure:"health_timeout"`
}

type LaunchConfig struct {
	ReadyTimeout   time.Duration `toml:"ready_timeout" mapstructure:"ready_timeout"`
	InstallTimeout time.Duration `toml:"install_timeout" mapstructure:"install_timeout"`
	BuildTimeout   time.Duration `toml:"build_timeout" mapstructure:"build_timeout"`
	RetryDelay     time.Duration `toml:"retry_delay" mapstructure:"retry_delay"`
	MaxHeapMB      int           `toml:"max_heap_mb" mapstructure:"max_heap_mb"`
	MaxYoungGenMB  int           `toml:"max_young_gen_mb" mapstructure:"max_young_gen_mb"`
	// Env entries are exported to every preview server and to the npm
	// install/build steps, on top of the daemon's own environment.
	Env map[string]string `toml:"env" mapstructure:"env"`
}

type ServerConfig struct {
	Listen        string     `toml:"listen" mapstructure:"listen"`
	BasePath      string     `toml:"base_path" mapstructure:"base_path"`
	PidFile       string     `toml:"pidfile" mapstructure:"pidfile"`
	LogFile       string     `toml:"logfile" mapstructure:"logfile"`
	TLS           *TLSConfig `toml:"tls" mapstructure:"tls"`
	TLSMinVersion string     `toml:"tls_min_version" mapstructure:"tls_min_version"`
	TLSMaxVersion string     `toml:"tls_max_version" mapstructure:"tls_max_version"`
}

type TLSConfig struct {
	Enabled      bool        `toml:"enabled" mapstructure:"enabled"`
	CertFile     string      `toml:"cert_file" mapstructure:"cert_file"`
	KeyFile      string      `toml:"key_file" mapstructure:"key_file"`
	Dir          string      `toml:"dir" mapstructure:"dir"`
	AutoGenerate bool        `toml:"auto_generate" mapstructure:"auto_generate"`
	AutoGen      *AutoGenTLS `toml:"auto_gen" mapstructure:"auto_gen"`
}

// AutoGenTLS tunes self-signed certificate generation.
type AutoGenTLS struct {
	CommonName   string   `toml:"common_name" mapstructure:"common_name"`
	Organization string   `toml:"organization" mapstructure:"organization"`
	DNSNames     []string `toml:"dns_names" mapstructure:"dns_names"`
	IPAddresses  []string `toml:"ip_addresses" mapstructure:"ip_addresses"`
	ValidDays    int      `toml:"valid_days" mapstructure:"valid_days"`
}

type MetricsConfig struct {
	Enabled bool   `toml:"enabled" mapstructure:"enabled"`
	Listen  string `toml:"listen" mapstructure:"listen"`
}

type StoreConfig struct {
	// DSN selects the snapshot backend: postgres://..., sqlite://...,
	// file://... or a bare path.
	DSN string `toml:"dsn" mapstructure:"dsn"`
}

// HistorySink configures one lifecycle event destination.
type HistorySink struct {
	Type  string `toml:"type" mapstructure:"type"` // clickhouse-http | clickhouse | opensearch
	URL   string `toml:"url" mapstructure:"url"`
	DSN   string `toml:"dsn" mapstructure:"dsn"`
	Table string `toml:"table" mapstructure:"table"`
	Index string `toml:"index" mapstructure:"index"`
}

type LogConfig struct {
	Level      string `toml:"level" mapstructure:"level"`
	Color      bool   `toml:"color" mapstructure:"color"`
	Dir        string `toml:"dir" mapstructure:"dir"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

// Load reads and validates a TOML config file.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Validate rejects combinations the daemon cannot run with.
func (c *Config) Validate() error {
	if (c.Ports.Min == 0) != (c.Ports.Max == 0) {
		return fmt.Errorf("ports: min and max must be set together")
	}
	if c.Ports.Min != 0 && c.Ports.Min > c.Ports.Max {
		return fmt.Errorf("ports: min %d exceeds max %d", c.Ports.Min, c.Ports.Max)
	}
	if t := c.Server.TLS; t != nil && t.Enabled {
		if !t.AutoGenerate && (t.CertFile == "" || t.KeyFile == "") {
			return fmt.Errorf("server.tls: cert_file and key_file required unless auto_generate is set")
		}
	}
	for i, h := range c.History {
		switch h.Type {
		case "clickhouse-http", "clickhouse", "opensearch":
		case "":
			return fmt.Errorf("history[%d]: type required", i)
		default:
			return fmt.Errorf("history[%d]: unknown type %q", i, h.Type)
		}
	}
	return nil
}

// Orchestrator maps the file config onto the orchestrator's knobs.
func (c *Config) Orchestrator() orchestrator.Config {
	return orchestrator.Config{
		MinPort:        c.Ports.Min,
		MaxPort:        c.Ports.Max,
		IdleTimeout:    c.Lifecycle.IdleTimeout,
		SettleDelay:    c.Lifecycle.SettleDelay,
		HealthInterval: c.Lifecycle.HealthInterval,
		HealthTimeout:  c.Lifecycle.HealthTimeout,
		Launcher: launcher.Config{
			ReadyTimeout:   c.Launch.ReadyTimeout,
			InstallTimeout: c.Launch.InstallTimeout,
			BuildTimeout:   c.Launch.BuildTimeout,
			RetryDelay:     c.Launch.RetryDelay,
			Limits: proc.Limits{
				MaxHeapMB:     c.Launch.MaxHeapMB,
				MaxYoungGenMB: c.Launch.MaxYoungGenMB,
			},
			Env: c.Launch.Env,
			Log: c.ChildLog(),
		},
	}
}

// ChildLog builds the rotating log destinations for preview processes.
func (c *Config) ChildLog() logger.Config {
	return logger.Config{
		Dir:        c.Log.Dir,
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
		MaxAgeDays: c.Log.MaxAgeDays,
		Compress:   c.Log.Compress,
	}
}

// PortRange returns the configured range or the defaults.
func (c *Config) PortRange() (int, int) {
	if c.Ports.Min == 0 {
		return ports.DefaultMinPort, ports.DefaultMaxPort
	}
	return c.Ports.Min, c.Ports.Max
}

// ListenAddr returns the API listen address or the default.
func (c *Config) ListenAddr() string {
	if c.Server.Listen == "" {
		return ":8600"
	}
	return c.Server.Listen
}
