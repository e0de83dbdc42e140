package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/previewd"
	"github.com/loykin/previewd/internal/logger"
)

// ServeFlags holds serve-specific options.
type ServeFlags struct {
	ConfigPath string
	Daemonize  bool
	PidFile    string
	LogFile    string
}

func createServeCommand() *cobra.Command {
	flags := &ServeFlags{}
	cmd := &cobra.Command{
		Use:   "serve [previewd.toml]",
		Short: "Run the preview orchestrator daemon",
		Long: `Run the orchestrator: recover persisted state, reclaim orphaned
preview processes, serve the lifecycle HTTP API and sweep unhealthy or
idle previews in the background.

Examples:
  previewd serve previewd.toml
  previewd serve --config=previewd.toml --daemonize`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if flags.ConfigPath == "" && len(args) > 0 {
				flags.ConfigPath = args[0]
			}
			if flags.ConfigPath == "" {
				return fmt.Errorf("config file required. Use --config=previewd.toml or provide as argument")
			}
			return runServe(flags)
		},
	}
	cmd.Flags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file")
	cmd.Flags().BoolVar(&flags.Daemonize, "daemonize", false, "run in the background")
	cmd.Flags().StringVar(&flags.PidFile, "pidfile", "", "PID file path (daemon mode)")
	cmd.Flags().StringVar(&flags.LogFile, "logfile", "", "log file path (daemon mode)")
	return cmd
}

func runServe(flags *ServeFlags) error {
	cfg, err := previewd.LoadConfig(flags.ConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	pidFile := flags.PidFile
	logFile := flags.LogFile
	if pidFile == "" {
		pidFile = cfg.Server.PidFile
	}
	if logFile == "" {
		logFile = cfg.Server.LogFile
	}
	if flags.Daemonize {
		if err := daemonize(pidFile, logFile); err != nil {
			return fmt.Errorf("daemonize: %w", err)
		}
	}
	defer func() { _ = removePidFile(pidFile) }()

	log := logger.NewDaemonLogger(cfg.Log.Level, cfg.Log.Color)
	slog.SetDefault(log)

	oc := cfg.Orchestrator()
	oc.Logger = log
	mgr, err := previewd.New(oc)
	if err != nil {
		return fmt.Errorf("create orchestrator: %w", err)
	}

	if cfg.Store.DSN != "" {
		st, err := previewd.NewStoreFromDSN(cfg.Store.DSN)
		if err != nil {
			return fmt.Errorf("open snapshot store: %w", err)
		}
		defer func() { _ = st.Close() }()
		if err := mgr.SetStore(st); err != nil {
			return fmt.Errorf("prepare snapshot store: %w", err)
		}
	}
	sinks, err := cfg.BuildSinks()
	if err != nil {
		return fmt.Errorf("configure history sinks: %w", err)
	}
	if len(sinks) > 0 {
		mgr.SetHistorySinks(sinks...)
	}

	if cfg.Metrics.Enabled {
		if err := previewd.RegisterMetricsDefault(); err != nil {
			log.Warn("metrics registration failed", "err", err)
		}
		if cfg.Metrics.Listen != "" {
			go func() {
				if err := previewd.ServeMetrics(cfg.Metrics.Listen); err != nil {
					log.Error("metrics server stopped", "err", err)
				}
			}()
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	mgr.LoadState(ctx)
	cancel()
	mgr.StartHealthSweep()

	protocol := "http"
	var server *http.Server
	if cfg.Server.TLS != nil && cfg.Server.TLS.Enabled {
		protocol = "https"
		scfg := cfg.Server
		scfg.Listen = cfg.ListenAddr()
		server, err = previewd.NewTLSServer(scfg, cfg.Workspace, mgr)
	} else {
		server, err = previewd.NewHTTPServer(cfg.ListenAddr(), cfg.Server.BasePath, cfg.Workspace, mgr)
	}
	if err != nil {
		return fmt.Errorf("start %s server: %w", protocol, err)
	}
	log.Info("previewd serving", "protocol", protocol, "listen", cfg.ListenAddr(), "base_path", cfg.Server.BasePath, "workspace", cfg.Workspace)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	log.Info("shutting down")
	mgr.Close()
	return server.Close()
}
