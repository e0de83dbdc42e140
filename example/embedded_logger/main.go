package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/loykin/previewd/internal/logger"
	"github.com/loykin/previewd/internal/proc"
)

// embedded_logger: demonstrate where preview server output ends up.
// Each build gets rotating <Dir>/<build>.stdout.log and .stderr.log files.
func main() {
	logDir := os.Getenv("PREVIEWD_LOG_DIR")
	if logDir == "" {
		logDir = filepath.Join(os.TempDir(), fmt.Sprintf("previewd-logs-%d", time.Now().UnixNano()))
	}
	_ = os.MkdirAll(logDir, 0o750)

	log := logger.NewDaemonLogger("debug", true)
	log.Info("spawning demo child", "log_dir", logDir)

	p, err := proc.Start(proc.Spec{
		Build:   "logger-demo",
		Command: "sh -c 'echo hello-out; echo hello-err 1>&2; sleep 0.2'",
		Log:     logger.Config{Dir: logDir, MaxSizeMB: 5, MaxBackups: 2},
	})
	if err != nil {
		panic(err)
	}
	time.Sleep(400 * time.Millisecond)
	_ = p.Stop(2 * time.Second)

	fmt.Println("Embedded logger example")
	fmt.Println("  Log directory:", logDir)
	fmt.Println("  Stdout log:", filepath.Join(logDir, "logger-demo.stdout.log"))
	fmt.Println("  Stderr log:", filepath.Join(logDir, "logger-demo.stderr.log"))
	fmt.Println("Tip: set PREVIEWD_LOG_DIR to choose a custom log directory.")
}
