package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// GlobalFlags are shared by every client-side subcommand.
type GlobalFlags struct {
	ServerURL string
}

func buildRoot() *cobra.Command {
	flags := &GlobalFlags{}
	root := &cobra.Command{
		Use:   "previewd",
		Short: "previewd launches and supervises ephemeral preview servers",
		Long: `previewd brings generated web projects up as locally served preview
instances: it allocates ports, prepares and launches per-build dev
servers, reclaims idle and unhealthy instances, and survives restarts
via a persisted snapshot.

Run 'previewd serve --config=previewd.toml' to start the daemon, then
use the lifecycle subcommands against its HTTP API.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&flags.ServerURL, "server", "http://localhost:8600/api",
		"base URL of the previewd daemon API")

	root.AddCommand(
		createServeCommand(),
		createStartCommand(flags),
		createStopCommand(flags),
		createRestartCommand(flags),
		createExtendCommand(flags),
		createStatusCommand(flags),
		createPortsCommand(flags),
	)
	return root
}
