package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/previewd/pkg/client"
)

func newClient(flags *GlobalFlags, timeout time.Duration) *client.Client {
	return client.New(client.Config{BaseURL: flags.ServerURL, Timeout: timeout})
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func createStartCommand(flags *GlobalFlags) *cobra.Command {
	var (
		projectPath string
		userID      string
		mode        string
	)
	cmd := &cobra.Command{
		Use:   "start <buildId>",
		Short: "Launch a preview for a generated build",
		Long: `Launch a preview server for a build and wait until it is ready.

Examples:
  previewd start b1 --user=u1
  previewd start b1 --path=/srv/previews/b1 --mode=production`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient(flags, 15*time.Minute)
			p, err := c.StartPreview(context.Background(), client.StartRequest{
				BuildID:     args[0],
				ProjectPath: projectPath,
				UserID:      userID,
				Mode:        mode,
			})
			if err != nil {
				return err
			}
			fmt.Printf("Preview %s ready on %s (pid %d)\n", p.BuildID, p.URL, p.PID)
			return nil
		},
	}
	cmd.Flags().StringVar(&projectPath, "path", "", "project directory (defaults to <workspace>/<buildId> on the daemon)")
	cmd.Flags().StringVar(&userID, "user", "", "owning user id")
	cmd.Flags().StringVar(&mode, "mode", "", "development (default) or production")
	return cmd
}

func createStopCommand(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "stop <buildId>",
		Short: "Stop a running preview",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient(flags, 30*time.Second)
			stopped, err := c.StopPreview(context.Background(), args[0])
			if err != nil {
				return err
			}
			if stopped {
				fmt.Printf("Preview %s stopped\n", args[0])
			} else {
				fmt.Printf("Preview %s was not running\n", args[0])
			}
			return nil
		},
	}
}

func createRestartCommand(flags *GlobalFlags) *cobra.Command {
	var userID string
	cmd := &cobra.Command{
		Use:   "restart <buildId>",
		Short: "Stop and relaunch a tracked preview",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient(flags, 15*time.Minute)
			p, err := c.RestartPreview(context.Background(), args[0], userID)
			if err != nil {
				return err
			}
			fmt.Printf("Preview %s ready on %s (pid %d)\n", p.BuildID, p.URL, p.PID)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user", "", "owning user id")
	return cmd
}

func createExtendCommand(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "extend <buildId>",
		Short: "Re-arm a preview's idle timer (keep-alive)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient(flags, 10*time.Second)
			if err := c.ExtendTimeout(context.Background(), args[0]); err != nil {
				return err
			}
			fmt.Printf("Preview %s idle timer extended\n", args[0])
			return nil
		},
	}
}

func createStatusCommand(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "status [buildId]",
		Short: "Show tracked previews",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient(flags, 10*time.Second)
			if len(args) == 1 {
				p, err := c.Status(context.Background(), args[0])
				if err != nil {
					return err
				}
				return printJSON(p)
			}
			list, err := c.Statuses(context.Background())
			if err != nil {
				return err
			}
			return printJSON(list)
		},
	}
}

func createPortsCommand(flags *GlobalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "ports",
		Short: "Show port allocator diagnostics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c := newClient(flags, 10*time.Second)
			rep, err := c.Ports(context.Background())
			if err != nil {
				return err
			}
			return printJSON(rep)
		},
	}
}
