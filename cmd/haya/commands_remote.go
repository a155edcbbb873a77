package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/hayahq/haya/internal/channels"
	"github.com/hayahq/haya/pkg/models"
)

func withClient(fn func(c *rpcClient) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	client, err := dialGateway(cfg)
	if err != nil {
		return err
	}
	defer client.Close()
	return fn(client)
}

func buildChannelsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "channels",
		Short: "Manage channel plugins on the running daemon",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Show registered channels and their status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(c *rpcClient) error {
				var items []channels.ListItem
				if err := c.Call("channels.list", nil, &items); err != nil {
					return err
				}
				for _, item := range items {
					state := "stopped"
					if item.Running {
						state = "running"
						if !item.Status.Connected {
							state = "reconnecting"
						}
					}
					fmt.Printf("%-10s %-12s %s", item.ID, state, item.Name)
					if item.Status.Error != "" {
						fmt.Printf("  (%s)", item.Status.Error)
					}
					fmt.Println()
				}
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "start <channel>",
		Short: "Start one channel plugin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(c *rpcClient) error {
				if err := c.Call("channels.start", map[string]string{"channel": args[0]}, nil); err != nil {
					return err
				}
				fmt.Printf("%s started\n", args[0])
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "stop <channel>",
		Short: "Stop one channel plugin",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(c *rpcClient) error {
				if err := c.Call("channels.stop", map[string]string{"channel": args[0]}, nil); err != nil {
					return err
				}
				fmt.Printf("%s stopped\n", args[0])
				return nil
			})
		},
	})

	return cmd
}

func buildCronCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cron",
		Short: "Manage scheduled jobs on the running daemon",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "Show configured jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(c *rpcClient) error {
				var jobs []models.CronJob
				if err := c.Call("cron.list", nil, &jobs); err != nil {
					return err
				}
				if len(jobs) == 0 {
					fmt.Println("No jobs.")
					return nil
				}
				for _, job := range jobs {
					enabled := " "
					if job.Enabled {
						enabled = "*"
					}
					fmt.Printf("%s %-38s %-16s %-16s %s\n", enabled, job.ID, job.Schedule, job.Action, job.Name)
				}
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show jobs with their next fire time",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(c *rpcClient) error {
				var statuses []struct {
					models.CronJob
					NextRunAt int64 `json:"next_run_at,omitempty"`
				}
				if err := c.Call("cron.status", nil, &statuses); err != nil {
					return err
				}
				for _, st := range statuses {
					next := "-"
					if st.NextRunAt > 0 {
						next = time.UnixMilli(st.NextRunAt).Format(time.RFC3339)
					}
					fmt.Printf("%-38s next %-25s %s\n", st.ID, next, st.Name)
				}
				return nil
			})
		},
	})

	var at, channel, channelID string
	add := &cobra.Command{
		Use:   "add <message>",
		Short: "Schedule a reminder",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if at == "" {
				return fmt.Errorf("--at is required (RFC 3339 timestamp)")
			}
			return withClient(func(c *rpcClient) error {
				params := map[string]string{
					"message":   args[0],
					"at":        at,
					"channel":   channel,
					"channelId": channelID,
				}
				var job models.CronJob
				if err := c.Call("cron.add", params, &job); err != nil {
					return err
				}
				fmt.Printf("Scheduled %s (%s)\n", job.ID, job.Schedule)
				return nil
			})
		},
	}
	add.Flags().StringVar(&at, "at", "", "when to fire (RFC 3339)")
	add.Flags().StringVar(&channel, "channel", "", "delivery channel (default: last active)")
	add.Flags().StringVar(&channelID, "channel-id", "default", "conversation to deliver to")
	cmd.AddCommand(add)

	cmd.AddCommand(&cobra.Command{
		Use:   "remove <job-id>",
		Short: "Delete a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(c *rpcClient) error {
				if err := c.Call("cron.remove", map[string]string{"id": args[0]}, nil); err != nil {
					return err
				}
				fmt.Println("Removed.")
				return nil
			})
		},
	})

	return cmd
}
