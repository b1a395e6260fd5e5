package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	client "clustermgr/clients/go"
	"clustermgr/pkg/manager"
	"clustermgr/pkg/scheduler"
)

func workersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "workers [purpose]",
		Short: "List workers of a purpose (default: all)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			purpose := manager.AllPurposes
			if len(args) == 1 {
				purpose = args[0]
			}
			return withClient(func(ctx context.Context, c *client.Client) error {
				ids, err := c.GetWorkers(ctx, purpose)
				if err != nil {
					return err
				}
				printList(ids, "(no workers)")
				return nil
			})
		},
	}
}

func attrCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "attr <worker-id>",
		Short: "Show a worker's attributes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(ctx context.Context, c *client.Client) error {
				raw, err := c.GetWorkerAttr(ctx, args[0])
				if err != nil {
					return err
				}
				var out bytes.Buffer
				if err := json.Indent(&out, raw, "", "  "); err != nil {
					return err
				}
				fmt.Println(out.String())
				return nil
			})
		},
	}
}

func tasksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tasks <worker-id>",
		Short: "List tasks held by a worker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(ctx context.Context, c *client.Client) error {
				tasks, err := c.GetTasks(ctx, args[0])
				if err != nil {
					return err
				}
				printList(tasks, "(no tasks)")
				return nil
			})
		},
	}
}

func scheduleCmd() *cobra.Command {
	var (
		isp     string
		region  string
		reserve time.Duration
	)

	cmd := &cobra.Command{
		Use:   "schedule <purpose> <task>",
		Short: "Place a task on a worker",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pref := scheduler.Preference{ISP: isp, Region: region}
			return withClient(func(ctx context.Context, c *client.Client) error {
				p, err := c.Schedule(ctx, args[0], args[1], pref, reserve)
				if err != nil {
					return err
				}
				fmt.Printf("Worker: %s\n", p.Worker)
				if p.Info.IP != "" {
					fmt.Printf("Address: %s:%d\n", p.Info.IP, p.Info.Port)
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&isp, "isp", "", "Preferred ISP")
	cmd.Flags().StringVar(&region, "region", "", "Preferred region")
	cmd.Flags().DurationVar(&reserve, "reserve", 0, "Reservation time (default: server setting)")

	return cmd
}

func scheduledCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scheduled <purpose> <task>",
		Short: "Show which worker a task is reserved to",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(ctx context.Context, c *client.Client) error {
				worker, err := c.GetScheduled(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				if worker == "" {
					fmt.Println("(not scheduled)")
					return nil
				}
				fmt.Println(worker)
				return nil
			})
		},
	}
}

func clusterIDCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cluster-id",
		Short: "Show the cluster ID",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(ctx context.Context, c *client.Client) error {
				id, err := c.GetClusterID(ctx)
				if err != nil {
					return err
				}
				fmt.Println(id)
				return nil
			})
		},
	}
}

func purposesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "purposes",
		Short: "List purposes known to the cluster",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withClient(func(ctx context.Context, c *client.Client) error {
				purposes, err := c.GetPurposes(ctx)
				if err != nil {
					return err
				}
				printList(purposes, "(no purposes)")
				return nil
			})
		},
	}
}

func printList(items []string, empty string) {
	if len(items) == 0 {
		fmt.Println(empty)
		return
	}
	for i, item := range items {
		fmt.Printf("%d) %s\n", i+1, item)
	}
}
