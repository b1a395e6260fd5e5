package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	client "clustermgr/clients/go"
)

var (
	serverAddr string
	timeout    int
)

func main() {
	var rootCmd = &cobra.Command{
		Use:   "clustermgr-cli",
		Short: "clustermgr-cli - cluster manager client",
		Long:  `clustermgr-cli queries the current cluster manager master and places tasks on its workers`,
	}

	rootCmd.PersistentFlags().StringVar(&serverAddr, "server", "localhost:9000", "Server address")
	rootCmd.PersistentFlags().IntVar(&timeout, "timeout", 30, "Request timeout in seconds")

	rootCmd.AddCommand(workersCmd())
	rootCmd.AddCommand(attrCmd())
	rootCmd.AddCommand(tasksCmd())
	rootCmd.AddCommand(scheduleCmd())
	rootCmd.AddCommand(scheduledCmd())
	rootCmd.AddCommand(clusterIDCmd())
	rootCmd.AddCommand(purposesCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// withClient dials the server and runs fn under the request timeout
func withClient(fn func(ctx context.Context, c *client.Client) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeout)*time.Second)
	defer cancel()

	c, err := client.New(ctx, serverAddr, nil)
	if err != nil {
		return fmt.Errorf("connect %s: %w", serverAddr, err)
	}
	defer c.Close()

	return fn(ctx, c)
}
