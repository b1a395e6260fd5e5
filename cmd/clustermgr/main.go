package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	var rootCmd = &cobra.Command{
		Use:          "clustermgr",
		Short:        "clustermgr - worker registry and task scheduler for a media cluster",
		Long:         `clustermgr elects a master among its replicas, tracks worker liveness and places tasks on workers by purpose`,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
