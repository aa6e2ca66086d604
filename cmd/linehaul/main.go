// linehaul is the operations CLI for the ingest service: upload a file, queue
// it for processing, and watch the job converge.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

var serverURL string

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd := newRootCommand()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "linehaul: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "linehaul",
		Short:        "Client for the linehaul ingest and processing service",
		SilenceUsage: true,
	}
	cmd.PersistentFlags().StringVarP(&serverURL, "server", "s", "http://localhost:3000", "Base URL of the linehaul API")
	cmd.AddCommand(
		newUploadCmd(),
		newProcessCmd(),
		newStatusCmd(),
		newFilesCmd(),
		newHealthCmd(),
	)
	return cmd
}
