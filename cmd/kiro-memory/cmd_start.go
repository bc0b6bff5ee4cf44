package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"kiromemory/internal/worker"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Run the memory worker in the foreground",
	Long: `Starts the worker: opens the database, loads plugins, begins the
retention and backup schedules and serves the HTTP API until SIGINT or
SIGTERM. A second start against the same data directory refuses to run.

Exit code 0 means a clean drain; 1 means the shutdown was forced or startup
failed.`,
	Args: cobra.NoArgs,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return worker.New(cfg).Run(ctx)
}
