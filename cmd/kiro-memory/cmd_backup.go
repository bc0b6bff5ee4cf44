package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"kiromemory/internal/tooladapter"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Create, list and restore database snapshots",
}

var backupCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Snapshot the database now",
	Args:  cobra.NoArgs,
	RunE:  runBackupCreate,
}

var backupListCmd = &cobra.Command{
	Use:   "list",
	Short: "List available snapshots, newest first",
	Args:  cobra.NoArgs,
	RunE:  runBackupList,
}

var backupRestoreCmd = &cobra.Command{
	Use:   "restore [filename]",
	Short: "Restore a snapshot over the live database",
	Long: `Replaces the live database with the named snapshot. The current
database is saved as a safety snapshot first. Restart the worker afterwards
so it reopens the restored file.`,
	Args: cobra.ExactArgs(1),
	RunE: runBackupRestore,
}

func init() {
	backupCmd.AddCommand(backupCreateCmd, backupListCmd, backupRestoreCmd)
}

// backupInfo mirrors the worker's backup listing entries.
type backupInfo struct {
	Filename      string           `json:"filename"`
	CreatedAt     string           `json:"created_at"`
	SchemaVersion int              `json:"schema_version"`
	Counts        map[string]int64 `json:"counts"`
	SizeBytes     int64            `json:"size_bytes"`
}

func runBackupCreate(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
	defer cancel()

	var res struct {
		Backup backupInfo `json:"backup"`
	}
	client := tooladapter.ClientFromConfig(cfg)
	if err := client.Post(ctx, "/api/backup/create", struct{}{}, &res); err != nil {
		return err
	}
	fmt.Printf("created %s (%s)\n", res.Backup.Filename, prettySize(res.Backup.SizeBytes))
	return nil
}

func runBackupList(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()

	var res struct {
		Backups []backupInfo `json:"backups"`
	}
	client := tooladapter.ClientFromConfig(cfg)
	if err := client.Get(ctx, "/api/backup/list", nil, &res); err != nil {
		return err
	}
	if len(res.Backups) == 0 {
		fmt.Println("no snapshots yet")
		return nil
	}
	for _, b := range res.Backups {
		fmt.Printf("%-34s %10s  %s\n", b.Filename, prettySize(b.SizeBytes), b.CreatedAt)
	}
	return nil
}

func runBackupRestore(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), time.Minute)
	defer cancel()

	client := tooladapter.ClientFromConfig(cfg)
	var res struct {
		Restored        string `json:"restored"`
		RestartRequired bool   `json:"restart_required"`
	}
	if err := client.Post(ctx, "/api/backup/restore", map[string]string{"filename": args[0]}, &res); err != nil {
		return err
	}
	fmt.Printf("restored %s\n", res.Restored)
	if res.RestartRequired {
		fmt.Println("restart the worker to pick up the restored database")
	}
	return nil
}

func prettySize(n int64) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MiB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KiB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
