package main

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"kiromemory/internal/tooladapter"
)

var (
	upStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("2"))
	downStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("1"))
	labelStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("6"))
	dimStyle   = lipgloss.NewStyle().Faint(true)
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show worker health and store counts",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	client := tooladapter.ClientFromConfig(cfg)
	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer cancel()

	var health struct {
		Status        string `json:"status"`
		Version       string `json:"version"`
		UptimeSeconds int64  `json:"uptime_seconds"`
	}
	if err := client.Get(ctx, "/health", nil, &health); err != nil {
		fmt.Println(downStyle.Render("worker: down"))
		fmt.Printf("  %v\n", err)
		fmt.Println(dimStyle.Render("  start it with: kiro-memory start"))
		return nil
	}

	var stats struct {
		Counts        map[string]int64 `json:"counts"`
		Version       string           `json:"version"`
		UptimeSeconds int64            `json:"uptime_seconds"`
		SSEClients    int              `json:"sse_clients"`
		EmbedQueue    int              `json:"embed_queue"`
		ActivePlugins int              `json:"active_plugins"`
	}
	if err := client.Get(ctx, "/api/stats", nil, &stats); err != nil {
		return err
	}

	uptime := (time.Duration(stats.UptimeSeconds) * time.Second).String()
	fmt.Printf("%s v%s, up %s\n", upStyle.Render("worker: up"), stats.Version, uptime)
	fmt.Printf("%s http://%s\n", labelStyle.Render("address:"), cfg.ListenAddr())
	fmt.Printf("%s %s\n\n", labelStyle.Render("data:"), cfg.DataDir)

	names := make([]string, 0, len(stats.Counts))
	for name := range stats.Counts {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("  %-16s %d\n", name, stats.Counts[name])
	}
	fmt.Println()
	fmt.Printf("  %-16s %d\n", "sse clients", stats.SSEClients)
	fmt.Printf("  %-16s %d\n", "embed queue", stats.EmbedQueue)
	fmt.Printf("  %-16s %d\n", "active plugins", stats.ActivePlugins)
	return nil
}
