package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"

	"kiromemory/internal/tooladapter"
)

var (
	reportProject string
	reportPeriod  string
	reportRaw     bool
)

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Render an activity report for a project",
	Long: `Fetches the worker's Markdown report and renders it for the terminal.

Example:
  kiro-memory report --project myapp --period weekly`,
	Args: cobra.NoArgs,
	RunE: runReport,
}

func init() {
	reportCmd.Flags().StringVar(&reportProject, "project", "", "project to report on (default KIRO_MEMORY_PROJECT)")
	reportCmd.Flags().StringVar(&reportPeriod, "period", "weekly", "daily, weekly or monthly")
	reportCmd.Flags().BoolVar(&reportRaw, "raw", false, "print raw Markdown without terminal styling")
}

func runReport(cmd *cobra.Command, args []string) error {
	project := reportProject
	if project == "" {
		project = cfg.Project
	}
	if project == "" {
		return errors.New("a project is required: pass --project or set KIRO_MEMORY_PROJECT")
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	client := tooladapter.ClientFromConfig(cfg)
	md, err := client.GetText(ctx, "/api/report", url.Values{
		"project": {project},
		"period":  {reportPeriod},
		"format":  {"markdown"},
	})
	if err != nil {
		return err
	}

	if !reportRaw {
		renderer, err := glamour.NewTermRenderer(
			glamour.WithAutoStyle(),
			glamour.WithWordWrap(100),
		)
		if err == nil {
			if out, rerr := renderer.Render(md); rerr == nil {
				fmt.Print(out)
				return nil
			}
		}
	}
	fmt.Println(md)
	return nil
}
