// Command kiro-memory runs the session memory worker and its companion
// tooling: status, reports, backups, JSONL transfer and the stdio tool
// protocol for agent integration.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"kiromemory/internal/config"
	"kiromemory/internal/logging"
)

var (
	// Global flags; they override settings.json and environment values.
	flagDataDir  string
	flagPort     int
	flagLogLevel string

	// cfg is resolved once per invocation in PersistentPreRunE.
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "kiro-memory",
	Short: "Local session memory for coding agents",
	Long: `kiro-memory records agent tool activity as observations, rolls sessions
into summaries and checkpoints, and serves ranked context back over HTTP,
SSE and a stdio tool protocol.

Run "kiro-memory start" to launch the worker, then point your agent hooks
at it. Everything lives in a single SQLite file under the data directory
(default ~/.kiro-memory).`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load()
		if err != nil {
			return err
		}
		if flagDataDir != "" {
			cfg.DataDir = flagDataDir
		}
		if flagPort > 0 {
			cfg.Port = flagPort
		}
		if flagLogLevel != "" {
			cfg.LogLevel = flagLogLevel
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		// The worker gets the full file + console sinks; every other command
		// only surfaces warnings on stderr so stdout stays clean for output.
		if cmd.Name() == "start" {
			return logging.Setup(logging.Config{Level: cfg.LogLevel, Dir: cfg.LogDir(), Console: true})
		}
		level := cfg.LogLevel
		if !strings.EqualFold(level, "SILENT") {
			level = "WARN"
		}
		return logging.Setup(logging.Config{Level: level, Console: true})
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAll()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "data directory (default ~/.kiro-memory)")
	rootCmd.PersistentFlags().IntVar(&flagPort, "port", 0, "worker port (default 3001)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "DEBUG, INFO, WARN, ERROR or SILENT")

	rootCmd.AddCommand(
		startCmd,
		statusCmd,
		reportCmd,
		toolCmd,
		backupCmd,
		exportCmd,
		importCmd,
		versionCmd,
	)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
