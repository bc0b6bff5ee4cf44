package main

import (
	"os"

	"github.com/spf13/cobra"

	"kiromemory/internal/tooladapter"
)

var toolCmd = &cobra.Command{
	Use:   "tool",
	Short: "Serve the agent tool protocol on stdin/stdout",
	Long: `Speaks the length-framed JSON-RPC tool protocol: an agent writes
"Content-Length: N" framed requests on stdin and reads framed responses on
stdout. Every tool relays to the running worker; logs go to stderr so the
protocol stream stays clean.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		adapter := tooladapter.New(tooladapter.ClientFromConfig(cfg))
		return adapter.Serve(cmd.Context(), os.Stdin, os.Stdout)
	},
}
