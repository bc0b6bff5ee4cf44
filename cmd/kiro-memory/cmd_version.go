package main

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"kiromemory/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("kiro-memory v%s (%s/%s)\n", version.Version, runtime.GOOS, runtime.GOARCH)
	},
}
