// Package cmd provides the command-line interface for qfetch.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "qfetch",
	Short: "qfetch learns cache prefetch decisions from memory access traces.",
	Long: `qfetch replays an LLC access trace through an online Q-learning ` +
		`prefetcher, writes the predicted prefetch addresses, and records the ` +
		`learning outcome for later inspection.`,
}

// Execute adds all child commands to the root command and sets flags
// appropriately.
func Execute() {
	err := rootCmd.Execute()
	if err != nil {
		atexit.Exit(1)
	}

	atexit.Exit(0)
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	atexit.Exit(1)
}
