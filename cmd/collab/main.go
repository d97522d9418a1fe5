// Command collab joins a collaborative coding session from the terminal.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "collab",
	Short: "Headless client for collaborative coding sessions",
	Long: "collab joins a shared coding session through a relay, synchronizing\n" +
		"files, presence, chat, and terminal commands with the other participants.",
}

func main() {
	rootCmd.AddCommand(joinCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// getEnv returns the value of an environment variable or a default value.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
