// Command council is the deliberation engine's CLI entrypoint, grounded on
// jhkimqd-chaos-utils's cobra root-command-plus-subcommands-in-separate-
// files layout and the teacher's cmd/tarsy godotenv/config-dir bootstrap.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	configDir string
	verbose   bool
)

var rootCmd = &cobra.Command{
	Use:   "council",
	Short: "Run and inspect LLM panel deliberations",
	Long: `council orchestrates a panel of language models through a three-stage
deliberation protocol — parallel generation, anonymized peer review, and
chairman synthesis — and aggregates their rankings into a sealed verdict.`,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", getEnv("CONFIG_DIR", "./deploy/config"), "path to configuration directory")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")

	rootCmd.AddCommand(deliberateCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(replayCmd)
}

// Subcommands are defined in separate files:
// - deliberateCmd in deliberate.go
// - serveCmd in serve.go
// - replayCmd in replay.go

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
