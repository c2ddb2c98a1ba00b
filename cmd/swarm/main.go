package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/arcombe012/zergswarm/pkg/log"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "swarm",
	Short: "zergswarm - a distributed HTTP load-generation swarm",
	Long: `zergswarm drives load against a target over three tiers: an
Overmind that partitions work and collects results, Colony worker
processes that each run a batch of Hatchlings, and Hatchlings that
execute a user-defined task mix against the target.`,
}

func init() {
	rootCmd.PersistentFlags().String("log_level", "INFO", "Log level: DEBUG, INFO, WARNING, ERROR")
	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(overmindCmd)
	rootCmd.AddCommand(colonyCmd)
}

func initLogging() {
	flag, _ := rootCmd.PersistentFlags().GetString("log_level")
	log.Init(log.Config{Level: parseLogLevel(flag)})
}

// parseLogLevel maps spec.md §6's CLI level names (DEBUG, INFO, WARNING,
// ERROR) onto pkg/log's Level constants.
func parseLogLevel(s string) log.Level {
	switch s {
	case "DEBUG", "debug":
		return log.DebugLevel
	case "WARNING", "warning", "warn":
		return log.WarnLevel
	case "ERROR", "error":
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}
