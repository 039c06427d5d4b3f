package main

import (
	"fmt"
	"os"

	"github.com/brauner/raft/pkg/log"
	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "raftd",
	Short: "raftd runs a single raft.Raft server backed by a local bbolt store",
	Long: `raftd is a reference process for this module's consensus core: it
pairs pkg/storage's BoltStore with a real wall clock and a
single-process transport, so the library's behavior can be driven and
observed from the command line rather than only from the fixture-based
test harness.`,
}

func init() {
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Output logs in JSON format")
	rootCmd.PersistentFlags().String("data-dir", "./raftd-data", "Directory holding raft.db and cluster.yaml")
	rootCmd.PersistentFlags().String("bind-addr", "127.0.0.1:7000", "Address this server advertises to peers")
	rootCmd.PersistentFlags().Uint64("node-id", 1, "This server's id")
	rootCmd.PersistentFlags().Int64("heartbeat-timeout", 100, "Heartbeat timeout in milliseconds")
	rootCmd.PersistentFlags().Int64("election-timeout", 1000, "Election timeout in milliseconds")

	cobra.OnInitialize(initLogging)

	rootCmd.AddCommand(bootstrapCmd)
	rootCmd.AddCommand(joinCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(metricsCmd)
}

func initLogging() {
	level, _ := rootCmd.PersistentFlags().GetString("log-level")
	jsonOutput, _ := rootCmd.PersistentFlags().GetBool("log-json")
	log.Init(log.Config{
		Level:      log.Level(level),
		JSONOutput: jsonOutput,
	})
}
