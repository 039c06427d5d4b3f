package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/brauner/raft"
	"github.com/spf13/cobra"
)

var setCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Apply a set command through the replicated log and wait for it to commit",
	Args:  cobra.ExactArgs(2),
	RunE:  runSet,
}

var getCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Read a key from this server's local FSM (not linearizable)",
	Args:  cobra.ExactArgs(1),
	RunE:  runGet,
}

func init() {
	rootCmd.AddCommand(setCmd)
	rootCmd.AddCommand(getCmd)
}

func runSet(cmd *cobra.Command, args []string) error {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	heartbeatMS, _ := cmd.Flags().GetInt64("heartbeat-timeout")
	electionMS, _ := cmd.Flags().GetInt64("election-timeout")

	engine, _, closer, err := openFromFlags(dataDir, heartbeatMS, electionMS, nil)
	if err != nil {
		return err
	}
	defer closer()

	if !waitForLeader(engine, electionMS*3) {
		return fmt.Errorf("no leader elected within %dms", electionMS*3)
	}

	payload, err := json.Marshal(kvCommand{Op: "set", Key: args[0], Value: args[1]})
	if err != nil {
		return fmt.Errorf("encode command: %w", err)
	}

	type outcome struct {
		err error
	}
	done := make(chan outcome, 1)
	var applyErr error
	engine.Do(func(r *raft.Raft) {
		applyErr = r.Apply(payload, func(result interface{}, err error) {
			done <- outcome{err: err}
		})
	})
	if applyErr != nil {
		return fmt.Errorf("apply: %w", applyErr)
	}

	select {
	case o := <-done:
		if o.err != nil {
			return fmt.Errorf("command rejected: %w", o.err)
		}
		fmt.Printf("set %s = %s\n", args[0], args[1])
		return nil
	case <-time.After(10 * time.Second):
		return fmt.Errorf("timed out waiting for commit")
	}
}

func runGet(cmd *cobra.Command, args []string) error {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	heartbeatMS, _ := cmd.Flags().GetInt64("heartbeat-timeout")
	electionMS, _ := cmd.Flags().GetInt64("election-timeout")

	_, fsm, closer, err := openFromFlags(dataDir, heartbeatMS, electionMS, nil)
	if err != nil {
		return err
	}
	defer closer()

	value, ok := fsm.Get(args[0])
	if !ok {
		return fmt.Errorf("key %q not found", args[0])
	}
	fmt.Println(value)
	return nil
}
