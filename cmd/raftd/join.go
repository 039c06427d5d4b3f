package main

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/brauner/raft"
	"github.com/brauner/raft/pkg/health"
	"github.com/spf13/cobra"
)

var joinCmd = &cobra.Command{
	Use:   "join <peer-id> <peer-address>",
	Short: "Add a non-voting server to this server's configuration",
	Long: `join dials the candidate peer address to catch a typo or an
unreachable host before committing it to the configuration, then calls
AddServer. Since raftd does not ship a network transport, the new
server must already be reachable through whatever IO.Send this process
uses; in the single-process demo configuration this only makes sense
against this server's own address.`,
	Args: cobra.ExactArgs(2),
	RunE: runJoin,
}

func runJoin(cmd *cobra.Command, args []string) error {
	peerID, err := strconv.ParseUint(args[0], 10, 64)
	if err != nil {
		return fmt.Errorf("invalid peer id %q: %w", args[0], err)
	}
	peerAddr := args[1]

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := health.DialPeer(ctx, peerAddr, 3*time.Second); err != nil {
		return fmt.Errorf("peer unreachable, not joining: %w", err)
	}

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

	var addErr error
	engine.Do(func(r *raft.Raft) {
		addErr = r.AddServer(peerID, peerAddr)
	})
	if addErr != nil {
		return fmt.Errorf("add server: %w", addErr)
	}

	fmt.Printf("server %d (%s) added to configuration\n", peerID, peerAddr)
	return nil
}
