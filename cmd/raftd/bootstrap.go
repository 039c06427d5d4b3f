package main

import (
	"fmt"

	"github.com/brauner/raft"
	"github.com/brauner/raft/pkg/storage"
	"github.com/spf13/cobra"
)

var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Create a new single-voter cluster in --data-dir",
	Long: `bootstrap persists the initial configuration for a brand-new
cluster consisting of exactly this server, voting. Run it once, before
the first "raftd status" or "raftd metrics" invocation against this
data directory.`,
	RunE: runBootstrap,
}

func runBootstrap(cmd *cobra.Command, args []string) error {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	bindAddr, _ := cmd.Flags().GetString("bind-addr")
	nodeID, _ := cmd.Flags().GetUint64("node-id")

	store, err := storage.NewBoltStore(dataDir)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	cfg := raft.Configuration{Servers: []raft.Server{
		{ID: nodeID, Address: bindAddr, Voting: true},
	}}
	if err := store.Bootstrap(cfg); err != nil {
		return fmt.Errorf("bootstrap: %w", err)
	}

	if err := saveDescriptor(dataDir, &clusterDescriptor{NodeID: nodeID, BindAddr: bindAddr}); err != nil {
		return err
	}

	fmt.Printf("bootstrapped single-voter cluster: node %d at %s\n", nodeID, bindAddr)
	return nil
}
