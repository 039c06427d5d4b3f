package main

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// clusterDescriptor is the one piece of config worth persisting outside
// bbolt: the bind address and node ID a restarted process needs before
// it has even opened the data directory's raft.db.
type clusterDescriptor struct {
	NodeID   uint64 `yaml:"node_id"`
	BindAddr string `yaml:"bind_addr"`
}

func descriptorPath(dataDir string) string {
	return filepath.Join(dataDir, "cluster.yaml")
}

func loadDescriptor(dataDir string) (*clusterDescriptor, error) {
	data, err := os.ReadFile(descriptorPath(dataDir))
	if err != nil {
		return nil, fmt.Errorf("raftd: read cluster descriptor: %w", err)
	}
	var d clusterDescriptor
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("raftd: parse cluster descriptor: %w", err)
	}
	return &d, nil
}

func saveDescriptor(dataDir string, d *clusterDescriptor) error {
	data, err := yaml.Marshal(d)
	if err != nil {
		return fmt.Errorf("raftd: encode cluster descriptor: %w", err)
	}
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("raftd: create data dir: %w", err)
	}
	if err := os.WriteFile(descriptorPath(dataDir), data, 0644); err != nil {
		return fmt.Errorf("raftd: write cluster descriptor: %w", err)
	}
	return nil
}
