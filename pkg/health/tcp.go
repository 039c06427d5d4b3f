package health

import (
	"context"
	"fmt"
	"net"
	"time"
)

// DialPeer checks that address accepts a TCP connection within
// timeout, the way cmd/raftd's join subcommand confirms a candidate
// peer is actually listening before handing its address to
// raft.AddServer — catching a typo'd address immediately instead of
// waiting for the replication loop to time out on it.
func DialPeer(ctx context.Context, address string, timeout time.Duration) error {
	dialer := &net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return fmt.Errorf("health: dial %s: %w", address, err)
	}
	return conn.Close()
}
