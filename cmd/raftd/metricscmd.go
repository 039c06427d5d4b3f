package main

import (
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/brauner/raft/pkg/health"
	"github.com/brauner/raft/pkg/log"
	"github.com/brauner/raft/pkg/metrics"
	"github.com/brauner/raft/pkg/observe"
	"github.com/spf13/cobra"
)

var metricsCmd = &cobra.Command{
	Use:   "metrics",
	Short: "Run this server and serve /metrics, /healthz, and /readyz",
	Long: `metrics starts this server's Raft instance and keeps it running,
exposing its Prometheus metrics and HTTP readiness/liveness surface on
--bind-http until interrupted.`,
	RunE: runMetrics,
}

func init() {
	metricsCmd.Flags().String("bind-http", "127.0.0.1:8080", "Address to serve /metrics, /healthz, /readyz on")
}

func runMetrics(cmd *cobra.Command, args []string) error {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	heartbeatMS, _ := cmd.Flags().GetInt64("heartbeat-timeout")
	electionMS, _ := cmd.Flags().GetInt64("election-timeout")
	bindHTTP, _ := cmd.Flags().GetString("bind-http")

	broker := observe.NewBroker(true)
	broker.Start()
	defer broker.Stop()

	engine, _, closer, err := openFromFlags(dataDir, heartbeatMS, electionMS, broker)
	if err != nil {
		return err
	}
	defer closer()

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	healthSrv := health.NewServer(engine.r)
	mux.Handle("/healthz", healthSrv.Handler())
	mux.Handle("/readyz", healthSrv.Handler())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	log.Info(fmt.Sprintf("raftd metrics listening on %s", bindHTTP))
	errCh := make(chan error, 1)
	server := &http.Server{Addr: bindHTTP, Handler: mux}
	go func() { errCh <- server.ListenAndServe() }()

	select {
	case <-sigCh:
		log.Info("shutting down")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
	}
	return server.Close()
}
