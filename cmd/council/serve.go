package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/deliberation-engine/council/pkg/api"
	"github.com/deliberation-engine/council/pkg/bias"
	"github.com/deliberation-engine/council/pkg/config"
	"github.com/deliberation-engine/council/pkg/database"
	"github.com/deliberation-engine/council/pkg/gateway"
	"github.com/deliberation-engine/council/pkg/metrics"
	"github.com/deliberation-engine/council/pkg/registry"
	"github.com/deliberation-engine/council/pkg/tier"
)

var (
	serveAddr         string
	serveGatewayAddr  string
	serveTranscripts  string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Args:  cobra.NoArgs,
	Short: "Start the HTTP API front",
	Long: `Starts the gin-based HTTP front exposing the deliberation call contract
(POST /api/v1/deliberate), its SSE and WebSocket event streams, a
Prometheus /metrics endpoint, and a /health endpoint, following the
teacher's gin-router-plus-health-check bootstrap.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", getEnv("HTTP_ADDR", ":8080"), "HTTP listen address")
	serveCmd.Flags().StringVar(&serveGatewayAddr, "gateway-addr", getEnv("GATEWAY_ADDR", "localhost:9090"), "gRPC address of the model gateway backend")
	serveCmd.Flags().StringVar(&serveTranscripts, "transcripts-dir", getEnv("TRANSCRIPTS_DIR", "./transcripts"), "directory to write per-session transcripts under")
}

func runServe(cmd *cobra.Command, args []string) error {
	envPath := configDir + "/.env"
	if err := godotenv.Load(envPath); err != nil {
		fmt.Fprintf(os.Stderr, "warning: could not load %s: %v\n", envPath, err)
	}

	ctx := context.Background()

	cfg, err := config.Load(configDir)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	dbCfg, err := database.LoadConfigFromEnv()
	if err != nil {
		return fmt.Errorf("failed to load database config: %w", err)
	}
	dbClient, err := database.NewClient(ctx, dbCfg)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer dbClient.Close()

	backend, err := gateway.DialGRPCBackend(serveGatewayAddr)
	if err != nil {
		return fmt.Errorf("failed to connect to gateway backend: %w", err)
	}
	defer backend.Close()

	reg := registry.New(cfg.Models, false, nil, 0)
	selector := tier.New(tier.DefaultWeights)
	gw := gateway.New(backend)
	tracker := bias.NewTracker(dbClient)
	m := metrics.New(prometheus.NewRegistry())

	srv := api.NewServer(cfg, dbClient, reg, selector, gw, tracker, m, serveTranscripts)

	errCh := make(chan error, 1)
	go func() {
		fmt.Printf("HTTP server listening on %s\n", serveAddr)
		errCh <- srv.Start(serveAddr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server error: %w", err)
		}
	case <-sigCh:
		fmt.Println("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
	}
	return nil
}
