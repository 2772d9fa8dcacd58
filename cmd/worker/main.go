package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/tri2820/backend/indexer/internal/config"
	"github.com/tri2820/backend/indexer/internal/logging"
	"github.com/tri2820/backend/indexer/internal/node"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file (.yaml or .toml)")
	var envFiles []string
	flag.Func("env", "dotenv file re-read on every connection (repeatable, comma-separated)", func(v string) error {
		for _, p := range strings.Split(v, ",") {
			if p = strings.TrimSpace(p); p != "" {
				envFiles = append(envFiles, p)
			}
		}
		return nil
	})
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	log := logger.Sugar()
	log.Infow("starting worker", "id", cfg.Worker.ID, "server", cfg.Server.URL, "workload", cfg.Workload.Name)

	n, err := node.NewNode(cfg, envFiles, logger)
	if err != nil {
		log.Fatalf("Failed to create worker: %v", err)
	}

	if cfg.Dashboard.Enabled {
		log.Infof("Dashboard enabled on %s", cfg.Dashboard.Address)
	}

	// Run until interrupted
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runErr := n.Run(ctx)
	log.Infof("Shutting down...")

	if err := n.Close(); err != nil {
		log.Errorf("Error during shutdown: %v", err)
	}
	if runErr != nil {
		log.Errorf("worker stopped: %v", runErr)
		logger.Sync()
		os.Exit(1)
	}

	log.Infof("Worker stopped")
}
