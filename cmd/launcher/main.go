package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"github.com/ahmadhassan44/prime-sieve/internal/launcher"
	"github.com/ahmadhassan44/prime-sieve/pkg/config"
)

func main() {
	n, err := config.ParseBound(os.Args[1:])
	if errors.Is(err, config.ErrUsage) {
		fmt.Println(config.Usage("launcher"))
		os.Exit(1)
	}
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	log.Println("Starting Prime Sieve Launcher")
	log.Println("========================================")

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("[FATAL] %v", err)
	}
	if cfg.RunID == "" {
		cfg.RunID = uuid.NewString()
	}
	log.Printf("[Config] Run ID: %s", cfg.RunID)
	log.Printf("[Config] Ranks: %d, Topology: %s, Distribution: %s", cfg.Size, cfg.Topology, cfg.Distribution)
	log.Printf("[Config] Image: %s, Base Port: %d, Cpusets: %v", cfg.Launcher.Image, cfg.Launcher.BasePort, cfg.Launcher.Cpusets)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	l, err := launcher.NewLauncher()
	if err != nil {
		log.Fatalf("[FATAL] Launcher initialization failed: %v", err)
	}
	defer l.Close()

	if err := l.CheckConnectivity(ctx); err != nil {
		log.Fatalf("[FATAL] %v", err)
	}

	specs := launcher.BuildSpecs(cfg, n, cfg.RunID)
	if err := l.Run(ctx, specs, os.Stdout, os.Stderr); err != nil {
		// Deferred cleanup has already run inside Run
		log.Printf("[Launcher] Run %s failed: %v", cfg.RunID, err)
		os.Exit(1)
	}
	log.Printf("[Launcher] Run %s complete", cfg.RunID)
}
