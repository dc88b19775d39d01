package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/ahmadhassan44/prime-sieve/internal/report"
	"github.com/ahmadhassan44/prime-sieve/internal/sieve"
	"github.com/ahmadhassan44/prime-sieve/internal/transport"
	"github.com/ahmadhassan44/prime-sieve/pkg/config"
	"github.com/ahmadhassan44/prime-sieve/pkg/protocol"
)

func main() {
	n, err := config.ParseBound(os.Args[1:])
	if errors.Is(err, config.ErrUsage) {
		fmt.Println(config.Usage("sieve"))
		os.Exit(1)
	}
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("[FATAL] %v", err)
	}
	if cfg.RunID == "" {
		cfg.RunID = defaultRunID(cfg)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, n, os.Stdout); err != nil {
		log.Fatalf("[FATAL] Run %s failed: %v", cfg.RunID, err)
	}
}

// defaultRunID must agree across ranks that were given no RUN_ID, so the
// distributed form is derived from the peer list
func defaultRunID(cfg *config.Config) string {
	if !cfg.Distributed() {
		return uuid.NewString()
	}
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(strings.Join(cfg.Peers, ","))).String()
}

func run(ctx context.Context, cfg *config.Config, n int, stdout io.Writer) error {
	opts := sieve.Options{
		N:            n,
		Topology:     sieve.Topology(cfg.Topology),
		Distribution: sieve.Distribution(cfg.Distribution),
		MaxMaskBytes: cfg.MaxMaskBytes,
		InboxDepth:   cfg.InboxDepth,
	}

	log.Printf("[Config] Run %s: N=%d, ranks=%d, topology=%s, distribution=%s",
		cfg.RunID, n, cfg.Size, cfg.Topology, cfg.Distribution)

	var comm *transport.Comm
	if cfg.Distributed() {
		var err error
		if comm, err = connectRank(ctx, cfg); err != nil {
			return err
		}
		defer comm.Close()
	}

	// Peer startup is not part of the measured run
	start := time.Now()
	var (
		res *sieve.Result
		err error
	)
	if comm != nil {
		res, err = sieve.Run(ctx, comm, opts)
	} else {
		res, err = sieve.RunLocal(ctx, cfg.Size, opts)
	}
	if err != nil {
		return err
	}
	if res == nil {
		// Non-root rank
		return nil
	}
	elapsed := time.Since(start)

	summary := protocol.Summary{
		RunID:        cfg.RunID,
		HighestNum:   n,
		Workers:      cfg.Size,
		Topology:     cfg.Topology,
		PrimeCount:   res.Count(),
		LargestPrime: res.Largest(),
		Seconds:      elapsed.Seconds(),
	}

	reporters := report.Multi{&report.Stdout{W: stdout, PrintPrimes: cfg.PrintPrimes}}
	if cfg.MQTT.Broker != "" {
		mqttReporter, err := report.NewMQTTReporter(cfg.MQTT.Broker, cfg.MQTT.Topic, "sieve-"+cfg.RunID)
		if err != nil {
			log.Printf("[Report] MQTT disabled: %v", err)
		} else {
			defer mqttReporter.Close()
			reporters = append(reporters, mqttReporter)
		}
	}
	return reporters.Report(ctx, summary, res.Primes())
}

// connectRank serves this process's rank over HTTP and returns once every
// peer is reachable
var connectRank = func(ctx context.Context, cfg *config.Config) (*transport.Comm, error) {
	link, err := transport.NewHTTPLink(transport.HTTPConfig{
		Rank:       cfg.Rank,
		Size:       cfg.Size,
		RunID:      cfg.RunID,
		ListenAddr: fmt.Sprintf(":%d", cfg.ListenPort),
		Peers:      cfg.Peers,
		InboxDepth: cfg.InboxDepth,
	})
	if err != nil {
		return nil, err
	}
	if err := link.Start(); err != nil {
		return nil, err
	}

	waitCtx, cancel := context.WithTimeout(ctx, time.Duration(cfg.PeerWaitS)*time.Second)
	defer cancel()
	if err := link.WaitForPeers(waitCtx, 200*time.Millisecond); err != nil {
		link.Close()
		return nil, fmt.Errorf("peers not ready: %w", err)
	}
	log.Printf("[Rank %d] All %d peers ready", cfg.Rank, cfg.Size)
	return transport.NewComm(link), nil
}
