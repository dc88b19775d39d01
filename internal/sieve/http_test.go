package sieve

import (
	"context"
	"errors"
	"fmt"
	"net/http/httptest"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/ahmadhassan44/prime-sieve/internal/transport"
	"github.com/ahmadhassan44/prime-sieve/pkg/protocol"
)

// httpRanks wires size HTTP links through httptest servers.
func httpRanks(t *testing.T, size int, runID string) []*transport.HTTPLink {
	t.Helper()
	links := make([]*transport.HTTPLink, size)
	urls := make([]string, size)
	for rank := range links {
		l, err := transport.NewHTTPLink(transport.HTTPConfig{Rank: rank, Size: size, RunID: runID, InboxDepth: 64})
		if err != nil {
			t.Fatalf("NewHTTPLink(%d) failed: %v", rank, err)
		}
		srv := httptest.NewServer(l.Handler())
		t.Cleanup(srv.Close)
		t.Cleanup(func() { l.Close() })
		links[rank] = l
		urls[rank] = srv.URL
	}
	for _, l := range links {
		if err := l.SetPeers(urls); err != nil {
			t.Fatalf("SetPeers failed: %v", err)
		}
	}
	return links
}

// runHTTP runs every rank of opts over HTTP links and returns rank 0's
// result with each rank's error.
func runHTTP(t *testing.T, size int, opts Options) (*Result, []error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	links := httpRanks(t, size, t.Name())
	var (
		wg     sync.WaitGroup
		result *Result
	)
	errs := make([]error, size)
	wg.Add(size)
	for rank := range links {
		go func(rank int) {
			defer wg.Done()
			res, err := Run(ctx, transport.NewComm(links[rank]), opts)
			errs[rank] = err
			if rank == 0 {
				result = res
			}
		}(rank)
	}
	wg.Wait()
	return result, errs
}

func TestRunOverHTTP(t *testing.T) {
	topologies := []Topology{TopologyFanout, TopologyChain}
	distributions := []Distribution{DistributionLocal, DistributionScatter}

	for _, n := range []int{97, 1000} {
		want := trialPrimes(n)
		for _, p := range []int{2, 4} {
			for _, topo := range topologies {
				for _, dist := range distributions {
					name := fmt.Sprintf("N=%d/P=%d/%s/%s", n, p, topo, dist)
					t.Run(name, func(t *testing.T) {
						res, errs := runHTTP(t, p, Options{N: n, Topology: topo, Distribution: dist})
						for rank, err := range errs {
							if err != nil {
								t.Fatalf("rank %d failed: %v", rank, err)
							}
						}
						if res == nil {
							t.Fatal("Expected a result on rank 0, got nil")
						}
						if got := res.Primes(); !slices.Equal(got, want) {
							t.Errorf("Expected primes %v, got %v", want, got)
						}
					})
				}
			}
		}
	}
}

// TestHTTPRunAbortsPeersOnFailure checks a root that cannot allocate its
// scatter buffer releases the rank waiting for its part.
func TestHTTPRunAbortsPeersOnFailure(t *testing.T) {
	tests := []struct {
		name string
		size int
	}{
		{"two ranks", 2},
		{"four ranks", 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			start := time.Now()
			_, errs := runHTTP(t, tt.size, Options{N: 1000, Distribution: DistributionScatter, MaxMaskBytes: 1000})

			if !errors.Is(errs[0], ErrAllocation) {
				t.Errorf("Expected ErrAllocation on rank 0, got %v", errs[0])
			}
			for rank := 1; rank < tt.size; rank++ {
				if !errors.Is(errs[rank], transport.ErrAborted) {
					t.Errorf("Expected ErrAborted on rank %d, got %v", rank, errs[rank])
				}
			}
			if elapsed := time.Since(start); elapsed > 10*time.Second {
				t.Errorf("Expected peers released promptly, took %v", elapsed)
			}
		})
	}
}

// TestWorkerRejectsChainHints checks hints reaching into the receiving
// rank's block fail, over both the hub and HTTP.
func TestWorkerRejectsChainHints(t *testing.T) {
	// Rank 1 of 2 owns [51, 101)
	opts := Options{N: 100, Topology: TopologyChain}

	tests := []struct {
		name string
		msg  protocol.Message
	}{
		{"hint inside block", protocol.Candidate(2, 52)},
		{"hint at block start", protocol.Candidate(3, 51)},
		{"hint not a multiple", protocol.Candidate(3, 7)},
		{"negative hint", protocol.Candidate(5, -5)},
	}

	links := map[string]func(t *testing.T) (transport.Link, transport.Link){
		"hub": func(t *testing.T) (transport.Link, transport.Link) {
			hub := transport.NewHub(2, 8)
			t.Cleanup(hub.Close)
			return hub.Link(0), hub.Link(1)
		},
		"http": func(t *testing.T) (transport.Link, transport.Link) {
			ranks := httpRanks(t, 2, t.Name())
			return ranks[0], ranks[1]
		},
	}

	for kind, newLinks := range links {
		for _, tt := range tests {
			t.Run(kind+"/"+tt.name, func(t *testing.T) {
				root, worker := newLinks(t)
				err := fakeRootOver(t, root, worker, opts, func(ctx context.Context, root *transport.Comm) {
					root.Broadcast(ctx, 0, opts.N)
					root.Send(ctx, 1, tt.msg)
				})
				if !errors.Is(err, ErrProtocolViolation) {
					t.Errorf("Expected ErrProtocolViolation, got %v", err)
				}
			})
		}
	}
}

func TestWorkerAcceptsChainHintBelowBlock(t *testing.T) {
	opts := Options{N: 100, Topology: TopologyChain}
	err := fakeRoot(t, opts, func(ctx context.Context, root *transport.Comm) {
		root.Broadcast(ctx, 0, opts.N)
		root.Send(ctx, 1, protocol.Candidate(2, 50))
		root.Send(ctx, 1, protocol.Candidate(3, 48))
		root.Send(ctx, 1, protocol.Terminate())
		root.Barrier(ctx)
		root.Gather(ctx, 0, make([]bool, 51))
	})
	if err != nil {
		t.Errorf("Expected hints below the block to be accepted, got %v", err)
	}
}

// TestWorkerStopsOnAbort checks an abort notice in the candidate stream
// ends the worker.
func TestWorkerStopsOnAbort(t *testing.T) {
	for _, topo := range []Topology{TopologyFanout, TopologyChain} {
		t.Run(string(topo), func(t *testing.T) {
			opts := Options{N: 100, Topology: topo}
			err := fakeRoot(t, opts, func(ctx context.Context, root *transport.Comm) {
				root.Broadcast(ctx, 0, opts.N)
				root.Send(ctx, 1, protocol.Candidate(2, 0))
				root.Send(ctx, 1, protocol.Abort(0))
			})
			if !errors.Is(err, transport.ErrAborted) {
				t.Errorf("Expected ErrAborted, got %v", err)
			}
		})
	}
}
