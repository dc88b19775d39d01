package sieve

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sync"
	"time"

	"github.com/ahmadhassan44/prime-sieve/internal/partition"
	"github.com/ahmadhassan44/prime-sieve/internal/transport"
	"github.com/ahmadhassan44/prime-sieve/pkg/protocol"
)

// Topology selects how candidates travel from the root
type Topology string

const (
	// TopologyFanout sends every candidate from the root to each rank.
	TopologyFanout Topology = "fanout"
	// TopologyChain sends candidates to rank 1, each rank relays to the next.
	TopologyChain Topology = "chain"
)

// Distribution selects how initial masks reach the ranks
type Distribution string

const (
	// DistributionLocal has every rank allocate its own mask.
	DistributionLocal Distribution = "local"
	// DistributionScatter has the root allocate one global buffer and scatter it.
	DistributionScatter Distribution = "scatter"
)

// Options configures one run; every rank must use the same values
type Options struct {
	N            int
	Topology     Topology
	Distribution Distribution
	MaxMaskBytes int64    // zero leaves only MaxRankBytes
	InboxDepth   int      // per-pair buffer for RunLocal
	Observer     Observer // optional
}

// abortTimeout bounds the best-effort failure notice to peers
const abortTimeout = 2 * time.Second

func (o *Options) normalize() error {
	if o.N <= 2 {
		return ErrInvalidBound
	}
	if o.N == math.MaxInt {
		return fmt.Errorf("%w: [0, %d] has more cells than an int can index", ErrAllocation, o.N)
	}
	switch o.Topology {
	case "":
		o.Topology = TopologyFanout
	case TopologyFanout, TopologyChain:
	default:
		return fmt.Errorf("%w: unknown topology %q", ErrInvalidOptions, o.Topology)
	}
	switch o.Distribution {
	case "":
		o.Distribution = DistributionLocal
	case DistributionLocal, DistributionScatter:
	default:
		return fmt.Errorf("%w: unknown distribution %q", ErrInvalidOptions, o.Distribution)
	}
	if o.Observer == nil {
		o.Observer = nopObserver{}
	}
	if o.InboxDepth <= 0 {
		o.InboxDepth = 64
	}
	return nil
}

// Run executes the sieve protocol as comm's rank. Rank 0 returns the
// aggregated result, every other rank returns nil.
func Run(ctx context.Context, comm *transport.Comm, opts Options) (*Result, error) {
	if err := opts.normalize(); err != nil {
		return nil, err
	}
	result, err := run(ctx, comm, opts)
	if err != nil {
		comm.SetState(protocol.StateFailed)
		// A peer's abort has already reached every rank
		if !errors.Is(err, transport.ErrAborted) {
			abortCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), abortTimeout)
			comm.Abort(abortCtx)
			cancel()
		}
	}
	return result, err
}

func run(ctx context.Context, comm *transport.Comm, opts Options) (*Result, error) {
	rank, size := comm.Rank(), comm.Size()

	// Every rank must derive its block from the same bound
	n, err := comm.Broadcast(ctx, 0, opts.N)
	if err != nil {
		return nil, err
	}
	if n != opts.N {
		return nil, fmt.Errorf("%w: rank %d configured for %d, root for %d", ErrProtocolViolation, rank, opts.N, n)
	}

	if err := NewEstimator(opts.MaxMaskBytes).Check(n, size, rank, opts.Distribution); err != nil {
		return nil, err
	}

	block := partition.For(n, size, rank)
	mask, err := initialMask(ctx, comm, opts, block)
	if err != nil {
		return nil, err
	}

	if rank == 0 {
		err = newRootEngine(comm, opts, mask).run(ctx)
	} else {
		err = newLocalWorker(comm, opts, mask).run(ctx)
	}
	if err != nil {
		return nil, err
	}
	comm.SetState(protocol.StateDone)
	opts.Observer.Done(rank)

	// No mask is read before every rank has finished writing its own
	if err := comm.Barrier(ctx); err != nil {
		return nil, err
	}
	parts, err := comm.Gather(ctx, 0, mask.Bits())
	if err != nil {
		return nil, err
	}
	if rank != 0 {
		return nil, nil
	}
	return assemble(n, partition.All(n, size), parts)
}

// initialMask allocates the rank's mask, or receives it from the root's
// global buffer in scatter distribution
func initialMask(ctx context.Context, comm *transport.Comm, opts Options, block partition.Block) (*Mask, error) {
	if opts.Distribution == DistributionLocal {
		return NewMask(block), nil
	}

	var parts [][]bool
	if comm.Rank() == 0 {
		global := make([]bool, opts.N+1)
		for i := range global {
			global[i] = true
		}
		parts = make([][]bool, comm.Size())
		for _, b := range partition.All(opts.N, comm.Size()) {
			parts[b.Rank] = global[b.Start:b.End]
		}
	}
	bits, err := comm.Scatter(ctx, 0, parts)
	if err != nil {
		return nil, err
	}
	return MaskFromBits(block, bits)
}

// RunLocal runs all p ranks as goroutines connected by an in-process hub.
// The first failing rank closes the hub, which aborts the others.
func RunLocal(ctx context.Context, p int, opts Options) (*Result, error) {
	if p <= 0 {
		return nil, fmt.Errorf("%w: %d workers", ErrInvalidOptions, p)
	}
	if err := opts.normalize(); err != nil {
		return nil, err
	}

	hub := transport.NewHub(p, opts.InboxDepth)
	defer hub.Close()

	var (
		wg     sync.WaitGroup
		result *Result
	)
	errs := make([]error, p)

	wg.Add(p)
	for rank := 0; rank != p; rank++ {
		go func(rank int) {
			defer wg.Done()
			res, err := Run(ctx, transport.NewComm(hub.Link(rank)), opts)
			if err != nil {
				log.Printf("[Rank %d] Failed: %v", rank, err)
				errs[rank] = err
				hub.Close()
				return
			}
			if rank == 0 {
				result = res
			}
		}(rank)
	}
	wg.Wait()

	return result, firstCause(errs)
}

// firstCause prefers the error that started an abort over the ErrClosed
// it caused on the other ranks
func firstCause(errs []error) error {
	var fallback error
	for _, err := range errs {
		if err == nil {
			continue
		}
		if !errors.Is(err, transport.ErrClosed) {
			return err
		}
		if fallback == nil {
			fallback = err
		}
	}
	return fallback
}
