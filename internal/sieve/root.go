package sieve

import (
	"context"
	"fmt"
	"log"

	"github.com/ahmadhassan44/prime-sieve/internal/partition"
	"github.com/ahmadhassan44/prime-sieve/internal/transport"
	"github.com/ahmadhassan44/prime-sieve/pkg/protocol"
)

// rootEngine discovers the primes up to sqrt(n) on rank 0 and publishes them
// downstream in increasing order.
type rootEngine struct {
	comm     *transport.Comm
	topology Topology
	observer Observer
	n        int
	limit    int
	mask     *Mask
	seed     *Mask // equals mask when the root block reaches limit
}

func newRootEngine(comm *transport.Comm, opts Options, mask *Mask) *rootEngine {
	limit := isqrt(opts.N)
	seed := mask
	if partition.Owner(opts.N, comm.Size(), limit) != 0 {
		// Discovery needs every value up to limit, the block stops short
		seed = NewMask(partition.Block{Rank: 0, Start: 0, End: limit + 1})
	}
	return &rootEngine{
		comm:     comm,
		topology: opts.Topology,
		observer: opts.Observer,
		n:        opts.N,
		limit:    limit,
		mask:     mask,
		seed:     seed,
	}
}

func (r *rootEngine) run(ctx context.Context) error {
	r.comm.SetState(protocol.StateApplying)
	published := 0

	for p := 2; p <= r.limit; p++ {
		if !r.seed.IsPrime(p) {
			continue
		}

		// Fan-out publishes before marking so receivers start early; the chain
		// needs the last local multiple as the hint for rank 1
		if r.topology == TopologyFanout {
			if err := r.publish(ctx, protocol.Candidate(p, 0)); err != nil {
				return err
			}
		}

		last := r.apply(p)

		if r.topology == TopologyChain {
			if err := r.publish(ctx, protocol.Candidate(p, max(last, 0))); err != nil {
				return err
			}
		}
		r.observer.CandidateApplied(0, p)
		published++
	}

	if err := r.publish(ctx, protocol.Terminate()); err != nil {
		return err
	}
	log.Printf("[Root] Published %d candidates up to %d (estimated %d)",
		published, r.limit, NewEstimator(0).EstimateCandidates(r.n))
	return nil
}

// apply marks multiples of p from p*p in the seed and the root block
func (r *rootEngine) apply(p int) int {
	block := r.mask.Block()
	if r.seed != r.mask {
		r.seed.MarkMultiples(p, p*p, r.limit+1)
	}
	return r.mask.MarkMultiples(p, firstMultiple(p, block.Start, 0), block.End)
}

func (r *rootEngine) publish(ctx context.Context, msg protocol.Message) error {
	if r.comm.Size() == 1 {
		return nil
	}
	if r.topology == TopologyChain {
		if err := r.comm.Send(ctx, 1, msg); err != nil {
			return fmt.Errorf("publish %s to rank 1: %w", msg.Kind, err)
		}
		return nil
	}
	for dst := 1; dst < r.comm.Size(); dst++ {
		if err := r.comm.Send(ctx, dst, msg); err != nil {
			return fmt.Errorf("publish %s to rank %d: %w", msg.Kind, dst, err)
		}
	}
	return nil
}
