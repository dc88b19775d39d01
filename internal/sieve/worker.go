package sieve

import (
	"context"
	"fmt"
	"log"

	"github.com/ahmadhassan44/prime-sieve/internal/transport"
	"github.com/ahmadhassan44/prime-sieve/pkg/protocol"
)

// localWorker applies candidates received from upstream to a non-root
// rank's mask, trimming its active window as composites accumulate.
type localWorker struct {
	comm     *transport.Comm
	topology Topology
	observer Observer
	limit    int
	mask     *Mask
	window   Window
	last     int // last candidate applied
	state    protocol.State
}

func newLocalWorker(comm *transport.Comm, opts Options, mask *Mask) *localWorker {
	return &localWorker{
		comm:     comm,
		topology: opts.Topology,
		observer: opts.Observer,
		limit:    isqrt(opts.N),
		mask:     mask,
		window:   Trim(mask, FullWindow(mask.Block())),
		state:    protocol.StateIdle,
	}
}

func (w *localWorker) setState(s protocol.State) {
	w.state = s
	w.comm.SetState(s)
}

// upstream is the rank candidates arrive from
func (w *localWorker) upstream() int {
	if w.topology == TopologyChain {
		return w.comm.Rank() - 1
	}
	return 0
}

// downstream is the rank candidates are relayed to, or -1
func (w *localWorker) downstream() int {
	if w.topology == TopologyChain && w.comm.Rank()+1 < w.comm.Size() {
		return w.comm.Rank() + 1
	}
	return -1
}

func (w *localWorker) run(ctx context.Context) error {
	rank := w.comm.Rank()
	for {
		w.setState(protocol.StateWaiting)
		msg, err := w.comm.Recv(ctx, w.upstream())
		if err != nil {
			return fmt.Errorf("rank %d receive: %w", rank, err)
		}

		switch msg.Kind {
		case protocol.KindTerminate:
			w.observer.Terminated(rank)
			if err := w.forward(ctx, msg); err != nil {
				return err
			}
			w.setState(protocol.StateDone)
			log.Printf("[Rank %d] Done: %d primes in %v", rank, w.mask.Count(), w.mask.Block())
			return nil

		case protocol.KindCandidate:
			p, hint := int(msg.Value), int(msg.Hint)
			if err := w.validate(p, hint); err != nil {
				return err
			}
			w.setState(protocol.StateApplying)
			last := w.apply(p, hint)
			w.last = p
			w.observer.CandidateApplied(rank, p)
			if err := w.forward(ctx, protocol.Candidate(p, max(last, hint))); err != nil {
				return err
			}

		case protocol.KindAbort:
			return fmt.Errorf("rank %d: %w by rank %d", rank, transport.ErrAborted, msg.Value)

		default:
			return fmt.Errorf("%w: rank %d received %s while sieving", ErrProtocolViolation, rank, msg.Kind)
		}
	}
}

// validate rejects candidates that break the increasing-order contract
func (w *localWorker) validate(p, hint int) error {
	rank := w.comm.Rank()
	if p < 2 || p > w.limit {
		return fmt.Errorf("%w: rank %d received candidate %d outside [2, %d]", ErrProtocolViolation, rank, p, w.limit)
	}
	if p <= w.last {
		return fmt.Errorf("%w: rank %d received candidate %d after %d", ErrProtocolViolation, rank, p, w.last)
	}
	if hint < 0 || hint%p != 0 || (hint > 0 && hint >= w.mask.Block().Start) {
		return fmt.Errorf("%w: rank %d received hint %d for candidate %d", ErrProtocolViolation, rank, hint, p)
	}
	return nil
}

// apply marks the multiples of p inside the window and trims it. It returns
// the last value marked, or -1.
func (w *localWorker) apply(p, hint int) int {
	if w.window.Empty() {
		return -1
	}
	first := firstMultiple(p, w.window.Lo, hint)
	last := w.mask.MarkMultiples(p, first, w.window.Hi)
	w.window = Trim(w.mask, w.window)
	return last
}

func (w *localWorker) forward(ctx context.Context, msg protocol.Message) error {
	next := w.downstream()
	if next < 0 {
		return nil
	}
	if err := w.comm.Send(ctx, next, msg); err != nil {
		return fmt.Errorf("rank %d forward %s: %w", w.comm.Rank(), msg.Kind, err)
	}
	return nil
}
