package transport

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/ahmadhassan44/prime-sieve/pkg/protocol"
)

// Hub connects size in-process ranks with one buffered channel per ordered
// pair of ranks.
type Hub struct {
	size  int
	pipes [][]chan protocol.Message // pipes[from][to]
	done  chan struct{}
	once  sync.Once
}

// NewHub creates a hub for size ranks; depth is the per-pair buffer
func NewHub(size, depth int) *Hub {
	pipes := make([][]chan protocol.Message, size)
	for from := range pipes {
		pipes[from] = make([]chan protocol.Message, size)
		for to := range pipes[from] {
			if from != to {
				pipes[from][to] = make(chan protocol.Message, depth)
			}
		}
	}
	return &Hub{
		size:  size,
		pipes: pipes,
		done:  make(chan struct{}),
	}
}

// Link returns the endpoint of the given rank
func (h *Hub) Link(rank int) Link {
	if rank < 0 || rank >= h.size {
		panic(fmt.Sprintf("transport: hub has no rank %d", rank))
	}
	return &hubLink{hub: h, rank: rank}
}

// Close aborts every pending and future Send/Recv on the hub
func (h *Hub) Close() {
	h.once.Do(func() { close(h.done) })
}

type hubLink struct {
	hub  *Hub
	rank int
}

func (l *hubLink) Rank() int { return l.rank }
func (l *hubLink) Size() int { return l.hub.size }

func (l *hubLink) Send(ctx context.Context, to int, msg protocol.Message) error {
	if err := checkPeer(l, to); err != nil {
		return err
	}
	// Ranks never share a vector
	if msg.Bits != nil {
		msg.Bits = slices.Clone(msg.Bits)
	}
	select {
	case <-l.hub.done:
		return ErrClosed
	default:
	}
	select {
	case l.hub.pipes[l.rank][to] <- msg:
		return nil
	case <-l.hub.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (l *hubLink) Recv(ctx context.Context, from int) (protocol.Message, error) {
	if err := checkPeer(l, from); err != nil {
		return protocol.Message{}, err
	}
	select {
	case msg := <-l.hub.pipes[from][l.rank]:
		return msg, nil
	case <-l.hub.done:
		return protocol.Message{}, ErrClosed
	case <-ctx.Done():
		return protocol.Message{}, ctx.Err()
	}
}

func (l *hubLink) Close() error {
	return nil
}
