package transport

import (
	"context"
	"fmt"

	"github.com/ahmadhassan44/prime-sieve/pkg/protocol"
)

// Comm layers rank-ordered collectives over a point-to-point Link
type Comm struct {
	link Link
}

func NewComm(link Link) *Comm {
	return &Comm{link: link}
}

func (c *Comm) Rank() int { return c.link.Rank() }
func (c *Comm) Size() int { return c.link.Size() }

// Send delivers msg to rank to
func (c *Comm) Send(ctx context.Context, to int, msg protocol.Message) error {
	return c.link.Send(ctx, to, msg)
}

// Recv takes the next message sent by rank from
func (c *Comm) Recv(ctx context.Context, from int) (protocol.Message, error) {
	return c.link.Recv(ctx, from)
}

// SetState forwards a worker state to links that publish it
func (c *Comm) SetState(s protocol.State) {
	if r, ok := c.link.(interface{ SetState(protocol.State) }); ok {
		r.SetState(s)
	}
}

// Abort tells every peer the run has failed, on links that can. Delivery is
// best effort.
func (c *Comm) Abort(ctx context.Context) {
	if a, ok := c.link.(interface{ Abort(context.Context) }); ok {
		a.Abort(ctx)
	}
}

// Broadcast sends v from root to every other rank; every rank returns the root's value
func (c *Comm) Broadcast(ctx context.Context, root, v int) (int, error) {
	if c.Rank() == root {
		for dst := 0; dst != c.Size(); dst++ {
			if dst == root {
				continue
			}
			if err := c.link.Send(ctx, dst, protocol.Message{Kind: protocol.KindValue, Value: int64(v)}); err != nil {
				return 0, fmt.Errorf("broadcast to rank %d: %w", dst, err)
			}
		}
		return v, nil
	}
	msg, err := c.expect(ctx, root, protocol.KindValue)
	if err != nil {
		return 0, fmt.Errorf("broadcast from rank %d: %w", root, err)
	}
	return int(msg.Value), nil
}

// Scatter hands parts[r] to rank r. Only the root's parts are read; every
// rank returns its own part.
func (c *Comm) Scatter(ctx context.Context, root int, parts [][]bool) ([]bool, error) {
	if c.Rank() == root {
		if len(parts) != c.Size() {
			return nil, fmt.Errorf("scatter: %d parts for %d ranks", len(parts), c.Size())
		}
		for dst, part := range parts {
			if dst == root {
				continue
			}
			if err := c.link.Send(ctx, dst, protocol.Message{Kind: protocol.KindMask, Bits: part}); err != nil {
				return nil, fmt.Errorf("scatter to rank %d: %w", dst, err)
			}
		}
		return parts[root], nil
	}
	msg, err := c.expect(ctx, root, protocol.KindMask)
	if err != nil {
		return nil, fmt.Errorf("scatter from rank %d: %w", root, err)
	}
	return nonNil(msg.Bits), nil
}

// Gather collects every rank's local vector at root, indexed by rank.
// Non-root ranks return nil.
func (c *Comm) Gather(ctx context.Context, root int, local []bool) ([][]bool, error) {
	if c.Rank() != root {
		if err := c.link.Send(ctx, root, protocol.Message{Kind: protocol.KindMask, Bits: nonNil(local)}); err != nil {
			return nil, fmt.Errorf("gather to rank %d: %w", root, err)
		}
		return nil, nil
	}

	parts := make([][]bool, c.Size())
	parts[root] = local
	for src := 0; src != c.Size(); src++ {
		if src == root {
			continue
		}
		msg, err := c.expect(ctx, src, protocol.KindMask)
		if err != nil {
			return nil, fmt.Errorf("gather from rank %d: %w", src, err)
		}
		parts[src] = nonNil(msg.Bits)
	}
	return parts, nil
}

// Barrier returns once every rank has entered it. Rank 0 collects an arrival
// token from every rank, then releases them all.
func (c *Comm) Barrier(ctx context.Context) error {
	token := protocol.Message{Kind: protocol.KindBarrier}
	if c.Rank() != 0 {
		if err := c.link.Send(ctx, 0, token); err != nil {
			return fmt.Errorf("barrier arrive: %w", err)
		}
		if _, err := c.expect(ctx, 0, protocol.KindBarrier); err != nil {
			return fmt.Errorf("barrier release: %w", err)
		}
		return nil
	}

	for src := 1; src < c.Size(); src++ {
		if _, err := c.expect(ctx, src, protocol.KindBarrier); err != nil {
			return fmt.Errorf("barrier arrive from rank %d: %w", src, err)
		}
	}
	for dst := 1; dst < c.Size(); dst++ {
		if err := c.link.Send(ctx, dst, token); err != nil {
			return fmt.Errorf("barrier release to rank %d: %w", dst, err)
		}
	}
	return nil
}

// Close releases the underlying link
func (c *Comm) Close() error {
	return c.link.Close()
}

func (c *Comm) expect(ctx context.Context, from int, kind protocol.Kind) (protocol.Message, error) {
	msg, err := c.link.Recv(ctx, from)
	if err != nil {
		return msg, err
	}
	if msg.Kind == protocol.KindAbort {
		return msg, fmt.Errorf("%w by rank %d", ErrAborted, msg.Value)
	}
	if msg.Kind != kind {
		return msg, fmt.Errorf("%w: got %s, want %s", ErrUnexpectedKind, msg.Kind, kind)
	}
	return msg, nil
}

// Empty vectors may arrive as nil after encoding
func nonNil(bits []bool) []bool {
	if bits == nil {
		return []bool{}
	}
	return bits
}
