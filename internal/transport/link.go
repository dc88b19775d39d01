package transport

import (
	"context"
	"errors"

	"github.com/ahmadhassan44/prime-sieve/pkg/protocol"
)

var (
	ErrClosed         = errors.New("transport: link is closed")
	ErrBadRank        = errors.New("transport: rank out of range")
	ErrUnexpectedKind = errors.New("transport: unexpected message kind")
	ErrRejected       = errors.New("transport: message rejected by peer")
	ErrAborted        = errors.New("transport: run aborted")
)

// Link is a rank's point-to-point endpoint. Send blocks until the peer has
// accepted the message, Recv blocks until a message from the given sender is
// available. Messages between one pair of ranks are delivered in send order.
type Link interface {
	Rank() int
	Size() int
	Send(ctx context.Context, to int, msg protocol.Message) error
	Recv(ctx context.Context, from int) (protocol.Message, error)
	Close() error
}

func checkPeer(l Link, peer int) error {
	if peer < 0 || peer >= l.Size() || peer == l.Rank() {
		return ErrBadRank
	}
	return nil
}
