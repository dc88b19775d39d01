package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/ahmadhassan44/prime-sieve/pkg/protocol"
)

// newHTTPRanks wires size links through httptest servers.
func newHTTPRanks(t *testing.T, size int, runID string) []*HTTPLink {
	t.Helper()
	links := make([]*HTTPLink, size)
	urls := make([]string, size)
	for rank := range links {
		l, err := NewHTTPLink(HTTPConfig{Rank: rank, Size: size, RunID: runID, InboxDepth: 2})
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

func TestHTTPLinkOrderedDelivery(t *testing.T) {
	links := newHTTPRanks(t, 2, "run-a")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := links[0].WaitForPeers(ctx, 10*time.Millisecond); err != nil {
		t.Fatalf("WaitForPeers failed: %v", err)
	}

	go func() {
		for p := 2; p < 50; p++ {
			if err := links[0].Send(ctx, 1, protocol.Candidate(p, p*2)); err != nil {
				t.Errorf("Send(%d) failed: %v", p, err)
				return
			}
		}
		links[0].Send(ctx, 1, protocol.Terminate())
	}()

	for want := 2; want < 50; want++ {
		msg, err := links[1].Recv(ctx, 0)
		if err != nil {
			t.Fatalf("Recv failed: %v", err)
		}
		if msg.Kind != protocol.KindCandidate || msg.Value != int64(want) || msg.Hint != int64(want*2) {
			t.Fatalf("Expected candidate %d, got %+v", want, msg)
		}
	}
	msg, err := links[1].Recv(ctx, 0)
	if err != nil || msg.Kind != protocol.KindTerminate {
		t.Fatalf("Expected terminate, got %+v (err %v)", msg, err)
	}
}

func TestHTTPLinkCollectives(t *testing.T) {
	links := newHTTPRanks(t, 3, "run-b")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	errc := make(chan error, len(links))
	results := make([][][]bool, len(links))
	for rank, l := range links {
		go func(rank int, c *Comm) {
			if err := c.Barrier(ctx); err != nil {
				errc <- err
				return
			}
			local := []bool{rank%2 == 0, true}
			parts, err := c.Gather(ctx, 0, local)
			results[rank] = parts
			errc <- err
		}(rank, NewComm(l))
	}
	for range links {
		if err := <-errc; err != nil {
			t.Fatalf("collective failed: %v", err)
		}
	}

	parts := results[0]
	if len(parts) != 3 {
		t.Fatalf("Expected 3 parts, got %d", len(parts))
	}
	for rank, part := range parts {
		if len(part) != 2 || part[0] != (rank%2 == 0) || !part[1] {
			t.Errorf("part %d = %v", rank, part)
		}
	}
}

func TestHTTPLinkRejectsForeignRun(t *testing.T) {
	links := newHTTPRanks(t, 2, "run-c")
	// Rank 0 believes it is in another run
	links[0].cfg.RunID = "run-other"

	err := links[0].Send(context.Background(), 1, protocol.Candidate(2, 0))
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("Expected ErrRejected, got %v", err)
	}
}

func TestHTTPLinkRejectsOutOfOrder(t *testing.T) {
	l, err := NewHTTPLink(HTTPConfig{Rank: 1, Size: 2, RunID: "run-d", InboxDepth: 4})
	if err != nil {
		t.Fatalf("NewHTTPLink failed: %v", err)
	}
	srv := httptest.NewServer(l.Handler())
	defer srv.Close()

	post := func(seq uint64) int {
		payload, err := msgpack.Marshal(&protocol.Envelope{
			RunID: "run-d", From: 0, To: 1, Seq: seq, Message: protocol.Candidate(3, 0),
		})
		if err != nil {
			t.Fatalf("Marshal failed: %v", err)
		}
		resp, err := http.Post(srv.URL+"/message", contentTypeMsgpack, bytes.NewReader(payload))
		if err != nil {
			t.Fatalf("POST failed: %v", err)
		}
		resp.Body.Close()
		return resp.StatusCode
	}

	if code := post(0); code != http.StatusNoContent {
		t.Fatalf("first message: status %d", code)
	}
	if code := post(0); code != http.StatusConflict {
		t.Errorf("replayed message: expected 409, got %d", code)
	}
	if code := post(5); code != http.StatusConflict {
		t.Errorf("skipped sequence: expected 409, got %d", code)
	}
	if code := post(1); code != http.StatusNoContent {
		t.Errorf("next message: status %d", code)
	}
}

func TestHTTPLinkStatus(t *testing.T) {
	links := newHTTPRanks(t, 2, "run-e")
	links[1].SetState(protocol.StateApplying)

	resp, err := http.Get(links[0].peers[1] + "/status")
	if err != nil {
		t.Fatalf("GET /status failed: %v", err)
	}
	defer resp.Body.Close()

	var status protocol.StatusReport
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if status.Rank != 1 || status.Size != 2 || status.RunID != "run-e" {
		t.Errorf("unexpected identity: %+v", status)
	}
	if status.State != "applying" {
		t.Errorf("Expected state applying, got %q", status.State)
	}
	if len(status.InboxDepth) != 2 {
		t.Errorf("Expected 2 inbox depths, got %d", len(status.InboxDepth))
	}
}

func TestNewHTTPLinkValidation(t *testing.T) {
	if _, err := NewHTTPLink(HTTPConfig{Rank: 2, Size: 2}); !errors.Is(err, ErrBadRank) {
		t.Errorf("Expected ErrBadRank, got %v", err)
	}
	if _, err := NewHTTPLink(HTTPConfig{Rank: 0, Size: 2, Peers: []string{"http://a"}}); err == nil {
		t.Error("Expected error for short peer list")
	}
}

// TestHTTPLinkAbortUnblocksReceivers checks an abort from one rank ends
// waits on every other sender.
func TestHTTPLinkAbortUnblocksReceivers(t *testing.T) {
	links := newHTTPRanks(t, 3, "run-f")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	errc := make(chan error, 1)
	go func() {
		// Rank 1 never sends; only the abort can end this
		_, err := links[0].Recv(ctx, 1)
		errc <- err
	}()

	links[2].Abort(ctx)

	select {
	case err := <-errc:
		if !errors.Is(err, ErrAborted) {
			t.Fatalf("Expected ErrAborted, got %v", err)
		}
	case <-ctx.Done():
		t.Fatal("Recv still blocked after abort")
	}

	tests := []struct {
		name string
		fn   func() error
	}{
		{"send from rank 0", func() error { return links[0].Send(ctx, 1, protocol.Candidate(2, 0)) }},
		{"recv on rank 1", func() error { _, err := links[1].Recv(ctx, 0); return err }},
		{"barrier on rank 1", func() error { return NewComm(links[1]).Barrier(ctx) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.fn(); !errors.Is(err, ErrAborted) {
				t.Errorf("Expected ErrAborted, got %v", err)
			}
		})
	}
}

func TestHTTPLinkAbortFromForeignRunIgnored(t *testing.T) {
	links := newHTTPRanks(t, 2, "run-g")
	links[0].cfg.RunID = "run-other"
	links[0].Abort(context.Background())

	select {
	case <-links[1].aborted:
		t.Error("Expected abort from another run to be rejected")
	default:
	}
}
