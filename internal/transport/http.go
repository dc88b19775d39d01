package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/ahmadhassan44/prime-sieve/pkg/protocol"
)

const contentTypeMsgpack = "application/msgpack"

// HTTPConfig describes one rank of an HTTP-connected run
type HTTPConfig struct {
	Rank       int
	Size       int
	RunID      string
	ListenAddr string   // e.g. ":9000"
	Peers      []string // base URL per rank, e.g. "http://10.0.0.2:9000"
	InboxDepth int
}

// HTTPLink carries messages between ranks as msgpack-encoded POSTs. A send
// returns once the receiving rank has queued the message in its inbox for
// that sender, so per-pair order follows the sequence numbers.
type HTTPLink struct {
	cfg    HTTPConfig
	peers  []string
	client *http.Client
	server *http.Server

	inbox  []chan protocol.Message // indexed by sender
	recvMu []sync.Mutex
	recvSq []uint64
	sendMu []sync.Mutex
	sendSq []uint64

	state    atomic.Int32
	sent     atomic.Uint64
	received atomic.Uint64

	closed    chan struct{}
	closeOnce sync.Once

	aborted   chan struct{}
	abortOnce sync.Once
	abortedBy atomic.Int32
}

// NewHTTPLink prepares a link; call Start to begin serving
func NewHTTPLink(cfg HTTPConfig) (*HTTPLink, error) {
	if cfg.Size <= 0 || cfg.Rank < 0 || cfg.Rank >= cfg.Size {
		return nil, fmt.Errorf("%w: rank %d of %d", ErrBadRank, cfg.Rank, cfg.Size)
	}
	if cfg.InboxDepth <= 0 {
		cfg.InboxDepth = 1
	}

	l := &HTTPLink{
		cfg:     cfg,
		client:  &http.Client{}, // Deadlines come from the caller's context
		inbox:   make([]chan protocol.Message, cfg.Size),
		recvMu:  make([]sync.Mutex, cfg.Size),
		recvSq:  make([]uint64, cfg.Size),
		sendMu:  make([]sync.Mutex, cfg.Size),
		sendSq:  make([]uint64, cfg.Size),
		closed:  make(chan struct{}),
		aborted: make(chan struct{}),
	}
	for i := range l.inbox {
		l.inbox[i] = make(chan protocol.Message, cfg.InboxDepth)
	}
	if cfg.Peers != nil {
		if err := l.SetPeers(cfg.Peers); err != nil {
			return nil, err
		}
	}
	return l, nil
}

// SetPeers installs the base URL of every rank, in rank order
func (l *HTTPLink) SetPeers(peers []string) error {
	if len(peers) != l.cfg.Size {
		return fmt.Errorf("transport: %d peer addresses for %d ranks", len(peers), l.cfg.Size)
	}
	l.peers = make([]string, len(peers))
	for i, p := range peers {
		l.peers[i] = strings.TrimRight(p, "/")
	}
	return nil
}

func (l *HTTPLink) Rank() int { return l.cfg.Rank }
func (l *HTTPLink) Size() int { return l.cfg.Size }

// SetState records the worker state shown by /status
func (l *HTTPLink) SetState(s protocol.State) {
	l.state.Store(int32(s))
}

// Handler exposes the rank's endpoints
func (l *HTTPLink) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/message", l.handleMessage)
	mux.HandleFunc("/health", l.handleHealth)
	mux.HandleFunc("/status", l.handleStatus)

	return l.loggingMiddleware(mux)
}

// Start begins listening for peers in the background
func (l *HTTPLink) Start() error {
	ln, err := net.Listen("tcp", l.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", l.cfg.ListenAddr, err)
	}
	l.server = &http.Server{Handler: l.Handler()}
	log.Printf("[HTTPLink] Rank %d listening on %s", l.cfg.Rank, ln.Addr())

	go func() {
		if err := l.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("[HTTPLink] Rank %d server stopped: %v", l.cfg.Rank, err)
		}
	}()
	return nil
}

// WaitForPeers polls every peer's health endpoint until all answer
func (l *HTTPLink) WaitForPeers(ctx context.Context, interval time.Duration) error {
	for rank, base := range l.peers {
		if rank == l.cfg.Rank {
			continue
		}
		for {
			err := l.ping(ctx, base)
			if err == nil {
				break
			}
			select {
			case <-ctx.Done():
				return fmt.Errorf("rank %d at %s unreachable: %w", rank, base, err)
			case <-time.After(interval):
			}
		}
	}
	return nil
}

func (l *HTTPLink) ping(ctx context.Context, base string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/health", nil)
	if err != nil {
		return err
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health returned status %d", resp.StatusCode)
	}
	return nil
}

// Send posts msg to the peer and waits for it to be queued
func (l *HTTPLink) Send(ctx context.Context, to int, msg protocol.Message) error {
	if err := checkPeer(l, to); err != nil {
		return err
	}
	if l.peers == nil {
		return fmt.Errorf("transport: peer addresses not set")
	}
	select {
	case <-l.closed:
		return ErrClosed
	case <-l.aborted:
		return l.abortErr()
	default:
	}

	l.sendMu[to].Lock()
	defer l.sendMu[to].Unlock()

	env := protocol.Envelope{
		RunID:   l.cfg.RunID,
		From:    l.cfg.Rank,
		To:      to,
		Seq:     l.sendSq[to],
		Message: msg,
	}
	if err := l.post(ctx, to, &env); err != nil {
		return err
	}

	l.sendSq[to]++
	l.sent.Add(1)
	return nil
}

// post delivers one envelope and expects 204 No Content
func (l *HTTPLink) post(ctx context.Context, to int, env *protocol.Envelope) error {
	payload, err := msgpack.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.peers[to]+"/message", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", contentTypeMsgpack)

	resp, err := l.client.Do(req)
	if err != nil {
		return fmt.Errorf("rank %d communication failed: %w", to, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNoContent {
		reason, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("%w: rank %d returned status %d: %s",
			ErrRejected, to, resp.StatusCode, strings.TrimSpace(string(reason)))
	}
	return nil
}

// Abort tells every peer the run failed on this rank. It bypasses the
// per-pair sequence so a stuck send cannot hold it back.
func (l *HTTPLink) Abort(ctx context.Context) {
	if l.peers == nil {
		return
	}

	var wg sync.WaitGroup
	for to := range l.peers {
		if to == l.cfg.Rank {
			continue
		}
		wg.Add(1)
		go func(to int) {
			defer wg.Done()
			env := protocol.Envelope{
				RunID:   l.cfg.RunID,
				From:    l.cfg.Rank,
				To:      to,
				Message: protocol.Abort(l.cfg.Rank),
			}
			if err := l.post(ctx, to, &env); err != nil {
				log.Printf("[HTTPLink] Rank %d: abort notice to rank %d failed: %v", l.cfg.Rank, to, err)
			}
		}(to)
	}
	wg.Wait()
}

func (l *HTTPLink) markAborted(by int) {
	l.abortOnce.Do(func() {
		l.abortedBy.Store(int32(by))
		close(l.aborted)
	})
}

func (l *HTTPLink) abortErr() error {
	return fmt.Errorf("%w by rank %d", ErrAborted, l.abortedBy.Load())
}

// Recv takes the next queued message from rank from
func (l *HTTPLink) Recv(ctx context.Context, from int) (protocol.Message, error) {
	if err := checkPeer(l, from); err != nil {
		return protocol.Message{}, err
	}
	select {
	case msg := <-l.inbox[from]:
		return msg, nil
	case <-l.closed:
		return protocol.Message{}, ErrClosed
	case <-l.aborted:
		return protocol.Message{}, l.abortErr()
	case <-ctx.Done():
		return protocol.Message{}, ctx.Err()
	}
}

// Close stops the server and aborts pending receives
func (l *HTTPLink) Close() error {
	var err error
	l.closeOnce.Do(func() {
		close(l.closed)
		if l.server != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			err = l.server.Shutdown(ctx)
		}
	})
	return err
}

// handleMessage queues an envelope from a peer
func (l *HTTPLink) handleMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var env protocol.Envelope
	if err := msgpack.NewDecoder(r.Body).Decode(&env); err != nil {
		http.Error(w, fmt.Sprintf("Invalid msgpack: %v", err), http.StatusBadRequest)
		return
	}

	// Validate envelope
	if env.RunID != l.cfg.RunID {
		http.Error(w, fmt.Sprintf("run %q does not match %q", env.RunID, l.cfg.RunID), http.StatusConflict)
		return
	}
	if env.To != l.cfg.Rank {
		http.Error(w, fmt.Sprintf("addressed to rank %d, this is rank %d", env.To, l.cfg.Rank), http.StatusConflict)
		return
	}
	if env.From < 0 || env.From >= l.cfg.Size || env.From == l.cfg.Rank {
		http.Error(w, fmt.Sprintf("invalid sender rank %d", env.From), http.StatusBadRequest)
		return
	}

	if env.Message.Kind == protocol.KindAbort {
		log.Printf("[HTTPLink] Rank %d: run aborted by rank %d", l.cfg.Rank, env.From)
		l.markAborted(env.From)
		w.WriteHeader(http.StatusNoContent)
		return
	}

	l.recvMu[env.From].Lock()
	defer l.recvMu[env.From].Unlock()

	if env.Seq != l.recvSq[env.From] {
		http.Error(w, fmt.Sprintf("sequence %d from rank %d, expected %d",
			env.Seq, env.From, l.recvSq[env.From]), http.StatusConflict)
		return
	}

	select {
	case l.inbox[env.From] <- env.Message:
		l.recvSq[env.From]++
		l.received.Add(1)
		w.WriteHeader(http.StatusNoContent)
	case <-l.closed:
		http.Error(w, "link closed", http.StatusServiceUnavailable)
	case <-l.aborted:
		http.Error(w, "run aborted", http.StatusServiceUnavailable)
	case <-r.Context().Done():
		http.Error(w, "request cancelled", http.StatusServiceUnavailable)
	}
}

// handleHealth provides a simple health check endpoint
func (l *HTTPLink) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// handleStatus returns the rank's current state and traffic counters
func (l *HTTPLink) handleStatus(w http.ResponseWriter, r *http.Request) {
	depth := make([]int, len(l.inbox))
	for i, ch := range l.inbox {
		depth[i] = len(ch)
	}

	status := protocol.StatusReport{
		RunID:      l.cfg.RunID,
		Rank:       l.cfg.Rank,
		Size:       l.cfg.Size,
		State:      protocol.State(l.state.Load()).String(),
		Received:   l.received.Load(),
		Sent:       l.sent.Load(),
		InboxDepth: depth,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(status)
}

// loggingMiddleware logs control requests; the message path is too hot to log
func (l *HTTPLink) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/message" {
			log.Printf("[HTTPLink] Rank %d: %s %s from %s", l.cfg.Rank, r.Method, r.URL.Path, r.RemoteAddr)
		}
		next.ServeHTTP(w, r)
	})
}
