package protocol

import "fmt"

// Kind tags every message exchanged between ranks.
type Kind uint8

const (
	// KindCandidate carries a discovered prime in Value and, in chain
	// topology, the last multiple marked upstream in Hint.
	KindCandidate Kind = iota + 1
	// KindTerminate closes the candidate stream.
	KindTerminate
	// KindValue carries a broadcast integer in Value.
	KindValue
	// KindMask carries a boolean vector for scatter/gather.
	KindMask
	// KindBarrier is the arrive/release token of a barrier.
	KindBarrier
	// KindAbort tells peers the run failed on the rank in Value.
	KindAbort
)

func (k Kind) String() string {
	switch k {
	case KindCandidate:
		return "candidate"
	case KindTerminate:
		return "terminate"
	case KindValue:
		return "value"
	case KindMask:
		return "mask"
	case KindBarrier:
		return "barrier"
	case KindAbort:
		return "abort"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Message is the unit of point-to-point communication.
type Message struct {
	Kind  Kind   `json:"kind" msgpack:"k"`
	Value int64  `json:"value,omitempty" msgpack:"v,omitempty"`
	Hint  int64  `json:"hint,omitempty" msgpack:"h,omitempty"`
	Bits  []bool `json:"bits,omitempty" msgpack:"b,omitempty"`
}

// Candidate builds a candidate message for prime p.
func Candidate(p, hint int) Message {
	return Message{Kind: KindCandidate, Value: int64(p), Hint: int64(hint)}
}

// Abort builds the run-failure notice sent by rank.
func Abort(rank int) Message {
	return Message{Kind: KindAbort, Value: int64(rank)}
}

// Terminate builds the end-of-stream message.
func Terminate() Message {
	return Message{Kind: KindTerminate}
}

// Envelope wraps a Message on the wire between two HTTP links.
type Envelope struct {
	RunID   string  `msgpack:"run"`
	From    int     `msgpack:"from"`
	To      int     `msgpack:"to"`
	Seq     uint64  `msgpack:"seq"`
	Message Message `msgpack:"msg"`
}

// State is the lifecycle of a sieve worker.
type State int32

const (
	StateIdle State = iota
	StateWaiting
	StateApplying
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateWaiting:
		return "waiting"
	case StateApplying:
		return "applying"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// StatusReport is served by each rank's status endpoint.
type StatusReport struct {
	RunID      string `json:"run_id"`
	Rank       int    `json:"rank"`
	Size       int    `json:"size"`
	State      string `json:"state"`
	Received   uint64 `json:"received"`
	Sent       uint64 `json:"sent"`
	InboxDepth []int  `json:"inbox_depth"`
}

// Summary describes a finished run for reporters.
type Summary struct {
	RunID        string  `json:"run_id"`
	HighestNum   int     `json:"highest_number"`
	Workers      int     `json:"workers"`
	Topology     string  `json:"topology"`
	PrimeCount   int     `json:"prime_count"`
	LargestPrime int     `json:"largest_prime"`
	Seconds      float64 `json:"seconds"`
}
