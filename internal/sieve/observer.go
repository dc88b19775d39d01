package sieve

// Observer is notified of protocol events on every rank. Calls for one rank
// come from that rank's goroutine only.
type Observer interface {
	// CandidateApplied fires after a rank has marked the multiples of p.
	CandidateApplied(rank, p int)
	// Terminated fires when a non-root rank receives the end of the stream.
	Terminated(rank int)
	// Done fires once a rank's mask is final.
	Done(rank int)
}

type nopObserver struct{}

func (nopObserver) CandidateApplied(int, int) {}
func (nopObserver) Terminated(int)            {}
func (nopObserver) Done(int)                  {}
