package sieve

import (
	"fmt"

	"github.com/ahmadhassan44/prime-sieve/internal/partition"
)

// Result is the reassembled sieve over [0, N]; Bits[v] reports whether v is prime
type Result struct {
	N    int
	Bits []bool
}

// assemble places every rank's mask at its block offset
func assemble(n int, blocks []partition.Block, parts [][]bool) (*Result, error) {
	if len(parts) != len(blocks) {
		return nil, fmt.Errorf("%w: gathered %d masks for %d blocks", ErrProtocolViolation, len(parts), len(blocks))
	}

	bits := make([]bool, n+1)
	for _, b := range blocks {
		part := parts[b.Rank]
		if len(part) != b.Size() {
			return nil, fmt.Errorf("%w: rank %d returned %d cells for block %v",
				ErrProtocolViolation, b.Rank, len(part), b)
		}
		copy(bits[b.Start:b.End], part)
	}
	return &Result{N: n, Bits: bits}, nil
}

func (r *Result) IsPrime(v int) bool {
	return v >= 0 && v <= r.N && r.Bits[v]
}

// Primes lists the primes in increasing order
func (r *Result) Primes() []int {
	primes := make([]int, 0, r.Count())
	for v, prime := range r.Bits {
		if prime {
			primes = append(primes, v)
		}
	}
	return primes
}

func (r *Result) Count() int {
	count := 0
	for _, prime := range r.Bits {
		if prime {
			count++
		}
	}
	return count
}

// Largest returns the greatest prime <= N, or 0 when there is none
func (r *Result) Largest() int {
	for v := r.N; v >= 2; v-- {
		if r.Bits[v] {
			return v
		}
	}
	return 0
}
