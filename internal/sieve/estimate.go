package sieve

import (
	"fmt"
	"math"
	"unsafe"

	"github.com/ahmadhassan44/prime-sieve/internal/partition"
)

// MaxRankBytes caps any single rank's sieve state, whether or not a
// budget is configured
const MaxRankBytes = int64(1) << 40

// Estimator sizes a rank's memory needs before anything is allocated
type Estimator struct {
	// Upper bound on the bytes one rank may allocate for sieve state.
	// Zero leaves only MaxRankBytes.
	maxBytes int64
}

func NewEstimator(maxBytes int64) *Estimator {
	return &Estimator{maxBytes: maxBytes}
}

// Footprint returns the bytes the rank allocates: its own mask, plus on the
// root the global buffer used by scatter distribution and the discovery seed
// mask when its block does not reach sqrt(n).
func (e *Estimator) Footprint(n, size, rank int, dist Distribution) int64 {
	cell := int64(unsafe.Sizeof(true))
	block := partition.For(n, size, rank)

	cells := int64(block.Size())
	if rank == 0 {
		if dist == DistributionScatter {
			cells = addSaturating(cells, int64(n)+1)
		}
		if limit := isqrt(n); block.End <= limit {
			cells = addSaturating(cells, int64(limit)+1)
		}
	}
	if cells > math.MaxInt64/cell {
		return math.MaxInt64
	}
	return cells * cell
}

func addSaturating(a, b int64) int64 {
	if a > math.MaxInt64-b {
		return math.MaxInt64
	}
	return a + b
}

// Check fails with ErrAllocation when the rank's footprint is over budget
func (e *Estimator) Check(n, size, rank int, dist Distribution) error {
	need := e.Footprint(n, size, rank, dist)
	if need > MaxRankBytes {
		return fmt.Errorf("%w: rank %d needs %d bytes, above the %d byte ceiling", ErrAllocation, rank, need, MaxRankBytes)
	}
	if e.maxBytes > 0 && need > e.maxBytes {
		return fmt.Errorf("%w: rank %d needs %d bytes, limit is %d", ErrAllocation, rank, need, e.maxBytes)
	}
	return nil
}

// EstimateCandidates approximates how many primes the root will publish,
// pi(sqrt(n)) ~ x/ln(x)
func (e *Estimator) EstimateCandidates(n int) int {
	x := float64(isqrt(n))
	if x < 3 {
		return int(x) - 1
	}
	return int(math.Round(x / math.Log(x)))
}
