package sieve

import (
	"fmt"
	"math"

	"github.com/ahmadhassan44/prime-sieve/internal/partition"
)

// Mask is a rank's sieve state over its block, addressed by absolute value.
// true means the value is still believed prime.
type Mask struct {
	block partition.Block
	bits  []bool
}

// NewMask allocates an all-prime mask for block, with 0 and 1 cleared
func NewMask(block partition.Block) *Mask {
	bits := make([]bool, block.Size())
	for i := range bits {
		bits[i] = true
	}
	return newMask(block, bits)
}

// MaskFromBits adopts bits (e.g. a scattered slice) as the mask of block
func MaskFromBits(block partition.Block, bits []bool) (*Mask, error) {
	if len(bits) != block.Size() {
		return nil, fmt.Errorf("%w: %d cells received for block %v", ErrProtocolViolation, len(bits), block)
	}
	return newMask(block, bits), nil
}

func newMask(block partition.Block, bits []bool) *Mask {
	m := &Mask{block: block, bits: bits}
	for v := block.Start; v < min(2, block.End); v++ {
		m.bits[v-block.Start] = false
	}
	return m
}

func (m *Mask) Block() partition.Block { return m.block }

// Bits exposes the cells in block order
func (m *Mask) Bits() []bool { return m.bits }

func (m *Mask) index(v int) int {
	if !m.block.Contains(v) {
		panic(fmt.Sprintf("sieve: value %d outside block %v", v, m.block))
	}
	return v - m.block.Start
}

func (m *Mask) IsPrime(v int) bool {
	return m.bits[m.index(v)]
}

// Mark records v as composite
func (m *Mask) Mark(v int) {
	m.bits[m.index(v)] = false
}

// MarkMultiples marks first, first+p, ... below end as composite and returns
// the last value marked, or -1 if none was.
func (m *Mask) MarkMultiples(p, first, end int) int {
	end = min(end, m.block.End)
	last := -1
	for v := first; v < end; v += p {
		m.bits[m.index(v)] = false
		last = v
	}
	return last
}

// Count returns the number of cells still marked prime
func (m *Mask) Count() int {
	count := 0
	for _, b := range m.bits {
		if b {
			count++
		}
	}
	return count
}

// firstMultiple returns the smallest multiple of p that is at least lo and
// p*p. hint, when positive, is a multiple of p known to lie below lo.
func firstMultiple(p, lo, hint int) int {
	start := p * p
	if hint >= start {
		start = hint + p
	}
	if start < lo {
		start += (lo - start + p - 1) / p * p
	}
	return start
}

// isqrt returns the largest r with r*r <= n
func isqrt(n int) int {
	if n < 2 {
		return n
	}
	r := int(math.Sqrt(float64(n)))
	// Compare by division so squares near MaxInt cannot overflow
	for r > n/r {
		r--
	}
	for r+1 <= n/(r+1) {
		r++
	}
	return r
}
