package partition

import "fmt"

// Block is the contiguous range [Start, End) of integers owned by one rank
type Block struct {
	Rank  int
	Start int
	End   int // not inclusive
}

// Size returns the number of integers in the block
func (b Block) Size() int {
	return b.End - b.Start
}

// Empty reports whether the block owns no integers
func (b Block) Empty() bool {
	return b.End <= b.Start
}

// Contains reports whether v lies inside the block
func (b Block) Contains(v int) bool {
	return b.Start <= v && v < b.End
}

func (b Block) String() string {
	return fmt.Sprintf("rank%d=[%d,%d)", b.Rank, b.Start, b.End)
}

// For returns the block owned by rank when [0, n] is split across p workers.
// The n+1 integers are divided so that the first (n+1) mod p ranks receive
// one extra element; start is the prefix sum of all lower ranks.
func For(n, p, rank int) Block {
	total := n + 1
	base := total / p
	extra := total % p

	size := base
	if rank < extra {
		size++
	}

	// Lower ranks: rank*base elements, plus one each for min(rank, extra) of them
	start := rank*base + min(rank, extra)
	return Block{Rank: rank, Start: start, End: start + size}
}

// All returns every rank's block in rank order
func All(n, p int) []Block {
	blocks := make([]Block, p)
	for rank := 0; rank != p; rank++ {
		blocks[rank] = For(n, p, rank)
	}
	return blocks
}

// Owner returns the rank whose block contains v
func Owner(n, p, v int) int {
	total := n + 1
	base := total / p
	extra := total % p

	// The first extra ranks hold base+1 elements each
	boundary := extra * (base + 1)
	if v < boundary {
		return v / (base + 1)
	}
	return extra + (v-boundary)/base
}
