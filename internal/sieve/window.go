package sieve

import "github.com/ahmadhassan44/prime-sieve/internal/partition"

// Window is the part [Lo, Hi) of a block that may still need marking.
// Everything outside it is already composite.
type Window struct {
	Lo, Hi int
}

// FullWindow spans the whole block
func FullWindow(block partition.Block) Window {
	return Window{Lo: block.Start, Hi: block.End}
}

func (w Window) Empty() bool {
	return w.Lo >= w.Hi
}

// Trim shrinks w past composite runs at both ends. It only reads the mask;
// cells it drops are composite and cannot become prime again.
func Trim(m *Mask, w Window) Window {
	for w.Lo < w.Hi && !m.IsPrime(w.Lo) {
		w.Lo++
	}
	for w.Hi > w.Lo && !m.IsPrime(w.Hi-1) {
		w.Hi--
	}
	return w
}
