package sieve

// Serial is the single-process sieve over [0, n], the reference every
// distributed run must reproduce.
func Serial(n int) []bool {
	bits := make([]bool, n+1)
	for i := 2; i <= n; i++ {
		bits[i] = true
	}
	for i := 2; i*i <= n; i++ {
		if bits[i] {
			for j := i * i; j <= n; j += i {
				bits[j] = false
			}
		}
	}
	return bits
}
