package report

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/ahmadhassan44/prime-sieve/pkg/protocol"
)

// Reporter publishes the outcome of a finished run. primes is the full
// ascending prime list.
type Reporter interface {
	Report(ctx context.Context, summary protocol.Summary, primes []int) error
}

// Stdout writes the timing line, then the primes one per line when enabled
type Stdout struct {
	W           io.Writer
	PrintPrimes bool
}

func (s *Stdout) Report(_ context.Context, summary protocol.Summary, primes []int) error {
	w := bufio.NewWriter(s.W)
	fmt.Fprintf(w, "time=%s seconds\n", FormatSeconds(summary.Seconds))
	if s.PrintPrimes {
		for _, p := range primes {
			w.WriteString(strconv.Itoa(p))
			w.WriteByte('\n')
		}
	}
	return w.Flush()
}

// FormatSeconds renders elapsed time with eight significant digits
func FormatSeconds(seconds float64) string {
	return strconv.FormatFloat(seconds, 'g', 8, 64)
}

// Multi fans a report out to every reporter and joins their errors
type Multi []Reporter

func (m Multi) Report(ctx context.Context, summary protocol.Summary, primes []int) error {
	var errs []error
	for _, r := range m {
		if err := r.Report(ctx, summary, primes); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
