package config

import (
	"errors"
	"fmt"
	"math"
	"strconv"
)

var (
	ErrUsage         = errors.New("wrong number of arguments")
	ErrBoundTooLow   = errors.New("highest number must be greater than 2")
	ErrBoundTooLarge = errors.New("highest number is too large")
)

// Usage is the one-line usage text of a binary taking highestNumber
func Usage(prog string) string {
	return fmt.Sprintf("usage:  %s <highestNumber>", prog)
}

// ParseBound reads the single highestNumber argument shared by every binary
func ParseBound(args []string) (int, error) {
	if len(args) != 1 {
		return 0, ErrUsage
	}
	n, err := strconv.Atoi(args[0])
	if errors.Is(err, strconv.ErrRange) {
		return 0, fmt.Errorf("%w: %s", ErrBoundTooLarge, args[0])
	}
	if err != nil {
		return 0, fmt.Errorf("highest number %q is not an integer", args[0])
	}
	if n <= 2 {
		return 0, ErrBoundTooLow
	}
	// [0, n] must have a countable number of cells
	if n == math.MaxInt {
		return 0, fmt.Errorf("%w: %d", ErrBoundTooLarge, n)
	}
	return n, nil
}
