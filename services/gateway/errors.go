package gateway

import (
	"errors"
	"fmt"
)

var (
	// ErrUnavailable marks a transient gateway failure (network, auth,
	// upstream 5xx). The caller retries via reconciliation or the next
	// payout cycle.
	ErrUnavailable = errors.New("gateway unavailable")

	// ErrRejected marks a business rejection. Retrying the same request
	// risks a duplicate charge or payout, so the caller must not.
	ErrRejected = errors.New("gateway rejected request")
)

func Unavailable(name string, cause error) error {
	if cause == nil {
		return fmt.Errorf("%s: %w", name, ErrUnavailable)
	}
	return fmt.Errorf("%s: %w: %v", name, ErrUnavailable, cause)
}

func Rejected(name string, reason string) error {
	return fmt.Errorf("%s: %w: %s", name, ErrRejected, reason)
}
