package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// ErrUnconfigured marks a provider with no credential. Always wrapped in a
// ProviderError naming the provider.
var ErrUnconfigured = errors.New("provider not configured")

// ProviderError wraps a backend failure with the provider name and, when the
// backend answered at all, its HTTP status.
type ProviderError struct {
	Provider string
	Status   int
	Err      error
}

func (e *ProviderError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("provider %s: status %d: %v", e.Provider, e.Status, e.Err)
	}
	return fmt.Sprintf("provider %s: %v", e.Provider, e.Err)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// IsTimeout reports whether err is a deadline or network timeout.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// retryable reports whether another attempt could succeed: timeouts, rate
// limits, and server-side failures. Unconfigured providers and client errors
// are final.
func retryable(err error) bool {
	if IsTimeout(err) {
		return true
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		if errors.Is(pe.Err, ErrUnconfigured) {
			return false
		}
		return pe.Status == 429 || pe.Status >= 500
	}
	return false
}
