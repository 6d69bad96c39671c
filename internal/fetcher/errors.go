package fetcher

import (
	"errors"
	"fmt"
	"time"
)

// ErrSessionExpired means the storefront answered with an
// unauthenticated response mid-crawl. Callers should refresh the
// session once instead of retrying blindly.
var ErrSessionExpired = errors.New("session expired")

// TimeoutError reports that no response arrived within the budget.
type TimeoutError struct {
	URL    string
	Budget time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("no response from %s within %s", e.URL, e.Budget)
}

// FetchError reports an exhausted retry budget, carrying the last
// observed cause.
type FetchError struct {
	URL      string
	Attempts int
	Cause    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch of %s failed after %d attempts: %v", e.URL, e.Attempts, e.Cause)
}

func (e *FetchError) Unwrap() error { return e.Cause }
