package archiver

import (
	"context"
	"errors"
	"fmt"
)

// ErrListing indicates the lister failed for a channel. The channel
// contributes zero items; the run continues.
type ErrListing struct {
	URL string
	Err error
}

func (e ErrListing) Error() string {
	return fmt.Errorf("listing %s: %w", e.URL, e.Err).Error()
}

func (e ErrListing) Unwrap() error {
	return e.Err
}

// ErrProbe indicates the metadata probe failed for an item. The item is
// skipped without consuming retry budget.
type ErrProbe struct {
	URL string
	Err error
}

func (e ErrProbe) Error() string {
	return fmt.Errorf("probe %s: %w", e.URL, e.Err).Error()
}

func (e ErrProbe) Unwrap() error {
	return e.Err
}

// ErrFetch indicates one failed fetch attempt.
type ErrFetch struct {
	URL     string
	Attempt int
	Err     error
}

func (e ErrFetch) Error() string {
	return fmt.Errorf("fetch %s (attempt %d): %w", e.URL, e.Attempt, e.Err).Error()
}

func (e ErrFetch) Unwrap() error {
	return e.Err
}

// ErrExhausted is the terminal form of a fetch failure, produced once the
// retry ceiling is reached.
type ErrExhausted struct {
	URL      string
	Attempts int
	Err      error
}

func (e ErrExhausted) Error() string {
	return fmt.Errorf("giving up on %s after %d attempts: %w", e.URL, e.Attempts, e.Err).Error()
}

func (e ErrExhausted) Unwrap() error {
	return e.Err
}

func errorTypeLabel(err error) string {
	if err == nil {
		return "unknown"
	}
	var exhausted ErrExhausted
	if errors.As(err, &exhausted) {
		return "exhausted"
	}
	var probe ErrProbe
	if errors.As(err, &probe) {
		return "probe"
	}
	var listing ErrListing
	if errors.As(err, &listing) {
		return "listing"
	}
	var fetch ErrFetch
	if errors.As(err, &fetch) {
		if errors.Is(err, context.DeadlineExceeded) {
			return "timeout"
		}
		return "fetch"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "timeout"
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	return "other"
}
