package archiver

import (
	"context"
	"log/slog"
	"time"
)

// retryExecutor wraps a single-item fetch in a bounded retry loop.
// Attempts are strictly sequential; the caller's concurrency slot is held
// for the whole loop including the post-success rate-limit pause.
type retryExecutor struct {
	fetcher        Fetcher
	limit          int           // total attempts, including the first
	rateLimit      time.Duration // pause after success, 0 disables
	attemptTimeout time.Duration // per attempt, 0 disables
	metrics        *Metrics
}

// Execute fetches itemURL into destDir with retries. It returns the number
// of attempts made and nil on success, or a terminal error: ErrExhausted
// once the ceiling is reached, or the context error if the run was
// cancelled mid-loop.
func (e *retryExecutor) Execute(ctx context.Context, itemURL, destDir, cookiesFile string) (int, error) {
	var lastErr error

	for attempt := 1; attempt <= e.limit; attempt++ {
		if err := ctx.Err(); err != nil {
			return attempt - 1, err
		}

		attemptCtx := ctx
		cancel := context.CancelFunc(func() {})
		if e.attemptTimeout > 0 {
			attemptCtx, cancel = context.WithTimeout(ctx, e.attemptTimeout)
		}

		start := time.Now()
		err := e.fetcher.Fetch(attemptCtx, itemURL, destDir, cookiesFile)
		cancel()
		e.metrics.IncAttempt()
		e.metrics.ObserveFetch(time.Since(start))

		if err == nil {
			e.pause(ctx)
			return attempt, nil
		}

		lastErr = ErrFetch{URL: itemURL, Attempt: attempt, Err: err}
		slog.Warn("download attempt failed",
			slog.String("url", itemURL),
			slog.Int("attempt", attempt),
			slog.Int("limit", e.limit),
			slog.Any("error", err),
		)
		e.metrics.IncError(errorTypeLabel(lastErr))

		if err := ctx.Err(); err != nil {
			return attempt, err
		}
		if attempt < e.limit {
			e.metrics.IncRetries()
		}
	}

	return e.limit, ErrExhausted{URL: itemURL, Attempts: e.limit, Err: lastErr}
}

// pause applies the configured post-success delay while still holding the
// item's slot, throttling overall throughput. A cancelled run cuts the
// pause short; the fetch has already succeeded at that point.
func (e *retryExecutor) pause(ctx context.Context) {
	if e.rateLimit <= 0 {
		return
	}
	timer := time.NewTimer(e.rateLimit)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
}
