// Package archiver coordinates bulk retrieval of channel media under a
// global concurrency cap, with per-item retry and skip-on-failure.
package archiver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ytarchive/go-yt-archive/config"
	"github.com/ytarchive/go-yt-archive/models"
	"github.com/ytarchive/go-yt-archive/resolve"
)

// Runner drives one archive run: channels are resolved and listed
// concurrently, then every item from every channel competes for the same
// pool of concurrency slots. A slot is held for an item's entire
// probe+fetch+throttle sequence.
type Runner struct {
	cfg      *config.Config
	lister   Lister
	gate     *metadataGate
	retry    *retryExecutor
	sink     ResultSink
	Metrics  *Metrics
	progress *Progress

	slots chan struct{}
}

// channelState tracks one channel's in-run counters. The atomic fields are
// updated from many item goroutines and snapshotted into the report once
// the run finishes.
type channelState struct {
	spec       models.ChannelSpec
	listingURL string
	destDir    string
	items      []models.ItemRef
	failure    string

	succeeded int64
	skipped   int64
	failed    int64
}

// NewRunner builds a runner from validated configuration and its
// collaborators. The sink may be nil when no manifest is wanted.
func NewRunner(cfg *config.Config, lister Lister, prober Prober, fetcher Fetcher, sink ResultSink) (*Runner, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if lister == nil || prober == nil || fetcher == nil {
		return nil, fmt.Errorf("lister, prober, and fetcher are required")
	}

	metrics := NewMetrics()
	gate, err := newMetadataGate(prober, cfg.ProbeTimeout, cfg.ProbeCacheSize, metrics)
	if err != nil {
		return nil, fmt.Errorf("probe cache: %w", err)
	}

	return &Runner{
		cfg:    cfg,
		lister: lister,
		gate:   gate,
		retry: &retryExecutor{
			fetcher:        fetcher,
			limit:          cfg.RetryLimit,
			rateLimit:      cfg.RateLimit,
			attemptTimeout: cfg.FetchTimeout,
			metrics:        metrics,
		},
		sink:     sink,
		Metrics:  metrics,
		progress: &Progress{},
		slots:    make(chan struct{}, cfg.MaxConcurrent),
	}, nil
}

// Progress exposes the live completion counter.
func (r *Runner) Progress() *Progress {
	return r.progress
}

// Run processes every configured channel and blocks until all items reach
// a terminal outcome. Identifier and listing failures are contained at the
// channel level; fetch failures at the item level. The summary always
// reports what succeeded, what was skipped, and what failed.
func (r *Runner) Run(ctx context.Context) (*models.RunSummary, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()

	states := r.resolveChannels()
	r.listChannels(ctx, states)

	total := 0
	for _, st := range states {
		total += len(st.items)
	}
	r.progress.SetTotal(total)
	slog.Info("listing complete",
		slog.Int("channels", len(states)),
		slog.Int("items", total),
	)

	var wg sync.WaitGroup
	for _, st := range states {
		for _, item := range st.items {
			wg.Add(1)
			go func(st *channelState, item models.ItemRef) {
				defer wg.Done()
				r.processItem(ctx, st, item)
			}(st, item)
		}
	}
	wg.Wait()

	summary := &models.RunSummary{
		StartTime:  start,
		EndTime:    time.Now(),
		TotalItems: total,
		Completed:  r.progress.Completed(),
	}
	for _, st := range states {
		summary.Channels = append(summary.Channels, &models.ChannelReport{
			Identifier: st.spec.Identifier,
			ListingURL: st.listingURL,
			ItemCount:  len(st.items),
			Succeeded:  int(atomic.LoadInt64(&st.succeeded)),
			Skipped:    int(atomic.LoadInt64(&st.skipped)),
			Failed:     int(atomic.LoadInt64(&st.failed)),
			Err:        st.failure,
		})
	}
	return summary, nil
}

// resolveChannels normalizes identifiers and assigns destination
// directories. A channel that fails here carries its error in the report
// and contributes zero items.
func (r *Runner) resolveChannels() []*channelState {
	states := make([]*channelState, 0, len(r.cfg.Channels))
	for _, spec := range r.cfg.Channels {
		st := &channelState{spec: spec}
		states = append(states, st)

		canonical, err := resolve.CanonicalURL(spec.Identifier)
		if err != nil {
			st.failure = err.Error()
			r.Metrics.IncError("identifier")
			slog.Error("unresolvable channel identifier",
				slog.String("identifier", spec.Identifier),
				slog.Any("error", err),
			)
			continue
		}
		st.listingURL = canonical

		dir, err := r.cfg.DownloadDir(spec)
		if err != nil {
			st.failure = err.Error()
			slog.Error("no download directory for channel",
				slog.String("identifier", spec.Identifier),
				slog.Any("error", err),
			)
			continue
		}
		st.destDir = dir
	}
	return states
}

// listChannels fills each resolvable channel's item list. Channels are
// listed concurrently with each other; the run total is only known once
// every listing has finished.
func (r *Runner) listChannels(ctx context.Context, states []*channelState) {
	var wg sync.WaitGroup
	for _, st := range states {
		if st.failure != "" {
			continue
		}
		wg.Add(1)
		go func(st *channelState) {
			defer wg.Done()

			// A watch URL names exactly one item, not a listing.
			if resolve.IsWatchURL(st.listingURL) {
				st.items = []models.ItemRef{{URL: st.listingURL}}
				return
			}

			items, err := r.lister.List(ctx, st.listingURL)
			if err != nil {
				wrapped := ErrListing{URL: st.listingURL, Err: err}
				st.failure = wrapped.Error()
				r.Metrics.IncError(errorTypeLabel(wrapped))
				slog.Error("channel listing failed",
					slog.String("url", st.listingURL),
					slog.Any("error", err),
				)
				return
			}
			st.items = items
			slog.Info("channel listed",
				slog.String("url", st.listingURL),
				slog.Int("items", len(items)),
			)
		}(st)
	}
	wg.Wait()
}

// processItem runs one item through gate, retry executor, and throttle
// while holding a concurrency slot. Exactly one terminal outcome is
// recorded per item.
func (r *Runner) processItem(ctx context.Context, st *channelState, item models.ItemRef) {
	select {
	case r.slots <- struct{}{}:
	case <-ctx.Done():
		r.finish(st, item, models.OutcomeSkipped, 0, "run canceled")
		return
	}
	r.Metrics.SlotAcquired()
	defer func() {
		<-r.slots
		r.Metrics.SlotReleased()
	}()

	if _, err := r.gate.Check(ctx, item.URL); err != nil {
		if ctx.Err() != nil {
			r.finish(st, item, models.OutcomeSkipped, 0, "run canceled")
			return
		}
		r.Metrics.IncError(errorTypeLabel(err))
		slog.Warn("skipping download (metadata fetch failed)",
			slog.String("url", item.URL),
			slog.Any("error", err),
		)
		r.finish(st, item, models.OutcomeSkipped, 0, "metadata fetch failed")
		return
	}

	attempts, err := r.retry.Execute(ctx, item.URL, st.destDir, r.cfg.CookiesFile)
	var exhausted ErrExhausted
	switch {
	case err == nil:
		slog.Info("download complete",
			slog.String("url", item.URL),
			slog.Int("attempts", attempts),
		)
		r.finish(st, item, models.OutcomeSuccess, attempts, "")
	case !errors.As(err, &exhausted):
		// Execute only surfaces non-exhaustion errors when the run
		// context ends mid-loop.
		r.finish(st, item, models.OutcomeSkipped, attempts, "run canceled")
	default:
		r.Metrics.IncError(errorTypeLabel(err))
		slog.Error("download failed permanently",
			slog.String("url", item.URL),
			slog.Int("attempts", attempts),
			slog.Any("error", err),
		)
		r.finish(st, item, models.OutcomeFatal, attempts, err.Error())
	}
}

// finish records an item's single terminal outcome: channel counters,
// progress, metrics, and the manifest sink.
func (r *Runner) finish(st *channelState, item models.ItemRef, outcome models.Outcome, attempts int, reason string) {
	switch outcome {
	case models.OutcomeSuccess:
		atomic.AddInt64(&st.succeeded, 1)
	case models.OutcomeSkipped:
		atomic.AddInt64(&st.skipped, 1)
	case models.OutcomeFatal:
		atomic.AddInt64(&st.failed, 1)
	}

	completed := r.progress.Done()
	r.Metrics.IncItem(string(outcome))
	slog.Debug("item finished",
		slog.String("url", item.URL),
		slog.String("outcome", string(outcome)),
		slog.Int("completed", completed),
		slog.Int("total", r.progress.Total()),
	)

	if r.sink == nil {
		return
	}
	result := &models.ItemResult{
		ChannelURL:  st.listingURL,
		URL:         item.URL,
		Outcome:     outcome,
		Attempts:    attempts,
		Reason:      reason,
		CompletedAt: time.Now(),
	}
	if err := r.sink.Process(result); err != nil {
		slog.Error("manifest sink error", slog.Any("error", err))
	}
}
