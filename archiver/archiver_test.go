package archiver

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ytarchive/go-yt-archive/config"
	"github.com/ytarchive/go-yt-archive/models"
)

type fakeLister struct {
	mu    sync.Mutex
	items map[string][]models.ItemRef
	errs  map[string]error
	calls map[string]int
}

func (f *fakeLister) List(_ context.Context, canonicalURL string) ([]models.ItemRef, error) {
	f.mu.Lock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[canonicalURL]++
	f.mu.Unlock()

	if err, ok := f.errs[canonicalURL]; ok {
		return nil, err
	}
	return f.items[canonicalURL], nil
}

type fakeProber struct {
	mu      sync.Mutex
	failing map[string]bool
	calls   map[string]int
	delay   time.Duration
}

func (f *fakeProber) Probe(_ context.Context, itemURL string) (*models.ItemMeta, error) {
	f.mu.Lock()
	if f.calls == nil {
		f.calls = make(map[string]int)
	}
	f.calls[itemURL]++
	f.mu.Unlock()

	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	if f.failing[itemURL] {
		return nil, errors.New("unavailable")
	}
	return &models.ItemMeta{ID: itemURL, Title: "title"}, nil
}

func (f *fakeProber) callCount(itemURL string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[itemURL]
}

type fakeFetcher struct {
	mu       sync.Mutex
	failures map[string]int // remaining failures per URL before success
	attempts map[string]int
	delay    time.Duration

	inFlight    int64
	maxInFlight int64
}

func (f *fakeFetcher) Fetch(ctx context.Context, itemURL, _, _ string) error {
	current := atomic.AddInt64(&f.inFlight, 1)
	for {
		max := atomic.LoadInt64(&f.maxInFlight)
		if current <= max || atomic.CompareAndSwapInt64(&f.maxInFlight, max, current) {
			break
		}
	}
	defer atomic.AddInt64(&f.inFlight, -1)

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.attempts == nil {
		f.attempts = make(map[string]int)
	}
	f.attempts[itemURL]++
	if f.failures[itemURL] > 0 {
		f.failures[itemURL]--
		return errors.New("network hiccup")
	}
	return nil
}

func (f *fakeFetcher) attemptCount(itemURL string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts[itemURL]
}

type collectingSink struct {
	mu      sync.Mutex
	results []*models.ItemResult
}

func (cs *collectingSink) Process(result *models.ItemResult) error {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.results = append(cs.results, result)
	return nil
}

func (cs *collectingSink) all() []*models.ItemResult {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	out := make([]*models.ItemResult, len(cs.results))
	copy(out, cs.results)
	return out
}

func testConfig(channels ...models.ChannelSpec) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Channels = channels
	cfg.RateLimit = 0
	cfg.MaxConcurrent = 2
	return cfg
}

func watchURLs(channel string, n int) []models.ItemRef {
	items := make([]models.ItemRef, 0, n)
	for i := 1; i <= n; i++ {
		items = append(items, models.ItemRef{URL: fmt.Sprintf("https://www.youtube.com/watch?v=%s%d", channel, i)})
	}
	return items
}

func findChannel(t *testing.T, summary *models.RunSummary, identifier string) *models.ChannelReport {
	t.Helper()
	for _, ch := range summary.Channels {
		if ch.Identifier == identifier {
			return ch
		}
	}
	t.Fatalf("channel %q missing from summary", identifier)
	return nil
}

func TestRunEndToEndSummary(t *testing.T) {
	cfg := testConfig(
		models.ChannelSpec{Identifier: "@one"},
		models.ChannelSpec{Identifier: "@two"},
	)

	okItems := watchURLs("a", 3)
	mixedItems := watchURLs("b", 2)

	lister := &fakeLister{items: map[string][]models.ItemRef{
		"https://www.youtube.com/@one/videos": okItems,
		"https://www.youtube.com/@two/videos": mixedItems,
	}}
	prober := &fakeProber{failing: map[string]bool{mixedItems[0].URL: true}}
	fetcher := &fakeFetcher{failures: map[string]int{mixedItems[1].URL: cfg.RetryLimit}}
	sink := &collectingSink{}

	runner, err := NewRunner(cfg, lister, prober, fetcher, sink)
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}

	summary, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	one := findChannel(t, summary, "@one")
	if one.ItemCount != 3 || one.Succeeded != 3 || one.Skipped != 0 || one.Failed != 0 {
		t.Fatalf("channel one = %+v, want 3 successes", one)
	}
	two := findChannel(t, summary, "@two")
	if two.ItemCount != 2 || two.Succeeded != 0 || two.Skipped != 1 || two.Failed != 1 {
		t.Fatalf("channel two = %+v, want 1 skip and 1 failure", two)
	}

	if summary.TotalItems != 5 {
		t.Fatalf("total items = %d, want 5", summary.TotalItems)
	}
	if summary.Completed != 5 {
		t.Fatalf("progress completed = %d, want 5", summary.Completed)
	}
	if got := len(sink.all()); got != 5 {
		t.Fatalf("manifest results = %d, want one per item", got)
	}
}

func TestConcurrencyNeverExceedsCap(t *testing.T) {
	cfg := testConfig(models.ChannelSpec{Identifier: "@busy"})
	cfg.MaxConcurrent = 2

	lister := &fakeLister{items: map[string][]models.ItemRef{
		"https://www.youtube.com/@busy/videos": watchURLs("c", 12),
	}}
	fetcher := &fakeFetcher{delay: 10 * time.Millisecond}

	runner, err := NewRunner(cfg, lister, &fakeProber{}, fetcher, nil)
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	if _, err := runner.Run(context.Background()); err != nil {
		t.Fatalf("run: %v", err)
	}

	if max := atomic.LoadInt64(&fetcher.maxInFlight); max > int64(cfg.MaxConcurrent) {
		t.Fatalf("max in-flight fetches = %d, cap is %d", max, cfg.MaxConcurrent)
	}
}

func TestRetryCeilingAndFatalOutcome(t *testing.T) {
	cfg := testConfig(models.ChannelSpec{Identifier: "https://www.youtube.com/watch?v=doomed"})
	cfg.RetryLimit = 3

	fetcher := &fakeFetcher{failures: map[string]int{
		"https://www.youtube.com/watch?v=doomed": 100,
	}}
	sink := &collectingSink{}

	runner, err := NewRunner(cfg, &fakeLister{}, &fakeProber{}, fetcher, sink)
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	summary, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if got := fetcher.attemptCount("https://www.youtube.com/watch?v=doomed"); got != 3 {
		t.Fatalf("fetch attempts = %d, want exactly the retry ceiling", got)
	}
	if summary.FailedItems() != 1 {
		t.Fatalf("failed items = %d, want 1", summary.FailedItems())
	}
	results := sink.all()
	if len(results) != 1 || results[0].Outcome != models.OutcomeFatal || results[0].Attempts != 3 {
		t.Fatalf("manifest result = %+v, want fatal after 3 attempts", results[0])
	}
}

func TestRecoveryWithinRetryBudget(t *testing.T) {
	url := "https://www.youtube.com/watch?v=flaky"
	cfg := testConfig(models.ChannelSpec{Identifier: url})
	fetcher := &fakeFetcher{failures: map[string]int{url: 2}}
	sink := &collectingSink{}

	runner, err := NewRunner(cfg, &fakeLister{}, &fakeProber{}, fetcher, sink)
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	summary, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if summary.Succeeded() != 1 {
		t.Fatalf("succeeded = %d, want 1", summary.Succeeded())
	}
	results := sink.all()
	if len(results) != 1 || results[0].Outcome != models.OutcomeSuccess || results[0].Attempts != 3 {
		t.Fatalf("manifest result = %+v, want success on third attempt", results[0])
	}
}

func TestSkipOnProbeFailureMakesNoFetchAttempts(t *testing.T) {
	url := "https://www.youtube.com/watch?v=gone"
	cfg := testConfig(models.ChannelSpec{Identifier: url})
	prober := &fakeProber{failing: map[string]bool{url: true}}
	fetcher := &fakeFetcher{}

	runner, err := NewRunner(cfg, &fakeLister{}, prober, fetcher, nil)
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	summary, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if summary.SkippedItems() != 1 || summary.FailedItems() != 0 {
		t.Fatalf("summary = skipped %d / failed %d, want a skip and no failure",
			summary.SkippedItems(), summary.FailedItems())
	}
	if got := fetcher.attemptCount(url); got != 0 {
		t.Fatalf("fetch attempts = %d, skipped items must not enter the retry loop", got)
	}
}

func TestDuplicateURLsProbedOnceFinishedTwice(t *testing.T) {
	url := "https://www.youtube.com/watch?v=twice"
	cfg := testConfig(models.ChannelSpec{Identifier: "@dup"})

	lister := &fakeLister{items: map[string][]models.ItemRef{
		"https://www.youtube.com/@dup/videos": {{URL: url}, {URL: url}},
	}}
	prober := &fakeProber{}
	sink := &collectingSink{}

	runner, err := NewRunner(cfg, lister, prober, &fakeFetcher{}, sink)
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	summary, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if got := prober.callCount(url); got != 1 {
		t.Fatalf("probe calls = %d, want 1 (cached for duplicates)", got)
	}
	if summary.Succeeded() != 2 || len(sink.all()) != 2 {
		t.Fatalf("duplicates must each reach a terminal outcome, got %+v", summary.Channels[0])
	}
}

func TestIdentifierAndListingFailuresAreContained(t *testing.T) {
	cfg := testConfig(
		models.ChannelSpec{Identifier: "not-a-channel"},
		models.ChannelSpec{Identifier: "@broken"},
		models.ChannelSpec{Identifier: "@fine"},
	)

	lister := &fakeLister{
		items: map[string][]models.ItemRef{
			"https://www.youtube.com/@fine/videos": watchURLs("f", 2),
		},
		errs: map[string]error{
			"https://www.youtube.com/@broken/videos": errors.New("listing exploded"),
		},
	}

	runner, err := NewRunner(cfg, lister, &fakeProber{}, &fakeFetcher{}, nil)
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	summary, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	bad := findChannel(t, summary, "not-a-channel")
	if bad.Err == "" || bad.ItemCount != 0 {
		t.Fatalf("invalid identifier should fail its channel only, got %+v", bad)
	}
	broken := findChannel(t, summary, "@broken")
	if broken.Err == "" || broken.ItemCount != 0 {
		t.Fatalf("listing failure should fail its channel only, got %+v", broken)
	}
	fine := findChannel(t, summary, "@fine")
	if fine.Succeeded != 2 {
		t.Fatalf("healthy channel should finish, got %+v", fine)
	}
	if summary.TotalItems != 2 || summary.Completed != 2 {
		t.Fatalf("totals = %d/%d, want 2/2", summary.Completed, summary.TotalItems)
	}
}

func TestWatchURLBypassesLister(t *testing.T) {
	url := "https://www.youtube.com/watch?v=solo"
	cfg := testConfig(models.ChannelSpec{Identifier: url})
	lister := &fakeLister{}

	runner, err := NewRunner(cfg, lister, &fakeProber{}, &fakeFetcher{}, nil)
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}
	summary, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	lister.mu.Lock()
	calls := len(lister.calls)
	lister.mu.Unlock()
	if calls != 0 {
		t.Fatalf("lister called %d times for a watch URL, want 0", calls)
	}
	if summary.TotalItems != 1 || summary.Succeeded() != 1 {
		t.Fatalf("watch URL should yield one successful item, got %+v", summary)
	}
}

func TestCancelledRunRecordsTerminalOutcomes(t *testing.T) {
	cfg := testConfig(models.ChannelSpec{Identifier: "@slow"})
	cfg.MaxConcurrent = 1

	lister := &fakeLister{items: map[string][]models.ItemRef{
		"https://www.youtube.com/@slow/videos": watchURLs("s", 6),
	}}
	fetcher := &fakeFetcher{delay: 30 * time.Millisecond}
	sink := &collectingSink{}

	runner, err := NewRunner(cfg, lister, &fakeProber{}, fetcher, sink)
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(40 * time.Millisecond)
		cancel()
	}()

	summary, err := runner.Run(ctx)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	if summary.Completed != summary.TotalItems {
		t.Fatalf("completed = %d, total = %d; no item may be dropped without an outcome",
			summary.Completed, summary.TotalItems)
	}
	if got := len(sink.all()); got != summary.TotalItems {
		t.Fatalf("manifest results = %d, want %d", got, summary.TotalItems)
	}
	ch := findChannel(t, summary, "@slow")
	if ch.Succeeded+ch.Skipped+ch.Failed != ch.ItemCount {
		t.Fatalf("channel counters do not account for every item: %+v", ch)
	}
	if ch.Skipped == 0 {
		t.Fatalf("cancellation should skip the items that never started, got %+v", ch)
	}
}

func TestRateLimitThrottlesSuccessiveSlotUse(t *testing.T) {
	cfg := testConfig(models.ChannelSpec{Identifier: "@throttled"})
	cfg.MaxConcurrent = 1
	cfg.RateLimit = 40 * time.Millisecond

	lister := &fakeLister{items: map[string][]models.ItemRef{
		"https://www.youtube.com/@throttled/videos": watchURLs("t", 2),
	}}

	runner, err := NewRunner(cfg, lister, &fakeProber{}, &fakeFetcher{}, nil)
	if err != nil {
		t.Fatalf("new runner: %v", err)
	}

	start := time.Now()
	summary, err := runner.Run(context.Background())
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	elapsed := time.Since(start)

	if summary.Succeeded() != 2 {
		t.Fatalf("succeeded = %d, want 2", summary.Succeeded())
	}
	if min := 2 * cfg.RateLimit; elapsed < min {
		t.Fatalf("elapsed %v, want at least %v: the pause must hold the slot", elapsed, min)
	}
}

func TestProgressCounter(t *testing.T) {
	var p Progress
	p.SetTotal(3)
	if p.Total() != 3 || p.Completed() != 0 {
		t.Fatalf("fresh progress = %d/%d", p.Completed(), p.Total())
	}

	var wg sync.WaitGroup
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Done()
		}()
	}
	wg.Wait()

	if p.Completed() != 3 {
		t.Fatalf("completed = %d, want 3", p.Completed())
	}
}
