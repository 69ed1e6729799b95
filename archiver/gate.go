package archiver

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/ytarchive/go-yt-archive/models"
)

// metadataGate probes an item before it may enter the retry executor.
// Probe results are cached for the run so duplicate URLs are probed once;
// duplicates still reach their own terminal outcome downstream. Concurrent
// checks for the same URL share a single in-flight probe.
type metadataGate struct {
	prober  Prober
	timeout time.Duration
	cache   *lru.Cache[string, gateResult]
	flight  singleflight.Group
	metrics *Metrics
}

type gateResult struct {
	meta *models.ItemMeta
	err  error
}

func newMetadataGate(prober Prober, timeout time.Duration, cacheSize int, metrics *Metrics) (*metadataGate, error) {
	cache, err := lru.New[string, gateResult](cacheSize)
	if err != nil {
		return nil, err
	}
	return &metadataGate{
		prober:  prober,
		timeout: timeout,
		cache:   cache,
		metrics: metrics,
	}, nil
}

// Check probes itemURL, returning its metadata or an ErrProbe. A probe
// failure is terminal for the item: it is skipped, never retried.
func (g *metadataGate) Check(ctx context.Context, itemURL string) (*models.ItemMeta, error) {
	if cached, ok := g.cache.Get(itemURL); ok {
		g.metrics.IncProbeCacheHit()
		return cached.meta, cached.err
	}

	v, _, shared := g.flight.Do(itemURL, func() (interface{}, error) {
		// A duplicate may have filled the cache between the lookup
		// above and joining the flight.
		if cached, ok := g.cache.Get(itemURL); ok {
			return cached, nil
		}

		probeCtx := ctx
		if g.timeout > 0 {
			var cancel context.CancelFunc
			probeCtx, cancel = context.WithTimeout(ctx, g.timeout)
			defer cancel()
		}

		meta, err := g.prober.Probe(probeCtx, itemURL)
		if err != nil {
			err = ErrProbe{URL: itemURL, Err: err}
			meta = nil
		}

		res := gateResult{meta: meta, err: err}
		// Cancellation is a property of the run, not of the item.
		if ctx.Err() == nil {
			g.cache.Add(itemURL, res)
		}
		return res, nil
	})

	res := v.(gateResult)
	if shared {
		g.metrics.IncProbeCacheHit()
	}
	return res.meta, res.err
}
