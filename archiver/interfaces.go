package archiver

import (
	"context"

	"github.com/ytarchive/go-yt-archive/models"
)

// Lister resolves a canonical listing URL into an ordered item sequence.
type Lister interface {
	List(ctx context.Context, canonicalURL string) ([]models.ItemRef, error)
}

// Prober performs a no-download metadata check on a single item.
type Prober interface {
	Probe(ctx context.Context, itemURL string) (*models.ItemMeta, error)
}

// Fetcher downloads a single item into destDir, creating it if absent.
// It must be safe to re-invoke on retry.
type Fetcher interface {
	Fetch(ctx context.Context, itemURL, destDir, cookiesFile string) error
}

// ResultSink receives each item's terminal outcome.
type ResultSink interface {
	Process(result *models.ItemResult) error
}
