// Package feed lists channel videos from YouTube's public Atom feed,
// avoiding a yt-dlp subprocess for the listing phase.
package feed

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/ytarchive/go-yt-archive/models"
)

const feedURLTemplate = "https://www.youtube.com/feeds/videos.xml?channel_id=%s"

// Lister fetches a channel's Atom feed and extracts its entry links.
// Only channel-id listing URLs are supported; the feed endpoint does not
// resolve vanity URLs or handles.
type Lister struct {
	Timeout   time.Duration
	UserAgent string

	// Transport overrides the HTTP transport, used by tests.
	Transport http.RoundTripper
}

// FeedURL maps a canonical /videos listing URL onto the channel's Atom
// feed URL.
func FeedURL(canonicalURL string) (string, error) {
	parsed, err := url.Parse(canonicalURL)
	if err != nil {
		return "", fmt.Errorf("parse listing url: %w", err)
	}

	parts := strings.Split(strings.Trim(parsed.Path, "/"), "/")
	for i, part := range parts {
		if part == "channel" && i+1 < len(parts) && strings.HasPrefix(parts[i+1], "UC") {
			return fmt.Sprintf(feedURLTemplate, parts[i+1]), nil
		}
	}
	return "", fmt.Errorf("no channel id in %q: the feed lister needs a /channel/UC... URL", canonicalURL)
}

// contextTransport attaches a context to every outgoing request so a
// cancelled run interrupts an in-flight feed fetch.
type contextTransport struct {
	base http.RoundTripper
	ctx  context.Context
}

func (t *contextTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req.WithContext(t.ctx))
}

// List retrieves the feed and returns its items in document order. The
// request is bounded by Timeout and cancelled with ctx.
func (l *Lister) List(ctx context.Context, canonicalURL string) ([]models.ItemRef, error) {
	feedURL, err := FeedURL(canonicalURL)
	if err != nil {
		return nil, err
	}

	opts := []colly.CollectorOption{}
	if l.UserAgent != "" {
		opts = append(opts, colly.UserAgent(l.UserAgent))
	}
	collector := colly.NewCollector(opts...)
	if l.Timeout > 0 {
		collector.SetRequestTimeout(l.Timeout)
	}
	collector.WithTransport(&contextTransport{base: l.Transport, ctx: ctx})

	var items []models.ItemRef
	collector.OnXML("//*[local-name()='entry']/*[local-name()='link']", func(e *colly.XMLElement) {
		href := e.Attr("href")
		if href == "" {
			return
		}
		items = append(items, models.ItemRef{URL: href})
	})

	var fetchErr error
	collector.OnError(func(r *colly.Response, err error) {
		status := 0
		if r != nil {
			status = r.StatusCode
		}
		fetchErr = fmt.Errorf("fetch feed (status %d): %w", status, err)
	})

	if err := collector.Visit(feedURL); err != nil {
		return nil, fmt.Errorf("visit feed: %w", err)
	}
	collector.Wait()

	if fetchErr != nil {
		return nil, fetchErr
	}
	return items, nil
}
