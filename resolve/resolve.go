// Package resolve maps raw channel identifiers to canonical listing URLs.
package resolve

import (
	"fmt"
	"strings"
)

const (
	watchMarker   = "youtube.com/watch?v="
	listingSuffix = "/videos"
)

// ErrInvalidIdentifier indicates an identifier matching none of the
// recognized channel forms.
type ErrInvalidIdentifier struct {
	Raw string
}

func (e ErrInvalidIdentifier) Error() string {
	return fmt.Sprintf("invalid_identifier: %q is not a channel URL, channel ID, or handle", e.Raw)
}

// CanonicalURL normalizes a channel identifier into a listing URL.
//
// Accepted forms, checked in order: a direct watch URL (returned
// unchanged, it names a single video), a full channel URL (given a
// trailing /videos if missing), a bare UC channel ID, and an @handle.
// Anything else yields ErrInvalidIdentifier.
func CanonicalURL(raw string) (string, error) {
	id := strings.TrimSpace(raw)
	if id == "" {
		return "", ErrInvalidIdentifier{Raw: raw}
	}

	if strings.HasPrefix(id, "http://") || strings.HasPrefix(id, "https://") {
		if strings.Contains(id, watchMarker) {
			return id, nil
		}
		// The suffix must terminate the path: a segment that merely
		// contains "videos" still needs the listing appended.
		if strings.HasSuffix(strings.TrimRight(id, "/"), listingSuffix) {
			return id, nil
		}
		return strings.TrimRight(id, "/") + listingSuffix, nil
	}

	if strings.HasPrefix(id, "UC") {
		return fmt.Sprintf("https://www.youtube.com/channel/%s%s", id, listingSuffix), nil
	}

	if strings.Contains(id, "@") {
		return fmt.Sprintf("https://www.youtube.com/%s%s", strings.TrimRight(id, "/"), listingSuffix), nil
	}

	return "", ErrInvalidIdentifier{Raw: raw}
}

// IsWatchURL reports whether a canonical URL names a single video rather
// than a channel listing.
func IsWatchURL(url string) bool {
	return strings.Contains(url, watchMarker)
}
