package ytdlp

import (
	"encoding/json"
	"fmt"

	"github.com/ytarchive/go-yt-archive/models"
)

const watchURLTemplate = "https://www.youtube.com/watch?v=%s"

type flatPlaylist struct {
	Entries []flatEntry `json:"entries"`
}

type flatEntry struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

type probeInfo struct {
	ID       string  `json:"id"`
	Title    string  `json:"title"`
	Duration float64 `json:"duration"`
}

// parseFlatPlaylist converts yt-dlp's flat-playlist JSON into item refs,
// preserving listing order. Entries without an id are dropped.
func parseFlatPlaylist(data []byte) ([]models.ItemRef, error) {
	var playlist flatPlaylist
	if err := json.Unmarshal(data, &playlist); err != nil {
		return nil, fmt.Errorf("parse flat playlist: %w", err)
	}

	items := make([]models.ItemRef, 0, len(playlist.Entries))
	for _, entry := range playlist.Entries {
		if entry.ID == "" {
			continue
		}
		items = append(items, models.ItemRef{URL: fmt.Sprintf(watchURLTemplate, entry.ID)})
	}
	return items, nil
}

// parseProbe converts a single-item metadata dump into ItemMeta.
func parseProbe(data []byte) (*models.ItemMeta, error) {
	var info probeInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("parse probe output: %w", err)
	}
	if info.ID == "" {
		return nil, fmt.Errorf("probe output has no video id")
	}
	return &models.ItemMeta{
		ID:       info.ID,
		Title:    info.Title,
		Duration: int(info.Duration),
	}, nil
}
