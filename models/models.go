// Package models defines data structures shared across the archiver.
package models

import "time"

// ChannelSpec is one channel entry from the configuration file.
type ChannelSpec struct {
	Identifier        string `json:"url"`
	DownloadDirectory string `json:"download_directory,omitempty"`
}

// ItemRef identifies one downloadable video.
type ItemRef struct {
	URL string
}

// ItemMeta is the metadata returned by a successful probe.
type ItemMeta struct {
	ID       string
	Title    string
	Duration int // seconds
}

// Outcome is the terminal state of one item.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeSkipped Outcome = "skipped"
	OutcomeFatal   Outcome = "fatal"
)

// ItemResult records the terminal outcome of one item for the manifest.
type ItemResult struct {
	ChannelURL  string    `csv:"channel_url" json:"channel_url"`
	URL         string    `csv:"url" json:"url"`
	Outcome     Outcome   `csv:"outcome" json:"outcome"`
	Attempts    int       `csv:"attempts" json:"attempts"`
	Reason      string    `csv:"reason" json:"reason,omitempty"`
	CompletedAt time.Time `csv:"completed_at" json:"completed_at"`
}

// ChannelReport summarises one channel's processing for the run summary.
type ChannelReport struct {
	Identifier string
	ListingURL string
	ItemCount  int
	Succeeded  int
	Skipped    int
	Failed     int
	Err        string // identifier or listing failure, empty otherwise
}

// RunSummary holds the overall result of one archiver run.
type RunSummary struct {
	Channels   []*ChannelReport
	StartTime  time.Time
	EndTime    time.Time
	TotalItems int
	Completed  int
}

// Succeeded returns the total successful items across all channels.
func (s *RunSummary) Succeeded() int {
	n := 0
	for _, ch := range s.Channels {
		n += ch.Succeeded
	}
	return n
}

// SkippedItems returns the total skipped items across all channels.
func (s *RunSummary) SkippedItems() int {
	n := 0
	for _, ch := range s.Channels {
		n += ch.Skipped
	}
	return n
}

// FailedItems returns the total fatally failed items across all channels.
func (s *RunSummary) FailedItems() int {
	n := 0
	for _, ch := range s.Channels {
		n += ch.Failed
	}
	return n
}
