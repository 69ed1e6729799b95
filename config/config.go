package config

import (
	"fmt"
	"time"

	"github.com/ytarchive/go-yt-archive/models"
)

// Config holds archiver configuration.
type Config struct {
	Channels           []models.ChannelSpec
	DefaultDirectories []string
	CookiesFile        string
	MaxConcurrent      int
	RateLimit          time.Duration // pause after each successful fetch, 0 disables
	RetryLimit         int           // fetch attempts per item, including the first
	ProbeTimeout       time.Duration
	FetchTimeout       time.Duration // per attempt, 0 disables
	ProbeCacheSize     int
	ListerKind         string // ytdlp or feed
	ManifestFile       string
	ManifestFormat     string // csv, json, or dual
	PipelineBufferSize int
	BatchSize          int
	MetricsAddr        string
	UserAgent          string
	Verbose            bool
}

// DefaultConfig returns the reference defaults for an archive run.
func DefaultConfig() *Config {
	return &Config{
		DefaultDirectories: []string{"archive"},
		MaxConcurrent:      3,
		RateLimit:          5 * time.Second,
		RetryLimit:         3,
		ProbeTimeout:       30 * time.Second,
		FetchTimeout:       0,
		ProbeCacheSize:     1024,
		ListerKind:         "ytdlp",
		ManifestFile:       "output/manifest.csv",
		ManifestFormat:     "csv",
		PipelineBufferSize: 256,
		BatchSize:          16,
		UserAgent:          "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/117.0.0.0 Safari/537.36",
		Verbose:            false,
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if len(c.DefaultDirectories) == 0 {
		return fmt.Errorf("at least one default directory is required")
	}
	if c.MaxConcurrent <= 0 {
		return fmt.Errorf("max concurrent must be positive")
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("rate limit cannot be negative")
	}
	if c.RetryLimit <= 0 {
		return fmt.Errorf("retry limit must be positive")
	}
	if c.ProbeTimeout < 0 {
		return fmt.Errorf("probe timeout cannot be negative")
	}
	if c.FetchTimeout < 0 {
		return fmt.Errorf("fetch timeout cannot be negative")
	}
	if c.ProbeCacheSize <= 0 {
		return fmt.Errorf("probe cache size must be positive")
	}
	if c.ListerKind != "ytdlp" && c.ListerKind != "feed" {
		return fmt.Errorf("lister must be ytdlp or feed")
	}
	if c.ManifestFile == "" {
		return fmt.Errorf("manifest file cannot be empty")
	}
	if c.ManifestFormat != "csv" && c.ManifestFormat != "json" && c.ManifestFormat != "dual" {
		return fmt.Errorf("manifest format must be csv, json, or dual")
	}
	if c.PipelineBufferSize <= 0 {
		return fmt.Errorf("pipeline buffer size must be positive")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}
	for i, ch := range c.Channels {
		if ch.Identifier == "" {
			return fmt.Errorf("channel %d has an empty identifier", i)
		}
	}
	return nil
}

// DownloadDir returns the destination directory for a channel, falling
// back to the first default directory.
func (c *Config) DownloadDir(ch models.ChannelSpec) (string, error) {
	if ch.DownloadDirectory != "" {
		return ch.DownloadDirectory, nil
	}
	if len(c.DefaultDirectories) > 0 {
		return c.DefaultDirectories[0], nil
	}
	return "", fmt.Errorf("no default directory configured")
}
