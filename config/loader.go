package config

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/ytarchive/go-yt-archive/models"
)

// configFile mirrors the JSON configuration file layout.
type configFile struct {
	Channels           []models.ChannelSpec `json:"channels"`
	DefaultDirectories []string             `json:"default_directories"`
	CookiesFile        string               `json:"cookies_file"`
}

// LoadFile reads the channel list, default directories, and cookies file
// from a JSON configuration file and applies them onto cfg.
func LoadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %q: %w", path, err)
	}

	var file configFile
	if err := json.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse config file %q: %w", path, err)
	}

	if file.Channels == nil {
		return fmt.Errorf("config file %q must contain a channels list", path)
	}
	if len(file.DefaultDirectories) == 0 {
		return fmt.Errorf("config file %q must contain a default_directories list", path)
	}

	cfg.Channels = file.Channels
	cfg.DefaultDirectories = file.DefaultDirectories
	if file.CookiesFile != "" {
		cfg.CookiesFile = file.CookiesFile
	}
	return nil
}
