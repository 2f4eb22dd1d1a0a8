// Package config loads the archive daemon's config.toml.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.wpparchive/config.toml.
type Config struct {
	DefaultSession string      `toml:"default_session"`
	LogLevel       string      `toml:"log_level"`
	Archive        Archive     `toml:"archive"`
	Maintenance    Maintenance `toml:"maintenance"`
}

// Archive holds the [archive] table.
type Archive struct {
	// MediaRoot overrides the session's media directory.
	MediaRoot          string   `toml:"media_root"`
	MaxDownloadSize    int64    `toml:"max_download_size"`
	DownloadsPerSecond int      `toml:"downloads_per_second"`
	DownloadRetries    int      `toml:"download_retries"`
	TruncateLength     int      `toml:"truncate_length"`
	TruncateSlack      int      `toml:"truncate_slack"`
	DefaultDays        int      `toml:"default_days"`
	SyncExtensions     []string `toml:"sync_extensions"`
	// Timezone is an IANA name used for date directories and exports.
	Timezone string `toml:"timezone"`
}

// Maintenance holds the [maintenance] table.
type Maintenance struct {
	Interval  time.Duration `toml:"interval"`
	AfterSave bool          `toml:"after_save"`
	Watch     bool          `toml:"watch"`
}

// Default returns the configuration used for keys the file leaves out.
func Default() *Config {
	return &Config{
		DefaultSession: "main",
		LogLevel:       "info",
		Archive: Archive{
			MaxDownloadSize:    50 * 1024 * 1024,
			DownloadsPerSecond: 5,
			DownloadRetries:    2,
			TruncateLength:     175,
			TruncateSlack:      50,
			DefaultDays:        7,
		},
		Maintenance: Maintenance{
			Interval:  6 * time.Hour,
			AfterSave: true,
		},
	}
}

// Load reads config from the given path on top of Default. Returns an error
// if the file is missing or malformed.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// LoadOrDefault is Load, falling back to Default when the file does not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Validate checks values toml cannot.
func (c *Config) Validate() error {
	if c.Archive.MaxDownloadSize < 0 {
		return errors.New("archive.max_download_size must not be negative")
	}
	if c.Archive.DownloadRetries < 0 {
		return errors.New("archive.download_retries must not be negative")
	}
	if c.Archive.DefaultDays < 0 {
		return errors.New("archive.default_days must not be negative")
	}
	if c.Maintenance.Interval < 0 {
		return errors.New("maintenance.interval must not be negative")
	}
	if _, err := c.Location(); err != nil {
		return err
	}
	return nil
}

// Location resolves Archive.Timezone; empty means the local zone.
func (c *Config) Location() (*time.Location, error) {
	if c.Archive.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Archive.Timezone)
	if err != nil {
		return nil, fmt.Errorf("archive.timezone: %w", err)
	}
	return loc, nil
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
