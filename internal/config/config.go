// Package config loads the shell's settings from the environment.
//
// In the js/wasm build the page loader populates the Go environment before
// the program starts, so the same variables configure both builds.
package config

import (
	"fmt"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the complete shell configuration.
type Config struct {
	// SaveRoot is the StorageNamespace directory inside the engine VFS.
	SaveRoot string `env:"RENPY_WEB_SAVE_ROOT" envDefault:"/saves"`
	// ArchiveName is the fixed filename offered for exported saves.
	ArchiveName string `env:"RENPY_WEB_ARCHIVE_NAME" envDefault:"savegames.tar.lz4"`
	// ArchiveMIME is the MIME type used for save downloads.
	ArchiveMIME string `env:"RENPY_WEB_ARCHIVE_MIME" envDefault:"application/octet-stream"`
	// ArchiveAccept filters the upload picker.
	ArchiveAccept string `env:"RENPY_WEB_ARCHIVE_ACCEPT" envDefault:".lz4"`
	// LogMIME is the MIME type used for diagnostic log downloads.
	LogMIME string `env:"RENPY_WEB_LOG_MIME" envDefault:"text/plain"`

	// WorkerScript is the background worker location, relative to the page.
	WorkerScript string `env:"RENPY_WEB_WORKER_SCRIPT" envDefault:"service-worker.js"`
	// OfflineCache disables worker registration when false.
	OfflineCache bool `env:"RENPY_WEB_OFFLINE_CACHE" envDefault:"true"`
	// WorkerScope limits the worker to a URL scope; empty means the
	// script's directory.
	WorkerScope string `env:"RENPY_WEB_WORKER_SCOPE"`
	// AssetVersion names the CacheManifest generation of the page assets.
	AssetVersion string `env:"RENPY_WEB_ASSET_VERSION" envDefault:"dev"`
	// AssetURL, when set, makes the native harness fetch cached assets
	// from this origin instead of AssetDir.
	AssetURL string `env:"RENPY_WEB_ASSET_URL"`

	// AssetDir holds the page assets served by the native harness.
	AssetDir string `env:"RENPY_WEB_ASSET_DIR" envDefault:"."`
	// DownloadDir receives files the native harness "downloads".
	DownloadDir string `env:"RENPY_WEB_DOWNLOAD_DIR" envDefault:"downloads"`

	// LogLevel is one of DEBUG, INFO, ERROR, NONE.
	LogLevel string `env:"RENPY_WEB_LOG_LEVEL" envDefault:"INFO"`
	// StatCacheTTL enables the namespace stat cache when positive.
	StatCacheTTL time.Duration `env:"RENPY_WEB_STAT_CACHE_TTL" envDefault:"0s"`
	// StatCacheMax bounds the stat cache, per kind of entry.
	StatCacheMax int `env:"RENPY_WEB_STAT_CACHE_MAX" envDefault:"1000"`
	// CopyBuffer is the buffer size used to back up saves during an import.
	CopyBuffer int `env:"RENPY_WEB_COPY_BUFFER" envDefault:"32768"`
	// EventQueue is the capacity of the shell's event queue.
	EventQueue int `env:"RENPY_WEB_EVENT_QUEUE" envDefault:"64"`
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Load parses the environment into a Config and validates it.
func Load() (Config, error) {
	var cfg Config
	if err := ParseEnv(&cfg); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks values env tags cannot express.
func (c Config) Validate() error {
	if !strings.HasPrefix(c.SaveRoot, "/") || path.Clean(c.SaveRoot) == "/" {
		return fmt.Errorf("save root %q must be an absolute directory below /", c.SaveRoot)
	}
	if strings.TrimSpace(c.ArchiveName) == "" || strings.Contains(c.ArchiveName, "/") {
		return fmt.Errorf("archive name %q must be a plain filename", c.ArchiveName)
	}
	if c.OfflineCache && strings.TrimSpace(c.AssetVersion) == "" {
		return fmt.Errorf("asset version is required when offline caching is enabled")
	}
	if c.EventQueue < 1 {
		return fmt.Errorf("event queue capacity must be positive, got %d", c.EventQueue)
	}
	if c.StatCacheTTL < 0 {
		return fmt.Errorf("stat cache ttl must not be negative, got %s", c.StatCacheTTL)
	}
	if c.StatCacheTTL > 0 && c.StatCacheMax < 1 {
		return fmt.Errorf("stat cache size must be positive, got %d", c.StatCacheMax)
	}
	if c.CopyBuffer < 1 {
		return fmt.Errorf("copy buffer size must be positive, got %d", c.CopyBuffer)
	}
	if c.AssetURL != "" {
		u, err := url.Parse(c.AssetURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("asset url %q must be an absolute http(s) url", c.AssetURL)
		}
	}
	return nil
}
