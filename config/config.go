// Package config manages library configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Endpoints holds the base URLs of the platform's web APIs. Tests point
// these at local fake servers.
type Endpoints struct {
	// PlayerStatus is the broadcast metadata endpoint; the broadcast id is appended.
	PlayerStatus string `json:"player_status"`
	// PostKey is the post-key endpoint; called with ?thread=<threadId>.
	PostKey string `json:"post_key"`
	// ThumbInfo is the video metadata endpoint; the video id is appended.
	ThumbInfo string `json:"thumb_info"`
	// NsenRequest is the Nsen request/cancel/sync endpoint.
	NsenRequest string `json:"nsen_request"`
	// NsenGood is the Nsen good-vote endpoint.
	NsenGood string `json:"nsen_good"`
	// NsenSkip is the Nsen skip-vote endpoint.
	NsenSkip string `json:"nsen_skip"`
}

// DefaultEndpoints returns the production API locations.
func DefaultEndpoints() Endpoints {
	return Endpoints{
		PlayerStatus: "http://live.nicovideo.jp/api/getplayerstatus/",
		PostKey:      "http://live.nicovideo.jp/api/getpostkey",
		ThumbInfo:    "http://ext.nicovideo.jp/api/getthumbinfo/",
		NsenRequest:  "http://live.nicovideo.jp/api/nsenrequest",
		NsenGood:     "http://live.nicovideo.jp/api/nsengood",
		NsenSkip:     "http://live.nicovideo.jp/api/nsenskip",
	}
}

// Config holds all library configuration.
type Config struct {
	// Endpoints are the platform API base URLs.
	Endpoints Endpoints `json:"endpoints"`

	// ConnectTimeout is the maximum time to wait for the comment server's
	// first thread response after connecting.
	ConnectTimeout time.Duration `json:"connect_timeout"`
	// PostTimeout is the maximum time to wait for a post result frame.
	PostTimeout time.Duration `json:"post_timeout"`
	// InitialBacklog is the number of past comments requested on connect.
	InitialBacklog int `json:"initial_backlog"`

	// UserAgent for HTTP requests.
	UserAgent string `json:"user_agent"`
	// CookieFile is an optional path for persisted session cookies.
	CookieFile string `json:"cookie_file"`

	// MaxRetries is the retry budget for collaborator lookups (video
	// metadata). Channel operations are never retried.
	MaxRetries int `json:"max_retries"`
	// InitialBackoff is the initial backoff duration for retries.
	InitialBackoff time.Duration `json:"initial_backoff"`
	// MaxBackoff is the maximum backoff duration for retries.
	MaxBackoff time.Duration `json:"max_backoff"`
}

// DefaultConfig returns configuration with safe defaults.
func DefaultConfig() *Config {
	return &Config{
		Endpoints:      DefaultEndpoints(),
		ConnectTimeout: 5 * time.Second,
		PostTimeout:    3 * time.Second,
		InitialBacklog: 100,
		UserAgent:      "niconico-go/1.0",
		MaxRetries:     3,
		InitialBackoff: 1 * time.Second,
		MaxBackoff:     30 * time.Second,
	}
}

// Load loads configuration from environment variables, config file, and
// applies defaults. Priority: env vars > config file > defaults.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	if err := cfg.loadFromFile(); err != nil {
		// Config file is optional
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("load config file: %w", err)
		}
	}

	cfg.loadFromEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadFromFile attempts to load config from niconico.json in the current
// directory or the user config directory.
func (c *Config) loadFromFile() error {
	paths := []string{
		"niconico.json",
		filepath.Join(os.Getenv("HOME"), ".config", "niconico", "niconico.json"),
	}

	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return err
		}

		if err := json.Unmarshal(data, c); err != nil {
			return fmt.Errorf("parse %s: %w", path, err)
		}
		return nil
	}

	return os.ErrNotExist
}

// loadFromEnv overrides config with environment variables.
func (c *Config) loadFromEnv() {
	if v := os.Getenv("NICONICO_CONNECT_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.ConnectTimeout = d
		}
	}
	if v := os.Getenv("NICONICO_POST_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.PostTimeout = d
		}
	}
	if v := os.Getenv("NICONICO_INITIAL_BACKLOG"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.InitialBacklog = n
		}
	}
	if v := os.Getenv("NICONICO_USER_AGENT"); v != "" {
		c.UserAgent = v
	}
	if v := os.Getenv("NICONICO_COOKIE_FILE"); v != "" {
		c.CookieFile = v
	}
	if v := os.Getenv("NICONICO_MAX_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.MaxRetries = n
		}
	}
	if v := os.Getenv("NICONICO_INITIAL_BACKOFF"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.InitialBackoff = d
		}
	}
	if v := os.Getenv("NICONICO_MAX_BACKOFF"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			c.MaxBackoff = d
		}
	}
}

// Validate checks that configuration values are valid and consistent.
func (c *Config) Validate() error {
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("connect_timeout must be positive")
	}
	if c.PostTimeout <= 0 {
		return fmt.Errorf("post_timeout must be positive")
	}
	if c.InitialBacklog < 0 {
		return fmt.Errorf("initial_backlog must be non-negative")
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max_retries must be non-negative")
	}
	if c.InitialBackoff <= 0 {
		return fmt.Errorf("initial_backoff must be positive")
	}
	if c.MaxBackoff < c.InitialBackoff {
		return fmt.Errorf("max_backoff must be >= initial_backoff")
	}
	return nil
}
