// SPDX-License-Identifier: MIT

// Package config loads the daemon configuration. Precedence is environment
// over config file over built-in defaults; every resolved value logs its
// source at debug level.
package config

import (
	"fmt"
	"net/url"
	"time"
)

// Config is the fully resolved daemon configuration.
type Config struct {
	// CampaignID selects the campaign to follow. Zero means no campaign
	// governs this deployment: gating is disabled and no stream is opened.
	CampaignID int `yaml:"campaignId"`

	// APIBaseURL is the campaign REST resource base; the client appends
	// /{id} and /{id}/components.
	APIBaseURL string `yaml:"apiBaseUrl"`

	// StreamBaseURL is the event stream base. Empty derives it from
	// APIBaseURL with the scheme switched to ws/wss.
	StreamBaseURL string `yaml:"streamBaseUrl"`

	// APIKey authenticates both the REST API and the event stream.
	APIKey string `yaml:"apiKey"`

	// ListenAddr is the local HTTP listen address.
	ListenAddr string `yaml:"listenAddr"`

	LogLevel string `yaml:"logLevel"`

	// CacheTTL bounds how long persisted snapshots count as warm.
	CacheTTL time.Duration `yaml:"cacheTTL"`

	ConnectTimeout       time.Duration `yaml:"connectTimeout"`
	MaxReconnectAttempts int           `yaml:"maxReconnectAttempts"`
	ReconnectBaseDelay   time.Duration `yaml:"reconnectBaseDelay"`
	ReconnectMaxDelay    time.Duration `yaml:"reconnectMaxDelay"`

	FetchMaxAttempts int           `yaml:"fetchMaxAttempts"`
	FetchBaseDelay   time.Duration `yaml:"fetchBaseDelay"`
	FetchMaxDelay    time.Duration `yaml:"fetchMaxDelay"`

	// RedisAddr enables the Redis snapshot store when non-empty; otherwise
	// snapshots persist in memory only.
	RedisAddr     string `yaml:"redisAddr"`
	RedisPassword string `yaml:"redisPassword"`
	RedisDB       int    `yaml:"redisDB"`
	RedisPrefix   string `yaml:"redisPrefix"`

	// BusBuffer is the per-subscriber notification buffer.
	BusBuffer int `yaml:"busBuffer"`
}

// Defaults returns the built-in configuration.
func Defaults() Config {
	return Config{
		ListenAddr:           ":8080",
		LogLevel:             "info",
		CacheTTL:             24 * time.Hour,
		ConnectTimeout:       10 * time.Second,
		MaxReconnectAttempts: 5,
		ReconnectBaseDelay:   2 * time.Second,
		ReconnectMaxDelay:    30 * time.Second,
		FetchMaxAttempts:     3,
		FetchBaseDelay:       time.Second,
		FetchMaxDelay:        10 * time.Second,
		RedisPrefix:          "campaignd:",
		BusBuffer:            16,
	}
}

// Validate checks the resolved configuration for contradictions.
func (c *Config) Validate() error {
	if c.CampaignID < 0 {
		return fmt.Errorf("config: campaignId must be >= 0, got %d", c.CampaignID)
	}
	if c.CampaignID != 0 {
		if c.APIBaseURL == "" {
			return fmt.Errorf("config: apiBaseUrl is required when a campaign is configured")
		}
		if err := checkHTTPURL("apiBaseUrl", c.APIBaseURL); err != nil {
			return err
		}
	}
	if c.StreamBaseURL != "" {
		u, err := url.Parse(c.StreamBaseURL)
		if err != nil {
			return fmt.Errorf("config: streamBaseUrl: %w", err)
		}
		switch u.Scheme {
		case "http", "https", "ws", "wss":
		default:
			return fmt.Errorf("config: streamBaseUrl: unsupported scheme %q", u.Scheme)
		}
	}
	if c.ListenAddr == "" {
		return fmt.Errorf("config: listenAddr must not be empty")
	}
	if c.MaxReconnectAttempts < 1 {
		return fmt.Errorf("config: maxReconnectAttempts must be >= 1, got %d", c.MaxReconnectAttempts)
	}
	if c.FetchMaxAttempts < 1 {
		return fmt.Errorf("config: fetchMaxAttempts must be >= 1, got %d", c.FetchMaxAttempts)
	}
	if c.CacheTTL <= 0 {
		return fmt.Errorf("config: cacheTTL must be positive, got %s", c.CacheTTL)
	}
	if c.ReconnectBaseDelay <= 0 || c.ReconnectMaxDelay < c.ReconnectBaseDelay {
		return fmt.Errorf("config: reconnect delays must satisfy 0 < base <= max")
	}
	return nil
}

// EffectiveStreamBaseURL returns StreamBaseURL, falling back to APIBaseURL.
// The stream client handles the scheme switch.
func (c *Config) EffectiveStreamBaseURL() string {
	if c.StreamBaseURL != "" {
		return c.StreamBaseURL
	}
	return c.APIBaseURL
}

func checkHTTPURL(field, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("config: %s: %w", field, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("config: %s: unsupported scheme %q", field, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("config: %s: missing host", field)
	}
	return nil
}
