// SPDX-License-Identifier: MIT

package config

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Environment variable names, all under the CAMPAIGND_ prefix.
const (
	EnvCampaignID           = "CAMPAIGND_CAMPAIGN_ID"
	EnvAPIBaseURL           = "CAMPAIGND_API_BASE_URL"
	EnvStreamBaseURL        = "CAMPAIGND_STREAM_BASE_URL"
	EnvAPIKey               = "CAMPAIGND_API_KEY"
	EnvListenAddr           = "CAMPAIGND_LISTEN_ADDR"
	EnvLogLevel             = "CAMPAIGND_LOG_LEVEL"
	EnvCacheTTL             = "CAMPAIGND_CACHE_TTL"
	EnvConnectTimeout       = "CAMPAIGND_CONNECT_TIMEOUT"
	EnvMaxReconnectAttempts = "CAMPAIGND_MAX_RECONNECT_ATTEMPTS"
	EnvReconnectBaseDelay   = "CAMPAIGND_RECONNECT_BASE_DELAY"
	EnvReconnectMaxDelay    = "CAMPAIGND_RECONNECT_MAX_DELAY"
	EnvFetchMaxAttempts     = "CAMPAIGND_FETCH_MAX_ATTEMPTS"
	EnvRedisAddr            = "CAMPAIGND_REDIS_ADDR"
	EnvRedisPassword        = "CAMPAIGND_REDIS_PASSWORD"
	EnvRedisDB              = "CAMPAIGND_REDIS_DB"
)

// Load resolves the configuration: defaults, then the YAML file at path (if
// any), then environment overrides, then validation. An empty path skips the
// file layer; a missing file at an explicit path is an error.
func Load(path string) (Config, error) {
	cfg := Defaults()

	if path != "" {
		if err := mergeFile(&cfg, path); err != nil {
			return Config{}, err
		}
	}
	mergeEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func mergeFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("config: file %s not found", path)
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	// Unmarshal over the defaults; absent keys keep their values.
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

func mergeEnv(cfg *Config) {
	cfg.CampaignID = ParseInt(EnvCampaignID, cfg.CampaignID)
	cfg.APIBaseURL = ParseString(EnvAPIBaseURL, cfg.APIBaseURL)
	cfg.StreamBaseURL = ParseString(EnvStreamBaseURL, cfg.StreamBaseURL)
	cfg.APIKey = ParseString(EnvAPIKey, cfg.APIKey)
	cfg.ListenAddr = ParseString(EnvListenAddr, cfg.ListenAddr)
	cfg.LogLevel = ParseString(EnvLogLevel, cfg.LogLevel)
	cfg.CacheTTL = ParseDuration(EnvCacheTTL, cfg.CacheTTL)
	cfg.ConnectTimeout = ParseDuration(EnvConnectTimeout, cfg.ConnectTimeout)
	cfg.MaxReconnectAttempts = ParseInt(EnvMaxReconnectAttempts, cfg.MaxReconnectAttempts)
	cfg.ReconnectBaseDelay = ParseDuration(EnvReconnectBaseDelay, cfg.ReconnectBaseDelay)
	cfg.ReconnectMaxDelay = ParseDuration(EnvReconnectMaxDelay, cfg.ReconnectMaxDelay)
	cfg.FetchMaxAttempts = ParseInt(EnvFetchMaxAttempts, cfg.FetchMaxAttempts)
	cfg.RedisAddr = ParseString(EnvRedisAddr, cfg.RedisAddr)
	cfg.RedisPassword = ParseString(EnvRedisPassword, cfg.RedisPassword)
	cfg.RedisDB = ParseInt(EnvRedisDB, cfg.RedisDB)
}

// Hash returns a stable fingerprint of the gating-relevant settings. Cached
// snapshots written under a different hash are discarded on startup.
func (c *Config) Hash() string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d|%s|%s",
		c.CampaignID, c.APIBaseURL, c.EffectiveStreamBaseURL())))
	return hex.EncodeToString(sum[:8])
}
