package config

import (
	"encoding/json"
	"fmt"
	"os"

	"pairchat/internal/constants"
	"pairchat/internal/models"
	"pairchat/internal/security"
)

var (
	ErrMissingStoreURL    = models.ConfigError{Message: "missing store base URL"}
	ErrMissingStreamURL   = models.ConfigError{Message: "missing change-stream URL"}
	ErrMissingLocal       = models.ConfigError{Message: "missing local participant"}
	ErrMissingParticipant = models.ConfigError{Message: "participants list is required"}
)

func LoadConfig(path string) (*models.Config, error) {
	if err := security.ValidateFilePath(path); err != nil {
		return nil, fmt.Errorf("invalid config path: %w", err)
	}

	file, err := os.ReadFile(path) // #nosec G304 - Path validated above
	if err != nil {
		return nil, err
	}

	var config models.Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, err
	}

	applyEnvironmentOverrides(&config)

	if err := Validate(&config); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate checks required fields and fills in defaults.
func Validate(c *models.Config) error {
	if c.Store.BaseURL == "" {
		return ErrMissingStoreURL
	}
	if c.Stream.URL == "" {
		return ErrMissingStreamURL
	}
	if c.LocalParticipant == "" {
		return ErrMissingLocal
	}
	if len(c.Participants) == 0 {
		return ErrMissingParticipant
	}

	seen := make(map[string]bool)
	localKnown := false
	for i, p := range c.Participants {
		if p.Name == "" {
			return models.ConfigError{Message: fmt.Sprintf("empty participant name at index %d", i)}
		}
		if seen[p.Name] {
			return models.ConfigError{Message: fmt.Sprintf("duplicate participant name: %s", p.Name)}
		}
		seen[p.Name] = true
		if p.Name == c.LocalParticipant {
			localKnown = true
		}
	}
	if !localKnown {
		return models.ConfigError{Message: fmt.Sprintf("local participant %q is not in the participants list", c.LocalParticipant)}
	}

	if c.Store.TimeoutSec <= 0 {
		c.Store.TimeoutSec = constants.DefaultHTTPTimeoutSec
	}
	if c.Store.UploadBucket == "" {
		c.Store.UploadBucket = constants.DefaultUploadBucket
	}
	if c.Stream.ReconnectInitialMs <= 0 {
		c.Stream.ReconnectInitialMs = constants.DefaultReconnectInitialMs
	}
	if c.Stream.ReconnectMaxMs <= 0 {
		c.Stream.ReconnectMaxMs = constants.DefaultReconnectMaxMs
	}
	if c.Stream.HandshakeTimeoutSec <= 0 {
		c.Stream.HandshakeTimeoutSec = constants.DefaultStreamHandshakeSec
	}
	if c.ReadTracking.VisibilityThreshold <= 0 || c.ReadTracking.VisibilityThreshold > 1 {
		c.ReadTracking.VisibilityThreshold = constants.DefaultVisibilityThreshold
	}
	if c.Tracing.SampleRate <= 0 || c.Tracing.SampleRate > 1 {
		c.Tracing.SampleRate = constants.DefaultTracingSampleRate
	}

	return nil
}

func applyEnvironmentOverrides(c *models.Config) {
	if v := os.Getenv("PAIRCHAT_STORE_URL"); v != "" {
		c.Store.BaseURL = v
	}
	if v := os.Getenv("PAIRCHAT_STORE_API_KEY"); v != "" {
		c.Store.APIKey = v
	}
	if v := os.Getenv("PAIRCHAT_STREAM_URL"); v != "" {
		c.Stream.URL = v
	}
	if v := os.Getenv("PAIRCHAT_LOCAL_PARTICIPANT"); v != "" {
		c.LocalParticipant = v
	}
	if v := os.Getenv("PAIRCHAT_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
}
