package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	mterrors "github.com/randalmurphal/mediatrack/pkg/mediatrack/errors"
)

// Settings tunes the tracking core and its reference backends.
type Settings struct {
	// QueueSize bounds the real-time backend's pending hit queue.
	QueueSize int

	// CorrelationTTL is how long an unanswered request stays pending
	// before it is considered abandoned.
	CorrelationTTL time.Duration

	// OfflineDBPath is the SQLite database used by the offline backend.
	// ":memory:" keeps hits in memory.
	OfflineDBPath string

	// DispatchTimeout bounds a single dispatch attempt.
	DispatchTimeout time.Duration

	Retry mterrors.RetryConfig
}

// DefaultSettings are used for every key missing from a settings file.
var DefaultSettings = Settings{
	QueueSize:       512,
	CorrelationTTL:  5 * time.Minute,
	OfflineDBPath:   ":memory:",
	DispatchTimeout: 10 * time.Second,
	Retry:           mterrors.DefaultRetry,
}

// SettingsFrom extracts Settings from a Config, falling back to DefaultSettings.
//
// Recognized keys: queue_size, correlation_ttl, offline_db_path,
// dispatch_timeout and a retry section with max_attempts,
// initial_backoff, max_backoff, backoff_factor and jitter.
func SettingsFrom(cfg Config) Settings {
	s := DefaultSettings
	s.QueueSize = cfg.Int("queue_size", s.QueueSize)
	s.CorrelationTTL = cfg.Duration("correlation_ttl", s.CorrelationTTL)
	s.OfflineDBPath = cfg.String("offline_db_path", s.OfflineDBPath)
	s.DispatchTimeout = cfg.Duration("dispatch_timeout", s.DispatchTimeout)

	retry := cfg.Sub("retry")
	s.Retry.MaxAttempts = retry.Int("max_attempts", s.Retry.MaxAttempts)
	s.Retry.InitialBackoff = retry.Duration("initial_backoff", s.Retry.InitialBackoff)
	s.Retry.MaxBackoff = retry.Duration("max_backoff", s.Retry.MaxBackoff)
	s.Retry.BackoffFactor = retry.Float("backoff_factor", s.Retry.BackoffFactor)
	s.Retry.Jitter = retry.Float("jitter", s.Retry.Jitter)

	if s.QueueSize <= 0 {
		s.QueueSize = DefaultSettings.QueueSize
	}
	return s
}

// LoadSettings reads a settings file and applies it over DefaultSettings.
func LoadSettings(path string) (Settings, error) {
	cfg, err := FromFile(path)
	if err != nil {
		return Settings{}, err
	}
	return SettingsFrom(cfg), nil
}

// FromFile loads configuration from a file, auto-detecting format by extension.
// Supported extensions: .yaml, .yml, .json
func FromFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		return FromYAML(data)
	case ".json":
		return FromJSON(data)
	default:
		return Config{}, fmt.Errorf("unsupported config file extension: %s", ext)
	}
}

// FromYAML parses YAML data into a Config.
func FromYAML(data []byte) (Config, error) {
	var m map[string]any
	if err := yaml.Unmarshal(data, &m); err != nil {
		return Config{}, fmt.Errorf("parse yaml: %w", err)
	}
	return New(m), nil
}

// FromJSON parses JSON data into a Config.
func FromJSON(data []byte) (Config, error) {
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return Config{}, fmt.Errorf("parse json: %w", err)
	}
	return New(m), nil
}
