// Package config loads the engine configuration file.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// DefaultConfigPath is where cmd/crossing looks for a config file when none
// is given on the command line.
const DefaultConfigPath = "config/crossing.json"

const maxFileSize = 1 * 1024 * 1024 // 1MB

// EngineConfig is the root of the JSON configuration file. Every field is
// optional; the Get* methods return the default for fields left unset.
type EngineConfig struct {
	DefaultCooldown *string `json:"default_cooldown,omitempty"` // duration string like "3s"

	// Worker retry policy for transient source failures.
	RetryInitial  *string `json:"retry_initial,omitempty"`
	RetryMax      *string `json:"retry_max,omitempty"`
	RetryAttempts *int    `json:"retry_attempts,omitempty"`

	// Event persistence batching.
	PersistBatchSize     *int    `json:"persist_batch_size,omitempty"`
	PersistFlushInterval *string `json:"persist_flush_interval,omitempty"`

	Sources []SourceConfig `json:"sources,omitempty"`
}

// SourceConfig declares one video source.
type SourceConfig struct {
	ID          string     `json:"id"`
	Line        [4]float64 `json:"line"`
	FrameSource string     `json:"frame_source"`
	Cooldown    *string    `json:"cooldown,omitempty"`
	Enabled     *bool      `json:"enabled,omitempty"`
}

// IsEnabled returns the enabled flag, defaulting to true.
func (s SourceConfig) IsEnabled() bool {
	if s.Enabled == nil {
		return true
	}
	return *s.Enabled
}

// GetCooldown returns the per-source cooldown override, or 0 when unset.
func (s SourceConfig) GetCooldown() time.Duration {
	if s.Cooldown == nil || *s.Cooldown == "" {
		return 0
	}
	d, err := time.ParseDuration(*s.Cooldown)
	if err != nil {
		return 0
	}
	return d
}

// EmptyEngineConfig returns a config with every field unset.
func EmptyEngineConfig() *EngineConfig {
	return &EngineConfig{}
}

// LoadEngineConfig loads an EngineConfig from a JSON file. The file must
// have a .json extension and be under 1MB.
func LoadEngineConfig(path string) (*EngineConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyEngineConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func validateDuration(name string, v *string) error {
	if v == nil || *v == "" {
		return nil
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
	}
	if d < 0 {
		return fmt.Errorf("%s must be non-negative, got %s", name, *v)
	}
	return nil
}

// Validate checks value ranges and source declarations. Line geometry is
// checked later by the engine, which owns the detector constructors.
func (c *EngineConfig) Validate() error {
	for name, v := range map[string]*string{
		"default_cooldown":       c.DefaultCooldown,
		"retry_initial":          c.RetryInitial,
		"retry_max":              c.RetryMax,
		"persist_flush_interval": c.PersistFlushInterval,
	} {
		if err := validateDuration(name, v); err != nil {
			return err
		}
	}
	if c.RetryAttempts != nil && *c.RetryAttempts < 0 {
		return fmt.Errorf("retry_attempts must be non-negative, got %d", *c.RetryAttempts)
	}
	if c.PersistBatchSize != nil && *c.PersistBatchSize < 1 {
		return fmt.Errorf("persist_batch_size must be at least 1, got %d", *c.PersistBatchSize)
	}
	if c.GetRetryInitial() > c.GetRetryMax() {
		return fmt.Errorf("retry_initial (%s) exceeds retry_max (%s)", c.GetRetryInitial(), c.GetRetryMax())
	}

	seen := make(map[string]bool, len(c.Sources))
	for i, s := range c.Sources {
		id := strings.TrimSpace(s.ID)
		if id == "" {
			return fmt.Errorf("sources[%d]: id is required", i)
		}
		if seen[id] {
			return fmt.Errorf("sources[%d]: duplicate id %q", i, id)
		}
		seen[id] = true
		if s.FrameSource == "" {
			return fmt.Errorf("source %q: frame_source is required", id)
		}
		if err := validateDuration("source "+id+" cooldown", s.Cooldown); err != nil {
			return err
		}
	}
	return nil
}

func durationOr(v *string, def time.Duration) time.Duration {
	if v == nil || *v == "" {
		return def
	}
	d, err := time.ParseDuration(*v)
	if err != nil {
		return def
	}
	return d
}

// GetDefaultCooldown returns default_cooldown or 3s.
func (c *EngineConfig) GetDefaultCooldown() time.Duration {
	return durationOr(c.DefaultCooldown, 3*time.Second)
}

// GetRetryInitial returns retry_initial or 500ms.
func (c *EngineConfig) GetRetryInitial() time.Duration {
	return durationOr(c.RetryInitial, 500*time.Millisecond)
}

// GetRetryMax returns retry_max or 30s.
func (c *EngineConfig) GetRetryMax() time.Duration {
	return durationOr(c.RetryMax, 30*time.Second)
}

// GetRetryAttempts returns retry_attempts or 10. Zero means retry forever.
func (c *EngineConfig) GetRetryAttempts() int {
	if c.RetryAttempts == nil {
		return 10
	}
	return *c.RetryAttempts
}

// GetPersistBatchSize returns persist_batch_size or 64.
func (c *EngineConfig) GetPersistBatchSize() int {
	if c.PersistBatchSize == nil {
		return 64
	}
	return *c.PersistBatchSize
}

// GetPersistFlushInterval returns persist_flush_interval or 1s.
func (c *EngineConfig) GetPersistFlushInterval() time.Duration {
	return durationOr(c.PersistFlushInterval, time.Second)
}
