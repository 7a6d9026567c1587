// Package config provides configuration loading for the narrative
// generation service.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/veridoc/narrative/ledger"
	"github.com/veridoc/narrative/llm"
)

// Config is the complete service configuration.
type Config struct {
	// Models lists the remote models in fallback priority order.
	Models []llm.ModelConfig `yaml:"models"`

	// Cache configures the narrative template cache.
	Cache CacheConfig `yaml:"cache"`

	// Rollout maps experiment names to percentage flags.
	Rollout map[string]ledger.Experiment `yaml:"rollout"`

	// Experiment names the rollout flag gating remote generation.
	Experiment string `yaml:"experiment"`

	// CallTimeout bounds each individual model call.
	CallTimeout time.Duration `yaml:"call_timeout"`

	// Audit configures the external audit sink.
	Audit AuditConfig `yaml:"audit"`

	// TenantSettingsPath locates the tenant AI settings YAML file.
	// Empty disables the file store; defaults apply to every tenant.
	TenantSettingsPath string `yaml:"tenant_settings_path"`
}

// CacheConfig configures the narrative cache.
type CacheConfig struct {
	// MaxEntries bounds the cache size.
	MaxEntries int `yaml:"max_entries"`
	// TTL is the entry time-to-live.
	TTL time.Duration `yaml:"ttl"`
}

// AuditConfig configures the audit sink.
type AuditConfig struct {
	// NATSURL is the NATS server URL. Empty disables the external sink.
	NATSURL string `yaml:"nats_url"`
	// Subject is the JetStream subject audits are published to.
	Subject string `yaml:"subject"`
}

// DefaultConfig returns a Config with sensible defaults: remote generation
// fully rolled out over an Anthropic-first chain with a local fallback.
func DefaultConfig() *Config {
	return &Config{
		Models: []llm.ModelConfig{
			{
				Name:        "claude-sonnet",
				Provider:    "anthropic",
				Model:       "claude-sonnet-4-20250514",
				Temperature: 0.2,
				MaxTokens:   2000,
				CostPer1K:   0.009,
			},
			{
				Name:        "gpt-4o-mini",
				Provider:    "openai",
				Model:       "gpt-4o-mini",
				Temperature: 0.2,
				MaxTokens:   2000,
				CostPer1K:   0.0004,
			},
			{
				Name:        "qwen-local",
				Provider:    "ollama",
				URL:         "http://localhost:11434/v1",
				Model:       "qwen2.5:14b",
				Temperature: 0.2,
				MaxTokens:   2000,
				CostPer1K:   0,
			},
		},
		Cache: CacheConfig{
			MaxEntries: 100,
			TTL:        24 * time.Hour,
		},
		Rollout: map[string]ledger.Experiment{
			"ai-narrative-generation": {Enabled: true, Percentage: 100},
		},
		Experiment:  "ai-narrative-generation",
		CallTimeout: 30 * time.Second,
		Audit: AuditConfig{
			Subject: ledger.DefaultAuditSubject,
		},
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	for i, m := range c.Models {
		if m.Name == "" {
			return fmt.Errorf("models[%d]: name is required", i)
		}
		if m.Provider == "" {
			return fmt.Errorf("models[%d]: provider is required", i)
		}
		if m.Model == "" {
			return fmt.Errorf("models[%d]: model is required", i)
		}
		if m.Temperature < 0 || m.Temperature > 2 {
			return fmt.Errorf("models[%d]: temperature must be between 0 and 2", i)
		}
	}
	if c.Cache.MaxEntries <= 0 {
		return fmt.Errorf("cache.max_entries must be positive")
	}
	if c.Cache.TTL <= 0 {
		return fmt.Errorf("cache.ttl must be positive")
	}
	for name, exp := range c.Rollout {
		if exp.Percentage < 0 || exp.Percentage > 100 {
			return fmt.Errorf("rollout[%s]: percentage must be between 0 and 100", name)
		}
	}
	if c.CallTimeout <= 0 {
		return fmt.Errorf("call_timeout must be positive")
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file, layered over the
// defaults.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return config, nil
}
