// Package config provides configuration loading for the funnel: database
// path, vector dimensions, stage widths, and the embedding provider to
// use. Unlike the teacher's config package, api keys are never persisted
// encrypted on disk — they're read from an environment variable override
// instead, since config loading is a boundary concern this system only
// needs to exercise, not productize.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// embeddingAPIKeyEnvVar overrides Embedding.APIKey when set, so a config
// file checked into a repo or shared between machines never needs to
// carry a live secret.
const embeddingAPIKeyEnvVar = "LOCALMEM_EMBEDDING_API_KEY"

// Config holds the settings the funnel needs to open a store and embed
// text.
type Config struct {
	Dimension int             `json:"dimension"`
	K1        int             `json:"k1"`
	K2        int             `json:"k2"`
	DBPath    string          `json:"db_path"`
	Debug     bool            `json:"debug"`
	Embedding EmbeddingConfig `json:"embedding"`
}

// EmbeddingConfig selects and authenticates the embedding provider.
type EmbeddingConfig struct {
	Provider  string `json:"provider"` // "openai" or "ollama"
	Endpoint  string `json:"endpoint"`
	APIKey    string `json:"api_key"`
	ModelName string `json:"model_name"`
}

// ConfigManager loads and holds the active configuration, guarding
// concurrent reads the same way the teacher's manager does.
type ConfigManager struct {
	configPath string
	mu         sync.RWMutex
	config     *Config
}

// NewConfigManager creates a manager for the config file at configPath.
func NewConfigManager(configPath string) *ConfigManager {
	return &ConfigManager{configPath: configPath}
}

// DefaultConfig returns a Config populated with the funnel's defaults
// (spec.md §9: k1=100, k2=20).
func DefaultConfig() *Config {
	return &Config{
		Dimension: 768,
		K1:        100,
		K2:        20,
		DBPath:    "localmem.db",
		Debug:     false,
		Embedding: EmbeddingConfig{
			Provider: "openai",
		},
	}
}

// Load reads the config file from disk. If the file does not exist, it
// initializes with default values and writes them out so a fresh
// deployment has something to edit.
func (cm *ConfigManager) Load() error {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	data, err := os.ReadFile(cm.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			cm.config = DefaultConfig()
			if err := cm.saveLocked(); err != nil {
				return err
			}
			if key := os.Getenv(embeddingAPIKeyEnvVar); key != "" {
				cm.config.Embedding.APIKey = key
			}
			return nil
		}
		return fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file: %w", err)
	}

	if key := os.Getenv(embeddingAPIKeyEnvVar); key != "" {
		cfg.Embedding.APIKey = key
	}

	cm.config = cfg
	return nil
}

// Save writes the current config to disk. The embedding API key is never
// written — only an env-var override sets it.
func (cm *ConfigManager) Save() error {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.saveLocked()
}

func (cm *ConfigManager) saveLocked() error {
	out := *cm.config
	out.Embedding.APIKey = ""

	data, err := json.MarshalIndent(&out, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.WriteFile(cm.configPath, data, 0644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// Get returns the currently loaded configuration. Load must be called
// first.
func (cm *ConfigManager) Get() *Config {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.config
}
